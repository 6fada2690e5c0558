// Package config loads the ETL's environment-style configuration (§6),
// following the same env-with-fallback convention as the rest of this
// codebase's command entrypoints.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// ServiceType selects which half of the platform a process runs as;
// this module only implements ETL.
type ServiceType string

const (
	ServiceETL   ServiceType = "ETL"
	ServiceAgent ServiceType = "AGENT"
)

// Channel is one entry of GROUPCHAT_CHANNELS: either an id or a
// username, whichever the operator has on hand.
type Channel struct {
	ID       string `json:"id,omitempty"`
	Username string `json:"username,omitempty"`

	// Topics lists the forum-topic ids to index individually (§4.3); a
	// channel with no topics is indexed as a single account.
	Topics []int `json:"topics,omitempty"`
}

// Config is every environment-style key from §6, loaded once at
// process startup.
type Config struct {
	ServiceType          ServiceType
	ETLEnabled           bool
	ETLScheduleInterval  string
	ETLBatchSize         int
	ETLMaxHistoricalDays int

	VectorStoreURL        string
	VectorStoreAPIKey     string
	VectorStoreCollection string

	EmbeddingModel      string
	EmbeddingDimensions int
	EmbeddingBaseURL    string
	EmbeddingAPIKey     string

	MicroblogAccounts []string
	MicroblogBearer   string
	MicroblogBaseURL  string

	GroupchatChannels []Channel
	GroupchatAPIID    string
	GroupchatAPIHash  string
	GroupchatSession  string
	GroupchatBaseURL  string

	// NATSURL, if set, enables publishing permanently-failed items to
	// the dead-letter subject instead of only logging them.
	NATSURL string
}

// Load reads every key from the environment, falling back to a built-in
// default for unset keys that have one (e.g. ETL_BATCH_SIZE=100,
// EMBEDDING_DIMENSIONS=1536) and to the zero value for credentials and
// the list-valued keys; callers validate required fields themselves since which
// fields are required depends on which sources are enabled.
func Load() (Config, error) {
	cfg := Config{
		ServiceType:          ServiceType(envOr("SERVICE_TYPE", string(ServiceETL))),
		ETLEnabled:           envBool("ETL_ENABLED", true),
		ETLScheduleInterval:  envOr("ETL_SCHEDULE_INTERVAL", "*/15 * * * *"),
		ETLBatchSize:         envInt("ETL_BATCH_SIZE", 100),
		ETLMaxHistoricalDays: envInt("ETL_MAX_HISTORICAL_DAYS", 30),

		VectorStoreURL:        envOr("VECTOR_STORE_URL", "localhost:6334"),
		VectorStoreAPIKey:     os.Getenv("VECTOR_STORE_API_KEY"),
		VectorStoreCollection: envOr("VECTOR_STORE_COLLECTION", "kaspa_social"),

		EmbeddingModel:      envOr("EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDimensions: envInt("EMBEDDING_DIMENSIONS", 1536),
		EmbeddingBaseURL:    envOr("EMBEDDING_BASE_URL", "https://api.openai.com"),
		EmbeddingAPIKey:     os.Getenv("EMBEDDING_API_KEY"),

		MicroblogBearer:  os.Getenv("MICROBLOG_BEARER"),
		MicroblogBaseURL: envOr("MICROBLOG_BASE_URL", "https://api.twitter.com/2"),

		GroupchatAPIID:   os.Getenv("GROUPCHAT_API_ID"),
		GroupchatAPIHash: os.Getenv("GROUPCHAT_API_HASH"),
		GroupchatSession: os.Getenv("GROUPCHAT_SESSION"),
		GroupchatBaseURL: envOr("GROUPCHAT_BASE_URL", "https://api.telegram.org"),

		NATSURL: os.Getenv("NATS_URL"),
	}

	accounts, err := parseStringArray("MICROBLOG_ACCOUNTS")
	if err != nil {
		return Config{}, err
	}
	cfg.MicroblogAccounts = accounts

	if raw := os.Getenv("GROUPCHAT_CHANNELS"); raw != "" {
		var channels []Channel
		if err := json.Unmarshal([]byte(raw), &channels); err != nil {
			return Config{}, fmt.Errorf("config: parse GROUPCHAT_CHANNELS: %w", err)
		}
		cfg.GroupchatChannels = channels
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func parseStringArray(key string) ([]string, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", key, err)
	}
	return out, nil
}
