package config

import "testing"

func clearEnv(t *testing.T, keys ...string) {
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearEnv(t, "SERVICE_TYPE", "ETL_BATCH_SIZE", "EMBEDDING_DIMENSIONS", "VECTOR_STORE_COLLECTION")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ServiceType != ServiceETL {
		t.Fatalf("expected default service type ETL, got %s", cfg.ServiceType)
	}
	if cfg.ETLBatchSize != 100 {
		t.Fatalf("expected default batch size 100, got %d", cfg.ETLBatchSize)
	}
}

func TestLoadParsesMicroblogAccounts(t *testing.T) {
	t.Setenv("MICROBLOG_ACCOUNTS", `["alice","bob"]`)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.MicroblogAccounts) != 2 || cfg.MicroblogAccounts[0] != "alice" {
		t.Fatalf("expected [alice bob], got %v", cfg.MicroblogAccounts)
	}
}

func TestLoadParsesGroupchatChannels(t *testing.T) {
	t.Setenv("GROUPCHAT_CHANNELS", `[{"username":"kasp"},{"id":"12345"}]`)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.GroupchatChannels) != 2 {
		t.Fatalf("expected 2 channels, got %d", len(cfg.GroupchatChannels))
	}
	if cfg.GroupchatChannels[0].Username != "kasp" || cfg.GroupchatChannels[1].ID != "12345" {
		t.Fatalf("unexpected channel parse: %+v", cfg.GroupchatChannels)
	}
}

func TestLoadParsesGroupchatChannelTopics(t *testing.T) {
	t.Setenv("GROUPCHAT_CHANNELS", `[{"username":"kasp","topics":[2,7]},{"id":"12345"}]`)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := cfg.GroupchatChannels[0].Topics; len(got) != 2 || got[0] != 2 || got[1] != 7 {
		t.Fatalf("expected topics [2 7], got %v", got)
	}
	if len(cfg.GroupchatChannels[1].Topics) != 0 {
		t.Fatalf("expected no topics for second channel, got %v", cfg.GroupchatChannels[1].Topics)
	}
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	t.Setenv("MICROBLOG_ACCOUNTS", `not json`)
	if _, err := Load(); err == nil {
		t.Fatal("expected an error for malformed MICROBLOG_ACCOUNTS")
	}
}

func TestEnvIntFallsBackOnInvalidValue(t *testing.T) {
	t.Setenv("ETL_BATCH_SIZE", "not-a-number")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ETLBatchSize != 100 {
		t.Fatalf("expected fallback to default 100 on invalid input, got %d", cfg.ETLBatchSize)
	}
}
