// Package embedclient is the C2 Embedding Client: an HTTP client for an
// OpenAI-compatible /v1/embeddings endpoint, paced with a token-bucket
// limiter and guarded by a circuit breaker so a failing provider degrades
// the run instead of hanging it.
package embedclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/kda-labs/sigil-etl/pkg/fn"
	"github.com/kda-labs/sigil-etl/pkg/resilience"
	"golang.org/x/time/rate"
)

var (
	// ErrDimensionMismatch is returned when the provider returns vectors
	// of a different dimension than the client was configured for.
	ErrDimensionMismatch = errors.New("embedclient: returned vector dimension mismatch")
	// ErrEmptyBatch is returned by Embed when given no texts.
	ErrEmptyBatch = errors.New("embedclient: empty batch")
	// ErrPartialBatch is returned when the provider returns fewer
	// embeddings than texts submitted.
	ErrPartialBatch = errors.New("embedclient: provider returned fewer embeddings than requested")
)

// Config configures Client.
type Config struct {
	BaseURL   string
	APIKey    string
	Model     string
	Dimensions int

	// SubBatchSize caps how many texts are sent per HTTP request.
	SubBatchSize int
	// RequestsPerSecond paces outbound sub-batches. Spec requires at
	// least a 1s gap between sub-batches for a single run.
	RequestsPerSecond float64

	Retry   fn.RetryOpts
	Breaker resilience.BreakerOpts
}

// DefaultConfig mirrors the spec's defaults for sub-batching and pacing.
var DefaultConfig = Config{
	SubBatchSize:      100,
	RequestsPerSecond: 1,
	Retry: fn.RetryOpts{
		MaxAttempts: 3,
		InitialWait: 2 * time.Second,
		MaxWait:     20 * time.Second,
		Jitter:      true,
	},
	Breaker: resilience.BreakerOpts{
		FailThreshold: 5,
		Timeout:       30 * time.Second,
		HalfOpenMax:   1,
	},
}

// Client embeds text batches against an OpenAI-compatible endpoint.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
}

// New builds a Client, filling any zero-valued Config fields from
// DefaultConfig.
func New(cfg Config) *Client {
	if cfg.SubBatchSize <= 0 {
		cfg.SubBatchSize = DefaultConfig.SubBatchSize
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultConfig.RequestsPerSecond
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultConfig.Retry
	}
	if cfg.Breaker.FailThreshold == 0 {
		cfg.Breaker = DefaultConfig.Breaker
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: 60 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		breaker: resilience.NewBreaker(cfg.Breaker),
	}
}

// Ping backs C9's health probe: a single cheap embedding call that
// verifies the provider is reachable and authenticating correctly,
// without going through the retry/breaker machinery used for real runs.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.callProvider(ctx, []string{"ping"})
	return err
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Embed embeds a batch of texts, internally chunking into sub-batches of
// SubBatchSize and pacing calls at RequestsPerSecond. The returned slice
// preserves input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyBatch
	}

	out := make([][]float32, 0, len(texts))
	for _, sub := range fn.Chunk(texts, c.cfg.SubBatchSize) {
		vecs, err := c.embedSubBatch(ctx, sub)
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// EmbedOne embeds a single text.
func (c *Client) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *Client) embedSubBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	vecs, err := c.retryEmbed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedclient: embed %d texts: %w", len(texts), err)
	}
	return vecs, nil
}

// retryEmbed is fn.Retry specialized to stop immediately on a
// non-retryable CallError (e.g. 401, 400) instead of burning attempts
// on a request that will never succeed.
func (c *Client) retryEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	opts := c.cfg.Retry
	wait := opts.InitialWait
	var lastErr error

	for attempt := 0; attempt < opts.MaxAttempts; attempt++ {
		vecs, err := c.doEmbed(ctx, texts)
		if err == nil {
			return vecs, nil
		}
		lastErr = err

		var callErr *CallError
		if errors.As(err, &callErr) && !callErr.Retryable {
			return nil, err
		}
		if attempt == opts.MaxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		sleepDur := wait
		if opts.Jitter {
			sleepDur = time.Duration(float64(wait) * (0.5 + rand.Float64()))
		}
		if sleepDur > opts.MaxWait {
			sleepDur = opts.MaxWait
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleepDur):
		}
		wait *= 2
		if wait > opts.MaxWait {
			wait = opts.MaxWait
		}
	}
	return nil, lastErr
}

func (c *Client) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	var vecs [][]float32
	err := c.breaker.Call(ctx, func(ctx context.Context) error {
		v, callErr := c.callProvider(ctx, texts)
		if callErr != nil {
			return callErr
		}
		vecs = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vecs, nil
}

func (c *Client) callProvider(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: c.cfg.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("embedclient: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &CallError{Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &CallError{Retryable: true, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &CallError{
			Retryable:  isRetryableStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("embedclient: provider returned %d: %s", resp.StatusCode, truncate(respBody, 200)),
		}
	}

	var parsed embedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("embedclient: decode response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("embedclient: provider error: %s", parsed.Error.Message)
	}
	if len(parsed.Data) < len(texts) {
		return nil, ErrPartialBatch
	}

	out := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(out) {
			continue
		}
		if c.cfg.Dimensions > 0 && len(d.Embedding) != c.cfg.Dimensions {
			return nil, fmt.Errorf("%w: want %d, got %d", ErrDimensionMismatch, c.cfg.Dimensions, len(d.Embedding))
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// CallError distinguishes transient provider failures (timeouts, 429,
// 5xx) from permanent ones (4xx other than 429), mirroring the
// status-code classification the source scrapers use to decide whether
// fn.Retry should keep trying.
type CallError struct {
	Retryable  bool
	StatusCode int
	Err        error
}

func (e *CallError) Error() string { return e.Err.Error() }
func (e *CallError) Unwrap() error { return e.Err }

func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
