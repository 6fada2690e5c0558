package embedclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kda-labs/sigil-etl/pkg/resilience"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := New(Config{
		BaseURL:           srv.URL,
		Model:             "test-embed",
		Dimensions:        3,
		SubBatchSize:      2,
		RequestsPerSecond: 1000, // fast for tests
	})
	c.cfg.Retry.MaxAttempts = 2
	c.cfg.Retry.InitialWait = time.Millisecond
	c.cfg.Retry.MaxWait = 5 * time.Millisecond
	return srv, c
}

func writeEmbedResponse(t *testing.T, w http.ResponseWriter, n int) {
	t.Helper()
	resp := embedResponse{}
	for i := 0; i < n; i++ {
		resp.Data = append(resp.Data, struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}{Embedding: []float32{0.1, 0.2, 0.3}, Index: i})
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func TestEmbedReturnsVectorsInOrder(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		writeEmbedResponse(t, w, len(req.Input))
	})

	vecs, err := c.Embed(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(vecs))
	}
	for _, v := range vecs {
		if len(v) != 3 {
			t.Fatalf("expected dim 3, got %d", len(v))
		}
	}
}

func TestEmbedEmptyBatchErrors(t *testing.T) {
	c := New(Config{BaseURL: "http://unused"})
	if _, err := c.Embed(context.Background(), nil); err != ErrEmptyBatch {
		t.Fatalf("expected ErrEmptyBatch, got %v", err)
	}
}

func TestEmbedRetriesOn500ThenSucceeds(t *testing.T) {
	var calls int32
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		var req embedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		writeEmbedResponse(t, w, len(req.Input))
	})

	vecs, err := c.EmbedOne(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("expected dim 3, got %d", len(vecs))
	}
	if atomic.LoadInt32(&calls) < 2 {
		t.Fatalf("expected at least 2 calls, got %d", calls)
	}
}

func TestEmbedDoesNotRetryOn401(t *testing.T) {
	var calls int32
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.EmbedOne(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected error")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected exactly 1 call for a non-retryable status, got %d", calls)
	}
}

func TestEmbedDimensionMismatch(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		resp := embedResponse{Data: []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}{{Embedding: []float32{0.1, 0.2}, Index: 0}}}
		_ = json.NewEncoder(w).Encode(resp)
	})

	if _, err := c.EmbedOne(context.Background(), "hello"); err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestEmbedTripsBreakerAfterRepeatedFailures(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	c.breaker = resilience.NewBreaker(resilience.BreakerOpts{FailThreshold: 1, Timeout: time.Hour, HalfOpenMax: 1})
	c.cfg.Retry.MaxAttempts = 1

	if _, err := c.EmbedOne(context.Background(), "hello"); err == nil {
		t.Fatal("expected error from first call")
	}
	if c.breaker.State() != resilience.StateOpen {
		t.Fatalf("expected breaker open after failure, got %v", c.breaker.State())
	}

	_, err := c.EmbedOne(context.Background(), "hello")
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}
