package microblog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kda-labs/sigil-etl/engine/source"
)

func newServer(t *testing.T, pages [][]struct {
	ID        string
	CreatedAt time.Time
}, nextTokens []string) (*httptest.Server, *Adapter) {
	t.Helper()
	call := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if call >= len(pages) {
			http.Error(w, "no more pages", http.StatusInternalServerError)
			return
		}
		idx := call
		call++
		resp := timelineResponse{}
		for _, rec := range pages[idx] {
			resp.Data = append(resp.Data, struct {
				ID        string `json:"id"`
				Text      string `json:"text"`
				Author    string `json:"author"`
				Handle    string `json:"author_handle"`
				CreatedAt string `json:"created_at"`
				URL       string `json:"url"`
			}{ID: rec.ID, Text: "hello kaspa", Author: "alice", Handle: "alice", CreatedAt: rec.CreatedAt.Format(time.RFC3339)})
		}
		resp.Meta.NextToken = nextTokens[idx]
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv, New(Config{BaseURL: srv.URL, Bearer: "tok"})
}

func TestFetchForwardColdStartConsumesAllPages(t *testing.T) {
	now := time.Now()
	pages := [][]struct {
		ID        string
		CreatedAt time.Time
	}{
		{{"1", now}, {"2", now.Add(-time.Minute)}},
		{{"3", now.Add(-2 * time.Minute)}},
	}
	_, a := newServer(t, pages, []string{"tok2", ""})

	res, err := a.FetchForward(context.Background(), source.FetchParams{Account: "alice", Budget: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(res.Records))
	}
	if res.RequestsUsed != 2 {
		t.Fatalf("expected 2 requests used, got %d", res.RequestsUsed)
	}
	if res.HasMoreData {
		t.Fatal("expected HasMoreData false when pagination ends")
	}
}

func TestFetchForwardStopsAtSinceBoundary(t *testing.T) {
	now := time.Now()
	since := now.Add(-90 * time.Second)
	pages := [][]struct {
		ID        string
		CreatedAt time.Time
	}{
		{{"1", now}, {"2", now.Add(-time.Minute)}, {"3", now.Add(-2 * time.Minute)}},
	}
	_, a := newServer(t, pages, []string{"tok2"})

	res, err := a.FetchForward(context.Background(), source.FetchParams{Account: "alice", Since: since, Budget: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Records) != 2 {
		t.Fatalf("expected 2 records before boundary, got %d", len(res.Records))
	}
	if res.HasMoreData {
		t.Fatal("expected HasMoreData false once boundary is reached")
	}
}

func TestFetchForwardRespectsBudget(t *testing.T) {
	now := time.Now()
	pages := make([][]struct {
		ID        string
		CreatedAt time.Time
	}, 5)
	tokens := make([]string, 5)
	for i := range pages {
		pages[i] = []struct {
			ID        string
			CreatedAt time.Time
		}{{fmt.Sprintf("%d", i), now.Add(-time.Duration(i) * time.Minute)}}
		tokens[i] = fmt.Sprintf("tok%d", i+1)
	}
	_, a := newServer(t, pages, tokens)

	res, err := a.FetchForward(context.Background(), source.FetchParams{Account: "alice", Budget: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.RequestsUsed != 2 {
		t.Fatalf("expected budget to cap requests at 2, got %d", res.RequestsUsed)
	}
	if !res.HasMoreData {
		t.Fatal("expected HasMoreData true when budget exhausted before pagination ends")
	}
}

func TestFetchBackwardReportsNoCapability(t *testing.T) {
	a := New(Config{BaseURL: "http://unused"})
	res, err := a.FetchBackward(context.Background(), source.FetchParams{Account: "alice", Budget: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.HasMoreData {
		t.Fatal("expected HasMoreData false for unsupported backward phase")
	}
	if a.SupportsBackward() {
		t.Fatal("expected SupportsBackward false")
	}
}

func TestFetchForwardRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Rate-Limit-Reset", fmt.Sprintf("%d", time.Now().Add(10*time.Second).Unix()))
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()
	a := New(Config{BaseURL: srv.URL, Bearer: "tok"})

	_, err := a.FetchForward(context.Background(), source.FetchParams{Account: "alice", Budget: 5})
	if err == nil {
		t.Fatal("expected rate-limit error")
	}
	var srcErr *source.Error
	if !asSourceError(err, &srcErr) {
		t.Fatalf("expected *source.Error, got %T: %v", err, err)
	}
	if srcErr.Signal != source.SignalRateLimited {
		t.Fatalf("expected SignalRateLimited, got %v", srcErr.Signal)
	}
	if time.Until(srcErr.ResetAt) < MinRateLimitWait-time.Second {
		t.Fatalf("expected reset to honor the 60s floor, got %v", srcErr.ResetAt)
	}
}

func asSourceError(err error, target **source.Error) bool {
	se, ok := err.(*source.Error)
	if ok {
		*target = se
	}
	return ok
}
