package groupchat

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

func TestParseHandleWithTopic(t *testing.T) {
	channel, topicID, hasTopic := ParseHandle("kasp:topic:2")
	if channel != "kasp" || topicID != 2 || !hasTopic {
		t.Fatalf("got channel=%q topicID=%d hasTopic=%v", channel, topicID, hasTopic)
	}
	if Handle(channel, topicID, hasTopic) != "kasp:topic:2" {
		t.Fatalf("Handle round-trip failed: %q", Handle(channel, topicID, hasTopic))
	}
}

func TestParseHandleWithoutTopic(t *testing.T) {
	channel, _, hasTopic := ParseHandle("kasp")
	if channel != "kasp" || hasTopic {
		t.Fatalf("got channel=%q hasTopic=%v", channel, hasTopic)
	}
}

func newHistoryServer(t *testing.T, pages [][]struct {
	ID   string
	Date time.Time
}, hasMore []bool) (*httptest.Server, *Adapter) {
	t.Helper()
	call := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idx := call
		if idx >= len(pages) {
			idx = len(pages) - 1
		}
		call++
		resp := historyResponse{HasMore: hasMore[idx]}
		for _, m := range pages[idx] {
			resp.Messages = append(resp.Messages, struct {
				ID       string `json:"id"`
				Text     string `json:"text"`
				FromID   string `json:"from_id"`
				FromName string `json:"from_name"`
				Date     string `json:"date"`
				Link     string `json:"link"`
			}{ID: m.ID, Text: "gm kaspa", FromName: "bob", Date: m.Date.Format(time.RFC3339)})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv, New(Config{BaseURL: srv.URL, APIID: "1", APIHash: "h", Session: "s"})
}

func TestFetchForwardStopsAtBoundary(t *testing.T) {
	now := time.Now()
	since := now.Add(-90 * time.Second)
	pages := [][]struct {
		ID   string
		Date time.Time
	}{
		{{"1", now}, {"2", now.Add(-time.Minute)}, {"3", now.Add(-2 * time.Minute)}},
	}
	_, a := newHistoryServer(t, pages, []bool{true})

	res, err := a.FetchForward(context.Background(), source.FetchParams{Account: "kasp", Since: since, Budget: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Records) != 2 {
		t.Fatalf("expected 2 records before boundary, got %d", len(res.Records))
	}
	if res.HasMoreData {
		t.Fatal("expected HasMoreData false once boundary reached")
	}
}

func TestFetchForwardTopicPartitionsHandle(t *testing.T) {
	now := time.Now()
	pages := [][]struct {
		ID   string
		Date time.Time
	}{
		{{"1", now}},
	}
	srv, a := newHistoryServer(t, pages, []bool{false})
	_ = srv

	res, err := a.FetchForward(context.Background(), source.FetchParams{Account: "kasp:topic:2", Budget: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Records) != 1 || res.Records[0].Handle != "kasp:topic:2" {
		t.Fatalf("expected topic-partitioned handle, got %+v", res.Records)
	}
}

func TestFetchBackwardPagesOlderMessages(t *testing.T) {
	now := time.Now()
	before := now.Add(-time.Hour)
	pages := [][]struct {
		ID   string
		Date time.Time
	}{
		{{"1", before.Add(-time.Minute)}, {"2", before.Add(-2 * time.Minute)}},
		{{"3", before.Add(-3 * time.Minute)}},
	}
	_, a := newHistoryServer(t, pages, []bool{true, false})

	res, err := a.FetchBackward(context.Background(), source.FetchParams{Account: "kasp", Before: before, Budget: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Records) != 3 {
		t.Fatalf("expected 3 older records, got %d", len(res.Records))
	}
	if res.HasMoreData {
		t.Fatal("expected HasMoreData false once history exhausted")
	}
}

func TestSupportsBackwardIsTrue(t *testing.T) {
	a := New(Config{BaseURL: "http://unused"})
	if !a.SupportsBackward() {
		t.Fatal("groupchat adapter should support backward paging")
	}
}

func TestFetchForwardRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()
	a := New(Config{BaseURL: srv.URL})

	_, err := a.FetchForward(context.Background(), source.FetchParams{Account: "kasp", Budget: 5})
	if err == nil {
		t.Fatal("expected rate-limit error")
	}
	fmt.Sprintf("%v", err) // ensure error formats without panic
}
