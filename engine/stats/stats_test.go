package stats

import (
	"context"
	"errors"
	"testing"

	"github.com/kda-labs/sigil-etl/engine/canon"
	"github.com/kda-labs/sigil-etl/engine/indexer"
	"github.com/kda-labs/sigil-etl/pkg/metrics"
)

type fakeHealthChecker struct{ err error }

func (f fakeHealthChecker) Ping(ctx context.Context) error { return f.err }

func TestRecordAccumulatesAcrossRuns(t *testing.T) {
	r := New(metrics.New(), fakeHealthChecker{}, fakeHealthChecker{})
	r.Record(canon.SourceMicroblog, indexer.RunReport{Success: true, Processed: 10, Stored: 8, Errors: 2})
	r.Record(canon.SourceMicroblog, indexer.RunReport{Success: true, Processed: 5, Stored: 5})

	snap := r.Snapshot()
	st := snap[canon.SourceMicroblog]
	if st.TotalProcessed != 15 || st.TotalStored != 13 || st.TotalErrors != 2 || st.TotalRuns != 2 {
		t.Fatalf("unexpected aggregate stats: %+v", st)
	}
}

func TestRecordTracksRateLimitsPerSource(t *testing.T) {
	r := New(metrics.New(), fakeHealthChecker{}, fakeHealthChecker{})
	r.Record(canon.SourceGroupchat, indexer.RunReport{Success: true, RateLimited: true})

	snap := r.Snapshot()
	if snap[canon.SourceGroupchat].TotalRateLimits != 1 {
		t.Fatalf("expected 1 rate limit recorded, got %+v", snap[canon.SourceGroupchat])
	}
}

func TestResetClearsCounters(t *testing.T) {
	r := New(metrics.New(), fakeHealthChecker{}, fakeHealthChecker{})
	r.Record(canon.SourceMicroblog, indexer.RunReport{Success: true, Processed: 3})
	r.Reset()
	if len(r.Snapshot()) != 0 {
		t.Fatal("expected empty snapshot after reset")
	}
}

func TestHealthReportsCollaboratorStatus(t *testing.T) {
	r := New(metrics.New(), fakeHealthChecker{err: errors.New("down")}, fakeHealthChecker{})
	h := r.Health(context.Background())
	if h.VectorStoreOK {
		t.Fatal("expected vector store health to be false")
	}
	if !h.EmbeddingOK {
		t.Fatal("expected embedding health to be true")
	}
}

func TestHealthIncludesLastRunPerSource(t *testing.T) {
	r := New(metrics.New(), fakeHealthChecker{}, fakeHealthChecker{})
	r.Record(canon.SourceMicroblog, indexer.RunReport{Success: true})
	h := r.Health(context.Background())
	if h.LastRun[canon.SourceMicroblog].IsZero() {
		t.Fatal("expected a non-zero last-run timestamp for microblog")
	}
}
