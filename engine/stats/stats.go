// Package stats implements C9: rolling run counters, error rates, and
// last-run timestamps per source, plus health probes over C1 and C2.
package stats

import (
	"context"
	"sync"
	"time"

	"github.com/kda-labs/sigil-etl/engine/canon"
	"github.com/kda-labs/sigil-etl/engine/indexer"
	"github.com/kda-labs/sigil-etl/pkg/metrics"
)

// SourceStats is the rolling state kept per source.
type SourceStats struct {
	LastRunAt       time.Time
	LastRunSuccess  bool
	TotalProcessed  int64
	TotalStored     int64
	TotalErrors     int64
	TotalRuns       int64
	TotalRateLimits int64
}

// HealthChecker probes one of C6's external collaborators (C1 or C2).
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// HealthReport is the response shape for the `health` CLI/HTTP surface.
type HealthReport struct {
	VectorStoreOK bool                     `json:"vectorStoreOK"`
	EmbeddingOK   bool                     `json:"embeddingOK"`
	LastRun       map[canon.Source]time.Time `json:"lastRun"`
}

// Registry aggregates RunReports across sources. Counters are updated
// under a single lock at the end of each run, not per chunk, keeping the
// indexer's hot path lock-free (§5).
type Registry struct {
	mu      sync.Mutex
	bySourc map[canon.Source]*SourceStats

	metrics        *metrics.Registry
	mProcessed     func(canon.Source) *metrics.Counter
	mStored        func(canon.Source) *metrics.Counter
	mErrors        func(canon.Source) *metrics.Counter
	mRuns          func(canon.Source) *metrics.Counter
	mRateLimits    func(canon.Source) *metrics.Counter
	mLastRunStatus func(canon.Source) *metrics.Gauge
	mRunDuration   *metrics.Histogram

	vectorStore HealthChecker
	embedder    HealthChecker
}

// New builds a Registry wired to met for metric export and the two
// health-checkable collaborators.
func New(met *metrics.Registry, vectorStore, embedder HealthChecker) *Registry {
	return &Registry{
		bySourc: make(map[canon.Source]*SourceStats),
		metrics: met,
		mProcessed: func(s canon.Source) *metrics.Counter {
			return met.Counter(metrics.WithLabels("sigil_etl_processed_total", "source", string(s)), "Records processed per source")
		},
		mStored: func(s canon.Source) *metrics.Counter {
			return met.Counter(metrics.WithLabels("sigil_etl_stored_total", "source", string(s)), "Points stored per source")
		},
		mErrors: func(s canon.Source) *metrics.Counter {
			return met.Counter(metrics.WithLabels("sigil_etl_errors_total", "source", string(s)), "Errors per source")
		},
		mRuns: func(s canon.Source) *metrics.Counter {
			return met.Counter(metrics.WithLabels("sigil_etl_runs_total", "source", string(s)), "Indexing runs per source")
		},
		mRateLimits: func(s canon.Source) *metrics.Counter {
			return met.Counter(metrics.WithLabels("sigil_etl_rate_limits_total", "source", string(s)), "Rate-limited runs per source")
		},
		mLastRunStatus: func(s canon.Source) *metrics.Gauge {
			return met.Gauge(metrics.WithLabels("sigil_etl_last_run_success", "source", string(s)), "1 if the last run succeeded, else 0")
		},
		mRunDuration: met.Histogram("sigil_etl_run_duration_seconds", "Indexing run duration", nil),
		vectorStore:  vectorStore,
		embedder:     embedder,
	}
}

// Record folds one RunReport into the rolling counters for source.
func (r *Registry) Record(source canon.Source, report indexer.RunReport) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.bySourc[source]
	if !ok {
		st = &SourceStats{}
		r.bySourc[source] = st
	}
	st.LastRunAt = time.Now()
	st.LastRunSuccess = report.Success
	st.TotalProcessed += int64(report.Processed)
	st.TotalStored += int64(report.Stored)
	st.TotalErrors += int64(report.Errors)
	st.TotalRuns++
	if report.RateLimited {
		st.TotalRateLimits++
	}

	r.mProcessed(source).Add(int64(report.Processed))
	r.mStored(source).Add(int64(report.Stored))
	r.mErrors(source).Add(int64(report.Errors))
	r.mRuns(source).Inc()
	if report.RateLimited {
		r.mRateLimits(source).Inc()
	}
	if report.Success {
		r.mLastRunStatus(source).Set(1)
	} else {
		r.mLastRunStatus(source).Set(0)
	}
	r.mRunDuration.Observe(report.ProcessingTime.Seconds())
}

// Snapshot returns a copy of the current per-source stats for `stats`.
func (r *Registry) Snapshot() map[canon.Source]SourceStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[canon.Source]SourceStats, len(r.bySourc))
	for src, st := range r.bySourc {
		out[src] = *st
	}
	return out
}

// Reset clears the per-source stats returned by Snapshot, backing
// `reset-stats`; the counters already exported through the metrics
// registry are not reset.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bySourc = make(map[canon.Source]*SourceStats)
}

// Health probes C1 and C2 and reports the last run per source, backing
// the `health` surface.
func (r *Registry) Health(ctx context.Context) HealthReport {
	report := HealthReport{LastRun: make(map[canon.Source]time.Time)}

	if r.vectorStore != nil {
		report.VectorStoreOK = r.vectorStore.Ping(ctx) == nil
	}
	if r.embedder != nil {
		report.EmbeddingOK = r.embedder.Ping(ctx) == nil
	}

	r.mu.Lock()
	for src, st := range r.bySourc {
		report.LastRun[src] = st.LastRunAt
	}
	r.mu.Unlock()

	return report
}
