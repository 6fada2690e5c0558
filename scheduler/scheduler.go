// Package scheduler implements C8: named, UTC-pinned periodic triggers
// per source with per-source mutual exclusion, plus a periodic health
// probe that does not invoke the indexer.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultMicroblogInterval and DefaultGroupchatInterval are the two
// fixed cadences named in §4.8.
const (
	DefaultMicroblogInterval = 15 * time.Minute
	DefaultGroupchatInterval = 24 * time.Hour
	DefaultHealthInterval    = 5 * time.Minute
)

// Task is one source's indexing run, invoked on every tick that is not
// skipped by the mutual-exclusion flag.
type Task func(ctx context.Context)

// SourceStatus is the status() view of one scheduled source.
type SourceStatus struct {
	Name     string
	Running  bool
	LastRun  time.Time
	RunCount int64
	Skipped  int64
}

type sourceSchedule struct {
	name     string
	interval time.Duration
	task     Task

	running  atomic.Bool
	lastRun  atomic.Int64 // unix nanos, 0 means never
	runCount atomic.Int64
	skipped  atomic.Int64
}

func (s *sourceSchedule) status() SourceStatus {
	var lastRun time.Time
	if ns := s.lastRun.Load(); ns != 0 {
		lastRun = time.Unix(0, ns).UTC()
	}
	return SourceStatus{
		Name:     s.name,
		Running:  s.running.Load(),
		LastRun:  lastRun,
		RunCount: s.runCount.Load(),
		Skipped:  s.skipped.Load(),
	}
}

// fire runs the task if not already running (single writer: the driver
// thread that owns this ticker; the running flag itself is read/written
// atomically so status() never blocks a fire). A skipped tick is logged,
// not queued — the next tick gets its own chance.
func (s *sourceSchedule) fire(ctx context.Context, log *slog.Logger) {
	if !s.running.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		log.Warn("scheduler: skipping tick, previous run still in flight", "source", s.name)
		return
	}
	defer s.running.Store(false)

	s.task(ctx)
	s.lastRun.Store(time.Now().UTC().UnixNano())
	s.runCount.Add(1)
}

// Scheduler owns the timers for every registered source plus the
// health-probe ticker, each driven by its own goroutine in Run.
type Scheduler struct {
	sources        []*sourceSchedule
	probe          Task
	healthInterval time.Duration
	logger         *slog.Logger
}

// New builds a Scheduler. probe runs on DefaultHealthInterval and does
// not count against any source's running flag.
func New(probe Task, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{probe: probe, healthInterval: DefaultHealthInterval, logger: logger}
}

// SetHealthInterval overrides the health probe cadence; tests use this
// to avoid waiting on the real 5-minute default.
func (sch *Scheduler) SetHealthInterval(d time.Duration) {
	sch.healthInterval = d
}

// Register adds a named source with its own cadence and task. Call
// before Run.
func (sch *Scheduler) Register(name string, interval time.Duration, task Task) {
	sch.sources = append(sch.sources, &sourceSchedule{name: name, interval: interval, task: task})
}

// Run blocks, firing each registered source on its own ticker and the
// health probe on the health interval (DefaultHealthInterval unless
// SetHealthInterval changed it), until ctx is cancelled. Each
// source ticks on its own goroutine so one source's tick never delays
// another's (§5: across sources, independent, no ordering guarantee).
// On cancellation, new fetches refuse to start (callers' tasks must
// honor ctx) and Run waits for every ticker goroutine to exit.
func (sch *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup

	for _, s := range sch.sources {
		wg.Add(1)
		go func(s *sourceSchedule) {
			defer wg.Done()
			ticker := time.NewTicker(s.interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					s.fire(ctx, sch.logger)
				}
			}
		}(s)
	}

	if sch.probe != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(sch.healthInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					sch.probe(ctx)
				}
			}
		}()
	}

	<-ctx.Done()
	sch.logger.Info("scheduler: shutdown signal received")
	wg.Wait()
}

// Status returns the current status of every registered source.
func (sch *Scheduler) Status() []SourceStatus {
	out := make([]SourceStatus, len(sch.sources))
	for i, s := range sch.sources {
		out[i] = s.status()
	}
	return out
}

// Reset clears every source's running flag, for manual intervention
// when a run is believed to be stuck.
func (sch *Scheduler) Reset() {
	for _, s := range sch.sources {
		s.running.Store(false)
	}
}
