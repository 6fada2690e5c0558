package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestRegisteredSourceFiresOnItsInterval(t *testing.T) {
	var runs atomic.Int64
	sch := New(nil, nil)
	sch.Register("microblog", 10*time.Millisecond, func(ctx context.Context) {
		runs.Add(1)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()
	sch.Run(ctx)

	if runs.Load() < 3 {
		t.Fatalf("expected at least 3 fires in 55ms at a 10ms interval, got %d", runs.Load())
	}
}

func TestSlowRunSkipsOverlappingTick(t *testing.T) {
	var started, skipped atomic.Int64
	sch := New(nil, nil)
	sch.Register("groupchat", 5*time.Millisecond, func(ctx context.Context) {
		started.Add(1)
		time.Sleep(30 * time.Millisecond)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	sch.Run(ctx)

	status := sch.Status()
	if len(status) != 1 {
		t.Fatalf("expected 1 source status, got %d", len(status))
	}
	// A 30ms task on a 5ms ticker must skip some ticks rather than overlap.
	if status[0].RunCount > 2 {
		t.Fatalf("expected overlapping ticks to be skipped, got %d completed runs", status[0].RunCount)
	}
	_ = skipped
}

func TestHealthProbeFiresIndependentlyOfSources(t *testing.T) {
	var probes atomic.Int64
	sch := New(func(ctx context.Context) { probes.Add(1) }, nil)
	sch.SetHealthInterval(8 * time.Millisecond)
	sch.Register("microblog", time.Hour, func(ctx context.Context) {})

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	sch.Run(ctx)

	if probes.Load() < 2 {
		t.Fatalf("expected at least 2 health probes in 40ms at an 8ms cadence, got %d", probes.Load())
	}
	if sch.Status()[0].RunCount != 0 {
		t.Fatal("health probe must not invoke the indexer task")
	}
}

func TestStatusReflectsRunCount(t *testing.T) {
	sch := New(nil, nil)
	sch.Register("microblog", 10*time.Millisecond, func(ctx context.Context) {})

	ctx, cancel := context.WithTimeout(context.Background(), 35*time.Millisecond)
	defer cancel()
	sch.Run(ctx)

	status := sch.Status()
	if status[0].RunCount == 0 {
		t.Fatal("expected at least one completed run recorded in status")
	}
	if status[0].Running {
		t.Fatal("expected Running to be false once Run has returned")
	}
}

func TestResetClearsRunningFlag(t *testing.T) {
	sch := New(nil, nil)
	sch.Register("microblog", time.Hour, func(ctx context.Context) {})
	// Simulate a stuck run by directly flipping the flag the way fire would.
	sch.sources[0].running.Store(true)

	sch.Reset()

	if sch.Status()[0].Running {
		t.Fatal("expected Reset to clear the running flag")
	}
}
