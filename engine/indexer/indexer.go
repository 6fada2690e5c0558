// Package indexer implements C6: the per-source state machine binding
// C3 (source adapters), C4 (normalizer), C5 (boundary index), C2
// (embedding client) and C1 (vector store) into one indexing run.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/kda-labs/sigil-etl/engine/account"
	"github.com/kda-labs/sigil-etl/engine/boundary"
	"github.com/kda-labs/sigil-etl/engine/canon"
	"github.com/kda-labs/sigil-etl/engine/embedclient"
	"github.com/kda-labs/sigil-etl/engine/source"
	"github.com/kda-labs/sigil-etl/engine/vectorstore"
	"github.com/kda-labs/sigil-etl/pkg/fn"
)

// Embedder is the C2 contract this package depends on; *embedclient.Client
// satisfies it in production, a stub satisfies it in tests.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// Deps wires one source's Indexer to its collaborators.
type Deps struct {
	Source     canon.Source
	Adapter    source.Adapter
	Boundary   *boundary.Index
	Embedder   Embedder
	Store      vectorstore.Gateway
	Collection string

	Accounts *account.Store
	Policy   *account.Policy

	MaxBatchSize      int
	MaxHistoricalDays int
	// Concurrency bounds how many accounts this run processes at once;
	// 1 means strictly sequential (the default and the easiest to
	// reason about — see §4.6 ordering guarantees).
	Concurrency int

	// DLQ, if set, receives per-item permanent failures after both
	// bulk and single mode have been exhausted for that item.
	DLQ func(ctx context.Context, msg canon.Message, cause error)

	Logger *slog.Logger
}

// Indexer runs one source's indexing state machine.
type Indexer struct {
	deps Deps
}

// New builds an Indexer, defaulting MaxBatchSize/Concurrency/Logger.
func New(deps Deps) *Indexer {
	if deps.MaxBatchSize <= 0 {
		deps.MaxBatchSize = 100
	}
	if deps.Concurrency <= 0 {
		deps.Concurrency = 1
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Indexer{deps: deps}
}

// Run drives one indexing tick against the given global request budget.
func (ix *Indexer) Run(ctx context.Context, budget int) RunReport {
	start := time.Now()
	d := ix.deps

	plan := d.Policy.Plan(budget, d.Accounts.Snapshot())
	if len(plan) == 0 {
		return RunReport{Success: true, ProcessingTime: time.Since(start)}
	}

	sb := newSharedBudget(budget)
	fatal := &fatalSignal{}
	reports := fn.ParMap(plan, d.Concurrency, func(p account.Plan) AccountReport {
		if sb.exhausted() || fatal.get() != nil {
			return AccountReport{Handle: p.Handle}
		}
		return ix.processAccount(ctx, p, sb, fatal)
	})

	report := RunReport{Success: true, Accounts: reports}
	now := time.Now()
	for _, r := range reports {
		report.Processed += r.Processed
		report.Stored += r.Stored
		report.Embedded += r.Stored
		report.Errors += r.Errors
		report.RequestsUsed += r.RequestsUsed
		if r.RateLimited {
			report.RateLimited = true
		}
		if r.HasMoreData {
			report.HasMoreData = true
		}
		allocation := allocationFor(plan, r.Handle)
		d.Accounts.Update(r.Handle, r.RequestsUsed, allocation, r.Stored, r.HasMoreData, r.Err, now)
	}
	if cause := fatal.get(); cause != nil {
		report.Success = false
		report.FatalErr = cause
	}
	report.ProcessingTime = time.Since(start)
	return report
}

func allocationFor(plan []account.Plan, handle string) int {
	for _, p := range plan {
		if p.Handle == handle {
			return p.AllocatedRequests
		}
	}
	return 0
}

// processAccount implements the per-direction pseudocode of §4.6: cold
// start fetches forward only; warm accounts split the allocation
// between a forward catch-up and a backward historical phase.
func (ix *Indexer) processAccount(ctx context.Context, p account.Plan, sb *sharedBudget, fatal *fatalSignal) AccountReport {
	d := ix.deps
	report := AccountReport{Handle: p.Handle}

	b, err := d.Boundary.Boundaries(ctx, d.Source, p.Handle)
	if err != nil {
		report.Err = err
		return report
	}

	if !b.HasData {
		out := ix.runDirection(ctx, p.Handle, directionForward, time.Time{}, time.Time{}, p.AllocatedRequests, sb, fatal, &report)
		report.WasCompleted = out.requestsUsed < p.AllocatedRequests
		return report
	}

	forwardBudget := int(math.Ceil(float64(p.AllocatedRequests) / 2))
	fwd := ix.runDirection(ctx, p.Handle, directionForward, b.Latest, time.Time{}, forwardBudget, sb, fatal, &report)
	if report.RateLimited || report.Err != nil {
		return report
	}

	backwardBudget := p.AllocatedRequests - fwd.requestsUsed
	ix.runDirection(ctx, p.Handle, directionBackward, time.Time{}, b.Earliest, backwardBudget, sb, fatal, &report)
	report.WasCompleted = report.RequestsUsed < p.AllocatedRequests
	return report
}

type direction int

const (
	directionForward direction = iota
	directionBackward
)

type directionOutcome struct {
	requestsUsed int
}

// runDirection pulls one adapter phase, normalizes, chunks, and stores
// the result, folding counts into report.
func (ix *Indexer) runDirection(ctx context.Context, handle string, dir direction, since, before time.Time, budget int, sb *sharedBudget, fatal *fatalSignal, report *AccountReport) directionOutcome {
	d := ix.deps
	if fatal.get() != nil {
		report.HasMoreData = true
		return directionOutcome{}
	}

	grant := sb.authorize(budget)
	if grant == 0 {
		report.HasMoreData = true
		return directionOutcome{}
	}

	params := source.FetchParams{Account: handle, Since: since, Before: before, Budget: grant}

	var res source.Result
	var err error
	if dir == directionForward {
		res, err = d.Adapter.FetchForward(ctx, params)
	} else {
		if !d.Adapter.SupportsBackward() {
			return directionOutcome{}
		}
		res, err = d.Adapter.FetchBackward(ctx, params)
	}

	report.RequestsUsed += res.RequestsUsed
	if err != nil {
		if srcErr, ok := err.(*source.Error); ok {
			switch srcErr.Signal {
			case source.SignalRateLimited:
				report.RateLimited = true
				report.HasMoreData = true
				return directionOutcome{requestsUsed: res.RequestsUsed}
			case source.SignalUnauthorized:
				// Auth failures never resolve on their own, and the
				// spec classifies a repeated one as fatal (§7.1) — an
				// adapter has no retry loop that would absorb a
				// transient 401, so the first one it surfaces already
				// reflects a persistently invalid credential.
				fatal.set(fmt.Errorf("indexer: account %s: %w", handle, err))
			}
		}
		report.Err = err
		return directionOutcome{requestsUsed: res.RequestsUsed}
	}
	if res.HasMoreData {
		report.HasMoreData = true
	}

	messages, normalizeErrs := ix.normalizeAll(handle, res.Records)
	messages = filterByDirection(messages, dir, since, before)
	report.Processed += len(messages)
	report.Errors += normalizeErrs

	for _, chunk := range fn.Chunk(messages, d.MaxBatchSize) {
		if fatal.get() != nil {
			report.HasMoreData = true
			break
		}
		stored, chunkErrs := ix.storeChunk(ctx, chunk, fatal)
		report.Stored += stored
		report.Errors += chunkErrs
	}

	return directionOutcome{requestsUsed: res.RequestsUsed}
}

func filterByDirection(messages []canon.Message, dir direction, since, before time.Time) []canon.Message {
	return fn.Filter(messages, func(m canon.Message) bool {
		if dir == directionForward && !since.IsZero() {
			return m.CreatedAt.After(since)
		}
		if dir == directionBackward && !before.IsZero() {
			return m.CreatedAt.Before(before)
		}
		return true
	})
}

// normalizeAll returns the successfully normalized messages and the
// count of records skipped on a normalize error (too short, over the
// microblog cap, missing a foreign id, ...) — §4.4 requires these be
// counted, not silently dropped.
func (ix *Indexer) normalizeAll(handle string, records []source.RawRecord) ([]canon.Message, int) {
	d := ix.deps
	out := make([]canon.Message, 0, len(records))
	skipped := 0
	for _, rec := range records {
		msg, err := canon.Normalize(canon.RawRecord{
			ForeignID:    rec.ForeignID,
			Text:         rec.Text,
			Author:       rec.Author,
			AuthorHandle: handle,
			CreatedAt:    rec.CreatedAt,
			URL:          rec.URL,
		}, canon.PartitionContext{Source: d.Source, Channel: handle})
		if err != nil {
			d.Logger.Warn("normalize skipped record", "handle", handle, "foreignId", rec.ForeignID, "error", err)
			skipped++
			continue
		}
		out = append(out, msg)
	}
	return out, skipped
}

// storeChunk implements the bulk-then-single fallback of §4.6 step 4.
func (ix *Indexer) storeChunk(ctx context.Context, messages []canon.Message, fatal *fatalSignal) (stored int, errCount int) {
	d := ix.deps
	if len(messages) == 0 {
		return 0, 0
	}

	points, err := ix.embedAndBuildPoints(ctx, messages)
	if err == nil {
		n, pointErrs, upsertErr := d.Store.UpsertBatch(ctx, d.Collection, points)
		if upsertErr == nil && len(pointErrs) == 0 {
			return n, 0
		}
		d.Logger.Warn("bulk store failed, falling back to single mode", "error", upsertErr, "pointErrors", len(pointErrs))
	} else if errors.Is(err, embedclient.ErrDimensionMismatch) {
		// A dimension mismatch on a bulk call means the provider is
		// returning the wrong shape for every vector, not just this
		// chunk's — falling back to single mode would just repeat the
		// same failure once per message. Abort the run instead (§7.1).
		fatal.set(fmt.Errorf("indexer: %w", err))
		return 0, len(messages)
	} else {
		d.Logger.Warn("bulk embed failed, falling back to single mode", "error", err)
	}

	return ix.storeSingleMode(ctx, messages, fatal)
}

func (ix *Indexer) embedAndBuildPoints(ctx context.Context, messages []canon.Message) ([]canon.Point, error) {
	texts := fn.Map(messages, func(m canon.Message) string { return m.Text })
	vectors, err := ix.deps.Embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("indexer: embed batch of %d: %w", len(messages), err)
	}
	if len(vectors) != len(messages) {
		return nil, fmt.Errorf("indexer: embed returned %d vectors for %d messages", len(vectors), len(messages))
	}

	now := time.Now().UTC()
	points := make([]canon.Point, len(messages))
	for i, m := range messages {
		points[i] = canon.Point{
			PointID:   canon.PointID(m.ID),
			Vector:    vectors[i],
			Payload:   m,
			StoredAt:  now,
			VectorDim: len(vectors[i]),
		}
	}
	return points, nil
}

func (ix *Indexer) storeSingleMode(ctx context.Context, messages []canon.Message, fatal *fatalSignal) (stored int, errCount int) {
	d := ix.deps
	now := time.Now().UTC()
	for i, m := range messages {
		vec, err := d.Embedder.EmbedOne(ctx, m.Text)
		if err != nil {
			if errors.Is(err, embedclient.ErrDimensionMismatch) {
				// Same reasoning as the bulk path: this is the
				// provider's shape, not this one message's — stop
				// burning per-item attempts and abort the run.
				fatal.set(fmt.Errorf("indexer: %w", err))
				errCount += len(messages) - i
				return stored, errCount
			}
			ix.reportItemFailure(ctx, m, err)
			errCount++
			continue
		}
		point := canon.Point{
			PointID:   canon.PointID(m.ID),
			Vector:    vec,
			Payload:   m,
			StoredAt:  now,
			VectorDim: len(vec),
		}
		n, pointErrs, err := d.Store.UpsertBatch(ctx, d.Collection, []canon.Point{point})
		if err != nil || n == 0 {
			cause := err
			if cause == nil && len(pointErrs) > 0 {
				cause = &pointErrs[0]
			}
			ix.reportItemFailure(ctx, m, cause)
			errCount++
			continue
		}
		stored++
	}
	return stored, errCount
}

func (ix *Indexer) reportItemFailure(ctx context.Context, m canon.Message, cause error) {
	ix.deps.Logger.Error("per-item store failure", "messageId", m.ID, "error", cause)
	if ix.deps.DLQ != nil {
		ix.deps.DLQ(ctx, m, cause)
	}
}
