// Package source defines the common contract platform-specific adapters
// (C3) implement: given an account and an optional time bound, return the
// fetched raw records together with the number of requests spent
// (Result.RequestsUsed) so the indexer core can bill the shared budget.
package source

import (
	"context"
	"time"
)

// Signal classifies an adapter failure by how the indexer core should
// react to it, per the error taxonomy (§7): the core never inspects a
// raw transport error directly, only this typed signal.
type Signal int

const (
	SignalNone Signal = iota
	SignalTimeout
	SignalRateLimited
	SignalUnauthorized
	SignalNotFound
	SignalTransient
	SignalFatal
)

func (s Signal) String() string {
	switch s {
	case SignalTimeout:
		return "timeout"
	case SignalRateLimited:
		return "rate_limited"
	case SignalUnauthorized:
		return "unauthorized"
	case SignalNotFound:
		return "not_found"
	case SignalTransient:
		return "transient"
	case SignalFatal:
		return "fatal"
	default:
		return "none"
	}
}

// Error wraps an adapter failure with its classification and, for rate
// limits, the provider-supplied reset time.
type Error struct {
	Signal  Signal
	ResetAt time.Time
	Err     error
}

func (e *Error) Error() string { return e.Signal.String() + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// RawRecord is a single unprocessed message as handed back by an
// adapter, before C4 normalization. Fields beyond what C4 needs are
// deliberately absent — adapters coerce platform-specific shapes into
// this one place so nothing downstream re-peeks at raw payloads.
type RawRecord struct {
	ForeignID string
	Text      string
	Author    string
	Handle    string
	CreatedAt time.Time
	URL       string
}

// Page is one fetched page of raw records plus pagination state.
type Page struct {
	Records []RawRecord
	// HasMore is true when the adapter knows there would be another
	// page beyond this one, independent of whether the budget allows
	// fetching it.
	HasMore bool
}

// FetchParams bounds a single fetchForward/fetchBackward call.
type FetchParams struct {
	Account string
	// Since bounds a forward fetch: stop at the first record with
	// CreatedAt <= Since. Zero means "no lower bound" (cold start).
	Since time.Time
	// Before bounds a backward fetch: records with CreatedAt >= Before
	// are left out of the result. Zero means "no upper bound".
	Before time.Time
	// Budget is the maximum number of source-API requests this call
	// may spend.
	Budget int
}

// Adapter is the capability set C6 drives. Implementations page
// forward (newest-first, toward Since) or backward (newest-first from
// Before, toward older records) and report how many requests each call
// actually spent.
type Adapter interface {
	// FetchForward returns newest-first pages down to Since or until
	// Budget requests have been spent.
	FetchForward(ctx context.Context, p FetchParams) (Result, error)
	// FetchBackward returns records older than Before, paging toward
	// older messages. Adapters that cannot page backward (see §9) must
	// return HasMoreData=false rather than silently skipping the phase.
	FetchBackward(ctx context.Context, p FetchParams) (Result, error)
	// SupportsBackward reports whether FetchBackward is a real
	// capability of this adapter.
	SupportsBackward() bool
}

// Result is the outcome of a fetchForward/fetchBackward call: the
// concatenated records across however many pages the call consumed,
// the number of requests spent, and whether more data remains beyond
// the budget or boundary reached.
type Result struct {
	Records      []RawRecord
	RequestsUsed int
	HasMoreData  bool
}
