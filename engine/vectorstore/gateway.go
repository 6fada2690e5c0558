package vectorstore

import (
	"context"

	"github.com/kda-labs/sigil-etl/engine/canon"
)

// Gateway is the typed interface C6/C5 depend on. The Qdrant-backed
// Store below is the production implementation; tests use the in-memory
// Fake instead of a mock.
type Gateway interface {
	EnsureCollection(ctx context.Context, spec CollectionSpec) error
	UpsertBatch(ctx context.Context, collection string, points []canon.Point) (storedCount int, errs []PointError, err error)
	GetPoint(ctx context.Context, collection, pointID string) (canon.Point, bool, error)
	DeleteByIDs(ctx context.Context, collection string, ids []string) (int, error)
	SearchFiltered(ctx context.Context, collection string, req SearchRequest) ([]canon.Point, error)
}

// SearchRequest is C1's filtered/zero-vector search contract. When
// Vector is nil, callers are expected to also set ScoreThreshold to 0,
// meaning "filter-only scan" — used internally by the boundary index.
type SearchRequest struct {
	Vector        []float32
	Filter        map[string]string // exact-match payload filters, ANDed
	Limit         int
	WithPayload   bool
	WithVector    bool
	ScoreThreshold float32
}
