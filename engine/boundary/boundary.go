// Package boundary implements C5: per-(source, handle) {earliest, latest}
// timestamp queries against the vector store's payload filter. Boundaries
// are derived, never cached authoritatively — the vector store is ground
// truth.
package boundary

import (
	"context"
	"strings"
	"time"

	"github.com/kda-labs/sigil-etl/engine/canon"
	"github.com/kda-labs/sigil-etl/engine/vectorstore"
)

// ScanLimit is K in the filter-only scan (§4.5): at most this many of a
// handle's stored points are examined, so for a handle with more points
// the boundary is computed from the points the scan returned.
const ScanLimit = 1000

// Boundary is the derived {earliest, latest, hasData} triple for one
// (source, handle) pair.
type Boundary struct {
	Earliest time.Time
	Latest   time.Time
	HasData  bool
}

// Index queries boundaries against a vectorstore.Gateway.
type Index struct {
	Gateway    vectorstore.Gateway
	Collection string
}

// New builds a boundary Index bound to one collection.
func New(gw vectorstore.Gateway, collection string) *Index {
	return &Index{Gateway: gw, Collection: collection}
}

// Boundaries computes {earliest, latest, hasData} for handle via a
// filter-only, zero-vector, payload-only scan. If the lower-cased
// handle returns nothing and differs from the original case, a legacy
// fallback retries with the original case (§9 legacy case-sensitivity).
func (idx *Index) Boundaries(ctx context.Context, source canon.Source, handle string) (Boundary, error) {
	lower := strings.ToLower(handle)

	b, err := idx.scan(ctx, source, lower)
	if err != nil {
		return Boundary{}, err
	}
	if b.HasData || lower == handle {
		return b, nil
	}
	return idx.scan(ctx, source, handle)
}

func (idx *Index) scan(ctx context.Context, source canon.Source, handle string) (Boundary, error) {
	points, err := idx.Gateway.SearchFiltered(ctx, idx.Collection, vectorstore.SearchRequest{
		Filter: map[string]string{
			vectorstore.PayloadKeySource:       string(source),
			vectorstore.PayloadKeyAuthorHandle: handle,
		},
		Limit:       ScanLimit,
		WithPayload: true,
		WithVector:  false,
	})
	if err != nil {
		return Boundary{}, err
	}
	if len(points) == 0 {
		return Boundary{}, nil
	}

	b := Boundary{HasData: true}
	for i, p := range points {
		ts := p.Payload.CreatedAt
		if i == 0 {
			b.Earliest, b.Latest = ts, ts
			continue
		}
		if ts.Before(b.Earliest) {
			b.Earliest = ts
		}
		if ts.After(b.Latest) {
			b.Latest = ts
		}
	}
	return b, nil
}
