package vectorstore

import (
	"context"
	"sync"

	"github.com/kda-labs/sigil-etl/engine/canon"
)

// Fake is an in-memory Gateway used by package tests across the
// pipeline. It is not a mock: it keeps real state and applies the same
// dimension checks as Store so callers exercise the same contract.
type Fake struct {
	mu          sync.Mutex
	collections map[string]CollectionSpec
	points      map[string]map[string]canon.Point // collection -> pointID -> point
}

// NewFake returns an empty Fake gateway.
func NewFake() *Fake {
	return &Fake{
		collections: make(map[string]CollectionSpec),
		points:      make(map[string]map[string]canon.Point),
	}
}

func (f *Fake) EnsureCollection(_ context.Context, spec CollectionSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.collections[spec.Name]; ok {
		if existing.Dim != spec.Dim || existing.Distance != spec.Distance {
			return ErrDimMismatch
		}
		return nil
	}
	f.collections[spec.Name] = spec
	f.points[spec.Name] = make(map[string]canon.Point)
	return nil
}

func (f *Fake) UpsertBatch(_ context.Context, collection string, points []canon.Point) (int, []PointError, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(points) == 0 {
		return 0, nil, nil
	}
	bucket, ok := f.points[collection]
	if !ok {
		bucket = make(map[string]canon.Point)
		f.points[collection] = bucket
	}

	var pointErrs []PointError
	stored := 0
	dim := points[0].VectorDim
	for _, p := range points {
		if len(p.Vector) != dim {
			pointErrs = append(pointErrs, PointError{PointID: p.PointID, Err: ErrDimMismatch})
			continue
		}
		bucket[p.PointID] = p
		stored++
	}
	return stored, pointErrs, nil
}

func (f *Fake) GetPoint(_ context.Context, collection, pointID string) (canon.Point, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bucket, ok := f.points[collection]
	if !ok {
		return canon.Point{}, false, nil
	}
	p, ok := bucket[pointID]
	return p, ok, nil
}

func (f *Fake) DeleteByIDs(_ context.Context, collection string, ids []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bucket, ok := f.points[collection]
	if !ok {
		return 0, nil
	}
	n := 0
	for _, id := range ids {
		if _, ok := bucket[id]; ok {
			delete(bucket, id)
			n++
		}
	}
	return n, nil
}

// SearchFiltered implements the same zero-vector-means-filter-only-scan
// convention as Store, scanning linearly since the Fake has no index.
func (f *Fake) SearchFiltered(_ context.Context, collection string, req SearchRequest) ([]canon.Point, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bucket := f.points[collection]
	out := make([]canon.Point, 0, len(bucket))
	for _, p := range bucket {
		if !matchesFilter(p, req.Filter) {
			continue
		}
		out = append(out, p)
		if req.Limit > 0 && len(out) >= req.Limit {
			break
		}
	}
	return out, nil
}

func matchesFilter(p canon.Point, filter map[string]string) bool {
	for k, v := range filter {
		switch k {
		case keySource:
			if string(p.Payload.Source) != v {
				return false
			}
		case keyAuthorHandle:
			if p.Payload.AuthorHandle != v {
				return false
			}
		default:
			return false
		}
	}
	return true
}
