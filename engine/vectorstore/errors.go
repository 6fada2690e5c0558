package vectorstore

import "errors"

var (
	// ErrDimMismatch is returned by ensureCollection when an existing
	// collection's dimension or distance metric does not match the spec,
	// and (inside a PointError) by upsertBatch when a point's vector
	// length differs from the first point's VectorDim in the same call;
	// upsertBatch does not look up the collection's configured dimension.
	ErrDimMismatch = errors.New("vectorstore: dimension or distance mismatch")

	// ErrCollectionAbsentCreateFailed signals that ensureCollection could
	// not create a missing collection — a fatal run-level condition.
	ErrCollectionAbsentCreateFailed = errors.New("vectorstore: collection absent and create failed")

	ErrPointNotFound = errors.New("vectorstore: point not found")
)

// PointError records a per-point failure inside an otherwise successful
// upsertBatch call, preserving which point and why.
type PointError struct {
	PointID string
	Err     error
}

func (e *PointError) Error() string { return "vectorstore: point " + e.PointID + ": " + e.Err.Error() }
func (e *PointError) Unwrap() error { return e.Err }
