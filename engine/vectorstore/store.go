// Package vectorstore is the sole owner of all Qdrant operations for the
// indexing pipeline (C1 — Vector Store Gateway).
package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/kda-labs/sigil-etl/engine/canon"
	"github.com/kda-labs/sigil-etl/pkg/fn"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// callRetry bounds every point-data gRPC call to 3 attempts with
// jittered backoff, matching the retry policy the source adapters
// apply to their HTTP calls.
var callRetry = fn.RetryOpts{
	MaxAttempts: 3,
	InitialWait: 500 * time.Millisecond,
	MaxWait:     5 * time.Second,
	Jitter:      true,
}

// retryableGRPC reports whether a gRPC failure is the 5xx/429 analogue
// worth retrying, as opposed to a request the server will never accept.
func retryableGRPC(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Internal:
		return true
	default:
		return false
	}
}

type callOutcome[T any] struct {
	val T
	err error
}

// retryGRPC retries call with bounded exponential backoff and jitter
// while its failure is retryableGRPC, and returns immediately on any
// other failure.
func retryGRPC[T any](ctx context.Context, call func(context.Context) (T, error)) (T, error) {
	res := fn.Retry(ctx, callRetry, func(ctx context.Context) fn.Result[callOutcome[T]] {
		val, err := call(ctx)
		if err != nil && retryableGRPC(err) {
			return fn.Err[callOutcome[T]](err)
		}
		return fn.Ok(callOutcome[T]{val: val, err: err})
	})
	outcome, retryErr := res.Unwrap()
	if retryErr != nil {
		var zero T
		return zero, retryErr
	}
	return outcome.val, outcome.err
}

// Store is the gRPC-backed Gateway implementation.
type Store struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
}

// New dials a Qdrant instance at addr over an insecure local-cluster
// gRPC connection.
func New(addr string) (*Store, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("vectorstore: dial qdrant %s: %w", addr, err)
	}
	return &Store{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
	}, nil
}

// Close closes the underlying gRPC connection.
func (s *Store) Close() error { return s.conn.Close() }

// Ping backs C9's health probe: a cheap call that only succeeds if
// Qdrant is reachable and answering gRPC requests.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("vectorstore: ping: %w", err)
	}
	return nil
}

// EnsureCollection creates the collection with the exact spec if it is
// absent. If present, it validates dim and distance match and fails on
// mismatch rather than silently reconfiguring.
func (s *Store) EnsureCollection(ctx context.Context, spec CollectionSpec) error {
	info, err := s.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: spec.Name})
	if err == nil && info.GetResult() != nil {
		return s.validateExisting(info.GetResult(), spec)
	}

	onDisk := spec.OnDiskPayload
	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: spec.Name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(spec.Dim),
					Distance: toQdrantDistance(spec.Distance),
				},
			},
		},
		OnDiskPayload: &onDisk,
		HnswConfig: &pb.HnswConfigDiff{
			M:                 u64ptr(spec.HNSW.M),
			EfConstruct:       u64ptr(spec.HNSW.EfConstruct),
			FullScanThreshold: u64ptr(spec.HNSW.FullScanThreshold),
		},
		OptimizersConfig: &pb.OptimizersConfigDiff{
			DeletedThreshold:      f64ptr(spec.Optimizers.DeletedThreshold),
			VacuumMinVectorNumber: u64ptr(spec.Optimizers.VacuumMinVectorNumber),
		},
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCollectionAbsentCreateFailed, spec.Name, err)
	}
	return nil
}

func (s *Store) validateExisting(info *pb.CollectionInfo, spec CollectionSpec) error {
	params := info.GetConfig().GetParams().GetVectorsConfig().GetParams()
	if params == nil {
		return fmt.Errorf("%w: %s: collection has no single-vector params", ErrDimMismatch, spec.Name)
	}
	if params.GetSize() != uint64(spec.Dim) {
		return fmt.Errorf("%w: %s: want dim %d, have %d", ErrDimMismatch, spec.Name, spec.Dim, params.GetSize())
	}
	if params.GetDistance() != toQdrantDistance(spec.Distance) {
		return fmt.Errorf("%w: %s: distance metric differs", ErrDimMismatch, spec.Name)
	}
	return nil
}

// UpsertBatch stores points atomically per call. Any point whose vector
// length differs from the first point's VectorDim is rejected up front and
// reported as a PointError without being sent to Qdrant; callers use
// this to decide whether to retry in single mode (§4.6).
func (s *Store) UpsertBatch(ctx context.Context, collection string, points []canon.Point) (int, []PointError, error) {
	if len(points) == 0 {
		return 0, nil, nil
	}

	var pointErrs []PointError
	good := make([]canon.Point, 0, len(points))
	dim := points[0].VectorDim
	for _, p := range points {
		if len(p.Vector) != dim {
			pointErrs = append(pointErrs, PointError{PointID: p.PointID, Err: ErrDimMismatch})
			continue
		}
		good = append(good, p)
	}
	if len(good) == 0 {
		return 0, pointErrs, nil
	}

	structs := make([]*pb.PointStruct, len(good))
	for i, p := range good {
		structs[i] = &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: p.PointID}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: p.Vector}}},
			Payload: payloadToQdrant(payloadMap(p)),
		}
	}

	wait := true
	_, err := retryGRPC(ctx, func(ctx context.Context) (*pb.PointsOperationResponse, error) {
		return s.points.Upsert(ctx, &pb.UpsertPoints{
			CollectionName: collection,
			Wait:           &wait,
			Points:         structs,
		})
	})
	if err != nil {
		return 0, pointErrs, fmt.Errorf("vectorstore: upsert %d points: %w", len(structs), err)
	}
	return len(good), pointErrs, nil
}

// GetPoint fetches a single point by id.
func (s *Store) GetPoint(ctx context.Context, collection, pointID string) (canon.Point, bool, error) {
	resp, err := retryGRPC(ctx, func(ctx context.Context) (*pb.GetResponse, error) {
		return s.points.Get(ctx, &pb.GetPoints{
			CollectionName: collection,
			Ids:            []*pb.PointId{{PointIdOptions: &pb.PointId_Uuid{Uuid: pointID}}},
			WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
			WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}},
		})
	})
	if err != nil {
		return canon.Point{}, false, fmt.Errorf("vectorstore: get point %s: %w", pointID, err)
	}
	if len(resp.GetResult()) == 0 {
		return canon.Point{}, false, nil
	}
	return pointFromRetrieved(resp.GetResult()[0]), true, nil
}

// DeleteByIDs removes points by id and reports how many were targeted.
func (s *Store) DeleteByIDs(ctx context.Context, collection string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	pointIDs := make([]*pb.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}}
	}
	wait := true
	_, err := retryGRPC(ctx, func(ctx context.Context) (*pb.PointsOperationResponse, error) {
		return s.points.Delete(ctx, &pb.DeletePoints{
			CollectionName: collection,
			Wait:           &wait,
			Points: &pb.PointsSelector{
				PointsSelectorOneOf: &pb.PointsSelector_Points{
					Points: &pb.PointsIdsList{Ids: pointIDs},
				},
			},
		})
	})
	if err != nil {
		return 0, fmt.Errorf("vectorstore: delete %d points: %w", len(ids), err)
	}
	return len(ids), nil
}

// SearchFiltered implements C1's search contract. When req.Vector is
// empty, the zero-vector convention means "filter-only scan": this is
// served by Qdrant's Scroll API rather than Search, since Scroll does
// not require a query vector at all and is the efficient path for a
// pure payload filter.
func (s *Store) SearchFiltered(ctx context.Context, collection string, req SearchRequest) ([]canon.Point, error) {
	if len(req.Vector) == 0 {
		return s.scrollFiltered(ctx, collection, req)
	}
	return s.vectorSearch(ctx, collection, req)
}

func (s *Store) scrollFiltered(ctx context.Context, collection string, req SearchRequest) ([]canon.Point, error) {
	limit := uint32(req.Limit)
	resp, err := retryGRPC(ctx, func(ctx context.Context) (*pb.ScrollResponse, error) {
		return s.points.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: collection,
			Filter:         filterFromMatch(req.Filter),
			Limit:          &limit,
			WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: req.WithPayload}},
			WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: req.WithVector}},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: scroll: %w", err)
	}
	out := make([]canon.Point, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		out[i] = pointFromRetrieved(r)
	}
	return out, nil
}

func (s *Store) vectorSearch(ctx context.Context, collection string, req SearchRequest) ([]canon.Point, error) {
	threshold := req.ScoreThreshold
	resp, err := retryGRPC(ctx, func(ctx context.Context) (*pb.SearchResponse, error) {
		return s.points.Search(ctx, &pb.SearchPoints{
			CollectionName: collection,
			Vector:         req.Vector,
			Filter:         filterFromMatch(req.Filter),
			Limit:          uint64(req.Limit),
			WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: req.WithPayload}},
			WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: req.WithVector}},
			ScoreThreshold: &threshold,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: search: %w", err)
	}
	out := make([]canon.Point, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		out[i] = pointFromScored(r)
	}
	return out, nil
}

func filterFromMatch(match map[string]string) *pb.Filter {
	if len(match) == 0 {
		return nil
	}
	must := make([]*pb.Condition, 0, len(match))
	for k, v := range match {
		must = append(must, fieldMatch(k, v))
	}
	return &pb.Filter{Must: must}
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   key,
				Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: value}},
			},
		},
	}
}

func toQdrantDistance(d Distance) pb.Distance {
	switch d {
	case DistanceCosine:
		return pb.Distance_Cosine
	default:
		return pb.Distance_Cosine
	}
}

func u64ptr(v uint64) *uint64   { return &v }
func f64ptr(v float64) *float64 { return &v }
