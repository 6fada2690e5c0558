package vectorstore

// Distance is the similarity metric a collection is configured with.
type Distance string

const (
	DistanceCosine Distance = "cosine"
)

// HNSWConfig mirrors Qdrant's HNSW index parameters.
type HNSWConfig struct {
	M                 uint64
	EfConstruct       uint64
	FullScanThreshold uint64
}

// OptimizersConfig mirrors Qdrant's optimizer thresholds.
type OptimizersConfig struct {
	DeletedThreshold      float64
	VacuumMinVectorNumber uint64
}

// DefaultHNSW and DefaultOptimizers are the bit-exact defaults this
// pipeline requires of every collection it creates.
var (
	DefaultHNSW = HNSWConfig{M: 16, EfConstruct: 100, FullScanThreshold: 10000}

	DefaultOptimizers = OptimizersConfig{DeletedThreshold: 0.2, VacuumMinVectorNumber: 1000}
)

// CollectionSpec is the full, comparable shape of a collection this
// pipeline expects. ensureCollection creates a collection with this
// exact spec if absent, and validates dim/distance if present —
// it never silently reconfigures an existing collection.
type CollectionSpec struct {
	Name             string
	Dim              int
	Distance         Distance
	OnDiskPayload    bool
	HNSW             HNSWConfig
	Optimizers       OptimizersConfig
}

// NewCollectionSpec builds the standard spec for a named collection at
// the given embedding dimension, with the pipeline's fixed HNSW and
// optimizer parameters.
func NewCollectionSpec(name string, dim int) CollectionSpec {
	return CollectionSpec{
		Name:          name,
		Dim:           dim,
		Distance:      DistanceCosine,
		OnDiskPayload: true,
		HNSW:          DefaultHNSW,
		Optimizers:    DefaultOptimizers,
	}
}
