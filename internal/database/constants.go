package database

// HNSW graph parameters for face embeddings (Facenet, 128 dims)
const (
	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	// Higher values improve recall but increase memory and build time.
	HNSWMaxNeighbors = 16

	// HNSWEfSearch is the search candidate pool size.
	HNSWEfSearch = 100

	// HNSWSearchMultiplier is the factor to request more candidates from HNSW
	// than finally needed, since results are re-ranked with exact distances.
	HNSWSearchMultiplier = 3
)

// History pagination defaults
const (
	DefaultHistoryPageSize = 100
	MaxHistoryPageSize     = 1000
)
