package database

// HNSW index parameters for face embeddings
const (
	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	// Higher values improve recall but increase memory and build time.
	HNSWMaxNeighbors = 16

	// HNSWSearchMultiplier is the factor to request more candidates from HNSW
	// to ensure we have enough after similarity filtering.
	HNSWSearchMultiplier = 3
)

// ImageIDChunk bounds the number of ids passed in one IN/ANY query.
const ImageIDChunk = 1000
