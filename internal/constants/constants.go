// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

import "time"

// Image id namespaces
const (
	// ManualImagePrefix marks embeddings extracted from a user-supplied photo
	// rather than a library image. Such ids never count as analyzed.
	ManualImagePrefix = "manual:"
)

// Face matching constants
const (
	// DefaultObservationThreshold is the maximum model-native distance for two faces to match
	DefaultObservationThreshold = 0.55

	// DefaultCosineThreshold is the minimum cosine similarity for two faces to match
	DefaultCosineThreshold = 0.88

	// DefaultExploratoryThreshold is the minimum cosine similarity for exploratory queries
	DefaultExploratoryThreshold = 0.75

	// DefaultExploratoryTopK is the result cap for exploratory queries
	DefaultExploratoryTopK = 50
)

// Search constants
const (
	// DefaultBatchSize is the number of images extracted between store saves
	DefaultBatchSize = 50

	// DefaultInitialCeiling is the number of images extracted before a search returns
	DefaultInitialCeiling = 2000

	// DefaultConcurrency is the default number of parallel extraction workers
	DefaultConcurrency = 4

	// MaxConcurrency caps the extraction worker pool
	MaxConcurrency = 10

	// DefaultScanCap bounds the bulk scan of analyzed image ids
	DefaultScanCap = 50000

	// MaxImageSize is the maximum dimension (width or height) for image processing
	MaxImageSize = 1920
)

// Handler constants
const (
	// EventChannelBuffer is the buffer size for job event channels
	EventChannelBuffer = 100

	// JobRetention is how long a finished search job stays listed
	JobRetention = time.Hour

	// MaxPhotoUploadSize bounds manual primary photo uploads
	MaxPhotoUploadSize = 20 << 20
)
