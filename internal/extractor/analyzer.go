// Package extractor turns decoded images into quality-filtered face
// detections with feature vectors and thumbnails.
package extractor

import (
	"context"
	"image"

	"github.com/kozaktomas/face-matcher/internal/facematch"
)

// Analyzer is the face analysis primitive the extractor builds on: a face
// detector, a feature-vector model and that model's native distance.
type Analyzer interface {
	// DetectFaces returns raw detections with boxes normalized to the image.
	DetectFaces(ctx context.Context, img image.Image) ([]facematch.Detection, error)
	// FeatureVector computes the feature vector of a cropped face.
	FeatureVector(ctx context.Context, face image.Image) ([]float32, error)
	// Distance is the model-native observation distance between two vectors.
	Distance(a, b []float32) (float64, error)
	// Model names the feature model, stored with every record.
	Model() string
}
