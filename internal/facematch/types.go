// Package facematch holds the pure face-matching logic shared by the search
// orchestrator, the engine and the web handlers: detection quality
// filtering, the dual-threshold similarity decision, centroids and face
// geometry. Nothing here touches storage or images.
package facematch

import "math"

// Origin is the vertical origin of normalized bounding box coordinates.
type Origin int

const (
	// OriginBottomLeft means Y grows upwards from the bottom image edge.
	OriginBottomLeft Origin = iota
	// OriginTopLeft means Y grows downwards from the top image edge.
	OriginTopLeft
)

func (o Origin) String() string {
	if o == OriginTopLeft {
		return "top-left"
	}
	return "bottom-left"
}

// ParseOrigin maps "top-left" to OriginTopLeft and anything else to OriginBottomLeft.
func ParseOrigin(s string) Origin {
	if s == "top-left" {
		return OriginTopLeft
	}
	return OriginBottomLeft
}

// BBox is a face bounding box normalized to 0..1 of the image dimensions.
type BBox struct {
	X, Y, W, H float64
}

// Pose is the head orientation in degrees.
type Pose struct {
	Yaw, Pitch, Roll float64
}

// Deviation is the combined off-frontal angle used by the quality filter.
func (p Pose) Deviation() float64 {
	return math.Abs(p.Yaw) + math.Abs(p.Pitch)
}

// Detection is a single raw face detection.
type Detection struct {
	BBox       BBox
	Confidence float64
	Pose       Pose
	Quality    *float64 // nil when the analyzer gives no quality observation
}
