package facematch

// QualityOptions are the acceptance thresholds for raw detections.
type QualityOptions struct {
	MinConfidence    float64 // detections below are rejected
	MinRelativeSize  float64 // min face side as a fraction of the shorter image side
	MinQuality       float64 // applies only when a quality observation is present
	MaxPoseDeviation float64 // |yaw| + |pitch| must stay below, in degrees
}

// DefaultQualityOptions returns the standard thresholds.
func DefaultQualityOptions() QualityOptions {
	return QualityOptions{
		MinConfidence:    0.30,
		MinRelativeSize:  0.05,
		MinQuality:       0.30,
		MaxPoseDeviation: 60,
	}
}

// Accept reports whether a single detection passes every check for an image
// of the given pixel size. A non-positive size skips the size check.
func (o QualityOptions) Accept(d Detection, width, height int) bool {
	if d.Confidence < o.MinConfidence {
		return false
	}
	if width > 0 && height > 0 {
		faceSide := min(d.BBox.W*float64(width), d.BBox.H*float64(height))
		imageSide := float64(min(width, height))
		if faceSide < o.MinRelativeSize*imageSide {
			return false
		}
	}
	if d.Quality != nil && *d.Quality < o.MinQuality {
		return false
	}
	return d.Pose.Deviation() < o.MaxPoseDeviation
}

// FilterDetections keeps the detections that pass every check, preserving
// their order. When all of them are rejected the single most confident raw
// detection is returned instead, so a real but imperfect face is not lost.
// An empty input yields an empty result.
func FilterDetections(detections []Detection, width, height int, opts QualityOptions) []Detection {
	if len(detections) == 0 {
		return nil
	}

	accepted := make([]Detection, 0, len(detections))
	for _, d := range detections {
		if opts.Accept(d, width, height) {
			accepted = append(accepted, d)
		}
	}
	if len(accepted) > 0 {
		return accepted
	}

	best := detections[0]
	for _, d := range detections[1:] {
		if d.Confidence > best.Confidence {
			best = d
		}
	}
	return []Detection{best}
}
