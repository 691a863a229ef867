package facematch

import (
	"cmp"
	"image"
	"math"
)

// BBoxFromSlice converts a stored [x, y, w, h] slice. Short slices yield a zero box.
func BBoxFromSlice(s []float64) BBox {
	if len(s) != 4 {
		return BBox{}
	}
	return BBox{X: s[0], Y: s[1], W: s[2], H: s[3]}
}

// Slice returns the box as [x, y, w, h] for storage.
func (b BBox) Slice() []float64 {
	return []float64{b.X, b.Y, b.W, b.H}
}

func (b BBox) Area() float64 {
	return b.W * b.H
}

// Top returns the distance of the box's top edge from the top of the image.
func (b BBox) Top(origin Origin) float64 {
	if origin == OriginTopLeft {
		return b.Y
	}
	return 1 - (b.Y + b.H)
}

// Corners returns [x1, y1, x2, y2] with y measured from the top of the image.
func (b BBox) Corners(origin Origin) []float64 {
	top := b.Top(origin)
	return []float64{b.X, top, b.X + b.W, top + b.H}
}

// PixelRect converts the box to a pixel rectangle within a width x height
// image, growing each side by padding times the box size and clamping to
// the image bounds.
func (b BBox) PixelRect(width, height int, origin Origin, padding float64) image.Rectangle {
	c := b.Corners(origin)
	padX := b.W * padding
	padY := b.H * padding
	x1 := clamp01(c[0]-padX) * float64(width)
	y1 := clamp01(c[1]-padY) * float64(height)
	x2 := clamp01(c[2]+padX) * float64(width)
	y2 := clamp01(c[3]+padY) * float64(height)
	return image.Rect(int(math.Floor(x1)), int(math.Floor(y1)), int(math.Ceil(x2)), int(math.Ceil(y2)))
}

// IoU returns the intersection over union of two boxes in the same origin.
func (b BBox) IoU(other BBox) float64 {
	return ComputeIoU(b.Corners(OriginTopLeft), other.Corners(OriginTopLeft))
}

// ComputeIoU calculates Intersection over Union between two bounding boxes.
// bbox1 and bbox2 are [x1, y1, x2, y2] in the same coordinate system.
func ComputeIoU(bbox1, bbox2 []float64) float64 {
	if len(bbox1) != 4 || len(bbox2) != 4 {
		return 0
	}

	x1 := max(bbox1[0], bbox2[0])
	y1 := max(bbox1[1], bbox2[1])
	x2 := min(bbox1[2], bbox2[2])
	y2 := min(bbox1[3], bbox2[3])

	if x2 <= x1 || y2 <= y1 {
		return 0
	}

	intersection := (x2 - x1) * (y2 - y1)
	area1 := (bbox1[2] - bbox1[0]) * (bbox1[3] - bbox1[1])
	area2 := (bbox2[2] - bbox2[0]) * (bbox2[3] - bbox2[1])
	union := area1 + area2 - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}

// CompareScreenPosition orders boxes the way a reader scans a photo: the box
// whose top edge is higher comes first, then the one further left. It returns
// 0 for boxes at the same position so callers can add their own tie-break.
func CompareScreenPosition(a, b BBox, origin Origin) int {
	if c := cmp.Compare(a.Top(origin), b.Top(origin)); c != 0 {
		return c
	}
	return cmp.Compare(a.X, b.X)
}

// ConvertPixelBBoxToRelative converts a pixel [x1, y1, x2, y2] box measured
// from the top-left corner into a normalized box in the given origin.
func ConvertPixelBBoxToRelative(bbox []float64, width, height int, origin Origin) BBox {
	if len(bbox) != 4 || width <= 0 || height <= 0 {
		return BBox{}
	}
	x1 := bbox[0] / float64(width)
	y1 := bbox[1] / float64(height)
	w := (bbox[2] - bbox[0]) / float64(width)
	h := (bbox[3] - bbox[1]) / float64(height)
	if origin == OriginTopLeft {
		return BBox{X: x1, Y: y1, W: w, H: h}
	}
	return BBox{X: x1, Y: 1 - (y1 + h), W: w, H: h}
}

func clamp01(f float64) float64 {
	return min(max(f, 0), 1)
}
