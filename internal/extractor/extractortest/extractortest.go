// Package extractortest provides a deterministic Analyzer for tests. Faces
// are painted into synthetic images as solid rectangles of a unique color;
// detection finds those rectangles and the feature vector of a crop is the
// vector registered for the color at its center.
package extractortest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/kozaktomas/face-matcher/internal/facematch"
)

// Background is the fill color of painted images.
var Background = color.NRGBA{R: 128, G: 128, B: 128, A: 255}

// Face describes a face to paint.
type Face struct {
	Box        facematch.BBox // bottom-left origin
	Confidence float64        // 0.9 when zero
	Quality    *float64
	Pose       facematch.Pose
	Vector     []float32
}

// Analyzer is a fake extractor.Analyzer.
type Analyzer struct {
	mu    sync.Mutex
	faces map[uint32]Face
	next  uint32

	detectCalls atomic.Int64

	// DetectError fails every DetectFaces call.
	DetectError error
	// VectorError fails every FeatureVector call.
	VectorError error
	// Gate, when set, blocks DetectFaces until it receives or is closed.
	Gate chan struct{}
	// OnDetect runs at the start of every DetectFaces call.
	OnDetect func()
}

func New() *Analyzer {
	return &Analyzer{faces: make(map[uint32]Face)}
}

// Paint returns a width x height image showing the given faces.
func (a *Analyzer) Paint(width, height int, faces ...Face) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = Background.R, Background.G, Background.B, Background.A
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, f := range faces {
		a.next++
		k := a.next
		if f.Confidence == 0 {
			f.Confidence = 0.9
		}
		a.faces[k] = f

		c := color.NRGBA{R: uint8(k >> 8), G: uint8(k), B: 200, A: 255}
		r := f.Box.PixelRect(width, height, facematch.OriginBottomLeft, 0)
		for y := r.Min.Y; y < r.Max.Y; y++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				img.SetNRGBA(x, y, c)
			}
		}
	}
	return img
}

// PNG encodes img losslessly so painted colors survive a decode.
func PNG(img image.Image) []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// DetectCalls reports how many times DetectFaces ran.
func (a *Analyzer) DetectCalls() int {
	return int(a.detectCalls.Load())
}

func (a *Analyzer) DetectFaces(ctx context.Context, img image.Image) ([]facematch.Detection, error) {
	a.detectCalls.Add(1)
	if a.OnDetect != nil {
		a.OnDetect()
	}
	if a.Gate != nil {
		select {
		case <-a.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if a.DetectError != nil {
		return nil, a.DetectError
	}

	b := img.Bounds()
	rects := make(map[uint32]image.Rectangle)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			k, ok := a.lookup(img.At(x, y))
			if !ok {
				continue
			}
			px := image.Rect(x-b.Min.X, y-b.Min.Y, x-b.Min.X+1, y-b.Min.Y+1)
			if r, seen := rects[k]; seen {
				rects[k] = r.Union(px)
			} else {
				rects[k] = px
			}
		}
	}

	keys := make([]uint32, 0, len(rects))
	for k := range rects {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	a.mu.Lock()
	defer a.mu.Unlock()
	detections := make([]facematch.Detection, 0, len(keys))
	for _, k := range keys {
		f := a.faces[k]
		r := rects[k]
		pixel := []float64{float64(r.Min.X), float64(r.Min.Y), float64(r.Max.X), float64(r.Max.Y)}
		detections = append(detections, facematch.Detection{
			BBox:       facematch.ConvertPixelBBoxToRelative(pixel, b.Dx(), b.Dy(), facematch.OriginBottomLeft),
			Confidence: f.Confidence,
			Pose:       f.Pose,
			Quality:    f.Quality,
		})
	}
	return detections, nil
}

func (a *Analyzer) FeatureVector(_ context.Context, crop image.Image) ([]float32, error) {
	if a.VectorError != nil {
		return nil, a.VectorError
	}
	b := crop.Bounds()
	k, ok := a.lookup(crop.At(b.Min.X+b.Dx()/2, b.Min.Y+b.Dy()/2))
	if !ok {
		return nil, errors.New("no face at crop center")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.faces[k].Vector), nil
}

func (a *Analyzer) Distance(x, y []float32) (float64, error) {
	if len(x) == 0 || len(x) != len(y) {
		return 0, fmt.Errorf("dimension mismatch: %d vs %d", len(x), len(y))
	}
	return facematch.EuclideanDistance(x, y), nil
}

func (a *Analyzer) Model() string {
	return "test"
}

func (a *Analyzer) lookup(c color.Color) (uint32, bool) {
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	if n.B != 200 || n.A != 255 {
		return 0, false
	}
	k := uint32(n.R)<<8 | uint32(n.G)
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.faces[k]
	return k, ok
}
