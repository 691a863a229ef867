package extractor

import (
	"bytes"
	"context"
	"image"
	"log"
	"time"

	"github.com/disintegration/imaging"

	"github.com/kozaktomas/face-matcher/internal/facematch"
)

// Face is one accepted detection with its feature vector.
type Face struct {
	Detection facematch.Detection
	Vector    []float32
	Thumbnail []byte // JPEG, may be nil
}

// Options configure extraction.
type Options struct {
	Quality       facematch.QualityOptions
	Origin        facematch.Origin // origin of the analyzer's boxes
	CropPadding   float64          // fraction of the box added on every side
	ThumbnailSize int              // longest thumbnail side in pixels, 0 disables thumbnails
	Timeout       time.Duration    // per-image bound, 0 means none
}

// DefaultOptions returns the standard extraction settings.
func DefaultOptions() Options {
	return Options{
		Quality:       facematch.DefaultQualityOptions(),
		Origin:        facematch.OriginBottomLeft,
		CropPadding:   0.20,
		ThumbnailSize: 160,
		Timeout:       0,
	}
}

// Extractor runs detection, quality filtering and feature extraction.
type Extractor struct {
	analyzer Analyzer
	opts     Options
}

func New(analyzer Analyzer, opts Options) *Extractor {
	return &Extractor{analyzer: analyzer, opts: opts}
}

// Origin returns the origin of the boxes in extracted faces.
func (e *Extractor) Origin() facematch.Origin {
	return e.opts.Origin
}

// Model names the analyzer's feature model.
func (e *Extractor) Model() string {
	return e.analyzer.Model()
}

// Distance exposes the analyzer's native distance so the extractor can back a facematch.Matcher.
func (e *Extractor) Distance(a, b []float32) (float64, error) {
	return e.analyzer.Distance(a, b)
}

// ExtractEncoded decodes an encoded photo, honouring its EXIF orientation,
// and extracts its faces. Undecodable input yields no faces.
func (e *Extractor) ExtractEncoded(ctx context.Context, data []byte) []Face {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		log.Printf("extractor: decode photo: %v", err)
		return nil
	}
	return e.Extract(ctx, img, 1)
}

// Extract normalizes img by its EXIF orientation (1-8) and returns the
// accepted faces in detection order. Every failure is logged and yields an
// empty result; faces whose feature vector cannot be computed are dropped.
func (e *Extractor) Extract(ctx context.Context, img image.Image, orientation int) []Face {
	if img == nil {
		return nil
	}
	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	img = Orient(img, orientation)
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return nil
	}

	detections, err := e.analyzer.DetectFaces(ctx, img)
	if err != nil {
		log.Printf("extractor: detect faces: %v", err)
		return nil
	}

	accepted := facematch.FilterDetections(detections, width, height, e.opts.Quality)
	faces := make([]Face, 0, len(accepted))
	for _, d := range accepted {
		if ctx.Err() != nil {
			return nil
		}

		rect := d.BBox.PixelRect(width, height, e.opts.Origin, e.opts.CropPadding).Add(bounds.Min)
		if rect.Empty() {
			continue
		}
		crop := imaging.Crop(img, rect)

		vec, err := e.analyzer.FeatureVector(ctx, crop)
		if err != nil || len(vec) == 0 {
			log.Printf("extractor: feature vector: %v", err)
			continue
		}

		faces = append(faces, Face{
			Detection: d,
			Vector:    vec,
			Thumbnail: e.thumbnail(crop),
		})
	}
	return faces
}

func (e *Extractor) thumbnail(crop image.Image) []byte {
	if e.opts.ThumbnailSize <= 0 {
		return nil
	}
	data, err := Thumbnail(crop, e.opts.ThumbnailSize)
	if err != nil {
		log.Printf("extractor: thumbnail: %v", err)
		return nil
	}
	return data
}
