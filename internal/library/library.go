// Package library defines the image source the search scans and a
// filesystem implementation of it.
package library

import (
	"context"
	"errors"
	"image"
	"time"
)

// ErrNotFound is returned by Lookup for an unknown image id.
var ErrNotFound = errors.New("image not found")

// ImageRef identifies one image of the corpus.
type ImageRef struct {
	ID        string
	CreatedAt *time.Time // capture date, nil when unknown
}

// Image is a decoded image together with its EXIF orientation. Pixels are
// not rotated; consumers apply Orientation themselves.
type Image struct {
	Image       image.Image
	Orientation int
}

// Filter narrows a corpus fetch.
type Filter struct {
	Limit int // 0 means no limit
}

// Source is a photo collection.
type Source interface {
	// FetchCorpus lists the images of the collection.
	FetchCorpus(ctx context.Context, f Filter) ([]ImageRef, error)
	// Lookup resolves a single image id.
	Lookup(ctx context.Context, id string) (ImageRef, error)
	// Load decodes an image scaled to fit within maxSize (0 keeps the full size).
	Load(ctx context.Context, ref ImageRef, maxSize int) (*Image, error)
}
