// Package librarytest provides an in-memory library.Source.
package librarytest

import (
	"context"
	"errors"
	"fmt"
	"image"
	"slices"
	"sync"
	"time"

	"github.com/kozaktomas/face-matcher/internal/library"
)

// Source holds images in memory.
type Source struct {
	mu     sync.Mutex
	refs   []library.ImageRef
	images map[string]library.Image

	// FetchError fails FetchCorpus.
	FetchError error
	// LoadError fails Load for the listed ids.
	LoadError map[string]error
}

func New() *Source {
	return &Source{images: make(map[string]library.Image)}
}

// Add registers an image. A zero date means undated.
func (s *Source) Add(id string, date time.Time, img image.Image) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref := library.ImageRef{ID: id}
	if !date.IsZero() {
		ref.CreatedAt = &date
	}
	s.refs = append(s.refs, ref)
	s.images[id] = library.Image{Image: img, Orientation: 1}
}

// Date is a helper for midnight UTC dates.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func (s *Source) FetchCorpus(ctx context.Context, f library.Filter) ([]library.ImageRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.FetchError != nil {
		return nil, s.FetchError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	refs := slices.Clone(s.refs)
	if f.Limit > 0 && len(refs) > f.Limit {
		refs = refs[:f.Limit]
	}
	return refs, nil
}

func (s *Source) Lookup(_ context.Context, id string) (library.ImageRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ref := range s.refs {
		if ref.ID == id {
			return ref, nil
		}
	}
	return library.ImageRef{}, fmt.Errorf("%w: %s", library.ErrNotFound, id)
}

func (s *Source) Load(ctx context.Context, ref library.ImageRef, _ int) (*library.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.LoadError[ref.ID]; err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	img, ok := s.images[ref.ID]
	if !ok {
		return nil, errors.New("no pixels for " + ref.ID)
	}
	return &img, nil
}
