package photoprism

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/disintegration/imaging"

	"github.com/kozaktomas/face-matcher/internal/library"
)

const pageSize = 1000

// Source serves a PhotoPrism library. Image ids are photo UIDs.
type Source struct {
	pp *PhotoPrism

	mu     sync.Mutex
	hashes map[string]string // photo UID -> thumbnail hash
}

func NewSource(pp *PhotoPrism) *Source {
	return &Source{pp: pp, hashes: make(map[string]string)}
}

// FetchCorpus pages through all photos, newest first. Videos are skipped.
func (s *Source) FetchCorpus(ctx context.Context, f library.Filter) ([]library.ImageRef, error) {
	var refs []library.ImageRef
	for offset := 0; ; offset += pageSize {
		endpoint := fmt.Sprintf("photos?count=%d&offset=%d&merged=true&order=newest", pageSize, offset)
		page, err := doGetJSON[[]Photo](ctx, s.pp, endpoint)
		if err != nil {
			return nil, fmt.Errorf("list photos: %w", err)
		}

		for _, p := range *page {
			if p.Type == "video" {
				continue
			}
			s.remember(p)
			refs = append(refs, toRef(p))
			if f.Limit > 0 && len(refs) >= f.Limit {
				return refs, nil
			}
		}
		if len(*page) < pageSize {
			return refs, nil
		}
	}
}

func (s *Source) Lookup(ctx context.Context, id string) (library.ImageRef, error) {
	p, err := s.photo(ctx, id)
	if err != nil {
		return library.ImageRef{}, err
	}
	return toRef(*p), nil
}

// Load downloads the smallest thumbnail covering maxSize. PhotoPrism renders
// thumbnails upright, so the orientation is always 1.
func (s *Source) Load(ctx context.Context, ref library.ImageRef, maxSize int) (*library.Image, error) {
	s.mu.Lock()
	hash := s.hashes[ref.ID]
	s.mu.Unlock()
	if hash == "" {
		p, err := s.photo(ctx, ref.ID)
		if err != nil {
			return nil, err
		}
		hash = p.Hash
	}
	if hash == "" {
		return nil, fmt.Errorf("photo %s has no file hash", ref.ID)
	}

	url := fmt.Sprintf("%s/t/%s/%s/%s", s.pp.Url, hash, s.pp.downloadToken, thumbSize(maxSize))
	data, err := s.pp.get(ctx, url, false)
	if err != nil {
		return nil, fmt.Errorf("download thumbnail of %s: %w", ref.ID, err)
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode thumbnail of %s: %w", ref.ID, err)
	}
	if b := img.Bounds(); maxSize > 0 && (b.Dx() > maxSize || b.Dy() > maxSize) {
		img = imaging.Fit(img, maxSize, maxSize, imaging.Lanczos)
	}
	return &library.Image{Image: img, Orientation: 1}, nil
}

func (s *Source) photo(ctx context.Context, uid string) (*Photo, error) {
	p, err := doGetJSON[Photo](ctx, s.pp, "photos/"+uid)
	if errors.Is(err, errNotFound) {
		return nil, fmt.Errorf("%w: %s", library.ErrNotFound, uid)
	}
	if err != nil {
		return nil, fmt.Errorf("get photo %s: %w", uid, err)
	}
	s.remember(*p)
	return p, nil
}

func (s *Source) remember(p Photo) {
	if p.Hash == "" {
		return
	}
	s.mu.Lock()
	s.hashes[p.UID] = p.Hash
	s.mu.Unlock()
}

func toRef(p Photo) library.ImageRef {
	ref := library.ImageRef{ID: p.UID}
	if t, err := time.Parse(time.RFC3339, p.TakenAt); err == nil {
		ref.CreatedAt = &t
	}
	return ref
}
