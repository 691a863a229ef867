package library

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
)

// DefaultInclude matches the image formats the decoder understands.
var DefaultInclude = []string{"**/*.{jpg,jpeg,JPG,JPEG,png,PNG}"}

// FS serves images below a root directory. Image ids are slash separated
// paths relative to the root.
type FS struct {
	root     string
	includes []string
	excludes []string
}

func NewFS(root string, includes, excludes []string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve library root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("open library root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("library root %s is not a directory", abs)
	}
	if len(includes) == 0 {
		includes = DefaultInclude
	}
	return &FS{root: abs, includes: includes, excludes: excludes}, nil
}

// FetchCorpus walks the root and returns matching images sorted by id.
func (s *FS) FetchCorpus(ctx context.Context, f Filter) ([]ImageRef, error) {
	var ids []string
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel != "." && (s.match(s.excludes, rel) || s.match(s.excludes, rel+"/")) {
				return filepath.SkipDir
			}
			return nil
		}
		if s.match(s.includes, rel) && !s.match(s.excludes, rel) {
			ids = append(ids, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk library: %w", err)
	}

	slices.Sort(ids)
	if f.Limit > 0 && len(ids) > f.Limit {
		ids = ids[:f.Limit]
	}

	refs := make([]ImageRef, 0, len(ids))
	for _, id := range ids {
		refs = append(refs, ImageRef{ID: id, CreatedAt: s.takenAt(id)})
	}
	return refs, nil
}

func (s *FS) Lookup(_ context.Context, id string) (ImageRef, error) {
	p, err := s.resolve(id)
	if err != nil {
		return ImageRef{}, err
	}
	info, err := os.Stat(p)
	if err != nil || info.IsDir() {
		return ImageRef{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return ImageRef{ID: id, CreatedAt: s.takenAt(id)}, nil
}

func (s *FS) Load(ctx context.Context, ref ImageRef, maxSize int) (*Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.resolve(ref.ID)
	if err != nil {
		return nil, err
	}

	img, err := imaging.Open(p)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", ref.ID, err)
	}
	if maxSize > 0 {
		b := img.Bounds()
		if b.Dx() > maxSize || b.Dy() > maxSize {
			img = imaging.Fit(img, maxSize, maxSize, imaging.Lanczos)
		}
	}

	orientation := 1
	if x := s.readExif(p); x != nil {
		if tag, err := x.Get(exif.Orientation); err == nil {
			if v, err := tag.Int(0); err == nil && v >= 1 && v <= 8 {
				orientation = v
			}
		}
	}
	return &Image{Image: img, Orientation: orientation}, nil
}

// resolve maps an id to a path, refusing anything that escapes the root.
func (s *FS) resolve(id string) (string, error) {
	clean := path.Clean("/" + id)[1:]
	if clean == "" || clean != id || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

func (s *FS) takenAt(id string) *time.Time {
	p, err := s.resolve(id)
	if err != nil {
		return nil
	}
	x := s.readExif(p)
	if x == nil {
		return nil
	}
	t, err := x.DateTime()
	if err != nil {
		return nil
	}
	return &t
}

func (s *FS) readExif(p string) *exif.Exif {
	file, err := os.Open(p)
	if err != nil {
		log.Printf("library: open %s: %v", p, err)
		return nil
	}
	defer file.Close()

	x, err := exif.Decode(file)
	if err != nil {
		// most PNGs and stripped JPEGs carry no EXIF
		return nil
	}
	return x
}

func (s *FS) match(patterns []string, p string) bool {
	for _, pattern := range patterns {
		if ok, err := doublestar.Match(pattern, p); err == nil && ok {
			return true
		}
	}
	return false
}
