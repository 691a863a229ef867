package library

import (
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func writePNG(t *testing.T, p string, w, h int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(p)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, image.NewNRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
}

func newTestFS(t *testing.T, excludes ...string) *FS {
	t.Helper()
	root := t.TempDir()
	writePNG(t, filepath.Join(root, "b.png"), 40, 20)
	writePNG(t, filepath.Join(root, "a", "c.png"), 10, 10)
	writePNG(t, filepath.Join(root, "skip", "d.png"), 10, 10)
	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	s, err := NewFS(root, nil, excludes)
	if err != nil {
		t.Fatalf("NewFS() error: %v", err)
	}
	return s
}

func TestFS_FetchCorpus(t *testing.T) {
	tests := []struct {
		name     string
		excludes []string
		limit    int
		want     []string
	}{
		{name: "all images", want: []string{"a/c.png", "b.png", "skip/d.png"}},
		{name: "excluded dir", excludes: []string{"skip"}, want: []string{"a/c.png", "b.png"}},
		{name: "excluded glob", excludes: []string{"**/c.png"}, want: []string{"b.png", "skip/d.png"}},
		{name: "limit", limit: 1, want: []string{"a/c.png"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestFS(t, tt.excludes...)
			refs, err := s.FetchCorpus(context.Background(), Filter{Limit: tt.limit})
			if err != nil {
				t.Fatalf("FetchCorpus() error: %v", err)
			}
			if len(refs) != len(tt.want) {
				t.Fatalf("FetchCorpus() = %v, want %v", refs, tt.want)
			}
			for i := range refs {
				if refs[i].ID != tt.want[i] {
					t.Errorf("refs[%d] = %q, want %q", i, refs[i].ID, tt.want[i])
				}
				if refs[i].CreatedAt != nil {
					t.Errorf("refs[%d] has a date without EXIF", i)
				}
			}
		})
	}
}

func TestFS_FetchCorpusCancelled(t *testing.T) {
	s := newTestFS(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.FetchCorpus(ctx, Filter{}); !errors.Is(err, context.Canceled) {
		t.Errorf("FetchCorpus() error = %v, want context.Canceled", err)
	}
}

func TestFS_Lookup(t *testing.T) {
	s := newTestFS(t)

	tests := []struct {
		id      string
		wantErr bool
	}{
		{"b.png", false},
		{"a/c.png", false},
		{"missing.png", true},
		{"../b.png", true},
		{"a/../b.png", true},
		{"a", true},
		{"", true},
	}
	for _, tt := range tests {
		_, err := s.Lookup(context.Background(), tt.id)
		if (err != nil) != tt.wantErr {
			t.Errorf("Lookup(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			t.Errorf("Lookup(%q) error = %v, want ErrNotFound", tt.id, err)
		}
	}
}

func TestFS_Load(t *testing.T) {
	s := newTestFS(t)

	img, err := s.Load(context.Background(), ImageRef{ID: "b.png"}, 20)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if b := img.Image.Bounds(); b.Dx() != 20 || b.Dy() != 10 {
		t.Errorf("Load() size = %dx%d, want 20x10", b.Dx(), b.Dy())
	}
	if img.Orientation != 1 {
		t.Errorf("Orientation = %d, want 1", img.Orientation)
	}

	full, err := s.Load(context.Background(), ImageRef{ID: "b.png"}, 0)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if b := full.Image.Bounds(); b.Dx() != 40 {
		t.Errorf("Load() without max size = %d wide, want 40", b.Dx())
	}

	if _, err := s.Load(context.Background(), ImageRef{ID: "notes.txt"}, 0); err == nil {
		t.Error("Load() of a non-image should fail")
	}
}

func TestNewFS_Errors(t *testing.T) {
	if _, err := NewFS(filepath.Join(t.TempDir(), "missing"), nil, nil); err == nil {
		t.Error("NewFS() on a missing root should fail")
	}
	file := filepath.Join(t.TempDir(), "f")
	if err := os.WriteFile(file, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFS(file, nil, nil); err == nil {
		t.Error("NewFS() on a file should fail")
	}
}
