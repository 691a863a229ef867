package photoprism

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/kozaktomas/face-matcher/internal/library"
)

const sessionJSON = `{"id":"sess","access_token":"tok","config":{"downloadToken":"dl","previewToken":"pv"},"user":{"UID":"u1"}}`

func setupMockServer(t *testing.T, photos []Photo) *httptest.Server {
	t.Helper()

	var thumb bytes.Buffer
	if err := png.Encode(&thumb, image.NewNRGBA(image.Rect(0, 0, 800, 400))); err != nil {
		t.Fatal(err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		var creds map[string]string
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil || creds["password"] != "secret" {
			http.Error(w, `{"error":"invalid credentials"}`, http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(sessionJSON))
	})
	mux.HandleFunc("DELETE /api/v1/session", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("GET /api/v1/photos", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		count, _ := strconv.Atoi(r.URL.Query().Get("count"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		end := min(offset+count, len(photos))
		page := []Photo{}
		if offset < len(photos) {
			page = photos[offset:end]
		}
		json.NewEncoder(w).Encode(page)
	})
	mux.HandleFunc("GET /api/v1/photos/{uid}", func(w http.ResponseWriter, r *http.Request) {
		for _, p := range photos {
			if p.UID == r.PathValue("uid") {
				json.NewEncoder(w).Encode(p)
				return
			}
		}
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
	})
	mux.HandleFunc("GET /api/v1/t/{hash}/{token}/{size}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("token") != "dl" {
			http.Error(w, "bad token", http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(thumb.Bytes())
	})

	return httptest.NewServer(mux)
}

func testPhotos(n int) []Photo {
	photos := make([]Photo, n)
	for i := range photos {
		photos[i] = Photo{
			UID:     fmt.Sprintf("p%04d", i),
			Type:    "image",
			TakenAt: "2015-01-02T10:00:00Z",
			Hash:    fmt.Sprintf("h%04d", i),
		}
	}
	return photos
}

func TestAuth(t *testing.T) {
	server := setupMockServer(t, nil)
	defer server.Close()

	pp, err := NewPhotoPrism(context.Background(), server.URL, "admin", "secret")
	if err != nil {
		t.Fatalf("NewPhotoPrism failed: %v", err)
	}
	if pp.token != "tok" || pp.downloadToken != "dl" {
		t.Errorf("tokens = %q, %q", pp.token, pp.downloadToken)
	}

	if err := pp.Logout(context.Background()); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if pp.token != "" {
		t.Error("Logout should clear the token")
	}

	if _, err := NewPhotoPrism(context.Background(), server.URL, "admin", "wrong"); err == nil {
		t.Error("NewPhotoPrism with a bad password should fail")
	}
}

func TestResolveURL(t *testing.T) {
	pp, err := NewPhotoPrismFromToken("http://example.com/", "t", "d")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		segments []string
		want     string
	}{
		{nil, "http://example.com/api/v1"},
		{[]string{"photos", "abc"}, "http://example.com/api/v1/photos/abc"},
		{[]string{"photos?count=10&offset=0"}, "http://example.com/api/v1/photos?count=10&offset=0"},
	}
	for _, tt := range tests {
		if got := pp.resolveURL(tt.segments...); got != tt.want {
			t.Errorf("resolveURL(%v) = %q, want %q", tt.segments, got, tt.want)
		}
	}
}

func TestSource_FetchCorpus(t *testing.T) {
	photos := testPhotos(pageSize + 5)
	photos[3].Type = "video"
	photos[4].TakenAt = ""

	server := setupMockServer(t, photos)
	defer server.Close()

	pp, err := NewPhotoPrismFromToken(server.URL, "tok", "dl")
	if err != nil {
		t.Fatal(err)
	}
	src := NewSource(pp)

	refs, err := src.FetchCorpus(context.Background(), library.Filter{})
	if err != nil {
		t.Fatalf("FetchCorpus() error: %v", err)
	}
	if len(refs) != pageSize+4 {
		t.Errorf("FetchCorpus() returned %d refs, want %d", len(refs), pageSize+4)
	}
	if refs[0].CreatedAt == nil || refs[0].CreatedAt.Year() != 2015 {
		t.Errorf("refs[0].CreatedAt = %v", refs[0].CreatedAt)
	}
	if refs[3].ID != "p0004" || refs[3].CreatedAt != nil {
		t.Errorf("refs[3] = %+v, want undated p0004", refs[3])
	}

	limited, err := src.FetchCorpus(context.Background(), library.Filter{Limit: 2})
	if err != nil {
		t.Fatalf("FetchCorpus() error: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("FetchCorpus(limit 2) returned %d refs", len(limited))
	}
}

func TestSource_LookupAndLoad(t *testing.T) {
	server := setupMockServer(t, testPhotos(3))
	defer server.Close()

	pp, err := NewPhotoPrismFromToken(server.URL, "tok", "dl")
	if err != nil {
		t.Fatal(err)
	}
	src := NewSource(pp)

	ref, err := src.Lookup(context.Background(), "p0001")
	if err != nil {
		t.Fatalf("Lookup() error: %v", err)
	}
	if ref.ID != "p0001" || ref.CreatedAt == nil {
		t.Errorf("Lookup() = %+v", ref)
	}

	if _, err := src.Lookup(context.Background(), "missing"); !errors.Is(err, library.ErrNotFound) {
		t.Errorf("Lookup(missing) error = %v, want ErrNotFound", err)
	}

	img, err := src.Load(context.Background(), library.ImageRef{ID: "p0002"}, 400)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if b := img.Image.Bounds(); b.Dx() != 400 || b.Dy() != 200 {
		t.Errorf("Load() size = %dx%d, want 400x200", b.Dx(), b.Dy())
	}
}

func TestThumbSize(t *testing.T) {
	tests := []struct {
		max  int
		want string
	}{
		{0, "fit_7680"},
		{500, "fit_720"},
		{1920, "fit_1920"},
		{1921, "fit_2048"},
		{10000, "fit_7680"},
	}
	for _, tt := range tests {
		if got := thumbSize(tt.max); got != tt.want {
			t.Errorf("thumbSize(%d) = %q, want %q", tt.max, got, tt.want)
		}
	}
}
