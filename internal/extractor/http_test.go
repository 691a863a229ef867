package extractor

import (
	"context"
	"encoding/json"
	"image"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kozaktomas/face-matcher/internal/facematch"
)

func TestHTTPAnalyzer_DetectFaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed/face" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		file.Close()
		if header.Header.Get("Content-Type") != "image/jpeg" {
			t.Errorf("part Content-Type = %q", header.Header.Get("Content-Type"))
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"faces_count": 2,
			"model":       "buffalo_l",
			"faces": []map[string]any{
				{"face_index": 0, "bbox": []float64{20, 10, 60, 50}, "det_score": 0.91, "embedding": []float32{1, 0}, "pose": []float64{5, -20, 1}},
				{"face_index": 1, "bbox": []float64{1, 2}, "det_score": 0.5},
			},
		})
	}))
	defer srv.Close()

	a := NewHTTPAnalyzer(srv.URL+"/", "", facematch.OriginBottomLeft)
	if a.Model() != defaultAnalyzerModel {
		t.Errorf("Model() = %q", a.Model())
	}

	dets, err := a.DetectFaces(context.Background(), image.NewRGBA(image.Rect(0, 0, 100, 100)))
	if err != nil {
		t.Fatalf("DetectFaces() error: %v", err)
	}
	if len(dets) != 1 {
		t.Fatalf("DetectFaces() returned %d detections, want 1", len(dets))
	}
	d := dets[0]
	// pixel box (20,10)-(60,50) in a 100x100 image, flipped to bottom-left
	want := [4]float64{0.2, 0.5, 0.4, 0.4}
	got := [4]float64{d.BBox.X, d.BBox.Y, d.BBox.W, d.BBox.H}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-9 {
			t.Errorf("bbox = %v, want %v", got, want)
			break
		}
	}
	if d.Confidence != 0.91 || d.Pose.Yaw != -20 || d.Pose.Pitch != 5 {
		t.Errorf("detection = %+v", d)
	}
}

// The server embeds whatever image it is sent; Extract must send it the
// padded face crop, not reuse the embedding from the full-image request.
func TestExtract_HTTPAnalyzerEmbedsCrop(t *testing.T) {
	var sizes []image.Point
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		img, _, err := image.Decode(file)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		size := img.Bounds().Size()
		sizes = append(sizes, size)

		embedding := []float32{0, 1}
		if size == (image.Point{X: 200, Y: 100}) {
			embedding = []float32{1, 0}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"faces": []map[string]any{
				{"bbox": []float64{50, 25, 90, 65}, "det_score": 0.9, "embedding": embedding},
			},
		})
	}))
	defer srv.Close()

	opts := DefaultOptions()
	opts.Timeout = 0
	opts.ThumbnailSize = 0
	ext := New(NewHTTPAnalyzer(srv.URL, "m", facematch.OriginBottomLeft), opts)

	faces := ext.Extract(context.Background(), image.NewRGBA(image.Rect(0, 0, 200, 100)), 1)
	if len(faces) != 1 {
		t.Fatalf("Extract() = %d faces, want 1", len(faces))
	}
	if v := faces[0].Vector; len(v) != 2 || v[1] != 1 {
		t.Errorf("vector = %v, want the crop embedding", v)
	}
	if len(sizes) != 2 {
		t.Fatalf("requests = %d, want a detection and a crop request", len(sizes))
	}
	// 40x40 box padded by 20% on every side is about 56x56
	if c := sizes[1]; c.X < 54 || c.X > 58 || c.Y < 54 || c.Y > 58 {
		t.Errorf("crop size = %v, want about 56x56", c)
	}
}

func TestHTTPAnalyzer_FeatureVector(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		status  int
		want    float32
		wantErr bool
	}{
		{
			name:   "most confident face",
			body:   `{"faces":[{"det_score":0.4,"embedding":[0.1]},{"det_score":0.8,"embedding":[0.9]}]}`,
			status: http.StatusOK,
			want:   0.9,
		},
		{name: "no face", body: `{"faces":[]}`, status: http.StatusOK, wantErr: true},
		{name: "server error", body: `broken`, status: http.StatusInternalServerError, wantErr: true},
		{name: "bad json", body: `{`, status: http.StatusOK, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			vec, err := NewHTTPAnalyzer(srv.URL, "m", facematch.OriginBottomLeft).FeatureVector(context.Background(), image.NewRGBA(image.Rect(0, 0, 10, 10)))
			if (err != nil) != tt.wantErr {
				t.Fatalf("FeatureVector() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && vec[0] != tt.want {
				t.Errorf("FeatureVector() = %v, want [%v]", vec, tt.want)
			}
		})
	}
}

func TestHTTPAnalyzer_Distance(t *testing.T) {
	a := NewHTTPAnalyzer("", "", facematch.OriginBottomLeft)
	if _, err := a.Distance([]float32{1}, []float32{1, 0}); err == nil {
		t.Error("Distance() with mismatched dims should fail")
	}
	d, err := a.Distance([]float32{1, 0}, []float32{0, 1})
	if err != nil {
		t.Fatalf("Distance() error: %v", err)
	}
	if math.Abs(d-math.Sqrt2) > 1e-6 {
		t.Errorf("Distance() = %v, want sqrt(2)", d)
	}
}
