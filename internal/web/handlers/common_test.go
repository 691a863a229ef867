package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kozaktomas/face-matcher/internal/database"
	"github.com/kozaktomas/face-matcher/internal/engine"
	"github.com/kozaktomas/face-matcher/internal/library"
	"github.com/kozaktomas/face-matcher/internal/search"
)

func TestRespondJSON(t *testing.T) {
	recorder := httptest.NewRecorder()
	respondJSON(recorder, http.StatusCreated, map[string]any{"count": 42})

	if recorder.Code != http.StatusCreated {
		t.Errorf("expected status %d, got %d", http.StatusCreated, recorder.Code)
	}
	if ct := recorder.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type 'application/json', got '%s'", ct)
	}
	var result map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if result["count"] != float64(42) {
		t.Errorf("expected count 42, got %v", result["count"])
	}
}

func TestRespondJSON_NilData(t *testing.T) {
	recorder := httptest.NewRecorder()
	respondJSON(recorder, http.StatusNoContent, nil)

	if recorder.Body.Len() != 0 {
		t.Errorf("expected empty body, got %q", recorder.Body.String())
	}
}

func TestRespondError(t *testing.T) {
	recorder := httptest.NewRecorder()
	respondError(recorder, http.StatusBadRequest, "something went wrong")

	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if result["error"] != "something went wrong" {
		t.Errorf("expected error 'something went wrong', got '%s'", result["error"])
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"in progress", fmt.Errorf("%w: p1", search.ErrAlreadyInProgress), http.StatusConflict},
		{"person exists", engine.ErrPersonExists, http.StatusConflict},
		{"person not found", fmt.Errorf("%w: p1", search.ErrPersonNotFound), http.StatusNotFound},
		{"face not found", engine.ErrFaceNotFound, http.StatusNotFound},
		{"image not found", fmt.Errorf("primary image: %w", library.ErrNotFound), http.StatusNotFound},
		{"no reference", fmt.Errorf("%w: no face", search.ErrNoReference), http.StatusUnprocessableEntity},
		{"store unavailable", fmt.Errorf("%w: down", search.ErrStoreUnavailable), http.StatusServiceUnavailable},
		{"closed", search.ErrClosed, http.StatusServiceUnavailable},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := statusFor(tc.err); got != tc.want {
				t.Errorf("expected status %d, got %d", tc.want, got)
			}
		})
	}
}

func TestToFaceResponse(t *testing.T) {
	q := 0.7
	rec := database.EmbeddingRecord{
		ID: "f1", ImageID: "img", FaceIndex: 2, OwnerID: "p1",
		BBox: []float64{0.1, 0.2, 0.3, 0.4}, QualityScore: &q, IsVerified: true,
		Thumbnail: []byte{1, 2, 3}, Yaw: -10, Pitch: 5, Roll: 2,
	}

	out := toFaceResponse(&rec)
	if out.Yaw != -10 || out.Roll != 2 || out.PoseDeviation != 15 {
		t.Errorf("pose = %v/%v/%v deviation %v, want -10/5/2 deviation 15", out.Yaw, out.Pitch, out.Roll, out.PoseDeviation)
	}
	if out.ID != "f1" || out.FaceIndex != 2 || !out.Verified || out.Quality == nil || *out.Quality != 0.7 {
		t.Errorf("unexpected response %+v", out)
	}
	if out.ImageDate != nil {
		t.Errorf("expected no image date, got %v", out.ImageDate)
	}

	rec.ImageDate = time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)
	if out := toFaceResponse(&rec); out.ImageDate == nil || !out.ImageDate.Equal(rec.ImageDate) {
		t.Errorf("expected image date %v, got %v", rec.ImageDate, out.ImageDate)
	}
}

func TestSanitizeForLog(t *testing.T) {
	if got := sanitizeForLog("a\nb\rc"); got != "abc" {
		t.Errorf("expected 'abc', got %q", got)
	}
}
