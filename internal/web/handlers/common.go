package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kozaktomas/face-matcher/internal/database"
	"github.com/kozaktomas/face-matcher/internal/engine"
	"github.com/kozaktomas/face-matcher/internal/library"
	"github.com/kozaktomas/face-matcher/internal/search"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondEngineError maps engine and search errors to HTTP status codes.
func respondEngineError(w http.ResponseWriter, err error) {
	respondError(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, search.ErrAlreadyInProgress), errors.Is(err, engine.ErrPersonExists):
		return http.StatusConflict
	case errors.Is(err, search.ErrPersonNotFound), errors.Is(err, engine.ErrFaceNotFound), errors.Is(err, library.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, search.ErrNoReference):
		return http.StatusUnprocessableEntity
	case errors.Is(err, search.ErrStoreUnavailable), errors.Is(err, search.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// queryFloat returns the named query parameter, or 0 when absent or invalid.
func queryFloat(r *http.Request, name string) float64 {
	f, err := strconv.ParseFloat(r.URL.Query().Get(name), 64)
	if err != nil {
		return 0
	}
	return f
}

func queryInt(r *http.Request, name string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return 0
	}
	return n
}

// FaceResponse is the JSON view of a stored face. Thumbnails are served
// by their own endpoint.
type FaceResponse struct {
	ID             string     `json:"id"`
	ImageID        string     `json:"image_id"`
	FaceIndex      int        `json:"face_index"`
	OwnerID        string     `json:"owner_id,omitempty"`
	BBox           []float64  `json:"bbox"`
	Confidence     float64    `json:"confidence"`
	Quality        *float64   `json:"quality,omitempty"`
	Yaw            float64    `json:"yaw"`
	Pitch          float64    `json:"pitch"`
	Roll           float64    `json:"roll"`
	PoseDeviation  float64    `json:"pose_deviation"`
	ImageDate      *time.Time `json:"image_date,omitempty"`
	Verified       bool       `json:"verified"`
	Representative bool       `json:"representative"`
	Model          string     `json:"model"`
	Similarity     float64    `json:"similarity,omitempty"`
}

func toFaceResponse(r *database.EmbeddingRecord) FaceResponse {
	pose := r.Pose()
	out := FaceResponse{
		ID:             r.ID,
		ImageID:        r.ImageID,
		FaceIndex:      r.FaceIndex,
		OwnerID:        r.OwnerID,
		BBox:           r.BBox,
		Confidence:     r.Confidence,
		Quality:        r.QualityScore,
		Yaw:            pose.Yaw,
		Pitch:          pose.Pitch,
		Roll:           pose.Roll,
		PoseDeviation:  pose.Deviation(),
		Verified:       r.IsVerified,
		Representative: r.IsRepresentative,
		Model:          r.Model,
	}
	if !r.ImageDate.IsZero() {
		d := r.ImageDate
		out.ImageDate = &d
	}
	return out
}

func toFaceResponses(records []database.EmbeddingRecord) []FaceResponse {
	out := make([]FaceResponse, len(records))
	for i := range records {
		out[i] = toFaceResponse(&records[i])
	}
	return out
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
