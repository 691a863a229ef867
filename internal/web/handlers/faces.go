package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-matcher/internal/engine"
)

// FacesHandler handles stored face and image analysis endpoints.
type FacesHandler struct {
	engine *engine.Engine
}

func NewFacesHandler(eng *engine.Engine) *FacesHandler {
	return &FacesHandler{engine: eng}
}

// ImageFaces returns the stored faces of an image in reading order.
func (h *FacesHandler) ImageFaces(w http.ResponseWriter, r *http.Request) {
	imageID := chi.URLParam(r, "id")
	analyzed, err := h.engine.IsAnalyzed(r.Context(), imageID)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	records, err := h.engine.StoredFacesForImage(r.Context(), imageID)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"image_id": imageID,
		"analyzed": analyzed,
		"faces":    toFaceResponses(records),
	})
}

// Analyze extracts and stores the faces of an image unless already done.
func (h *FacesHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	imageID := chi.URLParam(r, "id")
	records, err := h.engine.AnalyzeImage(r.Context(), imageID)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"image_id": imageID,
		"faces":    toFaceResponses(records),
	})
}

func (h *FacesHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.engine.Store().Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	if rec == nil {
		respondError(w, http.StatusNotFound, "face not found")
		return
	}
	respondJSON(w, http.StatusOK, toFaceResponse(rec))
}

func (h *FacesHandler) Thumbnail(w http.ResponseWriter, r *http.Request) {
	rec, err := h.engine.Store().Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	if rec == nil || len(rec.Thumbnail) == 0 {
		respondError(w, http.StatusNotFound, "thumbnail not found")
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.Write(rec.Thumbnail)
}

// Similar ranks stored faces by similarity. Optional query parameters
// "threshold" and "limit" override the exploratory defaults.
func (h *FacesHandler) Similar(w http.ResponseWriter, r *http.Request) {
	similar, err := h.engine.SimilarFaces(r.Context(), chi.URLParam(r, "id"), queryFloat(r, "threshold"), queryInt(r, "limit"))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	out := make([]FaceResponse, len(similar))
	for i := range similar {
		out[i] = toFaceResponse(&similar[i].Record)
		out[i].Similarity = similar[i].Similarity
	}
	respondJSON(w, http.StatusOK, out)
}

type assignRequest struct {
	PersonID string `json:"person_id"`
}

// Assign verifies the face as belonging to a person.
func (h *FacesHandler) Assign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PersonID == "" {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if err := h.engine.VerifyFace(r.Context(), chi.URLParam(r, "id"), req.PersonID); err != nil {
		respondEngineError(w, err)
		return
	}
	h.Get(w, r)
}

func (h *FacesHandler) Unassign(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.UnassignFace(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondEngineError(w, err)
		return
	}
	h.Get(w, r)
}

// DeleteAll removes every stored face and cluster.
func (h *FacesHandler) DeleteAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.DeleteAllFaceData(r.Context())
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"deleted": n})
}
