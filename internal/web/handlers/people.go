package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-matcher/internal/constants"
	"github.com/kozaktomas/face-matcher/internal/database"
	"github.com/kozaktomas/face-matcher/internal/engine"
)

// PeopleHandler handles contact endpoints.
type PeopleHandler struct {
	engine *engine.Engine
}

func NewPeopleHandler(eng *engine.Engine) *PeopleHandler {
	return &PeopleHandler{engine: eng}
}

// PersonResponse is the JSON view of a person.
type PersonResponse struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	PrimaryImageID   string     `json:"primary_image_id,omitempty"`
	PrimaryImageDate *time.Time `json:"primary_image_date,omitempty"`
	ManualPhoto      bool       `json:"manual_photo"`
	Searching        bool       `json:"searching"`
	CreatedAt        time.Time  `json:"created_at"`
}

func (h *PeopleHandler) toResponse(p *database.Person) PersonResponse {
	out := PersonResponse{
		ID:             p.ID,
		Name:           p.Name,
		PrimaryImageID: p.PrimaryImageID,
		ManualPhoto:    len(p.PrimaryPhoto) > 0,
		Searching:      h.engine.SearchInProgress(p.ID),
		CreatedAt:      p.CreatedAt,
	}
	if !p.PrimaryImageDate.IsZero() {
		d := p.PrimaryImageDate
		out.PrimaryImageDate = &d
	}
	return out
}

func (h *PeopleHandler) List(w http.ResponseWriter, r *http.Request) {
	people, err := h.engine.ListPeople(r.Context())
	if err != nil {
		respondEngineError(w, err)
		return
	}
	out := make([]PersonResponse, len(people))
	for i := range people {
		out[i] = h.toResponse(&people[i])
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *PeopleHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.engine.GetPerson(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, h.toResponse(p))
}

type createPersonRequest struct {
	Name           string `json:"name"`
	PrimaryImageID string `json:"primary_image_id"`
}

// Create accepts either JSON or a multipart form whose "photo" part is a
// manual primary photo.
func (h *PeopleHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in engine.NewPerson
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		var err error
		if in, err = readPersonForm(w, r); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	} else {
		var req createPersonRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, errInvalidRequestBody)
			return
		}
		in = engine.NewPerson{Name: req.Name, PrimaryImageID: req.PrimaryImageID}
	}
	if strings.TrimSpace(in.Name) == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}

	p, err := h.engine.AddPerson(r.Context(), in)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	log.Printf("Added person %s (%s)", sanitizeForLog(p.Name), p.ID)
	respondJSON(w, http.StatusCreated, h.toResponse(p))
}

func readPersonForm(w http.ResponseWriter, r *http.Request) (engine.NewPerson, error) {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxPhotoUploadSize)
	if err := r.ParseMultipartForm(constants.MaxPhotoUploadSize); err != nil {
		return engine.NewPerson{}, fmt.Errorf("invalid form: %w", err)
	}
	in := engine.NewPerson{
		Name:           r.FormValue("name"),
		PrimaryImageID: r.FormValue("primary_image_id"),
	}
	file, _, err := r.FormFile("photo")
	if err == http.ErrMissingFile {
		return in, nil
	}
	if err != nil {
		return in, fmt.Errorf("invalid photo: %w", err)
	}
	defer file.Close()
	if in.PrimaryPhoto, err = io.ReadAll(file); err != nil {
		return in, fmt.Errorf("read photo: %w", err)
	}
	return in, nil
}

func (h *PeopleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DeletePerson(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RefreshCluster recomputes the person's centroid.
func (h *PeopleHandler) RefreshCluster(w http.ResponseWriter, r *http.Request) {
	cluster, err := h.engine.RefreshCluster(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	if cluster == nil {
		respondJSON(w, http.StatusOK, map[string]any{"count": 0})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"count":      cluster.Count,
		"updated_at": cluster.UpdatedAt,
	})
}

// Faces lists the faces attributed to the person.
func (h *PeopleHandler) Faces(w http.ResponseWriter, r *http.Request) {
	p, err := h.engine.GetPerson(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	verifiedOnly := r.URL.Query().Get("verified") == "true"
	records, err := database.FetchByOwner(r.Context(), h.engine.Store(), p.ID, verifiedOnly)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toFaceResponses(records))
}
