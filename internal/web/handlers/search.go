package handlers

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-matcher/internal/engine"
)

// SearchHandler starts person searches and reports their progress.
type SearchHandler struct {
	engine *engine.Engine
	jobs   *JobManager
}

func NewSearchHandler(eng *engine.Engine, jobs *JobManager) *SearchHandler {
	return &SearchHandler{engine: eng, jobs: jobs}
}

// Start admits a search for the person and runs it as a job. A search
// already running for the person is reported as 409. With ?wait=true the
// request blocks until the job returned its result and errors map to
// status codes; a client that disconnects cancels the job.
func (h *SearchHandler) Start(w http.ResponseWriter, r *http.Request) {
	personID := chi.URLParam(r, "id")
	if _, err := h.engine.GetPerson(r.Context(), personID); err != nil {
		respondEngineError(w, err)
		return
	}
	s, err := h.engine.BeginSearch(personID)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	job := h.jobs.Start(personID, s)
	log.Printf("Started search %s for person %s", job.id, sanitizeForLog(personID))
	if r.URL.Query().Get("wait") != "true" {
		respondJSON(w, http.StatusAccepted, job.Snapshot())
		return
	}

	select {
	case <-job.Finished():
	case <-r.Context().Done():
		job.Cancel()
		return
	}
	matched, err := job.Result()
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"job_id": job.id, "matched": matched})
}

func (h *SearchHandler) List(w http.ResponseWriter, r *http.Request) {
	jobs := h.jobs.ListJobs()
	out := make([]JobSnapshot, len(jobs))
	for i, job := range jobs {
		out[i] = job.Snapshot()
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *SearchHandler) Status(w http.ResponseWriter, r *http.Request) {
	job := h.jobs.GetJob(chi.URLParam(r, "jobId"))
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	respondJSON(w, http.StatusOK, job.Snapshot())
}

// Events streams job progress as server-sent events.
func (h *SearchHandler) Events(w http.ResponseWriter, r *http.Request) {
	streamSSEEvents(w, r, h.jobs)
}

func (h *SearchHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	job := h.jobs.GetJob(chi.URLParam(r, "jobId"))
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	job.Cancel()
	respondJSON(w, http.StatusAccepted, job.Snapshot())
}
