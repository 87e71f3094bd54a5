package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/quantfold/quantfold/internal/errors"
	"github.com/quantfold/quantfold/pkg/jobstore"
)

// JobsHandler serves read-only views of the job store.
type JobsHandler struct {
	store *jobstore.Store
}

func NewJobsHandler(store *jobstore.Store) *JobsHandler {
	return &JobsHandler{store: store}
}

// List serves GET /v1/jobs. Query params: state (repeatable), type,
// type_glob, batch_id, limit.
func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := jobstore.Filter{
		JobType:  jobstore.JobType(strings.TrimSpace(q.Get("type"))),
		TypeGlob: strings.TrimSpace(q.Get("type_glob")),
		BatchID:  strings.TrimSpace(q.Get("batch_id")),
	}
	for _, s := range q["state"] {
		state := jobstore.JobState(strings.ToUpper(strings.TrimSpace(s)))
		if !state.Valid() {
			respondWithError(w, r, apperrors.InvalidArgument("unknown state: "+s))
			return
		}
		filter.States = append(filter.States, state)
	}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondWithError(w, r, apperrors.InvalidArgument("limit must be a non-negative integer"))
			return
		}
		filter.Limit = n
	}

	jobs, err := h.store.List(r.Context(), filter)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// Get serves GET /v1/jobs/{job_id}.
func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(chi.URLParam(r, "job_id"))
	job, err := h.store.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			respondWithError(w, r, apperrors.NotFound("job not found: "+jobID))
			return
		}
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// GetBatch serves GET /v1/batches/{batch_id}: the batch row plus its
// member jobs.
func (h *JobsHandler) GetBatch(w http.ResponseWriter, r *http.Request) {
	batchID := strings.TrimSpace(chi.URLParam(r, "batch_id"))
	b, err := h.store.GetBatch(r.Context(), batchID)
	if err != nil {
		if errors.Is(err, jobstore.ErrBatchNotFound) {
			respondWithError(w, r, apperrors.NotFound("batch not found: "+batchID))
			return
		}
		respondWithError(w, r, err)
		return
	}

	jobs, err := h.store.List(r.Context(), jobstore.Filter{BatchID: batchID})
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"batch": b,
		"jobs":  jobs,
	})
}
