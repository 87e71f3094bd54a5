package handlers

import (
	"net/http"

	"github.com/quantfold/quantfold/pkg/supervisor"
)

// WorkersHandler serves the on-disk liveness records of supervisor and
// worker processes.
type WorkersHandler struct {
	livenessRoot string
}

func NewWorkersHandler(livenessRoot string) *WorkersHandler {
	return &WorkersHandler{livenessRoot: livenessRoot}
}

// List serves GET /v1/workers.
func (h *WorkersHandler) List(w http.ResponseWriter, r *http.Request) {
	statuses, err := supervisor.ReadStatuses(h.livenessRoot)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"workers": statuses,
		"count":   len(statuses),
	})
}
