// Package handlers implements the read-only HTTP endpoints: health probes,
// version, and job/worker observation. Nothing here mutates the store.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"
)

// Checker is any dependency that can report its health.
type Checker interface {
	CheckHealth(ctx context.Context) error
}

// HealthResponse is the body of a healthy probe.
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthManager aggregates registered checkers into probe endpoints.
type HealthManager struct {
	version  string
	mu       sync.RWMutex
	checkers map[string]Checker
	started  time.Time
}

func NewHealthManager(version string) *HealthManager {
	return &HealthManager{
		version:  version,
		checkers: make(map[string]Checker),
		started:  time.Now().UTC(),
	}
}

// RegisterChecker adds a named dependency check.
func (m *HealthManager) RegisterChecker(name string, c Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[name] = c
}

func (m *HealthManager) runChecks(ctx context.Context) map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	checks := make(map[string]string, len(m.checkers))
	for name, c := range m.checkers {
		cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := c.CheckHealth(cctx)
		cancel()
		switch {
		case err == nil:
			checks[name] = "healthy"
		case errors.Is(err, context.DeadlineExceeded):
			checks[name] = "timeout"
		default:
			checks[name] = "unhealthy"
		}
	}
	return checks
}

func (m *HealthManager) determineOverallStatus(checks map[string]string) string {
	status := "healthy"
	for _, s := range checks {
		switch s {
		case "unhealthy":
			return "unhealthy"
		case "timeout":
			status = "degraded"
		}
	}
	return status
}

// HealthHandler is the aggregate probe: 200 when every check passes,
// 503 with per-check detail otherwise.
func (m *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	checks := m.runChecks(r.Context())
	status := m.determineOverallStatus(checks)

	if status == "unhealthy" {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error": map[string]any{
				"code":    "SERVICE_UNAVAILABLE",
				"message": "one or more health checks failed",
				"details": map[string]any{"checks": checks},
			},
		})
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    status,
		Version:   m.version,
		Timestamp: time.Now().UTC(),
		Checks:    checks,
	})
}

// LivenessHandler answers "is the process up" without touching deps.
func (m *HealthManager) LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Version:   m.version,
		Timestamp: time.Now().UTC(),
	})
}

// ReadinessHandler mirrors the aggregate probe.
func (m *HealthManager) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	m.HealthHandler(w, r)
}

// StartupHandler reports healthy once the process has finished booting.
func (m *HealthManager) StartupHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Version:   m.version,
		Timestamp: time.Now().UTC(),
	})
}

var globalHealthManager *HealthManager

// InitHealthManager sets the process-wide manager used by the server's
// default routes.
func InitHealthManager(version string) {
	globalHealthManager = NewHealthManager(version)
}

// GetHealthManager returns the process-wide manager, initializing a dev
// one when InitHealthManager was never called.
func GetHealthManager() *HealthManager {
	if globalHealthManager == nil {
		InitHealthManager("dev")
	}
	return globalHealthManager
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
