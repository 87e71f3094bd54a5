package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/quantfold/quantfold/pkg/jobstore"
)

// Result is what a handler hands back on success. Ref is an opaque pointer
// to wherever the handler wrote its artifacts (run link, report link); the
// orchestration core stores it verbatim and never dereferences it.
type Result struct {
	Ref string
}

// Handler executes one job type. It receives the admitted params and an
// execution context for heartbeats and cooperative abort/pause.
//
// Handlers must be checkpoint-aware: call jc.Checkpoint at bounded
// intervals and propagate ErrAbortRequested so an abort is recorded as
// ABORTED rather than FAILED. Any other returned error marks the job
// FAILED with the full detail appended to the audit log.
type Handler func(ctx context.Context, params map[string]any, jc *Context) (*Result, error)

// Registry maps job types to their handlers. Handlers are looked up at
// execution time and are otherwise opaque to the orchestration core.
type Registry struct {
	mu       sync.RWMutex
	handlers map[jobstore.JobType]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[jobstore.JobType]Handler)}
}

// Register binds a handler to a job type. Re-registering a type is an
// error; dispatch must stay unambiguous.
func (r *Registry) Register(jobType jobstore.JobType, h Handler) error {
	if jobType == "" {
		return fmt.Errorf("job type is required")
	}
	if h == nil {
		return fmt.Errorf("handler is nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[jobType]; exists {
		return fmt.Errorf("handler already registered for %s", jobType)
	}
	r.handlers[jobType] = h
	return nil
}

// Lookup resolves the handler for a job type.
func (r *Registry) Lookup(jobType jobstore.JobType) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}
