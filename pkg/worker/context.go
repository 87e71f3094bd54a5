package worker

import (
	"context"
	"errors"
	"time"

	"github.com/quantfold/quantfold/pkg/jobstore"
)

// ErrAbortRequested is returned by Checkpoint when the job's abort flag is
// set. Handlers propagate it so the worker records ABORTED instead of
// FAILED; it is cooperative cancellation, not a failure.
var ErrAbortRequested = errors.New("abort requested")

// Context is the execution context handed to a handler. It is scoped to
// one job and is the handler's only channel back into the store.
type Context struct {
	jobID     string
	store     *jobstore.Store
	pausePoll time.Duration
}

func newContext(jobID string, store *jobstore.Store, pausePoll time.Duration) *Context {
	if pausePoll <= 0 {
		pausePoll = time.Second
	}
	return &Context{jobID: jobID, store: store, pausePoll: pausePoll}
}

// JobID returns the id of the job this context is scoped to.
func (c *Context) JobID() string {
	return c.jobID
}

// Heartbeat records liveness plus coarse progress (0..1) and a free-form
// phase label. Long-running handlers call this between units of work so
// the supervisor never mistakes them for dead.
func (c *Context) Heartbeat(ctx context.Context, progress float64, phase string) error {
	return c.store.Heartbeat(ctx, c.jobID, progress, phase)
}

// IsAbortRequested reads the durable abort flag. Store read errors report
// as "not aborted": a transient store hiccup must not cancel real work,
// and the heartbeat path will surface a persistent outage.
func (c *Context) IsAbortRequested(ctx context.Context) bool {
	aborted, err := c.store.IsAbortRequested(ctx, c.jobID)
	if err != nil {
		return false
	}
	return aborted
}

// Checkpoint is the cooperative suspension point. While the pause flag is
// set it blocks, sleep-polling at the configured interval, and keeps
// re-checking the abort flag so a paused job remains abortable. It returns
// ErrAbortRequested when the abort flag is observed, or the context error
// on cancellation.
func (c *Context) Checkpoint(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.IsAbortRequested(ctx) {
			return ErrAbortRequested
		}

		paused, err := c.store.IsPauseRequested(ctx, c.jobID)
		if err != nil || !paused {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.pausePoll):
		}
	}
}
