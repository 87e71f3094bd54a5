// Package worker executes jobs claimed from the job store. A worker runs
// one job fully before requesting the next; the handler boundary is the
// only place domain logic (backtest numerics, portfolio math, feature
// compilation) is invoked, and it is opaque to this package.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quantfold/quantfold/pkg/jobstore"
)

// Config configures worker behavior. Intervals are deployment tuning, not
// invariants; every one of them comes from configuration.
type Config struct {
	// ID identifies this worker in claim stamps. Defaults to host-uuid.
	ID string

	// PollInterval is how often an idle worker polls for a claimable job.
	// Default: 1s
	PollInterval time.Duration

	// PausePollInterval is how often a paused handler re-checks the
	// pause/abort flags at a checkpoint.
	// Default: 1s
	PausePollInterval time.Duration

	// HeartbeatInterval is the background liveness heartbeat period while
	// a job runs. Must be well under the supervisor's liveness timeout.
	// Default: 30s
	HeartbeatInterval time.Duration

	// ErrorMaxLen caps the failure message stored on the job row; full
	// detail always goes to the audit log.
	// Default: 512
	ErrorMaxLen int
}

// DefaultConfig returns the default worker configuration.
func DefaultConfig() Config {
	return Config{
		PollInterval:      time.Second,
		PausePollInterval: time.Second,
		HeartbeatInterval: 30 * time.Second,
		ErrorMaxLen:       512,
	}
}

// Worker pulls jobs from the store and drives them to a terminal state.
// Safe for use by a single goroutine; run several Workers for parallelism.
type Worker struct {
	store    *jobstore.Store
	audit    *jobstore.AuditLog
	registry *Registry
	logger   *zap.Logger
	cfg      Config
	pid      int
}

// New creates a worker. A nil logger disables logging.
func New(store *jobstore.Store, audit *jobstore.AuditLog, registry *Registry, logger *zap.Logger, cfg Config) *Worker {
	def := DefaultConfig()
	if cfg.ID == "" {
		host, _ := os.Hostname()
		cfg.ID = fmt.Sprintf("%s-%s", host, uuid.New().String()[:8])
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.PausePollInterval <= 0 {
		cfg.PausePollInterval = def.PausePollInterval
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.ErrorMaxLen <= 0 {
		cfg.ErrorMaxLen = def.ErrorMaxLen
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Worker{
		store:    store,
		audit:    audit,
		registry: registry,
		logger:   logger,
		cfg:      cfg,
		pid:      os.Getpid(),
	}
}

// ID returns the worker's claim identity.
func (w *Worker) ID() string {
	return w.cfg.ID
}

// Run is the poll loop: claim the oldest eligible job, execute it, repeat.
// A handler failure never crashes the loop; it is recorded and the loop
// moves on to the next job.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker starting",
		zap.String("worker_id", w.cfg.ID),
		zap.Int("pid", w.pid))

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopping", zap.String("worker_id", w.cfg.ID))
			return ctx.Err()
		case <-ticker.C:
			job, err := w.store.ClaimNextQueued(ctx, w.cfg.ID, w.pid)
			if err != nil {
				w.logger.Error("claim failed", zap.Error(err))
				continue
			}
			if job == nil {
				continue
			}
			w.execute(ctx, job)
		}
	}
}

// RunOne drives a single job by id to a terminal state.
//
// Sequence: fetch → already terminal? return; claim (QUEUED→RUNNING,
// stamping this worker's identity); pre-start abort check; execute.
func (w *Worker) RunOne(ctx context.Context, jobID string) error {
	job, err := w.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.State.IsTerminal() {
		return nil
	}

	claimed, err := w.store.ClaimJob(ctx, jobID, w.cfg.ID, w.pid)
	if err != nil {
		return err
	}
	if !claimed {
		// Abort before claim pre-empts execution entirely.
		job, err := w.store.Get(ctx, jobID)
		if err != nil {
			return err
		}
		if job.State == jobstore.JobStateQueued && job.AbortRequested {
			return w.store.MarkAborted(ctx, jobID)
		}
		return fmt.Errorf("job %s is not claimable (state=%s)", jobID, job.State)
	}

	job, err = w.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	w.execute(ctx, job)
	return nil
}

// Execute runs a job this worker already holds the claim on. The caller
// is responsible for having claimed the row with this worker's ID.
func (w *Worker) Execute(ctx context.Context, job *jobstore.Job) {
	w.execute(ctx, job)
}

// execute runs the handler for a claimed RUNNING job and records the
// terminal outcome.
func (w *Worker) execute(ctx context.Context, job *jobstore.Job) {
	log := w.logger.With(
		zap.String("job_id", job.JobID),
		zap.String("job_type", string(job.JobType)))

	// The flag may have been set between claim and start; check once
	// before any work happens.
	if aborted, err := w.store.IsAbortRequested(ctx, job.JobID); err == nil && aborted {
		log.Info("abort observed before start")
		_ = w.markWithAudit(ctx, job.JobID, "aborted before start", "",
			func() error { return w.store.MarkAborted(ctx, job.JobID) })
		return
	}

	handler, ok := w.registry.Lookup(job.JobType)
	if !ok {
		msg := fmt.Sprintf("no handler registered for %s", job.JobType)
		log.Error("dispatch failed", zap.String("reason", msg))
		_ = w.markWithAudit(ctx, job.JobID, "dispatch failed", msg,
			func() error { return w.store.MarkFailed(ctx, job.JobID, w.truncate(msg)) })
		return
	}

	stopHeartbeat := startHeartbeat(ctx, w.store, job.JobID, w.cfg.HeartbeatInterval)
	jc := newContext(job.JobID, w.store, w.cfg.PausePollInterval)

	log.Info("job started", zap.String("worker_id", w.cfg.ID))
	result, err := w.invoke(ctx, handler, job.Params, jc)
	stopHeartbeat()

	switch {
	case err == nil:
		ref := ""
		if result != nil {
			ref = result.Ref
		}
		if markErr := w.store.MarkSucceeded(ctx, job.JobID, ref); markErr != nil {
			log.Error("mark succeeded failed", zap.Error(markErr))
			return
		}
		log.Info("job succeeded", zap.String("result_ref", ref))

	case errors.Is(err, ErrAbortRequested):
		// Cooperative cancellation is not a failure.
		log.Info("job aborted at checkpoint")
		_ = w.markWithAudit(ctx, job.JobID, "aborted at checkpoint", "",
			func() error { return w.store.MarkAborted(ctx, job.JobID) })

	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// Process interruption, not a handler defect.
		log.Warn("job interrupted", zap.Error(err))
		_ = w.markWithAudit(ctx, job.JobID, "interrupted", err.Error(),
			func() error { return w.store.MarkKilled(ctx, job.JobID, w.truncate(err.Error())) })

	default:
		log.Error("job failed", zap.Error(err))
		_ = w.markWithAudit(ctx, job.JobID, "handler failed", err.Error(),
			func() error { return w.store.MarkFailed(ctx, job.JobID, w.truncate(err.Error())) })
	}
}

// invoke calls the handler, converting a panic into an ordinary failure so
// one bad handler cannot take down the loop.
func (w *Worker) invoke(ctx context.Context, handler Handler, params map[string]any, jc *Context) (result *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v\n%s", r, debug.Stack())
		}
	}()
	return handler(ctx, params, jc)
}

// markWithAudit appends the audit entry before the state transition so the
// full detail is durable even if the mark itself fails.
func (w *Worker) markWithAudit(ctx context.Context, jobID, event, detail string, mark func() error) error {
	if w.audit != nil {
		if err := w.audit.Append(jobID, event, detail); err != nil {
			w.logger.Warn("audit append failed",
				zap.String("job_id", jobID), zap.Error(err))
		}
	}
	if err := mark(); err != nil {
		// A loser of a terminal race (e.g. orphaned while we finished) is
		// not actionable here; the recorded terminal state stands.
		if errors.Is(err, jobstore.ErrTerminalState) {
			return nil
		}
		w.logger.Error("state transition failed",
			zap.String("job_id", jobID), zap.Error(err))
		return err
	}
	return nil
}

func (w *Worker) truncate(msg string) string {
	if len(msg) <= w.cfg.ErrorMaxLen {
		return msg
	}
	return msg[:w.cfg.ErrorMaxLen] + "..."
}
