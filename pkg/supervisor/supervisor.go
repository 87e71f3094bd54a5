// Package supervisor owns job lifecycle above the store: admission-gated
// submission, batch expansion into store rows, periodic reconciliation of
// stale and aborted rows, pooled dispatch to workers, and best-effort kill
// of a runaway process.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/quantfold/quantfold/pkg/admission"
	"github.com/quantfold/quantfold/pkg/batch"
	"github.com/quantfold/quantfold/pkg/jobstore"
	"github.com/quantfold/quantfold/pkg/worker"
)

// Config tunes the supervisor. Every duration here is deployment tuning
// and comes from configuration, not constants.
type Config struct {
	// TickInterval is the reconciliation period.
	// Default: 5s
	TickInterval time.Duration

	// HeartbeatTimeout is how stale a RUNNING row's heartbeat may be
	// before the row is declared orphaned.
	// Default: 2m
	HeartbeatTimeout time.Duration

	// WorkerCount bounds the dispatch pool.
	// Default: 2
	WorkerCount int

	// ClaimRate caps claims per second across the pool; zero disables
	// the limiter.
	ClaimRate float64

	// PollInterval is the dispatch loop's idle sleep when no job is
	// claimable.
	// Default: 1s
	PollInterval time.Duration

	// KillWait is how long Kill waits after SIGTERM before escalating
	// to SIGKILL.
	// Default: 30s
	KillWait time.Duration

	// Worker configures the pooled workers.
	Worker worker.Config
}

// DefaultConfig returns the default supervisor configuration.
func DefaultConfig() Config {
	return Config{
		TickInterval:     5 * time.Second,
		HeartbeatTimeout: 2 * time.Minute,
		WorkerCount:      2,
		PollInterval:     time.Second,
		KillWait:         30 * time.Second,
		Worker:           worker.DefaultConfig(),
	}
}

// AdmissionError reports a submission rejected by the policy chain. The
// full bundle is attached so callers can show every violation.
type AdmissionError struct {
	Bundle *admission.Bundle
}

func (e *AdmissionError) Error() string {
	if f := e.Bundle.FirstFailure(); f != nil {
		return fmt.Sprintf("admission rejected (%s): %s", f.Policy, f.Message)
	}
	return "admission rejected"
}

// BatchResult is the outcome of a batch submission.
type BatchResult struct {
	BatchID string   `json:"batch_id"`
	JobIDs  []string `json:"job_ids"`
}

// Supervisor is an explicit value; it holds no global state.
type Supervisor struct {
	store      *jobstore.Store
	audit      *jobstore.AuditLog
	controller *admission.Controller
	registry   *worker.Registry
	logger     *zap.Logger
	cfg        Config
	limiter    *rate.Limiter
}

// New builds a supervisor. A nil logger disables logging.
func New(store *jobstore.Store, audit *jobstore.AuditLog, controller *admission.Controller, registry *worker.Registry, logger *zap.Logger, cfg Config) *Supervisor {
	def := DefaultConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = def.WorkerCount
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.KillWait <= 0 {
		cfg.KillWait = def.KillWait
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var limiter *rate.Limiter
	if cfg.ClaimRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.ClaimRate), cfg.WorkerCount)
	}

	return &Supervisor{
		store:      store,
		audit:      audit,
		controller: controller,
		registry:   registry,
		logger:     logger,
		cfg:        cfg,
		limiter:    limiter,
	}
}

// Submit runs the payload through admission and, if admissible, inserts a
// QUEUED row. Rejections come back as *AdmissionError with the full bundle.
func (s *Supervisor) Submit(ctx context.Context, spec jobstore.JobSpec) (*jobstore.Job, *admission.Bundle, error) {
	bundle, err := s.controller.Check(ctx, spec.JobType, spec.Params)
	if err != nil {
		return nil, nil, err
	}
	if !bundle.Admissible {
		return nil, bundle, &AdmissionError{Bundle: bundle}
	}

	job, err := s.store.Submit(ctx, spec, bundle.ParamsHash)
	if err != nil {
		return nil, bundle, err
	}
	s.logger.Info("job submitted",
		zap.String("job_id", job.JobID),
		zap.String("job_type", string(job.JobType)),
		zap.String("params_hash", job.ParamsHash))
	return job, bundle, nil
}

// SubmitBatch submits a set of specs under one content-addressed batch id.
// Admission is all-or-nothing: every spec is checked before any row is
// inserted, and the first rejection aborts the whole batch with no rows
// written.
func (s *Supervisor) SubmitBatch(ctx context.Context, specs []jobstore.JobSpec, season string, tags []string, notes string) (*BatchResult, error) {
	if len(specs) == 0 {
		return nil, errors.New("batch has no specs")
	}

	hashes := make([]string, len(specs))
	for i, spec := range specs {
		bundle, err := s.controller.Check(ctx, spec.JobType, spec.Params)
		if err != nil {
			return nil, fmt.Errorf("spec %d: %w", i, err)
		}
		if !bundle.Admissible {
			return nil, fmt.Errorf("spec %d: %w", i, &AdmissionError{Bundle: bundle})
		}
		hashes[i] = bundle.ParamsHash
	}

	batchID, err := batch.ComputeBatchID(specs)
	if err != nil {
		return nil, err
	}

	// Resubmitting the same set yields the same batch id; an existing
	// batch row is reused rather than treated as a conflict, but a
	// frozen batch will not accept new members.
	existing, err := s.store.GetBatch(ctx, batchID)
	switch {
	case err == nil:
		if existing.Frozen {
			return nil, jobstore.ErrBatchFrozen
		}
	case errors.Is(err, jobstore.ErrBatchNotFound):
		if _, err := s.store.CreateBatch(ctx, batchID, season); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	if len(tags) > 0 {
		if err := s.store.AppendBatchTags(ctx, batchID, tags...); err != nil {
			return nil, err
		}
	}
	if notes != "" {
		if err := s.store.UpdateBatchNotes(ctx, batchID, notes); err != nil {
			return nil, err
		}
	}

	jobIDs := make([]string, 0, len(specs))
	for i, spec := range specs {
		spec.BatchID = batchID
		job, err := s.store.Submit(ctx, spec, hashes[i])
		if err != nil {
			return nil, fmt.Errorf("insert spec %d: %w", i, err)
		}
		jobIDs = append(jobIDs, job.JobID)
	}

	s.logger.Info("batch submitted",
		zap.String("batch_id", batchID),
		zap.Int("jobs", len(jobIDs)))
	return &BatchResult{BatchID: batchID, JobIDs: jobIDs}, nil
}

// Tick reconciles the store once. It is idempotent; a failed step is
// logged and retried on the next tick.
func (s *Supervisor) Tick(ctx context.Context) {
	if n, err := s.store.AbortQueued(ctx); err != nil {
		s.logger.Error("abort sweep failed", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("aborted queued jobs", zap.Int64("count", n))
	}

	cutoff := time.Now().UTC().Add(-s.cfg.HeartbeatTimeout)
	orphaned, err := s.store.OrphanStale(ctx, cutoff)
	if err != nil {
		s.logger.Error("orphan sweep failed", zap.Error(err))
		return
	}
	for _, jobID := range orphaned {
		s.logger.Warn("job orphaned",
			zap.String("job_id", jobID),
			zap.Duration("heartbeat_timeout", s.cfg.HeartbeatTimeout))
		if s.audit != nil {
			_ = s.audit.Append(jobID, "orphaned",
				fmt.Sprintf("no heartbeat since %s", cutoff.Format(time.RFC3339)))
		}
	}
}

// Run drives the supervisor until ctx is done: a tick loop for
// reconciliation and a dispatch loop feeding a bounded worker pool.
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Info("supervisor starting",
		zap.Int("workers", s.cfg.WorkerCount),
		zap.Duration("tick_interval", s.cfg.TickInterval),
		zap.Duration("heartbeat_timeout", s.cfg.HeartbeatTimeout))

	pool := make(chan *worker.Worker, s.cfg.WorkerCount)
	for i := 0; i < s.cfg.WorkerCount; i++ {
		wcfg := s.cfg.Worker
		wcfg.ID = fmt.Sprintf("%s-w%d", workerIDBase(), i)
		pool <- worker.New(s.store, s.audit, s.registry, s.logger, wcfg)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(s.cfg.TickInterval)
		defer ticker.Stop()
		s.Tick(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Tick(ctx)
			}
		}
	}()

	err := s.dispatch(ctx, pool)
	<-done

	// Drain the pool so in-flight jobs finish their terminal marks.
	for i := 0; i < s.cfg.WorkerCount; i++ {
		<-pool
	}
	s.logger.Info("supervisor stopped")
	return err
}

// dispatch claims the oldest eligible job on behalf of an idle pooled
// worker and hands it over. Claims are rate limited when configured.
func (s *Supervisor) dispatch(ctx context.Context, pool chan *worker.Worker) error {
	pid := os.Getpid()
	for {
		var w *worker.Worker
		select {
		case <-ctx.Done():
			return ctx.Err()
		case w = <-pool:
		}

		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				pool <- w
				return err
			}
		}

		job, err := s.store.ClaimNextQueued(ctx, w.ID(), pid)
		if err != nil {
			s.logger.Error("claim failed", zap.Error(err))
		}
		if job == nil {
			pool <- w
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.cfg.PollInterval):
			}
			continue
		}

		go func(w *worker.Worker, job *jobstore.Job) {
			defer func() { pool <- w }()
			w.Execute(ctx, job)
		}(w, job)
	}
}

// Kill escalates on the recorded process: SIGTERM, wait up to KillWait,
// then SIGKILL, and finally marks the row KILLED.
func (s *Supervisor) Kill(ctx context.Context, jobID string) error {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.State != jobstore.JobStateRunning {
		return fmt.Errorf("job is not running (state=%s)", job.State)
	}
	if job.PID <= 0 {
		return errors.New("job has no pid recorded")
	}

	forced := false
	if isProcessAlive(job.PID) {
		proc, err := os.FindProcess(job.PID)
		if err != nil {
			return fmt.Errorf("find process: %w", err)
		}
		if err := proc.Signal(syscall.SIGTERM); err != nil {
			return fmt.Errorf("signal term: %w", err)
		}

		deadline := time.Now().Add(s.cfg.KillWait)
		for time.Now().Before(deadline) && isProcessAlive(job.PID) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(250 * time.Millisecond):
			}
		}
		if isProcessAlive(job.PID) {
			_ = proc.Signal(syscall.SIGKILL)
			forced = true
		}
	}

	reason := "killed: term"
	if forced {
		reason = "killed: term escalated to kill"
	}
	if s.audit != nil {
		_ = s.audit.Append(jobID, "killed", reason)
	}
	if err := s.store.MarkKilled(ctx, jobID, reason); err != nil {
		// The process may have marked itself terminal while we waited.
		if errors.Is(err, jobstore.ErrTerminalState) {
			return nil
		}
		return err
	}
	s.logger.Warn("job killed",
		zap.String("job_id", jobID),
		zap.Bool("forced", forced))
	return nil
}

func workerIDBase() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "worker"
	}
	return host
}
