package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/quantfold/quantfold/internal/config"
	"github.com/quantfold/quantfold/pkg/admission"
	"github.com/quantfold/quantfold/pkg/jobstore"
	"github.com/quantfold/quantfold/pkg/supervisor"
	"github.com/quantfold/quantfold/pkg/worker"
)

// runtime bundles the store handles a command needs. Close must be called.
type runtime struct {
	cfg   *config.Config
	store *jobstore.Store
	audit *jobstore.AuditLog
}

func (rt *runtime) Close() {
	_ = rt.store.Close()
}

func (rt *runtime) controller() *admission.Controller {
	return admission.NewController(rt.store, admission.Config{
		DuplicateWindow: rt.cfg.Admission.DuplicateWindow,
		Timeframes:      rt.cfg.Admission.Timeframes,
	})
}

func (rt *runtime) supervisor(registry *worker.Registry) *supervisor.Supervisor {
	return supervisor.New(rt.store, rt.audit, rt.controller(), registry, logger(), supervisor.Config{
		TickInterval:     rt.cfg.Scheduler.TickInterval,
		HeartbeatTimeout: rt.cfg.Scheduler.HeartbeatTimeout,
		WorkerCount:      rt.cfg.Worker.Count,
		ClaimRate:        rt.cfg.Scheduler.ClaimRate,
		PollInterval:     rt.cfg.Worker.PollInterval,
		KillWait:         rt.cfg.Scheduler.KillWait,
		Worker:           rt.workerConfig(),
	})
}

func (rt *runtime) workerConfig() worker.Config {
	return worker.Config{
		PollInterval:      rt.cfg.Worker.PollInterval,
		PausePollInterval: rt.cfg.Worker.PausePollInterval,
		HeartbeatInterval: rt.cfg.Worker.HeartbeatInterval,
		ErrorMaxLen:       rt.cfg.Worker.ErrorMaxLen,
	}
}

// openRuntime opens the store, runs migrations, and wires the audit log.
func openRuntime(ctx context.Context) (*runtime, error) {
	cfg := config.GetConfig()
	if cfg == nil {
		loaded, err := config.Load(ctx)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	store, err := jobstore.Open(ctx, jobstore.Config{
		Path:      cfg.Store.Path,
		URL:       cfg.Store.URL,
		AuthToken: cfg.Store.AuthToken,
	})
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("migrate job store: %w", err)
	}

	return &runtime{
		cfg:   cfg,
		store: store,
		audit: jobstore.NewAuditLog(cfg.JobsDir()),
	}, nil
}

// parseParams reads job params from an inline JSON string or an @file
// reference (JSON or YAML decided by the loader).
func parseParams(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}

	if strings.HasPrefix(raw, "@") {
		b, err := os.ReadFile(strings.TrimPrefix(raw, "@"))
		if err != nil {
			return nil, fmt.Errorf("read params file: %w", err)
		}
		raw = string(b)
	}

	var params map[string]any
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return nil, fmt.Errorf("parse params JSON: %w", err)
	}
	return params, nil
}

func shortJobID(jobID string) string {
	jobID = strings.TrimSpace(jobID)
	if len(jobID) <= 12 {
		return jobID
	}
	return jobID[:12]
}

func shortBatchID(batchID string) string {
	batchID = strings.TrimSpace(batchID)
	if strings.HasPrefix(batchID, "qb_") && len(batchID) > len("qb_")+8 {
		return "qb_" + batchID[len("qb_"):len("qb_")+8]
	}
	if batchID == "" {
		return "-"
	}
	return batchID
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

// resolveJobID accepts a full job id or a unique prefix (table-friendly
// short ids).
func resolveJobID(ctx context.Context, store *jobstore.Store, input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("job_id is required")
	}

	// Exact match first.
	if _, err := store.Get(ctx, input); err == nil {
		return input, nil
	}

	jobs, err := store.List(ctx, jobstore.Filter{})
	if err != nil {
		return "", err
	}
	matches := make([]string, 0, 2)
	for _, j := range jobs {
		if strings.HasPrefix(j.JobID, input) {
			matches = append(matches, j.JobID)
		}
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("job not found: %s", input)
	}
	if len(matches) > 1 {
		return "", fmt.Errorf("job id prefix is ambiguous (%d matches); use full job_id or --json", len(matches))
	}
	return matches[0], nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
