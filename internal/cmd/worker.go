package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quantfold/quantfold/pkg/jobstore"
	"github.com/quantfold/quantfold/pkg/supervisor"
	"github.com/quantfold/quantfold/pkg/worker"
)

var workerID string

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run worker processes",
}

var workerRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single worker poll loop",
	Long: `Run one worker: poll the store for the oldest eligible job, execute
its handler, repeat. SIGINT/SIGTERM stop the loop; the in-flight job
finishes its terminal transition before exit.

Built-in handlers cover orchestration job types (FREEZE_BATCH). Domain
handlers (RUN_BACKTEST, BUILD_PORTFOLIO, COMPILE_FEATURES) are linked in
by the hosting platform binary.`,
	RunE: runWorkerRun,
}

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.AddCommand(workerRunCmd)
	workerRunCmd.Flags().StringVar(&workerID, "id", "", "Worker identity (defaults to host-derived)")
}

func runWorkerRun(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Store unavailable", err)
	}
	defer rt.Close()

	registry, err := builtinRegistry(rt.store)
	if err != nil {
		return err
	}

	wcfg := rt.workerConfig()
	wcfg.ID = strings.TrimSpace(workerID)
	w := worker.New(rt.store, rt.audit, registry, logger(), wcfg)

	liveness := supervisor.NewLiveness(rt.cfg.LivenessDir(), w.ID())
	stopLiveness, err := liveness.Start(ctx, rt.cfg.Scheduler.LivenessInterval)
	if err != nil {
		return fmt.Errorf("start liveness: %w", err)
	}
	defer stopLiveness()

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger().Error("worker loop failed", zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Worker failed", err)
	}
	return nil
}

// builtinRegistry registers handlers for orchestration-owned job types.
func builtinRegistry(store *jobstore.Store) (*worker.Registry, error) {
	registry := worker.NewRegistry()

	err := registry.Register(jobstore.JobTypeFreeze, func(ctx context.Context, params map[string]any, jc *worker.Context) (*worker.Result, error) {
		batchID, _ := params["batch_id"].(string)
		batchID = strings.TrimSpace(batchID)
		if batchID == "" {
			return nil, fmt.Errorf("freeze: batch_id param is required")
		}
		if err := jc.Checkpoint(ctx); err != nil {
			return nil, err
		}
		if err := store.FreezeBatch(ctx, batchID); err != nil {
			return nil, err
		}
		return &worker.Result{Ref: "batch:" + batchID}, nil
	})
	if err != nil {
		return nil, err
	}
	return registry, nil
}
