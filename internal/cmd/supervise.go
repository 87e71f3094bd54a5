package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quantfold/quantfold/pkg/supervisor"
)

var superviseCmd = &cobra.Command{
	Use:   "supervise",
	Short: "Run the supervisor: worker pool plus reconciliation loop",
	Long: `Run the full orchestration process: a bounded worker pool claiming
jobs from the store, plus a periodic tick that aborts flagged queued
jobs and orphans RUNNING rows whose heartbeat has gone stale.

Ticks are idempotent, so running supervise after a crash reconciles
whatever the dead process left behind.`,
	RunE: runSupervise,
}

func init() {
	rootCmd.AddCommand(superviseCmd)
}

func runSupervise(cmd *cobra.Command, _ []string) error {
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
	sup := rt.supervisor(registry)

	liveness := supervisor.NewLiveness(rt.cfg.LivenessDir(), "supervisor")
	stopLiveness, err := liveness.Start(ctx, rt.cfg.Scheduler.LivenessInterval)
	if err != nil {
		return fmt.Errorf("start liveness: %w", err)
	}
	defer stopLiveness()

	logger().Info("supervise starting",
		zap.String("store", rt.cfg.Store.Path),
		zap.Int("workers", rt.cfg.Worker.Count))

	if err := sup.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger().Error("supervisor failed", zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Supervisor failed", err)
	}
	return nil
}
