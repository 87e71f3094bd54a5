package cmd

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quantfold/quantfold/internal/server"
	"github.com/quantfold/quantfold/internal/server/handlers"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read-only ops HTTP API",
	Long: `Serve health probes plus read-only views of jobs, batches, and
worker liveness. Nothing served here mutates state; submission and
control stay on the CLI.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Bind host (default from config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Bind port (default from config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Store unavailable", err)
	}
	defer rt.Close()

	host := rt.cfg.Server.Host
	if serveHost != "" {
		host = serveHost
	}
	port := rt.cfg.Server.Port
	if servePort > 0 {
		port = servePort
	}

	handlers.InitHealthManager(versionInfo.Version)
	srv := server.New(host, port,
		server.WithStore(rt.store),
		server.WithLivenessRoot(rt.cfg.LivenessDir()),
		server.WithTimeouts(server.Timeouts{
			Read:     rt.cfg.Server.ReadTimeout,
			Write:    rt.cfg.Server.WriteTimeout,
			Idle:     rt.cfg.Server.IdleTimeout,
			Shutdown: rt.cfg.Server.ShutdownTimeout,
		}),
	)

	logger().Info("serving ops API",
		zap.String("host", host),
		zap.Int("port", port))

	if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return exitError(foundry.ExitExternalServiceUnavailable, "Server failed", err)
	}
	return nil
}
