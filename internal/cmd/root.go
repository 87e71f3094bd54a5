// Package cmd is the quantfold command tree.
package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/quantfold/quantfold/internal/config"
	"github.com/quantfold/quantfold/internal/observability"
	"github.com/quantfold/quantfold/internal/server/handlers"
)

// versionInfo is stamped by the build via SetVersionInfo.
var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "HEAD",
	BuildDate: "unknown",
}

// SetVersionInfo records build identity before Execute.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	handlers.SetVersionInfo(version, commit, buildDate)
}

var (
	flagLogLevel string
	flagDataDir  string
)

var rootCmd = &cobra.Command{
	Use:   "quantfold",
	Short: "Job orchestration for the quantfold research platform",
	Long: `quantfold schedules, supervises, and observes research jobs:
backtests, portfolio builds, and feature compilation runs.

Jobs are durable rows in a local SQLite store. Submission is gated by
admission policies; execution is cooperative (abort and pause are
checked at handler checkpoints, never forced mid-computation).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		overrides := map[string]any{}
		if flagLogLevel != "" {
			overrides["logging"] = map[string]any{"level": flagLogLevel}
		}
		if flagDataDir != "" {
			overrides["data_dir"] = flagDataDir
		}

		cfg, err := config.Load(cmd.Context(), overrides)
		if err != nil {
			return err
		}
		return observability.Init(cfg.Logging.Level, cfg.Logging.Profile)
	},
}

func init() {
	rootCmd.Version = versionInfo.Version
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "Override the data directory")
	setDefaults()
}

// setDefaults seeds the global viper instance so help text and tests see
// the same defaults the loader applies.
func setDefaults() {
	config.SetDefaults(viper.GetViper())
}

// codedError carries a process exit code with the error.
type codedError struct {
	code int
	msg  string
	err  error
}

func (e *codedError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *codedError) Unwrap() error { return e.err }

// exitError creates an error that causes the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return &codedError{code: code, msg: message, err: err}
}

// Execute runs the command tree and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		var ce *codedError
		if errors.As(err, &ce) {
			return ce.code
		}
		return 1
	}
	return 0
}

func logger() *zap.Logger {
	return observability.CLILogger
}
