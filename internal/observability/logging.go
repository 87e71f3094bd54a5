// Package observability builds the process loggers. CLI commands log
// human-oriented lines to stderr so stdout stays machine parseable;
// long-running modes (supervise, serve) use structured JSON.
package observability

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the shared logger for command-line entrypoints. It defaults
// to info on stderr and is replaced by Init once config is loaded.
var CLILogger = mustCLILogger("info")

// Init rebuilds the process loggers from configuration. Profile is either
// "cli" (console encoding) or "structured" (JSON).
func Init(level, profile string) error {
	logger, err := NewLogger(level, profile)
	if err != nil {
		return err
	}
	CLILogger = logger
	return nil
}

// NewLogger builds a stderr logger at the given level and profile.
func NewLogger(level, profile string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.TrimSpace(strings.ToLower(level)))
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	switch strings.TrimSpace(strings.ToLower(profile)) {
	case "", "cli":
		cfg.Encoding = "console"
		cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	case "structured":
		cfg.Encoding = "json"
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	default:
		return nil, fmt.Errorf("unknown logging profile %q", profile)
	}

	return cfg.Build()
}

func mustCLILogger(level string) *zap.Logger {
	logger, err := NewLogger(level, "cli")
	if err != nil {
		panic(err)
	}
	return logger
}
