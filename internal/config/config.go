// Package config loads and holds process configuration. Precedence is
// runtime overrides > environment > config file > defaults. Every tunable
// interval lives here; packages receive values, they never read env.
package config

import "time"

// Config is the full process configuration.
type Config struct {
	// DataDir roots the store, audit logs, and liveness files. Empty means
	// the platform app data dir.
	DataDir string `mapstructure:"data_dir"`

	Store     StoreConfig     `mapstructure:"store"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Admission AdmissionConfig `mapstructure:"admission"`
}

// StoreConfig locates the job database.
type StoreConfig struct {
	// Path is the local SQLite file. Empty means <data_dir>/quantfold.db.
	Path string `mapstructure:"path"`

	// URL selects a remote libsql endpoint instead of a local file.
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// ServerConfig tunes the read-only ops HTTP surface.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig tunes the process loggers.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

// SchedulerConfig tunes the supervisor.
type SchedulerConfig struct {
	TickInterval     time.Duration `mapstructure:"tick_interval"`
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"`
	ClaimRate        float64       `mapstructure:"claim_rate"`
	KillWait         time.Duration `mapstructure:"kill_wait"`
	LivenessInterval time.Duration `mapstructure:"liveness_interval"`
}

// WorkerConfig tunes worker execution.
type WorkerConfig struct {
	Count             int           `mapstructure:"count"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	PausePollInterval time.Duration `mapstructure:"pause_poll_interval"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	ErrorMaxLen       int           `mapstructure:"error_max_len"`
}

// AdmissionConfig tunes the policy chain.
type AdmissionConfig struct {
	DuplicateWindow time.Duration `mapstructure:"duplicate_window"`
	Timeframes      []string      `mapstructure:"timeframes"`
}
