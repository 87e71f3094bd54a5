package config

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	gfconfig "github.com/fulmenhq/gofulmen/config"
)

const (
	appName   = "quantfold"
	envPrefix = "QUANTFOLD"
)

var (
	configMu  sync.RWMutex
	appConfig *Config
)

// envSpec maps one flat environment variable onto a config path. Flat
// names exist alongside viper's automatic QUANTFOLD_SECTION_KEY mapping so
// the common knobs have short, documented spellings.
type envSpec struct {
	Name string
	Path string
}

func getEnvSpecs() []envSpec {
	return []envSpec{
		{Name: envPrefix + "_DATA_DIR", Path: "data_dir"},
		{Name: envPrefix + "_STORE_PATH", Path: "store.path"},
		{Name: envPrefix + "_STORE_URL", Path: "store.url"},
		{Name: envPrefix + "_STORE_AUTH_TOKEN", Path: "store.auth_token"},
		{Name: envPrefix + "_HOST", Path: "server.host"},
		{Name: envPrefix + "_PORT", Path: "server.port"},
		{Name: envPrefix + "_READ_TIMEOUT", Path: "server.read_timeout"},
		{Name: envPrefix + "_WRITE_TIMEOUT", Path: "server.write_timeout"},
		{Name: envPrefix + "_IDLE_TIMEOUT", Path: "server.idle_timeout"},
		{Name: envPrefix + "_SHUTDOWN_TIMEOUT", Path: "server.shutdown_timeout"},
		{Name: envPrefix + "_LOG_LEVEL", Path: "logging.level"},
		{Name: envPrefix + "_LOG_PROFILE", Path: "logging.profile"},
		{Name: envPrefix + "_TICK_INTERVAL", Path: "scheduler.tick_interval"},
		{Name: envPrefix + "_HEARTBEAT_TIMEOUT", Path: "scheduler.heartbeat_timeout"},
		{Name: envPrefix + "_CLAIM_RATE", Path: "scheduler.claim_rate"},
		{Name: envPrefix + "_KILL_WAIT", Path: "scheduler.kill_wait"},
		{Name: envPrefix + "_WORKERS", Path: "worker.count"},
		{Name: envPrefix + "_POLL_INTERVAL", Path: "worker.poll_interval"},
		{Name: envPrefix + "_PAUSE_POLL_INTERVAL", Path: "worker.pause_poll_interval"},
		{Name: envPrefix + "_HEARTBEAT_INTERVAL", Path: "worker.heartbeat_interval"},
		{Name: envPrefix + "_DUPLICATE_WINDOW", Path: "admission.duplicate_window"},
	}
}

// SetDefaults seeds v with every default value. Exposed so the CLI can
// share the same defaults for flag help text.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "")

	v.SetDefault("store.path", "")
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "cli")

	v.SetDefault("scheduler.tick_interval", "5s")
	v.SetDefault("scheduler.heartbeat_timeout", "2m")
	v.SetDefault("scheduler.claim_rate", 0.0)
	v.SetDefault("scheduler.kill_wait", "30s")
	v.SetDefault("scheduler.liveness_interval", "10s")

	v.SetDefault("worker.count", 2)
	v.SetDefault("worker.poll_interval", "1s")
	v.SetDefault("worker.pause_poll_interval", "1s")
	v.SetDefault("worker.heartbeat_interval", "30s")
	v.SetDefault("worker.error_max_len", 512)

	v.SetDefault("admission.duplicate_window", "24h")
	v.SetDefault("admission.timeframes", []string{"1m", "5m", "15m", "1h", "4h", "1d"})
}

// Load builds the configuration. Optional override maps apply last, above
// env vars and any config file. The result is cached for GetConfig.
func Load(_ context.Context, overrides ...map[string]any) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetConfigName(appName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if dataDir := gfconfig.GetAppDataDir(appName); dataDir != "" {
		v.AddConfigPath(dataDir)
	}
	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; anything else is not.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", spec.Name, err)
		}
	}

	// Set places overrides at viper's highest precedence level, above
	// env vars and the config file.
	for _, override := range overrides {
		for key, value := range flattenOverrides("", override) {
			v.Set(key, value)
		}
	}

	var cfg Config
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DataDir == "" {
		cfg.DataDir = gfconfig.GetAppDataDir(appName)
	}
	if cfg.Store.Path == "" && cfg.Store.URL == "" {
		cfg.Store.Path = filepath.Join(cfg.DataDir, "quantfold.db")
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()
	return &cfg, nil
}

func flattenOverrides(prefix string, m map[string]any) map[string]any {
	flat := make(map[string]any, len(m))
	for key, value := range m {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok {
			for k, v := range flattenOverrides(path, nested) {
				flat[k] = v
			}
			continue
		}
		flat[path] = value
	}
	return flat
}

// GetConfig returns the last loaded configuration, or nil before Load.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// JobsDir is where per-job audit logs live.
func (c *Config) JobsDir() string {
	return filepath.Join(c.DataDir, "jobs")
}

// LivenessDir is where supervisor/worker liveness file pairs live.
func (c *Config) LivenessDir() string {
	return filepath.Join(c.DataDir, "liveness")
}
