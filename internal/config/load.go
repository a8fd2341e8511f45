package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"archi/internal/logging"
)

type loadOptions struct {
	path      string
	envLookup func(string) (string, bool)
	logger    logging.Logger
}

// Option customises Load.
type Option func(*loadOptions)

// WithPath sets an explicit config file path.
func WithPath(path string) Option {
	return func(o *loadOptions) { o.path = path }
}

// WithEnvLookup replaces the environment lookup (tests).
func WithEnvLookup(fn func(string) (string, bool)) Option {
	return func(o *loadOptions) { o.envLookup = fn }
}

// WithLogger sets the logger used for overlay warnings.
func WithLogger(logger logging.Logger) Option {
	return func(o *loadOptions) { o.logger = logger }
}

// Load builds the effective configuration: defaults, then the YAML file
// (archi.yaml in the data dir unless overridden), then ARCHI_* env vars.
// It never fails; problems are logged and defaults kept.
func Load(opts ...Option) Config {
	options := loadOptions{envLookup: os.LookupEnv}
	for _, opt := range opts {
		opt(&options)
	}
	logger := logging.OrNop(options.logger)

	cfg := Default()

	path := options.path
	if path == "" {
		if v, ok := options.envLookup("ARCHI_CONFIG"); ok {
			path = v
		} else {
			path = filepath.Join(ExpandHome(cfg.DataDir), "archi.yaml")
		}
	}
	if _, err := os.Stat(path); err == nil {
		if err := overlayFile(&cfg, path); err != nil {
			logger.Warn("Config file %s unparseable, using defaults: %v", path, err)
			cfg = Default()
		}
	} else if !os.IsNotExist(err) {
		logger.Warn("Config file %s unreadable: %v", path, err)
	}

	applyEnv(&cfg, options.envLookup, logger)
	cfg.DataDir = ExpandHome(cfg.DataDir)
	if cfg.Executor.ProjectRoot == "" {
		if wd, err := os.Getwd(); err == nil {
			cfg.Executor.ProjectRoot = wd
		}
	}
	return cfg
}

// overlayFile merges the YAML file into cfg. Keys absent from the file
// keep their current values; duration fields accept strings like "90s".
func overlayFile(cfg *Config, path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return err
	}
	return v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
	})
}

// applyEnv overlays a small set of operational env vars. Secrets only ever
// come from the environment.
func applyEnv(cfg *Config, lookup func(string) (string, bool), logger logging.Logger) {
	if v, ok := lookup("ARCHI_DATA_DIR"); ok {
		cfg.DataDir = v
	}
	if v, ok := lookup("ARCHI_REMOTE_API_KEY"); ok {
		cfg.Remote.APIKey = v
	}
	if v, ok := lookup("ARCHI_REMOTE_BASE_URL"); ok {
		cfg.Remote.BaseURL = v
	}
	if v, ok := lookup("ARCHI_REMOTE_MODEL"); ok {
		cfg.Remote.Model = v
	}
	if v, ok := lookup("ARCHI_LOCAL_BASE_URL"); ok {
		cfg.Local.BaseURL = v
	}
	if v, ok := lookup("ARCHI_LOCAL_MODEL"); ok {
		cfg.Local.Model = v
	}
	if v, ok := lookup("ARCHI_BUDGET_DAILY_USD"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			cfg.Budget.DailyHardStopUSD = f
		} else {
			logger.Warn("Ignoring ARCHI_BUDGET_DAILY_USD=%q", v)
		}
	}
	if v, ok := lookup("ARCHI_IDLE_THRESHOLD"); ok {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Heartbeat.IdleThreshold = d
			cfg.Dream.IdleThreshold = d
		} else {
			logger.Warn("Ignoring ARCHI_IDLE_THRESHOLD=%q", v)
		}
	}
}

// ExpandHome resolves a leading ~/ against the user home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
