// Package config loads pocketsync daemon configuration.
//
// Configuration comes from three layers, lowest priority first: built-in
// defaults, an optional YAML config file, and POCKETSYNC_* environment
// variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds daemon configuration.
type Config struct {
	// DBPath is the SQLite database file backing the offline store.
	DBPath string `mapstructure:"db_path"`

	// RemoteURL is the base URL of the sync backend.
	RemoteURL string `mapstructure:"remote_url"`

	// ProbeURL is the connectivity probe target. Defaults to the backend's
	// health endpoint when empty.
	ProbeURL string `mapstructure:"probe_url"`

	// ProbeInterval is how often connectivity is probed.
	ProbeInterval time.Duration `mapstructure:"probe_interval"`

	// SyncInterval is the coarse periodic sync interval.
	SyncInterval time.Duration `mapstructure:"sync_interval"`

	// CallTimeout bounds each individual remote call.
	CallTimeout time.Duration `mapstructure:"call_timeout"`

	// RetryLimit is the per-action retry ceiling before dead-lettering.
	RetryLimit int `mapstructure:"retry_limit"`

	// RatePerSec bounds outgoing remote calls. Zero disables limiting.
	RatePerSec float64 `mapstructure:"rate_per_sec"`

	// Dashboard configures the WebSocket status server.
	Dashboard DashboardConfig `mapstructure:"dashboard"`

	// Log configures daemon log output.
	Log LogConfig `mapstructure:"log"`
}

// DashboardConfig configures the status dashboard.
type DashboardConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LogConfig configures rotating file logging. An empty File logs to stderr.
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db_path", ".pocketsync/offline.db")
	// Empty defaults register the keys so AutomaticEnv can populate them.
	v.SetDefault("remote_url", "")
	v.SetDefault("probe_url", "")
	v.SetDefault("log.file", "")
	v.SetDefault("probe_interval", 15*time.Second)
	v.SetDefault("sync_interval", 24*time.Hour)
	v.SetDefault("call_timeout", 30*time.Second)
	v.SetDefault("retry_limit", 10)
	v.SetDefault("rate_per_sec", 20.0)
	v.SetDefault("dashboard.enabled", false)
	v.SetDefault("dashboard.port", 8990)
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 30)
}

// Load reads configuration from the given file path (optional; empty path
// uses defaults and environment only).
func Load(path string) (*Config, error) {
	cfg, _, err := load(path)
	return cfg, err
}

// Watch loads configuration and additionally invokes onChange with the
// freshly parsed config every time the file changes on disk. Requires a
// non-empty path.
func Watch(path string, onChange func(*Config)) (*Config, error) {
	cfg, v, err := load(path)
	if err != nil {
		return nil, err
	}

	v.OnConfigChange(func(_ fsnotify.Event) {
		fresh := new(Config)
		if err := v.Unmarshal(fresh); err != nil {
			return
		}
		onChange(fresh)
	})
	v.WatchConfig()

	return cfg, nil
}

func load(path string) (*Config, *viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("POCKETSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.ProbeURL == "" && cfg.RemoteURL != "" {
		cfg.ProbeURL = strings.TrimRight(cfg.RemoteURL, "/") + "/health"
	}

	return cfg, v, nil
}
