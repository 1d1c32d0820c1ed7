// Package config loads terminal configuration from a YAML file with
// environment overrides, and keeps the device's durable identity in a
// separate TOML file that survives data wipes.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the full terminal configuration.
type Config struct {
	// DBPath is the local document store location.
	DBPath string `mapstructure:"db_path" yaml:"db_path"`

	Gateway   GatewayConfig   `mapstructure:"gateway" yaml:"gateway"`
	Sync      SyncConfig      `mapstructure:"sync" yaml:"sync"`
	Dashboard DashboardConfig `mapstructure:"dashboard" yaml:"dashboard"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

// GatewayConfig describes the back-office endpoint.
type GatewayConfig struct {
	BaseURL string        `mapstructure:"base_url" yaml:"base_url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// SyncConfig holds the scheduler knobs.
type SyncConfig struct {
	ProbeInterval    time.Duration `mapstructure:"probe_interval" yaml:"probe_interval"`
	SyncInterval     time.Duration `mapstructure:"sync_interval" yaml:"sync_interval"`
	RetryInterval    time.Duration `mapstructure:"retry_interval" yaml:"retry_interval"`
	OfflineThreshold int           `mapstructure:"offline_threshold" yaml:"offline_threshold"`
	PageSize         int           `mapstructure:"page_size" yaml:"page_size"`
}

// DashboardConfig controls the local HTTP dashboard.
type DashboardConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// LogConfig controls file logging and rotation.
type LogConfig struct {
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() Config {
	return Config{
		DBPath: "lane.db",
		Gateway: GatewayConfig{
			BaseURL: "http://localhost:8400",
			Timeout: 10 * time.Second,
		},
		Sync: SyncConfig{
			ProbeInterval:    15 * time.Second,
			SyncInterval:     60 * time.Second,
			RetryInterval:    5 * time.Minute,
			OfflineThreshold: 3,
			PageSize:         150,
		},
		Dashboard: DashboardConfig{
			Enabled: true,
			Addr:    "127.0.0.1:7355",
		},
		Log: LogConfig{
			MaxSizeMB:  20,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}

// Load reads configuration from path. A missing file is not an error;
// defaults apply and LANESYNC_* environment variables still override.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("LANESYNC")
	v.AutomaticEnv()

	defaults := DefaultConfig()
	v.SetDefault("db_path", defaults.DBPath)
	v.SetDefault("gateway.base_url", defaults.Gateway.BaseURL)
	v.SetDefault("gateway.timeout", defaults.Gateway.Timeout)
	v.SetDefault("sync.probe_interval", defaults.Sync.ProbeInterval)
	v.SetDefault("sync.sync_interval", defaults.Sync.SyncInterval)
	v.SetDefault("sync.retry_interval", defaults.Sync.RetryInterval)
	v.SetDefault("sync.offline_threshold", defaults.Sync.OfflineThreshold)
	v.SetDefault("sync.page_size", defaults.Sync.PageSize)
	v.SetDefault("dashboard.enabled", defaults.Dashboard.Enabled)
	v.SetDefault("dashboard.addr", defaults.Dashboard.Addr)
	v.SetDefault("log.file", defaults.Log.File)
	v.SetDefault("log.max_size_mb", defaults.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", defaults.Log.MaxBackups)
	v.SetDefault("log.max_age_days", defaults.Log.MaxAgeDays)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if c.Gateway.BaseURL == "" {
		return fmt.Errorf("gateway.base_url is required")
	}
	if c.Sync.PageSize <= 0 {
		return fmt.Errorf("sync.page_size must be positive (got %d)", c.Sync.PageSize)
	}
	if c.Sync.OfflineThreshold <= 0 {
		return fmt.Errorf("sync.offline_threshold must be positive (got %d)", c.Sync.OfflineThreshold)
	}
	return nil
}

// WriteDefault renders the default configuration to path, refusing to
// overwrite an existing file. Durations are written in their
// human-readable form, so the file is templated rather than marshalled.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}

	d := DefaultConfig()
	doc := map[string]any{
		"db_path": d.DBPath,
		"gateway": map[string]any{
			"base_url": d.Gateway.BaseURL,
			"timeout":  d.Gateway.Timeout.String(),
		},
		"sync": map[string]any{
			"probe_interval":    d.Sync.ProbeInterval.String(),
			"sync_interval":     d.Sync.SyncInterval.String(),
			"retry_interval":    d.Sync.RetryInterval.String(),
			"offline_threshold": d.Sync.OfflineThreshold,
			"page_size":         d.Sync.PageSize,
		},
		"dashboard": map[string]any{
			"enabled": d.Dashboard.Enabled,
			"addr":    d.Dashboard.Addr,
		},
		"log": map[string]any{
			"file":         d.Log.File,
			"max_size_mb":  d.Log.MaxSizeMB,
			"max_backups":  d.Log.MaxBackups,
			"max_age_days": d.Log.MaxAgeDays,
		},
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to render default config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config %s: %w", path, err)
	}
	return nil
}
