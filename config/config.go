// Package config loads and watches the chime configuration: TOML files
// merged with CHIME_-prefixed environment variables.
package config

import (
	"os"
	"path/filepath"
	"time"
)

// Config is the full chime configuration.
type Config struct {
	Daemon   DaemonConfig   `mapstructure:"daemon"`
	Database DatabaseConfig `mapstructure:"database"`
	Ntfy     NtfyConfig     `mapstructure:"ntfy"`
	Exec     ExecConfig     `mapstructure:"exec"`
	Tasks    TasksConfig    `mapstructure:"tasks"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// DaemonConfig tunes the scheduler loop.
type DaemonConfig struct {
	TickIntervalSeconds    int `mapstructure:"tick_interval_seconds"`    // due-job scan cadence (default: 1)
	DispatchTimeoutSeconds int `mapstructure:"dispatch_timeout_seconds"` // per-delivery bound (default: 10)
	MisfireGraceSeconds    int `mapstructure:"misfire_grace_seconds"`    // default per-task grace (default: 60)
}

// DatabaseConfig configures the SQLite database.
type DatabaseConfig struct {
	Path string `mapstructure:"path"` // empty = ~/.chime/chime.db
}

// NtfyConfig configures notification delivery.
type NtfyConfig struct {
	URL                string  `mapstructure:"url"`
	Token              string  `mapstructure:"token"` // env-only: CHIME_NTFY_TOKEN
	RateLimitPerMinute float64 `mapstructure:"rate_limit_per_minute"`
	AllowPrivateHosts  bool    `mapstructure:"allow_private_hosts"`
}

// ExecConfig configures the optional exec-hook delivery channel.
type ExecConfig struct {
	Command string `mapstructure:"command"` // empty = hook disabled
}

// TasksConfig supplies task defaults.
type TasksConfig struct {
	DefaultTimezone    string `mapstructure:"default_timezone"`
	DefaultSnoozeHours int    `mapstructure:"default_snooze_hours"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	JSON  bool   `mapstructure:"json"`
	Theme string `mapstructure:"theme"` // gruvbox, everforest
}

// File system constants
const (
	DefaultDirPermissions  = 0755
	DefaultFilePermissions = 0644
)

// TickInterval returns the scheduler scan cadence.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Daemon.TickIntervalSeconds) * time.Second
}

// DispatchTimeout returns the per-delivery bound.
func (c *Config) DispatchTimeout() time.Duration {
	return time.Duration(c.Daemon.DispatchTimeoutSeconds) * time.Second
}

// MisfireGrace returns the default per-task misfire grace.
func (c *Config) MisfireGrace() time.Duration {
	return time.Duration(c.Daemon.MisfireGraceSeconds) * time.Second
}

// SnoozeDuration returns the default snooze length.
func (c *Config) SnoozeDuration() time.Duration {
	return time.Duration(c.Tasks.DefaultSnoozeHours) * time.Hour
}

// DatabasePath resolves the database location. An empty configured path
// falls back to ~/.chime/chime.db, or ./chime.db when the home
// directory cannot be determined.
func (c *Config) DatabasePath() string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "chime.db"
	}
	return filepath.Join(home, ".chime", "chime.db")
}
