package config

import (
	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	// Daemon defaults
	v.SetDefault("daemon.tick_interval_seconds", 1)
	v.SetDefault("daemon.dispatch_timeout_seconds", 10)
	v.SetDefault("daemon.misfire_grace_seconds", 60)

	// Database defaults: empty path resolves to ~/.chime/chime.db
	v.SetDefault("database.path", "")

	// Ntfy defaults
	v.SetDefault("ntfy.url", "https://ntfy.sh")
	v.SetDefault("ntfy.rate_limit_per_minute", 60.0)
	// Self-hosted servers commonly live on LAN addresses
	v.SetDefault("ntfy.allow_private_hosts", true)

	// Exec hook is off until a command is configured
	v.SetDefault("exec.command", "")

	// Task defaults
	v.SetDefault("tasks.default_timezone", "Europe/Berlin")
	v.SetDefault("tasks.default_snooze_hours", 24)

	// Logging defaults
	v.SetDefault("logging.json", false)
	v.SetDefault("logging.theme", "gruvbox")
}

// BindSensitiveEnvVars explicitly binds sensitive or legacy
// configuration to environment variables. The ntfy token is env-only so
// it never lands in a config file; NTFY_URL and TZ are honored as
// fallbacks for setups predating the config file.
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("ntfy.token", "CHIME_NTFY_TOKEN")
	v.BindEnv("ntfy.url", "CHIME_NTFY_URL", "NTFY_URL")
	v.BindEnv("database.path", "CHIME_DATABASE_PATH")
	v.BindEnv("tasks.default_timezone", "CHIME_TASKS_DEFAULT_TIMEZONE", "TZ")
}
