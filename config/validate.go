package config

import (
	"net/url"
	"time"

	"github.com/greenlonk/chime/errors"
)

// Validate checks that the configuration can actually drive the daemon.
func (c *Config) Validate() error {
	if c.Daemon.TickIntervalSeconds <= 0 {
		return errors.Newf("daemon.tick_interval_seconds must be > 0, got %d", c.Daemon.TickIntervalSeconds)
	}
	if c.Daemon.DispatchTimeoutSeconds <= 0 {
		return errors.Newf("daemon.dispatch_timeout_seconds must be > 0, got %d", c.Daemon.DispatchTimeoutSeconds)
	}
	if c.Daemon.MisfireGraceSeconds < 0 {
		return errors.Newf("daemon.misfire_grace_seconds must be >= 0, got %d", c.Daemon.MisfireGraceSeconds)
	}

	if c.Ntfy.URL == "" {
		return errors.New("ntfy.url cannot be empty")
	}
	u, err := url.Parse(c.Ntfy.URL)
	if err != nil {
		return errors.Wrapf(err, "ntfy.url %q is not a valid URL", c.Ntfy.URL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.Newf("ntfy.url must use http or https, got %q", c.Ntfy.URL)
	}

	// Rate limit: 0 = unlimited, negative = invalid
	if c.Ntfy.RateLimitPerMinute < 0 {
		return errors.Newf("ntfy.rate_limit_per_minute must be >= 0, got %f", c.Ntfy.RateLimitPerMinute)
	}

	if c.Tasks.DefaultTimezone == "" {
		return errors.New("tasks.default_timezone cannot be empty")
	}
	if _, err := time.LoadLocation(c.Tasks.DefaultTimezone); err != nil {
		return errors.Wrapf(err, "tasks.default_timezone %q is not a loadable timezone", c.Tasks.DefaultTimezone)
	}

	if c.Tasks.DefaultSnoozeHours <= 0 {
		return errors.Newf("tasks.default_snooze_hours must be > 0, got %d", c.Tasks.DefaultSnoozeHours)
	}

	switch c.Logging.Theme {
	case "gruvbox", "everforest":
	default:
		return errors.Newf("logging.theme must be gruvbox or everforest, got %q", c.Logging.Theme)
	}

	return nil
}
