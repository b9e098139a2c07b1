package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateScheduler(); err != nil {
		return err
	}
	if err := c.validateTools(); err != nil {
		return err
	}
	if err := c.validateRetention(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if c.Paths.DataDir == "" {
		return errors.New("paths.data_dir must be set")
	}
	if c.Paths.WorkDir == "" {
		return errors.New("paths.work_dir must be set")
	}
	return nil
}

func (c *Config) validateScheduler() error {
	s := c.Scheduler
	if s.MaxRunningJobs <= 0 {
		return errors.New("scheduler.max_running_jobs must be positive")
	}
	if s.LogCapacity <= 0 {
		return errors.New("scheduler.log_capacity must be positive")
	}
	switch s.LogBackpressure {
	case BackpressureDropOldest:
	case BackpressureBlock:
		if s.LogBlockTimeoutMS <= 0 {
			return errors.New("scheduler.log_block_timeout_ms must be positive when log_backpressure is block")
		}
		// Replayed messages are never consumed, so a blocked producer would
		// always wait out its full timeout.
		if s.LogReplay {
			return errors.New("scheduler.log_backpressure = \"block\" cannot be combined with log_replay")
		}
	default:
		return fmt.Errorf("scheduler.log_backpressure: unsupported value %q (want %q or %q)", s.LogBackpressure, BackpressureDropOldest, BackpressureBlock)
	}
	return nil
}

func (c *Config) validateTools() error {
	if c.Tools.TimeoutSeconds < 0 {
		return errors.New("tools.timeout_seconds must be zero (no limit) or positive")
	}
	return nil
}

func (c *Config) validateRetention() error {
	if c.Retention.JobRetentionHours < 0 {
		return errors.New("retention.job_retention_hours must be zero (disabled) or positive")
	}
	if c.Retention.HistoryRetentionDays < 0 {
		return errors.New("retention.history_retention_days must be zero (keep forever) or positive")
	}
	if c.Retention.JobRetentionHours > 0 && c.Retention.ReapIntervalSeconds <= 0 {
		return errors.New("retention.reap_interval_seconds must be positive when job retention is enabled")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.DedupWindowSeconds < 0 {
		return errors.New("notifications.dedup_window_seconds must be zero or positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must be zero (disabled) or positive")
	}
	return nil
}
