package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeScheduler()
	c.normalizeTools()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.SocketPath) == "" {
		c.Paths.SocketPath = filepath.Join(c.Paths.DataDir, "bemflow.sock")
	}
	if c.Paths.SocketPath, err = expandPath(c.Paths.SocketPath); err != nil {
		return fmt.Errorf("paths.socket: %w", err)
	}
	return nil
}

func (c *Config) normalizeScheduler() {
	c.Scheduler.LogBackpressure = strings.ToLower(strings.TrimSpace(c.Scheduler.LogBackpressure))
	if c.Scheduler.LogBackpressure == "" {
		c.Scheduler.LogBackpressure = defaultLogBackpressure
	}
	if c.Scheduler.ShutdownTimeoutSeconds <= 0 {
		c.Scheduler.ShutdownTimeoutSeconds = defaultShutdownTimeout
	}
}

func (c *Config) normalizeTools() {
	for _, cmd := range []*string{
		&c.Tools.BuildingProvider,
		&c.Tools.Simulator,
		&c.Tools.Parser,
		&c.Tools.Aggregator,
		&c.Tools.Validator,
		&c.Tools.Modifier,
		&c.Tools.Sensitivity,
		&c.Tools.Surrogate,
		&c.Tools.Calibrator,
		&c.Tools.Overrides,
		&c.Tools.Packager,
	} {
		*cmd = strings.TrimSpace(*cmd)
	}
	if c.Tools.SimulationWorkers <= 0 {
		c.Tools.SimulationWorkers = defaultSimulationWorkers
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("BEMFLOW_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
}

func (c *Config) normalizeLogging() {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if format == "" {
		format = defaultLogFormat
	}
	c.Logging.Format = format

	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if level == "" {
		level = defaultLogLevel
	}
	c.Logging.Level = level
}
