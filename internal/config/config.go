package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and socket configuration.
type Paths struct {
	DataDir    string `toml:"data_dir"`
	LogDir     string `toml:"log_dir"`
	WorkDir    string `toml:"work_dir"`
	SocketPath string `toml:"socket"`
}

// Scheduler contains admission control and log channel settings.
type Scheduler struct {
	MaxRunningJobs         int    `toml:"max_running_jobs"`
	LogCapacity            int    `toml:"log_capacity"`
	LogBackpressure        string `toml:"log_backpressure"`
	LogBlockTimeoutMS      int    `toml:"log_block_timeout_ms"`
	LogReplay              bool   `toml:"log_replay"`
	ShutdownTimeoutSeconds int    `toml:"shutdown_timeout_seconds"`
}

// Tools maps each collaborator to the external command implementing it. An
// empty command leaves the collaborator unavailable; jobs that enable a stage
// needing it fail configuration checks before any stage runs.
type Tools struct {
	BuildingProvider  string `toml:"building_provider"`
	Simulator         string `toml:"simulator"`
	Parser            string `toml:"parser"`
	Aggregator        string `toml:"aggregator"`
	Validator         string `toml:"validator"`
	Modifier          string `toml:"modifier"`
	Sensitivity       string `toml:"sensitivity"`
	Surrogate         string `toml:"surrogate"`
	Calibrator        string `toml:"calibrator"`
	Overrides         string `toml:"overrides"`
	Packager          string `toml:"packager"`
	SimulationWorkers int    `toml:"simulation_workers"`
	TimeoutSeconds    int    `toml:"timeout_seconds"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic          string `toml:"ntfy_topic"`
	RequestTimeout     int    `toml:"request_timeout"`
	JobStarted         bool   `toml:"job_started"`
	JobFinished        bool   `toml:"job_finished"`
	JobFailed          bool   `toml:"job_failed"`
	JobCanceled        bool   `toml:"job_canceled"`
	DedupWindowSeconds int    `toml:"dedup_window_seconds"`
}

// Retention controls how long terminal jobs are kept in memory and in the
// history database.
type Retention struct {
	JobRetentionHours    int `toml:"job_retention_hours"`
	ReapIntervalSeconds  int `toml:"reap_interval_seconds"`
	HistoryRetentionDays int `toml:"history_retention_days"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for the bemflow daemon.
//
// Configuration sections by subsystem:
//   - Paths: data, log, and per-job work directories plus the IPC socket
//   - Scheduler: concurrency bound and log channel back-pressure
//   - Tools: external commands backing each collaborator
//   - Notifications: ntfy push notification settings
//   - Retention: reaping of terminal jobs
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Scheduler     Scheduler     `toml:"scheduler"`
	Tools         Tools         `toml:"tools"`
	Notifications Notifications `toml:"notifications"`
	Retention     Retention     `toml:"retention"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/bemflow/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("bemflow.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir, c.Paths.WorkDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the job history database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "bemflow.db")
}

// LockPath returns the daemon single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "bemflow.lock")
}

// PIDPath returns the daemon process ID file location.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.DataDir, "bemflow.pid")
}

// DaemonLogPath returns the daemon log file location.
func (c *Config) DaemonLogPath() string {
	return filepath.Join(c.Paths.LogDir, "bemflow.log")
}

// JobWorkDir returns the working directory for a single job.
func (c *Config) JobWorkDir(jobID string) string {
	return filepath.Join(c.Paths.WorkDir, jobID)
}

// LogBlockTimeout returns the block back-pressure wait as a duration.
func (c *Config) LogBlockTimeout() time.Duration {
	return time.Duration(c.Scheduler.LogBlockTimeoutMS) * time.Millisecond
}

// ToolTimeout returns the per-invocation external tool timeout.
func (c *Config) ToolTimeout() time.Duration {
	return time.Duration(c.Tools.TimeoutSeconds) * time.Second
}

// JobRetention returns how long terminal jobs are retained.
func (c *Config) JobRetention() time.Duration {
	return time.Duration(c.Retention.JobRetentionHours) * time.Hour
}

// HistoryRetention returns how long job history rows are kept. Zero keeps
// them forever.
func (c *Config) HistoryRetention() time.Duration {
	return time.Duration(c.Retention.HistoryRetentionDays) * 24 * time.Hour
}

// LogRetention returns how long per-job log files are kept. Zero keeps them
// forever.
func (c *Config) LogRetention() time.Duration {
	return time.Duration(c.Logging.RetentionDays) * 24 * time.Hour
}

// ShutdownTimeout bounds how long the daemon waits for running jobs on stop.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Scheduler.ShutdownTimeoutSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
