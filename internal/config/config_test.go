package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"bemflow/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("BEMFLOW_NTFY_TOPIC", "")

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "bemflow")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.Paths.SocketPath != filepath.Join(wantData, "bemflow.sock") {
		t.Fatalf("unexpected socket path: %q", cfg.Paths.SocketPath)
	}
	if cfg.DatabasePath() != filepath.Join(wantData, "bemflow.db") {
		t.Fatalf("unexpected database path: %q", cfg.DatabasePath())
	}
	if cfg.Scheduler.MaxRunningJobs != config.Default().Scheduler.MaxRunningJobs {
		t.Fatalf("unexpected max running jobs: %d", cfg.Scheduler.MaxRunningJobs)
	}
	if cfg.Scheduler.LogBackpressure != config.BackpressureDropOldest {
		t.Fatalf("unexpected back-pressure default: %q", cfg.Scheduler.LogBackpressure)
	}
	if !cfg.Scheduler.LogReplay {
		t.Fatal("expected log replay enabled by default")
	}
	if cfg.Tools.SimulationWorkers != 4 {
		t.Fatalf("unexpected simulation workers: %d", cfg.Tools.SimulationWorkers)
	}
	if cfg.JobRetention() != 72*time.Hour {
		t.Fatalf("unexpected job retention: %s", cfg.JobRetention())
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}

	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.LogDir, cfg.Paths.WorkDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "bemflow.toml")

	type payload struct {
		Paths struct {
			DataDir string `toml:"data_dir"`
		} `toml:"paths"`
		Scheduler struct {
			MaxRunningJobs    int    `toml:"max_running_jobs"`
			LogBackpressure   string `toml:"log_backpressure"`
			LogBlockTimeoutMS int    `toml:"log_block_timeout_ms"`
			LogReplay         bool   `toml:"log_replay"`
		} `toml:"scheduler"`
		Tools struct {
			Simulator string `toml:"simulator"`
		} `toml:"tools"`
	}
	custom := payload{}
	custom.Paths.DataDir = filepath.Join(tempDir, "data")
	custom.Scheduler.MaxRunningJobs = 5
	custom.Scheduler.LogBackpressure = "BLOCK"
	custom.Scheduler.LogBlockTimeoutMS = 250
	custom.Scheduler.LogReplay = false
	custom.Tools.Simulator = "  sim-runner --fast  "
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if cfg.Scheduler.MaxRunningJobs != 5 {
		t.Fatalf("expected max running jobs 5, got %d", cfg.Scheduler.MaxRunningJobs)
	}
	if cfg.Scheduler.LogBackpressure != config.BackpressureBlock {
		t.Fatalf("expected normalized block policy, got %q", cfg.Scheduler.LogBackpressure)
	}
	if cfg.LogBlockTimeout() != 250*time.Millisecond {
		t.Fatalf("unexpected block timeout: %s", cfg.LogBlockTimeout())
	}
	if cfg.Tools.Simulator != "sim-runner --fast" {
		t.Fatalf("expected trimmed simulator command, got %q", cfg.Tools.Simulator)
	}
	if cfg.Paths.SocketPath != filepath.Join(tempDir, "data", "bemflow.sock") {
		t.Fatalf("expected socket under custom data dir, got %q", cfg.Paths.SocketPath)
	}
}

func TestNtfyTopicFallsBackToEnv(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("BEMFLOW_NTFY_TOPIC", " https://ntfy.sh/bemflow ")

	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Notifications.NtfyTopic != "https://ntfy.sh/bemflow" {
		t.Fatalf("expected topic from env, got %q", cfg.Notifications.NtfyTopic)
	}
}

func TestValidateRejectsInvalidSettings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{
			name:   "zero running jobs",
			mutate: func(c *config.Config) { c.Scheduler.MaxRunningJobs = 0 },
			want:   "scheduler.max_running_jobs",
		},
		{
			name:   "zero log capacity",
			mutate: func(c *config.Config) { c.Scheduler.LogCapacity = 0 },
			want:   "scheduler.log_capacity",
		},
		{
			name:   "unknown back-pressure",
			mutate: func(c *config.Config) { c.Scheduler.LogBackpressure = "spill" },
			want:   "scheduler.log_backpressure",
		},
		{
			name: "block with replay",
			mutate: func(c *config.Config) {
				c.Scheduler.LogBackpressure = config.BackpressureBlock
				c.Scheduler.LogReplay = true
			},
			want: "log_replay",
		},
		{
			name: "block without timeout",
			mutate: func(c *config.Config) {
				c.Scheduler.LogBackpressure = config.BackpressureBlock
				c.Scheduler.LogReplay = false
				c.Scheduler.LogBlockTimeoutMS = 0
			},
			want: "log_block_timeout_ms",
		},
		{
			name:   "bad log format",
			mutate: func(c *config.Config) { c.Logging.Format = "xml" },
			want:   "logging.format",
		},
		{
			name:   "retention without reap interval",
			mutate: func(c *config.Config) { c.Retention.ReapIntervalSeconds = 0 },
			want:   "retention.reap_interval_seconds",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Paths.DataDir = t.TempDir()
			cfg.Paths.WorkDir = t.TempDir()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	for _, section := range []string{"[paths]", "[scheduler]", "[tools]", "[notifications]", "[retention]", "[logging]"} {
		if !strings.Contains(string(contents), section) {
			t.Fatalf("expected sample config to contain %s", section)
		}
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("sample config should load cleanly: %v", err)
	}
	if !exists {
		t.Fatal("expected sample config to exist")
	}
	if cfg.Scheduler.LogCapacity != 1024 {
		t.Fatalf("unexpected sample log capacity: %d", cfg.Scheduler.LogCapacity)
	}
}
