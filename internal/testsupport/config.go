package testsupport

import (
	"path/filepath"
	"testing"

	"bemflow/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a daemon config seeded with unique temp directories per
// test. It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.WorkDir = filepath.Join(base, "work")
	cfgVal.Paths.SocketPath = filepath.Join(base, "bemflow.sock")
	cfgVal.Logging.Level = "debug"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithMaxRunning sets the concurrent job bound.
func WithMaxRunning(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Scheduler.MaxRunningJobs = n
	}
}

// WithLogChannel overrides the per-job log channel settings.
func WithLogChannel(capacity int, policy string, replay bool) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Scheduler.LogCapacity = capacity
		b.cfg.Scheduler.LogBackpressure = policy
		b.cfg.Scheduler.LogReplay = replay
	}
}

// WithNtfyTopic points notifications at a test server.
func WithNtfyTopic(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Notifications.NtfyTopic = url
		b.cfg.Notifications.JobStarted = true
	}
}
