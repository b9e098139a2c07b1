package daemon

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"bemflow/internal/collab"
	"bemflow/internal/config"
	"bemflow/internal/jobconfig"
	"bemflow/internal/joblog"
	"bemflow/internal/jobs"
	"bemflow/internal/jobstore"
	"bemflow/internal/logging"
	"bemflow/internal/notifications"
	"bemflow/internal/preflight"
	"bemflow/internal/scheduler"
	"bemflow/internal/workdirs"
	"bemflow/internal/workflow"
)

// ErrAlreadyRunning reports that another daemon holds the lock.
var ErrAlreadyRunning = errors.New("another bemflow daemon instance is already running")

// Daemon owns the scheduler and enforces single-instance execution.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *jobstore.Store
	scheduler *scheduler.Scheduler
	notifier  notifications.Service

	lockPath string
	lock     *flock.Flock
	now      func() time.Time

	mu         sync.Mutex
	running    atomic.Bool
	startedAt  time.Time
	cancel     context.CancelFunc
	reaperDone chan struct{}
	checks     []preflight.Result
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	StartedAt    time.Time
	Jobs         map[jobs.Status]int
	History      map[jobs.Status]int
	DatabasePath string
	LockFilePath string
	SocketPath   string
	LogPath      string
	WorkDirs     int
	WorkBytes    int64
	Checks       []preflight.Result
}

// NewScheduler assembles the orchestrator and scheduler for cfg. The store
// records terminal jobs and backs the cleanup finalizer's history pruning.
func NewScheduler(cfg *config.Config, store *jobstore.Store, tools collab.Set, notifier notifications.Service, logger *slog.Logger) *scheduler.Scheduler {
	orchOpts := []workflow.Option{
		workflow.WithNotifier(notifier),
		workflow.WithLogger(logger),
	}
	opts := scheduler.Options{
		MaxRunning: cfg.Scheduler.MaxRunningJobs,
		Log: joblog.Options{
			Capacity:     cfg.Scheduler.LogCapacity,
			Policy:       joblog.Policy(cfg.Scheduler.LogBackpressure),
			BlockTimeout: cfg.LogBlockTimeout(),
			Replay:       cfg.Scheduler.LogReplay,
		},
		WorkRoot: cfg.Paths.WorkDir,
		LogDir:   cfg.Paths.LogDir,
		Logger:   logger,
		Notifier: notifier,
	}
	if store != nil {
		orchOpts = append(orchOpts, workflow.WithHistoryPruner(store))
		opts.Recorder = store
	}
	return scheduler.New(workflow.New(tools, orchOpts...), opts)
}

// New constructs a daemon around an assembled scheduler.
func New(cfg *config.Config, store *jobstore.Store, sched *scheduler.Scheduler, notifier notifications.Service, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || sched == nil {
		return nil, errors.New("daemon requires config and scheduler")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if notifier == nil {
		notifier = notifications.NewService(nil)
	}
	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:       cfg,
		logger:    logger.With(logging.String(logging.FieldComponent, "daemon")),
		store:     store,
		scheduler: sched,
		notifier:  notifier,
		lockPath:  lockPath,
		lock:      flock.New(lockPath),
		now:       time.Now,
	}, nil
}

// Start acquires the daemon lock, runs preflight checks, and launches the
// reaper loop.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	if err := d.cfg.EnsureDirectories(); err != nil {
		return err
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}

	d.checks = preflight.RunAll(ctx, d.cfg)
	for _, check := range preflight.Failed(d.checks) {
		logging.WarnWithContext(d.logger, "preflight check failed", "preflight_failed",
			logging.String("check", check.Name),
			logging.String("detail", check.Detail),
			logging.String(logging.FieldErrorHint, "fix the [paths] or [tools] entry in the daemon config"),
			logging.String(logging.FieldImpact, "jobs needing this resource will fail"),
		)
	}

	reapCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d.cancel = cancel
	d.reaperDone = make(chan struct{})
	go d.reapLoop(reapCtx, d.reaperDone)

	d.startedAt = d.now()
	d.running.Store(true)
	d.logger.Info("bemflow daemon started",
		logging.String("lock", d.lockPath),
		logging.Int("max_running_jobs", d.cfg.Scheduler.MaxRunningJobs),
	)
	return nil
}

// Stop shuts the scheduler down, stops the reaper, and releases the lock.
// Running jobs get cfg.ShutdownTimeout() to reach a checkpoint before their
// run context is canceled.
func (d *Daemon) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return nil
	}

	shutdownCtx := ctx
	if timeout := d.cfg.ShutdownTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	shutdownErr := d.scheduler.Shutdown(shutdownCtx)
	if shutdownErr != nil {
		logging.WarnWithContext(d.logger, "scheduler shutdown timed out", "daemon_shutdown_timeout",
			logging.Error(shutdownErr),
			logging.String(logging.FieldImpact, "running jobs were interrupted"),
		)
	}

	d.cancel()
	<-d.reaperDone
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "daemon_lock_release_failed",
			logging.Error(err),
		)
	}
	d.running.Store(false)
	d.logger.Info("bemflow daemon stopped")
	return shutdownErr
}

// Close stops the daemon and closes the history store.
func (d *Daemon) Close() error {
	stopErr := d.Stop(context.Background())
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			return err
		}
	}
	return stopErr
}

// Running reports whether Start succeeded and Stop has not run.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// Submit registers a job in the created state.
func (d *Daemon) Submit(cfg *jobconfig.Config) (string, error) {
	return d.scheduler.Submit(cfg)
}

// StartJob admits a created job.
func (d *Daemon) StartJob(id string) jobs.Status {
	return d.scheduler.Start(id)
}

// CancelJob requests cancellation of a job.
func (d *Daemon) CancelJob(id string) jobs.Status {
	return d.scheduler.Cancel(id)
}

// WaitJob blocks until a live job is terminal or ctx ends.
func (d *Daemon) WaitJob(ctx context.Context, id string) (jobs.Record, error) {
	return d.scheduler.Wait(ctx, id)
}

// Job returns a live job or, once reaped, its history entry. live reports
// which source answered.
func (d *Daemon) Job(ctx context.Context, id string) (rec jobs.Record, live bool, err error) {
	if rec, ok := d.scheduler.Snapshot(id); ok {
		return rec, true, nil
	}
	if d.store == nil {
		return jobs.Record{}, false, fmt.Errorf("job %s: %w", id, jobs.ErrUnknownJob)
	}
	entry, err := d.store.Get(ctx, id)
	if err != nil {
		return jobs.Record{}, false, err
	}
	if entry == nil {
		return jobs.Record{}, false, fmt.Errorf("job %s: %w", id, jobs.ErrUnknownJob)
	}
	return entryRecord(*entry), false, nil
}

// Jobs lists live jobs in submission order.
func (d *Daemon) Jobs() []jobs.Record {
	return d.scheduler.List()
}

// History lists recorded jobs newest first.
func (d *Daemon) History(ctx context.Context, filter jobstore.ListFilter) ([]jobs.Record, error) {
	if d.store == nil {
		return nil, errors.New("job history unavailable")
	}
	entries, err := d.store.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]jobs.Record, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryRecord(e))
	}
	return out, nil
}

// FetchLogs reads a page of a live job's log messages.
func (d *Daemon) FetchLogs(ctx context.Context, id string, since uint64, limit int, wait time.Duration) ([]joblog.Message, uint64, error) {
	return d.scheduler.FetchLogs(ctx, id, since, limit, wait)
}

// StreamLogs subscribes to a live job's log channel.
func (d *Daemon) StreamLogs(ctx context.Context, id string, since uint64) (iter.Seq[joblog.Message], error) {
	return d.scheduler.StreamLogs(ctx, id, since)
}

// TestNotification sends a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if d.cfg.Notifications.NtfyTopic == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.Publish(ctx, notifications.EventTest, nil); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	d.mu.Lock()
	startedAt := d.startedAt
	checks := d.checks
	d.mu.Unlock()

	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		StartedAt:    startedAt,
		Jobs:         d.scheduler.Stats(),
		LockFilePath: d.lockPath,
		SocketPath:   d.cfg.Paths.SocketPath,
		LogPath:      d.cfg.DaemonLogPath(),
		Checks:       checks,
	}
	if dirs, size, err := workdirs.Usage(d.cfg.Paths.WorkDir); err == nil {
		status.WorkDirs = dirs
		status.WorkBytes = size
	}
	if d.store != nil {
		status.DatabasePath = d.store.Path()
		history, err := d.store.Stats(ctx)
		if err != nil {
			logging.WarnWithContext(d.logger, "history stats unavailable", "history_stats_failed", logging.Error(err))
		}
		status.History = history
	}
	return status
}

func entryRecord(e jobstore.Entry) jobs.Record {
	return jobs.Record{
		ID:          e.ID,
		Name:        e.Name,
		Status:      e.Status,
		CreatedAt:   e.CreatedAt,
		StartedAt:   e.StartedAt,
		EndedAt:     e.EndedAt,
		FailedStage: e.FailedStage,
		ErrorDetail: e.ErrorDetail,
		Result:      e.Result,
	}
}
