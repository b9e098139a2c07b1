package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"bemflow/internal/jobconfig"
	"bemflow/internal/joblog"
	"bemflow/internal/jobs"
	"bemflow/internal/logging"
	"bemflow/internal/notifications"
	"bemflow/internal/services"
	"bemflow/internal/workflow"
)

// ErrShuttingDown rejects submissions and starts after Shutdown began.
var ErrShuttingDown = errors.New("scheduler is shutting down")

// Runner executes one job to a terminal outcome. *workflow.Orchestrator
// satisfies it.
type Runner interface {
	Run(ctx context.Context, job workflow.Job) workflow.Outcome
}

// Recorder persists terminal job snapshots.
type Recorder interface {
	RecordJob(ctx context.Context, rec jobs.Record) error
}

// Options configures a Scheduler.
type Options struct {
	MaxRunning int
	Log        joblog.Options
	// WorkRoot holds one work directory per job.
	WorkRoot string
	// LogDir receives per-job JSON log files; empty disables them.
	LogDir   string
	Logger   *slog.Logger
	Notifier notifications.Service
	Recorder Recorder
	NewID    func() string
}

// Scheduler admits jobs against the concurrency bound and runs each admitted
// job in its own execution unit.
type Scheduler struct {
	registry *jobs.Registry
	runner   Runner
	opts     Options
	base     *slog.Logger
	logger   *slog.Logger
	notifier notifications.Service

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	closing bool
	done    map[string]chan struct{}
}

// New builds a scheduler around runner.
func New(runner Runner, opts Options) *Scheduler {
	if opts.MaxRunning < 1 {
		opts.MaxRunning = 1
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if strings.TrimSpace(opts.WorkRoot) == "" {
		opts.WorkRoot = filepath.Join(os.TempDir(), "bemflow-work")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notifications.NewService(nil)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		registry: jobs.NewRegistry(opts.MaxRunning),
		runner:   runner,
		opts:     opts,
		base:     logger,
		logger:   logger.With(logging.String(logging.FieldComponent, "scheduler")),
		notifier: notifier,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(map[string]chan struct{}),
	}
}

// Registry exposes the job registry.
func (s *Scheduler) Registry() *jobs.Registry {
	return s.registry
}

// Submit registers a job in the created state and returns its ID. The
// configuration is validated when the job runs, not here.
func (s *Scheduler) Submit(cfg *jobconfig.Config) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return "", ErrShuttingDown
	}
	id := s.opts.NewID()
	rec := jobs.NewRecord(id, cfg, s.opts.Log, time.Now())
	if err := s.registry.Add(rec); err != nil {
		return "", err
	}
	s.done[id] = make(chan struct{})
	s.logger.Info("job submitted",
		logging.String(logging.FieldJobID, id),
		logging.String("name", rec.Name),
		logging.String(logging.FieldEventType, "job_submitted"),
	)
	return id, nil
}

// Start admits a created job: it runs now when a slot is free and queues
// otherwise. Any other state is a logged no-op; the current status is
// returned either way.
func (s *Scheduler) Start(id string) jobs.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	logger := s.logger.With(logging.String(logging.FieldJobID, id))
	if s.closing {
		logging.WarnWithContext(logger, "start ignored during shutdown", "job_start_rejected",
			logging.String(logging.FieldImpact, "job stays in created"),
		)
		status, _ := s.registry.Get(id)
		return status.Status
	}

	status, err := s.registry.Admit(id)
	if err != nil {
		s.checkInvariant(err)
		var transition *jobs.TransitionError
		switch {
		case errors.Is(err, jobs.ErrUnknownJob):
			logging.WarnWithContext(logger, "start requested for unknown job", "job_start_rejected",
				logging.String(logging.FieldErrorHint, "list jobs to find a valid id"),
			)
		case errors.As(err, &transition):
			logging.WarnWithContext(logger, "start ignored; job already started", "job_start_rejected",
				logging.String("status", string(transition.From)),
			)
		default:
			logger.Error("start failed", logging.Error(err))
		}
		return status
	}

	logger.Info("job admitted",
		logging.String("status", string(status)),
		logging.Int("running", s.registry.RunningCount()),
		logging.String(logging.FieldEventType, "job_admitted"),
	)
	if status == jobs.StatusRunning {
		rec, _ := s.registry.Get(id)
		s.launch(rec)
	}
	return status
}

// Cancel requests cancellation. Queued jobs end immediately; running jobs
// stop at the next checkpoint; created jobs are canceled once started.
func (s *Scheduler) Cancel(id string) jobs.Status {
	rec, ok := s.registry.Get(id)
	if !ok {
		logging.WarnWithContext(s.logger, "cancel requested for unknown job", "job_cancel_rejected",
			logging.String(logging.FieldJobID, id),
		)
		return ""
	}
	if rec.Status.IsTerminal() {
		s.logger.Debug("cancel ignored; job already ended",
			logging.String(logging.FieldJobID, id),
			logging.String("status", string(rec.Status)),
		)
		return rec.Status
	}

	rec.Token.Cancel()
	canceled, err := s.registry.CancelQueued(id)
	if err != nil {
		s.checkInvariant(err)
		s.logger.Error("cancel failed", logging.String(logging.FieldJobID, id), logging.Error(err))
	}
	if canceled {
		final, _ := s.registry.Get(id)
		logger, closer := s.jobLogger(final)
		logger.Info("job canceled while queued", logging.String(logging.FieldEventType, "job_canceled"))
		_ = closer.Close()
		s.finish(final)
		return final.Status
	}

	s.logger.Info("cancellation requested",
		logging.String(logging.FieldJobID, id),
		logging.String("status", string(rec.Status)),
		logging.String(logging.FieldEventType, "job_cancel_requested"),
	)
	current, _ := s.registry.Get(id)
	return current.Status
}

// QueryStatus returns the job's status.
func (s *Scheduler) QueryStatus(id string) (jobs.Status, bool) {
	rec, ok := s.registry.Get(id)
	return rec.Status, ok
}

// Snapshot returns a copy of the job record.
func (s *Scheduler) Snapshot(id string) (jobs.Record, bool) {
	return s.registry.Get(id)
}

// List returns every known job in submission order.
func (s *Scheduler) List() []jobs.Record {
	return s.registry.List()
}

// Stats counts jobs per status.
func (s *Scheduler) Stats() map[jobs.Status]int {
	out := make(map[jobs.Status]int, len(jobs.AllStatuses()))
	for _, rec := range s.registry.List() {
		out[rec.Status]++
	}
	return out
}

// StreamLogs iterates the job's log from since until the end sentinel or
// ctx ends.
func (s *Scheduler) StreamLogs(ctx context.Context, id string, since uint64) (iter.Seq[joblog.Message], error) {
	rec, ok := s.registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("stream logs %s: %w", id, jobs.ErrUnknownJob)
	}
	return rec.Log.Subscribe(ctx, since), nil
}

// FetchLogs returns one page of the job's log, waiting up to wait for news.
// A wait that elapses without news yields an empty page and no error.
func (s *Scheduler) FetchLogs(ctx context.Context, id string, since uint64, limit int, wait time.Duration) ([]joblog.Message, uint64, error) {
	rec, ok := s.registry.Get(id)
	if !ok {
		return nil, since, fmt.Errorf("fetch logs %s: %w", id, jobs.ErrUnknownJob)
	}
	if wait <= 0 {
		return rec.Log.Fetch(ctx, since, limit, false)
	}
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	msgs, next, err := rec.Log.Fetch(waitCtx, since, limit, true)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return nil, since, nil
	}
	return msgs, next, err
}

// Wait blocks until the job is terminal or ctx ends.
func (s *Scheduler) Wait(ctx context.Context, id string) (jobs.Record, error) {
	s.mu.Lock()
	done, ok := s.done[id]
	s.mu.Unlock()
	if !ok {
		return jobs.Record{}, fmt.Errorf("wait %s: %w", id, jobs.ErrUnknownJob)
	}
	select {
	case <-done:
		rec, _ := s.registry.Get(id)
		return rec, nil
	case <-ctx.Done():
		return jobs.Record{}, services.Wrap(services.ErrTimeout, "", "wait", "job "+id+" still active", ctx.Err())
	}
}

// Reap drops terminal jobs that ended before the cutoff.
func (s *Scheduler) Reap(before time.Time) []string {
	ids := s.registry.Reap(before)
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	for _, id := range ids {
		delete(s.done, id)
	}
	s.mu.Unlock()
	s.logger.Info("terminal jobs reaped",
		logging.Int("count", len(ids)),
		logging.String(logging.FieldEventType, "jobs_reaped"),
	)
	return ids
}

// Shutdown rejects new work, cancels every active job, and waits for the
// execution units. When ctx ends first the shared run context is canceled
// and ctx's error is returned.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	active := 0
	for _, rec := range s.registry.List() {
		if rec.Status.IsTerminal() {
			continue
		}
		active++
		s.Cancel(rec.ID)
	}
	s.logger.Info("scheduler shutting down",
		logging.Int("active_jobs", active),
		logging.String(logging.FieldEventType, "scheduler_shutdown"),
	)

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		logging.WarnWithContext(s.logger, "shutdown timed out; interrupting running jobs", "scheduler_shutdown_timeout",
			logging.String(logging.FieldImpact, "running jobs end through context cancellation"),
		)
		<-drained
		return ctx.Err()
	}
}

// launch starts the execution unit for a running record. Callers hold s.mu
// or run inside another execution unit.
func (s *Scheduler) launch(rec jobs.Record) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(rec)
	}()
}

func (s *Scheduler) execute(rec jobs.Record) {
	logger, closer := s.jobLogger(rec)
	defer func() { _ = closer.Close() }()

	s.publish(notifications.EventJobStarted, rec, "")
	logger.Info("job started", logging.String(logging.FieldEventType, "job_start"))

	outcome := s.runner.Run(s.ctx, workflow.Job{
		ID:      rec.ID,
		Config:  rec.Config,
		WorkDir: filepath.Join(s.opts.WorkRoot, rec.ID),
		Cancel:  rec.Token,
		Logger:  logger,
		OnStage: func(stage string) { s.registry.SetStage(rec.ID, stage) },
	})

	detail := ""
	if outcome.Err != nil {
		detail = outcome.Err.Error()
	}
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "job_complete"),
		logging.String("status", string(outcome.Status)),
	}
	switch outcome.Status {
	case jobs.StatusError:
		attrs = append(attrs, logging.String("failed_stage", outcome.FailedStage))
		attrs = append(attrs, logging.ErrorAttrs(outcome.Err)...)
		logger.Error("job failed", logging.Args(attrs...)...)
	default:
		logger.Info("job ended", logging.Args(attrs...)...)
	}

	promoted, ok, err := s.registry.Complete(rec.ID, outcome.Status, jobs.Outcome{
		FailedStage: outcome.FailedStage,
		ErrorDetail: detail,
		Result:      outcome.Result,
	})
	if err != nil {
		s.checkInvariant(err)
		logger.Error("terminal transition rejected", logging.Error(err))
	}
	if ok {
		s.logger.Info("queued job promoted",
			logging.String(logging.FieldJobID, promoted.ID),
			logging.String("freed_by", rec.ID),
			logging.String(logging.FieldEventType, "job_promoted"),
		)
		s.launch(promoted)
	}

	final, _ := s.registry.Get(rec.ID)
	s.finish(final)
}

// finish closes the job log, persists the snapshot, wakes waiters, and
// publishes the end notification.
func (s *Scheduler) finish(rec jobs.Record) {
	rec.Log.Close()

	if s.opts.Recorder != nil {
		if err := s.opts.Recorder.RecordJob(context.WithoutCancel(s.ctx), rec); err != nil {
			logging.WarnWithContext(s.logger, "job history write failed", "job_history_failed",
				logging.String(logging.FieldJobID, rec.ID),
				logging.String(logging.FieldImpact, "job is missing from history"),
				logging.Error(err),
			)
		}
	}

	s.mu.Lock()
	if done, ok := s.done[rec.ID]; ok {
		select {
		case <-done:
		default:
			close(done)
		}
	}
	s.mu.Unlock()

	switch rec.Status {
	case jobs.StatusFinished:
		s.publish(notifications.EventJobFinished, rec, "")
	case jobs.StatusError:
		s.publish(notifications.EventJobFailed, rec, rec.ErrorDetail)
	case jobs.StatusCanceled:
		s.publish(notifications.EventJobCanceled, rec, "")
	}
}

func (s *Scheduler) publish(event notifications.Event, rec jobs.Record, errDetail string) {
	payload := notifications.Payload{
		"job_id": rec.ID,
		"name":   rec.Name,
	}
	if rec.FailedStage != "" {
		payload["stage"] = rec.FailedStage
	}
	if errDetail != "" {
		payload["error"] = errDetail
	}
	if !rec.EndedAt.IsZero() {
		payload["duration"] = rec.Duration(rec.EndedAt).Round(time.Second).String()
	}
	if err := s.notifier.Publish(context.WithoutCancel(s.ctx), event, payload); err != nil {
		s.logger.Debug("notification failed",
			logging.String(logging.FieldJobID, rec.ID),
			logging.String("event", string(event)),
			logging.Error(err),
		)
	}
}

// jobLogger joins the daemon logger with the job's log channel and JSON log
// file. The job's log_level filters only the job's own sinks.
func (s *Scheduler) jobLogger(rec jobs.Record) (*slog.Logger, io.Closer) {
	name := ""
	if rec.Config != nil {
		name = rec.Config.LogLevel
	}
	level := logging.JobLevel(name, s.base)
	logger, closer, err := logging.NewJobLogger(s.base, logging.JobLoggerOptions{
		JobID:  rec.ID,
		Level:  level,
		LogDir: s.opts.LogDir,
		Sinks:  []slog.Handler{joblog.NewHandler(rec.Log, level)},
	})
	if err != nil {
		logging.WarnWithContext(s.logger, "job log file unavailable", "job_log_file_failed",
			logging.String(logging.FieldJobID, rec.ID),
			logging.String(logging.FieldImpact, "job log is only kept in memory"),
			logging.Error(err),
		)
	}
	return logger.With(logging.String(logging.FieldComponent, "job")), closer
}

// checkInvariant panics on registry invariant violations; they mean the
// scheduler's bookkeeping is corrupt.
func (s *Scheduler) checkInvariant(err error) {
	var inv *jobs.RegistryInvariantError
	if errors.As(err, &inv) {
		logging.ErrorWithContext(s.logger, "registry invariant violated", "registry_invariant",
			logging.String("invariant", inv.Invariant),
			logging.String("detail", inv.Detail),
		)
		panic(inv)
	}
}
