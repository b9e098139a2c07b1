package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"bemflow/internal/collab"
	"bemflow/internal/jobconfig"
	"bemflow/internal/jobs"
	"bemflow/internal/logging"
	"bemflow/internal/notifications"
	"bemflow/internal/services"
)

// CancelSignal is the job's cooperative cancellation flag.
type CancelSignal interface {
	Requested() bool
}

// HistoryPruner removes job history older than a cutoff.
type HistoryPruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// Job is everything the orchestrator needs to run one job.
type Job struct {
	ID      string
	Config  *jobconfig.Config
	WorkDir string
	Cancel  CancelSignal
	Logger  *slog.Logger
	// OnStage is called before each stage that actually runs.
	OnStage func(stage string)
}

// Outcome is the terminal result of a run.
type Outcome struct {
	Status      jobs.Status
	FailedStage string
	Err         error
	Result      jobs.Result
}

// Env is the per-job state visible to stage functions.
type Env struct {
	JobID    string
	Config   *jobconfig.Config
	WorkDir  string
	Tools    collab.Set
	Outputs  *Outputs
	Logger   *slog.Logger
	Cancel   CancelSignal
	Notifier notifications.Service
	Pruner   HistoryPruner
	// Status is the job outcome so far; finalizers see the terminal value.
	Status jobs.Status
	Result *jobs.Result
	Now    func() time.Time
}

// Orchestrator executes a catalogue for one job at a time. It holds no
// per-job state and is safe to share between execution units.
type Orchestrator struct {
	catalogue *Catalogue
	tools     collab.Set
	notifier  notifications.Service
	pruner    HistoryPruner
	logger    *slog.Logger
	now       func() time.Time
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithCatalogue replaces the default stage catalogue.
func WithCatalogue(c *Catalogue) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.catalogue = c
		}
	}
}

// WithNotifier sets the notifier used by the package finalizer.
func WithNotifier(n notifications.Service) Option {
	return func(o *Orchestrator) {
		if n != nil {
			o.notifier = n
		}
	}
}

// WithHistoryPruner lets the cleanup finalizer prune job history.
func WithHistoryPruner(p HistoryPruner) Option {
	return func(o *Orchestrator) { o.pruner = p }
}

// WithLogger sets the fallback logger for jobs that bring none.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// New builds an orchestrator over the given collaborators.
func New(tools collab.Set, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		catalogue: DefaultCatalogue(),
		tools:     tools,
		notifier:  notifications.NewService(nil),
		logger:    logging.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Catalogue exposes the stage catalogue in use.
func (o *Orchestrator) Catalogue() *Catalogue {
	return o.catalogue
}

// Run executes the job's stages and finalizers. It never panics on stage
// failures; the outcome carries the terminal status.
func (o *Orchestrator) Run(ctx context.Context, job Job) Outcome {
	logger := job.Logger
	if logger == nil {
		logger = o.logger
	}
	logger = logger.With(logging.String(logging.FieldComponent, "workflow"))
	ctx = services.WithJobID(ctx, job.ID)

	if err := validateJob(job); err != nil {
		attrs := append([]logging.Attr{
			logging.String(logging.FieldEventType, "job_config_invalid"),
			logging.String(logging.FieldErrorHint, "fix the job configuration and submit again"),
		}, logging.ErrorAttrs(err)...)
		logger.Error("job configuration invalid", logging.Args(attrs...)...)
		return Outcome{Status: jobs.StatusError, Err: err}
	}

	outcome := Outcome{Status: jobs.StatusFinished}
	env := &Env{
		JobID:    job.ID,
		Config:   job.Config,
		WorkDir:  job.WorkDir,
		Tools:    o.tools,
		Outputs:  newOutputs(),
		Logger:   logger,
		Cancel:   job.Cancel,
		Notifier: o.notifier,
		Pruner:   o.pruner,
		Status:   jobs.StatusRunning,
		Result:   &outcome.Result,
		Now:      o.now,
	}

	stages, finalizers := o.catalogue.Plan(job.Config)
	logger.Info("workflow started",
		logging.String(logging.FieldEventType, "workflow_start"),
		logging.Int("stage_count", len(stages)),
		logging.Bool("iterative", job.Config.Iteration.On()),
	)

	for _, desc := range stages {
		if canceled(job.Cancel) {
			outcome.Status = jobs.StatusCanceled
			logger.Info("job canceled at stage boundary",
				logging.String(logging.FieldEventType, "job_canceled"),
				logging.String("next_stage", string(desc.Name)),
			)
			break
		}
		report, err := o.runStage(ctx, env, desc, job.OnStage)
		outcome.Result.Stages = append(outcome.Result.Stages, report)
		if err == nil {
			continue
		}
		if canceled(job.Cancel) {
			outcome.Status = jobs.StatusCanceled
			logger.Info("job canceled during stage",
				logging.String(logging.FieldEventType, "job_canceled"),
				logging.String(logging.FieldStage, string(desc.Name)),
			)
			break
		}
		if desc.Criticality == Fatal {
			outcome.Status = jobs.StatusError
			outcome.FailedStage = string(desc.Name)
			outcome.Err = err
			break
		}
	}

	env.Status = outcome.Status
	finalCtx := context.WithoutCancel(ctx)
	for _, desc := range finalizers {
		report, _ := o.runStage(finalCtx, env, desc, job.OnStage)
		outcome.Result.Stages = append(outcome.Result.Stages, report)
	}

	outcome.Result.Outputs = env.Outputs.Names()
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "workflow_complete"),
		logging.String("status", string(outcome.Status)),
		logging.Int("outputs", len(outcome.Result.Outputs)),
	}
	if outcome.FailedStage != "" {
		attrs = append(attrs, logging.String("failed_stage", outcome.FailedStage))
	}
	logger.Info("workflow finished", logging.Args(attrs...)...)
	return outcome
}

func validateJob(job Job) error {
	if job.Config == nil {
		return &jobconfig.ConfigError{Problems: []string{"job has no configuration"}}
	}
	if err := job.Config.Validate(); err != nil {
		return err
	}
	if job.WorkDir == "" {
		return services.Wrap(services.ErrConfiguration, "", "resolve work dir", "job has no work directory", nil)
	}
	return nil
}

func (o *Orchestrator) runStage(ctx context.Context, env *Env, desc Descriptor, onStage func(string)) (jobs.StageReport, error) {
	name := string(desc.Name)
	report := jobs.StageReport{
		Name:      name,
		Fatal:     desc.Criticality == Fatal,
		Finalizer: desc.Finalizer,
		Outcome:   jobs.StageSkipped,
	}
	logger := env.Logger.With(logging.String(logging.FieldStage, name))

	if !desc.Enabled(env.Config) {
		report.Reason = "disabled"
		logger.Info("stage skipped",
			logging.String(logging.FieldEventType, "stage_skipped"),
			logging.String("reason", report.Reason),
		)
		return report, nil
	}
	for _, need := range desc.Needs {
		if !env.Outputs.Has(need) {
			report.Reason = fmt.Sprintf("input unavailable: %s produced no output", need)
			logger.Info("stage skipped",
				logging.String(logging.FieldEventType, "stage_skipped"),
				logging.String("reason", report.Reason),
			)
			return report, nil
		}
	}

	if onStage != nil {
		onStage(name)
	}
	stageEnv := *env
	stageEnv.Logger = logger
	stageCtx := services.WithStage(ctx, name)

	logger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("stage_label", StageLabel(name)),
		logging.String("criticality", desc.Criticality.String()),
	)
	report.StartedAt = o.now().UTC()
	value, err := invoke(stageCtx, &stageEnv, desc)
	report.Duration = o.now().Sub(report.StartedAt)

	switch {
	case err == nil:
		env.Outputs.Set(desc.Name, value)
		report.Outcome = jobs.StageCompleted
		logger.Info("stage completed",
			logging.String(logging.FieldEventType, "stage_complete"),
			logging.Duration("stage_duration", report.Duration),
		)
		return report, nil
	case errors.Is(err, ErrInputUnavailable):
		report.Reason = err.Error()
		logger.Info("stage skipped",
			logging.String(logging.FieldEventType, "stage_skipped"),
			logging.String("reason", report.Reason),
		)
		return report, nil
	}

	report.Outcome = jobs.StageFailed
	report.Error = err.Error()
	if desc.Criticality == Fatal && !desc.Finalizer {
		attrs := append([]logging.Attr{
			logging.Duration("stage_duration", report.Duration),
		}, logging.ErrorAttrs(err)...)
		logging.ErrorWithContext(logger, "stage failed", "stage_failure", attrs...)
		return report, err
	}
	attrs := append([]logging.Attr{
		logging.String(logging.FieldImpact, "stage output is unavailable to later stages"),
		logging.Duration("stage_duration", report.Duration),
	}, logging.ErrorAttrs(err)...)
	logging.WarnWithContext(logger, "stage failed; continuing", "stage_failure_recoverable", attrs...)
	return report, err
}

func invoke(ctx context.Context, env *Env, desc Descriptor) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = services.Wrap(services.ErrStageFailure, string(desc.Name), "run", fmt.Sprintf("stage panicked: %v", r), nil)
		}
	}()
	return desc.Run(ctx, env)
}

func canceled(signal CancelSignal) bool {
	return signal != nil && signal.Requested()
}
