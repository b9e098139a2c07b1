package iteration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"bemflow/internal/collab"
	"bemflow/internal/logging"
	"bemflow/internal/services"
)

// CancelSignal is the cooperative cancellation flag polled between sub-steps.
type CancelSignal interface {
	Requested() bool
}

// Executor runs the sub-steps of a round against the external collaborators.
// Implementations scope each call to the round's selection.
type Executor interface {
	Modify(ctx context.Context, round int, buildings collab.BuildingSet, intensity collab.Intensity, base collab.Parameters) (collab.VariantSet, error)
	Resimulate(ctx context.Context, round int, buildings collab.BuildingSet, variants collab.VariantSet, base collab.Parameters) (collab.SimulationBatch, error)
	Reparse(ctx context.Context, round int, batch collab.SimulationBatch) (collab.Tables, error)
	Revalidate(ctx context.Context, round int, tables collab.Tables, selection []string) (collab.ValidationReport, error)
}

// Recommender produces calibration feedback that is merged into the next
// round's base parameters. A nil result means no recommendation.
type Recommender interface {
	Recommend(ctx context.Context, round int, tables collab.Tables, report collab.ValidationReport, base collab.Parameters) (collab.Parameters, error)
}

// Settings configures a Controller.
type Settings struct {
	Strategy               Strategy
	TopK                   int
	Schedule               Schedule
	Criterion              Criterion
	MaxConsecutiveFailures int
}

// Validate checks the settings before any round runs.
func (s Settings) Validate() error {
	if _, ok := strategyTable[s.Strategy]; !ok {
		return fmt.Errorf("unknown strategy %q", s.Strategy)
	}
	if err := s.Schedule.Validate(); err != nil {
		return err
	}
	if err := s.Criterion.Validate(); err != nil {
		return err
	}
	if s.MaxConsecutiveFailures < 0 {
		return errors.New("max consecutive failures must not be negative")
	}
	return nil
}

// Input is the starting point of a loop.
type Input struct {
	// Buildings is the initial building set; round 0 targets all of it.
	Buildings collab.BuildingSet
	// Parameters is the base parameter set before any feedback.
	Parameters collab.Parameters
	// Baseline is the validation report from the one-shot validate stage,
	// when it ran. It seeds target selection but not the metric history.
	Baseline *collab.ValidationReport
}

// Round records one pass of the loop.
type Round struct {
	Index       int              `json:"index"`
	Selection   []string         `json:"selection"`
	Intensity   collab.Intensity `json:"intensity"`
	Metric      float64          `json:"metric,omitempty"`
	Improvement float64          `json:"improvement,omitempty"`
	Patience    int              `json:"patience"`
	Failed      bool             `json:"failed,omitempty"`
	FailedStep  string           `json:"failed_step,omitempty"`
	Error       string           `json:"error,omitempty"`
	Duration    time.Duration    `json:"duration"`
}

// Result is the loop's output.
type Result struct {
	Rounds     []Round                  `json:"rounds"`
	History    []float64                `json:"history"`
	StopReason StopReason               `json:"stop_reason"`
	Report     *collab.ValidationReport `json:"report,omitempty"`
	Tables     *collab.Tables           `json:"tables,omitempty"`
	Parameters collab.Parameters        `json:"parameters,omitempty"`
}

// Controller runs the refinement loop for one job.
type Controller struct {
	settings    Settings
	exec        Executor
	recommender Recommender
	logger      *slog.Logger
}

// Option customizes a Controller.
type Option func(*Controller)

// WithRecommender enables calibration feedback between rounds.
func WithRecommender(r Recommender) Option {
	return func(c *Controller) { c.recommender = r }
}

// WithLogger sets the logger used for round events.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New validates settings and builds a Controller.
func New(settings Settings, exec Executor, opts ...Option) (*Controller, error) {
	if exec == nil {
		return nil, errors.New("iteration executor is required")
	}
	if settings.MaxConsecutiveFailures == 0 {
		settings.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}
	if err := settings.Validate(); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "iterate", "validate settings", "invalid iteration settings", err)
	}
	c := &Controller{settings: settings, exec: exec, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type roundOutput struct {
	tables collab.Tables
	report collab.ValidationReport
}

var errCanceled = errors.New("round canceled")

// Run executes rounds until a stop condition fires. The returned error is
// non-nil only when consecutive round failures forced a hard stop; ordinary
// round failures are recorded in Result.Rounds. Cancellation is reported as
// StopCanceled with a nil error.
func (c *Controller) Run(ctx context.Context, cancel CancelSignal, in Input) (Result, error) {
	var (
		result    = Result{Parameters: in.Parameters}
		state     State
		views     []collab.ValidationReport
		current   *collab.ValidationReport
		lastLevel collab.Intensity
		lastErr   error
		previous  []string
		retry     bool
	)
	if in.Baseline != nil {
		views = append(views, *in.Baseline)
		current = in.Baseline
	}

	for {
		if cancel != nil && cancel.Requested() {
			result.StopReason = StopCanceled
			break
		}

		// A failed round leaves no report to select from, so its targets carry over.
		var selection []string
		switch {
		case state.Round == 0:
			selection = in.Buildings.IDs()
		case retry || len(views) == 0:
			selection = previous
		default:
			selection = c.settings.Strategy.Select(views, c.settings.TopK)
		}
		if len(selection) == 0 {
			result.StopReason = StopNoTargets
			c.logger.Info("iteration found no targets",
				logging.Int(logging.FieldRound, state.Round),
				logging.String("strategy", string(c.settings.Strategy)),
				logging.String(logging.FieldEventType, "iteration_no_targets"),
			)
			break
		}

		intensity := max(c.settings.Schedule.At(state.Round), lastLevel)
		lastLevel = intensity

		round := Round{Index: state.Round, Selection: selection, Intensity: intensity}
		logger := c.logger.With(logging.Int(logging.FieldRound, state.Round))
		logger.Info("round started",
			logging.String(logging.FieldEventType, "round_start"),
			logging.Int("selection_size", len(selection)),
			logging.String("intensity", intensity.String()),
		)

		started := time.Now()
		out, step, err := c.runRound(ctx, cancel, state.Round, in.Buildings.Subset(selection), selection, intensity, result.Parameters)
		round.Duration = time.Since(started)
		if errors.Is(err, errCanceled) {
			result.StopReason = StopCanceled
			logger.Info("round interrupted by cancellation",
				logging.String(logging.FieldEventType, "round_canceled"),
				logging.String("step", step),
			)
			break
		}

		var decision Decision
		if err != nil {
			lastErr = err
			round.Failed = true
			round.FailedStep = step
			round.Error = err.Error()
			decision = c.settings.Criterion.ObserveFailure(&state, c.settings.MaxConsecutiveFailures)
			round.Patience = state.Patience
			attrs := append([]logging.Attr{
				logging.String("step", step),
				logging.Int("consecutive_failures", state.ConsecutiveFailures),
				logging.String(logging.FieldImpact, "round produced no metric; patience consumed"),
			}, logging.ErrorAttrs(err)...)
			logging.WarnWithContext(logger, "round failed", "round_failed", attrs...)
		} else {
			decision = c.settings.Criterion.Observe(&state, out.report.Metric)
			round.Metric = out.report.Metric
			round.Improvement = decision.Improvement
			round.Patience = state.Patience
			merged := mergeView(current, out.report)
			views = append(views, merged)
			current = &views[len(views)-1]
			tables := out.tables
			result.Report = current
			result.Tables = &tables
			logger.Info("round completed",
				logging.String(logging.FieldEventType, "round_complete"),
				logging.Float64("metric", out.report.Metric),
				logging.Float64("improvement", decision.Improvement),
				logging.Bool("has_previous", decision.HasPrevious),
				logging.Int("patience", state.Patience),
				logging.Duration("round_duration", round.Duration),
			)
		}
		result.Rounds = append(result.Rounds, round)

		if decision.Stop {
			result.StopReason = decision.Reason
			break
		}

		previous = selection
		retry = round.Failed
		if !round.Failed && c.recommender != nil {
			result.Parameters = c.applyFeedback(ctx, logger, state.Round, out, result.Parameters)
		}
		state.Round++
	}

	result.History = state.History
	c.logger.Info("iteration stopped",
		logging.String(logging.FieldEventType, "iteration_stopped"),
		logging.String("stop_reason", string(result.StopReason)),
		logging.Int("rounds", len(result.Rounds)),
	)
	if result.StopReason == StopConsecutiveFailures {
		return result, services.Wrap(services.ErrStageFailure, "iterate", "run rounds",
			fmt.Sprintf("%d consecutive round failures", state.ConsecutiveFailures), lastErr)
	}
	return result, nil
}

func (c *Controller) runRound(ctx context.Context, cancel CancelSignal, round int, buildings collab.BuildingSet, selection []string, intensity collab.Intensity, base collab.Parameters) (roundOutput, string, error) {
	canceled := func() bool { return cancel != nil && cancel.Requested() }

	var out roundOutput
	if canceled() {
		return out, "modify", errCanceled
	}
	variants, err := c.exec.Modify(ctx, round, buildings, intensity, base)
	if err != nil {
		return out, "modify", err
	}

	if canceled() {
		return out, "resimulate", errCanceled
	}
	batch, err := c.exec.Resimulate(ctx, round, buildings, variants, base)
	if err != nil {
		return out, "resimulate", err
	}
	if batch.Empty() {
		return out, "resimulate", services.Wrap(services.ErrPartialFailure, "iterate", "resimulate", "every variant failed to simulate", nil)
	}
	if len(batch.Failures) > 0 {
		logging.WarnWithContext(c.logger, "some variants failed to simulate", "round_partial_failure",
			logging.Int(logging.FieldRound, round),
			logging.Int("failed_buildings", len(batch.Failures)),
			logging.Any("failed_ids", batch.FailedIDs()),
			logging.String(logging.FieldImpact, "failed buildings are absent from this round's metric"),
			logging.String(logging.FieldErrorHint, "inspect the simulator output for the failed buildings"),
		)
	}

	if canceled() {
		return out, "reparse", errCanceled
	}
	tables, err := c.exec.Reparse(ctx, round, batch)
	if err != nil {
		return out, "reparse", err
	}

	if canceled() {
		return out, "revalidate", errCanceled
	}
	report, err := c.exec.Revalidate(ctx, round, tables, selection)
	if err != nil {
		return out, "revalidate", err
	}
	out.tables = tables
	out.report = report
	return out, "", nil
}

func (c *Controller) applyFeedback(ctx context.Context, logger *slog.Logger, round int, out roundOutput, base collab.Parameters) collab.Parameters {
	recommended, err := c.recommender.Recommend(ctx, round, out.tables, out.report, base)
	if err != nil {
		attrs := append([]logging.Attr{
			logging.String(logging.FieldImpact, "next round keeps the current base parameters"),
		}, logging.ErrorAttrs(err)...)
		logging.WarnWithContext(logger, "calibration feedback failed", "calibration_feedback_failed", attrs...)
		return base
	}
	if len(recommended) == 0 {
		return base
	}
	logger.Info("calibration feedback applied",
		logging.String(logging.FieldEventType, "calibration_feedback"),
		logging.Int("parameter_count", len(recommended)),
	)
	return base.Merge(recommended)
}
