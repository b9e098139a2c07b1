package workflow

import (
	"context"
	"fmt"
	"path/filepath"

	"bemflow/internal/collab"
	"bemflow/internal/iteration"
	"bemflow/internal/jobs"
	"bemflow/internal/logging"
	"bemflow/internal/services"
)

func runIterate(ctx context.Context, env *Env) (any, error) {
	for _, tool := range []struct {
		name    string
		present bool
	}{
		{"modifier", env.Tools.Modifier != nil},
		{"simulator", env.Tools.Simulator != nil},
		{"parser", env.Tools.Parser != nil},
		{"validator", env.Tools.Validator != nil},
	} {
		if !tool.present {
			return nil, missingTool(StageIterate, tool.name)
		}
	}
	settings, err := env.Config.IterationSettings()
	if err != nil {
		return nil, err
	}

	opts := []iteration.Option{iteration.WithLogger(env.Logger)}
	if env.Config.Iteration.CalibrationFeedback && env.Tools.Calibrator != nil {
		opts = append(opts, iteration.WithRecommender(&calibrationFeedback{env: env}))
	}
	controller, err := iteration.New(settings, &roundExecutor{env: env}, opts...)
	if err != nil {
		return nil, err
	}

	buildings, _ := env.buildings()
	in := iteration.Input{Buildings: buildings, Parameters: env.baseParameters()}
	if report, ok := Get[collab.ValidationReport](env.Outputs, StageValidate); ok {
		in.Baseline = &report
	}

	res, runErr := controller.Run(ctx, env.Cancel, in)
	summary := &jobs.IterationSummary{
		Rounds:     len(res.Rounds),
		StopReason: string(res.StopReason),
		History:    res.History,
	}
	for _, round := range res.Rounds {
		if round.Failed {
			summary.FailedRounds++
		}
	}
	env.Result.Iteration = summary
	if runErr != nil {
		return nil, runErr
	}
	return res, nil
}

// roundExecutor runs round sub-steps against the collaborators, each round in
// its own directory under the iterate stage dir.
type roundExecutor struct {
	env *Env
}

func (r *roundExecutor) roundDir(round int, step string) string {
	return filepath.Join(r.env.stageDir(StageIterate), fmt.Sprintf("round-%03d", round), step)
}

func (r *roundExecutor) Modify(ctx context.Context, round int, buildings collab.BuildingSet, intensity collab.Intensity, base collab.Parameters) (collab.VariantSet, error) {
	return r.env.Tools.Modifier.Modify(services.WithRound(ctx, round), collab.ModifyRequest{
		Buildings:  buildings,
		Selection:  buildings.IDs(),
		Intensity:  intensity,
		Targets:    r.env.Config.Modification.Parameters,
		Parameters: base,
		WorkDir:    r.roundDir(round, "modify"),
	})
}

func (r *roundExecutor) Resimulate(ctx context.Context, round int, buildings collab.BuildingSet, variants collab.VariantSet, base collab.Parameters) (collab.SimulationBatch, error) {
	return r.env.Tools.Simulator.Simulate(services.WithRound(ctx, round), collab.SimulationRequest{
		Buildings:  buildings,
		Variants:   variants.Variants,
		Parameters: base,
		Weather:    r.env.Config.Simulation.Weather,
		Options:    r.env.Config.Simulation.Options,
		WorkDir:    r.roundDir(round, "simulate"),
	})
}

func (r *roundExecutor) Reparse(ctx context.Context, round int, batch collab.SimulationBatch) (collab.Tables, error) {
	return r.env.Tools.Parser.Parse(services.WithRound(ctx, round), collab.ParseRequest{
		Batch:     batch,
		Variables: r.env.Config.Parsing.Variables,
		WorkDir:   r.roundDir(round, "parse"),
	})
}

func (r *roundExecutor) Revalidate(ctx context.Context, round int, tables collab.Tables, selection []string) (collab.ValidationReport, error) {
	return r.env.Tools.Validator.Validate(services.WithRound(ctx, round), collab.ValidateRequest{
		Tables:    tables,
		Reference: r.env.Config.Validation.Reference,
		Threshold: r.env.Config.Validation.ThresholdValue(),
		Buildings: selection,
	})
}

// calibrationFeedback turns a calibrator into a between-round recommender.
type calibrationFeedback struct {
	env *Env
}

func (c *calibrationFeedback) Recommend(ctx context.Context, round int, tables collab.Tables, report collab.ValidationReport, base collab.Parameters) (collab.Parameters, error) {
	rec, err := c.env.Tools.Calibrator.Calibrate(ctx, collab.CalibrationRequest{
		Tables:     tables,
		Report:     &report,
		Method:     c.env.Config.Calibration.Method,
		Parameters: base,
	})
	if err != nil {
		return nil, stageFailure(StageIterate, "calibration feedback", err)
	}
	c.env.Logger.Debug("calibration feedback received",
		logging.Int(logging.FieldRound, round),
		logging.Float64("score", rec.Score),
	)
	return rec.Parameters, nil
}
