package workflow

import (
	"context"
	"fmt"
	"path/filepath"

	"bemflow/internal/collab"
	"bemflow/internal/iteration"
	"bemflow/internal/logging"
	"bemflow/internal/services"
)

func missingTool(stage StageName, tool string) error {
	return services.WithHint(
		services.Wrap(services.ErrConfiguration, string(stage), "resolve collaborator", fmt.Sprintf("no %s configured", tool), nil),
		fmt.Sprintf("set the %s command under [tools] in the daemon config", tool),
	)
}

func stageFailure(stage StageName, operation string, err error) error {
	return services.Wrap(services.ErrStageFailure, string(stage), operation, "", err)
}

func (e *Env) stageDir(stage StageName) string {
	return filepath.Join(e.WorkDir, string(stage))
}

func (e *Env) buildings() (collab.BuildingSet, bool) {
	return Get[collab.BuildingSet](e.Outputs, StageSetup)
}

// baseParameters is the override result, user values winning over bulk ones.
func (e *Env) baseParameters() collab.Parameters {
	if params, _, ok := First[collab.Parameters](e.Outputs, StageOverridesUser, StageOverridesBulk); ok {
		return params
	}
	return collab.Parameters{}
}

// latestTables prefers the most refined tables available.
func (e *Env) latestTables() (collab.Tables, bool) {
	if res, ok := Get[iteration.Result](e.Outputs, StageIterate); ok && res.Tables != nil {
		return *res.Tables, true
	}
	tables, _, ok := First[collab.Tables](e.Outputs, StageReparse, StageParse)
	return tables, ok
}

// latestReport prefers the most recent validation available.
func (e *Env) latestReport() (collab.ValidationReport, bool) {
	if res, ok := Get[iteration.Result](e.Outputs, StageIterate); ok && res.Report != nil {
		return *res.Report, true
	}
	report, _, ok := First[collab.ValidationReport](e.Outputs, StageRevalidate, StageValidate)
	return report, ok
}

func runSetup(ctx context.Context, env *Env) (any, error) {
	if err := prepareWorkDir(env.WorkDir, env.Config.Setup.CleanWorkDir); err != nil {
		return nil, services.WithHint(stageFailure(StageSetup, "prepare work dir", err), "check permissions on [paths] work_dir")
	}
	if env.Tools.Buildings == nil {
		return nil, missingTool(StageSetup, "building_provider")
	}
	set, err := env.Tools.Buildings.Load(ctx, env.Config.Filter())
	if err != nil {
		return nil, stageFailure(StageSetup, "load buildings", err)
	}
	if set.Len() == 0 {
		return nil, services.Wrap(services.ErrValidation, string(StageSetup), "load buildings", "building set is empty", nil)
	}
	env.Logger.Info("building set loaded",
		logging.Int("building_count", set.Len()),
		logging.String("source", env.Config.Buildings.Source),
		logging.String("work_dir", env.WorkDir),
	)
	return set, nil
}

func runOverridesBulk(ctx context.Context, env *Env) (any, error) {
	if env.Tools.Overrides == nil {
		return nil, missingTool(StageOverridesBulk, "overrides")
	}
	params, err := env.Tools.Overrides.Load(ctx, env.Config.OverridesBulk.Source)
	if err != nil {
		return nil, stageFailure(StageOverridesBulk, "load overrides", err)
	}
	if params == nil {
		params = collab.Parameters{}
	}
	env.Logger.Info("bulk overrides loaded", logging.Int("parameter_count", len(params)))
	return params, nil
}

func runOverridesUser(_ context.Context, env *Env) (any, error) {
	base, _ := Get[collab.Parameters](env.Outputs, StageOverridesBulk)
	merged := base.Merge(collab.Parameters(env.Config.OverridesUser.Values))
	env.Logger.Info("user overrides applied",
		logging.Int("user_parameters", len(env.Config.OverridesUser.Values)),
		logging.Int("parameter_count", len(merged)),
	)
	return merged, nil
}

func runSimulate(ctx context.Context, env *Env) (any, error) {
	if env.Tools.Simulator == nil {
		return nil, missingTool(StageSimulate, "simulator")
	}
	buildings, _ := env.buildings()
	batch, err := env.Tools.Simulator.Simulate(ctx, collab.SimulationRequest{
		Buildings:  buildings,
		Parameters: env.baseParameters(),
		Weather:    env.Config.Simulation.Weather,
		Options:    env.Config.Simulation.Options,
		WorkDir:    env.stageDir(StageSimulate),
	})
	if err != nil {
		return nil, stageFailure(StageSimulate, "run simulations", err)
	}
	if err := checkBatch(env, StageSimulate, batch); err != nil {
		return nil, err
	}
	return batch, nil
}

// checkBatch isolates per-building failures: they are logged and kept in the
// batch, and only a batch with no results at all fails the stage.
func checkBatch(env *Env, stage StageName, batch collab.SimulationBatch) error {
	if batch.Empty() {
		return services.Wrap(services.ErrPartialFailure, string(stage), "run simulations",
			fmt.Sprintf("every run failed (%d failures)", len(batch.Failures)), nil)
	}
	if len(batch.Failures) > 0 {
		logging.WarnWithContext(env.Logger, "some buildings failed to simulate", "simulation_partial_failure",
			logging.Int("failed_buildings", len(batch.Failures)),
			logging.Int("succeeded_buildings", len(batch.Results)),
			logging.Any("failed_ids", batch.FailedIDs()),
			logging.String(logging.FieldImpact, "failed buildings are absent from parsed results"),
			logging.String(logging.FieldErrorHint, "inspect the simulator output for the failed buildings"),
		)
		return nil
	}
	env.Logger.Info("simulations completed", logging.Int("runs", len(batch.Results)))
	return nil
}

func runParse(ctx context.Context, env *Env) (any, error) {
	batch, _ := Get[collab.SimulationBatch](env.Outputs, StageSimulate)
	return parseBatch(ctx, env, StageParse, batch)
}

func parseBatch(ctx context.Context, env *Env, stage StageName, batch collab.SimulationBatch) (any, error) {
	if env.Tools.Parser == nil {
		return nil, missingTool(stage, "parser")
	}
	tables, err := env.Tools.Parser.Parse(ctx, collab.ParseRequest{
		Batch:     batch,
		Variables: env.Config.Parsing.Variables,
		WorkDir:   env.stageDir(stage),
	})
	if err != nil {
		return nil, stageFailure(stage, "parse results", err)
	}
	env.Logger.Info("results parsed",
		logging.String("tables", tables.Location),
		logging.Int("building_count", len(tables.Buildings)),
	)
	return tables, nil
}

func runAggregate(ctx context.Context, env *Env) (any, error) {
	if env.Tools.Aggregator == nil {
		return nil, missingTool(StageAggregate, "aggregator")
	}
	tables, _ := Get[collab.Tables](env.Outputs, StageParse)
	out, err := env.Tools.Aggregator.Aggregate(ctx, collab.AggregateRequest{
		Tables:    tables,
		Frequency: env.Config.Aggregation.Frequency,
		WorkDir:   env.stageDir(StageAggregate),
	})
	if err != nil {
		return nil, stageFailure(StageAggregate, "aggregate tables", err)
	}
	return out, nil
}

func runValidate(ctx context.Context, env *Env) (any, error) {
	tables, _ := Get[collab.Tables](env.Outputs, StageParse)
	return validateTables(ctx, env, StageValidate, tables, nil)
}

func validateTables(ctx context.Context, env *Env, stage StageName, tables collab.Tables, buildings []string) (any, error) {
	if env.Tools.Validator == nil {
		return nil, missingTool(stage, "validator")
	}
	report, err := env.Tools.Validator.Validate(ctx, collab.ValidateRequest{
		Tables:    tables,
		Reference: env.Config.Validation.Reference,
		Threshold: env.Config.Validation.ThresholdValue(),
		Buildings: buildings,
	})
	if err != nil {
		return nil, stageFailure(stage, "validate results", err)
	}
	env.Logger.Info("validation scored",
		logging.Float64("metric", report.Metric),
		logging.Int("failed_buildings", len(report.Failed())),
		logging.Int("building_count", len(report.Buildings)),
	)
	return report, nil
}

func runModify(ctx context.Context, env *Env) (any, error) {
	if env.Tools.Modifier == nil {
		return nil, missingTool(StageModify, "modifier")
	}
	buildings, _ := env.buildings()
	selection := buildings.IDs()
	if report, ok := Get[collab.ValidationReport](env.Outputs, StageValidate); ok {
		selection = report.Failed()
		if len(selection) == 0 {
			return nil, inputUnavailable("every building passed validation")
		}
	}
	variants, err := env.Tools.Modifier.Modify(ctx, collab.ModifyRequest{
		Buildings:  buildings.Subset(selection),
		Selection:  selection,
		Intensity:  env.Config.ModificationIntensity(),
		Targets:    env.Config.Modification.Parameters,
		Parameters: env.baseParameters(),
		WorkDir:    env.stageDir(StageModify),
	})
	if err != nil {
		return nil, stageFailure(StageModify, "modify models", err)
	}
	env.Logger.Info("variants generated",
		logging.Int("variant_count", len(variants.Variants)),
		logging.Int("selection_size", len(selection)),
		logging.String("intensity", env.Config.ModificationIntensity().String()),
	)
	return variants, nil
}

func runResimulate(ctx context.Context, env *Env) (any, error) {
	if env.Tools.Simulator == nil {
		return nil, missingTool(StageResimulate, "simulator")
	}
	variants, _ := Get[collab.VariantSet](env.Outputs, StageModify)
	if len(variants.Variants) == 0 {
		return nil, inputUnavailable("modifier produced no variants")
	}
	buildings, _ := env.buildings()
	batch, err := env.Tools.Simulator.Simulate(ctx, collab.SimulationRequest{
		Buildings:  buildings.Subset(variants.BuildingIDs()),
		Variants:   variants.Variants,
		Parameters: env.baseParameters(),
		Weather:    env.Config.Simulation.Weather,
		Options:    env.Config.Simulation.Options,
		WorkDir:    env.stageDir(StageResimulate),
	})
	if err != nil {
		return nil, stageFailure(StageResimulate, "run simulations", err)
	}
	if err := checkBatch(env, StageResimulate, batch); err != nil {
		return nil, err
	}
	return batch, nil
}

func runReparse(ctx context.Context, env *Env) (any, error) {
	batch, _ := Get[collab.SimulationBatch](env.Outputs, StageResimulate)
	return parseBatch(ctx, env, StageReparse, batch)
}

func runRevalidate(ctx context.Context, env *Env) (any, error) {
	tables, _ := Get[collab.Tables](env.Outputs, StageReparse)
	variants, _ := Get[collab.VariantSet](env.Outputs, StageModify)
	return validateTables(ctx, env, StageRevalidate, tables, variants.BuildingIDs())
}

func runSensitivity(ctx context.Context, env *Env) (any, error) {
	if env.Tools.Sensitivity == nil {
		return nil, missingTool(StageSensitivity, "sensitivity")
	}
	tables, _ := env.latestTables()
	ranking, err := env.Tools.Sensitivity.Rank(ctx, collab.SensitivityRequest{
		Tables:     tables,
		Method:     env.Config.Sensitivity.Method,
		Parameters: env.Config.Sensitivity.Parameters,
	})
	if err != nil {
		return nil, stageFailure(StageSensitivity, "rank parameters", err)
	}
	attrs := []logging.Attr{logging.Int("parameter_count", len(ranking.Parameters))}
	if len(ranking.Parameters) > 0 {
		attrs = append(attrs, logging.String("most_influential", ranking.Parameters[0].Name))
	}
	env.Logger.Info("parameters ranked", logging.Args(attrs...)...)
	return ranking, nil
}

func runSurrogate(ctx context.Context, env *Env) (any, error) {
	if env.Tools.Surrogate == nil {
		return nil, missingTool(StageSurrogate, "surrogate")
	}
	tables, _ := env.latestTables()
	req := collab.SurrogateRequest{
		Tables:  tables,
		Model:   env.Config.Surrogate.Model,
		WorkDir: env.stageDir(StageSurrogate),
	}
	if ranking, ok := Get[collab.Ranking](env.Outputs, StageSensitivity); ok {
		req.Ranking = &ranking
	}
	predictor, err := env.Tools.Surrogate.Fit(ctx, req)
	if err != nil {
		return nil, stageFailure(StageSurrogate, "fit surrogate", err)
	}
	env.Logger.Info("surrogate fitted",
		logging.String("model", predictor.Model),
		logging.String("location", predictor.Location),
	)
	return predictor, nil
}

func runCalibrate(ctx context.Context, env *Env) (any, error) {
	if env.Tools.Calibrator == nil {
		return nil, missingTool(StageCalibrate, "calibrator")
	}
	tables, _ := env.latestTables()
	req := collab.CalibrationRequest{
		Tables:     tables,
		Method:     env.Config.Calibration.Method,
		Parameters: env.baseParameters(),
	}
	if res, ok := Get[iteration.Result](env.Outputs, StageIterate); ok && len(res.Parameters) > 0 {
		req.Parameters = res.Parameters
	}
	if report, ok := env.latestReport(); ok {
		req.Report = &report
	}
	if predictor, ok := Get[collab.Predictor](env.Outputs, StageSurrogate); ok {
		req.Predictor = &predictor
	}
	rec, err := env.Tools.Calibrator.Calibrate(ctx, req)
	if err != nil {
		return nil, stageFailure(StageCalibrate, "search parameters", err)
	}
	env.Logger.Info("calibration recommended parameters",
		logging.Int("parameter_count", len(rec.Parameters)),
		logging.Float64("score", rec.Score),
	)
	return rec, nil
}
