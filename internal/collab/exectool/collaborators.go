package exectool

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"bemflow/internal/collab"
	"bemflow/internal/config"
	"bemflow/internal/logging"
	"bemflow/internal/services"
)

// Options tunes how configured tools are executed.
type Options struct {
	Executor Executor
	Timeout  time.Duration
	// Workers bounds concurrent simulator invocations; zero uses the
	// configured simulation_workers.
	Workers int
	Logger  *slog.Logger
}

// NewSet builds collaborators for every configured tool command. Tools left
// empty stay nil so the orchestrator reports them as missing, except the
// packager which falls back to copying the work directory locally.
func NewSet(tools config.Tools, opts Options) collab.Set {
	if opts.Executor == nil {
		opts.Executor = commandExecutor{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Timeout <= 0 && tools.TimeoutSeconds > 0 {
		opts.Timeout = time.Duration(tools.TimeoutSeconds) * time.Second
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = tools.SimulationWorkers
	}
	if workers <= 0 {
		workers = 1
	}
	logger := opts.Logger.With(logging.String("component", "exectool"))
	tool := func(name, command string) *Tool {
		if command == "" {
			return nil
		}
		return newTool(name, command, opts.Executor, opts.Timeout, logger)
	}

	var set collab.Set
	if t := tool("building_provider", tools.BuildingProvider); t != nil {
		set.Buildings = buildingProvider{t}
	}
	if t := tool("overrides", tools.Overrides); t != nil {
		set.Overrides = overrideSource{t}
	}
	if t := tool("simulator", tools.Simulator); t != nil {
		set.Simulator = &Simulator{tool: t, workers: workers, logger: logger}
	}
	if t := tool("parser", tools.Parser); t != nil {
		set.Parser = parser{t}
	}
	if t := tool("aggregator", tools.Aggregator); t != nil {
		set.Aggregator = aggregator{t}
	}
	if t := tool("validator", tools.Validator); t != nil {
		set.Validator = validator{t}
	}
	if t := tool("modifier", tools.Modifier); t != nil {
		set.Modifier = modifier{t}
	}
	if t := tool("sensitivity", tools.Sensitivity); t != nil {
		set.Sensitivity = sensitivity{t}
	}
	if t := tool("surrogate", tools.Surrogate); t != nil {
		set.Surrogate = surrogate{t}
	}
	if t := tool("calibrator", tools.Calibrator); t != nil {
		set.Calibrator = calibrator{t}
	}
	if t := tool("packager", tools.Packager); t != nil {
		set.Packager = packager{t}
	} else {
		set.Packager = LocalPackager{Logger: logger}
	}
	return set
}

type buildingProvider struct{ *Tool }

func (b buildingProvider) Load(ctx context.Context, filter collab.Filter) (collab.BuildingSet, error) {
	return invoke[collab.BuildingSet](ctx, b.Tool, "load", filter)
}

type overrideSource struct{ *Tool }

func (o overrideSource) Load(ctx context.Context, source string) (collab.Parameters, error) {
	return invoke[collab.Parameters](ctx, o.Tool, "overrides", map[string]string{"source": source})
}

type parser struct{ *Tool }

func (p parser) Parse(ctx context.Context, req collab.ParseRequest) (collab.Tables, error) {
	return invoke[collab.Tables](ctx, p.Tool, "parse", req)
}

type aggregator struct{ *Tool }

func (a aggregator) Aggregate(ctx context.Context, req collab.AggregateRequest) (collab.Tables, error) {
	return invoke[collab.Tables](ctx, a.Tool, "aggregate", req)
}

type validator struct{ *Tool }

func (v validator) Validate(ctx context.Context, req collab.ValidateRequest) (collab.ValidationReport, error) {
	return invoke[collab.ValidationReport](ctx, v.Tool, "validate", req)
}

type modifier struct{ *Tool }

func (m modifier) Modify(ctx context.Context, req collab.ModifyRequest) (collab.VariantSet, error) {
	return invoke[collab.VariantSet](ctx, m.Tool, "modify", req)
}

type sensitivity struct{ *Tool }

func (s sensitivity) Rank(ctx context.Context, req collab.SensitivityRequest) (collab.Ranking, error) {
	return invoke[collab.Ranking](ctx, s.Tool, "rank", req)
}

type surrogate struct{ *Tool }

func (s surrogate) Fit(ctx context.Context, req collab.SurrogateRequest) (collab.Predictor, error) {
	return invoke[collab.Predictor](ctx, s.Tool, "fit", req)
}

type calibrator struct{ *Tool }

func (c calibrator) Calibrate(ctx context.Context, req collab.CalibrationRequest) (collab.Recommendation, error) {
	return invoke[collab.Recommendation](ctx, c.Tool, "calibrate", req)
}

type packager struct{ *Tool }

func (p packager) Package(ctx context.Context, req collab.PackageRequest) (collab.Artifact, error) {
	return invoke[collab.Artifact](ctx, p.Tool, "package", req)
}

// Simulator runs the simulation tool once per building (or per variant) with
// bounded concurrency. A failing run is recorded in the batch and never
// stops the others; only cancellation aborts the batch.
type Simulator struct {
	tool    *Tool
	workers int
	logger  *slog.Logger
}

type simulationUnit struct {
	req        collab.SimulationRequest
	buildingID string
	variantID  string
}

func (s *Simulator) units(req collab.SimulationRequest) []simulationUnit {
	var units []simulationUnit
	if len(req.Variants) > 0 {
		for _, v := range req.Variants {
			one := req
			one.Buildings = req.Buildings.Subset([]string{v.BuildingID})
			one.Variants = []collab.Variant{v}
			one.WorkDir = filepath.Join(req.WorkDir, v.ID)
			units = append(units, simulationUnit{req: one, buildingID: v.BuildingID, variantID: v.ID})
		}
		return units
	}
	for _, b := range req.Buildings.Buildings {
		one := req
		one.Buildings = collab.BuildingSet{Buildings: []collab.Building{b}}
		one.WorkDir = filepath.Join(req.WorkDir, b.ID)
		units = append(units, simulationUnit{req: one, buildingID: b.ID})
	}
	return units
}

// Simulate fans the request out across the worker pool.
func (s *Simulator) Simulate(ctx context.Context, req collab.SimulationRequest) (collab.SimulationBatch, error) {
	units := s.units(req)
	if len(units) == 0 {
		return collab.SimulationBatch{}, nil
	}

	type outcome struct {
		result collab.SimulationResult
		err    error
	}
	outcomes := make([]outcome, len(units))
	logger := logging.WithContext(ctx, s.logger)

	progress := logging.NewBatchProgress(len(units), 10)
	report := func() {
		if done, percent, ok := progress.Complete(); ok {
			logger.Info("simulation progress",
				logging.Int("completed", done),
				logging.Int("total", len(units)),
				logging.Float64("percent", percent),
			)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, unit := range units {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := invoke[collab.SimulationResult](gctx, s.tool, "simulate", unit.req)
			if err != nil && ctx.Err() != nil {
				return err
			}
			if res.BuildingID == "" {
				res.BuildingID = unit.buildingID
			}
			if res.VariantID == "" {
				res.VariantID = unit.variantID
			}
			if res.OutputPath == "" {
				res.OutputPath = unit.req.WorkDir
			}
			outcomes[i] = outcome{result: res, err: err}
			report()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if errors.Is(err, services.ErrCanceled) {
			return collab.SimulationBatch{}, err
		}
		stage, _ := services.StageFromContext(ctx)
		return collab.SimulationBatch{}, services.Wrap(services.ErrCanceled, stage, "simulate", "simulation batch interrupted", err)
	}

	var batch collab.SimulationBatch
	for i, o := range outcomes {
		if o.err != nil {
			batch.Failures = append(batch.Failures, collab.SimulationFailure{
				BuildingID: units[i].buildingID,
				VariantID:  units[i].variantID,
				Error:      o.err.Error(),
			})
			continue
		}
		batch.Results = append(batch.Results, o.result)
	}
	return batch, nil
}
