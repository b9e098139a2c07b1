package testsupport

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"bemflow/internal/collab"
)

// FakeTools is a scripted set of collaborators. Each operation records its
// name; Errors and Panics make operations fail by name ("load", "overrides",
// "simulate", "parse", "aggregate", "validate", "modify", "rank", "fit",
// "calibrate", "package").
type FakeTools struct {
	mu sync.Mutex

	Buildings []string
	// FailBuildings fail individually inside Simulate.
	FailBuildings map[string]bool
	Errors        map[string]error
	Panics        map[string]bool
	// Metrics is consumed one value per Validate call; the last value repeats.
	Metrics []float64
	// BuildingMetrics pins per-building metrics; others get the call metric.
	BuildingMetrics map[string]float64
	Bulk            collab.Parameters
	Recommended     collab.Parameters
	// Gate, when set, blocks Simulate until it is closed or ctx ends.
	Gate chan struct{}
	// OnCall runs after an operation is recorded and before it returns.
	OnCall func(op string)

	calls       []string
	validations int

	Simulations []collab.SimulationRequest
	Modifies    []collab.ModifyRequest
	Validates   []collab.ValidateRequest
	Calibrates  []collab.CalibrationRequest
	Packages    []collab.PackageRequest
}

// NewFakeTools returns fakes over the given building IDs.
func NewFakeTools(buildings ...string) *FakeTools {
	if len(buildings) == 0 {
		buildings = []string{"b1", "b2", "b3"}
	}
	return &FakeTools{
		Buildings:     buildings,
		FailBuildings: map[string]bool{},
		Errors:        map[string]error{},
		Panics:        map[string]bool{},
	}
}

// Set exposes the fakes as a collaborator set.
func (f *FakeTools) Set() collab.Set {
	return collab.Set{
		Buildings:   f,
		Overrides:   overrideSource{f},
		Simulator:   f,
		Parser:      f,
		Aggregator:  f,
		Validator:   f,
		Modifier:    f,
		Sensitivity: f,
		Surrogate:   f,
		Calibrator:  f,
		Packager:    f,
	}
}

// Calls returns the recorded operation names in order.
func (f *FakeTools) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

// Count reports how often op ran.
func (f *FakeTools) Count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == op {
			n++
		}
	}
	return n
}

func (f *FakeTools) call(op string) error {
	f.mu.Lock()
	f.calls = append(f.calls, op)
	err := f.Errors[op]
	panics := f.Panics[op]
	hook := f.OnCall
	f.mu.Unlock()
	if hook != nil {
		hook(op)
	}
	if panics {
		panic(fmt.Sprintf("%s blew up", op))
	}
	return err
}

func (f *FakeTools) Load(_ context.Context, filter collab.Filter) (collab.BuildingSet, error) {
	if err := f.call("load"); err != nil {
		return collab.BuildingSet{}, err
	}
	ids := f.Buildings
	if len(filter.IDs) > 0 {
		ids = filter.IDs
	}
	set := collab.BuildingSet{}
	for _, id := range ids {
		set.Buildings = append(set.Buildings, collab.Building{ID: id})
	}
	return set, nil
}

type overrideSource struct{ f *FakeTools }

func (o overrideSource) Load(_ context.Context, _ string) (collab.Parameters, error) {
	if err := o.f.call("overrides"); err != nil {
		return nil, err
	}
	return maps.Clone(o.f.Bulk), nil
}

func (f *FakeTools) Simulate(ctx context.Context, req collab.SimulationRequest) (collab.SimulationBatch, error) {
	f.mu.Lock()
	f.Simulations = append(f.Simulations, req)
	gate := f.Gate
	f.mu.Unlock()
	if err := f.call("simulate"); err != nil {
		return collab.SimulationBatch{}, err
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return collab.SimulationBatch{}, ctx.Err()
		}
	}

	var batch collab.SimulationBatch
	add := func(buildingID, variantID string) {
		if f.FailBuildings[buildingID] {
			batch.Failures = append(batch.Failures, collab.SimulationFailure{BuildingID: buildingID, VariantID: variantID, Error: "engine crashed"})
			return
		}
		batch.Results = append(batch.Results, collab.SimulationResult{BuildingID: buildingID, VariantID: variantID, OutputPath: req.WorkDir})
	}
	if len(req.Variants) > 0 {
		for _, v := range req.Variants {
			add(v.BuildingID, v.ID)
		}
		return batch, nil
	}
	for _, id := range req.Buildings.IDs() {
		add(id, "")
	}
	return batch, nil
}

func (f *FakeTools) Parse(_ context.Context, req collab.ParseRequest) (collab.Tables, error) {
	if err := f.call("parse"); err != nil {
		return collab.Tables{}, err
	}
	tables := collab.Tables{Location: req.WorkDir, Variables: req.Variables}
	for _, r := range req.Batch.Results {
		if !slices.Contains(tables.Buildings, r.BuildingID) {
			tables.Buildings = append(tables.Buildings, r.BuildingID)
		}
	}
	return tables, nil
}

func (f *FakeTools) Aggregate(_ context.Context, req collab.AggregateRequest) (collab.Tables, error) {
	if err := f.call("aggregate"); err != nil {
		return collab.Tables{}, err
	}
	out := req.Tables
	out.Location = req.WorkDir
	return out, nil
}

func (f *FakeTools) Validate(_ context.Context, req collab.ValidateRequest) (collab.ValidationReport, error) {
	f.mu.Lock()
	f.Validates = append(f.Validates, req)
	metric := 0.0
	if n := len(f.Metrics); n > 0 {
		metric = f.Metrics[min(f.validations, n-1)]
	}
	f.validations++
	f.mu.Unlock()
	if err := f.call("validate"); err != nil {
		return collab.ValidationReport{}, err
	}

	ids := req.Buildings
	if len(ids) == 0 {
		ids = req.Tables.Buildings
	}
	report := collab.ValidationReport{Metric: metric}
	for _, id := range ids {
		m := metric
		if pinned, ok := f.BuildingMetrics[id]; ok {
			m = pinned
		}
		report.Buildings = append(report.Buildings, collab.BuildingValidation{
			BuildingID: id,
			Metric:     m,
			Passed:     m <= req.Threshold,
		})
	}
	return report, nil
}

func (f *FakeTools) Modify(_ context.Context, req collab.ModifyRequest) (collab.VariantSet, error) {
	f.mu.Lock()
	f.Modifies = append(f.Modifies, req)
	f.mu.Unlock()
	if err := f.call("modify"); err != nil {
		return collab.VariantSet{}, err
	}
	var set collab.VariantSet
	for _, id := range req.Buildings.IDs() {
		set.Variants = append(set.Variants, collab.Variant{
			ID:         fmt.Sprintf("%s-%s", id, req.Intensity),
			BuildingID: id,
			Intensity:  req.Intensity,
			Parameters: req.Parameters,
		})
	}
	return set, nil
}

func (f *FakeTools) Rank(_ context.Context, req collab.SensitivityRequest) (collab.Ranking, error) {
	if err := f.call("rank"); err != nil {
		return collab.Ranking{}, err
	}
	var ranking collab.Ranking
	for i, name := range req.Parameters {
		ranking.Parameters = append(ranking.Parameters, collab.RankedParameter{Name: name, Score: float64(len(req.Parameters) - i)})
	}
	return ranking, nil
}

func (f *FakeTools) Fit(_ context.Context, req collab.SurrogateRequest) (collab.Predictor, error) {
	if err := f.call("fit"); err != nil {
		return collab.Predictor{}, err
	}
	return collab.Predictor{Model: req.Model, Location: req.WorkDir}, nil
}

func (f *FakeTools) Calibrate(_ context.Context, req collab.CalibrationRequest) (collab.Recommendation, error) {
	f.mu.Lock()
	f.Calibrates = append(f.Calibrates, req)
	f.mu.Unlock()
	if err := f.call("calibrate"); err != nil {
		return collab.Recommendation{}, err
	}
	return collab.Recommendation{Parameters: maps.Clone(f.Recommended), Score: 0.9}, nil
}

func (f *FakeTools) Package(_ context.Context, req collab.PackageRequest) (collab.Artifact, error) {
	f.mu.Lock()
	f.Packages = append(f.Packages, req)
	f.mu.Unlock()
	if err := f.call("package"); err != nil {
		return collab.Artifact{}, err
	}
	files := slices.Sorted(maps.Keys(req.Outputs))
	return collab.Artifact{Location: req.Destination, Files: files}, nil
}
