package collab

import "context"

// BuildingProvider loads the building set a job operates on.
type BuildingProvider interface {
	Load(ctx context.Context, filter Filter) (BuildingSet, error)
}

// OverrideSource loads bulk parameter overrides from a named source.
type OverrideSource interface {
	Load(ctx context.Context, source string) (Parameters, error)
}

// SimulationRequest asks the engine to generate models and run them. When
// Variants is set only those variants are simulated.
type SimulationRequest struct {
	Buildings  BuildingSet    `json:"buildings"`
	Variants   []Variant      `json:"variants,omitempty"`
	Parameters Parameters     `json:"parameters,omitempty"`
	Weather    string         `json:"weather,omitempty"`
	Options    map[string]any `json:"options,omitempty"`
	WorkDir    string         `json:"work_dir"`
}

// Simulator generates and runs simulation models. Implementations isolate
// per-building failures in SimulationBatch.Failures; a returned error means
// the whole batch could not run.
type Simulator interface {
	Simulate(ctx context.Context, req SimulationRequest) (SimulationBatch, error)
}

// ParseRequest selects which variables to extract from a batch.
type ParseRequest struct {
	Batch     SimulationBatch `json:"batch"`
	Variables []string        `json:"variables,omitempty"`
	WorkDir   string          `json:"work_dir"`
}

// Parser turns raw simulation outputs into analytical tables.
type Parser interface {
	Parse(ctx context.Context, req ParseRequest) (Tables, error)
}

// AggregateRequest derives aggregated tables at a frequency.
type AggregateRequest struct {
	Tables    Tables `json:"tables"`
	Frequency string `json:"frequency"`
	WorkDir   string `json:"work_dir"`
}

// Aggregator derives aggregated tables from parsed ones.
type Aggregator interface {
	Aggregate(ctx context.Context, req AggregateRequest) (Tables, error)
}

// ValidateRequest compares parsed results against reference data.
type ValidateRequest struct {
	Tables    Tables   `json:"tables"`
	Reference string   `json:"reference"`
	Threshold float64  `json:"threshold"`
	Buildings []string `json:"buildings,omitempty"`
}

// Validator scores parsed results against reference data.
type Validator interface {
	Validate(ctx context.Context, req ValidateRequest) (ValidationReport, error)
}

// ModifyRequest asks for variants of the selected buildings.
type ModifyRequest struct {
	Buildings  BuildingSet `json:"buildings"`
	Selection  []string    `json:"selection"`
	Intensity  Intensity   `json:"intensity"`
	Targets    []string    `json:"targets,omitempty"`
	Parameters Parameters  `json:"parameters,omitempty"`
	WorkDir    string      `json:"work_dir"`
}

// Modifier perturbs model parameters to produce variants.
type Modifier interface {
	Modify(ctx context.Context, req ModifyRequest) (VariantSet, error)
}

// SensitivityRequest ranks parameters by influence.
type SensitivityRequest struct {
	Tables     Tables   `json:"tables"`
	Method     string   `json:"method"`
	Parameters []string `json:"parameters,omitempty"`
}

// SensitivityAnalyzer ranks parameters.
type SensitivityAnalyzer interface {
	Rank(ctx context.Context, req SensitivityRequest) (Ranking, error)
}

// SurrogateRequest fits a predictor to parsed results.
type SurrogateRequest struct {
	Tables  Tables   `json:"tables"`
	Model   string   `json:"model"`
	Ranking *Ranking `json:"ranking,omitempty"`
	WorkDir string   `json:"work_dir"`
}

// SurrogateTrainer fits surrogate models.
type SurrogateTrainer interface {
	Fit(ctx context.Context, req SurrogateRequest) (Predictor, error)
}

// CalibrationRequest searches for a recommended parameter set.
type CalibrationRequest struct {
	Tables     Tables            `json:"tables"`
	Report     *ValidationReport `json:"report,omitempty"`
	Predictor  *Predictor        `json:"predictor,omitempty"`
	Method     string            `json:"method"`
	Parameters Parameters        `json:"parameters,omitempty"`
}

// Calibrator searches for parameters that best match reference data.
type Calibrator interface {
	Calibrate(ctx context.Context, req CalibrationRequest) (Recommendation, error)
}

// PackageRequest bundles whatever outputs a job produced.
type PackageRequest struct {
	JobID       string         `json:"job_id"`
	Name        string         `json:"name"`
	Status      string         `json:"status"`
	Destination string         `json:"destination"`
	WorkDir     string         `json:"work_dir"`
	Outputs     map[string]any `json:"outputs"`
}

// Packager delivers job outputs.
type Packager interface {
	Package(ctx context.Context, req PackageRequest) (Artifact, error)
}

// Set groups the collaborators available to the orchestrator. A nil field
// means the collaborator is not configured.
type Set struct {
	Buildings   BuildingProvider
	Overrides   OverrideSource
	Simulator   Simulator
	Parser      Parser
	Aggregator  Aggregator
	Validator   Validator
	Modifier    Modifier
	Sensitivity SensitivityAnalyzer
	Surrogate   SurrogateTrainer
	Calibrator  Calibrator
	Packager    Packager
}
