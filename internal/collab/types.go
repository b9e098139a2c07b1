package collab

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Building is one record of the building set.
type Building struct {
	ID         string         `json:"id"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// BuildingSet is the tabular building set produced by a BuildingProvider.
type BuildingSet struct {
	Buildings []Building `json:"buildings"`
}

// IDs returns the building identifiers in set order.
func (s BuildingSet) IDs() []string {
	out := make([]string, 0, len(s.Buildings))
	for _, b := range s.Buildings {
		out = append(out, b.ID)
	}
	return out
}

// Subset returns the buildings whose IDs appear in ids, preserving set order.
func (s BuildingSet) Subset(ids []string) BuildingSet {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	out := BuildingSet{Buildings: make([]Building, 0, len(ids))}
	for _, b := range s.Buildings {
		if _, ok := want[b.ID]; ok {
			out.Buildings = append(out.Buildings, b)
		}
	}
	return out
}

// Len reports the number of buildings.
func (s BuildingSet) Len() int { return len(s.Buildings) }

// Filter selects buildings from a provider source. Empty IDs means all.
type Filter struct {
	Source     string            `json:"source"`
	IDs        []string          `json:"ids,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Parameters is an opaque parameter set. The control plane only merges them.
type Parameters map[string]any

// Merge returns a new parameter set with other applied on top of p.
func (p Parameters) Merge(other Parameters) Parameters {
	out := make(Parameters, len(p)+len(other))
	maps.Copy(out, p)
	maps.Copy(out, other)
	return out
}

// Intensity controls how aggressively the modifier perturbs parameters.
type Intensity int

const (
	IntensityLow Intensity = iota + 1
	IntensityMedium
	IntensityHigh
)

var intensityNames = map[Intensity]string{
	IntensityLow:    "low",
	IntensityMedium: "medium",
	IntensityHigh:   "high",
}

func (i Intensity) String() string {
	if name, ok := intensityNames[i]; ok {
		return name
	}
	return fmt.Sprintf("intensity(%d)", int(i))
}

// MarshalText encodes the intensity by name.
func (i Intensity) MarshalText() ([]byte, error) {
	if _, ok := intensityNames[i]; !ok {
		return nil, fmt.Errorf("invalid intensity %d", int(i))
	}
	return []byte(i.String()), nil
}

// UnmarshalText decodes an intensity name.
func (i *Intensity) UnmarshalText(text []byte) error {
	parsed, err := ParseIntensity(string(text))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// ParseIntensity converts a name into an Intensity.
func ParseIntensity(value string) (Intensity, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for level, name := range intensityNames {
		if name == normalized {
			return level, nil
		}
	}
	names := slices.Sorted(maps.Values(intensityNames))
	return 0, fmt.Errorf("unknown intensity %q (want one of %s)", value, strings.Join(names, ", "))
}

// Variant is one modified model produced by the modifier.
type Variant struct {
	ID         string     `json:"id"`
	BuildingID string     `json:"building_id"`
	Intensity  Intensity  `json:"intensity"`
	Parameters Parameters `json:"parameters,omitempty"`
	Location   string     `json:"location,omitempty"`
}

// VariantSet is the modifier's output.
type VariantSet struct {
	Variants []Variant `json:"variants"`
}

// BuildingIDs returns the distinct buildings covered by the variants.
func (v VariantSet) BuildingIDs() []string {
	seen := make(map[string]struct{}, len(v.Variants))
	out := make([]string, 0, len(v.Variants))
	for _, variant := range v.Variants {
		if _, ok := seen[variant.BuildingID]; ok {
			continue
		}
		seen[variant.BuildingID] = struct{}{}
		out = append(out, variant.BuildingID)
	}
	return out
}

// SimulationResult is the raw output location of one simulation run.
type SimulationResult struct {
	BuildingID string `json:"building_id"`
	VariantID  string `json:"variant_id,omitempty"`
	OutputPath string `json:"output_path"`
}

// SimulationFailure records one building that failed to simulate.
type SimulationFailure struct {
	BuildingID string `json:"building_id"`
	VariantID  string `json:"variant_id,omitempty"`
	Error      string `json:"error"`
}

// SimulationBatch collects per-building results and failures. A failure for
// one building never removes the results of the others.
type SimulationBatch struct {
	Results  []SimulationResult  `json:"results"`
	Failures []SimulationFailure `json:"failures,omitempty"`
}

// Partial reports whether some, but not all, runs failed.
func (b SimulationBatch) Partial() bool {
	return len(b.Failures) > 0 && len(b.Results) > 0
}

// Empty reports whether the batch produced no results.
func (b SimulationBatch) Empty() bool {
	return len(b.Results) == 0
}

// FailedIDs lists the building IDs with failures.
func (b SimulationBatch) FailedIDs() []string {
	out := make([]string, 0, len(b.Failures))
	for _, f := range b.Failures {
		out = append(out, f.BuildingID)
	}
	return out
}

// Tables is the parser's structured output. Location points at the tables
// on disk; the remaining fields are informational.
type Tables struct {
	Location  string   `json:"location"`
	Buildings []string `json:"buildings,omitempty"`
	Variables []string `json:"variables,omitempty"`
}

// VariableValidation is the result for one tracked variable.
type VariableValidation struct {
	Name   string  `json:"name"`
	Passed bool    `json:"passed"`
	Metric float64 `json:"metric"`
}

// BuildingValidation is the result for one building. Lower metrics are better.
type BuildingValidation struct {
	BuildingID string               `json:"building_id"`
	Passed     bool                 `json:"passed"`
	Metric     float64              `json:"metric"`
	Variables  []VariableValidation `json:"variables,omitempty"`
}

// ValidationReport is the validator's output. Metric is the aggregate value
// tracked for convergence.
type ValidationReport struct {
	Buildings []BuildingValidation `json:"buildings"`
	Metric    float64              `json:"metric"`
}

// Failed returns the IDs of buildings that did not pass, in report order.
func (r ValidationReport) Failed() []string {
	out := make([]string, 0, len(r.Buildings))
	for _, b := range r.Buildings {
		if !b.Passed {
			out = append(out, b.BuildingID)
		}
	}
	return out
}

// MetricByBuilding indexes the per-building metrics.
func (r ValidationReport) MetricByBuilding() map[string]float64 {
	out := make(map[string]float64, len(r.Buildings))
	for _, b := range r.Buildings {
		out[b.BuildingID] = b.Metric
	}
	return out
}

// RankedParameter is one entry of a sensitivity ranking.
type RankedParameter struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// Ranking is the sensitivity analyzer's output, most influential first.
type Ranking struct {
	Parameters []RankedParameter `json:"parameters"`
}

// Predictor is a trained surrogate model.
type Predictor struct {
	Model    string             `json:"model"`
	Location string             `json:"location"`
	Scores   map[string]float64 `json:"scores,omitempty"`
}

// Recommendation is a calibration result.
type Recommendation struct {
	Parameters Parameters `json:"parameters"`
	Score      float64    `json:"score"`
}

// Artifact is the packaged output of a job.
type Artifact struct {
	Location string   `json:"location"`
	Files    []string `json:"files,omitempty"`
}
