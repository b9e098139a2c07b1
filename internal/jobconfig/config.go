package jobconfig

// Config is the structured configuration of one job. Stage sections carry an
// Enabled pointer so a missing flag can be told apart from false.
type Config struct {
	// Source names where the document came from (a path or "ipc").
	Source string `toml:"-" yaml:"-" json:"source,omitempty"`

	Name      string    `toml:"name" yaml:"name" json:"name"`
	LogLevel  string    `toml:"log_level" yaml:"log_level" json:"log_level,omitempty"`
	Buildings Buildings `toml:"buildings" yaml:"buildings" json:"buildings"`

	Setup         Setup         `toml:"setup" yaml:"setup" json:"setup"`
	OverridesBulk OverridesBulk `toml:"overrides_bulk" yaml:"overrides_bulk" json:"overrides_bulk"`
	OverridesUser OverridesUser `toml:"overrides_user" yaml:"overrides_user" json:"overrides_user"`
	Simulation    Simulation    `toml:"simulation" yaml:"simulation" json:"simulation"`
	Parsing       Parsing       `toml:"parsing" yaml:"parsing" json:"parsing"`
	Aggregation   Aggregation   `toml:"aggregation" yaml:"aggregation" json:"aggregation"`
	Validation    Validation    `toml:"validation" yaml:"validation" json:"validation"`
	Modification  Modification  `toml:"modification" yaml:"modification" json:"modification"`
	Resimulation  Toggle        `toml:"resimulation" yaml:"resimulation" json:"resimulation"`
	Reparse       Toggle        `toml:"reparse" yaml:"reparse" json:"reparse"`
	Revalidation  Toggle        `toml:"revalidation" yaml:"revalidation" json:"revalidation"`
	Iteration     Iteration     `toml:"iteration" yaml:"iteration" json:"iteration"`
	Sensitivity   Sensitivity   `toml:"sensitivity" yaml:"sensitivity" json:"sensitivity"`
	Surrogate     Surrogate     `toml:"surrogate" yaml:"surrogate" json:"surrogate"`
	Calibration   Calibration   `toml:"calibration" yaml:"calibration" json:"calibration"`
	Package       Package       `toml:"package" yaml:"package" json:"package"`
	Cleanup       Cleanup       `toml:"cleanup" yaml:"cleanup" json:"cleanup"`
}

// Buildings selects the building set.
type Buildings struct {
	Source     string            `toml:"source" yaml:"source" json:"source"`
	IDs        []string          `toml:"ids" yaml:"ids" json:"ids,omitempty"`
	Attributes map[string]string `toml:"attributes" yaml:"attributes" json:"attributes,omitempty"`
}

// Toggle is a stage section with no settings besides its flag.
type Toggle struct {
	Enabled *bool `toml:"enabled" yaml:"enabled" json:"enabled"`
}

// On reports whether the flag is set and true.
func (t Toggle) On() bool { return on(t.Enabled) }

type Setup struct {
	Enabled *bool `toml:"enabled" yaml:"enabled" json:"enabled"`
	// CleanWorkDir removes leftovers of a previous run with the same job ID.
	CleanWorkDir bool `toml:"clean_work_dir" yaml:"clean_work_dir" json:"clean_work_dir"`
}

func (s Setup) On() bool { return on(s.Enabled) }

type OverridesBulk struct {
	Enabled *bool  `toml:"enabled" yaml:"enabled" json:"enabled"`
	Source  string `toml:"source" yaml:"source" json:"source,omitempty"`
}

func (o OverridesBulk) On() bool { return on(o.Enabled) }

// OverridesUser values take precedence over bulk overrides.
type OverridesUser struct {
	Enabled *bool          `toml:"enabled" yaml:"enabled" json:"enabled"`
	Values  map[string]any `toml:"values" yaml:"values" json:"values,omitempty"`
}

func (o OverridesUser) On() bool { return on(o.Enabled) }

type Simulation struct {
	Enabled *bool          `toml:"enabled" yaml:"enabled" json:"enabled"`
	Weather string         `toml:"weather" yaml:"weather" json:"weather,omitempty"`
	Options map[string]any `toml:"options" yaml:"options" json:"options,omitempty"`
}

func (s Simulation) On() bool { return on(s.Enabled) }

type Parsing struct {
	Enabled   *bool    `toml:"enabled" yaml:"enabled" json:"enabled"`
	Variables []string `toml:"variables" yaml:"variables" json:"variables,omitempty"`
}

func (p Parsing) On() bool { return on(p.Enabled) }

type Aggregation struct {
	Enabled   *bool  `toml:"enabled" yaml:"enabled" json:"enabled"`
	Frequency string `toml:"frequency" yaml:"frequency" json:"frequency,omitempty"`
}

func (a Aggregation) On() bool { return on(a.Enabled) }

// Validation settings are shared by validate, revalidate, and iteration.
type Validation struct {
	Enabled   *bool    `toml:"enabled" yaml:"enabled" json:"enabled"`
	Reference string   `toml:"reference" yaml:"reference" json:"reference,omitempty"`
	Threshold *float64 `toml:"threshold" yaml:"threshold" json:"threshold,omitempty"`
}

func (v Validation) On() bool { return on(v.Enabled) }

// ThresholdValue returns the per-building pass threshold.
func (v Validation) ThresholdValue() float64 {
	if v.Threshold == nil {
		return 0
	}
	return *v.Threshold
}

// Modification settings are shared by the one-shot modify stage and iteration.
type Modification struct {
	Enabled    *bool    `toml:"enabled" yaml:"enabled" json:"enabled"`
	Parameters []string `toml:"parameters" yaml:"parameters" json:"parameters,omitempty"`
	Intensity  string   `toml:"intensity" yaml:"intensity" json:"intensity,omitempty"`
}

func (m Modification) On() bool { return on(m.Enabled) }

// Iteration replaces modify..revalidate with the refinement loop when enabled.
type Iteration struct {
	Enabled                *bool    `toml:"enabled" yaml:"enabled" json:"enabled"`
	Strategy               string   `toml:"strategy" yaml:"strategy" json:"strategy,omitempty"`
	TopK                   int      `toml:"top_k" yaml:"top_k" json:"top_k,omitempty"`
	MaxRounds              *int     `toml:"max_rounds" yaml:"max_rounds" json:"max_rounds,omitempty"`
	MetricThreshold        *float64 `toml:"metric_threshold" yaml:"metric_threshold" json:"metric_threshold,omitempty"`
	MinImprovement         *float64 `toml:"min_improvement" yaml:"min_improvement" json:"min_improvement,omitempty"`
	Patience               *int     `toml:"patience" yaml:"patience" json:"patience,omitempty"`
	Intensity              []string `toml:"intensity" yaml:"intensity" json:"intensity,omitempty"`
	MaxConsecutiveFailures int      `toml:"max_consecutive_failures" yaml:"max_consecutive_failures" json:"max_consecutive_failures,omitempty"`
	CalibrationFeedback    bool     `toml:"calibration_feedback" yaml:"calibration_feedback" json:"calibration_feedback,omitempty"`
}

func (i Iteration) On() bool { return on(i.Enabled) }

type Sensitivity struct {
	Enabled    *bool    `toml:"enabled" yaml:"enabled" json:"enabled"`
	Method     string   `toml:"method" yaml:"method" json:"method,omitempty"`
	Parameters []string `toml:"parameters" yaml:"parameters" json:"parameters,omitempty"`
}

func (s Sensitivity) On() bool { return on(s.Enabled) }

type Surrogate struct {
	Enabled *bool  `toml:"enabled" yaml:"enabled" json:"enabled"`
	Model   string `toml:"model" yaml:"model" json:"model,omitempty"`
}

func (s Surrogate) On() bool { return on(s.Enabled) }

type Calibration struct {
	Enabled *bool  `toml:"enabled" yaml:"enabled" json:"enabled"`
	Method  string `toml:"method" yaml:"method" json:"method,omitempty"`
}

func (c Calibration) On() bool { return on(c.Enabled) }

// Package delivers outputs at job end, whatever the outcome.
type Package struct {
	Enabled     *bool  `toml:"enabled" yaml:"enabled" json:"enabled"`
	Destination string `toml:"destination" yaml:"destination" json:"destination,omitempty"`
	Notify      bool   `toml:"notify" yaml:"notify" json:"notify,omitempty"`
}

func (p Package) On() bool { return on(p.Enabled) }

// Cleanup runs last at job end.
type Cleanup struct {
	Enabled       *bool `toml:"enabled" yaml:"enabled" json:"enabled"`
	RemoveWorkDir bool  `toml:"remove_work_dir" yaml:"remove_work_dir" json:"remove_work_dir,omitempty"`
	// HistoryMaxAgeDays prunes job history older than this many days; 0 keeps it.
	HistoryMaxAgeDays int `toml:"history_max_age_days" yaml:"history_max_age_days" json:"history_max_age_days,omitempty"`
}

func (c Cleanup) On() bool { return on(c.Enabled) }

func on(flag *bool) bool {
	return flag != nil && *flag
}
