package jobconfig

import (
	"strings"

	"bemflow/internal/collab"
	"bemflow/internal/iteration"
	"bemflow/internal/logging"
)

var aggregationFrequencies = map[string]struct{}{
	"hourly":  {},
	"daily":   {},
	"monthly": {},
	"annual":  {},
}

// Validate checks the configuration against the needs of the enabled stages.
// All problems are reported together in a *ConfigError.
func (c *Config) Validate() error {
	var p problems

	if strings.TrimSpace(c.Name) == "" {
		p.addf("name is required")
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		p.addf("log_level: %v", err)
	}
	if strings.TrimSpace(c.Buildings.Source) == "" {
		p.addf("buildings.source is required")
	}

	for _, section := range []struct {
		name    string
		enabled *bool
	}{
		{"setup", c.Setup.Enabled},
		{"overrides_bulk", c.OverridesBulk.Enabled},
		{"overrides_user", c.OverridesUser.Enabled},
		{"simulation", c.Simulation.Enabled},
		{"parsing", c.Parsing.Enabled},
		{"aggregation", c.Aggregation.Enabled},
		{"validation", c.Validation.Enabled},
		{"modification", c.Modification.Enabled},
		{"resimulation", c.Resimulation.Enabled},
		{"reparse", c.Reparse.Enabled},
		{"revalidation", c.Revalidation.Enabled},
		{"iteration", c.Iteration.Enabled},
		{"sensitivity", c.Sensitivity.Enabled},
		{"surrogate", c.Surrogate.Enabled},
		{"calibration", c.Calibration.Enabled},
		{"package", c.Package.Enabled},
		{"cleanup", c.Cleanup.Enabled},
	} {
		if section.enabled == nil {
			p.addf("%s.enabled is required", section.name)
		}
	}

	if c.OverridesBulk.On() && strings.TrimSpace(c.OverridesBulk.Source) == "" {
		p.addf("overrides_bulk.source is required when overrides_bulk is enabled")
	}
	if c.OverridesUser.On() && len(c.OverridesUser.Values) == 0 {
		p.addf("overrides_user.values must not be empty when overrides_user is enabled")
	}
	if c.Simulation.On() && strings.TrimSpace(c.Simulation.Weather) == "" {
		p.addf("simulation.weather is required when simulation is enabled")
	}
	if c.Parsing.On() && len(c.Parsing.Variables) == 0 {
		p.addf("parsing.variables must not be empty when parsing is enabled")
	}
	if c.Aggregation.On() {
		if _, ok := aggregationFrequencies[strings.ToLower(c.Aggregation.Frequency)]; !ok {
			p.addf("aggregation.frequency %q is not one of hourly, daily, monthly, annual", c.Aggregation.Frequency)
		}
	}

	if c.Validation.On() || c.Revalidation.On() || c.Iteration.On() {
		c.validateValidation(&p)
	}
	if c.Modification.On() || c.Iteration.On() {
		c.validateModification(&p)
	}
	if c.Iteration.On() {
		c.validateIteration(&p)
	}

	if c.Sensitivity.On() && strings.TrimSpace(c.Sensitivity.Method) == "" {
		p.addf("sensitivity.method is required when sensitivity is enabled")
	}
	if c.Surrogate.On() && strings.TrimSpace(c.Surrogate.Model) == "" {
		p.addf("surrogate.model is required when surrogate is enabled")
	}
	if (c.Calibration.On() || (c.Iteration.On() && c.Iteration.CalibrationFeedback)) && strings.TrimSpace(c.Calibration.Method) == "" {
		p.addf("calibration.method is required when calibration or iteration.calibration_feedback is enabled")
	}
	if c.Package.On() && strings.TrimSpace(c.Package.Destination) == "" {
		p.addf("package.destination is required when package is enabled")
	}
	if c.Cleanup.HistoryMaxAgeDays < 0 {
		p.addf("cleanup.history_max_age_days must not be negative")
	}

	return p.err(c.Source)
}

func (c *Config) validateValidation(p *problems) {
	if strings.TrimSpace(c.Validation.Reference) == "" {
		p.addf("validation.reference is required when validation, revalidation, or iteration is enabled")
	}
	if c.Validation.Threshold == nil {
		p.addf("validation.threshold is required when validation, revalidation, or iteration is enabled")
	} else if *c.Validation.Threshold < 0 {
		p.addf("validation.threshold must not be negative")
	}
}

func (c *Config) validateModification(p *problems) {
	if len(c.Modification.Parameters) == 0 {
		p.addf("modification.parameters must not be empty when modification or iteration is enabled")
	}
	// Iteration takes its intensity from the schedule instead.
	if c.Modification.On() && !c.Iteration.On() {
		if _, err := collab.ParseIntensity(c.Modification.Intensity); err != nil {
			p.addf("modification.intensity: %v", err)
		}
	}
}

func (c *Config) validateIteration(p *problems) {
	it := c.Iteration
	if _, err := iteration.ParseStrategy(it.Strategy); err != nil {
		p.addf("iteration.strategy: %v", err)
	}
	if it.TopK < 0 {
		p.addf("iteration.top_k must not be negative (0 selects all)")
	}
	switch {
	case it.MaxRounds == nil:
		p.addf("iteration.max_rounds is required when iteration is enabled")
	case *it.MaxRounds < 1:
		p.addf("iteration.max_rounds must be at least 1")
	}
	if it.MetricThreshold == nil {
		p.addf("iteration.metric_threshold is required when iteration is enabled")
	}
	switch {
	case it.MinImprovement == nil:
		p.addf("iteration.min_improvement is required when iteration is enabled")
	case *it.MinImprovement < 0:
		p.addf("iteration.min_improvement must not be negative")
	}
	switch {
	case it.Patience == nil:
		p.addf("iteration.patience is required when iteration is enabled")
	case *it.Patience < 1:
		p.addf("iteration.patience must be at least 1")
	}
	if _, err := iteration.ParseSchedule(it.Intensity); err != nil {
		p.addf("iteration.intensity: %v", err)
	}
	if it.MaxConsecutiveFailures < 0 {
		p.addf("iteration.max_consecutive_failures must not be negative (0 uses the default)")
	}
}

// IterationSettings converts a validated configuration into controller
// settings.
func (c *Config) IterationSettings() (iteration.Settings, error) {
	if err := c.Validate(); err != nil {
		return iteration.Settings{}, err
	}
	it := c.Iteration
	strategy, err := iteration.ParseStrategy(it.Strategy)
	if err != nil {
		return iteration.Settings{}, err
	}
	schedule, err := iteration.ParseSchedule(it.Intensity)
	if err != nil {
		return iteration.Settings{}, err
	}
	return iteration.Settings{
		Strategy: strategy,
		TopK:     it.TopK,
		Schedule: schedule,
		Criterion: iteration.Criterion{
			MetricThreshold: deref(it.MetricThreshold),
			MinImprovement:  deref(it.MinImprovement),
			Patience:        deref(it.Patience),
			MaxRounds:       deref(it.MaxRounds),
		},
		MaxConsecutiveFailures: it.MaxConsecutiveFailures,
	}, nil
}

// ModificationIntensity returns the one-shot modify stage intensity.
func (c *Config) ModificationIntensity() collab.Intensity {
	level, err := collab.ParseIntensity(c.Modification.Intensity)
	if err != nil {
		return collab.IntensityLow
	}
	return level
}

// Filter returns the building provider filter.
func (c *Config) Filter() collab.Filter {
	return collab.Filter{
		Source:     c.Buildings.Source,
		IDs:        c.Buildings.IDs,
		Attributes: c.Buildings.Attributes,
	}
}

func deref[T any](v *T) T {
	var zero T
	if v == nil {
		return zero
	}
	return *v
}
