package testsupport

import "bemflow/internal/jobconfig"

// JobOption customizes a generated job config.
type JobOption func(*jobconfig.Config)

func flag(v bool) *bool { return &v }

// NewJobConfig returns a valid one-shot job config that runs setup, simulate
// and parse. Every other section is present and disabled.
func NewJobConfig(opts ...JobOption) *jobconfig.Config {
	threshold := 10.0
	cfg := &jobconfig.Config{
		Name:      "test-job",
		Buildings: jobconfig.Buildings{Source: "buildings.csv"},
		Setup:     jobconfig.Setup{Enabled: flag(true)},
		OverridesBulk: jobconfig.OverridesBulk{
			Enabled: flag(false),
			Source:  "overrides.csv",
		},
		OverridesUser: jobconfig.OverridesUser{Enabled: flag(false), Values: map[string]any{"infiltration": 0.4}},
		Simulation:    jobconfig.Simulation{Enabled: flag(true), Weather: "weather.epw"},
		Parsing:       jobconfig.Parsing{Enabled: flag(true), Variables: []string{"electricity"}},
		Aggregation:   jobconfig.Aggregation{Enabled: flag(false), Frequency: "monthly"},
		Validation: jobconfig.Validation{
			Enabled:   flag(false),
			Reference: "metered.csv",
			Threshold: &threshold,
		},
		Modification: jobconfig.Modification{
			Enabled:    flag(false),
			Parameters: []string{"infiltration"},
			Intensity:  "medium",
		},
		Resimulation: jobconfig.Toggle{Enabled: flag(false)},
		Reparse:      jobconfig.Toggle{Enabled: flag(false)},
		Revalidation: jobconfig.Toggle{Enabled: flag(false)},
		Iteration:    jobconfig.Iteration{Enabled: flag(false)},
		Sensitivity:  jobconfig.Sensitivity{Enabled: flag(false), Method: "morris"},
		Surrogate:    jobconfig.Surrogate{Enabled: flag(false), Model: "gaussian_process"},
		Calibration:  jobconfig.Calibration{Enabled: flag(false), Method: "genetic"},
		Package:      jobconfig.Package{Enabled: flag(false), Destination: "/tmp/bemflow-out"},
		Cleanup:      jobconfig.Cleanup{Enabled: flag(false)},
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithOneShotRefinement enables validate through revalidate.
func WithOneShotRefinement() JobOption {
	return func(c *jobconfig.Config) {
		c.Validation.Enabled = flag(true)
		c.Modification.Enabled = flag(true)
		c.Resimulation.Enabled = flag(true)
		c.Reparse.Enabled = flag(true)
		c.Revalidation.Enabled = flag(true)
	}
}

// WithIteration enables the refinement loop with the given bounds.
func WithIteration(strategy string, topK, maxRounds, patience int, metricThreshold float64) JobOption {
	return func(c *jobconfig.Config) {
		minImprovement := 0.5
		c.Validation.Enabled = flag(true)
		c.Modification.Enabled = flag(true)
		c.Iteration = jobconfig.Iteration{
			Enabled:         flag(true),
			Strategy:        strategy,
			TopK:            topK,
			MaxRounds:       &maxRounds,
			MetricThreshold: &metricThreshold,
			MinImprovement:  &minImprovement,
			Patience:        &patience,
			Intensity:       []string{"low", "medium", "high"},
		}
	}
}

// WithFinalizers enables package and cleanup.
func WithFinalizers(removeWorkDir bool) JobOption {
	return func(c *jobconfig.Config) {
		c.Package.Enabled = flag(true)
		c.Cleanup.Enabled = flag(true)
		c.Cleanup.RemoveWorkDir = removeWorkDir
	}
}

// WithStages enables extra stages by section name: overrides_bulk,
// overrides_user, aggregation, validation, sensitivity, surrogate, calibration.
func WithStages(names ...string) JobOption {
	return func(c *jobconfig.Config) {
		for _, name := range names {
			switch name {
			case "overrides_bulk":
				c.OverridesBulk.Enabled = flag(true)
			case "overrides_user":
				c.OverridesUser.Enabled = flag(true)
			case "aggregation":
				c.Aggregation.Enabled = flag(true)
			case "validation":
				c.Validation.Enabled = flag(true)
			case "sensitivity":
				c.Sensitivity.Enabled = flag(true)
			case "surrogate":
				c.Surrogate.Enabled = flag(true)
			case "calibration":
				c.Calibration.Enabled = flag(true)
			}
		}
	}
}

// WithoutStages disables stages by section name: setup, simulation, parsing.
func WithoutStages(names ...string) JobOption {
	return func(c *jobconfig.Config) {
		for _, name := range names {
			switch name {
			case "setup":
				c.Setup.Enabled = flag(false)
			case "simulation":
				c.Simulation.Enabled = flag(false)
			case "parsing":
				c.Parsing.Enabled = flag(false)
			}
		}
	}
}
