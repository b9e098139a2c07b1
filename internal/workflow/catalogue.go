package workflow

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"bemflow/internal/jobconfig"
)

// StageName identifies a stage in the catalogue.
type StageName string

const (
	StageSetup         StageName = "setup"
	StageOverridesBulk StageName = "overrides_bulk"
	StageOverridesUser StageName = "overrides_user"
	StageSimulate      StageName = "simulate"
	StageParse         StageName = "parse"
	StageAggregate     StageName = "aggregate"
	StageValidate      StageName = "validate"
	StageModify        StageName = "modify"
	StageResimulate    StageName = "resimulate"
	StageReparse       StageName = "reparse"
	StageRevalidate    StageName = "revalidate"
	StageIterate       StageName = "iterate"
	StageSensitivity   StageName = "sensitivity"
	StageSurrogate     StageName = "surrogate"
	StageCalibrate     StageName = "calibrate"
	StagePackage       StageName = "package"
	StageCleanup       StageName = "cleanup"
)

// Criticality decides whether a stage failure ends the job.
type Criticality int

const (
	Fatal Criticality = iota
	Recoverable
)

func (c Criticality) String() string {
	if c == Fatal {
		return "fatal"
	}
	return "recoverable"
}

// Mode restricts a stage to one-shot or iterative runs.
type Mode int

const (
	ModeAlways Mode = iota
	ModeOneShot
	ModeIterative
)

// StageFunc runs a stage and returns its output.
type StageFunc func(ctx context.Context, env *Env) (any, error)

// Descriptor declares one stage. Descriptors hold no state; everything a
// stage reads comes from Env.
type Descriptor struct {
	Name        StageName
	Criticality Criticality
	Mode        Mode
	// Needs names earlier stages whose outputs must be present.
	Needs   []StageName
	Enabled func(*jobconfig.Config) bool
	Run     StageFunc
	// Finalizer stages run at job end on every terminal path.
	Finalizer bool
}

// Catalogue is a validated, ordered list of descriptors.
type Catalogue struct {
	stages     []Descriptor
	finalizers []Descriptor
}

// NewCatalogue validates descriptors once: names are unique, finalizers come
// last, and every need names an earlier stage that can run in the same mode.
func NewCatalogue(descs ...Descriptor) (*Catalogue, error) {
	seen := make(map[StageName]Descriptor, len(descs))
	c := &Catalogue{}
	for i, d := range descs {
		if d.Name == "" {
			return nil, fmt.Errorf("stage %d has no name", i)
		}
		if d.Run == nil || d.Enabled == nil {
			return nil, fmt.Errorf("stage %s must define Run and Enabled", d.Name)
		}
		if _, dup := seen[d.Name]; dup {
			return nil, fmt.Errorf("stage %s declared twice", d.Name)
		}
		if !d.Finalizer && len(c.finalizers) > 0 {
			return nil, fmt.Errorf("stage %s follows a finalizer", d.Name)
		}
		for _, need := range d.Needs {
			dep, ok := seen[need]
			if !ok {
				return nil, fmt.Errorf("stage %s needs %s, which is not an earlier stage", d.Name, need)
			}
			if exclusiveModes(d.Mode, dep.Mode) {
				return nil, fmt.Errorf("stage %s needs %s, which never runs in the same mode", d.Name, need)
			}
		}
		seen[d.Name] = d
		if d.Finalizer {
			c.finalizers = append(c.finalizers, d)
		} else {
			c.stages = append(c.stages, d)
		}
	}
	if len(c.stages) == 0 {
		return nil, errors.New("catalogue has no stages")
	}
	return c, nil
}

func exclusiveModes(a, b Mode) bool {
	return (a == ModeOneShot && b == ModeIterative) || (a == ModeIterative && b == ModeOneShot)
}

// Plan returns the stages and finalizers that apply to cfg, in order.
func (c *Catalogue) Plan(cfg *jobconfig.Config) (stages, finalizers []Descriptor) {
	iterative := cfg != nil && cfg.Iteration.On()
	for _, d := range c.stages {
		switch {
		case d.Mode == ModeOneShot && iterative:
			continue
		case d.Mode == ModeIterative && !iterative:
			continue
		}
		stages = append(stages, d)
	}
	return stages, slices.Clone(c.finalizers)
}

// Names lists every stage and finalizer in order.
func (c *Catalogue) Names() []StageName {
	out := make([]StageName, 0, len(c.stages)+len(c.finalizers))
	for _, d := range c.stages {
		out = append(out, d.Name)
	}
	for _, d := range c.finalizers {
		out = append(out, d.Name)
	}
	return out
}

// DefaultCatalogue is the canonical bemflow stage order.
func DefaultCatalogue() *Catalogue {
	c, err := NewCatalogue(
		Descriptor{Name: StageSetup, Criticality: Fatal, Enabled: func(c *jobconfig.Config) bool { return c.Setup.On() }, Run: runSetup},
		Descriptor{Name: StageOverridesBulk, Criticality: Fatal, Needs: []StageName{StageSetup}, Enabled: func(c *jobconfig.Config) bool { return c.OverridesBulk.On() }, Run: runOverridesBulk},
		Descriptor{Name: StageOverridesUser, Criticality: Fatal, Needs: []StageName{StageSetup}, Enabled: func(c *jobconfig.Config) bool { return c.OverridesUser.On() }, Run: runOverridesUser},
		Descriptor{Name: StageSimulate, Criticality: Fatal, Needs: []StageName{StageSetup}, Enabled: func(c *jobconfig.Config) bool { return c.Simulation.On() }, Run: runSimulate},
		Descriptor{Name: StageParse, Criticality: Fatal, Needs: []StageName{StageSimulate}, Enabled: func(c *jobconfig.Config) bool { return c.Parsing.On() }, Run: runParse},
		Descriptor{Name: StageAggregate, Criticality: Recoverable, Needs: []StageName{StageParse}, Enabled: func(c *jobconfig.Config) bool { return c.Aggregation.On() }, Run: runAggregate},
		Descriptor{Name: StageValidate, Criticality: Recoverable, Needs: []StageName{StageParse}, Enabled: func(c *jobconfig.Config) bool { return c.Validation.On() }, Run: runValidate},
		Descriptor{Name: StageModify, Criticality: Recoverable, Mode: ModeOneShot, Needs: []StageName{StageSetup}, Enabled: func(c *jobconfig.Config) bool { return c.Modification.On() }, Run: runModify},
		Descriptor{Name: StageResimulate, Criticality: Recoverable, Mode: ModeOneShot, Needs: []StageName{StageModify}, Enabled: func(c *jobconfig.Config) bool { return c.Resimulation.On() }, Run: runResimulate},
		Descriptor{Name: StageReparse, Criticality: Recoverable, Mode: ModeOneShot, Needs: []StageName{StageResimulate}, Enabled: func(c *jobconfig.Config) bool { return c.Reparse.On() }, Run: runReparse},
		Descriptor{Name: StageRevalidate, Criticality: Recoverable, Mode: ModeOneShot, Needs: []StageName{StageReparse}, Enabled: func(c *jobconfig.Config) bool { return c.Revalidation.On() }, Run: runRevalidate},
		// Round failures stay inside the controller; only its hard stop
		// surfaces here, and that ends the job.
		Descriptor{Name: StageIterate, Criticality: Fatal, Mode: ModeIterative, Needs: []StageName{StageSetup, StageParse}, Enabled: func(c *jobconfig.Config) bool { return c.Iteration.On() }, Run: runIterate},
		Descriptor{Name: StageSensitivity, Criticality: Recoverable, Needs: []StageName{StageParse}, Enabled: func(c *jobconfig.Config) bool { return c.Sensitivity.On() }, Run: runSensitivity},
		Descriptor{Name: StageSurrogate, Criticality: Recoverable, Needs: []StageName{StageParse}, Enabled: func(c *jobconfig.Config) bool { return c.Surrogate.On() }, Run: runSurrogate},
		Descriptor{Name: StageCalibrate, Criticality: Recoverable, Needs: []StageName{StageParse}, Enabled: func(c *jobconfig.Config) bool { return c.Calibration.On() }, Run: runCalibrate},
		Descriptor{Name: StagePackage, Criticality: Recoverable, Finalizer: true, Enabled: func(c *jobconfig.Config) bool { return c.Package.On() }, Run: runPackage},
		Descriptor{Name: StageCleanup, Criticality: Recoverable, Finalizer: true, Enabled: func(c *jobconfig.Config) bool { return c.Cleanup.On() }, Run: runCleanup},
	)
	if err != nil {
		panic(fmt.Sprintf("workflow: invalid default catalogue: %v", err))
	}
	return c
}
