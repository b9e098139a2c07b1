package workflow

import (
	"errors"
	"fmt"
)

// ErrInputUnavailable is returned by a stage whose inputs are absent. The
// orchestrator records the stage as skipped.
var ErrInputUnavailable = errors.New("input unavailable")

func inputUnavailable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInputUnavailable, fmt.Sprintf(format, args...))
}

// Outputs accumulates stage results keyed by stage name. Stages run
// sequentially, so no locking is needed.
type Outputs struct {
	values map[StageName]any
	order  []StageName
}

func newOutputs() *Outputs {
	return &Outputs{values: make(map[StageName]any)}
}

// Set stores a stage output.
func (o *Outputs) Set(name StageName, value any) {
	if _, exists := o.values[name]; !exists {
		o.order = append(o.order, name)
	}
	o.values[name] = value
}

// Has reports whether the stage produced an output.
func (o *Outputs) Has(name StageName) bool {
	_, ok := o.values[name]
	return ok
}

// Names lists stages with outputs in the order they were produced.
func (o *Outputs) Names() []string {
	out := make([]string, 0, len(o.order))
	for _, name := range o.order {
		out = append(out, string(name))
	}
	return out
}

// Map returns the outputs keyed by stage name.
func (o *Outputs) Map() map[string]any {
	out := make(map[string]any, len(o.values))
	for name, value := range o.values {
		out[string(name)] = value
	}
	return out
}

// Get returns a typed stage output.
func Get[T any](o *Outputs, name StageName) (T, bool) {
	var zero T
	value, ok := o.values[name]
	if !ok {
		return zero, false
	}
	typed, ok := value.(T)
	return typed, ok
}

// First returns the first present output among names, in the order given.
func First[T any](o *Outputs, names ...StageName) (T, StageName, bool) {
	for _, name := range names {
		if value, ok := Get[T](o, name); ok {
			return value, name, true
		}
	}
	var zero T
	return zero, "", false
}
