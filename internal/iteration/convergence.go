package iteration

import (
	"errors"
	"fmt"
)

// StopReason names why the loop ended.
type StopReason string

const (
	StopNone                StopReason = ""
	StopThresholdMet        StopReason = "threshold_met"
	StopPatienceExhausted   StopReason = "patience_exhausted"
	StopMaxRounds           StopReason = "max_rounds"
	StopConsecutiveFailures StopReason = "consecutive_failures"
	StopNoTargets           StopReason = "no_targets"
	StopCanceled            StopReason = "canceled"
)

// DefaultMaxConsecutiveFailures is the number of failed rounds in a row that
// forces a hard stop.
const DefaultMaxConsecutiveFailures = 3

// Criterion decides when the loop stops. Lower metrics are better.
type Criterion struct {
	MetricThreshold float64
	MinImprovement  float64
	Patience        int
	MaxRounds       int
}

// Validate checks the criterion guarantees termination.
func (c Criterion) Validate() error {
	if c.MaxRounds < 1 {
		return fmt.Errorf("max rounds must be at least 1, got %d", c.MaxRounds)
	}
	if c.Patience < 1 {
		return fmt.Errorf("patience must be at least 1, got %d", c.Patience)
	}
	if c.MinImprovement < 0 {
		return errors.New("min improvement must not be negative")
	}
	return nil
}

// State is the convergence bookkeeping carried between rounds.
type State struct {
	Round               int
	History             []float64
	Patience            int
	ConsecutiveFailures int
}

// Decision is the outcome of one convergence check.
type Decision struct {
	Stop        bool
	Reason      StopReason
	Improvement float64
	// HasPrevious is false on the first successful round, where no
	// improvement can be computed.
	HasPrevious bool
}

// Observe records a successful round's metric for st.Round and decides
// whether to stop. The caller advances st.Round afterwards.
func (c Criterion) Observe(st *State, metric float64) Decision {
	var d Decision
	if n := len(st.History); n > 0 {
		d.HasPrevious = true
		d.Improvement = st.History[n-1] - metric
		if d.Improvement >= c.MinImprovement {
			st.Patience = 0
		} else {
			st.Patience++
		}
	}
	st.History = append(st.History, metric)
	st.ConsecutiveFailures = 0

	switch {
	case metric <= c.MetricThreshold:
		d.Stop, d.Reason = true, StopThresholdMet
	case st.Patience >= c.Patience:
		d.Stop, d.Reason = true, StopPatienceExhausted
	case st.Round >= c.MaxRounds-1:
		d.Stop, d.Reason = true, StopMaxRounds
	}
	return d
}

// ObserveFailure records a failed round: no history entry, patience and the
// consecutive-failure count both grow.
func (c Criterion) ObserveFailure(st *State, maxConsecutive int) Decision {
	if maxConsecutive <= 0 {
		maxConsecutive = DefaultMaxConsecutiveFailures
	}
	st.Patience++
	st.ConsecutiveFailures++

	var d Decision
	switch {
	case st.ConsecutiveFailures >= maxConsecutive:
		d.Stop, d.Reason = true, StopConsecutiveFailures
	case st.Patience >= c.Patience:
		d.Stop, d.Reason = true, StopPatienceExhausted
	case st.Round >= c.MaxRounds-1:
		d.Stop, d.Reason = true, StopMaxRounds
	}
	return d
}
