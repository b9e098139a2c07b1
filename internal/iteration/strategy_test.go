package iteration_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"bemflow/internal/collab"
	"bemflow/internal/iteration"
)

func report(metric float64, entries ...collab.BuildingValidation) collab.ValidationReport {
	return collab.ValidationReport{Metric: metric, Buildings: entries}
}

func bv(id string, metric float64, passed bool) collab.BuildingValidation {
	return collab.BuildingValidation{BuildingID: id, Metric: metric, Passed: passed}
}

func TestStrategySelect(t *testing.T) {
	previous := report(20, bv("a", 30, false), bv("b", 20, false), bv("c", 14, true), bv("d", 25, false))
	last := report(15, bv("a", 12, true), bv("b", 19, false), bv("c", 9, true), bv("d", 24, false))

	tests := []struct {
		name     string
		strategy iteration.Strategy
		views    []collab.ValidationReport
		k        int
		want     []string
	}{
		{"validation failures worst first", iteration.StrategyValidationFailure, []collab.ValidationReport{last}, 0, []string{"d", "b"}},
		{"validation failures capped", iteration.StrategyValidationFailure, []collab.ValidationReport{last}, 1, []string{"d"}},
		{"worst performers top k", iteration.StrategyWorstPerformer, []collab.ValidationReport{last}, 2, []string{"d", "b"}},
		{"worst performers all", iteration.StrategyWorstPerformer, []collab.ValidationReport{last}, 0, []string{"d", "b", "a", "c"}},
		{"least improved", iteration.StrategyLeastImproved, []collab.ValidationReport{previous, last}, 2, []string{"b", "d"}},
		{"least improved falls back with one view", iteration.StrategyLeastImproved, []collab.ValidationReport{last}, 1, []string{"d"}},
		{"no views", iteration.StrategyWorstPerformer, nil, 2, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.strategy.Select(tt.views, tt.k)
			if tt.want == nil {
				require.Empty(t, got)
				return
			}
			require.Equal(t, tt.want, got)
		})
	}
}

func TestStrategyTiesBreakByID(t *testing.T) {
	last := report(10, bv("z", 5, false), bv("m", 5, false), bv("a", 5, false))
	require.Equal(t, []string{"a", "m"}, iteration.StrategyWorstPerformer.Select([]collab.ValidationReport{last}, 2))
}

func TestParseStrategy(t *testing.T) {
	s, err := iteration.ParseStrategy(" Least_Improved ")
	require.NoError(t, err)
	require.Equal(t, iteration.StrategyLeastImproved, s)

	_, err = iteration.ParseStrategy("random")
	require.ErrorContains(t, err, "worst_performer")
}

func TestScheduleAtClampsAndValidates(t *testing.T) {
	s, err := iteration.ParseSchedule([]string{"low", "medium", "medium", "high"})
	require.NoError(t, err)
	require.Equal(t, collab.IntensityLow, s.At(0))
	require.Equal(t, collab.IntensityMedium, s.At(2))
	require.Equal(t, collab.IntensityHigh, s.At(3))
	require.Equal(t, collab.IntensityHigh, s.At(50))

	_, err = iteration.ParseSchedule([]string{"medium", "low"})
	require.ErrorContains(t, err, "non-decreasing")
	_, err = iteration.ParseSchedule(nil)
	require.ErrorContains(t, err, "empty")
	_, err = iteration.ParseSchedule([]string{"extreme"})
	require.ErrorContains(t, err, "schedule[0]")
}

func TestCriterionObserve(t *testing.T) {
	c := iteration.Criterion{MetricThreshold: 5, MinImprovement: 1, Patience: 2, MaxRounds: 10}
	var st iteration.State

	d := c.Observe(&st, 20)
	require.False(t, d.HasPrevious)
	require.Equal(t, 0, st.Patience, "first round leaves patience unchanged")
	require.False(t, d.Stop)

	st.Round++
	d = c.Observe(&st, 19.5)
	require.True(t, d.HasPrevious)
	require.InDelta(t, 0.5, d.Improvement, 1e-9)
	require.Equal(t, 1, st.Patience)

	st.Round++
	d = c.Observe(&st, 21)
	require.Equal(t, 2, st.Patience, "a worsening round consumes patience")
	require.True(t, d.Stop)
	require.Equal(t, iteration.StopPatienceExhausted, d.Reason)
}

func TestCriterionThresholdWinsOverPatience(t *testing.T) {
	c := iteration.Criterion{MetricThreshold: 5, MinImprovement: 10, Patience: 1, MaxRounds: 10}
	st := iteration.State{Round: 1, History: []float64{6}}
	d := c.Observe(&st, 4)
	require.True(t, d.Stop)
	require.Equal(t, iteration.StopThresholdMet, d.Reason)
}

func TestCriterionObserveFailure(t *testing.T) {
	c := iteration.Criterion{MetricThreshold: 0, MinImprovement: 1, Patience: 10, MaxRounds: 10}
	var st iteration.State
	for i := range 2 {
		st.Round = i
		d := c.ObserveFailure(&st, 3)
		require.False(t, d.Stop)
	}
	st.Round = 2
	d := c.ObserveFailure(&st, 3)
	require.True(t, d.Stop)
	require.Equal(t, iteration.StopConsecutiveFailures, d.Reason)
	require.Empty(t, st.History)

	d = c.Observe(&st, 10)
	require.Equal(t, 0, st.ConsecutiveFailures, "a successful round resets the failure streak")
	require.False(t, d.HasPrevious)
}
