package iteration_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"bemflow/internal/collab"
	"bemflow/internal/iteration"
	"bemflow/internal/services"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type flagToken struct{ set atomic.Bool }

func (f *flagToken) Requested() bool { return f.set.Load() }

type scriptedExecutor struct {
	mu sync.Mutex

	metrics     []float64
	perBuilding map[int]map[string]float64
	passBelow   float64
	failAt      map[int]string

	intensities []collab.Intensity
	selections  [][]string
	bases       []collab.Parameters
	steps       []string

	onResimulate func(round int)
}

func (e *scriptedExecutor) record(step string, round int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.steps = append(e.steps, fmt.Sprintf("%s:%d", step, round))
	if e.failAt[round] == step {
		return fmt.Errorf("%s exploded in round %d", step, round)
	}
	return nil
}

func (e *scriptedExecutor) Modify(_ context.Context, round int, buildings collab.BuildingSet, intensity collab.Intensity, base collab.Parameters) (collab.VariantSet, error) {
	e.mu.Lock()
	e.intensities = append(e.intensities, intensity)
	e.selections = append(e.selections, buildings.IDs())
	e.bases = append(e.bases, base)
	e.mu.Unlock()
	if err := e.record("modify", round); err != nil {
		return collab.VariantSet{}, err
	}
	set := collab.VariantSet{}
	for _, id := range buildings.IDs() {
		set.Variants = append(set.Variants, collab.Variant{ID: fmt.Sprintf("%s-r%d", id, round), BuildingID: id, Intensity: intensity})
	}
	return set, nil
}

func (e *scriptedExecutor) Resimulate(_ context.Context, round int, _ collab.BuildingSet, variants collab.VariantSet, _ collab.Parameters) (collab.SimulationBatch, error) {
	if e.onResimulate != nil {
		e.onResimulate(round)
	}
	if err := e.record("resimulate", round); err != nil {
		return collab.SimulationBatch{}, err
	}
	batch := collab.SimulationBatch{}
	for _, v := range variants.Variants {
		batch.Results = append(batch.Results, collab.SimulationResult{BuildingID: v.BuildingID, VariantID: v.ID})
	}
	return batch, nil
}

func (e *scriptedExecutor) Reparse(_ context.Context, round int, batch collab.SimulationBatch) (collab.Tables, error) {
	if err := e.record("reparse", round); err != nil {
		return collab.Tables{}, err
	}
	ids := make([]string, 0, len(batch.Results))
	for _, r := range batch.Results {
		ids = append(ids, r.BuildingID)
	}
	return collab.Tables{Location: fmt.Sprintf("round-%d", round), Buildings: ids}, nil
}

func (e *scriptedExecutor) Revalidate(_ context.Context, round int, tables collab.Tables, selection []string) (collab.ValidationReport, error) {
	if err := e.record("revalidate", round); err != nil {
		return collab.ValidationReport{}, err
	}
	metric := e.metrics[min(round, len(e.metrics)-1)]
	report := collab.ValidationReport{Metric: metric}
	for _, id := range selection {
		m := metric
		if per, ok := e.perBuilding[round][id]; ok {
			m = per
		}
		report.Buildings = append(report.Buildings, collab.BuildingValidation{BuildingID: id, Metric: m, Passed: m <= e.passBelow})
	}
	return report, nil
}

func buildings(ids ...string) collab.BuildingSet {
	set := collab.BuildingSet{}
	for _, id := range ids {
		set.Buildings = append(set.Buildings, collab.Building{ID: id})
	}
	return set
}

func settings(criterion iteration.Criterion) iteration.Settings {
	return iteration.Settings{
		Strategy:  iteration.StrategyWorstPerformer,
		TopK:      2,
		Schedule:  iteration.DefaultSchedule,
		Criterion: criterion,
	}
}

func TestRunStopsWhenThresholdMet(t *testing.T) {
	exec := &scriptedExecutor{metrics: []float64{20, 17, 14, 11}}
	ctrl, err := iteration.New(settings(iteration.Criterion{MetricThreshold: 15, MinImprovement: 1, Patience: 3, MaxRounds: 10}), exec)
	require.NoError(t, err)

	result, err := ctrl.Run(context.Background(), &flagToken{}, iteration.Input{Buildings: buildings("a", "b", "c")})
	require.NoError(t, err)
	require.Equal(t, iteration.StopThresholdMet, result.StopReason)
	require.Equal(t, []float64{20, 17, 14}, result.History)
	require.Len(t, result.Rounds, 3)
	require.Equal(t, 2, result.Rounds[len(result.Rounds)-1].Index)
}

func TestRunStopsWhenPatienceExhausted(t *testing.T) {
	exec := &scriptedExecutor{metrics: []float64{20.0, 19.9, 19.95, 19.92}}
	ctrl, err := iteration.New(settings(iteration.Criterion{MetricThreshold: 1, MinImprovement: 0.5, Patience: 2, MaxRounds: 10}), exec)
	require.NoError(t, err)

	result, err := ctrl.Run(context.Background(), &flagToken{}, iteration.Input{Buildings: buildings("a", "b")})
	require.NoError(t, err)
	require.Equal(t, iteration.StopPatienceExhausted, result.StopReason)
	require.Len(t, result.Rounds, 3, "expected stop after the third round")
	require.Equal(t, []int{0, 1, 2}, []int{result.Rounds[0].Patience, result.Rounds[1].Patience, result.Rounds[2].Patience})
}

func TestRunStopsAtMaxRounds(t *testing.T) {
	exec := &scriptedExecutor{metrics: []float64{100, 90, 80, 70, 60}}
	ctrl, err := iteration.New(settings(iteration.Criterion{MetricThreshold: 0, MinImprovement: 1, Patience: 5, MaxRounds: 3}), exec)
	require.NoError(t, err)

	result, err := ctrl.Run(context.Background(), &flagToken{}, iteration.Input{Buildings: buildings("a")})
	require.NoError(t, err)
	require.Equal(t, iteration.StopMaxRounds, result.StopReason)
	require.Len(t, result.Rounds, 3)
}

func TestRunIntensityNeverDecreases(t *testing.T) {
	exec := &scriptedExecutor{metrics: []float64{100, 90, 80, 70, 60}}
	s := settings(iteration.Criterion{MetricThreshold: 0, MinImprovement: 1, Patience: 5, MaxRounds: 5})
	ctrl, err := iteration.New(s, exec)
	require.NoError(t, err)

	_, err = ctrl.Run(context.Background(), &flagToken{}, iteration.Input{Buildings: buildings("a", "b", "c")})
	require.NoError(t, err)
	require.Equal(t, []collab.Intensity{
		collab.IntensityLow, collab.IntensityMedium, collab.IntensityHigh, collab.IntensityHigh, collab.IntensityHigh,
	}, exec.intensities)
	for i := 1; i < len(exec.intensities); i++ {
		require.GreaterOrEqual(t, exec.intensities[i], exec.intensities[i-1])
	}
}

func TestRunRoundZeroTargetsInitialSetThenStrategy(t *testing.T) {
	exec := &scriptedExecutor{
		metrics: []float64{30, 20, 10},
		perBuilding: map[int]map[string]float64{
			0: {"a": 5, "b": 40, "c": 25},
		},
	}
	ctrl, err := iteration.New(settings(iteration.Criterion{MetricThreshold: 0, MinImprovement: 1, Patience: 5, MaxRounds: 2}), exec)
	require.NoError(t, err)

	_, err = ctrl.Run(context.Background(), &flagToken{}, iteration.Input{Buildings: buildings("a", "b", "c")})
	require.NoError(t, err)
	require.Equal(t, [][]string{{"a", "b", "c"}, {"b", "c"}}, exec.selections)
}

func TestRunConsecutiveFailuresForceHardStop(t *testing.T) {
	exec := &scriptedExecutor{
		metrics: []float64{10},
		failAt:  map[int]string{0: "resimulate", 1: "reparse", 2: "modify"},
	}
	ctrl, err := iteration.New(settings(iteration.Criterion{MetricThreshold: 0, MinImprovement: 1, Patience: 10, MaxRounds: 10}), exec)
	require.NoError(t, err)

	result, err := ctrl.Run(context.Background(), &flagToken{}, iteration.Input{Buildings: buildings("a")})
	require.Error(t, err)
	require.ErrorIs(t, err, services.ErrStageFailure)
	require.Equal(t, iteration.StopConsecutiveFailures, result.StopReason)
	require.Empty(t, result.History)
	require.Len(t, result.Rounds, 3)
	for i, r := range result.Rounds {
		require.True(t, r.Failed)
		require.Equal(t, i, r.Index)
	}
	require.Equal(t, "resimulate", result.Rounds[0].FailedStep)
}

func TestRunRetriesSelectionAfterFailedRoundWithoutBaseline(t *testing.T) {
	exec := &scriptedExecutor{
		metrics: []float64{10},
		failAt:  map[int]string{0: "modify", 1: "modify", 2: "modify"},
	}
	ctrl, err := iteration.New(settings(iteration.Criterion{MetricThreshold: 0, MinImprovement: 1, Patience: 10, MaxRounds: 10}), exec)
	require.NoError(t, err)

	result, err := ctrl.Run(context.Background(), &flagToken{}, iteration.Input{Buildings: buildings("a", "b")})
	require.ErrorIs(t, err, services.ErrStageFailure)
	require.Equal(t, iteration.StopConsecutiveFailures, result.StopReason)
	require.Len(t, result.Rounds, 3)
	require.Equal(t, [][]string{{"a", "b"}, {"a", "b"}, {"a", "b"}}, exec.selections)
}

func TestRunRetriesSelectionAfterFailedRoundThenRecovers(t *testing.T) {
	exec := &scriptedExecutor{
		metrics: []float64{0, 12, 9},
		failAt:  map[int]string{0: "revalidate"},
	}
	ctrl, err := iteration.New(settings(iteration.Criterion{MetricThreshold: 0, MinImprovement: 1, Patience: 10, MaxRounds: 3}), exec)
	require.NoError(t, err)

	result, err := ctrl.Run(context.Background(), &flagToken{}, iteration.Input{Buildings: buildings("a", "b", "c")})
	require.NoError(t, err)
	require.Equal(t, iteration.StopMaxRounds, result.StopReason)
	require.Equal(t, []float64{12, 9}, result.History)
	require.Equal(t, []string{"a", "b", "c"}, exec.selections[1])
	require.Len(t, exec.selections[2], 2, "strategy applies once a round reported")
}

func TestRunFailedRoundConsumesPatienceWithoutHistory(t *testing.T) {
	exec := &scriptedExecutor{
		metrics: []float64{20, 0, 18, 17},
		failAt:  map[int]string{1: "revalidate"},
	}
	ctrl, err := iteration.New(settings(iteration.Criterion{MetricThreshold: 0, MinImprovement: 0.5, Patience: 5, MaxRounds: 4}), exec)
	require.NoError(t, err)

	result, err := ctrl.Run(context.Background(), &flagToken{}, iteration.Input{Buildings: buildings("a")})
	require.NoError(t, err)
	require.Equal(t, []float64{20, 18, 17}, result.History)
	require.Equal(t, iteration.StopMaxRounds, result.StopReason)
	require.True(t, result.Rounds[1].Failed)
	require.Equal(t, 1, result.Rounds[1].Patience)
	require.Equal(t, 0, result.Rounds[2].Patience, "improvement over the last successful round resets patience")
}

func TestRunObservesCancellationBetweenSubSteps(t *testing.T) {
	token := &flagToken{}
	exec := &scriptedExecutor{metrics: []float64{20, 19, 18}}
	exec.onResimulate = func(round int) {
		if round == 1 {
			token.set.Store(true)
		}
	}
	ctrl, err := iteration.New(settings(iteration.Criterion{MetricThreshold: 0, MinImprovement: 0.5, Patience: 5, MaxRounds: 5}), exec)
	require.NoError(t, err)

	result, err := ctrl.Run(context.Background(), token, iteration.Input{Buildings: buildings("a")})
	require.NoError(t, err)
	require.Equal(t, iteration.StopCanceled, result.StopReason)
	require.Len(t, result.Rounds, 1)
	require.NotContains(t, exec.steps, "reparse:1")
}

func TestRunCanceledBeforeFirstRound(t *testing.T) {
	token := &flagToken{}
	token.set.Store(true)
	exec := &scriptedExecutor{metrics: []float64{20}}
	ctrl, err := iteration.New(settings(iteration.Criterion{MetricThreshold: 0, MinImprovement: 0.5, Patience: 5, MaxRounds: 5}), exec)
	require.NoError(t, err)

	result, err := ctrl.Run(context.Background(), token, iteration.Input{Buildings: buildings("a")})
	require.NoError(t, err)
	require.Equal(t, iteration.StopCanceled, result.StopReason)
	require.Empty(t, exec.steps)
}

func TestRunStopsWithNoTargets(t *testing.T) {
	exec := &scriptedExecutor{metrics: []float64{12, 11}, passBelow: 100}
	s := settings(iteration.Criterion{MetricThreshold: 1, MinImprovement: 0.5, Patience: 5, MaxRounds: 5})
	s.Strategy = iteration.StrategyValidationFailure
	ctrl, err := iteration.New(s, exec)
	require.NoError(t, err)

	result, err := ctrl.Run(context.Background(), &flagToken{}, iteration.Input{Buildings: buildings("a", "b")})
	require.NoError(t, err)
	require.Equal(t, iteration.StopNoTargets, result.StopReason)
	require.Len(t, result.Rounds, 1)
}

type staticRecommender struct {
	params collab.Parameters
	err    error
}

func (r staticRecommender) Recommend(context.Context, int, collab.Tables, collab.ValidationReport, collab.Parameters) (collab.Parameters, error) {
	return r.params, r.err
}

func TestRunMergesCalibrationFeedback(t *testing.T) {
	exec := &scriptedExecutor{metrics: []float64{20, 15}}
	ctrl, err := iteration.New(
		settings(iteration.Criterion{MetricThreshold: 0, MinImprovement: 0.5, Patience: 5, MaxRounds: 2}),
		exec,
		iteration.WithRecommender(staticRecommender{params: collab.Parameters{"infiltration": 0.3}}),
	)
	require.NoError(t, err)

	result, err := ctrl.Run(context.Background(), &flagToken{}, iteration.Input{
		Buildings:  buildings("a"),
		Parameters: collab.Parameters{"infiltration": 0.5, "setpoint": 21},
	})
	require.NoError(t, err)
	require.Len(t, exec.bases, 2)
	require.Equal(t, 0.5, exec.bases[0]["infiltration"])
	require.Equal(t, 0.3, exec.bases[1]["infiltration"])
	require.Equal(t, 21, exec.bases[1]["setpoint"])
	require.Equal(t, 0.3, result.Parameters["infiltration"])
}

func TestRunIgnoresFailingRecommender(t *testing.T) {
	exec := &scriptedExecutor{metrics: []float64{20, 15}}
	ctrl, err := iteration.New(
		settings(iteration.Criterion{MetricThreshold: 0, MinImprovement: 0.5, Patience: 5, MaxRounds: 2}),
		exec,
		iteration.WithRecommender(staticRecommender{err: errors.New("optimizer diverged")}),
	)
	require.NoError(t, err)

	_, err = ctrl.Run(context.Background(), &flagToken{}, iteration.Input{Buildings: buildings("a"), Parameters: collab.Parameters{"k": 1}})
	require.NoError(t, err)
	require.Equal(t, 1, exec.bases[1]["k"])
}

func TestNewRejectsInvalidSettings(t *testing.T) {
	exec := &scriptedExecutor{}
	tests := []struct {
		name   string
		mutate func(*iteration.Settings)
	}{
		{"unknown strategy", func(s *iteration.Settings) { s.Strategy = "random" }},
		{"decreasing schedule", func(s *iteration.Settings) {
			s.Schedule = iteration.Schedule{collab.IntensityHigh, collab.IntensityLow}
		}},
		{"zero max rounds", func(s *iteration.Settings) { s.Criterion.MaxRounds = 0 }},
		{"zero patience", func(s *iteration.Settings) { s.Criterion.Patience = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := settings(iteration.Criterion{MetricThreshold: 1, MinImprovement: 0.5, Patience: 2, MaxRounds: 3})
			tt.mutate(&s)
			_, err := iteration.New(s, exec)
			require.ErrorIs(t, err, services.ErrConfiguration)
		})
	}
}
