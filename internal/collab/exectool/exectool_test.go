package exectool_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"bemflow/internal/collab"
	"bemflow/internal/collab/exectool"
	"bemflow/internal/config"
	"bemflow/internal/services"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type envelope struct {
	Operation string          `json:"operation"`
	Request   json.RawMessage `json:"request"`
}

// stubExecutor answers tool invocations from a handler keyed by operation.
type stubExecutor struct {
	mu       sync.Mutex
	commands [][]string
	handle   func(ctx context.Context, op string, req json.RawMessage) (any, error)
	active   atomic.Int32
	peak     atomic.Int32
}

func (s *stubExecutor) Run(ctx context.Context, command []string, stdin []byte) ([]byte, error) {
	s.mu.Lock()
	s.commands = append(s.commands, command)
	s.mu.Unlock()

	n := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		peak := s.peak.Load()
		if n <= peak || s.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	var env envelope
	if err := json.Unmarshal(stdin, &env); err != nil {
		return nil, err
	}
	resp, err := s.handle(ctx, env.Operation, env.Request)
	if err != nil {
		return nil, err
	}
	if raw, ok := resp.([]byte); ok {
		return raw, nil
	}
	return json.Marshal(resp)
}

func tools() config.Tools {
	return config.Tools{
		BuildingProvider:  "bem-buildings --source db",
		Simulator:         "bem-sim",
		Parser:            "bem-parse",
		Validator:         "bem-validate",
		SimulationWorkers: 2,
	}
}

func buildingSet(ids ...string) collab.BuildingSet {
	var set collab.BuildingSet
	for _, id := range ids {
		set.Buildings = append(set.Buildings, collab.Building{ID: id})
	}
	return set
}

func TestNewSetLeavesUnconfiguredToolsNil(t *testing.T) {
	set := exectool.NewSet(tools(), exectool.Options{Executor: &stubExecutor{}})
	require.NotNil(t, set.Buildings)
	require.NotNil(t, set.Simulator)
	require.NotNil(t, set.Parser)
	require.NotNil(t, set.Validator)
	require.Nil(t, set.Modifier)
	require.Nil(t, set.Calibrator)
	require.Nil(t, set.Overrides)
	require.IsType(t, exectool.LocalPackager{}, set.Packager)
}

func TestToolSendsEnvelopeAndDecodesResponse(t *testing.T) {
	exec := &stubExecutor{handle: func(_ context.Context, op string, req json.RawMessage) (any, error) {
		require.Equal(t, "load", op)
		var filter collab.Filter
		require.NoError(t, json.Unmarshal(req, &filter))
		require.Equal(t, []string{"b2"}, filter.IDs)
		return buildingSet("b2"), nil
	}}
	set := exectool.NewSet(tools(), exectool.Options{Executor: exec})

	got, err := set.Buildings.Load(context.Background(), collab.Filter{Source: "db", IDs: []string{"b2"}})
	require.NoError(t, err)
	require.Equal(t, []string{"b2"}, got.IDs())
	require.Equal(t, [][]string{{"bem-buildings", "--source", "db"}}, exec.commands)
}

func TestToolErrorClassification(t *testing.T) {
	tests := []struct {
		name    string
		handle  func(ctx context.Context, op string, req json.RawMessage) (any, error)
		ctx     func() (context.Context, context.CancelFunc)
		timeout time.Duration
		want    error
	}{
		{
			name: "tool failure",
			handle: func(context.Context, string, json.RawMessage) (any, error) {
				return nil, errors.New("exit status 2: reference file missing")
			},
			want: services.ErrExternalTool,
		},
		{
			name: "malformed output",
			handle: func(context.Context, string, json.RawMessage) (any, error) {
				return []byte("not json"), nil
			},
			want: services.ErrExternalTool,
		},
		{
			name: "timeout",
			handle: func(ctx context.Context, _ string, _ json.RawMessage) (any, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
			timeout: 10 * time.Millisecond,
			want:    services.ErrTimeout,
		},
		{
			name: "canceled",
			handle: func(ctx context.Context, _ string, _ json.RawMessage) (any, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
			ctx: func() (context.Context, context.CancelFunc) {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				return ctx, cancel
			},
			want: services.ErrCanceled,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.Background(), context.CancelFunc(func() {})
			if tt.ctx != nil {
				ctx, cancel = tt.ctx()
			}
			defer cancel()
			set := exectool.NewSet(tools(), exectool.Options{Executor: &stubExecutor{handle: tt.handle}, Timeout: tt.timeout})

			_, err := set.Validator.Validate(services.WithStage(ctx, "validate"), collab.ValidateRequest{Threshold: 10})
			require.ErrorIs(t, err, tt.want)
			var svcErr *services.ServiceError
			require.ErrorAs(t, err, &svcErr)
			require.Equal(t, "validate", svcErr.Stage)
		})
	}
}

func TestSimulatorIsolatesFailuresAndBoundsConcurrency(t *testing.T) {
	exec := &stubExecutor{handle: func(_ context.Context, op string, raw json.RawMessage) (any, error) {
		var req collab.SimulationRequest
		if err := json.Unmarshal(raw, &req); err != nil || op != "simulate" || req.Buildings.Len() != 1 {
			return nil, fmt.Errorf("unexpected %s request: %s", op, raw)
		}
		id := req.Buildings.Buildings[0].ID
		time.Sleep(5 * time.Millisecond)
		if id == "b3" {
			return nil, errors.New("engine crashed")
		}
		return collab.SimulationResult{OutputPath: req.WorkDir}, nil
	}}
	set := exectool.NewSet(tools(), exectool.Options{Executor: exec})

	batch, err := set.Simulator.Simulate(context.Background(), collab.SimulationRequest{
		Buildings: buildingSet("b1", "b2", "b3", "b4", "b5"),
		WorkDir:   "/work/simulate",
	})
	require.NoError(t, err)
	require.True(t, batch.Partial())
	require.Len(t, batch.Results, 4)
	require.Equal(t, []string{"b3"}, batch.FailedIDs())
	require.Contains(t, batch.Failures[0].Error, "engine crashed")
	require.Equal(t, "b1", batch.Results[0].BuildingID)
	require.Equal(t, filepath.Join("/work/simulate", "b1"), batch.Results[0].OutputPath)
	require.LessOrEqual(t, exec.peak.Load(), int32(2))
}

func TestSimulatorRunsVariantsIndividually(t *testing.T) {
	exec := &stubExecutor{handle: func(_ context.Context, _ string, raw json.RawMessage) (any, error) {
		var req collab.SimulationRequest
		if err := json.Unmarshal(raw, &req); err != nil || len(req.Variants) != 1 {
			return nil, fmt.Errorf("unexpected request: %s", raw)
		}
		return collab.SimulationResult{}, nil
	}}
	set := exectool.NewSet(tools(), exectool.Options{Executor: exec, Workers: 4})

	batch, err := set.Simulator.Simulate(context.Background(), collab.SimulationRequest{
		Buildings: buildingSet("b1", "b2"),
		Variants: []collab.Variant{
			{ID: "b2-low", BuildingID: "b2", Intensity: collab.IntensityLow},
			{ID: "b2-high", BuildingID: "b2", Intensity: collab.IntensityHigh},
		},
		WorkDir: "/work/resimulate",
	})
	require.NoError(t, err)
	require.Len(t, batch.Results, 2)
	require.Equal(t, "b2-low", batch.Results[0].VariantID)
	require.Equal(t, "b2", batch.Results[1].BuildingID)
}

func TestSimulatorCancellationAbortsBatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var calls atomic.Int32
	exec := &stubExecutor{handle: func(ctx context.Context, _ string, _ json.RawMessage) (any, error) {
		if calls.Add(1) == 1 {
			cancel()
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	set := exectool.NewSet(tools(), exectool.Options{Executor: exec, Workers: 1})

	_, err := set.Simulator.Simulate(ctx, collab.SimulationRequest{Buildings: buildingSet("b1", "b2", "b3")})
	require.ErrorIs(t, err, services.ErrCanceled)
	require.Equal(t, int32(1), calls.Load())
}

func TestLocalPackagerCopiesWorkDirWithManifest(t *testing.T) {
	work := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(work, "parse"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(work, "parse", "tables.csv"), []byte("a,b\n"), 0o644))
	dest := t.TempDir()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	artifact, err := exectool.LocalPackager{Now: func() time.Time { return fixed }}.Package(context.Background(), collab.PackageRequest{
		JobID:       "job-1",
		Name:        "campus",
		Status:      "finished",
		Destination: dest,
		WorkDir:     work,
		Outputs:     map[string]any{"parse": "tables"},
	})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dest, "job-1"), artifact.Location)
	require.Equal(t, []string{"parse/tables.csv", exectool.ManifestName}, artifact.Files)

	data, err := os.ReadFile(filepath.Join(artifact.Location, exectool.ManifestName))
	require.NoError(t, err)
	var manifest exectool.Manifest
	require.NoError(t, json.Unmarshal(data, &manifest))
	require.Equal(t, "campus", manifest.Name)
	require.True(t, manifest.CreatedAt.Equal(fixed))
	require.Len(t, manifest.Files, 1)
	require.Len(t, manifest.Files[0].SHA256, 64)
}

func TestLocalPackagerRequiresDestination(t *testing.T) {
	_, err := exectool.LocalPackager{}.Package(context.Background(), collab.PackageRequest{JobID: "job-1", WorkDir: t.TempDir()})
	require.ErrorIs(t, err, services.ErrConfiguration)
}

func ExampleNewSet() {
	set := exectool.NewSet(config.Tools{Simulator: "bem-sim --engine energyplus"}, exectool.Options{})
	fmt.Println(set.Simulator != nil, set.Parser == nil)
	// Output: true true
}
