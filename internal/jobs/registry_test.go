package jobs

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"bemflow/internal/joblog"
)

func newTestRegistry(t *testing.T, maxRunning int, ids ...string) *Registry {
	t.Helper()
	reg := NewRegistry(maxRunning)
	for _, id := range ids {
		require.NoError(t, reg.Add(NewRecord(id, nil, joblog.Options{Capacity: 8}, time.Now())))
	}
	return reg
}

func status(t *testing.T, reg *Registry, id string) Status {
	t.Helper()
	rec, ok := reg.Get(id)
	require.True(t, ok, "record %s missing", id)
	return rec.Status
}

func TestCanTransition(t *testing.T) {
	allowed := map[[2]Status]bool{
		{StatusCreated, StatusRunning}:  true,
		{StatusCreated, StatusQueued}:   true,
		{StatusQueued, StatusRunning}:   true,
		{StatusQueued, StatusCanceled}:  true,
		{StatusRunning, StatusFinished}: true,
		{StatusRunning, StatusError}:    true,
		{StatusRunning, StatusCanceled}: true,
	}
	for _, from := range AllStatuses() {
		for _, to := range AllStatuses() {
			require.Equal(t, allowed[[2]Status{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestAdmitQueuesBeyondBoundAndPromotesFIFO(t *testing.T) {
	reg := newTestRegistry(t, 2, "a", "b", "c", "d")

	for _, id := range []string{"a", "b", "c", "d"} {
		_, err := reg.Admit(id)
		require.NoError(t, err)
	}
	require.Equal(t, StatusRunning, status(t, reg, "a"))
	require.Equal(t, StatusRunning, status(t, reg, "b"))
	require.Equal(t, StatusQueued, status(t, reg, "c"))
	require.Equal(t, []string{"c", "d"}, reg.QueueSnapshot())

	promoted, ok, err := reg.Complete("a", StatusFinished, Outcome{})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "c", promoted.ID)
	require.Equal(t, StatusRunning, promoted.Status)
	require.Equal(t, []string{"d"}, reg.QueueSnapshot())
	require.Equal(t, 2, reg.RunningCount())
}

func TestAdmitRejectsNonCreated(t *testing.T) {
	reg := newTestRegistry(t, 1, "a")
	_, err := reg.Admit("a")
	require.NoError(t, err)

	st, err := reg.Admit("a")
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Equal(t, StatusRunning, st)

	_, err = reg.Admit("missing")
	require.ErrorIs(t, err, ErrUnknownJob)
}

func TestCancelQueuedRemovesFromQueue(t *testing.T) {
	reg := newTestRegistry(t, 1, "a", "b", "c")
	for _, id := range []string{"a", "b", "c"} {
		_, err := reg.Admit(id)
		require.NoError(t, err)
	}

	ok, err := reg.CancelQueued("b")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, StatusCanceled, status(t, reg, "b"))
	require.Equal(t, []string{"c"}, reg.QueueSnapshot())

	ok, err = reg.CancelQueued("a")
	require.NoError(t, err)
	require.False(t, ok, "running jobs are not cancelled by the registry")

	promoted, promotedOK, err := reg.Complete("a", StatusCanceled, Outcome{})
	require.NoError(t, err)
	require.True(t, promotedOK)
	require.Equal(t, "c", promoted.ID)

	rec, _ := reg.Get("b")
	require.True(t, rec.StartedAt.IsZero(), "canceled queued job never started")
}

func TestCompleteStoresOutcome(t *testing.T) {
	reg := newTestRegistry(t, 1, "a")
	_, err := reg.Admit("a")
	require.NoError(t, err)
	reg.SetStage("a", "simulate")
	rec, _ := reg.Get("a")
	require.Equal(t, "simulate", rec.CurrentStage)

	_, _, err = reg.Complete("a", StatusError, Outcome{
		FailedStage: "simulate",
		ErrorDetail: "engine crashed",
		Result:      Result{Outputs: []string{"setup"}},
	})
	require.NoError(t, err)

	rec, _ = reg.Get("a")
	require.Equal(t, StatusError, rec.Status)
	require.Equal(t, "simulate", rec.FailedStage)
	require.Equal(t, "engine crashed", rec.ErrorDetail)
	require.Equal(t, []string{"setup"}, rec.Result.Outputs)
	require.Empty(t, rec.CurrentStage)
	require.False(t, rec.EndedAt.IsZero())

	_, _, err = reg.Complete("a", StatusFinished, Outcome{})
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCompleteRejectsNonTerminalTarget(t *testing.T) {
	reg := newTestRegistry(t, 1, "a")
	_, err := reg.Admit("a")
	require.NoError(t, err)
	_, _, err = reg.Complete("a", StatusQueued, Outcome{})
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestAddRejectsDuplicates(t *testing.T) {
	reg := newTestRegistry(t, 1, "a")
	err := reg.Add(NewRecord("a", nil, joblog.Options{}, time.Now()))
	require.ErrorIs(t, err, ErrDuplicateJob)
}

func TestReapDropsOldTerminalRecords(t *testing.T) {
	reg := newTestRegistry(t, 2, "old", "live")
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return base }
	for _, id := range []string{"old", "live"} {
		_, err := reg.Admit(id)
		require.NoError(t, err)
	}
	_, _, err := reg.Complete("old", StatusFinished, Outcome{})
	require.NoError(t, err)

	removed := reg.Reap(base.Add(time.Hour))
	require.Equal(t, []string{"old"}, removed)
	_, ok := reg.Get("old")
	require.False(t, ok)
	require.Len(t, reg.List(), 1)
}

func TestConcurrentAdmitNeverExceedsBound(t *testing.T) {
	const jobs = 50
	reg := NewRegistry(3)
	ids := make([]string, jobs)
	for i := range ids {
		ids[i] = fmt.Sprintf("job-%02d", i)
		require.NoError(t, reg.Add(NewRecord(ids[i], nil, joblog.Options{Capacity: 4}, time.Now())))
	}

	var wg sync.WaitGroup
	errs := make(chan error, jobs)
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := reg.Admit(id); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, 3, reg.RunningCount())
	require.Len(t, reg.QueueSnapshot(), jobs-3)

	// Drain: every completion promotes at most one queued job.
	for reg.RunningCount() > 0 {
		var running string
		for _, rec := range reg.List() {
			if rec.Status == StatusRunning {
				running = rec.ID
				break
			}
		}
		_, _, err := reg.Complete(running, StatusFinished, Outcome{})
		require.NoError(t, err)
		require.LessOrEqual(t, reg.RunningCount(), 3)
	}
	require.Empty(t, reg.QueueSnapshot())
}

func TestCancelToken(t *testing.T) {
	token := NewCancelToken()
	require.False(t, token.Requested())
	require.True(t, token.Cancel())
	require.False(t, token.Cancel())
	require.True(t, token.Requested())
	select {
	case <-token.Done():
	default:
		t.Fatal("done channel should be closed")
	}
}

func TestParseStatus(t *testing.T) {
	st, ok := ParseStatus(" Queued ")
	require.True(t, ok)
	require.Equal(t, StatusQueued, st)
	_, ok = ParseStatus("paused")
	require.False(t, ok)
	require.True(t, StatusCanceled.IsTerminal())
	require.False(t, StatusQueued.IsTerminal())
}
