package ipc_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"bemflow/internal/config"
	"bemflow/internal/daemon"
	"bemflow/internal/ipc"
	"bemflow/internal/jobs"
	"bemflow/internal/testsupport"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type harness struct {
	cfg     *config.Config
	daemon  *daemon.Daemon
	client  *ipc.Client
	stopped atomic.Bool
}

func newHarness(t *testing.T, tools *testsupport.FakeTools) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	sched := daemon.NewScheduler(cfg, store, tools.Set(), nil, nil)
	d, err := daemon.New(cfg, store, sched, nil, nil)
	require.NoError(t, err)
	require.NoError(t, d.Start(context.Background()))
	t.Cleanup(func() { _ = d.Stop(context.Background()) })

	h := &harness{cfg: cfg, daemon: d}
	srv, err := ipc.NewServer(context.Background(), cfg.Paths.SocketPath, d, nil,
		ipc.WithStopHandler(func() { h.stopped.Store(true) }))
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC server test: %v", err)
		}
		require.NoError(t, err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)

	client, err := ipc.Dial(cfg.Paths.SocketPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	h.client = client
	return h
}

func (h *harness) drainLogs(t *testing.T, id string) []string {
	t.Helper()
	var texts []string
	var since uint64
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		page, err := h.client.Logs(ipc.LogsRequest{ID: id, Since: since, WaitMillis: 200})
		require.NoError(t, err)
		for _, msg := range page.Messages {
			texts = append(texts, msg.Text)
		}
		since = page.Next
		if page.Ended {
			return texts
		}
	}
	t.Fatalf("log stream for %s never ended", id)
	return nil
}

func TestSubmitRunAndDescribe(t *testing.T) {
	h := newHarness(t, testsupport.NewFakeTools())

	submitted, err := h.client.Submit(ipc.SubmitRequest{
		Config: testsupport.OneShotTOML,
		Format: "toml",
		Source: "smoke.toml",
		Start:  true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, submitted.ID)
	require.Contains(t, []string{string(jobs.StatusRunning), string(jobs.StatusQueued)}, submitted.Status)

	texts := h.drainLogs(t, submitted.ID)
	require.NotEmpty(t, texts)

	_, err = h.daemon.WaitJob(context.Background(), submitted.ID)
	require.NoError(t, err)
	job, err := h.client.Job(submitted.ID)
	require.NoError(t, err)
	require.Equal(t, string(jobs.StatusFinished), job.Status)
	require.Equal(t, "smoke", job.Name)
	require.True(t, job.Live)
	require.NotEmpty(t, job.Stages)

	live, err := h.client.List(ipc.ListRequest{Statuses: []string{"finished"}})
	require.NoError(t, err)
	require.Len(t, live.Jobs, 1)

	history, err := h.client.List(ipc.ListRequest{History: true, Name: "smoke"})
	require.NoError(t, err)
	require.Len(t, history.Jobs, 1)
	require.False(t, history.Jobs[0].Live)
	require.Equal(t, submitted.ID, history.Jobs[0].ID)

	status, err := h.client.Status()
	require.NoError(t, err)
	require.True(t, status.Running)
	require.Equal(t, 1, status.Jobs["finished"])
	require.Equal(t, 1, status.History["finished"])
	require.Equal(t, h.cfg.Paths.SocketPath, status.SocketPath)
}

func TestSubmitWithoutStartThenCancel(t *testing.T) {
	h := newHarness(t, testsupport.NewFakeTools())

	submitted, err := h.client.Submit(ipc.SubmitRequest{Config: testsupport.OneShotTOML, Format: "toml"})
	require.NoError(t, err)
	require.Equal(t, string(jobs.StatusCreated), submitted.Status)

	canceled, err := h.client.Cancel(submitted.ID)
	require.NoError(t, err)
	require.Equal(t, string(jobs.StatusCreated), canceled.Status)

	pending, err := h.client.Job(submitted.ID)
	require.NoError(t, err)
	require.True(t, pending.CancelPending)

	started, err := h.client.Start(submitted.ID)
	require.NoError(t, err)
	require.NotEmpty(t, started.Status)

	rec, err := h.daemon.WaitJob(context.Background(), submitted.ID)
	require.NoError(t, err)
	require.Equal(t, jobs.StatusCanceled, rec.Status)
}

func TestRejectsBadRequests(t *testing.T) {
	h := newHarness(t, testsupport.NewFakeTools())

	_, err := h.client.Submit(ipc.SubmitRequest{Config: "name = [", Format: "toml"})
	require.Error(t, err)

	_, err = h.client.Submit(ipc.SubmitRequest{Config: testsupport.OneShotTOML, Format: "json"})
	require.Error(t, err)

	_, err = h.client.Cancel("missing")
	require.ErrorContains(t, err, "unknown job")

	_, err = h.client.Start("missing")
	require.Error(t, err)

	_, err = h.client.Job("missing")
	require.Error(t, err)

	_, err = h.client.List(ipc.ListRequest{Statuses: []string{"bogus"}})
	require.Error(t, err)
}

func TestStopAndNotification(t *testing.T) {
	h := newHarness(t, testsupport.NewFakeTools())

	resp, err := h.client.Stop()
	require.NoError(t, err)
	require.True(t, resp.Stopping)
	require.True(t, h.stopped.Load())

	note, err := h.client.TestNotification()
	require.NoError(t, err)
	require.False(t, note.Sent)
	require.Contains(t, note.Message, "not configured")
}

func TestDialReportsMissingDaemon(t *testing.T) {
	_, err := ipc.Dial(filepath.Join(t.TempDir(), "absent.sock"))
	require.Error(t, err)
	require.True(t, errors.Is(err, ipc.ErrDaemonNotRunning))
}
