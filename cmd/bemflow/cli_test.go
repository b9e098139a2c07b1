package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"bemflow/internal/config"
	"bemflow/internal/daemon"
	"bemflow/internal/ipc"
	"bemflow/internal/logging"
	"bemflow/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	daemon     *daemon.Daemon
	tools      *testsupport.FakeTools
	socketPath string
	configPath string
	baseDir    string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	base := filepath.Dir(cfg.Paths.DataDir)
	configPath := filepath.Join(base, "config.toml")
	writeTestConfig(t, configPath, cfg)

	tools := testsupport.NewFakeTools()
	store := testsupport.MustOpenStore(t, cfg)
	sched := daemon.NewScheduler(cfg, store, tools.Set(), nil, nil)
	d, err := daemon.New(cfg, store, sched, nil, nil)
	require.NoError(t, err)
	require.NoError(t, d.Start(context.Background()))

	srv, err := ipc.NewServer(context.Background(), cfg.Paths.SocketPath, d, nil)
	require.NoError(t, err)
	srv.Serve()

	t.Cleanup(func() {
		srv.Close()
		_ = d.Stop(context.Background())
	})

	return &cliTestEnv{
		cfg:        cfg,
		daemon:     d,
		tools:      tools,
		socketPath: cfg.Paths.SocketPath,
		configPath: configPath,
		baseDir:    base,
	}
}

func runCLI(t *testing.T, args []string, socket, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--socket", socket}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content := fmt.Sprintf("[paths]\ndata_dir = %q\nlog_dir = %q\nwork_dir = %q\nsocket = %q\n",
		cfg.Paths.DataDir,
		cfg.Paths.LogDir,
		cfg.Paths.WorkDir,
		cfg.Paths.SocketPath,
	)
	testsupport.WriteFile(t, path, content)
}

func (e *cliTestEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out, _, err := runCLI(t, args, e.socketPath, e.configPath)
	return out, err
}

func (e *cliTestEnv) listJobs(t *testing.T, args ...string) []ipc.JobInfo {
	t.Helper()
	out, err := e.run(t, append([]string{"job", "list", "--json"}, args...)...)
	require.NoError(t, err)
	var list []ipc.JobInfo
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	return list
}

func TestJobSubmitFollowReportsFinished(t *testing.T) {
	env := setupCLITestEnv(t)
	jobPath := testsupport.WriteFile(t, filepath.Join(env.baseDir, "smoke.toml"), testsupport.OneShotTOML)

	out, err := env.run(t, "job", "submit", jobPath, "--follow")
	require.NoError(t, err)
	require.Contains(t, out, "Submitted job ")
	require.Contains(t, out, "job started")
	require.Contains(t, out, " finished\n")

	list := env.listJobs(t)
	require.Len(t, list, 1)
	require.Equal(t, "smoke", list[0].Name)
	require.Equal(t, "finished", list[0].Status)

	out, err = env.run(t, "job", "status", list[0].ID)
	require.NoError(t, err)
	require.Contains(t, out, "Job "+list[0].ID)
	require.Contains(t, out, "Simulate")
	require.Contains(t, out, "completed")

	out, err = env.run(t, "job", "list")
	require.NoError(t, err)
	require.Contains(t, out, list[0].ID)

	out, err = env.run(t, "job", "logs", list[0].ID)
	require.NoError(t, err)
	require.Contains(t, out, "job started")
}

func TestJobLogsFallsBackToLogFile(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.WriteFile(t, logging.JobLogPath(env.cfg.Paths.LogDir, "gone"),
		`{"ts":"2026-01-02T03:04:05Z","level":"info","msg":"stage completed","job_id":"gone","stage":"parse"}`+"\n")

	out, err := env.run(t, "job", "logs", "gone")
	require.NoError(t, err)
	require.Contains(t, out, "[Parse] stage completed")

	_, err = env.run(t, "job", "logs", "never-existed")
	require.ErrorContains(t, err, "no live log")
}

func TestJobSubmitWithoutStartThenCancel(t *testing.T) {
	env := setupCLITestEnv(t)
	jobPath := testsupport.WriteFile(t, filepath.Join(env.baseDir, "smoke.toml"), testsupport.OneShotTOML)

	out, err := env.run(t, "job", "submit", jobPath)
	require.NoError(t, err)
	require.Contains(t, out, "(created)")

	list := env.listJobs(t, "--status", "created")
	require.Len(t, list, 1)
	id := list[0].ID

	out, err = env.run(t, "job", "cancel", id)
	require.NoError(t, err)
	require.Contains(t, out, "Cancellation requested")

	out, err = env.run(t, "job", "status", id)
	require.NoError(t, err)
	require.Contains(t, out, "pending start")
	require.True(t, env.listJobs(t, "--status", "created")[0].CancelPending)

	_, err = env.run(t, "job", "start", id)
	require.NoError(t, err)
	rec, err := env.daemon.WaitJob(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, "canceled", string(rec.Status))
	require.Zero(t, env.tools.Count("simulate"))

	_, err = env.run(t, "job", "cancel", "no-such-job")
	require.Error(t, err)
}

func TestJobCheck(t *testing.T) {
	dir := t.TempDir()
	valid := testsupport.WriteFile(t, filepath.Join(dir, "ok.toml"), testsupport.OneShotTOML)
	out, _, err := runCLI(t, []string{"job", "check", valid}, "", "")
	require.NoError(t, err)
	require.Contains(t, out, `"smoke" is valid`)

	invalid := testsupport.WriteFile(t, filepath.Join(dir, "bad.toml"), "name = \"x\"\nmystery = 1\n")
	out, _, err = runCLI(t, []string{"job", "check", invalid}, "", "")
	require.Error(t, err)
	require.Contains(t, out, "is invalid")
}

func TestConfigInitAndCheck(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	target := filepath.Join(dir, "bemflow.toml")

	out, _, err := runCLI(t, []string{"config", "init", "--path", target}, "", "")
	require.NoError(t, err)
	require.Contains(t, out, "Wrote sample configuration")
	_, err = os.Stat(target)
	require.NoError(t, err)

	_, _, err = runCLI(t, []string{"config", "init", "--path", target}, "", "")
	require.ErrorContains(t, err, "already exists")

	out, _, err = runCLI(t, []string{"config", "check", "--skip-tools"}, "", target)
	require.NoError(t, err)
	require.Contains(t, out, "Configuration valid")

	// The sample leaves every tool command empty, so required checks fail.
	_, _, err = runCLI(t, []string{"config", "check"}, "", target)
	require.ErrorContains(t, err, "environment check(s) failed")
}

func TestCommandsWithoutDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	configPath := filepath.Join(filepath.Dir(cfg.Paths.DataDir), "config.toml")
	writeTestConfig(t, configPath, cfg)

	_, _, err := runCLI(t, []string{"job", "list"}, cfg.Paths.SocketPath, configPath)
	require.ErrorIs(t, err, ipc.ErrDaemonNotRunning)

	out, _, err := runCLI(t, []string{"status"}, cfg.Paths.SocketPath, configPath)
	require.NoError(t, err)
	require.Contains(t, out, "not running")

	out, _, err = runCLI(t, []string{"daemon", "stop"}, cfg.Paths.SocketPath, configPath)
	require.NoError(t, err)
	require.Contains(t, out, "not running")
}

func TestStatusWithDaemon(t *testing.T) {
	env := setupCLITestEnv(t)
	out, err := env.run(t, "status")
	require.NoError(t, err)
	require.Contains(t, out, "running (pid ")
	require.Contains(t, out, "Live jobs")
}

func TestFormatBytes(t *testing.T) {
	require.Equal(t, "512 B", formatBytes(512))
	require.Equal(t, "1.5 KiB", formatBytes(1536))
	require.Equal(t, "2.0 MiB", formatBytes(2<<20))
}
