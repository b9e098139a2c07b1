// Package daemonctl launches, stops, and inspects the daemon process on
// behalf of the CLI.
package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bemflow/internal/config"
	"bemflow/internal/ipc"
	"bemflow/internal/jobstore"
	"bemflow/internal/preflight"
)

const pollInterval = 200 * time.Millisecond

// ErrDaemonNotRunning indicates daemon IPC is unavailable.
var ErrDaemonNotRunning = ipc.ErrDaemonNotRunning

// LaunchOptions controls daemon process launch behavior.
type LaunchOptions struct {
	ConfigPath string
	LogLevel   string
}

// StartState describes what EnsureStarted found or did.
type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
)

// StartResult captures daemon start orchestration state.
type StartResult struct {
	State StartState
	PID   int
}

// StopResult captures daemon stop outcome.
type StopResult struct {
	StopAcknowledged bool
	ForcedKill       bool
	PID              int
}

// Launch starts a detached daemon process running "daemon run".
func Launch(executablePath string, opts LaunchOptions) error {
	if strings.TrimSpace(executablePath) == "" {
		return fmt.Errorf("resolve executable: executable path is empty")
	}
	args := []string{"daemon", "run"}
	if cfg := strings.TrimSpace(opts.ConfigPath); cfg != "" {
		args = append(args, "--config", cfg)
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		args = append(args, "--log-level", level)
	}

	proc := exec.Command(executablePath, args...)
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

// WaitForClient waits for the IPC socket and returns a connected client.
func WaitForClient(socketPath string, timeout time.Duration) (*ipc.Client, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		client, err := ipc.Dial(socketPath)
		if err == nil {
			return client, nil
		}
		lastErr = err
		time.Sleep(pollInterval)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("timeout waiting for daemon")
	}
	return nil, fmt.Errorf("daemon failed to start: %w", lastErr)
}

// EnsureStarted launches the daemon unless one already answers on socketPath.
func EnsureStarted(socketPath, executablePath string, opts LaunchOptions, waitTimeout time.Duration) (StartResult, error) {
	state := StartStateAlreadyRunning
	client, err := ipc.Dial(socketPath)
	if err != nil {
		if !errors.Is(err, ErrDaemonNotRunning) {
			return StartResult{}, err
		}
		if err := Launch(executablePath, opts); err != nil {
			return StartResult{}, err
		}
		client, err = WaitForClient(socketPath, waitTimeout)
		if err != nil {
			return StartResult{}, err
		}
		state = StartStateStarted
	}
	defer client.Close()

	result := StartResult{State: state}
	if status, err := client.Status(); err == nil {
		result.PID = status.PID
	}
	return result, nil
}

// WaitForShutdown waits until nothing answers on socketPath.
func WaitForShutdown(socketPath string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		client, err := ipc.Dial(socketPath)
		if err != nil {
			if errors.Is(err, ErrDaemonNotRunning) {
				return nil
			}
			time.Sleep(pollInterval)
			continue
		}
		_ = client.Close()
		time.Sleep(pollInterval)
	}
	return fmt.Errorf("daemon did not stop within %s", timeout)
}

// StopAndTerminate requests a graceful stop and force-kills the process if
// it still answers after gracePeriod.
func StopAndTerminate(socketPath string, cfg *config.Config, gracePeriod time.Duration) (StopResult, error) {
	client, err := ipc.Dial(socketPath)
	if err != nil {
		return StopResult{}, err
	}
	pid := 0
	if status, statusErr := client.Status(); statusErr == nil {
		pid = status.PID
	}
	resp, err := client.Stop()
	_ = client.Close()
	if err != nil {
		return StopResult{}, err
	}
	result := StopResult{StopAcknowledged: resp.Stopping, PID: pid}

	if WaitForShutdown(socketPath, gracePeriod) == nil {
		return result, nil
	}
	killed, err := ForceKillProcess(cfg.PIDPath(), pid)
	if err != nil {
		return result, fmt.Errorf("failed to stop daemon process: %w", err)
	}
	_ = os.Remove(socketPath)
	_ = os.Remove(cfg.LockPath())
	result.ForcedKill = true
	result.PID = killed
	return result, nil
}

// ForceKillProcess sends SIGKILL to the daemon recorded in pidPath, falling
// back to fallbackPID, and removes the pid file.
func ForceKillProcess(pidPath string, fallbackPID int) (int, error) {
	pid := fallbackPID
	data, err := os.ReadFile(pidPath)
	if err == nil {
		if parsed, parseErr := strconv.Atoi(strings.TrimSpace(string(data))); parseErr == nil && parsed > 0 {
			pid = parsed
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("read daemon pid file %q: %w", pidPath, err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("unable to determine daemon pid (pid file: %s)", pidPath)
	}
	if pid == os.Getpid() {
		return 0, fmt.Errorf("refusing to kill current process (pid %d)", pid)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, fmt.Errorf("locate daemon process %d: %w", pid, err)
	}
	if err := proc.Kill(); err != nil {
		return 0, fmt.Errorf("kill daemon process %d: %w", pid, err)
	}
	if err := os.Remove(pidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("remove pid file %q: %w", pidPath, err)
	}
	return pid, nil
}

// Snapshot is daemon status with offline fallbacks.
type Snapshot struct {
	Status *ipc.StatusResponse
	// Offline is set when no daemon answered; History and Checks then come
	// from the local database and a fresh preflight run.
	Offline bool
}

// BuildStatusSnapshot asks the daemon for status, or assembles what it can
// locally when the daemon is down.
func BuildStatusSnapshot(ctx context.Context, socketPath string, cfg *config.Config) (Snapshot, error) {
	if cfg == nil {
		return Snapshot{}, errors.New("configuration not available")
	}
	client, err := ipc.Dial(socketPath)
	if err == nil {
		defer client.Close()
		resp, statusErr := client.Status()
		if statusErr != nil {
			return Snapshot{}, statusErr
		}
		return Snapshot{Status: resp}, nil
	}
	if !errors.Is(err, ErrDaemonNotRunning) {
		return Snapshot{}, err
	}

	status := &ipc.StatusResponse{
		SocketPath:   socketPath,
		LockPath:     cfg.LockPath(),
		LogPath:      cfg.DaemonLogPath(),
		DatabasePath: cfg.DatabasePath(),
	}
	queryCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, statErr := os.Stat(cfg.DatabasePath()); statErr == nil {
		if store, openErr := jobstore.OpenPath(cfg.DatabasePath()); openErr == nil {
			if stats, statsErr := store.Stats(queryCtx); statsErr == nil {
				status.History = make(map[string]int, len(stats))
				for k, v := range stats {
					status.History[string(k)] = v
				}
			}
			_ = store.Close()
		}
	}
	for _, check := range preflight.RunAll(queryCtx, cfg) {
		status.Checks = append(status.Checks, ipc.CheckInfo{
			Name:     check.Name,
			Passed:   check.Passed,
			Optional: check.Optional,
			Detail:   check.Detail,
		})
	}
	return Snapshot{Status: status, Offline: true}, nil
}
