// Package daemonrun assembles and runs the bemflow daemon process: logger,
// history store, external tool set, scheduler, and IPC server.
package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/google/uuid"

	"bemflow/internal/collab/exectool"
	"bemflow/internal/config"
	"bemflow/internal/daemon"
	"bemflow/internal/ipc"
	"bemflow/internal/jobstore"
	"bemflow/internal/logging"
	"bemflow/internal/notifications"
	"bemflow/internal/preflight"
)

// Options configures daemon process runtime behavior.
type Options struct {
	// LogLevel overrides [logging] level when set.
	LogLevel string
}

// Run starts the daemon and blocks until a signal, a Stop RPC, or cmdCtx
// ends it.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger = logger.With(logging.String("run_id", uuid.NewString()))
	logDependencySnapshot(logger, cfg)

	store, err := jobstore.Open(cfg)
	if err != nil {
		logger.Error("open job history", logging.Error(err))
		return err
	}

	notifier := notifications.NewService(cfg)
	tools := exectool.NewSet(cfg.Tools, exectool.Options{Logger: logger})
	sched := daemon.NewScheduler(cfg, store, tools, notifier, logger)
	d, err := daemon.New(cfg, store, sched, notifier, logger)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("create daemon: %w", err)
	}

	// The lock must be held before the socket is replaced.
	if err := d.Start(signalCtx); err != nil {
		_ = d.Close()
		return err
	}
	if err := writePIDFile(cfg.PIDPath()); err != nil {
		logging.WarnWithContext(logger, "unable to write pid file", "daemon_pid_write_failed",
			logging.String("path", cfg.PIDPath()),
			logging.Error(err),
			logging.String(logging.FieldImpact, "daemon stop cannot force-kill a hung process"),
		)
	}
	defer os.Remove(cfg.PIDPath())

	ipcServer, err := ipc.NewServer(signalCtx, cfg.Paths.SocketPath, d, logger, ipc.WithStopHandler(cancel))
	if err != nil {
		_ = d.Close()
		return fmt.Errorf("start IPC server: %w", err)
	}
	ipcServer.Serve()
	logger.Info("bemflow daemon ready",
		logging.String("socket", cfg.Paths.SocketPath),
		logging.String(logging.FieldEventType, "daemon_ready"),
	)

	<-signalCtx.Done()
	logger.Info("bemflow daemon shutting down")
	ipcServer.Close()
	if err := d.Close(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

func writePIDFile(path string) error {
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	attrs := []logging.Attr{logging.String(logging.FieldEventType, "dependency_snapshot")}
	for _, status := range preflight.CheckTools(cfg) {
		attrs = append(attrs, logging.Group(status.Name,
			logging.Bool("available", status.Available),
			logging.String("command", status.Command),
		))
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
}
