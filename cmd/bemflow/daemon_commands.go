package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"bemflow/internal/daemonctl"
	"bemflow/internal/daemonrun"
	"bemflow/internal/ipc"
	"bemflow/internal/logs"
)

const (
	startWaitTimeout = 10 * time.Second
	stopGraceSlack   = 5 * time.Second
	followWait       = 2 * time.Second
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run or control the bemflow daemon",
	}
	daemonCmd.AddCommand(newDaemonRunCommand(ctx))
	daemonCmd.AddCommand(newDaemonStartCommand(ctx))
	daemonCmd.AddCommand(newDaemonStopCommand(ctx))
	daemonCmd.AddCommand(newDaemonLogsCommand(ctx))
	return daemonCmd
}

func newDaemonRunCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the daemon in the foreground",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if ctx.socketFlag != nil && *ctx.socketFlag != "" {
				cfg.Paths.SocketPath = *ctx.socketFlag
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{LogLevel: logLevel})
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
	return cmd
}

func newDaemonStartCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the daemon in the background",
		RunE: func(cmd *cobra.Command, _ []string) error {
			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("resolve executable: %w", err)
			}
			result, err := daemonctl.EnsureStarted(ctx.socketPath(), exe, daemonctl.LaunchOptions{
				ConfigPath: ctx.configPath(),
				LogLevel:   logLevel,
			}, startWaitTimeout)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch result.State {
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintf(out, "Daemon already running (pid %d)\n", result.PID)
			default:
				fmt.Fprintf(out, "Daemon started (pid %d)\n", result.PID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
	return cmd
}

func newDaemonStopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon, canceling running jobs after the shutdown timeout",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			grace := cfg.ShutdownTimeout() + stopGraceSlack
			result, err := daemonctl.StopAndTerminate(ctx.socketPath(), cfg, grace)
			out := cmd.OutOrStdout()
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(out, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.ForcedKill {
				fmt.Fprintf(out, "Daemon did not stop in %s; killed pid %d\n", grace, result.PID)
				return nil
			}
			fmt.Fprintln(out, "Daemon stopped")
			return nil
		},
	}
}

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification through the daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.TestNotification()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if resp.Sent {
					fmt.Fprintln(out, "Test notification sent")
					return nil
				}
				fmt.Fprintf(out, "Notification not sent: %s\n", resp.Message)
				return nil
			})
		},
	}
}

func newDaemonLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the daemon log",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path := cfg.DaemonLogPath()
			out := cmd.OutOrStdout()
			opts := logs.TailOptions{Offset: -1, Limit: lines}
			for {
				result, err := logs.Tail(cmd.Context(), path, opts)
				if err != nil {
					if errors.Is(err, context.Canceled) {
						return nil
					}
					return err
				}
				for _, line := range result.Lines {
					fmt.Fprintln(out, line)
				}
				if !follow {
					return nil
				}
				opts = logs.TailOptions{Offset: result.Offset, Follow: true, Wait: followWait}
			}
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to print (0 for all)")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines")
	return cmd
}
