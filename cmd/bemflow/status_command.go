package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"bemflow/internal/daemonctl"
	"bemflow/internal/jobs"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, job, and environment status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			snap, err := daemonctl.BuildStatusSnapshot(cmd.Context(), ctx.socketPath(), cfg)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, snap.Status)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			status := snap.Status
			for _, line := range renderSectionHeader("Daemon", colorize) {
				fmt.Fprintln(out, line)
			}
			if status.Running {
				fmt.Fprintln(out, renderStatusLine("Daemon", statusOK, "running (pid "+strconv.Itoa(status.PID)+")", colorize))
				fmt.Fprintln(out, renderField("Started", formatTime(status.StartedAt)))
			} else {
				fmt.Fprintln(out, renderStatusLine("Daemon", statusWarn, "not running", colorize))
			}
			fmt.Fprintln(out, renderField("Socket", status.SocketPath))
			fmt.Fprintln(out, renderField("Database", status.DatabasePath))
			fmt.Fprintln(out, renderField("Log", status.LogPath))
			if !snap.Offline {
				fmt.Fprintln(out, renderField("Work dirs", fmt.Sprintf("%d (%s)", status.WorkDirs, formatBytes(status.WorkBytes))))
			}

			if !snap.Offline {
				fmt.Fprintln(out)
				for _, line := range renderSectionHeader("Live jobs", colorize) {
					fmt.Fprintln(out, line)
				}
				for _, st := range jobs.AllStatuses() {
					fmt.Fprintln(out, renderField(string(st), strconv.Itoa(status.Jobs[string(st)])))
				}
			}
			if len(status.History) > 0 {
				fmt.Fprintln(out)
				for _, line := range renderSectionHeader("History", colorize) {
					fmt.Fprintln(out, line)
				}
				for _, st := range jobs.AllStatuses() {
					if n, ok := status.History[string(st)]; ok {
						fmt.Fprintln(out, renderField(string(st), strconv.Itoa(n)))
					}
				}
			}

			fmt.Fprintln(out)
			for _, line := range renderSectionHeader("Checks", colorize) {
				fmt.Fprintln(out, line)
			}
			for _, check := range status.Checks {
				kind := statusOK
				if !check.Passed {
					kind = statusError
					if check.Optional {
						kind = statusWarn
					}
				}
				fmt.Fprintln(out, renderStatusLine(check.Name, kind, check.Detail, colorize))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return strconv.FormatInt(n, 10) + " B"
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
