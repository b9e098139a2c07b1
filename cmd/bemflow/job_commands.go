package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"bemflow/internal/ipc"
	"bemflow/internal/jobconfig"
	"bemflow/internal/jobs"
	"bemflow/internal/logging"
	"bemflow/internal/logs"
)

const followWaitMillis = 1000

func newJobCommand(ctx *commandContext) *cobra.Command {
	jobCmd := &cobra.Command{
		Use:   "job",
		Short: "Submit and inspect simulation jobs",
	}
	jobCmd.AddCommand(newJobSubmitCommand(ctx))
	jobCmd.AddCommand(newJobStartCommand(ctx))
	jobCmd.AddCommand(newJobCancelCommand(ctx))
	jobCmd.AddCommand(newJobStatusCommand(ctx))
	jobCmd.AddCommand(newJobListCommand(ctx))
	jobCmd.AddCommand(newJobLogsCommand(ctx))
	jobCmd.AddCommand(newJobCheckCommand())
	return jobCmd
}

func newJobSubmitCommand(ctx *commandContext) *cobra.Command {
	var start bool
	var follow bool
	cmd := &cobra.Command{
		Use:   "submit <job.toml|job.yaml>",
		Short: "Submit a job configuration to the daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			format, err := jobconfig.FormatFromPath(path)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read job config: %w", err)
			}
			source, err := filepath.Abs(path)
			if err != nil {
				source = path
			}
			if follow {
				start = true
			}

			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Submit(ipc.SubmitRequest{
					Config: string(data),
					Format: string(format),
					Source: source,
					Start:  start,
				})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Submitted job %s (%s)\n", resp.ID, resp.Status)
				if !follow {
					return nil
				}
				if err := followLogs(client, resp.ID, out); err != nil {
					return err
				}
				return reportFinal(client, resp.ID, out)
			})
		},
	}
	cmd.Flags().BoolVar(&start, "start", false, "Start the job immediately")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Start the job and stream its log until it ends")
	return cmd
}

func newJobStartCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "start <job-id>",
		Short: "Start a submitted job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Start(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s is %s\n", resp.ID, resp.Status)
				return nil
			})
		},
	}
}

func newJobCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Request cancellation of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Cancel(args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				switch jobs.Status(resp.Status) {
				case jobs.StatusCanceled:
					fmt.Fprintf(out, "Job %s canceled\n", resp.ID)
				case jobs.StatusRunning, jobs.StatusCreated:
					fmt.Fprintf(out, "Cancellation requested for job %s (%s)\n", resp.ID, resp.Status)
				default:
					fmt.Fprintf(out, "Job %s already %s\n", resp.ID, resp.Status)
				}
				return nil
			})
		},
	}
}

func newJobStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show a job's status and stage reports",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				job, err := client.Job(args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, job)
				}
				out := cmd.OutOrStdout()
				renderJobDetail(out, *job, shouldColorize(out))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newJobListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var history bool
	var name string
	var limit int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List live jobs, or recorded jobs with --history",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.List(ipc.ListRequest{
					Statuses: statuses,
					History:  history,
					Name:     strings.TrimSpace(name),
					Limit:    limit,
				})
				if err != nil {
					return err
				}
				if asJSON {
					if resp.Jobs == nil {
						resp.Jobs = []ipc.JobInfo{}
					}
					return writeJSON(cmd, resp.Jobs)
				}
				out := cmd.OutOrStdout()
				if len(resp.Jobs) == 0 {
					fmt.Fprintln(out, "No jobs")
					return nil
				}
				fmt.Fprintln(out, renderJobTable(resp.Jobs, shouldColorize(out)))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (repeatable)")
	cmd.Flags().BoolVar(&history, "history", false, "List recorded jobs from the history database")
	cmd.Flags().StringVar(&name, "name", "", "Filter by job name")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of jobs to list")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newJobLogsCommand(ctx *commandContext) *cobra.Command {
	var follow bool
	var since uint64
	cmd := &cobra.Command{
		Use:   "logs <job-id>",
		Short: "Print a job's log messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				out := cmd.OutOrStdout()
				var err error
				if follow {
					err = followLogsFrom(client, args[0], since, out)
				} else {
					var resp *ipc.LogsResponse
					if resp, err = client.Logs(ipc.LogsRequest{ID: args[0], Since: since}); err == nil {
						printMessages(out, resp)
					}
				}
				if err != nil && isUnknownJob(err) {
					return printArchivedLog(cmd, ctx, args[0], since)
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Stream until the job's log ends")
	cmd.Flags().Uint64Var(&since, "since", 0, "Only print messages after this sequence number")
	return cmd
}

func newJobCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "check <job.toml|job.yaml>",
		Short:       "Validate a job configuration without submitting it",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := jobconfig.Load(args[0])
			if err != nil {
				var cfgErr *jobconfig.ConfigError
				if errors.As(err, &cfgErr) {
					out := cmd.OutOrStdout()
					fmt.Fprintf(out, "%s is invalid:\n", args[0])
					for _, problem := range cfgErr.Problems {
						fmt.Fprintf(out, "  - %s\n", problem)
					}
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job configuration %q is valid\n", cfg.Name)
			return nil
		},
	}
}

func followLogs(client *ipc.Client, id string, out io.Writer) error {
	return followLogsFrom(client, id, 0, out)
}

func followLogsFrom(client *ipc.Client, id string, since uint64, out io.Writer) error {
	for {
		resp, err := client.Logs(ipc.LogsRequest{ID: id, Since: since, WaitMillis: followWaitMillis})
		if err != nil {
			return err
		}
		printMessages(out, resp)
		since = resp.Next
		if resp.Ended {
			return nil
		}
	}
}

func printMessages(out io.Writer, resp *ipc.LogsResponse) {
	for _, msg := range resp.Messages {
		if msg.IsEnd() {
			continue
		}
		fmt.Fprintln(out, formatLogMessage(msg))
	}
}

// printArchivedLog prints the on-disk log of a job the daemon no longer
// holds in memory.
func printArchivedLog(cmd *cobra.Command, ctx *commandContext, id string, since uint64) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	path := logging.JobLogPath(cfg.Paths.LogDir, id)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("job %s: no live log and no log file at %s", id, path)
	}
	msgs, err := logs.ReadJobLog(cmd.Context(), path)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, msg := range msgs {
		if msg.Seq > since {
			fmt.Fprintln(out, formatLogMessage(msg))
		}
	}
	return nil
}

// isUnknownJob matches the daemon's unknown-job error; RPC errors arrive as
// plain strings.
func isUnknownJob(err error) bool {
	return strings.Contains(err.Error(), jobs.ErrUnknownJob.Error())
}

func reportFinal(client *ipc.Client, id string, out io.Writer) error {
	job, err := client.Job(id)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Job %s %s\n", job.ID, job.Status)
	if job.Status == string(jobs.StatusFinished) {
		return nil
	}
	if job.Error != "" {
		return fmt.Errorf("job %s ended %s: %s", job.ID, job.Status, job.Error)
	}
	return fmt.Errorf("job %s ended %s", job.ID, job.Status)
}
