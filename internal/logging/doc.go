// Package logging builds bemflow's slog loggers.
//
// The daemon logger renders either console text or JSON lines. Console
// output leads each line with the job, stage and round it concerns; JSON
// output uses the Line schema, which is also the format of the per-job log
// files written under <log_dir>/jobs. NewJobLogger joins the daemon logger
// with a job's own sinks, and the job's log_level applies only to those
// sinks.
package logging
