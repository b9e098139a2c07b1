// Package daemon coordinates the long-running bemflow process.
//
// It wires configuration, the job history store, the collaborator set, the
// workflow orchestrator, and the scheduler into a single lifecycle with
// flock-based locking to prevent multiple instances. A reaper loop drops
// terminal jobs from memory after the retention window, prunes old per-job
// log files, and trims the history database.
//
// Keep orchestration logic here: individual stages live in the workflow
// package while the daemon focuses on startup, shutdown, and high level
// coordination.
package daemon
