// Package jobstore keeps the history of terminal jobs in SQLite.
//
// The in-memory registry forgets jobs once they are reaped; the store keeps a
// durable copy of each job's final status, failure detail, stage reports, and
// partial results so `bemflow job list --history` and the cleanup finalizer
// can work across daemon restarts. Retention is enforced by Prune.
package jobstore
