// Package joblog implements the per-job log channel: a bounded, ordered
// message buffer with a single producer, any number of readers, and a typed
// end-of-stream sentinel emitted exactly once when the job finishes.
//
// Readers poll with Fetch (long-polling friendly, used by IPC) or range over
// Subscribe. A slog.Handler adapter lets job loggers publish into the channel.
package joblog
