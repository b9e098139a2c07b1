package logging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
)

// JobLogDir returns the directory holding per-job JSON log files.
func JobLogDir(logDir string) string {
	return filepath.Join(logDir, "jobs")
}

// JobLogPath returns the JSON log file location for a job.
func JobLogPath(logDir, jobID string) string {
	return filepath.Join(JobLogDir(logDir), jobID+".jsonl")
}

// JobLoggerOptions describes the sinks of one job's logger.
type JobLoggerOptions struct {
	JobID string
	// Level applies to the job's own sinks; the daemon log keeps its level.
	Level slog.Level
	// LogDir holds the job's JSON log file. Empty disables the file.
	LogDir string
	// Sinks receive every record at Level, typically the log channel handler.
	Sinks []slog.Handler
}

// NewJobLogger returns the logger a job's workflow writes to. Records reach
// the daemon log at the daemon's level and the job's sinks and log file at
// the job's level. The closer releases the log file. When the file cannot be
// opened the error is returned alongside a logger that works without it.
func NewJobLogger(daemon *slog.Logger, opts JobLoggerOptions) (*slog.Logger, io.Closer, error) {
	handlers := make([]slog.Handler, 0, len(opts.Sinks)+2)
	if daemon != nil {
		handlers = append(handlers, daemon.Handler())
	}
	handlers = append(handlers, opts.Sinks...)

	var closer io.Closer = nopCloser{}
	var fileErr error
	if strings.TrimSpace(opts.LogDir) != "" && opts.JobID != "" {
		file, err := openAppend(JobLogPath(opts.LogDir, opts.JobID))
		if err != nil {
			fileErr = err
		} else {
			handlers = append(handlers, newJSONHandler(file, opts.Level, false))
			closer = file
		}
	}

	logger := slog.New(&teeHandler{sinks: handlers})
	if opts.JobID != "" {
		logger = logger.With(String(FieldJobID, opts.JobID))
	}
	return logger, closer, fileErr
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// teeHandler delivers each record to every sink that accepts its level. A
// failing sink does not keep the record from the others.
type teeHandler struct {
	sinks []slog.Handler
}

func (t *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, sink := range t.sinks {
		if sink.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t *teeHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, sink := range t.sinks {
		if !sink.Enabled(ctx, record.Level) {
			continue
		}
		if err := sink.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return t.each(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (t *teeHandler) WithGroup(name string) slog.Handler {
	return t.each(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (t *teeHandler) each(fn func(slog.Handler) slog.Handler) slog.Handler {
	next := make([]slog.Handler, len(t.sinks))
	for i, sink := range t.sinks {
		next[i] = fn(sink)
	}
	return &teeHandler{sinks: next}
}
