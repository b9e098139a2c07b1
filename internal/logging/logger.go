package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"bemflow/internal/config"
)

// Options describes a logger.
type Options struct {
	// Level is one of LevelNames; empty means info.
	Level string
	// Format is "console" (default) or "json".
	Format string
	// Sinks are "stdout", "stderr" or file paths. Empty means stdout.
	Sinks []string
}

// New builds a logger. Debug loggers also record the source location.
func New(opts Options) (*slog.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	w, err := openSinks(opts.Sinks)
	if err != nil {
		return nil, err
	}
	addSource := level <= slog.LevelDebug
	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "", "console":
		return slog.New(newConsoleHandler(w, level, addSource)), nil
	case "json":
		return slog.New(newJSONHandler(w, level, addSource)), nil
	default:
		return nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}
}

// NewFromConfig builds the daemon logger: stdout plus the daemon log file
// under paths.log_dir.
func NewFromConfig(cfg *config.Config) (*slog.Logger, error) {
	if cfg == nil {
		return New(Options{})
	}
	sinks := []string{"stdout"}
	if cfg.Paths.LogDir != "" {
		sinks = append(sinks, cfg.DaemonLogPath())
	}
	return New(Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Sinks: sinks})
}

// openSinks opens every sink once. Files stay open for the process lifetime.
func openSinks(sinks []string) (io.Writer, error) {
	if len(sinks) == 0 {
		return os.Stdout, nil
	}
	seen := make(map[string]bool, len(sinks))
	writers := make([]io.Writer, 0, len(sinks))
	for _, sink := range sinks {
		sink = strings.TrimSpace(sink)
		if sink == "" || seen[sink] {
			continue
		}
		seen[sink] = true
		switch sink {
		case "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			file, err := openAppend(sink)
			if err != nil {
				return nil, err
			}
			writers = append(writers, file)
		}
	}
	switch len(writers) {
	case 0:
		return os.Stdout, nil
	case 1:
		return writers[0], nil
	default:
		return io.MultiWriter(writers...), nil
	}
}

func openAppend(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return file, nil
}
