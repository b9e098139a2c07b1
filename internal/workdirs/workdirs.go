// Package workdirs maintains the per-job working directories under the
// configured work root.
package workdirs

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"bemflow/internal/logging"
)

// CleanResult contains the outcome of a cleanup pass.
type CleanResult struct {
	Removed []string
	Errors  []CleanupError
}

// CleanupError pairs a directory path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// Clean removes job directories under root whose modification time is older
// than maxAge, skipping any name keep reports as still in use.
func Clean(ctx context.Context, root string, maxAge time.Duration, keep func(name string) bool, logger *slog.Logger) CleanResult {
	var result CleanResult
	if logger == nil {
		logger = logging.NewNop()
	}
	root = strings.TrimSpace(root)
	if root == "" || maxAge <= 0 {
		return result
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, CleanupError{Path: root, Error: err})
		}
		return result
	}

	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if ctx.Err() != nil {
			return result
		}
		if !entry.IsDir() || (keep != nil && keep(entry.Name())) {
			continue
		}
		dirPath := filepath.Join(root, entry.Name())
		info, err := entry.Info()
		if err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dirPath, Error: err})
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(dirPath); err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dirPath, Error: err})
			logging.WarnWithContext(logger, "failed to remove job work directory", "workdir_cleanup_failed",
				logging.String("path", dirPath),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check work_dir permissions"),
				logging.String(logging.FieldImpact, "disk space not reclaimed"),
			)
			continue
		}
		result.Removed = append(result.Removed, dirPath)
		logger.Info("removed job work directory",
			logging.String("path", dirPath),
			logging.Duration("age", time.Since(info.ModTime())),
			logging.String(logging.FieldEventType, "workdir_cleanup"),
		)
	}
	return result
}

// Usage reports how many job directories exist under root and their total
// size in bytes. Unreadable entries are skipped.
func Usage(root string) (dirs int, bytes int64, err error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, nil
		}
		return 0, 0, err
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dirs++
		_ = filepath.WalkDir(filepath.Join(root, entry.Name()), func(_ string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil || d.IsDir() {
				return nil
			}
			if info, infoErr := d.Info(); infoErr == nil {
				bytes += info.Size()
			}
			return nil
		})
	}
	return dirs, bytes, nil
}
