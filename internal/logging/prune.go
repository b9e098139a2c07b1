package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// PruneJobLogs removes per-job log files under logDir that were last written
// before the cutoff. Logs of jobs for which live reports true are kept
// whatever their age. It returns the removed job IDs.
func PruneJobLogs(logger *slog.Logger, logDir string, before time.Time, live func(jobID string) bool) []string {
	if strings.TrimSpace(logDir) == "" || before.IsZero() {
		return nil
	}
	dir := JobLogDir(logDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var removed []string
	for _, entry := range entries {
		jobID, ok := strings.CutSuffix(entry.Name(), ".jsonl")
		if !ok || entry.IsDir() || jobID == "" {
			continue
		}
		if live != nil && live(jobID) {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(before) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil {
			WarnWithContext(logger, "job log prune failed", "job_log_prune_failed",
				String(FieldJobID, jobID),
				String("path", path),
				Error(err),
				String(FieldImpact, "the job log stays on disk until the next pass"),
			)
			continue
		}
		removed = append(removed, jobID)
	}
	if len(removed) > 0 && logger != nil {
		logger.Debug("job logs pruned",
			Int("count", len(removed)),
			String(FieldEventType, "job_logs_pruned"),
		)
	}
	return removed
}
