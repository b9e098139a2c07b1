package daemon

import (
	"context"
	"time"

	"bemflow/internal/logging"
	"bemflow/internal/workdirs"
)

// ReapReport summarizes one reaper pass.
type ReapReport struct {
	Jobs     []string
	Logs     int
	History  int64
	WorkDirs int
}

func (d *Daemon) reapLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	interval := time.Duration(d.cfg.Retention.ReapIntervalSeconds) * time.Second
	if interval <= 0 || d.cfg.JobRetention() <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Reap(ctx)
		}
	}
}

// Reap runs one retention pass: terminal jobs older than the job retention
// leave memory, per-job log files past the log retention are deleted unless their job is still live, and history rows past
// the history retention are pruned. Work directories left by jobs that are
// no longer live go once they are older than the job retention.
func (d *Daemon) Reap(ctx context.Context) ReapReport {
	now := d.now()
	var report ReapReport
	if retention := d.cfg.JobRetention(); retention > 0 {
		report.Jobs = d.scheduler.Reap(now.Add(-retention))
	}
	live := func(id string) bool {
		_, ok := d.scheduler.Snapshot(id)
		return ok
	}
	if retention := d.cfg.LogRetention(); retention > 0 {
		report.Logs = len(logging.PruneJobLogs(d.logger, d.cfg.Paths.LogDir, now.Add(-retention), live))
	}
	if retention := d.cfg.JobRetention(); retention > 0 {
		report.WorkDirs = len(workdirs.Clean(ctx, d.cfg.Paths.WorkDir, retention, live, d.logger).Removed)
	}
	if d.store != nil {
		if retention := d.cfg.HistoryRetention(); retention > 0 {
			pruned, err := d.store.Prune(ctx, now.Add(-retention))
			if err != nil {
				logging.WarnWithContext(d.logger, "history prune failed", "history_prune_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "old job history is retained until the next pass"),
				)
			}
			report.History = pruned
		}
	}
	if len(report.Jobs) > 0 || report.Logs > 0 || report.History > 0 || report.WorkDirs > 0 {
		d.logger.Info("retention pass completed",
			logging.Int("jobs_reaped", len(report.Jobs)),
			logging.Int("logs_removed", report.Logs),
			logging.Int64("history_pruned", report.History),
			logging.Int("workdirs_removed", report.WorkDirs),
			logging.String(logging.FieldEventType, "retention_pass"),
		)
	}
	return report
}
