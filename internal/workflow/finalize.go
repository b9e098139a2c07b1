package workflow

import (
	"context"
	"time"

	"bemflow/internal/collab"
	"bemflow/internal/logging"
	"bemflow/internal/notifications"
	"bemflow/internal/services"
)

// runPackage bundles whatever outputs exist, whatever the job outcome.
func runPackage(ctx context.Context, env *Env) (any, error) {
	if env.Tools.Packager == nil {
		return nil, missingTool(StagePackage, "packager")
	}
	artifact, err := env.Tools.Packager.Package(ctx, collab.PackageRequest{
		JobID:       env.JobID,
		Name:        env.Config.Name,
		Status:      string(env.Status),
		Destination: env.Config.Package.Destination,
		WorkDir:     env.WorkDir,
		Outputs:     env.Outputs.Map(),
	})
	if err != nil {
		return nil, stageFailure(StagePackage, "package outputs", err)
	}
	env.Result.Artifacts = append(env.Result.Artifacts, artifact)
	env.Logger.Info("outputs packaged",
		logging.String("location", artifact.Location),
		logging.Int("file_count", len(artifact.Files)),
		logging.String("job_status", string(env.Status)),
	)

	if env.Config.Package.Notify && env.Notifier != nil {
		if err := env.Notifier.Publish(ctx, notifications.EventPackageReady, notifications.Payload{
			"job_id":   env.JobID,
			"name":     env.Config.Name,
			"location": artifact.Location,
		}); err != nil {
			logging.WarnWithContext(env.Logger, "package notification failed", "notification_failed",
				logging.String(logging.FieldImpact, "package is ready but nobody was told"),
				logging.Error(err),
			)
		}
	}
	return artifact, nil
}

// CleanupReport summarizes the cleanup finalizer.
type CleanupReport struct {
	RemovedWorkDir bool  `json:"removed_work_dir"`
	PrunedJobs     int64 `json:"pruned_jobs"`
}

func runCleanup(ctx context.Context, env *Env) (any, error) {
	var report CleanupReport
	cfg := env.Config.Cleanup
	if cfg.RemoveWorkDir {
		if err := removeWorkDir(env.WorkDir); err != nil {
			return nil, stageFailure(StageCleanup, "remove work dir", err)
		}
		report.RemovedWorkDir = true
		env.Logger.Info("work dir removed", logging.String("work_dir", env.WorkDir))
	}
	if cfg.HistoryMaxAgeDays > 0 {
		if env.Pruner == nil {
			return nil, services.Wrap(services.ErrConfiguration, string(StageCleanup), "prune history", "no job history store configured", nil)
		}
		cutoff := env.Now().Add(-time.Duration(cfg.HistoryMaxAgeDays) * 24 * time.Hour)
		pruned, err := env.Pruner.Prune(ctx, cutoff)
		if err != nil {
			return nil, stageFailure(StageCleanup, "prune history", err)
		}
		report.PrunedJobs = pruned
		env.Logger.Info("job history pruned",
			logging.Int64("pruned_jobs", pruned),
			logging.Int("max_age_days", cfg.HistoryMaxAgeDays),
		)
	}
	return report, nil
}
