package exectool

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"bemflow/internal/collab"
	"bemflow/internal/fileutil"
	"bemflow/internal/logging"
	"bemflow/internal/services"
)

// ManifestName is the file LocalPackager writes next to the copied outputs.
const ManifestName = "manifest.json"

// Manifest describes a locally packaged job.
type Manifest struct {
	JobID     string                `json:"job_id"`
	Name      string                `json:"name"`
	Status    string                `json:"status"`
	CreatedAt time.Time             `json:"created_at"`
	Files     []fileutil.CopiedFile `json:"files"`
	Outputs   map[string]any        `json:"outputs,omitempty"`
}

// LocalPackager copies the job work directory to Destination/<job id> and
// writes a manifest with per-file digests.
type LocalPackager struct {
	Logger *slog.Logger
	Now    func() time.Time
}

// Package implements collab.Packager.
func (p LocalPackager) Package(ctx context.Context, req collab.PackageRequest) (collab.Artifact, error) {
	stage, _ := services.StageFromContext(ctx)
	if req.Destination == "" {
		return collab.Artifact{}, services.Wrap(services.ErrConfiguration, stage, "package", "package destination is empty", nil)
	}
	if err := ctx.Err(); err != nil {
		return collab.Artifact{}, services.Wrap(services.ErrCanceled, stage, "package", "packaging interrupted", err)
	}
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}

	target := filepath.Join(req.Destination, req.JobID)
	files, err := fileutil.CopyTree(req.WorkDir, target)
	if err != nil {
		return collab.Artifact{}, services.Wrap(services.ErrStageFailure, stage, "package", "copy work directory", err)
	}

	manifest := Manifest{
		JobID:     req.JobID,
		Name:      req.Name,
		Status:    req.Status,
		CreatedAt: now().UTC(),
		Files:     files,
		Outputs:   req.Outputs,
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return collab.Artifact{}, services.Wrap(services.ErrStageFailure, stage, "package", "encode manifest", err)
	}
	if err := os.WriteFile(filepath.Join(target, ManifestName), data, 0o644); err != nil {
		return collab.Artifact{}, services.Wrap(services.ErrStageFailure, stage, "package", "write manifest", err)
	}

	artifact := collab.Artifact{Location: target}
	for _, f := range files {
		artifact.Files = append(artifact.Files, f.Path)
	}
	artifact.Files = append(artifact.Files, ManifestName)

	logger := p.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	logging.WithContext(ctx, logger).Debug("work directory packaged",
		logging.String("location", target),
		logging.Int("files", len(files)),
	)
	return artifact, nil
}
