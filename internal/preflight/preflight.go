package preflight

import (
	"context"

	"bemflow/internal/config"
	"bemflow/internal/deps"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string
	Passed   bool
	Optional bool
	Detail   string
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckDirectoryAccess("Work directory", cfg.Paths.WorkDir),
	}
	for _, status := range CheckTools(cfg) {
		results = append(results, fromStatus(status))
	}
	if cfg.Notifications.NtfyTopic != "" {
		results = append(results, CheckNtfy(ctx, cfg.Notifications.NtfyTopic))
	}
	return results
}

// Failed returns the non-optional checks that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed && !r.Optional {
			out = append(out, r)
		}
	}
	return out
}

func fromStatus(s deps.Status) Result {
	r := Result{Name: s.Name, Passed: s.Available, Optional: s.Optional}
	switch {
	case s.Available:
		r.Detail = s.Path
	case s.Optional && s.Command == "":
		r.Passed = true
		r.Detail = "not configured (" + s.Description + ")"
	default:
		r.Detail = s.Detail
	}
	return r
}
