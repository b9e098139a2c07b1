package preflight

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"bemflow/internal/config"
	"bemflow/internal/deps"
)

// CheckNtfy verifies that the ntfy server behind a topic URL answers its
// health endpoint.
func CheckNtfy(ctx context.Context, topicURL string) Result {
	const name = "ntfy"

	parsed, err := url.Parse(strings.TrimSpace(topicURL))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return Result{Name: name, Detail: fmt.Sprintf("invalid topic url %q", topicURL)}
	}
	health := url.URL{Scheme: parsed.Scheme, Host: parsed.Host, Path: "/v1/health"}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, health.String(), nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("health check failed (%v)", err)}
	}
	resp, err := client.Do(req)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("health check failed (%v)", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return Result{Name: name, Passed: true, Detail: "Reachable"}
	}
	return Result{Name: name, Detail: fmt.Sprintf("health check failed (%d)", resp.StatusCode)}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckTools evaluates every configured collaborator command. The building
// provider, simulator, and parser are required by the default stage plan;
// the rest only matter to jobs that enable their stages.
func CheckTools(cfg *config.Config) []deps.Status {
	tools := cfg.Tools
	requirements := []deps.Requirement{
		{Name: "Building provider", Command: tools.BuildingProvider, Description: "Required by setup"},
		{Name: "Simulator", Command: tools.Simulator, Description: "Required by simulation stages"},
		{Name: "Parser", Command: tools.Parser, Description: "Required by parsing stages"},
		{Name: "Aggregator", Command: tools.Aggregator, Description: "Used by aggregate", Optional: true},
		{Name: "Validator", Command: tools.Validator, Description: "Used by validation and iteration", Optional: true},
		{Name: "Modifier", Command: tools.Modifier, Description: "Used by modify and iteration", Optional: true},
		{Name: "Sensitivity", Command: tools.Sensitivity, Description: "Used by sensitivity", Optional: true},
		{Name: "Surrogate", Command: tools.Surrogate, Description: "Used by surrogate", Optional: true},
		{Name: "Calibrator", Command: tools.Calibrator, Description: "Used by calibrate", Optional: true},
		{Name: "Overrides", Command: tools.Overrides, Description: "Used by overrides_bulk", Optional: true},
		{Name: "Packager", Command: tools.Packager, Description: "built-in local packager", Optional: true},
	}
	return deps.CheckBinaries(requirements)
}
