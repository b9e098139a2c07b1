package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteFile writes content to path, creating parent directories.
func WriteFile(t testing.TB, path, content string) string {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// OneShotTOML is a minimal valid job document that simulates and parses.
const OneShotTOML = `name = "smoke"

[buildings]
source = "buildings.csv"

[setup]
enabled = true
[overrides_bulk]
enabled = false
[overrides_user]
enabled = false
[simulation]
enabled = true
weather = "weather.epw"
[parsing]
enabled = true
variables = ["electricity"]
[aggregation]
enabled = false
[validation]
enabled = false
[modification]
enabled = false
[resimulation]
enabled = false
[reparse]
enabled = false
[revalidation]
enabled = false
[iteration]
enabled = false
[sensitivity]
enabled = false
[surrogate]
enabled = false
[calibration]
enabled = false
[package]
enabled = false
[cleanup]
enabled = false
`
