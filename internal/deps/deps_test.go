package deps

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	script := []byte("#!/bin/sh\nexit 0\n")
	if err := os.WriteFile(present, script, 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	reqs := []Requirement{
		{Name: "Simulator", Command: present + " --engine energyplus"},
		{Name: "Parser", Command: "clearly-not-present-binary --csv"},
		{Name: "Calibrator", Optional: true},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}

	if !results[0].Available || results[0].Path != present {
		t.Fatalf("expected first requirement to resolve to %s, got %#v", present, results[0])
	}
	if results[0].Detail != "" {
		t.Fatalf("unexpected detail for available dependency: %s", results[0].Detail)
	}

	if results[1].Available {
		t.Fatalf("expected missing binary to be unavailable")
	}
	if results[1].Detail != `binary "clearly-not-present-binary" not found` {
		t.Fatalf("unexpected detail: %s", results[1].Detail)
	}

	if results[2].Detail != "command not configured" {
		t.Fatalf("unexpected detail for empty command: %s", results[2].Detail)
	}

	missing := Missing(results)
	if len(missing) != 1 || missing[0].Name != "Parser" {
		t.Fatalf("expected only Parser missing, got %#v", missing)
	}
}
