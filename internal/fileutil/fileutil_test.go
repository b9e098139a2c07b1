package fileutil

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
)

func TestCopyFileVerified(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dst := filepath.Join(dir, "dst.bin")

	content := []byte("verified copy content")
	if err := os.WriteFile(src, content, 0o644); err != nil {
		t.Fatal(err)
	}

	digest, err := CopyFileVerified(src, dst)
	if err != nil {
		t.Fatal(err)
	}
	want := sha256.Sum256(content)
	if digest != hex.EncodeToString(want[:]) {
		t.Fatalf("digest = %s, want %x", digest, want)
	}

	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(content) {
		t.Fatalf("content mismatch: got %q, want %q", got, content)
	}
}

func TestCopyFileVerified_MissingSource(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "nonexistent")
	dst := filepath.Join(dir, "dst.bin")

	if _, err := CopyFileVerified(src, dst); err == nil {
		t.Fatal("expected error for missing source")
	}
}

func TestCopyTree(t *testing.T) {
	src := t.TempDir()
	if err := os.MkdirAll(filepath.Join(src, "parse"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "setup.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "parse", "tables.csv"), []byte("a,b\n1,2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	dst := filepath.Join(t.TempDir(), "out")

	files, err := CopyTree(src, dst)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Fatalf("copied %d files, want 2", len(files))
	}
	paths := map[string]int64{}
	for _, f := range files {
		paths[f.Path] = f.Size
	}
	if paths["parse/tables.csv"] != 8 {
		t.Fatalf("tables.csv size = %d, want 8", paths["parse/tables.csv"])
	}
	if _, err := os.Stat(filepath.Join(dst, "parse", "tables.csv")); err != nil {
		t.Fatalf("nested file missing: %v", err)
	}
}

func TestCopyTreeSkipsNestedDestination(t *testing.T) {
	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "a.txt"), []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}
	dst := filepath.Join(src, "package")

	files, err := CopyTree(src, dst)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files[0].Path != "a.txt" {
		t.Fatalf("files = %+v, want only a.txt", files)
	}
}
