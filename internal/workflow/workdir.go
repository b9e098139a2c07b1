package workflow

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// prepareWorkDir creates the job work dir, optionally emptying it first, and
// checks the daemon can write into it.
func prepareWorkDir(dir string, clean bool) error {
	if clean {
		if err := removeWorkDir(dir); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	if err := unix.Access(dir, unix.W_OK|unix.X_OK); err != nil {
		return fmt.Errorf("work dir %s not writable: %w", dir, err)
	}
	return nil
}

// removeWorkDir deletes a job work dir. Relative paths and filesystem roots
// are refused.
func removeWorkDir(dir string) error {
	cleaned := filepath.Clean(dir)
	if !filepath.IsAbs(cleaned) || cleaned == string(filepath.Separator) {
		return fmt.Errorf("refusing to remove work dir %q", dir)
	}
	if err := os.RemoveAll(cleaned); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove work dir: %w", err)
	}
	return nil
}
