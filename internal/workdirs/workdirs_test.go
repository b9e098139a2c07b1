package workdirs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func makeDir(t *testing.T, root, name string, age time.Duration, content string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	if content != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "out.csv"), []byte(content), 0o644))
	}
	when := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(dir, when, when))
	return dir
}

func TestCleanIgnoresMissingOrEmptyRoot(t *testing.T) {
	for _, root := range []string{"", "   ", filepath.Join(t.TempDir(), "absent")} {
		result := Clean(context.Background(), root, time.Hour, nil, nil)
		require.Empty(t, result.Removed)
		require.Empty(t, result.Errors)
	}
}

func TestCleanRemovesOldUnkeptDirectories(t *testing.T) {
	root := t.TempDir()
	old := makeDir(t, root, "job-old", 3*time.Hour, "x")
	live := makeDir(t, root, "job-live", 3*time.Hour, "")
	recent := makeDir(t, root, "job-recent", time.Minute, "")
	require.NoError(t, os.WriteFile(filepath.Join(root, "stray.txt"), nil, 0o644))

	keep := func(name string) bool { return name == "job-live" }
	result := Clean(context.Background(), root, time.Hour, keep, nil)
	require.Equal(t, []string{old}, result.Removed)
	require.Empty(t, result.Errors)

	require.NoDirExists(t, old)
	require.DirExists(t, live)
	require.DirExists(t, recent)
	require.FileExists(t, filepath.Join(root, "stray.txt"))
}

func TestCleanDisabledByZeroAge(t *testing.T) {
	root := t.TempDir()
	old := makeDir(t, root, "job-old", 3*time.Hour, "")
	require.Empty(t, Clean(context.Background(), root, 0, nil, nil).Removed)
	require.DirExists(t, old)
}

func TestUsage(t *testing.T) {
	root := t.TempDir()
	makeDir(t, root, "a", 0, "12345")
	makeDir(t, root, "b", 0, "123")
	dirs, size, err := Usage(root)
	require.NoError(t, err)
	require.Equal(t, 2, dirs)
	require.Equal(t, int64(8), size)

	dirs, size, err = Usage(filepath.Join(root, "absent"))
	require.NoError(t, err)
	require.Zero(t, dirs)
	require.Zero(t, size)
}
