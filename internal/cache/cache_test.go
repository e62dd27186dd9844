package cache_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/airbytehq/airbyte-platform/internal/cache"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o640))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestLease(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	durable := filepath.Join(dir, "durable")
	transient := filepath.Join(dir, "run", "gradle")
	old := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	writeFile(t, filepath.Join(durable, "caches", "a.bin"), "aaa", old)

	lease, err := cache.Acquire(t.Context(), durable, transient)
	require.NoError(t, err)
	require.Equal(t, "aaa", readFile(t, filepath.Join(transient, "caches", "a.bin")))

	info, err := os.Stat(filepath.Join(transient, "caches", "a.bin"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o640), info.Mode().Perm())
	require.True(t, info.ModTime().Equal(old))

	newer := old.Add(time.Hour)
	writeFile(t, filepath.Join(transient, "caches", "b.bin"), "bbb", newer)
	writeFile(t, filepath.Join(transient, "caches", "a.bin"), "AAA", newer)

	require.NoError(t, lease.Save(t.Context()))
	require.Equal(t, "AAA", readFile(t, filepath.Join(durable, "caches", "a.bin")))
	require.Equal(t, "bbb", readFile(t, filepath.Join(durable, "caches", "b.bin")))
}

func TestLeaseSkipsUnchanged(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	durable := filepath.Join(dir, "durable")
	transient := filepath.Join(dir, "transient")
	mtime := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	lease, err := cache.Acquire(t.Context(), durable, transient)
	require.NoError(t, err)

	// same size and mtime counts as unchanged
	writeFile(t, filepath.Join(transient, "x"), "new", mtime)
	writeFile(t, filepath.Join(durable, "x"), "old", mtime)

	require.NoError(t, lease.Save(t.Context()))
	require.Equal(t, "old", readFile(t, filepath.Join(durable, "x")))
}

func TestLeaseSaveFailure(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	lease, err := cache.Acquire(t.Context(), filepath.Join(dir, "durable"), filepath.Join(dir, "transient"))
	require.NoError(t, err)

	require.NoError(t, os.RemoveAll(lease.Durable))
	require.NoError(t, os.WriteFile(lease.Durable, nil, 0o644))
	require.Error(t, lease.Save(t.Context()))
}
