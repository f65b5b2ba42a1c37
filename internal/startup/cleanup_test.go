package startup

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func touch(t *testing.T, path string, size int, age time.Duration) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	mtime := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestCleanupEmptyRecordings(t *testing.T) {
	t.Run("removes old empty recordings only", func(t *testing.T) {
		dir := t.TempDir()
		oldEmpty := filepath.Join(dir, "2026", "a.mp4")
		oldEmptyTS := filepath.Join(dir, "b.TS")
		recentEmpty := filepath.Join(dir, "c.mp4")
		oldFull := filepath.Join(dir, "d.mp4")
		other := filepath.Join(dir, "notes.txt")

		touch(t, oldEmpty, 0, 2*time.Hour)
		touch(t, oldEmptyTS, 0, 2*time.Hour)
		touch(t, recentEmpty, 0, time.Minute)
		touch(t, oldFull, 128, 2*time.Hour)
		touch(t, other, 0, 2*time.Hour)

		removed, err := CleanupEmptyRecordings(newTestLogger(), dir, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 2, removed)

		assert.NoFileExists(t, oldEmpty)
		assert.NoFileExists(t, oldEmptyTS)
		assert.FileExists(t, recentEmpty)
		assert.FileExists(t, oldFull)
		assert.FileExists(t, other)
	})

	t.Run("missing directory", func(t *testing.T) {
		removed, err := CleanupEmptyRecordings(newTestLogger(), filepath.Join(t.TempDir(), "missing"), time.Hour)
		require.NoError(t, err)
		assert.Zero(t, removed)
	})
}

func TestPrepareOutputDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, PrepareOutputDir(dir))
	assert.DirExists(t, dir)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "write probe is removed")

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	assert.Error(t, PrepareOutputDir(filepath.Join(file, "sub")))
}
