// Package startup holds tasks run once before recordings are accepted.
package startup

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultCleanupAge is the minimum age of an empty recording file before it
// is treated as abandoned.
const DefaultCleanupAge = time.Hour

// recordingExtensions are the file extensions the container writers produce.
var recordingExtensions = map[string]bool{".mp4": true, ".ts": true}

// PrepareOutputDir creates dir if needed and checks that it is writable.
func PrepareOutputDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	f, err := os.CreateTemp(dir, ".camrec-write-test-*")
	if err != nil {
		return fmt.Errorf("output directory %s is not writable: %w", dir, err)
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return nil
}

// CleanupEmptyRecordings removes zero-length recording files older than
// maxAge below baseDir. They are left behind when a process dies after
// creating the output file and before the first fragment was written;
// partial output is not resumed across restarts.
//
// Returns the number of files removed.
func CleanupEmptyRecordings(logger *slog.Logger, baseDir string, maxAge time.Duration) (int, error) {
	if _, err := os.Stat(baseDir); errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	err := filepath.WalkDir(baseDir, func(path string, d fs.DirEntry, err error) error {
		log := logger.With(slog.String("path", path))
		switch {
		case err != nil:
			log.Warn("skipping unreadable path", slog.Any("error", err))
			return nil
		case d.IsDir() || !recordingExtensions[strings.ToLower(filepath.Ext(path))]:
			return nil
		}

		info, err := d.Info()
		if err != nil || info.Size() > 0 {
			return nil
		}
		age := slog.Duration("age", time.Since(info.ModTime()).Round(time.Second))
		if info.ModTime().After(cutoff) {
			log.Debug("keeping recent empty recording", age)
			return nil
		}
		if err := os.Remove(path); err != nil {
			log.Warn("removing empty recording", slog.Any("error", err))
			return nil
		}
		log.Info("removed empty recording", age)
		removed++
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("walking %s: %w", baseDir, err)
	}
	return removed, nil
}
