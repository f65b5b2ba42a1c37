package container

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Format is an output container format.
type Format string

const (
	// FormatMP4 is fragmented MP4.
	FormatMP4 Format = "mp4"
	// FormatMPEGTS is an MPEG transport stream.
	FormatMPEGTS Format = "ts"
)

// ParseFormat converts a configuration value to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mp4", "fmp4", "":
		return FormatMP4, nil
	case "ts", "mpegts", "mpeg-ts":
		return FormatMPEGTS, nil
	default:
		return "", fmt.Errorf("unknown container format %q", s)
	}
}

// Extension returns the file extension without the dot.
func (f Format) Extension() string {
	return string(f)
}

// OutputOptions tunes the muxer created for an output.
type OutputOptions struct {
	// FragmentDuration caps fMP4 fragments. Zero uses DefaultMaxFragmentDuration.
	FragmentDuration time.Duration
	Logger           *slog.Logger
}

// NewMuxer creates the muxer for f writing to w.
func NewMuxer(f Format, w io.Writer, opts OutputOptions) (Muxer, error) {
	switch f {
	case FormatMP4:
		return NewFMP4Muxer(w, FMP4Options{MaxFragmentDuration: opts.FragmentDuration, Logger: opts.Logger}), nil
	case FormatMPEGTS:
		return NewTSMuxer(w, opts.Logger), nil
	default:
		return nil, fmt.Errorf("unknown container format %q", f)
	}
}

// fileOutput buffers writes to a file. Close flushes, syncs and closes.
type fileOutput struct {
	f  *os.File
	bw *bufio.Writer
}

func (o *fileOutput) Write(p []byte) (int, error) {
	return o.bw.Write(p)
}

func (o *fileOutput) Close() error {
	if err := o.bw.Flush(); err != nil {
		_ = o.f.Close()
		return fmt.Errorf("flushing %s: %w", o.f.Name(), err)
	}
	if err := o.f.Sync(); err != nil {
		_ = o.f.Close()
		return fmt.Errorf("syncing %s: %w", o.f.Name(), err)
	}
	return o.f.Close()
}

// Create opens path for writing and returns a Writer for format f. The file
// is closed by Writer.Release.
func Create(path string, f Format, opts OutputOptions) (*Writer, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	logger := opts.Logger
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating output file: %w", err)
	}

	out := &fileOutput{f: file, bw: bufio.NewWriterSize(file, 256*1024)}
	muxer, err := NewMuxer(f, out, opts)
	if err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return nil, err
	}
	return NewWriter(muxer, logger.With(slog.String("path", path))), nil
}
