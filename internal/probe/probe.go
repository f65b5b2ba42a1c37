// Package probe inspects finished recordings: container layout, the video
// track parameters, sample and key frame counts and the media duration.
package probe

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
)

// Report describes a recording file.
type Report struct {
	Path      string        `json:"path"`
	Container string        `json:"container"`
	Size      int64         `json:"size"`
	Brand     string        `json:"brand,omitempty"`
	Codec     string        `json:"codec"`
	Width     int           `json:"width"`
	Height    int           `json:"height"`
	Profile   uint8         `json:"profile"`
	Level     uint8         `json:"level"`
	Tracks    int           `json:"tracks"`
	Fragments int           `json:"fragments,omitempty"`
	Samples   int           `json:"samples"`
	KeyFrames int           `json:"key_frames"`
	Duration  time.Duration `json:"duration"`
	// Boxes counts top-level MP4 boxes by type.
	Boxes map[string]int `json:"boxes,omitempty"`
	// PIDs lists the elementary stream PIDs of an MPEG-TS file.
	PIDs []uint16 `json:"pids,omitempty"`
}

// File probes the recording at path. The container is detected from the
// file content.
func File(ctx context.Context, path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var report *Report
	switch {
	case isMP4(data):
		report, err = MP4(data)
	case isTS(data):
		report, err = TS(ctx, data)
	default:
		return nil, fmt.Errorf("%s: unrecognised container", filepath.Base(path))
	}
	if err != nil {
		return nil, fmt.Errorf("probing %s: %w", filepath.Base(path), err)
	}
	report.Path = path
	report.Size = int64(len(data))
	return report, nil
}

func isMP4(data []byte) bool {
	return len(data) >= 8 && bytes.Equal(data[4:8], []byte("ftyp"))
}

func isTS(data []byte) bool {
	return len(data) >= 188 && data[0] == 0x47 && (len(data) < 376 || data[188] == 0x47)
}

// applySPS fills the picture parameters from an H.264 SPS.
func (r *Report) applySPS(sps []byte) error {
	var parsed h264.SPS
	if err := parsed.Unmarshal(sps); err != nil {
		return fmt.Errorf("parsing SPS: %w", err)
	}
	r.Codec = "h264"
	r.Width = parsed.Width()
	r.Height = parsed.Height()
	r.Profile = parsed.ProfileIdc
	r.Level = parsed.LevelIdc
	return nil
}

// String renders a one-line summary.
func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %dx%d", r.Container, r.Codec, r.Width, r.Height)
	fmt.Fprintf(&b, " samples=%d keyframes=%d duration=%s", r.Samples, r.KeyFrames, r.Duration)
	if r.Fragments > 0 {
		fmt.Fprintf(&b, " fragments=%d", r.Fragments)
	}
	return b.String()
}
