// Package media defines the frame, sample and track types shared by the
// capture, encoding and container stages of camrec.
package media

import (
	"fmt"
	"strings"
	"time"
)

// PixelLayout identifies how a raw 4:2:0 frame is laid out in memory.
type PixelLayout int

const (
	// LayoutNV21 is a luma plane followed by interleaved V/U chroma (camera preview format).
	LayoutNV21 PixelLayout = iota
	// LayoutNV12 is a luma plane followed by interleaved U/V chroma (encoder input format).
	LayoutNV12
	// LayoutI420 is a luma plane followed by separate U and V planes.
	LayoutI420
)

func (l PixelLayout) String() string {
	switch l {
	case LayoutNV21:
		return "nv21"
	case LayoutNV12:
		return "nv12"
	case LayoutI420:
		return "i420"
	default:
		return "unknown"
	}
}

// ParsePixelLayout converts a layout name (as used in configuration and by
// FFmpeg's -pix_fmt) to a PixelLayout.
func ParsePixelLayout(s string) (PixelLayout, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "nv21":
		return LayoutNV21, nil
	case "nv12":
		return LayoutNV12, nil
	case "i420", "yuv420p":
		return LayoutI420, nil
	default:
		return 0, fmt.Errorf("unknown pixel layout %q", s)
	}
}

// FFmpegPixFmt returns the FFmpeg pixel format name for the layout.
func (l PixelLayout) FFmpegPixFmt() string {
	if l == LayoutI420 {
		return "yuv420p"
	}
	return l.String()
}

// FrameSize returns the number of bytes of a width x height frame.
// All supported layouts are 4:2:0, so the size is 1.5 bytes per pixel.
func (l PixelLayout) FrameSize(width, height int) int {
	if width <= 0 || height <= 0 {
		return 0
	}
	luma := width * height
	return luma + luma/2
}

// Frame is one captured image. Data must not be modified once the frame has
// been handed to a queue.
type Frame struct {
	Data       []byte
	Width      int
	Height     int
	Layout     PixelLayout
	CapturedAt time.Time
}

// Valid reports whether the frame carries enough bytes for its dimensions.
func (f Frame) Valid() bool {
	size := f.Layout.FrameSize(f.Width, f.Height)
	return size > 0 && len(f.Data) >= size
}

// SampleFlags describes an encoded sample.
type SampleFlags uint8

const (
	// FlagKeyFrame marks a sample that can be decoded without prior samples.
	FlagKeyFrame SampleFlags = 1 << iota
	// FlagCodecConfig marks a sample carrying parameter sets instead of picture data.
	FlagCodecConfig
	// FlagEndOfStream marks the last sample of a session.
	FlagEndOfStream
)

// Has reports whether all bits of f are set.
func (s SampleFlags) Has(f SampleFlags) bool {
	return s&f == f
}

func (s SampleFlags) String() string {
	var parts []string
	if s.Has(FlagKeyFrame) {
		parts = append(parts, "key")
	}
	if s.Has(FlagCodecConfig) {
		parts = append(parts, "config")
	}
	if s.Has(FlagEndOfStream) {
		parts = append(parts, "eos")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// EncodedSample is one access unit produced by the encoder.
// PTS is in microseconds. Data is only valid for the duration of the call
// that handed the sample out.
type EncodedSample struct {
	Data  []byte
	PTS   int64
	Flags SampleFlags
}

// IsKeyFrame reports whether the sample is a key frame.
func (s EncodedSample) IsKeyFrame() bool {
	return s.Flags.Has(FlagKeyFrame)
}

// IsEndOfStream reports whether the sample terminates the stream.
func (s EncodedSample) IsEndOfStream() bool {
	return s.Flags.Has(FlagEndOfStream)
}

// TrackDescriptor is the output format negotiated by the encoder.
type TrackDescriptor struct {
	Codec     string // "h264"
	Width     int
	Height    int
	FrameRate int
	SPS       []byte
	PPS       []byte
}

func (t TrackDescriptor) String() string {
	return fmt.Sprintf("%s %dx%d@%d (sps=%d pps=%d)", t.Codec, t.Width, t.Height, t.FrameRate, len(t.SPS), len(t.PPS))
}
