package pipeline

import (
	"time"

	"github.com/jmylchreest/camrec/internal/media"
)

// Result describes a finished recording.
type Result struct {
	State      State         `json:"state"`
	StopReason StopReason    `json:"stop_reason"`
	StartedAt  time.Time     `json:"started_at"`
	StoppedAt  time.Time     `json:"stopped_at"`
	Duration   time.Duration `json:"duration"`

	Track *media.TrackDescriptor `json:"track,omitempty"`

	// Queue counters. Dropped frames were evicted before the encoder could
	// take them and are not an error.
	FramesOffered uint64 `json:"frames_offered"`
	FramesDropped uint64 `json:"frames_dropped"`

	FramesConverted uint64 `json:"frames_converted"`
	FramesSkipped   uint64 `json:"frames_skipped"`
	FramesSubmitted uint64 `json:"frames_submitted"`
	InputSlotMisses uint64 `json:"input_slot_misses"`

	SamplesWritten uint64        `json:"samples_written"`
	KeyFrames      uint64        `json:"key_frames"`
	BytesWritten   uint64        `json:"bytes_written"`
	MediaDuration  time.Duration `json:"media_duration"`

	Err          error  `json:"-"`
	Error        string `json:"error,omitempty"`
	ReleaseError string `json:"release_error,omitempty"`
}

// Success reports whether the recording stopped cleanly.
func (r *Result) Success() bool {
	return r != nil && r.State == StateStopped
}
