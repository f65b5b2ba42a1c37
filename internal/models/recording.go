package models

import (
	"time"
)

// Recording states as stored in the catalog.
const (
	RecordingStateStopped = "stopped"
	RecordingStateFailed  = "failed"
)

// Recording is one finished recording session.
type Recording struct {
	BaseModel

	SessionID string `gorm:"uniqueIndex;size:36;not null" json:"session_id"`
	Label     string `gorm:"size:255" json:"label,omitempty"`
	// Schedule names the schedule entry that started the recording.
	Schedule  string `gorm:"index;size:255" json:"schedule,omitempty"`
	Path      string `gorm:"size:1024;not null" json:"path"`
	Container string `gorm:"size:16;not null" json:"container"`
	Encoder   string `gorm:"size:64" json:"encoder"`
	Codec     string `gorm:"size:16" json:"codec,omitempty"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	FrameRate int    `json:"frame_rate"`
	Bitrate   int    `json:"bitrate"`

	State        string `gorm:"index;size:16;not null" json:"state"`
	StopReason   string `gorm:"size:32" json:"stop_reason,omitempty"`
	Error        string `gorm:"type:text" json:"error,omitempty"`
	ReleaseError string `gorm:"type:text" json:"release_error,omitempty"`

	FramesOffered   int64 `json:"frames_offered"`
	FramesDropped   int64 `json:"frames_dropped"`
	FramesSubmitted int64 `json:"frames_submitted"`
	SamplesWritten  int64 `json:"samples_written"`
	KeyFrames       int64 `json:"key_frames"`
	BytesWritten    int64 `json:"bytes_written"`
	FileSize        int64 `json:"file_size"`
	MediaDurationMs int64 `json:"media_duration_ms"`

	StartedAt time.Time `gorm:"index;not null" json:"started_at"`
	StoppedAt time.Time `json:"stopped_at"`
}

// TableName returns the table name.
func (Recording) TableName() string {
	return "recordings"
}

// Failed reports whether the recording ended in the failed state.
func (r *Recording) Failed() bool {
	return r.State == RecordingStateFailed
}

// MediaDuration returns the presentation span of the recording.
func (r *Recording) MediaDuration() time.Duration {
	return time.Duration(r.MediaDurationMs) * time.Millisecond
}

// ScheduleRun records one firing of a schedule entry.
type ScheduleRun struct {
	BaseModel

	Entry     string    `gorm:"index;size:255;not null" json:"entry"`
	FiredAt   time.Time `gorm:"index;not null" json:"fired_at"`
	SessionID string    `gorm:"size:36" json:"session_id,omitempty"`
	Error     string    `gorm:"type:text" json:"error,omitempty"`
}

// TableName returns the table name.
func (ScheduleRun) TableName() string {
	return "schedule_runs"
}
