// Package handlers provides the HTTP API handlers of the recording service.
package handlers

import (
	"context"
	"time"

	"github.com/jmylchreest/camrec/internal/catalog"
	"github.com/jmylchreest/camrec/internal/models"
	"github.com/jmylchreest/camrec/internal/pipeline"
	"github.com/jmylchreest/camrec/internal/scheduler"
)

// RecordingManager controls live recordings. *pipeline.Manager implements it.
type RecordingManager interface {
	StartPipeline(ctx context.Context, opts pipeline.Options) (pipeline.Handle, error)
	StopPipeline(ctx context.Context, h pipeline.Handle) (*pipeline.Result, error)
	Get(h pipeline.Handle) (pipeline.SessionInfo, bool)
	List() []pipeline.SessionInfo
	Active() int
}

// RecordingCatalog reads and deletes finished recordings.
// *catalog.Catalog implements it.
type RecordingCatalog interface {
	Get(ctx context.Context, id string) (*models.Recording, error)
	List(ctx context.Context, f catalog.Filter) ([]*models.Recording, error)
	Delete(ctx context.Context, id string, deleteFile bool) error
	Runs(ctx context.Context, entry string, limit int) ([]*models.ScheduleRun, error)
}

// ScheduleController lists and fires schedule entries.
// *scheduler.Scheduler implements it.
type ScheduleController interface {
	Entries() []scheduler.EntryStatus
	Trigger(ctx context.Context, name string) (string, error)
}

// RecordingResponse is a recording, live or catalogued.
type RecordingResponse struct {
	ID         string    `json:"id" doc:"Session ID"`
	CatalogID  string    `json:"catalog_id,omitempty" doc:"Catalog entry ID (ULID) once finished"`
	Label      string    `json:"label,omitempty"`
	Schedule   string    `json:"schedule,omitempty"`
	Path       string    `json:"path"`
	Container  string    `json:"container"`
	Encoder    string    `json:"encoder,omitempty"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	FrameRate  int       `json:"frame_rate"`
	State      string    `json:"state" doc:"idle, running, draining, stopped or failed"`
	StopReason string    `json:"stop_reason,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	StoppedAt  time.Time `json:"stopped_at,omitzero"`

	FramesSubmitted int64   `json:"frames_submitted"`
	FramesDropped   int64   `json:"frames_dropped"`
	SamplesWritten  int64   `json:"samples_written"`
	BytesWritten    int64   `json:"bytes_written"`
	FileSize        int64   `json:"file_size,omitempty"`
	DurationSeconds float64 `json:"duration_seconds"`
	Live            bool    `json:"live" doc:"True while the recording is held by this process"`
}

// RecordingFromSession converts a live or just-finished session.
func RecordingFromSession(info pipeline.SessionInfo) RecordingResponse {
	r := RecordingResponse{
		ID:              info.Handle.String(),
		Label:           info.Label,
		Schedule:        info.Schedule,
		Path:            info.Path,
		Container:       info.Container,
		Encoder:         info.Encoder,
		Width:           info.Options.Width,
		Height:          info.Options.Height,
		FrameRate:       info.Options.FrameRate,
		State:           info.Progress.State.String(),
		StartedAt:       info.StartedAt,
		FramesSubmitted: int64(info.Progress.FramesSubmitted),
		SamplesWritten:  int64(info.Progress.SamplesWritten),
		BytesWritten:    int64(info.Progress.BytesWritten),
		DurationSeconds: info.Progress.Elapsed.Seconds(),
		Live:            true,
	}
	if res := info.Result; res != nil {
		r.State = res.State.String()
		r.StopReason = string(res.StopReason)
		r.Error = res.Error
		r.StoppedAt = res.StoppedAt
		r.FramesDropped = int64(res.FramesDropped)
		r.DurationSeconds = res.MediaDuration.Seconds()
	}
	return r
}

// RecordingFromModel converts a catalog entry.
func RecordingFromModel(m *models.Recording) RecordingResponse {
	return RecordingResponse{
		ID:              m.SessionID,
		CatalogID:       m.ID.String(),
		Label:           m.Label,
		Schedule:        m.Schedule,
		Path:            m.Path,
		Container:       m.Container,
		Encoder:         m.Encoder,
		Width:           m.Width,
		Height:          m.Height,
		FrameRate:       m.FrameRate,
		State:           m.State,
		StopReason:      m.StopReason,
		Error:           m.Error,
		StartedAt:       m.StartedAt,
		StoppedAt:       m.StoppedAt,
		FramesSubmitted: m.FramesSubmitted,
		FramesDropped:   m.FramesDropped,
		SamplesWritten:  m.SamplesWritten,
		BytesWritten:    m.BytesWritten,
		FileSize:        m.FileSize,
		DurationSeconds: m.MediaDuration().Seconds(),
	}
}
