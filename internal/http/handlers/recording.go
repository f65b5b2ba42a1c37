package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/camrec/internal/catalog"
	"github.com/jmylchreest/camrec/internal/media"
	"github.com/jmylchreest/camrec/internal/pipeline"
)

// RecordingHandler handles recording API endpoints.
type RecordingHandler struct {
	manager RecordingManager
	catalog RecordingCatalog
}

// NewRecordingHandler creates a new recording handler. cat may be nil when
// no catalog is configured.
func NewRecordingHandler(manager RecordingManager, cat RecordingCatalog) *RecordingHandler {
	return &RecordingHandler{
		manager: manager,
		catalog: cat,
	}
}

// Register registers the recording routes with the API.
func (h *RecordingHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "startRecording",
		Method:        http.MethodPost,
		Path:          "/api/v1/recordings",
		Summary:       "Start recording",
		Description:   "Starts a recording session with the given parameters; unset fields use the server defaults",
		Tags:          []string{"Recordings"},
		DefaultStatus: http.StatusCreated,
	}, h.Start)

	huma.Register(api, huma.Operation{
		OperationID: "listRecordings",
		Method:      http.MethodGet,
		Path:        "/api/v1/recordings",
		Summary:     "List recordings",
		Description: "Returns live sessions followed by catalogued recordings, newest first",
		Tags:        []string{"Recordings"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getRecording",
		Method:      http.MethodGet,
		Path:        "/api/v1/recordings/{id}",
		Summary:     "Get recording",
		Description: "Returns a live session or catalogued recording by session or catalog ID",
		Tags:        []string{"Recordings"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID: "stopRecording",
		Method:      http.MethodDelete,
		Path:        "/api/v1/recordings/{id}",
		Summary:     "Stop recording",
		Description: "Stops a live session, waits for the file to be finalised and returns the result",
		Tags:        []string{"Recordings"},
	}, h.Stop)

	huma.Register(api, huma.Operation{
		OperationID:   "deleteCatalogEntry",
		Method:        http.MethodDelete,
		Path:          "/api/v1/catalog/{id}",
		Summary:       "Delete catalog entry",
		Description:   "Removes a finished recording from the catalog and optionally deletes its file",
		Tags:          []string{"Recordings"},
		DefaultStatus: http.StatusNoContent,
	}, h.DeleteCatalogEntry)
}

// StartRecordingInput is the input for starting a recording.
type StartRecordingInput struct {
	Body struct {
		Label           string `json:"label,omitempty" doc:"Free-form label stored with the recording"`
		Width           int    `json:"width,omitempty" doc:"Frame width, even" minimum:"0"`
		Height          int    `json:"height,omitempty" doc:"Frame height, even" minimum:"0"`
		Bitrate         int    `json:"bitrate,omitempty" doc:"Bits per second; 0 uses width*height*4" minimum:"0"`
		FrameRate       int    `json:"frame_rate,omitempty" minimum:"0"`
		IFrameInterval  int    `json:"iframe_interval,omitempty" doc:"Seconds between key frames" minimum:"0"`
		AutoStopSeconds int    `json:"auto_stop_seconds,omitempty" doc:"Recording length; 0 uses the server default, -1 records until stopped" minimum:"-1"`
		Container       string `json:"container,omitempty" doc:"mp4 or ts" enum:"mp4,fmp4,ts,mpegts,"`
	}
}

// RecordingOutput wraps a single recording.
type RecordingOutput struct {
	Body RecordingResponse
}

// Start starts a new recording.
func (h *RecordingHandler) Start(ctx context.Context, input *StartRecordingInput) (*RecordingOutput, error) {
	opts := pipeline.Options{
		Label:                 input.Body.Label,
		Width:                 input.Body.Width,
		Height:                input.Body.Height,
		Bitrate:               input.Body.Bitrate,
		FrameRate:             input.Body.FrameRate,
		IFrameIntervalSeconds: input.Body.IFrameInterval,
		Container:             input.Body.Container,
	}
	switch {
	case input.Body.AutoStopSeconds < 0:
		opts.AutoStop = pipeline.NoAutoStop
	case input.Body.AutoStopSeconds > 0:
		opts.AutoStop = time.Duration(input.Body.AutoStopSeconds) * time.Second
	}

	handle, err := h.manager.StartPipeline(ctx, opts)
	if err != nil {
		return nil, startError(err)
	}

	info, ok := h.manager.Get(handle)
	if !ok {
		return nil, huma.Error500InternalServerError("recording started but not tracked")
	}
	return &RecordingOutput{Body: RecordingFromSession(info)}, nil
}

func startError(err error) error {
	switch {
	case errors.Is(err, media.ErrConfiguration):
		return huma.Error400BadRequest(err.Error(), err)
	case errors.Is(err, media.ErrResourceUnavailable), errors.Is(err, pipeline.ErrManagerClosed):
		return huma.Error503ServiceUnavailable(err.Error(), err)
	default:
		return huma.Error500InternalServerError("failed to start recording", err)
	}
}

// ListRecordingsInput is the input for listing recordings.
type ListRecordingsInput struct {
	State    string `query:"state" doc:"Filter catalogued recordings by state" enum:"stopped,failed,"`
	Schedule string `query:"schedule" doc:"Filter catalogued recordings by schedule entry"`
	Limit    int    `query:"limit" default:"50" minimum:"1" maximum:"1000"`
	Offset   int    `query:"offset" minimum:"0"`
}

// ListRecordingsOutput is the output for listing recordings.
type ListRecordingsOutput struct {
	Body struct {
		Active     int                 `json:"active" doc:"Number of sessions currently recording"`
		Recordings []RecordingResponse `json:"recordings"`
	}
}

// List returns live sessions followed by the catalog.
func (h *RecordingHandler) List(ctx context.Context, input *ListRecordingsInput) (*ListRecordingsOutput, error) {
	resp := &ListRecordingsOutput{}
	resp.Body.Active = h.manager.Active()
	resp.Body.Recordings = make([]RecordingResponse, 0)

	seen := make(map[string]bool)
	if input.State == "" && input.Schedule == "" && input.Offset == 0 {
		for _, info := range h.manager.List() {
			r := RecordingFromSession(info)
			seen[r.ID] = true
			resp.Body.Recordings = append(resp.Body.Recordings, r)
		}
	}

	if h.catalog == nil {
		return resp, nil
	}
	recs, err := h.catalog.List(ctx, catalog.Filter{
		State:    input.State,
		Schedule: input.Schedule,
		Limit:    input.Limit,
		Offset:   input.Offset,
	})
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list recordings", err)
	}
	for _, rec := range recs {
		if seen[rec.SessionID] {
			continue
		}
		resp.Body.Recordings = append(resp.Body.Recordings, RecordingFromModel(rec))
	}
	return resp, nil
}

// RecordingIDInput addresses one recording.
type RecordingIDInput struct {
	ID string `path:"id" doc:"Session ID (UUID) or catalog ID (ULID)"`
}

// Get returns one recording.
func (h *RecordingHandler) Get(ctx context.Context, input *RecordingIDInput) (*RecordingOutput, error) {
	if handle, err := pipeline.ParseHandle(input.ID); err == nil {
		if info, ok := h.manager.Get(handle); ok {
			return &RecordingOutput{Body: RecordingFromSession(info)}, nil
		}
	}

	if h.catalog == nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("recording %s not found", input.ID))
	}
	rec, err := h.catalog.Get(ctx, input.ID)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, huma.Error404NotFound(fmt.Sprintf("recording %s not found", input.ID))
	}
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get recording", err)
	}
	return &RecordingOutput{Body: RecordingFromModel(rec)}, nil
}

// Stop stops a live recording and returns its final state.
func (h *RecordingHandler) Stop(ctx context.Context, input *RecordingIDInput) (*RecordingOutput, error) {
	handle, err := pipeline.ParseHandle(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid session ID format", err)
	}

	if _, err := h.manager.StopPipeline(ctx, handle); err != nil {
		if errors.Is(err, pipeline.ErrSessionNotFound) {
			return nil, huma.Error404NotFound(fmt.Sprintf("recording %s is not live", input.ID))
		}
		return nil, huma.Error500InternalServerError("failed to stop recording", err)
	}

	info, ok := h.manager.Get(handle)
	if !ok {
		return nil, huma.Error404NotFound(fmt.Sprintf("recording %s not found", input.ID))
	}
	return &RecordingOutput{Body: RecordingFromSession(info)}, nil
}

// DeleteCatalogEntryInput is the input for deleting a catalog entry.
type DeleteCatalogEntryInput struct {
	ID         string `path:"id" doc:"Session ID or catalog ID"`
	DeleteFile bool   `query:"delete_file" doc:"Also delete the recording file"`
}

// DeleteCatalogEntry removes a catalog entry.
func (h *RecordingHandler) DeleteCatalogEntry(ctx context.Context, input *DeleteCatalogEntryInput) (*struct{}, error) {
	if h.catalog == nil {
		return nil, huma.Error404NotFound("no catalog configured")
	}
	if handle, err := pipeline.ParseHandle(input.ID); err == nil {
		if info, ok := h.manager.Get(handle); ok && info.Result == nil {
			return nil, huma.Error409Conflict("recording is still live; stop it first")
		}
	}

	err := h.catalog.Delete(ctx, input.ID, input.DeleteFile)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, huma.Error404NotFound(fmt.Sprintf("recording %s not found", input.ID))
	}
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to delete recording", err)
	}
	return nil, nil
}
