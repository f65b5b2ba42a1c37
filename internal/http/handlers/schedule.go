package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/camrec/internal/media"
	"github.com/jmylchreest/camrec/internal/pipeline"
	"github.com/jmylchreest/camrec/internal/scheduler"
)

// ScheduleHandler handles schedule API endpoints.
type ScheduleHandler struct {
	schedules ScheduleController
	catalog   RecordingCatalog
}

// NewScheduleHandler creates a new schedule handler.
func NewScheduleHandler(schedules ScheduleController, cat RecordingCatalog) *ScheduleHandler {
	return &ScheduleHandler{schedules: schedules, catalog: cat}
}

// Register registers the schedule routes with the API.
func (h *ScheduleHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listSchedules",
		Method:      http.MethodGet,
		Path:        "/api/v1/schedules",
		Summary:     "List schedules",
		Description: "Returns the configured schedule entries with their next run",
		Tags:        []string{"Schedules"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID:   "triggerSchedule",
		Method:        http.MethodPost,
		Path:          "/api/v1/schedules/{name}/trigger",
		Summary:       "Trigger schedule",
		Description:   "Starts the entry's recording now",
		Tags:          []string{"Schedules"},
		DefaultStatus: http.StatusAccepted,
	}, h.Trigger)

	huma.Register(api, huma.Operation{
		OperationID: "listScheduleRuns",
		Method:      http.MethodGet,
		Path:        "/api/v1/schedules/{name}/runs",
		Summary:     "List schedule runs",
		Description: "Returns the latest firings of a schedule entry",
		Tags:        []string{"Schedules"},
	}, h.Runs)
}

// ScheduleEntryResponse is one schedule entry.
type ScheduleEntryResponse struct {
	Name            string    `json:"name"`
	Cron            string    `json:"cron"`
	DurationSeconds float64   `json:"duration_seconds"`
	Next            time.Time `json:"next,omitzero"`
	Prev            time.Time `json:"prev,omitzero"`
}

// ListSchedulesOutput is the output for listing schedules.
type ListSchedulesOutput struct {
	Body struct {
		Entries []ScheduleEntryResponse `json:"entries"`
	}
}

// List returns the schedule entries.
func (h *ScheduleHandler) List(_ context.Context, _ *struct{}) (*ListSchedulesOutput, error) {
	resp := &ListSchedulesOutput{}
	resp.Body.Entries = make([]ScheduleEntryResponse, 0)
	for _, e := range h.schedules.Entries() {
		resp.Body.Entries = append(resp.Body.Entries, ScheduleEntryResponse{
			Name:            e.Name,
			Cron:            e.Cron,
			DurationSeconds: e.Duration.Seconds(),
			Next:            e.Next,
			Prev:            e.Prev,
		})
	}
	return resp, nil
}

// ScheduleNameInput addresses one schedule entry.
type ScheduleNameInput struct {
	Name string `path:"name" doc:"Schedule entry name"`
}

// TriggerScheduleOutput is the output for triggering a schedule.
type TriggerScheduleOutput struct {
	Body struct {
		SessionID string `json:"session_id"`
	}
}

// Trigger fires a schedule entry immediately.
func (h *ScheduleHandler) Trigger(ctx context.Context, input *ScheduleNameInput) (*TriggerScheduleOutput, error) {
	id, err := h.schedules.Trigger(ctx, input.Name)
	switch {
	case errors.Is(err, scheduler.ErrUnknownEntry):
		return nil, huma.Error404NotFound(err.Error())
	case errors.Is(err, scheduler.ErrStillRecording):
		return nil, huma.Error409Conflict(err.Error())
	case errors.Is(err, media.ErrResourceUnavailable), errors.Is(err, pipeline.ErrManagerClosed):
		return nil, huma.Error503ServiceUnavailable(err.Error(), err)
	case err != nil:
		return nil, huma.Error500InternalServerError("failed to trigger schedule", err)
	}

	resp := &TriggerScheduleOutput{}
	resp.Body.SessionID = id
	return resp, nil
}

// ScheduleRunsInput is the input for listing schedule runs.
type ScheduleRunsInput struct {
	Name  string `path:"name" doc:"Schedule entry name"`
	Limit int    `query:"limit" default:"20" minimum:"1" maximum:"500"`
}

// ScheduleRunResponse is one firing.
type ScheduleRunResponse struct {
	FiredAt   time.Time `json:"fired_at"`
	SessionID string    `json:"session_id,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// ScheduleRunsOutput is the output for listing schedule runs.
type ScheduleRunsOutput struct {
	Body struct {
		Runs []ScheduleRunResponse `json:"runs"`
	}
}

// Runs returns the latest firings of an entry.
func (h *ScheduleHandler) Runs(ctx context.Context, input *ScheduleRunsInput) (*ScheduleRunsOutput, error) {
	resp := &ScheduleRunsOutput{}
	resp.Body.Runs = make([]ScheduleRunResponse, 0)
	if h.catalog == nil {
		return resp, nil
	}

	runs, err := h.catalog.Runs(ctx, input.Name, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list schedule runs", err)
	}
	for _, r := range runs {
		resp.Body.Runs = append(resp.Body.Runs, ScheduleRunResponse{
			FiredAt:   r.FiredAt,
			SessionID: r.SessionID,
			Error:     r.Error,
		})
	}
	return resp, nil
}
