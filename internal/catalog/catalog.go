// Package catalog stores finished recordings and schedule runs, and prunes
// recordings past their retention.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jmylchreest/camrec/internal/models"
	"github.com/jmylchreest/camrec/internal/observability"
	"github.com/jmylchreest/camrec/internal/pipeline"
)

// ErrNotFound is returned for unknown recordings.
var ErrNotFound = errors.New("recording not found in catalog")

// Filter narrows List.
type Filter struct {
	State    string
	Schedule string
	Since    time.Time
	Limit    int
	Offset   int
}

// Catalog persists recordings through GORM.
type Catalog struct {
	db     *gorm.DB
	logger *slog.Logger
}

// New creates a catalog over a migrated database.
func New(db *gorm.DB, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{db: db, logger: observability.WithComponent(logger, "catalog")}
}

// Save inserts or updates a recording keyed by its session id.
func (c *Catalog) Save(ctx context.Context, rec *models.Recording) error {
	err := c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		UpdateAll: true,
	}).Create(rec).Error
	if err != nil {
		return fmt.Errorf("saving recording: %w", err)
	}
	return nil
}

// Get returns a recording by catalog id or session id.
func (c *Catalog) Get(ctx context.Context, id string) (*models.Recording, error) {
	var rec models.Recording
	err := c.db.WithContext(ctx).Where("id = ? OR session_id = ?", id, id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting recording: %w", err)
	}
	return &rec, nil
}

// List returns recordings newest first.
func (c *Catalog) List(ctx context.Context, f Filter) ([]*models.Recording, error) {
	q := c.db.WithContext(ctx).Order("started_at DESC")
	if f.State != "" {
		q = q.Where("state = ?", f.State)
	}
	if f.Schedule != "" {
		q = q.Where("schedule = ?", f.Schedule)
	}
	if !f.Since.IsZero() {
		q = q.Where("started_at >= ?", f.Since)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}

	var recs []*models.Recording
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("listing recordings: %w", err)
	}
	return recs, nil
}

// Delete removes a recording row and, with deleteFile, its output file.
func (c *Catalog) Delete(ctx context.Context, id string, deleteFile bool) error {
	rec, err := c.Get(ctx, id)
	if err != nil {
		return err
	}
	if deleteFile {
		if err := removeFile(rec.Path); err != nil {
			return err
		}
	}
	if err := c.db.WithContext(ctx).Delete(rec).Error; err != nil {
		return fmt.Errorf("deleting recording: %w", err)
	}
	return nil
}

// Prune deletes recordings that started before now minus retention. With
// deleteFiles their output files go too. It returns the number of rows
// removed.
func (c *Catalog) Prune(ctx context.Context, retention time.Duration, deleteFiles bool) (removed int, err error) {
	if retention <= 0 {
		return 0, nil
	}
	done := observability.TimedOperation(ctx, c.logger, "catalog_prune")
	defer func() { done(err) }()
	cutoff := time.Now().Add(-retention)

	var expired []*models.Recording
	if err := c.db.WithContext(ctx).Where("started_at < ?", cutoff).Find(&expired).Error; err != nil {
		return 0, fmt.Errorf("finding expired recordings: %w", err)
	}

	for _, rec := range expired {
		if deleteFiles {
			if err := removeFile(rec.Path); err != nil {
				c.logger.WarnContext(ctx, "keeping catalog entry", slog.String("id", rec.ID.String()), slog.String("error", err.Error()))
				continue
			}
		}
		if err := c.db.WithContext(ctx).Delete(rec).Error; err != nil {
			return removed, fmt.Errorf("deleting recording %s: %w", rec.ID, err)
		}
		removed++
	}

	if removed > 0 {
		c.logger.InfoContext(ctx, "pruned recordings",
			slog.Int("count", removed),
			slog.Time("cutoff", cutoff),
			slog.Bool("files", deleteFiles))
	}
	return removed, nil
}

func removeFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing %s: %w", path, err)
	}
	return nil
}

// RecordRun stores a schedule firing.
func (c *Catalog) RecordRun(ctx context.Context, run *models.ScheduleRun) error {
	if err := c.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("saving schedule run: %w", err)
	}
	return nil
}

// Runs returns the latest firings of a schedule entry, newest first.
func (c *Catalog) Runs(ctx context.Context, entry string, limit int) ([]*models.ScheduleRun, error) {
	q := c.db.WithContext(ctx).Order("fired_at DESC")
	if entry != "" {
		q = q.Where("entry = ?", entry)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var runs []*models.ScheduleRun
	if err := q.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing schedule runs: %w", err)
	}
	return runs, nil
}

// Hook returns a pipeline.ResultHook that stores every finished recording.
// Failures are logged.
func (c *Catalog) Hook() pipeline.ResultHook {
	return func(ctx context.Context, info pipeline.SessionInfo, result *pipeline.Result) {
		rec := FromSession(info, result)
		if err := c.Save(ctx, rec); err != nil {
			c.logger.ErrorContext(ctx, "cataloguing recording",
				slog.String("session_id", info.Handle.String()),
				slog.String("error", err.Error()))
			return
		}
		c.logger.DebugContext(ctx, "recording catalogued",
			slog.String("id", rec.ID.String()),
			slog.String("session_id", rec.SessionID))
	}
}

// FromSession converts a finished session to its catalog row.
func FromSession(info pipeline.SessionInfo, result *pipeline.Result) *models.Recording {
	rec := &models.Recording{
		SessionID: info.Handle.String(),
		Label:     info.Label,
		Schedule:  info.Schedule,
		Path:      info.Path,
		Container: info.Container,
		Encoder:   info.Encoder,
		Width:     info.Options.Width,
		Height:    info.Options.Height,
		FrameRate: info.Options.FrameRate,
		Bitrate:   info.Options.EncoderConfig().WithDefaults().Bitrate,
		StartedAt: info.StartedAt,
	}
	if fi, err := os.Stat(info.Path); err == nil {
		rec.FileSize = fi.Size()
	}
	if result == nil {
		return rec
	}

	rec.State = models.RecordingStateStopped
	if result.State == pipeline.StateFailed {
		rec.State = models.RecordingStateFailed
	}
	rec.StopReason = string(result.StopReason)
	rec.Error = result.Error
	rec.ReleaseError = result.ReleaseError
	rec.FramesOffered = int64(result.FramesOffered)
	rec.FramesDropped = int64(result.FramesDropped)
	rec.FramesSubmitted = int64(result.FramesSubmitted)
	rec.SamplesWritten = int64(result.SamplesWritten)
	rec.KeyFrames = int64(result.KeyFrames)
	rec.BytesWritten = int64(result.BytesWritten)
	rec.MediaDurationMs = result.MediaDuration.Milliseconds()
	rec.StoppedAt = result.StoppedAt
	if result.Track != nil {
		rec.Codec = result.Track.Codec
		rec.Width = result.Track.Width
		rec.Height = result.Track.Height
	}
	return rec
}
