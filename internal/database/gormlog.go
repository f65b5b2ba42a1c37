package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Query logging thresholds.
const (
	slowQuery    = 500 * time.Millisecond
	maxLoggedSQL = 200
)

// slogGorm is a GORM logger.Interface writing to slog. GORM's own levels
// gate what is emitted; statements are logged at debug.
type slogGorm struct {
	log   *slog.Logger
	level logger.LogLevel
}

var _ logger.Interface = (*slogGorm)(nil)

var gormLevels = map[string]logger.LogLevel{
	"silent": logger.Silent,
	"error":  logger.Error,
	"warn":   logger.Warn,
	"info":   logger.Info,
}

func newGormLogger(level string, log *slog.Logger) *slogGorm {
	lvl, ok := gormLevels[level]
	if !ok {
		lvl = logger.Warn
	}
	return &slogGorm{log: log.With(slog.String("component", "database")), level: lvl}
}

func (l *slogGorm) LogMode(level logger.LogLevel) logger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *slogGorm) emit(ctx context.Context, at logger.LogLevel, level slog.Level, msg string, args []any) {
	if l.level >= at {
		l.log.Log(ctx, level, fmt.Sprintf(msg, args...))
	}
}

func (l *slogGorm) Info(ctx context.Context, msg string, args ...any) {
	l.emit(ctx, logger.Info, slog.LevelInfo, msg, args)
}

func (l *slogGorm) Warn(ctx context.Context, msg string, args ...any) {
	l.emit(ctx, logger.Warn, slog.LevelWarn, msg, args)
}

func (l *slogGorm) Error(ctx context.Context, msg string, args ...any) {
	l.emit(ctx, logger.Error, slog.LevelError, msg, args)
}

// Trace logs failed statements at error, slow ones at warn and the rest at
// debug when GORM runs at info.
func (l *slogGorm) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)

	var (
		level slog.Level
		msg   string
	)
	switch {
	case l.level >= logger.Error && err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		level, msg = slog.LevelError, "query failed"
	case l.level >= logger.Warn && elapsed > slowQuery:
		level, msg = slog.LevelWarn, "slow query"
	case l.level >= logger.Info:
		level, msg = slog.LevelDebug, "query"
	default:
		return
	}
	if !l.log.Enabled(ctx, level) {
		return
	}

	sql, rows := fc()
	if len(sql) > maxLoggedSQL {
		sql = sql[:maxLoggedSQL] + "..."
	}
	attrs := []slog.Attr{
		slog.String("sql", sql),
		slog.Int64("rows", rows),
		slog.Duration("elapsed", elapsed),
	}
	if err != nil && level == slog.LevelError {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	l.log.LogAttrs(ctx, level, msg, attrs...)
}
