// Package observability provides structured logging for camrec.
//
// Loggers are plain *slog.Logger values. The helpers here attach the
// attributes every camrec log line is keyed on, so that one recording can
// be followed from the HTTP request through the pipeline to the catalog.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jmylchreest/camrec/internal/config"
)

// Attribute keys shared by every package.
const (
	KeyApp       = "app"
	KeyComponent = "component"
	KeySession   = "session_id"
	KeyRequestID = "request_id"
	KeyError     = "error"
	KeyOperation = "operation"
)

type ctxKey int

const (
	loggerCtxKey ctxKey = iota
	requestIDCtxKey
)

// NewLogger returns a logger on stderr. Stdout stays free for command
// output such as probe reports.
func NewLogger(cfg config.LoggingConfig) *slog.Logger {
	return NewLoggerWithWriter(cfg, os.Stderr)
}

// NewLoggerWithWriter returns a logger writing cfg.Format records to w.
func NewLoggerWithWriter(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       ParseLevel(cfg.Level),
		AddSource:   cfg.AddSource,
		ReplaceAttr: replaceAttr(cfg.TimeFormat),
	}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// replaceAttr formats the record time with timeFormat and renders
// durations as strings ("41.667ms") instead of nanosecond integers.
func replaceAttr(timeFormat string) func([]string, slog.Attr) slog.Attr {
	return func(groups []string, a slog.Attr) slog.Attr {
		if len(groups) == 0 && a.Key == slog.TimeKey && timeFormat != "" {
			if t, ok := a.Value.Any().(time.Time); ok {
				return slog.String(slog.TimeKey, t.Format(timeFormat))
			}
		}
		if a.Value.Kind() == slog.KindDuration {
			return slog.String(a.Key, a.Value.Duration().String())
		}
		return a
	}
}

// ParseLevel converts a level name to slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	var l slog.Level
	if strings.EqualFold(level, "warning") {
		return slog.LevelWarn
	}
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func with(logger *slog.Logger, key, value string) *slog.Logger {
	if value == "" {
		return logger
	}
	return logger.With(slog.String(key, value))
}

// WithApp tags records with the application name.
func WithApp(logger *slog.Logger, app string) *slog.Logger {
	return with(logger, KeyApp, app)
}

// WithComponent tags records with the emitting component.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return with(logger, KeyComponent, component)
}

// WithSession tags records with a recording session id.
func WithSession(logger *slog.Logger, sessionID string) *slog.Logger {
	return with(logger, KeySession, sessionID)
}

// WithRequestID tags records with an HTTP request id.
func WithRequestID(logger *slog.Logger, requestID string) *slog.Logger {
	return with(logger, KeyRequestID, requestID)
}

// WithError tags records with err. A nil err leaves logger unchanged.
func WithError(logger *slog.Logger, err error) *slog.Logger {
	if err == nil {
		return logger
	}
	return with(logger, KeyError, err.Error())
}

// ContextWithLogger stores logger in ctx.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey, logger)
}

// LoggerFromContext returns the logger stored in ctx, or slog.Default().
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerCtxKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// ContextWithRequestID stores an HTTP request id in ctx.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDCtxKey, requestID)
}

// RequestIDFromContext returns the request id stored in ctx, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDCtxKey).(string)
	return id
}

// SetDefault installs logger as the slog default.
func SetDefault(logger *slog.Logger) {
	slog.SetDefault(logger)
}

// TimedOperation logs at debug that operation started and returns the
// function that completes it: at info with the elapsed time, or at error
// when the passed error is non-nil.
//
//	done := observability.TimedOperation(ctx, logger, "prune")
//	n, err := prune()
//	done(err)
func TimedOperation(ctx context.Context, logger *slog.Logger, operation string) func(error) {
	start := time.Now()
	logger = logger.With(slog.String(KeyOperation, operation))
	logger.DebugContext(ctx, "operation started")

	return func(err error) {
		elapsed := slog.Duration("duration", time.Since(start))
		if err != nil {
			logger.ErrorContext(ctx, "operation failed", elapsed, slog.String(KeyError, err.Error()))
			return
		}
		logger.InfoContext(ctx, "operation completed", elapsed)
	}
}
