// Package logging wraps log/slog with trace/span correlation so every log
// line emitted while handling a request or running a background job carries
// the same identifiers an operator would see in a metrics label or an admin
// report.
package logging

import (
	"context"
	"log/slog"
	"os"
)

type ctxKey int

const (
	traceIDKey ctxKey = iota
	spanIDKey
)

// WithTraceID returns a context carrying a correlation ID for subsequent
// logging calls. Callers that don't have a real distributed trace can pass
// a request ID or race ID here; it is opaque to this package.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey, id)
}

func WithSpanID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, spanIDKey, id)
}

func extractIDs(ctx context.Context) []any {
	var attrs []any
	if v, ok := ctx.Value(traceIDKey).(string); ok && v != "" {
		attrs = append(attrs, slog.String("trace_id", v))
	}
	if v, ok := ctx.Value(spanIDKey).(string); ok && v != "" {
		attrs = append(attrs, slog.String("span_id", v))
	}
	return attrs
}

// Logger is the logging surface every package in this module depends on
// rather than importing log/slog directly, so the correlation behavior and
// output format stay in one place.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	DebugCtx(ctx context.Context, msg string, args ...any)
	InfoCtx(ctx context.Context, msg string, args ...any)
	WarnCtx(ctx context.Context, msg string, args ...any)
	ErrorCtx(ctx context.Context, msg string, args ...any)

	With(args ...any) Logger
}

type slogLogger struct {
	l *slog.Logger
}

// New builds a JSON-handler logger writing to stderr at the given level.
// Raceboard runs as a single long-lived local process; structured JSON on
// stderr lets it slot into systemd/journald or a plain log file equally.
func New(level slog.Level) Logger {
	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return &slogLogger{l: slog.New(h)}
}

func NewWithHandler(h slog.Handler) Logger {
	return &slogLogger{l: slog.New(h)}
}

func (s *slogLogger) Debug(msg string, args ...any) { s.l.Debug(msg, args...) }
func (s *slogLogger) Info(msg string, args ...any)  { s.l.Info(msg, args...) }
func (s *slogLogger) Warn(msg string, args ...any)  { s.l.Warn(msg, args...) }
func (s *slogLogger) Error(msg string, args ...any) { s.l.Error(msg, args...) }

func (s *slogLogger) DebugCtx(ctx context.Context, msg string, args ...any) {
	s.l.Debug(msg, append(extractIDs(ctx), args...)...)
}
func (s *slogLogger) InfoCtx(ctx context.Context, msg string, args ...any) {
	s.l.Info(msg, append(extractIDs(ctx), args...)...)
}
func (s *slogLogger) WarnCtx(ctx context.Context, msg string, args ...any) {
	s.l.Warn(msg, append(extractIDs(ctx), args...)...)
}
func (s *slogLogger) ErrorCtx(ctx context.Context, msg string, args ...any) {
	s.l.Error(msg, append(extractIDs(ctx), args...)...)
}

func (s *slogLogger) With(args ...any) Logger {
	return &slogLogger{l: s.l.With(args...)}
}

// Noop discards everything; used in tests that don't assert on log output.
func Noop() Logger {
	return &slogLogger{l: slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))}
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
