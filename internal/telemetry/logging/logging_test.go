package logging

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNoopDoesNotPanic(t *testing.T) {
	l := Noop()
	l.Info("hello", "k", "v")
	l.ErrorCtx(context.Background(), "boom")
}

func TestWithTraceIDAttachesAttr(t *testing.T) {
	l := New(slog.LevelDebug)
	ctx := WithTraceID(context.Background(), "trace-123")
	ctx = WithSpanID(ctx, "span-456")
	require.NotPanics(t, func() {
		l.InfoCtx(ctx, "handled request")
	})
}

func TestWithReturnsChildLogger(t *testing.T) {
	l := New(slog.LevelInfo)
	child := l.With("component", "ingest")
	require.NotNil(t, child)
}
