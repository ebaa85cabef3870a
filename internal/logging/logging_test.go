package logging

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_DefaultsToInfo(t *testing.T) {
	logger := New("bogus")
	assert.True(t, logger.Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, logger.Enabled(context.Background(), slog.LevelDebug))
}

func TestNew_Debug(t *testing.T) {
	logger := New("debug")
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))
}

func TestContextLogger_UsesFallbackWhenContextHasNone(t *testing.T) {
	fallback := New("INFO")
	got := ContextLogger(context.Background(), fallback)
	assert.Same(t, fallback, got)
}

func TestWithLogger_RoundTrips(t *testing.T) {
	logger := New("INFO")
	ctx := WithLogger(context.Background(), logger)
	got, ok := FromContext(ctx)
	assert.True(t, ok)
	assert.Same(t, logger, got)
}

func TestWithAttrs_NoopWithoutLogger(t *testing.T) {
	ctx := WithAttrs(context.Background(), slog.String("conversation_id", "abc"))
	_, ok := FromContext(ctx)
	assert.False(t, ok)
}
