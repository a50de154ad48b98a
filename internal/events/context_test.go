package events_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/TheMichaelB/dvcsync/internal/events"
)

func TestFromContextFallsBackToDefault(t *testing.T) {
	var buf bytes.Buffer
	logger := events.NewTestLogger(events.InfoLevel, "json", &buf)
	events.SetDefault(logger)
	t.Cleanup(func() { events.SetDefault(events.Discard()) })

	assert.Same(t, logger, events.FromContext(context.Background()))

	events.SetDefault(nil)
	assert.Same(t, logger, events.FromContext(context.Background()), "nil is ignored")
}

func TestWithLogger(t *testing.T) {
	logger := events.Discard()

	ctx := events.WithLogger(context.Background(), logger)
	assert.Same(t, logger, events.FromContext(ctx))
}

func TestWithRunID(t *testing.T) {
	var buf bytes.Buffer
	ctx := events.WithLogger(context.Background(), events.NewTestLogger(events.InfoLevel, "json", &buf))

	ctx = events.WithRunID(ctx, "run-123")
	assert.Equal(t, "run-123", events.RunID(ctx))

	events.FromContext(ctx).Info("tagged")
	assert.Contains(t, buf.String(), `"run_id":"run-123"`)

	assert.Empty(t, events.RunID(context.Background()))
}

func TestAnnotate(t *testing.T) {
	var buf bytes.Buffer
	logger := events.NewTestLogger(events.InfoLevel, "json", &buf)

	events.Annotate(context.Background(), logger).Info("plain")
	assert.NotContains(t, buf.String(), "run_id")

	buf.Reset()
	ctx := events.WithRunID(context.Background(), "abc")
	events.Annotate(ctx, logger).Info("tagged")
	assert.Contains(t, buf.String(), `"run_id":"abc"`)
}
