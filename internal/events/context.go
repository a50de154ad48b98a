package events

import (
	"context"
	"os"
	"sync/atomic"
)

type ctxKey struct{ name string }

var (
	loggerCtxKey = ctxKey{"logger"}
	runIDCtxKey  = ctxKey{"run_id"}
)

var fallback atomic.Pointer[Logger]

func init() {
	fallback.Store(newLogger(InfoLevel, "text", os.Stderr))
}

// SetDefault replaces the logger returned for contexts without one.
func SetDefault(logger *Logger) {
	if logger != nil {
		fallback.Store(logger)
	}
}

// WithLogger returns a copy of ctx carrying logger.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey, logger)
}

// FromContext returns the logger carried by ctx, or the default one.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey).(*Logger); ok && l != nil {
		return l
	}
	return fallback.Load()
}

// WithRunID marks ctx as belonging to one batch run. The carried logger
// picks up a run_id field.
func WithRunID(ctx context.Context, id string) context.Context {
	ctx = context.WithValue(ctx, runIDCtxKey, id)
	return WithLogger(ctx, FromContext(ctx).WithField("run_id", id))
}

// RunID returns the batch run id of ctx or "".
func RunID(ctx context.Context) string {
	id, _ := ctx.Value(runIDCtxKey).(string)
	return id
}

// Annotate tags logger with the run id of ctx, if there is one.
func Annotate(ctx context.Context, logger *Logger) *Logger {
	if id := RunID(ctx); id != "" {
		return logger.WithField("run_id", id)
	}
	return logger
}
