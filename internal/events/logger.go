// Package events holds the structured logger shared by every component
// and the context plumbing that carries it through a batch run.
package events

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"

	"github.com/TheMichaelB/dvcsync/internal/config"
)

// LogLevel is a slog level.
type LogLevel = slog.Level

const (
	DebugLevel LogLevel = slog.LevelDebug
	InfoLevel  LogLevel = slog.LevelInfo
	WarnLevel  LogLevel = slog.LevelWarn
	ErrorLevel LogLevel = slog.LevelError
)

// Logger is an immutable slog logger that remembers its attached fields.
type Logger struct {
	sl     *slog.Logger
	fields map[string]interface{}
}

// NewLogger builds the process logger from the log section of the config.
// Output goes to stderr unless a file is configured.
func NewLogger(cfg *config.LogConfig) (*Logger, error) {
	out := io.Writer(os.Stderr)
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = f
	}
	return newLogger(ParseLevel(cfg.Level), cfg.Format, out), nil
}

// NewTestLogger writes to w at the given level.
func NewTestLogger(level LogLevel, format string, w io.Writer) *Logger {
	return newLogger(level, format, w)
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return &Logger{sl: slog.New(slog.DiscardHandler)}
}

// ParseLevel maps a config level name to a LogLevel. Unknown names mean info.
func ParseLevel(name string) LogLevel {
	switch strings.ToLower(name) {
	case "debug":
		return DebugLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	}
	return InfoLevel
}

func newLogger(level LogLevel, format string, w io.Writer) *Logger {
	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: lowerLevel,
		})
	} else {
		h = tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
			NoColor:    !colorable(w),
		})
	}
	return &Logger{sl: slog.New(h)}
}

func lowerLevel(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.LevelKey {
		a.Value = slog.StringValue(strings.ToLower(a.Value.String()))
	}
	return a
}

func colorable(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// WithField returns a child logger with key set.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

// WithFields returns a child logger with every entry of fields set.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	maps.Copy(merged, l.fields)

	attrs := make([]any, 0, len(fields))
	for k, v := range fields {
		merged[k] = v
		attrs = append(attrs, slog.Any(k, v))
	}
	return &Logger{sl: l.sl.With(attrs...), fields: merged}
}

// WithError returns a child logger with an error field. A nil error is a no-op.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithField("error", err.Error())
}

// Fields returns a copy of the attached fields.
func (l *Logger) Fields() map[string]interface{} {
	return maps.Clone(l.fields)
}

// Enabled reports whether messages at level are written.
func (l *Logger) Enabled(level LogLevel) bool {
	return l.sl.Enabled(context.Background(), level)
}

func (l *Logger) Debug(msg string) { l.sl.Log(context.Background(), DebugLevel, msg) }
func (l *Logger) Info(msg string) { l.sl.Log(context.Background(), InfoLevel, msg) }
func (l *Logger) Warn(msg string) { l.sl.Log(context.Background(), WarnLevel, msg) }
func (l *Logger) Error(msg string) { l.sl.Log(context.Background(), ErrorLevel, msg) }
