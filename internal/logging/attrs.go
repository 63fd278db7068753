package logging

import (
	"context"
	"log/slog"
	"time"
)

type Attr = slog.Attr

func Any(key string, value any) Attr { return slog.Any(key, value) }

func Bool(key string, value bool) Attr { return slog.Bool(key, value) }

func Duration(key string, value time.Duration) Attr { return slog.Duration(key, value) }

func Int(key string, value int) Attr { return slog.Int(key, value) }

func String(key string, value string) Attr { return slog.String(key, value) }

// Error records err under the "error" key; nil is kept visible as "<nil>".
func Error(err error) Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.Any("error", err)
}

// NewNop returns a logger that drops everything.
func NewNop() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// NewComponentLogger tags every entry with the component name. A nil logger
// yields a no-op logger.
func NewComponentLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	return logger.With(String(FieldComponent, component))
}

// WarnWithContext logs a warning that always carries event_type, error_hint
// and impact, so an operator reading it learns the cause, the consequence
// and the next step. Missing fields get generic defaults.
func WarnWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	logGuided(logger, slog.LevelWarn, msg, eventType, attrs, map[string]string{
		FieldErrorHint: "check the stage status document and logs",
		FieldImpact:    "affected items stay where they are until the next run",
	})
}

// ErrorWithContext logs an error that always carries event_type and
// error_hint.
func ErrorWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	logGuided(logger, slog.LevelError, msg, eventType, attrs, map[string]string{
		FieldErrorHint: "check the stage status document and logs",
	})
}

func logGuided(logger *slog.Logger, level slog.Level, msg, eventType string, attrs []Attr, defaults map[string]string) {
	if logger == nil {
		return
	}
	present := make(map[string]bool, len(attrs))
	for _, a := range attrs {
		present[a.Key] = true
	}
	if !present[FieldEventType] {
		attrs = append(attrs, String(FieldEventType, eventType))
	}
	for _, key := range []string{FieldErrorHint, FieldImpact} {
		if value, ok := defaults[key]; ok && !present[key] {
			attrs = append(attrs, String(key, value))
		}
	}
	logger.LogAttrs(context.Background(), level, msg, attrs...)
}
