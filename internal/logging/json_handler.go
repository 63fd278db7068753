package logging

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
)

// AppName is attached to every JSON log entry so shipped logs can be told
// apart from other services on the host.
const AppName = "animdb"

// newJSONHandler emits one object per line with short keys: ts, level, msg,
// src and app. Empty string attributes are dropped.
func newJSONHandler(w io.Writer, level slog.Leveler, addSource bool) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:       level,
		AddSource:   addSource,
		ReplaceAttr: shortenJSONKeys,
	}
	return slog.NewJSONHandler(w, opts).WithAttrs([]slog.Attr{slog.String("app", AppName)})
}

func shortenJSONKeys(groups []string, attr slog.Attr) slog.Attr {
	if len(groups) > 0 {
		return attr
	}
	switch attr.Key {
	case slog.TimeKey:
		return slog.String("ts", attr.Value.Time().UTC().Format(time.RFC3339Nano))
	case slog.LevelKey:
		return slog.String("level", strings.ToLower(attr.Value.String()))
	case slog.SourceKey:
		if src, ok := attr.Value.Any().(*slog.Source); ok && src != nil {
			return slog.String("src", fmt.Sprintf("%s:%d", filepath.Base(src.File), src.Line))
		}
	}
	if attr.Value.Kind() == slog.KindString && attr.Value.String() == "" && attr.Key != slog.MessageKey {
		return slog.Attr{}
	}
	return attr
}
