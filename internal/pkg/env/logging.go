package env

import (
	"io"
	"log/slog"
	"strings"
)

// ParseLogLevel reads LOG_LEVEL using slog's own level syntax, so "debug",
// "WARN" and offsets such as "info+2" all work. Anything else yields fallback.
func ParseLogLevel(fallback slog.Level) slog.Level {
	raw := strings.TrimSpace(Get("LOG_LEVEL", ""))
	if raw == "" {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return fallback
	}
	return level
}

// NewLogger builds the process logger writing to w. LOG_FORMAT=json selects
// JSON output for log shippers; text is the default.
func NewLogger(w io.Writer, fallback slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLogLevel(fallback)}
	if strings.EqualFold(Get("LOG_FORMAT", ""), "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
