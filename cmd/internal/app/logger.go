package app

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger is the app-wide logger type (slog).
type Logger = *slog.Logger

// NewLogger creates the process logger on stdout and installs it as the slog default.
// format "pretty" selects the colored dev handler; anything else is JSON.
func NewLogger(level, format string) *slog.Logger {
	color := os.Getenv("NO_COLOR") == "" && os.Getenv("TERM") != "dumb"
	log := newLogger(os.Stdout, level, format, color)
	slog.SetDefault(log)
	return log
}

func newLogger(w io.Writer, level, format string, color bool) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLogLevel(level),
		AddSource:   true,
		ReplaceAttr: redactSecrets,
	}

	if strings.EqualFold(strings.TrimSpace(format), "pretty") {
		return slog.New(newPrettyHandler(w, opts, color))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// secretKeys are attributes that carry bearer capabilities.
var secretKeys = map[string]bool{
	"token_id":   true,
	"session_id": true,
	"qr_payload": true,
	"caller_key": true,
}

// redactSecrets keeps a short prefix of capability values so log lines stay correlatable.
func redactSecrets(_ []string, a slog.Attr) slog.Attr {
	if !secretKeys[a.Key] || a.Value.Kind() != slog.KindString {
		return a
	}
	v := a.Value.String()
	if len(v) <= 6 {
		return slog.String(a.Key, "***")
	}
	return slog.String(a.Key, v[:6]+"***")
}
