package telemetry

import (
	"io"
	"log/slog"
	"strings"
)

var sensitiveKeys = []string{
	"token", "secret", "password", "authorization", "api_key", "apikey", "bearer",
	"account_number", "ssn",
}

// NewLogger builds the process logger. DEV gets a text handler, every other
// environment gets JSON. Sensitive attribute keys are redacted in both.
func NewLogger(w io.Writer, level, environment string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Key = "timestamp"
			}
			if shouldRedactKey(a.Key) {
				return slog.String(a.Key, "[REDACTED]")
			}
			if a.Value.Kind() == slog.KindString && strings.Contains(strings.ToLower(a.Value.String()), "bearer ") {
				return slog.String(a.Key, "[REDACTED]")
			}
			return a
		},
	}
	var handler slog.Handler
	if strings.EqualFold(environment, "DEV") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler).With("service", "transitionos")
}

func shouldRedactKey(key string) bool {
	lower := strings.ToLower(strings.TrimSpace(key))
	if lower == "" {
		return false
	}
	for _, token := range sensitiveKeys {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "critical":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
