// Package logging wires up structured JSON logging and threads a
// *slog.Logger through request-scoped context.Context values.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// New returns a JSON slog.Logger configured with the given level.
// Unrecognized levels fall back to INFO.
func New(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler)
}
