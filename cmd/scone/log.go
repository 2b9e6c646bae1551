package main

import (
	"log/slog"
	"os"
)

// newLogger builds the process-wide slog.Logger, text-handler like the
// rest of this repo's packages default to, at the level named by
// levelName ("debug", "info", "warn", or "error"; unrecognised names fall
// back to info).
func newLogger(levelName string) *slog.Logger {
	var level slog.Level
	switch levelName {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}
