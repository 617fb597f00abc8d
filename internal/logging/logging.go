// Package logging initializes the process-wide slog.Logger, the same
// level/format switch the teacher's globals.InitLogger uses.
package logging

import (
	"log/slog"
	"os"

	"github.com/nmslite/docwriter/internal/config"
)

// Init builds a slog.Logger from cfg, sets it as slog's default, and
// returns it for callers that want an explicit reference.
func Init(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
