// Package log configures the process-wide structured logger.
package log

import (
	"log/slog"
	"os"
)

// Setup installs the default logger. Levels follow the usual four names;
// anything unrecognized falls back to info. LOG_FORMAT=json switches to the
// JSON handler for log shippers, the text handler stays the default for
// terminals.
func Setup(logLevel string) {
	var level slog.Level

	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if os.Getenv("LOG_FORMAT") == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}

// WithModule tags a logger for one of the flowline modules (engine, executor,
// approval, monitor). Every log line carries the module it came from.
func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}
