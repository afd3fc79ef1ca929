// Package logging configures structured logging for Lodestone.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Handler formats.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// Config contains logging configuration.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string
	// Format selects the handler encoding: "json" (default) or "text".
	Format string
	// Output overrides the destination. Defaults to stderr so structured
	// output on stdout stays clean.
	Output io.Writer
}

// Setup builds the process logger.
func Setup(cfg Config) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, FormatText) {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	return slog.New(handler)
}

// SetupDefault configures the process logger and installs it as the slog
// default.
func SetupDefault(cfg Config) *slog.Logger {
	logger := Setup(cfg)
	slog.SetDefault(logger)
	return logger
}

// parseLevel converts string level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
