package utils

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// NewLogger builds the process logger. Debug turns on debug level and
// source locations.
func NewLogger(w io.Writer, debug bool) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		AddSource:  debug,
		TimeFormat: time.DateTime,
	}))
}

// SetupLogger installs NewLogger as the slog default and returns it.
func SetupLogger(debug bool) *slog.Logger {
	logger := NewLogger(os.Stderr, debug)
	slog.SetDefault(logger)
	return logger
}
