package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/lmittmann/tint"
)

// Logger is the process-wide structured logger. It discards output until
// SetupLogger is called so library packages can log unconditionally.
var Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

const (
	FilePermission = 0644
	TimeFormat     = "2006-01-02 15:04:05"
)

func SetupLogger(w io.Writer, verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	setup(w, level)
}

// SetupLoggerWithLevel accepts "debug", "info", "warn" or "error".
// Unknown values fall back to info.
func SetupLoggerWithLevel(w io.Writer, level string) {
	setup(w, ParseLevel(level))
}

func ParseLevel(level string) slog.Level {
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

func setup(w io.Writer, level slog.Level) {
	Logger = slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: TimeFormat,
	}))
}

// SetupLogWriter returns stdout when logPath is empty, otherwise a writer
// that tees to stdout and the file. The caller closes the returned file.
func SetupLogWriter(logPath string) (io.Writer, *os.File, error) {
	if logPath == "" {
		return os.Stdout, nil, nil
	}

	if dir := filepath.Dir(logPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, FilePermission)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return io.MultiWriter(os.Stdout, f), f, nil
}
