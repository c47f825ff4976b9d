// Package logger configures log/slog for the ratelimiter service from its
// LoggingConfig: JSON or text records, a minimum level, and stdout, stderr
// or an append-only file as destination.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"ratelimiter/internal/models"
	"ratelimiter/internal/version"
)

// Setup builds a logger from cfg with the build fields of ver attached to
// every record. The returned Closer is non-nil only for file output and must
// be closed by the caller.
func Setup(cfg models.LoggingConfig, ver version.Info) (*slog.Logger, io.Closer, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level: %w", err)
	}

	writer, closer, err := openWriter(cfg.Output, cfg.FilePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log output: %w", err)
	}

	logger := slog.New(newHandler(writer, cfg.Format, level)).With(ver.LogAttrs()...)
	return logger, closer, nil
}

// newHandler picks the record format. Debug level also records the call site.
func newHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level <= slog.LevelDebug,
	}
	if strings.EqualFold(format, "text") {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// parseLevel accepts the slog level names in any case, optionally with an
// offset such as "info+2".
func parseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("unsupported log level: %q", level)
	}
	return l, nil
}

// openWriter returns the destination for log records. Only file output
// returns a Closer.
func openWriter(output, filePath string) (io.Writer, io.Closer, error) {
	switch strings.ToLower(output) {
	case "stderr":
		return os.Stderr, nil, nil
	case "file":
		if filePath == "" {
			return nil, nil, fmt.Errorf("file path is required when output is file")
		}
		f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", filePath, err)
		}
		return f, f, nil
	default:
		return os.Stdout, nil, nil
	}
}
