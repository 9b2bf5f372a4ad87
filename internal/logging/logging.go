// Package logging builds the slog loggers used by the daemon and its tools.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

// Level represents the available logging levels
type Level string

const (
	LevelError Level = "error"
	LevelWarn  Level = "warn"
	LevelInfo  Level = "info"
	LevelDebug Level = "debug"
)

// ParseLevel converts a string to a Level
func ParseLevel(level string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "error":
		return LevelError, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "info":
		return LevelInfo, nil
	case "debug":
		return LevelDebug, nil
	default:
		return "", fmt.Errorf("invalid log level: %s (must be error, warn, info, or debug)", level)
	}
}

// Slog maps the level onto slog. Unknown levels fall back to info.
func (l Level) Slog() slog.Level {
	switch l {
	case LevelError:
		return slog.LevelError
	case LevelWarn:
		return slog.LevelWarn
	case LevelDebug:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// ValidFormat reports whether format names a supported handler.
func ValidFormat(format string) bool {
	return format == FormatText || format == FormatJSON
}

// Options configures New.
type Options struct {
	Level  Level
	Format string // "text" (default) or "json"

	// Writer is the primary destination. Nil means stdout.
	Writer io.Writer

	// File, when set, receives a copy of every record. It is opened for
	// appending and created if missing.
	File string
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New creates a logger according to opts. The returned closer releases the
// log file, if any, and must be called once the logger is no longer used.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	if opts.Format == "" {
		opts.Format = FormatText
	}
	if !ValidFormat(opts.Format) {
		return nil, nil, fmt.Errorf("invalid log format: %s (must be text or json)", opts.Format)
	}

	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}

	handlerOpts := &slog.HandlerOptions{Level: opts.Level.Slog()}
	handlers := []slog.Handler{newHandler(w, opts.Format, handlerOpts)}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		handlers = append(handlers, newHandler(f, opts.Format, handlerOpts))
		closer = f
	}

	if len(handlers) == 1 {
		return slog.New(handlers[0]), closer, nil
	}
	return slog.New(slogmulti.Fanout(handlers...)), closer, nil
}

func newHandler(w io.Writer, format string, opts *slog.HandlerOptions) slog.Handler {
	if format == FormatJSON {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}
