// Package logger configures structured logging for the validator.
//
// Records are written with log/slog, as JSON by default. Every record
// carries the module name and version; debug records also carry their source
// location.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Format selects the slog handler.
type Format string

// Output formats.
const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Options configures a logger.
type Options struct {
	// Module and Version are attached to every record
	Module  string
	Version string

	// Level is a level name accepted by ParseLevel; empty means info
	Level string

	// Format is json or text; empty means json
	Format Format

	// Output defaults to stderr
	Output io.Writer
}

var (
	mu    sync.Mutex
	level = new(slog.LevelVar)
)

// ParseLevel converts a level name to a slog.Level. Names are
// case-insensitive; "warning" is accepted for warn.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// ParseFormat converts a format name to a Format.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatText:
		return FormatText, nil
	default:
		return "", fmt.Errorf("unknown log format %q", s)
	}
}

// New creates a logger. Unknown level or format names fall back to the
// defaults.
func New(opts Options) *slog.Logger {
	lvl, _ := ParseLevel(opts.Level)
	v := new(slog.LevelVar)
	v.Set(lvl)
	return newLogger(opts, v)
}

func newLogger(opts Options, lvl slog.Leveler) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	hopts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl.Level() <= slog.LevelDebug,
	}

	var h slog.Handler
	if f, _ := ParseFormat(string(opts.Format)); f == FormatText {
		h = slog.NewTextHandler(out, hopts)
	} else {
		h = slog.NewJSONHandler(out, hopts)
	}

	l := slog.New(h)
	if opts.Module != "" {
		l = l.With("module", opts.Module)
	}
	if opts.Version != "" {
		l = l.With("version", opts.Version)
	}
	return l
}

// SetDefault installs a logger built from opts as the slog default. The
// level of the default logger can be changed afterwards with SetLevel.
func SetDefault(opts Options) *slog.Logger {
	mu.Lock()
	defer mu.Unlock()

	lvl, _ := ParseLevel(opts.Level)
	level.Set(lvl)

	l := newLogger(opts, level)
	slog.SetDefault(l)
	return l
}

// SetLevel changes the level of the default logger.
func SetLevel(l slog.Level) {
	level.Set(l)
}

// Disable discards everything logged through the slog default.
func Disable() {
	mu.Lock()
	defer mu.Unlock()
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
}
