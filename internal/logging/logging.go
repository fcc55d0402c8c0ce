// Package logging builds the zerolog logger shared by every component.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Output formats.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Options configures New.
type Options struct {
	// Level is one of trace, debug, info, warn, error. Empty means info.
	Level string

	// File, when set, receives JSON logs rotated by size instead of Output.
	File string

	// Format is FormatConsole or FormatJSON. Console output is only colored
	// when Output is a terminal.
	Format string

	// Output defaults to stderr.
	Output io.Writer
}

// New returns a logger and a closer that releases the log file, if any.
func New(opts Options) (zerolog.Logger, func(), error) {
	closer := func() {}

	if opts.Level == "" {
		opts.Level = "info"
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil {
		return zerolog.Logger{}, closer, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
	}

	var writer io.Writer
	switch {
	case opts.File != "":
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return zerolog.Logger{}, closer, fmt.Errorf("create logs dir: %w", err)
		}
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		}
		closer = func() { _ = rotator.Close() }
		writer = rotator

	default:
		out := opts.Output
		if out == nil {
			out = os.Stderr
		}
		switch strings.ToLower(opts.Format) {
		case "", FormatConsole:
			writer = zerolog.ConsoleWriter{
				Out:        out,
				NoColor:    !IsTerminal(out),
				TimeFormat: time.DateTime,
			}
		case FormatJSON:
			writer = out
		default:
			return zerolog.Logger{}, closer, fmt.Errorf("invalid log format %q (want %q or %q)", opts.Format, FormatConsole, FormatJSON)
		}
	}

	l := zerolog.New(writer).
		With().
		Timestamp().
		Logger().
		Level(lvl)

	return l, closer, nil
}

// Component returns a child logger tagged with the component name.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("cmp", name).Logger()
}

// IsTerminal reports whether w is an *os.File attached to a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
