// Package logging builds the zerolog loggers used across the module.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LevelEnv is the environment variable that overrides the log level.
const LevelEnv = "WEAKREF_LOG_LEVEL"

// New creates a console logger writing to stderr, tagged with component.
func New(component string) zerolog.Logger {
	return NewWithWriter(os.Stderr, component, "")
}

// NewWithWriter creates a console logger writing to out. The level is taken
// from LevelEnv, then from level, and defaults to info.
func NewWithWriter(out io.Writer, component, level string) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
		NoColor:    out != os.Stderr && out != os.Stdout,
	}

	return zerolog.New(output).
		Level(ParseLevel(os.Getenv(LevelEnv), level)).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

// ParseLevel returns the first of candidates that names a level, or info.
func ParseLevel(candidates ...string) zerolog.Level {
	for _, c := range candidates {
		c = strings.TrimSpace(strings.ToLower(c))
		if c == "" {
			continue
		}

		if l, err := zerolog.ParseLevel(c); err == nil {
			return l
		}
	}

	return zerolog.InfoLevel
}
