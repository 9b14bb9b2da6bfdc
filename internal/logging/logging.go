// Package logging configures the zerolog logger shared by the binaries.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New returns a console logger. The level comes from LOG_LEVEL (default
// info); verbose forces debug.
func New(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if s := os.Getenv("LOG_LEVEL"); s != "" {
		if parsed, err := zerolog.ParseLevel(s); err == nil {
			level = parsed
		}
	}
	if verbose {
		level = zerolog.DebugLevel
	}

	zerolog.TimeFieldFormat = time.RFC3339

	out := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}
