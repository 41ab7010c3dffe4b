// Package log configures the process-wide zerolog.Logger used by every
// worker, and is a thin convenience layer so call sites don't each import
// zerolog directly.
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// base is the process-wide logger. It is replaced wholesale by SetJSON and
// SetOutput rather than mutated field-by-field, since zerolog.Logger is
// itself an immutable value safe to copy and share across goroutines.
var base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
	With().Timestamp().Logger()

// SetDebug raises or lowers the global logging level.
func SetDebug(to bool) {
	if to {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// SetJSON switches the logger from the development console writer to plain
// JSON, the format expected by most log aggregators in production.
func SetJSON() {
	base = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// SetOutput redirects the logger, primarily for tests.
func SetOutput(w io.Writer) {
	base = base.Output(w)
}

// With returns a child logger with component/worker-identity fields
// attached once, so hot-path call sites never build a fields map per line.
func With(component string) zerolog.Logger {
	return base.With().Str("component", component).Logger()
}

// Base returns the root logger.
func Base() *zerolog.Logger { return &base }
