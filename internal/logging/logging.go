package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

const serviceName = "gpuwatch"

// New returns the daemon logger writing to stderr. The level is applied
// process-wide through SetLevel so it can change after a config reload; the
// output format is fixed at construction.
func New(level string, pretty bool) zerolog.Logger {
	return NewWithWriter(os.Stderr, level, pretty)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, level string, pretty bool) zerolog.Logger {
	SetLevel(level)

	out := w
	if pretty {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).
		With().
		Timestamp().
		Str("service", serviceName).
		Logger()
}

// SetLevel sets the global log level and returns the level applied. Unknown
// levels fall back to info.
func SetLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	return lvl
}

// WithComponent returns a child logger tagged with a component field.
func WithComponent(l zerolog.Logger, component string) zerolog.Logger {
	return l.With().Str("component", component).Logger()
}
