package main

import (
	"io"
	"os"
	"strings"
	"time"

	onboard "github.com/goliatone/go-onboard"
	"github.com/rs/zerolog"
)

// zlogger adapts zerolog to the printf style logger used by the onboard
// components.
type zlogger struct {
	log zerolog.Logger
}

var _ onboard.Logger = zlogger{}

func newLogger(level string, pretty bool, out io.Writer) zlogger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if out == nil {
		out = os.Stdout
	}
	if pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	return zlogger{
		log: zerolog.New(out).
			Level(parseLevel(level)).
			With().
			Timestamp().
			Str("app", "onboard").
			Logger(),
	}
}

// Named returns a child logger tagged with the component name.
func (l zlogger) Named(name string) zlogger {
	return zlogger{log: l.log.With().Str("component", name).Logger()}
}

func (l zlogger) Debug(format string, args ...any) { l.log.Debug().Msgf(format, args...) }
func (l zlogger) Info(format string, args ...any)  { l.log.Info().Msgf(format, args...) }
func (l zlogger) Warn(format string, args ...any)  { l.log.Warn().Msgf(format, args...) }
func (l zlogger) Error(format string, args ...any) { l.log.Error().Msgf(format, args...) }

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
