package log

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

var (
	// L is the shared logger (use log.L.Info().Msg("hi"))
	L zerolog.Logger
)

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	L = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// SetLevel sets the global log level.
func SetLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}

// SetOutput redirects the shared logger, keeping its fields.
func SetOutput(w io.Writer) {
	L = L.Output(w)
}

// With returns a context builder for a child logger.
func With() zerolog.Context { return L.With() }

func Debug() *zerolog.Event { return L.Debug() }
func Info() *zerolog.Event { return L.Info() }
func Warn() *zerolog.Event { return L.Warn() }
func Error() *zerolog.Event { return L.Error() }
