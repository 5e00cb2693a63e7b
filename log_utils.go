package rawdl

import (
	"os"

	"github.com/rs/zerolog"
)

var logger = zerolog.Nop()

func EnableDebugMessages() {
	logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(zerolog.DebugLevel).
		With().Timestamp().Logger()
}

func DisableDebugMessages() {
	logger = zerolog.Nop()
}

// SetLogger replaces the package logger, e.g. with one the caller already
// configured.
func SetLogger(l zerolog.Logger) {
	logger = l
}

// Logger returns the package logger, shared with the manifest parsers.
func Logger() *zerolog.Logger {
	return &logger
}

// retryLogger feeds go-retryablehttp's messages into the package logger.
type retryLogger struct{}

func (retryLogger) Error(msg string, keysAndValues ...interface{}) {
	logger.Error().Fields(keysAndValues).Msg(msg)
}

func (retryLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Info().Fields(keysAndValues).Msg(msg)
}

func (retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	logger.Warn().Fields(keysAndValues).Msg(msg)
}
