package telemetry

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	LogFormatJSON    = "json"
	LogFormatConsole = "console"
)

// NewLogger builds the process logger. Unknown levels fall back to info.
func NewLogger(level, format, component string, w io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	if strings.EqualFold(strings.TrimSpace(format), LogFormatConsole) {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	return zerolog.New(w).
		Level(lvl).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

// AsynqLogger adapts a zerolog logger to asynq's Logger interface.
type AsynqLogger struct {
	logger zerolog.Logger
}

func NewAsynqLogger(logger zerolog.Logger) *AsynqLogger {
	return &AsynqLogger{logger: logger.With().Str("subsystem", "asynq").Logger()}
}

func (l *AsynqLogger) Debug(args ...interface{}) { l.logger.Debug().Msg(fmt.Sprint(args...)) }
func (l *AsynqLogger) Info(args ...interface{})  { l.logger.Info().Msg(fmt.Sprint(args...)) }
func (l *AsynqLogger) Warn(args ...interface{})  { l.logger.Warn().Msg(fmt.Sprint(args...)) }
func (l *AsynqLogger) Error(args ...interface{}) { l.logger.Error().Msg(fmt.Sprint(args...)) }
func (l *AsynqLogger) Fatal(args ...interface{}) { l.logger.Fatal().Msg(fmt.Sprint(args...)) }
