package logging

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// ZerologLogger backs the Logger interface with rs/zerolog for structured
// JSON output in production deployments.
type ZerologLogger struct {
	logger zerolog.Logger
}

// NewZerologLogger constructs a zerolog-backed logger with sane defaults.
// In development mode output goes through the console writer instead of JSON.
func NewZerologLogger(appEnv string) *ZerologLogger {
	level := zerolog.InfoLevel
	if appEnv == "development" {
		level = zerolog.DebugLevel
	}

	logger := zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Logger()

	if appEnv == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	return &ZerologLogger{logger: logger}
}

func (z *ZerologLogger) emit(ev *zerolog.Event, msg string, fields []Fields) {
	for _, f := range fields {
		ev = ev.Fields(map[string]any(f))
	}
	ev.Msg(msg)
}

func (z *ZerologLogger) Debug(msg string, fields ...Fields) {
	z.emit(z.logger.Debug(), msg, fields)
}

func (z *ZerologLogger) Info(msg string, fields ...Fields) {
	z.emit(z.logger.Info(), msg, fields)
}

func (z *ZerologLogger) Warn(msg string, fields ...Fields) {
	z.emit(z.logger.Warn(), msg, fields)
}

func (z *ZerologLogger) Error(err error, msg string, fields ...Fields) {
	z.emit(z.logger.Error().Err(err), msg, fields)
}

func (z *ZerologLogger) Fatal(err error, msg string, fields ...Fields) {
	z.emit(z.logger.Fatal().Err(err), msg, fields)
}

func (z *ZerologLogger) WithFields(fields Fields) Logger {
	return &ZerologLogger{logger: z.logger.With().Fields(map[string]any(fields)).Logger()}
}

func (z *ZerologLogger) WithContext(ctx context.Context) Logger {
	if ctxLogger := zerolog.Ctx(ctx); ctxLogger.GetLevel() != zerolog.Disabled {
		return &ZerologLogger{logger: *ctxLogger}
	}
	return z
}

func (z *ZerologLogger) SetLevel(level Level) {
	var zl zerolog.Level
	switch level {
	case DebugLevel:
		zl = zerolog.DebugLevel
	case InfoLevel:
		zl = zerolog.InfoLevel
	case WarnLevel:
		zl = zerolog.WarnLevel
	case ErrorLevel:
		zl = zerolog.ErrorLevel
	case FatalLevel:
		zl = zerolog.FatalLevel
	}
	z.logger = z.logger.Level(zl)
}
