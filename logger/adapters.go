package logger

import (
	"log/slog"

	"github.com/sirupsen/logrus"
)

// NewLogrusLogFunc returns a logging func backed by a logrus logger.
// Trace entries are logged at debug since logrus.FieldLogger predates
// the trace level.
func NewLogrusLogFunc(l logrus.FieldLogger) LogFunc {
	return func(payload LogPayload) {
		entry := l.WithFields(logrus.Fields(payload.Fields))
		if payload.Error != nil {
			entry = entry.WithError(payload.Error)
		}

		switch payload.Level {
		case TraceLevel, DebugLevel:
			entry.Debug(payload.Message)
		case InfoLevel:
			entry.Info(payload.Message)
		case WarnLevel:
			entry.Warn(payload.Message)
		case ErrorLevel:
			entry.Error(payload.Message)
		}
	}
}

// NewSlogLogFunc returns a logging func backed by a log/slog logger.
// Trace entries are logged at debug since slog has no trace level.
func NewSlogLogFunc(l *slog.Logger) LogFunc {
	return func(payload LogPayload) {
		args := make([]interface{}, 0, len(payload.Fields)*2+2)
		for k, v := range payload.Fields {
			args = append(args, slog.Any(k, v))
		}
		if payload.Error != nil {
			args = append(args, slog.Any("error", payload.Error))
		}

		switch payload.Level {
		case TraceLevel, DebugLevel:
			l.Debug(payload.Message, args...)
		case InfoLevel:
			l.Info(payload.Message, args...)
		case WarnLevel:
			l.Warn(payload.Message, args...)
		case ErrorLevel:
			l.Error(payload.Message, args...)
		}
	}
}
