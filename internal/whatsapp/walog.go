package whatsapp

import (
	"strings"

	waLog "go.mau.fi/whatsmeow/util/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type zapLogger struct {
	sugar *zap.SugaredLogger
	level zapcore.Level
}

// NewLogger returns a whatsmeow logger writing to the global zap logger.
// Records below level (DEBUG, INFO, WARN, ERROR) are dropped.
func NewLogger(module, level string) waLog.Logger {
	lvl := zapcore.WarnLevel
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		lvl = zapcore.WarnLevel
	}
	return &zapLogger{sugar: zap.S().Named(module), level: lvl}
}

func (l *zapLogger) Debugf(msg string, args ...interface{}) {
	if l.level <= zapcore.DebugLevel {
		l.sugar.Debugf(msg, args...)
	}
}

func (l *zapLogger) Infof(msg string, args ...interface{}) {
	if l.level <= zapcore.InfoLevel {
		l.sugar.Infof(msg, args...)
	}
}

func (l *zapLogger) Warnf(msg string, args ...interface{}) {
	if l.level <= zapcore.WarnLevel {
		l.sugar.Warnf(msg, args...)
	}
}

func (l *zapLogger) Errorf(msg string, args ...interface{}) {
	l.sugar.Errorf(msg, args...)
}

func (l *zapLogger) Sub(module string) waLog.Logger {
	return &zapLogger{sugar: l.sugar.Named(module), level: l.level}
}
