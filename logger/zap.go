package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger adapts a *zap.Logger to the Logger interface.
type ZapLogger struct {
	sugar *zap.SugaredLogger
	level zap.AtomicLevel
}

var _ Logger = (*ZapLogger)(nil)

// NewZap wraps z. Records below level are dropped by the adapter before they reach z's core,
// so the level can be changed at runtime with SetLevel regardless of how z was built.
func NewZap(z *zap.Logger, level LogLevel) Logger {
	return &ZapLogger{
		sugar: z.WithOptions(zap.AddCallerSkip(1)).Sugar(),
		level: zap.NewAtomicLevelAt(toZapLevel(level)),
	}
}

func (l *ZapLogger) Debug(msg string, keysAndValues ...any) {
	if l.level.Enabled(zapcore.DebugLevel) {
		l.sugar.Debugw(msg, keysAndValues...)
	}
}

func (l *ZapLogger) Info(msg string, keysAndValues ...any) {
	if l.level.Enabled(zapcore.InfoLevel) {
		l.sugar.Infow(msg, keysAndValues...)
	}
}

func (l *ZapLogger) Warn(msg string, keysAndValues ...any) {
	if l.level.Enabled(zapcore.WarnLevel) {
		l.sugar.Warnw(msg, keysAndValues...)
	}
}

func (l *ZapLogger) Error(msg string, keysAndValues ...any) {
	if l.level.Enabled(zapcore.ErrorLevel) {
		l.sugar.Errorw(msg, keysAndValues...)
	}
}

// Fatal always exits, zap's Fatalw calls os.Exit(1) after writing.
func (l *ZapLogger) Fatal(msg string, keysAndValues ...any) {
	l.sugar.Fatalw(msg, keysAndValues...)
}

func (l *ZapLogger) With(keyValues ...any) Logger {
	return &ZapLogger{
		sugar: l.sugar.With(keyValues...),
		level: l.level,
	}
}

func (l *ZapLogger) Level() LogLevel {
	return fromZapLevel(l.level.Level())
}

func (l *ZapLogger) SetLevel(level LogLevel) {
	l.level.SetLevel(toZapLevel(level))
}

func toZapLevel(level LogLevel) zapcore.Level {
	switch level {
	case DebugLevel:
		return zapcore.DebugLevel
	case InfoLevel:
		return zapcore.InfoLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	case FatalLevel:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

func fromZapLevel(level zapcore.Level) LogLevel {
	switch level { //nolint:exhaustive
	case zapcore.DebugLevel:
		return DebugLevel
	case zapcore.InfoLevel:
		return InfoLevel
	case zapcore.WarnLevel:
		return WarnLevel
	case zapcore.ErrorLevel:
		return ErrorLevel
	default:
		return FatalLevel
	}
}
