package mlog

import (
	"go.uber.org/zap"
)

// ZapLogger is a zap-backed implementation of Logger.
type ZapLogger struct {
	Sugar *zap.SugaredLogger
}

// NewZapLogger builds a ZapLogger at the given level, writing structured
// JSON to stderr (zap's production config).
func NewZapLogger(level LogLevel) (*ZapLogger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = toZapLevel(level)

	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}

	return &ZapLogger{Sugar: logger.Sugar()}, nil
}

func toZapLevel(l LogLevel) zap.AtomicLevel {
	switch l {
	case DebugLevel:
		return zap.NewAtomicLevelAt(zap.DebugLevel)
	case WarnLevel:
		return zap.NewAtomicLevelAt(zap.WarnLevel)
	case ErrorLevel:
		return zap.NewAtomicLevelAt(zap.ErrorLevel)
	case FatalLevel:
		return zap.NewAtomicLevelAt(zap.FatalLevel)
	default:
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	}
}

// Info implements Logger.
func (l *ZapLogger) Info(args ...any) { l.Sugar.Info(args...) }

// Infof implements Logger.
func (l *ZapLogger) Infof(format string, args ...any) { l.Sugar.Infof(format, args...) }

// Infoln implements Logger.
func (l *ZapLogger) Infoln(args ...any) { l.Sugar.Info(args...) }

// Error implements Logger.
func (l *ZapLogger) Error(args ...any) { l.Sugar.Error(args...) }

// Errorf implements Logger.
func (l *ZapLogger) Errorf(format string, args ...any) { l.Sugar.Errorf(format, args...) }

// Errorln implements Logger.
func (l *ZapLogger) Errorln(args ...any) { l.Sugar.Error(args...) }

// Warn implements Logger.
func (l *ZapLogger) Warn(args ...any) { l.Sugar.Warn(args...) }

// Warnf implements Logger.
func (l *ZapLogger) Warnf(format string, args ...any) { l.Sugar.Warnf(format, args...) }

// Warnln implements Logger.
func (l *ZapLogger) Warnln(args ...any) { l.Sugar.Warn(args...) }

// Debug implements Logger.
func (l *ZapLogger) Debug(args ...any) { l.Sugar.Debug(args...) }

// Debugf implements Logger.
func (l *ZapLogger) Debugf(format string, args ...any) { l.Sugar.Debugf(format, args...) }

// Debugln implements Logger.
func (l *ZapLogger) Debugln(args ...any) { l.Sugar.Debug(args...) }

// Fatal implements Logger.
func (l *ZapLogger) Fatal(args ...any) { l.Sugar.Fatal(args...) }

// Fatalf implements Logger.
func (l *ZapLogger) Fatalf(format string, args ...any) { l.Sugar.Fatalf(format, args...) }

// Fatalln implements Logger.
func (l *ZapLogger) Fatalln(args ...any) { l.Sugar.Fatal(args...) }

// WithFields adds structured key/value pairs. It returns a new logger and
// leaves the receiver unchanged.
//
//nolint:ireturn
func (l *ZapLogger) WithFields(fields ...any) Logger {
	return &ZapLogger{Sugar: l.Sugar.With(fields...)}
}

// Sync flushes buffered log entries.
func (l *ZapLogger) Sync() error {
	return l.Sugar.Sync()
}
