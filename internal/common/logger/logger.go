// Package logger wraps zap with the fields OpenBotGate components share.
package logger

import (
	"os"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LoggingConfig selects level, encoding and destination.
type LoggingConfig struct {
	Level      string // debug, info, warn, error
	Format     string // json, text or console
	OutputPath string // stdout, stderr or a file path
	MaxSizeMB  int    // file outputs rotate past this size
	MaxBackups int
	MaxAgeDays int
}

// Logger is a structured logger. Derived loggers share the parent's sink.
type Logger struct {
	z *zap.Logger
}

var defaultLogger atomic.Pointer[Logger]

// Default returns the process logger, creating an info-level stderr logger
// if SetDefault was never called.
func Default() *Logger {
	if l := defaultLogger.Load(); l != nil {
		return l
	}
	l, err := NewLogger(LoggingConfig{Level: "info", Format: detectLogFormat(), OutputPath: "stderr"})
	if err != nil {
		l = NewNop()
	}
	defaultLogger.CompareAndSwap(nil, l)
	return defaultLogger.Load()
}

// SetDefault replaces the process logger.
func SetDefault(l *Logger) {
	defaultLogger.Store(l)
}

// NewLogger builds a logger from cfg. An unknown level falls back to info.
// A file path that cannot be opened is an error.
func NewLogger(cfg LoggingConfig) (*Logger, error) {
	sink, err := openSink(cfg)
	if err != nil {
		return nil, err
	}
	core := zapcore.NewCore(newEncoder(cfg.Format), sink, parseLevel(cfg.Level))
	z := zap.New(core,
		zap.AddCaller(),
		zap.AddCallerSkip(1),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	return &Logger{z: z}, nil
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{z: zap.NewNop()}
}

func newEncoder(format string) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "timestamp"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeLevel = zapcore.LowercaseLevelEncoder

	switch strings.ToLower(format) {
	case "text", "console":
		ec.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(ec)
	default:
		return zapcore.NewJSONEncoder(ec)
	}
}

func openSink(cfg LoggingConfig) (zapcore.WriteSyncer, error) {
	switch cfg.OutputPath {
	case "", "stdout":
		return zapcore.Lock(os.Stdout), nil
	case "stderr":
		return zapcore.Lock(os.Stderr), nil
	}
	// lumberjack opens lazily; probe now so a bad path fails at startup.
	f, err := os.OpenFile(cfg.OutputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	_ = f.Close()
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.OutputPath,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}), nil
}

func parseLevel(level string) zapcore.Level {
	l, err := zapcore.ParseLevel(level)
	if err != nil {
		return zapcore.InfoLevel
	}
	return l
}

// detectLogFormat picks json under Kubernetes or OPENBOTGATE_ENV=production.
func detectLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	switch os.Getenv("OPENBOTGATE_ENV") {
	case "production", "prod":
		return "json"
	}
	return "text"
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error { return l.z.Sync() }

// Zap exposes the underlying zap logger.
func (l *Logger) Zap() *zap.Logger { return l.z }

// WithFields returns a child logger carrying fields.
func (l *Logger) WithFields(fields ...zap.Field) *Logger {
	return &Logger{z: l.z.With(fields...)}
}

func (l *Logger) WithTaskID(taskID string) *Logger {
	return l.WithFields(zap.String("task_id", taskID))
}

func (l *Logger) WithUserID(userID string) *Logger {
	return l.WithFields(zap.String("user_id", userID))
}

func (l *Logger) WithTool(tool string) *Logger {
	return l.WithFields(zap.String("tool", tool))
}

func (l *Logger) Debug(msg string, fields ...zap.Field) { l.z.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.z.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.z.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.z.Error(msg, fields...) }

// Fatal logs and exits the process.
func (l *Logger) Fatal(msg string, fields ...zap.Field) { l.z.Fatal(msg, fields...) }
