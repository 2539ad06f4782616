package logging

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the application logging organism. It owns the zap logger that
// components receive and the atomic level that ASSET_EDITOR_LOG_LEVEL sets.
//
// It composes:
//   - FileWriter molecule (rotation via lumberjack)
//   - MultiCore molecule (console + file tee)
//   - redactingCore atom (sensitive value scrubbing on every entry)
//
// Example:
//
//	logger, err := NewLogger(Options{FilePath: "asset_editor.log"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	client := apiclient.New(cfg.BackendURL, apiclient.WithLogger(logger.Zap()))
type Logger struct {
	zap   *zap.Logger
	sugar *zap.SugaredLogger
	level zap.AtomicLevel

	isDevelopment bool
	logFilePath   string
}

// Options configures NewLogger. The zero value logs JSON at info level to
// stdout only.
type Options struct {
	// Development switches the console to colored human-readable output and
	// lowers the default level to debug.
	Development bool

	// Level overrides the default level when non-nil.
	Level *zapcore.Level

	// FilePath enables the rotating JSON log file. Empty disables it.
	FilePath string
	File     FileWriterConfig

	// Console defaults to os.Stdout.
	Console io.Writer
}

// NewLogger builds the logger described by opts.
func NewLogger(opts Options) (*Logger, error) {
	level := zapcore.InfoLevel
	if opts.Development {
		level = zapcore.DebugLevel
	}
	if opts.Level != nil {
		level = *opts.Level
	}
	atomic := zap.NewAtomicLevelAt(level)

	console := opts.Console
	if console == nil {
		console = os.Stdout
	}

	var file zapcore.WriteSyncer
	if opts.FilePath != "" {
		f, err := os.OpenFile(opts.FilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		f.Close()
		file = NewFileWriterWithConfig(opts.FilePath, opts.File)
	}

	core := newRedactingCore(NewMultiCore(atomic, zapcore.AddSync(console), file, opts.Development))
	zapLogger := zap.New(core, zap.AddCaller())

	return &Logger{
		zap:           zapLogger,
		sugar:         zapLogger.Sugar(),
		level:         atomic,
		isDevelopment: opts.Development,
		logFilePath:   opts.FilePath,
	}, nil
}

// Sync flushes buffered entries. Call before exit.
func (l *Logger) Sync() error {
	if l == nil || l.zap == nil {
		return nil
	}
	return l.zap.Sync()
}

func (l *Logger) Debug(msg string, fields ...zap.Field) { l.zap.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.zap.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.zap.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.zap.Error(msg, fields...) }

// Named returns a child logger whose entries carry name in the source field.
func (l *Logger) Named(name string) *Logger {
	child := l.zap.Named(name)
	return &Logger{
		zap:           child,
		sugar:         child.Sugar(),
		level:         l.level,
		isDevelopment: l.isDevelopment,
		logFilePath:   l.logFilePath,
	}
}

// SetLevel changes the level of this logger and every child.
func (l *Logger) SetLevel(level zapcore.Level) {
	l.level.SetLevel(level)
}

// Level returns the current minimum level.
func (l *Logger) Level() zapcore.Level {
	return l.level.Level()
}

// Zap returns the underlying logger. It still redacts.
func (l *Logger) Zap() *zap.Logger {
	return l.zap
}

// Sugar returns the underlying sugared logger.
func (l *Logger) Sugar() *zap.SugaredLogger {
	return l.sugar
}

func (l *Logger) IsDevelopment() bool { return l.isDevelopment }
func (l *Logger) LogFilePath() string { return l.logFilePath }

// OrNop returns logger, or a no-op logger when it is nil. Components use it
// for their optional logger arguments.
func OrNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
