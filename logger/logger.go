// logger/logger.go
package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

// zapLevel maps a LogLevel onto the zap level it gates.
func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case DEBUG:
		return zapcore.DebugLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// ParseLevel converts "debug", "info", "warn" or "error" to a LogLevel.
// Unknown names fall back to INFO.
func ParseLevel(name string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// Options controls where and how log lines are written.
type Options struct {
	File    string   // optional log file, always JSON
	Console bool     // write to stdout
	JSON    bool     // JSON console output instead of colored text
	Level   LogLevel // minimum level
}

type Logger struct {
	sugar *zap.SugaredLogger
	level zap.AtomicLevel
	file  *os.File
}

var (
	defaultLogger *Logger
	once          sync.Once
	mu            sync.Mutex
)

// ensureInitialized creates a colored console logger at DEBUG if Setup was
// never called.
func ensureInitialized() {
	once.Do(func() {
		mu.Lock()
		defer mu.Unlock()
		if defaultLogger != nil {
			return
		}
		l, err := build(Options{Console: true, Level: DEBUG})
		if err != nil {
			// build only fails on file output, which is not requested here
			panic(err)
		}
		defaultLogger = l
	})
}

// Init initializes the logger with optional file and console output.
// If filename is empty, logs only to console.
// If console is false, logs only to file.
func Init(filename string, console bool) error {
	return Setup(Options{File: filename, Console: console, Level: DEBUG})
}

// Setup replaces the process logger.
func Setup(opts Options) error {
	if opts.File == "" && !opts.Console {
		return fmt.Errorf("no output destination specified")
	}

	l, err := build(opts)
	if err != nil {
		return err
	}

	once.Do(func() {})
	mu.Lock()
	defer mu.Unlock()
	if defaultLogger != nil {
		_ = defaultLogger.sugar.Sync()
		if defaultLogger.file != nil {
			defaultLogger.file.Close()
		}
	}
	defaultLogger = l
	return nil
}

func build(opts Options) (*Logger, error) {
	level := zap.NewAtomicLevelAt(opts.Level.zapLevel())
	var cores []zapcore.Core
	l := &Logger{level: level}

	if opts.Console {
		var enc zapcore.Encoder
		if opts.JSON {
			enc = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
		} else {
			cfg := zap.NewDevelopmentEncoderConfig()
			cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
			cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006/01/02 15:04:05")
			enc = zapcore.NewConsoleEncoder(cfg)
		}
		cores = append(cores, zapcore.NewCore(enc, zapcore.Lock(os.Stdout), level))
	}

	if opts.File != "" {
		file, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		l.file = file
		enc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(file), level))
	}

	base := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1))
	l.sugar = base.Sugar()
	return l, nil
}

// current returns the active logger under the package lock.
func current() *Logger {
	ensureInitialized()
	mu.Lock()
	defer mu.Unlock()
	return defaultLogger
}

// SetLevel sets the minimum log level (DEBUG, INFO, WARN, ERROR)
// Messages below this level will not be logged
func SetLevel(level LogLevel) {
	current().level.SetLevel(level.zapLevel())
}

// Named returns a structured logger for a subsystem, e.g. the scheduler.
func Named(name string) *zap.SugaredLogger {
	return current().sugar.WithOptions(zap.AddCallerSkip(-1)).Named(name)
}

// Close flushes buffered entries and closes the log file if one is open
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if defaultLogger == nil {
		return
	}
	_ = defaultLogger.sugar.Sync()
	if defaultLogger.file != nil {
		defaultLogger.file.Close()
		defaultLogger.file = nil
	}
}

// Debug logs a debug message
func Debug(v ...interface{}) { current().sugar.Debug(v...) }

// Debugf logs a formatted debug message
func Debugf(format string, v ...interface{}) { current().sugar.Debugf(format, v...) }

// Info logs an info message
func Info(v ...interface{}) { current().sugar.Info(v...) }

// Infof logs a formatted info message
func Infof(format string, v ...interface{}) { current().sugar.Infof(format, v...) }

// Warn logs a warning message
func Warn(v ...interface{}) { current().sugar.Warn(v...) }

// Warnf logs a formatted warning message
func Warnf(format string, v ...interface{}) { current().sugar.Warnf(format, v...) }

// Error logs an error message
func Error(v ...interface{}) { current().sugar.Error(v...) }

// Errorf logs a formatted error message
func Errorf(format string, v ...interface{}) { current().sugar.Errorf(format, v...) }

// Fatal logs an error message and exits the program
func Fatal(v ...interface{}) {
	current().sugar.Error(v...)
	Close()
	os.Exit(1)
}

// Fatalf logs a formatted error message and exits the program
func Fatalf(format string, v ...interface{}) {
	current().sugar.Errorf(format, v...)
	Close()
	os.Exit(1)
}
