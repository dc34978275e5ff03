// Package logging provides structured logging for the sync pipeline.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// Level represents the severity of a log message.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelFatal Level = "fatal"
)

// Format represents the output format for logs.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Logger writes leveled, structured log entries.
type Logger struct {
	level  Level
	format Format
	output io.Writer
	fields map[string]any
}

type entry struct {
	Timestamp string         `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// New creates a logger writing to stdout.
func New(level Level, format Format) *Logger {
	return &Logger{
		level:  level,
		format: format,
		output: os.Stdout,
		fields: make(map[string]any),
	}
}

// WithField returns a child logger with an extra field.
func (l *Logger) WithField(key string, value any) *Logger {
	return l.WithFields(map[string]any{key: value})
}

// WithFields returns a child logger carrying extra fields.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	child := &Logger{level: l.level, format: l.format, output: l.output, fields: make(map[string]any, len(l.fields)+len(fields))}
	for k, v := range l.fields {
		child.fields[k] = v
	}
	for k, v := range fields {
		child.fields[k] = v
	}
	return child
}

// WithError attaches an error field.
func (l *Logger) WithError(err error) *Logger {
	return l.WithField("error", err.Error())
}

// Debug logs at debug level.
func (l *Logger) Debug(message string) { l.log(LevelDebug, message) }

// Debugf logs a formatted message at debug level.
func (l *Logger) Debugf(format string, args ...any) { l.log(LevelDebug, fmt.Sprintf(format, args...)) }

// Info logs at info level.
func (l *Logger) Info(message string) { l.log(LevelInfo, message) }

// Infof logs a formatted message at info level.
func (l *Logger) Infof(format string, args ...any) { l.log(LevelInfo, fmt.Sprintf(format, args...)) }

// Warn logs at warn level.
func (l *Logger) Warn(message string) { l.log(LevelWarn, message) }

// Warnf logs a formatted message at warn level.
func (l *Logger) Warnf(format string, args ...any) { l.log(LevelWarn, fmt.Sprintf(format, args...)) }

// Error logs at error level.
func (l *Logger) Error(message string) { l.log(LevelError, message) }

// Errorf logs a formatted message at error level.
func (l *Logger) Errorf(format string, args ...any) { l.log(LevelError, fmt.Sprintf(format, args...)) }

// Fatal logs at fatal level and exits.
func (l *Logger) Fatal(message string) {
	l.log(LevelFatal, message)
	os.Exit(1)
}

// Fatalf logs a formatted message at fatal level and exits.
func (l *Logger) Fatalf(format string, args ...any) {
	l.log(LevelFatal, fmt.Sprintf(format, args...))
	os.Exit(1)
}

func (l *Logger) log(level Level, message string) {
	if !l.shouldLog(level) {
		return
	}

	e := entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Level:     string(level),
		Message:   message,
		Fields:    l.fields,
	}

	var out string
	if l.format == FormatJSON {
		b, _ := json.Marshal(e)
		out = string(b)
	} else {
		out = fmt.Sprintf("[%s] %s: %s", e.Timestamp, e.Level, e.Message)
		if len(e.Fields) > 0 {
			fb, _ := json.Marshal(e.Fields)
			out += fmt.Sprintf(" fields=%s", fb)
		}
	}
	fmt.Fprintln(l.output, out)
}

func (l *Logger) shouldLog(level Level) bool {
	order := map[Level]int{LevelDebug: 0, LevelInfo: 1, LevelWarn: 2, LevelError: 3, LevelFatal: 4}
	return order[level] >= order[l.level]
}

// SetOutput redirects log output, used by tests.
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
}

var globalLogger *Logger

// Init configures the global logger.
func Init(level Level, format Format) {
	globalLogger = New(level, format)
}

// Global returns the global logger, creating a default one if needed.
func Global() *Logger {
	if globalLogger == nil {
		globalLogger = New(LevelInfo, FormatJSON)
	}
	return globalLogger
}

type loggerKey struct{}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext retrieves the context logger, falling back to the global one.
func FromContext(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*Logger); ok {
		return logger
	}
	return Global()
}

// WithField adds a field to the global logger.
func WithField(key string, value any) *Logger { return Global().WithField(key, value) }

// WithFields adds fields to the global logger.
func WithFields(fields map[string]any) *Logger { return Global().WithFields(fields) }

// WithError adds an error field to the global logger.
func WithError(err error) *Logger { return Global().WithError(err) }

// Info logs at info level using the global logger.
func Info(message string) { Global().Info(message) }

// Infof logs a formatted message at info level using the global logger.
func Infof(format string, args ...any) { Global().Infof(format, args...) }

// Warn logs at warn level using the global logger.
func Warn(message string) { Global().Warn(message) }

// Warnf logs a formatted message at warn level using the global logger.
func Warnf(format string, args ...any) { Global().Warnf(format, args...) }

// Error logs at error level using the global logger.
func Error(message string) { Global().Error(message) }

// Errorf logs a formatted message at error level using the global logger.
func Errorf(format string, args ...any) { Global().Errorf(format, args...) }

// ParseLevel parses a level string, defaulting to info.
func ParseLevel(level string) Level {
	switch level {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// ParseFormat parses a format string, defaulting to JSON.
func ParseFormat(format string) Format {
	if format == "text" {
		return FormatText
	}
	return FormatJSON
}
