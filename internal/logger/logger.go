// Package logger provides the logging interface shared by every package of the
// session service, with a standard-library backend and an hclog JSON backend.
package logger

import (
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
	"sync"
)

// Logger is the logging interface used across the module.
type Logger interface {
	Debug(msg string)
	Debugf(format string, args ...interface{})
	Info(msg string)
	Infof(format string, args ...interface{})
	Error(msg string)
	Errorf(format string, args ...interface{})

	// Structured logging support
	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
}

// LogLevel represents the logging level
type LogLevel int

const (
	// LogLevelDebug enables all log messages
	LogLevelDebug LogLevel = iota
	// LogLevelInfo enables info and error messages
	LogLevelInfo
	// LogLevelError enables only error messages
	LogLevelError
	// LogLevelNone disables all logging
	LogLevelNone
)

// ParseLogLevel converts a string log level to LogLevel
func ParseLogLevel(level string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return LogLevelDebug
	case "info":
		return LogLevelInfo
	case "error":
		return LogLevelError
	case "none":
		return LogLevelNone
	default:
		return LogLevelInfo
	}
}

// StandardLogger implements Logger on top of the standard log package.
// Each level has its own output stream.
type StandardLogger struct {
	mu       sync.RWMutex
	logError *log.Logger
	logInfo  *log.Logger
	logDebug *log.Logger
	fields   map[string]interface{}
	level    LogLevel
}

// NewStandardLogger creates a new StandardLogger with the specified log level.
// Nil writers discard their level.
func NewStandardLogger(level string, errorOutput, infoOutput, debugOutput io.Writer) *StandardLogger {
	if errorOutput == nil {
		errorOutput = io.Discard
	}
	if infoOutput == nil {
		infoOutput = io.Discard
	}
	if debugOutput == nil {
		debugOutput = io.Discard
	}

	return &StandardLogger{
		logError: log.New(errorOutput, "ERROR: ", log.Ldate|log.Ltime|log.Lshortfile),
		logInfo:  log.New(infoOutput, "INFO: ", log.Ldate|log.Ltime),
		logDebug: log.New(debugOutput, "DEBUG: ", log.Ldate|log.Ltime|log.Lshortfile),
		fields:   make(map[string]interface{}),
		level:    ParseLogLevel(level),
	}
}

func (l *StandardLogger) emit(min LogLevel, out *log.Logger, msg string) {
	if l.level > min {
		return
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.fields) > 0 {
		msg = l.formatWithFields(msg)
	}
	_ = out.Output(3, msg)
}

// Debug logs a debug message
func (l *StandardLogger) Debug(msg string) { l.emit(LogLevelDebug, l.logDebug, msg) }

// Debugf logs a formatted debug message
func (l *StandardLogger) Debugf(format string, args ...interface{}) {
	l.emit(LogLevelDebug, l.logDebug, fmt.Sprintf(format, args...))
}

// Info logs an info message
func (l *StandardLogger) Info(msg string) { l.emit(LogLevelInfo, l.logInfo, msg) }

// Infof logs a formatted info message
func (l *StandardLogger) Infof(format string, args ...interface{}) {
	l.emit(LogLevelInfo, l.logInfo, fmt.Sprintf(format, args...))
}

// Error logs an error message
func (l *StandardLogger) Error(msg string) { l.emit(LogLevelError, l.logError, msg) }

// Errorf logs a formatted error message
func (l *StandardLogger) Errorf(format string, args ...interface{}) {
	l.emit(LogLevelError, l.logError, fmt.Sprintf(format, args...))
}

// WithField returns a new logger with an additional field
func (l *StandardLogger) WithField(key string, value interface{}) Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

// WithFields returns a new logger with additional fields
func (l *StandardLogger) WithFields(fields map[string]interface{}) Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()

	newLogger := &StandardLogger{
		logError: l.logError,
		logInfo:  l.logInfo,
		logDebug: l.logDebug,
		fields:   make(map[string]interface{}, len(l.fields)+len(fields)),
		level:    l.level,
	}
	for k, v := range l.fields {
		newLogger.fields[k] = v
	}
	for k, v := range fields {
		newLogger.fields[k] = v
	}
	return newLogger
}

// formatWithFields appends the fields in key order so lines stay greppable.
func (l *StandardLogger) formatWithFields(msg string) string {
	keys := make([]string, 0, len(l.fields))
	for k := range l.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s=%v", k, l.fields[k])
	}
	return fmt.Sprintf("%s [%s]", msg, b.String())
}

// NoOpLogger is a logger that discards all output.
type NoOpLogger struct{}

// Debug discards the message
func (n *NoOpLogger) Debug(msg string) {}

// Debugf discards the formatted message
func (n *NoOpLogger) Debugf(format string, args ...interface{}) {}

// Info discards the message
func (n *NoOpLogger) Info(msg string) {}

// Infof discards the formatted message
func (n *NoOpLogger) Infof(format string, args ...interface{}) {}

// Error discards the message
func (n *NoOpLogger) Error(msg string) {}

// Errorf discards the formatted message
func (n *NoOpLogger) Errorf(format string, args ...interface{}) {}

// WithField returns the same NoOpLogger
func (n *NoOpLogger) WithField(key string, value interface{}) Logger { return n }

// WithFields returns the same NoOpLogger
func (n *NoOpLogger) WithFields(fields map[string]interface{}) Logger { return n }

var (
	singletonNoOpLogger *NoOpLogger
	noOpLoggerOnce      sync.Once
)

// NoOp returns the shared no-op logger.
func NoOp() Logger {
	noOpLoggerOnce.Do(func() {
		singletonNoOpLogger = &NoOpLogger{}
	})
	return singletonNoOpLogger
}

// OrNoOp returns l, or the no-op logger when l is nil.
func OrNoOp(l Logger) Logger {
	if l == nil {
		return NoOp()
	}
	return l
}
