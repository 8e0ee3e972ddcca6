package logger

import (
	"fmt"
	"io"
	"sort"

	"github.com/hashicorp/go-hclog"
)

// HCLogger adapts an hclog.Logger to the Logger interface. It is used when the
// service runs with log_format: json.
type HCLogger struct {
	inner hclog.Logger
}

// NewHCLogger creates a JSON logger writing to w at the given level.
func NewHCLogger(name, level string, w io.Writer) *HCLogger {
	return &HCLogger{
		inner: hclog.New(&hclog.LoggerOptions{
			Name:       name,
			Level:      toHCLevel(ParseLogLevel(level)),
			Output:     w,
			JSONFormat: true,
		}),
	}
}

func toHCLevel(level LogLevel) hclog.Level {
	switch level {
	case LogLevelDebug:
		return hclog.Debug
	case LogLevelInfo:
		return hclog.Info
	case LogLevelError:
		return hclog.Error
	default:
		return hclog.Off
	}
}

// Debug logs a debug message
func (l *HCLogger) Debug(msg string) { l.inner.Debug(msg) }

// Debugf logs a formatted debug message
func (l *HCLogger) Debugf(format string, args ...interface{}) {
	l.inner.Debug(fmt.Sprintf(format, args...))
}

// Info logs an info message
func (l *HCLogger) Info(msg string) { l.inner.Info(msg) }

// Infof logs a formatted info message
func (l *HCLogger) Infof(format string, args ...interface{}) {
	l.inner.Info(fmt.Sprintf(format, args...))
}

// Error logs an error message
func (l *HCLogger) Error(msg string) { l.inner.Error(msg) }

// Errorf logs a formatted error message
func (l *HCLogger) Errorf(format string, args ...interface{}) {
	l.inner.Error(fmt.Sprintf(format, args...))
}

// WithField returns a logger that adds key=value to every line
func (l *HCLogger) WithField(key string, value interface{}) Logger {
	return &HCLogger{inner: l.inner.With(key, value)}
}

// WithFields returns a logger that adds all fields to every line
func (l *HCLogger) WithFields(fields map[string]interface{}) Logger {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]interface{}, 0, len(fields)*2)
	for _, k := range keys {
		args = append(args, k, fields[k])
	}
	return &HCLogger{inner: l.inner.With(args...)}
}
