package brandloom

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"
)

// LogLevel controls which messages a Logger emits.
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	}
	return "UNKNOWN"
}

// Logger is the SDK's logging interface. All components log through it;
// inject your own implementation with the WithLogger options.
type Logger interface {
	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
}

// StandardLogger is a Logger backed by the standard log package.
type StandardLogger struct {
	prefix string
	level  LogLevel
	out    *log.Logger
}

// NewStandardLogger creates a StandardLogger writing to stderr at INFO level.
func NewStandardLogger(prefix string) *StandardLogger {
	return &StandardLogger{
		prefix: prefix,
		level:  LogLevelInfo,
		out:    log.New(os.Stderr, "", 0),
	}
}

// WithLevel returns a copy of the logger with the given minimum level.
func (l *StandardLogger) WithLevel(level LogLevel) *StandardLogger {
	return &StandardLogger{prefix: l.prefix, level: level, out: l.out}
}

func (l *StandardLogger) Debug(msg string, fields map[string]any) { l.log(LogLevelDebug, msg, fields) }
func (l *StandardLogger) Info(msg string, fields map[string]any)  { l.log(LogLevelInfo, msg, fields) }
func (l *StandardLogger) Warn(msg string, fields map[string]any)  { l.log(LogLevelWarn, msg, fields) }
func (l *StandardLogger) Error(msg string, fields map[string]any) { l.log(LogLevelError, msg, fields) }

func (l *StandardLogger) log(level LogLevel, msg string, fields map[string]any) {
	if level < l.level {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", level, time.Now().Format(time.RFC3339))
	if l.prefix != "" {
		fmt.Fprintf(&b, " %s:", l.prefix)
	}
	fmt.Fprintf(&b, " %s", msg)

	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, fields[k])
		}
	}

	l.out.Print(b.String())
}

// NopLogger discards everything. It is the default for constructors so the
// SDK stays quiet unless a logger is injected.
type NopLogger struct{}

func (NopLogger) Debug(string, map[string]any) {}
func (NopLogger) Info(string, map[string]any)  {}
func (NopLogger) Warn(string, map[string]any)  {}
func (NopLogger) Error(string, map[string]any) {}
