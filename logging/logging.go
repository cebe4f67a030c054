// Package logging provides leveled console logging for command, stream and
// projection processing. Task and projection state in the store is the durable
// record; these lines are for real-time monitoring only.
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logger writes one line per entry: LEVEL TIMESTAMP [component] message key=value ...
type Logger struct {
	mu        sync.Mutex
	output    io.Writer
	minLevel  Level
	component string
	traceID   string
}

var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// New creates a new Logger writing to stdout at INFO.
func New() *Logger {
	return &Logger{
		output:   os.Stdout,
		minLevel: LevelInfo,
	}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	l := New()
	l.output = io.Discard
	return l
}

// ParseLevel converts a config string ("debug", "INFO", ...) to a Level.
func ParseLevel(s string) (Level, error) {
	lvl := Level(strings.ToUpper(strings.TrimSpace(s)))
	if lvl == "" {
		return LevelInfo, nil
	}
	if lvl == "WARNING" {
		return LevelWarn, nil
	}
	if _, ok := levelPriority[lvl]; !ok {
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
	return lvl, nil
}

func (l *Logger) clone() *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &Logger{
		output:    l.output,
		minLevel:  l.minLevel,
		component: l.component,
		traceID:   l.traceID,
	}
}

// WithComponent returns a new logger with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	c := l.clone()
	c.component = component
	return c
}

// WithTraceID returns a new logger that adds trace=<id> to every entry.
func (l *Logger) WithTraceID(traceID string) *Logger {
	c := l.clone()
	c.traceID = traceID
	return c
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	l.minLevel = level
	l.mu.Unlock()
}

// SetOutput sets the output writer (default: stdout).
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	l.output = w
	l.mu.Unlock()
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, fields...)
}

// formatFields renders fields as key=value pairs sorted by key.
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return " " + strings.Join(parts, " ")
}

func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if levelPriority[level] < levelPriority[l.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	var fieldStr string
	if len(fields) > 0 && fields[0] != nil {
		fieldStr = formatFields(fields[0])
	}
	if l.traceID != "" {
		fieldStr += " trace=" + l.traceID
	}

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	l.output.Write([]byte(line))
}

// --- Pipeline logging helpers ---

// CommandProcessed logs the outcome of one command attempt.
func (l *Logger) CommandProcessed(key, commandType, status string, retryCount int, duration time.Duration) {
	fields := map[string]interface{}{
		"key":      key,
		"command":  commandType,
		"status":   status,
		"retries":  retryCount,
		"duration": duration.String(),
	}
	switch status {
	case "Canceled":
		l.Error("command_canceled", fields)
	case "Suspended":
		l.Warn("command_suspended", fields)
	default:
		l.Info("command_processed", fields)
	}
}

// StreamAppended logs a successful append.
func (l *Logger) StreamAppended(stream string, fromVersion, toVersion int64) {
	l.Debug("stream_appended", map[string]interface{}{
		"stream": stream,
		"from":   fromVersion,
		"to":     toVersion,
	})
}

// ProjectionProgress logs catch-up progress of a projection.
func (l *Logger) ProjectionProgress(projection string, lastEventDone, streamVersion int64) {
	l.Debug("projection_progress", map[string]interface{}{
		"projection": projection,
		"done":       lastEventDone,
		"version":    streamVersion,
	})
}

// ReminderScheduled logs a reminder registration.
func (l *Logger) ReminderScheduled(name string, due time.Duration, period time.Duration) {
	l.Debug("reminder_scheduled", map[string]interface{}{
		"reminder": name,
		"due":      due.String(),
		"period":   period.String(),
	})
}
