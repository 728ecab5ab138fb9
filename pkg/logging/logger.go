// Package logging provides structured, goroutine-serialised logging with a
// stable short tag per logical worker, the same way a thread-prefixed
// logger would in a native runtime.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

// LogLevel represents different logging levels.
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	case FatalLevel:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel parses a string into a LogLevel.
func ParseLogLevel(level string) (LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel, nil
	case "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	case "fatal":
		return FatalLevel, nil
	default:
		return InfoLevel, fmt.Errorf("invalid log level: %s", level)
	}
}

// LogFormat represents different log output formats.
type LogFormat int

const (
	TextFormat LogFormat = iota
	JSONFormat
)

// ParseLogFormat parses a string into a LogFormat.
func ParseLogFormat(format string) (LogFormat, error) {
	switch strings.ToLower(format) {
	case "", "text":
		return TextFormat, nil
	case "json":
		return JSONFormat, nil
	default:
		return TextFormat, fmt.Errorf("invalid log format: %s", format)
	}
}

// LogEntry represents a single log entry.
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Caller    string                 `json:"caller,omitempty"`
	Tag       int                    `json:"tag,omitempty"`
}

// tagRegistry assigns short, monotonically increasing tags to logical
// worker keys on first use. Shared by every Logger derived from the same
// root via WithTag, so the numbering is process-local as required.
type tagRegistry struct {
	mu       sync.Mutex
	next     int
	assigned map[string]int
}

func newTagRegistry() *tagRegistry {
	return &tagRegistry{assigned: make(map[string]int)}
}

func (r *tagRegistry) tagFor(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tag, ok := r.assigned[key]; ok {
		return tag
	}
	r.next++
	r.assigned[key] = r.next
	return r.next
}

// Logger provides structured, tag-prefixed logging functionality.
type Logger struct {
	mu         sync.RWMutex
	level      LogLevel
	format     LogFormat
	output     io.Writer
	showCaller bool
	component  string

	tags    *tagRegistry
	tagKey  string
	hasTag  bool
	color   bool
}

// Config holds logger configuration.
type Config struct {
	Level      LogLevel
	Format     LogFormat
	Output     io.Writer
	ShowCaller bool
	Component  string
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:      InfoLevel,
		Format:     TextFormat,
		Output:     os.Stdout,
		ShowCaller: false,
		Component:  "",
	}
}

// NewLogger creates a new root logger with the given configuration.
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}

	return &Logger{
		level:      config.Level,
		format:     config.Format,
		output:     config.Output,
		showCaller: config.ShowCaller,
		component:  config.Component,
		tags:       newTagRegistry(),
		color:      supportsColor(config.Output),
	}
}

// supportsColor reports whether w is a terminal that can render ANSI
// escapes. Redirecting output to a file or pipe disables tag coloring.
func supportsColor(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// WithComponent returns a new logger with the specified component name.
func (l *Logger) WithComponent(component string) *Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return &Logger{
		level:      l.level,
		format:     l.format,
		output:     l.output,
		showCaller: l.showCaller,
		component:  component,
		tags:       l.tags,
		tagKey:     l.tagKey,
		hasTag:     l.hasTag,
		color:      l.color,
	}
}

// WithTag returns a new logger that prefixes every line with a short tag
// assigned, on first use of tagKey anywhere in this logger's tree, from a
// process-local counter starting at 1. Pool workers call this once with
// their worker key ("worker-<i>"); the main goroutine uses "main".
func (l *Logger) WithTag(tagKey string) *Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return &Logger{
		level:      l.level,
		format:     l.format,
		output:     l.output,
		showCaller: l.showCaller,
		component:  l.component,
		tags:       l.tags,
		tagKey:     tagKey,
		hasTag:     true,
		color:      l.color,
	}
}

// SetLevel sets the logging level.
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// SetOutput sets the output writer.
func (l *Logger) SetOutput(output io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = output
	l.color = supportsColor(output)
}

// IsEnabled checks if a log level is enabled.
func (l *Logger) IsEnabled(level LogLevel) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return level >= l.level
}

// log writes a log entry.
func (l *Logger) log(level LogLevel, message string, fields map[string]interface{}) {
	if !l.IsEnabled(level) {
		return
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	entry := LogEntry{
		Timestamp: time.Now(),
		Level:     level.String(),
		Message:   message,
		Fields:    fields,
	}

	if l.component != "" {
		if entry.Fields == nil {
			entry.Fields = make(map[string]interface{})
		}
		entry.Fields["component"] = l.component
	}

	if l.hasTag {
		entry.Tag = l.tags.tagFor(l.tagKey)
	}

	if l.showCaller {
		if _, file, line, ok := runtime.Caller(3); ok {
			entry.Caller = fmt.Sprintf("%s:%d", filepath.Base(file), line)
		}
	}

	var output string
	switch l.format {
	case JSONFormat:
		data, _ := json.Marshal(entry)
		output = string(data) + "\n"
	default:
		output = l.formatText(entry)
	}

	l.output.Write([]byte(output))

	if level == FatalLevel {
		os.Exit(1)
	}
}

// formatText formats a log entry as text, prefixing it with an
// ANSI-colored [n] tag when a tag is set and the output supports color.
func (l *Logger) formatText(entry LogEntry) string {
	var b strings.Builder

	if entry.Tag > 0 {
		if l.color {
			fmt.Fprintf(&b, "\x1b[%dm[%d]\x1b[0m ", 31+entry.Tag, entry.Tag)
		} else {
			fmt.Fprintf(&b, "[%d] ", entry.Tag)
		}
	}

	timestamp := entry.Timestamp.Format("2006-01-02 15:04:05")

	var parts []string
	parts = append(parts, timestamp)
	parts = append(parts, fmt.Sprintf("[%s]", entry.Level))

	if entry.Caller != "" {
		parts = append(parts, fmt.Sprintf("(%s)", entry.Caller))
	}

	parts = append(parts, entry.Message)

	b.WriteString(strings.Join(parts, " "))

	if len(entry.Fields) > 0 {
		var fieldParts []string
		for key, value := range entry.Fields {
			fieldParts = append(fieldParts, fmt.Sprintf("%s=%v", key, value))
		}
		fmt.Fprintf(&b, " [%s]", strings.Join(fieldParts, " "))
	}

	b.WriteString("\n")
	return b.String()
}

// Debug logs a debug message.
func (l *Logger) Debug(message string, fields ...map[string]interface{}) {
	l.log(DebugLevel, message, firstOrNil(fields))
}

// Info logs an info message.
func (l *Logger) Info(message string, fields ...map[string]interface{}) {
	l.log(InfoLevel, message, firstOrNil(fields))
}

// Warn logs a warning message.
func (l *Logger) Warn(message string, fields ...map[string]interface{}) {
	l.log(WarnLevel, message, firstOrNil(fields))
}

// Error logs an error message.
func (l *Logger) Error(message string, fields ...map[string]interface{}) {
	l.log(ErrorLevel, message, firstOrNil(fields))
}

// Fatal logs a message at FatalLevel and then terminates the process via
// os.Exit(1). There is no recovery path: per this runtime's error model an
// unhandled task fault or unrecoverable runtime error is always fatal.
func (l *Logger) Fatal(message string, fields ...map[string]interface{}) {
	l.log(FatalLevel, message, firstOrNil(fields))
}

func firstOrNil(fields []map[string]interface{}) map[string]interface{} {
	if len(fields) > 0 {
		return fields[0]
	}
	return nil
}

// Debugf logs a formatted debug message.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.log(DebugLevel, fmt.Sprintf(format, args...), nil)
}

// Infof logs a formatted info message.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.log(InfoLevel, fmt.Sprintf(format, args...), nil)
}

// Warnf logs a formatted warning message.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log(WarnLevel, fmt.Sprintf(format, args...), nil)
}

// Errorf logs a formatted error message.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log(ErrorLevel, fmt.Sprintf(format, args...), nil)
}

// Fatalf logs a formatted message at FatalLevel and terminates the process.
func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.log(FatalLevel, fmt.Sprintf(format, args...), nil)
}

// Global logger instance, matching the donor's package-level convenience
// functions.
var (
	defaultLogger   *Logger
	defaultLoggerMu sync.RWMutex
)

// InitGlobalLogger initializes the global logger.
func InitGlobalLogger(config *Config) {
	defaultLoggerMu.Lock()
	defer defaultLoggerMu.Unlock()
	defaultLogger = NewLogger(config)
}

// GetGlobalLogger returns the global logger, creating a default one on
// first use.
func GetGlobalLogger() *Logger {
	defaultLoggerMu.RLock()
	defer defaultLoggerMu.RUnlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(DefaultConfig())
	}
	return defaultLogger
}
