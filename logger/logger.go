package logger

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"
)

// noopFunc is a reusable no-op function to avoid allocations
var noopFunc = func() {}

// tracePrefix marks debug entries that were logged at TRACE level, apex has
// no level below debug.
const tracePrefix = "TRACE: "

// Trace returns a function that logs operation duration when called.
// Returns a no-op function when TRACE level is disabled to avoid overhead.
// Usage: defer logger.Trace("operation")()
func Trace(name string) func() {
	if current().level > LogLevelTrace {
		return noopFunc
	}
	start := time.Now()
	return func() {
		current().entry.Debugf("%s%s: %v", tracePrefix, name, time.Since(start))
	}
}

// MaxLogLines defines the maximum number of lines to keep in the log file
const MaxLogLines = 5000

// LogLevel represents the logging level
type LogLevel int

const (
	LogLevelTrace LogLevel = iota
	LogLevelDebug
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

// String returns the string representation of a log level
func (l LogLevel) String() string {
	switch l {
	case LogLevelTrace:
		return "TRACE"
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// apexLevel maps a LogLevel onto the apex level that admits it
func (l LogLevel) apexLevel() log.Level {
	switch l {
	case LogLevelTrace, LogLevelDebug:
		return log.DebugLevel
	case LogLevelWarn:
		return log.WarnLevel
	case LogLevelError:
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// ParseLogLevel parses a string into a LogLevel
func ParseLogLevel(s string) LogLevel {
	switch strings.ToUpper(s) {
	case "TRACE":
		return LogLevelTrace
	case "DEBUG":
		return LogLevelDebug
	case "INFO":
		return LogLevelInfo
	case "WARN", "WARNING":
		return LogLevelWarn
	case "ERROR":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// sink pairs an apex logger with the level it was configured at
type sink struct {
	entry *log.Logger
	level LogLevel
}

var (
	globalMu sync.RWMutex
	global   *sink
)

// defaultSink is used before the global logger is initialized
var defaultSink = newSink(&lineHandler{w: os.Stderr}, LogLevelInfo)

func newSink(h log.Handler, level LogLevel) *sink {
	return &sink{
		entry: &log.Logger{Handler: h, Level: level.apexLevel()},
		level: level,
	}
}

func current() *sink {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if global != nil {
		return global
	}
	return defaultSink
}

// lineHandler renders apex entries as "timestamp [LEVEL] message" lines
type lineHandler struct {
	mu sync.Mutex
	w  io.Writer
}

func (h *lineHandler) HandleLog(e *log.Entry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, formatEntry(e))
	return err
}

func formatEntry(e *log.Entry) string {
	level := strings.ToUpper(e.Level.String())
	message := e.Message
	if rest, ok := strings.CutPrefix(message, tracePrefix); ok {
		level = LogLevelTrace.String()
		message = rest
	}
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	var fields strings.Builder
	for _, name := range e.Fields.Names() {
		fmt.Fprintf(&fields, " %s=%v", name, e.Fields.Get(name))
	}
	return fmt.Sprintf("%s [%s] %s%s\n", ts.Format("2006/01/02 15:04:05"), level, message, fields.String())
}

// LimitedLogger is a log file sink that keeps at most MaxLogLines lines
type LimitedLogger struct {
	file      *os.File
	lineCount int
	mutex     sync.Mutex
}

// NewLimitedLogger creates a new LimitedLogger and installs it as the
// destination of the package-level logging functions.
func NewLimitedLogger(file *os.File, level LogLevel) *LimitedLogger {
	ll := &LimitedLogger{
		file:      file,
		lineCount: 0,
	}

	// Count existing lines in the file
	ll.countExistingLines()

	globalMu.Lock()
	global = newSink(&lineHandler{w: ll}, level)
	globalMu.Unlock()
	return ll
}

// SetGlobalLevel sets the logging level on the global logger
func SetGlobalLevel(level LogLevel) {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global != nil {
		global = newSink(global.entry.Handler, level)
	}
}

// WithField returns an apex entry carrying a structured field, for call
// sites that log the same key repeatedly (e.g. a buffer uri).
func WithField(key string, value any) *log.Entry {
	return current().entry.WithField(key, value)
}

// Package-level logging functions that use the global logger (or default if not initialized)
func Debug(format string, v ...any) {
	current().entry.Debugf(format, v...)
}

func Info(format string, v ...any) {
	current().entry.Infof(format, v...)
}

func Warn(format string, v ...any) {
	current().entry.Warnf(format, v...)
}

func Error(format string, v ...any) {
	current().entry.Errorf(format, v...)
}

// Fatal logs an error message and exits with code 1
func Fatal(format string, v ...any) {
	current().entry.Errorf(format, v...)
	os.Exit(1)
}

// countExistingLines counts the number of lines in the current log file
func (ll *LimitedLogger) countExistingLines() {
	ll.mutex.Lock()
	defer ll.mutex.Unlock()

	// Seek to beginning of file
	ll.file.Seek(0, io.SeekStart)
	scanner := bufio.NewScanner(ll.file)

	count := 0
	for scanner.Scan() {
		count++
	}

	ll.lineCount = count

	// Seek back to end of file for appending
	ll.file.Seek(0, io.SeekEnd)
}

// Write implements io.Writer interface
func (ll *LimitedLogger) Write(p []byte) (n int, err error) {
	ll.mutex.Lock()
	defer ll.mutex.Unlock()

	n, err = ll.file.Write(p)
	if err != nil {
		return n, err
	}

	ll.lineCount += strings.Count(string(p), "\n")

	if ll.lineCount > MaxLogLines {
		ll.rotateLogFile()
	}

	return n, err
}

// rotateLogFile trims the log file to keep only the last MaxLogLines lines
func (ll *LimitedLogger) rotateLogFile() {
	ll.file.Seek(0, io.SeekStart)
	scanner := bufio.NewScanner(ll.file)
	var lines []string

	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}

	if len(lines) > MaxLogLines {
		lines = lines[len(lines)-MaxLogLines:]
	}

	ll.file.Truncate(0)
	ll.file.Seek(0, io.SeekStart)

	for _, line := range lines {
		ll.file.WriteString(line + "\n")
	}

	ll.lineCount = len(lines)
}

// Close detaches the sink from the package-level functions and closes the file
func (ll *LimitedLogger) Close() error {
	globalMu.Lock()
	global = nil
	globalMu.Unlock()
	return ll.file.Close()
}
