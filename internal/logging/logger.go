// Package logging provides the operator-facing logger used by the server,
// the console and the background auth keep-alive.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/muesli/termenv"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger wraps a charmbracelet logger with the printf-style helpers used
// across the code base. Debug and the *Verbose helpers only emit when
// verbose mode is enabled.
type Logger struct {
	mu         sync.Mutex
	verbose    bool
	useColor   bool
	jsonFormat bool
	writer     io.Writer
	base       *log.Logger
	file       *lumberjack.Logger
}

// NewLogger creates a logger writing to stderr.
func NewLogger(verbose, useColor, jsonFormat bool) *Logger {
	return NewLoggerWithWriter(verbose, useColor, jsonFormat, os.Stderr)
}

// NewLoggerWithWriter creates a logger writing to w.
func NewLoggerWithWriter(verbose, useColor, jsonFormat bool, w io.Writer) *Logger {
	l := &Logger{
		verbose:    verbose,
		useColor:   useColor,
		jsonFormat: jsonFormat,
		writer:     w,
	}
	l.base = l.newBase(w)
	return l
}

func (l *Logger) newBase(w io.Writer) *log.Logger {
	opts := log.Options{ReportTimestamp: true, Level: log.DebugLevel}
	if l.jsonFormat {
		opts.Formatter = log.JSONFormatter
	}
	base := log.NewWithOptions(w, opts)
	if !l.useColor {
		base.SetColorProfile(termenv.Ascii)
	}
	return base
}

// With returns a child logger that adds keyvals to every entry.
func (l *Logger) With(keyvals ...any) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &Logger{
		verbose:    l.verbose,
		useColor:   l.useColor,
		jsonFormat: l.jsonFormat,
		writer:     l.writer,
		base:       l.base.With(keyvals...),
	}
}

// SetVerbose toggles debug output.
func (l *Logger) SetVerbose(verbose bool) {
	l.mu.Lock()
	l.verbose = verbose
	l.mu.Unlock()
}

// Verbose reports whether debug output is enabled.
func (l *Logger) Verbose() bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.verbose
}

// SetWriter redirects output of this logger to w.
func (l *Logger) SetWriter(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writer = w
	l.base.SetOutput(w)
}

// SetLevel applies a textual level (debug, info, warn, error).
// "debug" also enables verbose mode.
func (l *Logger) SetLevel(level string) error {
	if level == "" {
		return nil
	}
	lvl, err := log.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if lvl == log.DebugLevel {
		l.verbose = true
	}
	l.base.SetLevel(lvl)
	return nil
}

// AttachFile mirrors all output into a size-rotated log file.
func (l *Logger) AttachFile(path string, maxSizeMB int) {
	if path == "" {
		return
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 10
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.file = &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}
	l.writer = io.MultiWriter(l.writer, l.file)
	l.base.SetOutput(l.writer)
}

// Close releases the rotating file, if any.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...any) {
	l.base.Info(fmt.Sprintf(format, args...))
}

// Success logs a completed operation.
func (l *Logger) Success(format string, args ...any) {
	l.base.Info("✓ " + fmt.Sprintf(format, args...))
}

// Warning logs a warning.
func (l *Logger) Warning(format string, args ...any) {
	l.base.Warn(fmt.Sprintf(format, args...))
}

// Error logs an error.
func (l *Logger) Error(format string, args ...any) {
	l.base.Error(fmt.Sprintf(format, args...))
}

// Debug logs only in verbose mode.
func (l *Logger) Debug(format string, args ...any) {
	if !l.Verbose() {
		return
	}
	l.base.Debug(fmt.Sprintf(format, args...))
}

// InfoVerbose logs an info message only in verbose mode. Safe on a nil logger.
func (l *Logger) InfoVerbose(format string, args ...any) {
	if l == nil || !l.Verbose() {
		return
	}
	l.Info(format, args...)
}

// WarningVerbose logs a warning only in verbose mode. Safe on a nil logger.
func (l *Logger) WarningVerbose(format string, args ...any) {
	if l == nil || !l.Verbose() {
		return
	}
	l.Warning(format, args...)
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return NewLoggerWithWriter(false, false, false, io.Discard)
}
