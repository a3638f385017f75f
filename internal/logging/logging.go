// Package logging provides diagnostic logging for the parapng pipeline.
package logging

import (
	"io"
	"log"
	"time"
)

// level represents the logging level.
type level int

const (
	levelInfo level = iota
	levelDebug
)

// Logger wraps the standard logger with level filtering.
//
// Unlike a CLI tool, a library must not open files or write to stderr on
// its own initiative: the destination is always supplied by the caller via
// New. A nil *Logger is valid and silently discards everything, so every
// internal call site can log unconditionally without a nil check of its
// own.
type Logger struct {
	level  level
	logger *log.Logger
}

// New returns a Logger that writes to w. If w is nil, logging is disabled.
// verbose enables Debug-level output in addition to Info.
func New(w io.Writer, verbose bool) *Logger {
	if w == nil {
		return nil
	}
	lvl := levelInfo
	if verbose {
		lvl = levelDebug
	}
	return &Logger{
		level:  lvl,
		logger: log.New(w, "", 0),
	}
}

// Info logs an info-level message.
func (l *Logger) Info(format string, args ...any) {
	if l == nil {
		return
	}
	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	l.logger.Printf("%s [INFO] "+format, append([]any{timestamp}, args...)...)
}

// Debug logs a debug-level message (only if verbose mode is enabled).
func (l *Logger) Debug(format string, args ...any) {
	if l == nil || l.level < levelDebug {
		return
	}
	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	l.logger.Printf("%s [DEBUG] "+format, append([]any{timestamp}, args...)...)
}
