// Package logger provides a small leveled logger used throughout the proxy.
package logger

import (
	"log"
	"os"
)

// Logger is a leveled wrapper around the standard library logger.
type Logger struct {
	info  *log.Logger
	warn  *log.Logger
	error *log.Logger
	debug *log.Logger

	debugEnabled bool
}

// Default is the package-wide logger instance used by the convenience
// functions below.
var Default = New()

// New creates a Logger writing info/warn/debug to stdout and error to
// stderr, with debug logging disabled by default.
func New() *Logger {
	return &Logger{
		info:  log.New(os.Stdout, "[INFO] ", log.LstdFlags),
		warn:  log.New(os.Stdout, "[WARN] ", log.LstdFlags),
		error: log.New(os.Stderr, "[ERROR] ", log.LstdFlags),
		debug: log.New(os.Stdout, "[DEBUG] ", log.LstdFlags),
	}
}

// SetDebug toggles whether Debug calls actually emit output.
func (l *Logger) SetDebug(enabled bool) {
	l.debugEnabled = enabled
}

func (l *Logger) Info(format string, v ...any) {
	l.info.Printf(format, v...)
}

func (l *Logger) Warn(format string, v ...any) {
	l.warn.Printf(format, v...)
}

func (l *Logger) Error(format string, v ...any) {
	l.error.Printf(format, v...)
}

func (l *Logger) Debug(format string, v ...any) {
	if !l.debugEnabled {
		return
	}
	l.debug.Printf(format, v...)
}

// SetLevel configures the default logger's debug verbosity from a level
// name ("debug", "info", "warn", "error"). Unknown names leave debug
// output disabled.
func SetLevel(level string) {
	Default.SetDebug(level == "debug")
}

func Info(format string, v ...any) {
	Default.Info(format, v...)
}

func Warn(format string, v ...any) {
	Default.Warn(format, v...)
}

func Error(format string, v ...any) {
	Default.Error(format, v...)
}

func Debug(format string, v ...any) {
	Default.Debug(format, v...)
}
