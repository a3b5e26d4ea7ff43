package common

import (
	"fmt"
	"strings"
)

// Logger provides human-facing output for CLI commands. Structured logs go
// through zap; this is only for what the operator reads on the terminal.
type Logger struct {
	ShowEmojis bool
	SilentMode bool
}

// NewLogger creates a logger with default settings.
func NewLogger() *Logger {
	return &Logger{ShowEmojis: true}
}

// SetSilentMode enables or disables silent mode.
func (l *Logger) SetSilentMode(silent bool) {
	l.SilentMode = silent
}

// Header prints a formatted header.
func (l *Logger) Header(title string) {
	if l.SilentMode {
		return
	}
	emoji := "🎯"
	if !l.ShowEmojis {
		emoji = "***"
	}
	fmt.Printf("\n%s %s\n", emoji, strings.ToUpper(title))
	fmt.Printf("%s\n", strings.Repeat("=", len(title)+5))
}

// Info prints an info message.
func (l *Logger) Info(format string, args ...interface{}) {
	if l.SilentMode {
		return
	}
	emoji := "ℹ️"
	if !l.ShowEmojis {
		emoji = "[INFO]"
	}
	fmt.Printf("%s  %s\n", emoji, fmt.Sprintf(format, args...))
}

// Success prints a success message.
func (l *Logger) Success(format string, args ...interface{}) {
	if l.SilentMode {
		return
	}
	emoji := "✅"
	if !l.ShowEmojis {
		emoji = "[SUCCESS]"
	}
	fmt.Printf("%s %s\n", emoji, fmt.Sprintf(format, args...))
}

// Warn prints a warning message.
func (l *Logger) Warn(format string, args ...interface{}) {
	emoji := "⚠️"
	if !l.ShowEmojis {
		emoji = "[WARN]"
	}
	fmt.Printf("%s  %s\n", emoji, fmt.Sprintf(format, args...))
}

// Error prints an error message.
func (l *Logger) Error(format string, args ...interface{}) {
	emoji := "❌"
	if !l.ShowEmojis {
		emoji = "[ERROR]"
	}
	fmt.Printf("%s %s\n", emoji, fmt.Sprintf(format, args...))
}
