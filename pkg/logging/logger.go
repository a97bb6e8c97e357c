// Package logging builds the JSON slog loggers used by every clinicdesk
// binary.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger so packages depend on one logging type.
type Logger struct {
	*slog.Logger
}

// New creates a JSON logger on stdout with the specified level
func New(level string) *Logger {
	return NewWithWriter(level, os.Stdout)
}

// NewWithWriter creates a JSON logger that writes to w. Patient phone
// numbers under the phone keys are masked to their last four digits.
func NewWithWriter(level string, w io.Writer) *Logger {
	if w == nil {
		w = os.Stdout
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       parseLevel(level),
		ReplaceAttr: maskPhones,
	})
	return &Logger{Logger: slog.New(handler)}
}

func Default() *Logger {
	return New("info")
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))}
}

// With returns a child logger carrying the given attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var phoneKeys = map[string]bool{"phone": true, "from": true, "to": true, "from_phone": true}

func maskPhones(_ []string, a slog.Attr) slog.Attr {
	if !phoneKeys[a.Key] || a.Value.Kind() != slog.KindString {
		return a
	}
	v := a.Value.String()
	if !looksLikePhone(v) {
		return a
	}
	return slog.String(a.Key, strings.Repeat("*", len(v)-4)+v[len(v)-4:])
}

// looksLikePhone leaves email addresses and IDs under the same keys alone.
func looksLikePhone(v string) bool {
	digits := 0
	for i, r := range v {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '+' && i == 0:
		default:
			return false
		}
	}
	return digits >= 6
}
