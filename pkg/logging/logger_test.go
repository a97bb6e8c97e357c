package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{" WARN ", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestDefaultIsInfo(t *testing.T) {
	logger := Default()
	ctx := context.Background()
	if !logger.Enabled(ctx, slog.LevelInfo) || logger.Enabled(ctx, slog.LevelDebug) {
		t.Fatal("Default() should log at info")
	}
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log line, got %q: %v", buf.String(), err)
	}
	return entry
}

func TestNewWithWriterEmitsJSON(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter("info", &buf).With("conversation_id", "c-1").Info("urgency tag set", "tagged_by", "AI_SYSTEM")

	entry := decodeLine(t, &buf)
	if entry["msg"] != "urgency tag set" {
		t.Fatalf("unexpected msg: %v", entry["msg"])
	}
	if entry["conversation_id"] != "c-1" || entry["tagged_by"] != "AI_SYSTEM" {
		t.Fatalf("missing attributes: %v", entry)
	}
}

func TestPhonesAreMasked(t *testing.T) {
	tests := []struct {
		key, value, want string
	}{
		{"phone", "34612345678", "*******5678"},
		{"from", "+34612345678", "********5678"},
		{"to", "recepcion@clinica.es", "recepcion@clinica.es"},
		{"to", "1234", "1234"},
		{"message_id", "34612345678", "34612345678"},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		NewWithWriter("info", &buf).Info("x", tt.key, tt.value)
		if got := decodeLine(t, &buf)[tt.key]; got != tt.want {
			t.Errorf("%s=%q logged as %v, want %q", tt.key, tt.value, got, tt.want)
		}
	}
}

func TestDiscardIsSilent(t *testing.T) {
	if Discard().Enabled(context.Background(), slog.LevelError) {
		t.Fatal("discard logger should not enable any level")
	}
}
