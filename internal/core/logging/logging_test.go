package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter("info", "json", &buf)
	if err != nil {
		t.Fatalf("NewWithWriter() error = %v, want nil", err)
	}

	logger.Debug("hidden")
	logger.Info("rules loaded", zap.Int("rules", 3))
	logger.Sync()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["msg"] != "rules loaded" || entry["level"] != "info" || entry["rules"] != float64(3) {
		t.Errorf("unexpected entry: %v", entry)
	}
}

func TestNewWithWriter_Console(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter("debug", "console", &buf)
	if err != nil {
		t.Fatalf("NewWithWriter() error = %v, want nil", err)
	}
	logger.Debug("watching", zap.String("path", "rules.yaml"))
	logger.Sync()

	if out := buf.String(); !strings.Contains(out, "DEBUG") || !strings.Contains(out, "rules.yaml") {
		t.Errorf("unexpected console output: %q", out)
	}
}

func TestNewWithWriter_Errors(t *testing.T) {
	tests := []struct {
		name   string
		level  string
		format string
	}{
		{"bad level", "loud", "json"},
		{"bad format", "info", "xml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewWithWriter(tt.level, tt.format, &bytes.Buffer{}); err == nil {
				t.Errorf("NewWithWriter(%q, %q) error = nil, want error", tt.level, tt.format)
			}
		})
	}
}
