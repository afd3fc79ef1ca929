package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestSetup_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup(Config{Level: "info", Output: &buf})

	logger.Info("index created", "index", "docs")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if entry["msg"] != "index created" {
		t.Errorf("expected msg 'index created', got: %v", entry["msg"])
	}
	if entry["index"] != "docs" {
		t.Errorf("expected index attr 'docs', got: %v", entry["index"])
	}
}

func TestSetup_TextOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup(Config{Level: "info", Format: FormatText, Output: &buf})

	logger.Info("rebuild complete", "chunks", 4)

	out := buf.String()
	if !strings.Contains(out, "rebuild complete") || !strings.Contains(out, "chunks=4") {
		t.Errorf("unexpected text output: %s", out)
	}
}

func TestSetup_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup(Config{Level: "warn", Output: &buf})

	logger.Info("suppressed")
	logger.Warn("kept")

	out := buf.String()
	if strings.Contains(out, "suppressed") {
		t.Error("info entry should be filtered at warn level")
	}
	if !strings.Contains(out, "kept") {
		t.Error("warn entry should pass at warn level")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
