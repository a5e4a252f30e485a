package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/fernwood-systems/knxfleet/internal/infrastructure/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNew(t *testing.T) {
	logger := New(config.LoggingConfig{
		Level:  "debug",
		Format: "json",
		Output: "stdout",
	}, "test")

	if logger == nil {
		t.Fatal("New returned nil")
	}
	if logger.Logger == nil {
		t.Fatal("embedded slog.Logger is nil")
	}
}

func TestLoggerOutputContainsDefaultFields(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})
	wrapped := handler.WithAttrs([]slog.Attr{
		slog.String("service", "knxfleet"),
		slog.String("version", "1.2.3"),
	})
	logger := &Logger{Logger: slog.New(wrapped)}

	logger.Info("test message", "room", "kitchen")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if entry["service"] != "knxfleet" {
		t.Errorf("service = %v, want knxfleet", entry["service"])
	}
	if entry["version"] != "1.2.3" {
		t.Errorf("version = %v, want 1.2.3", entry["version"])
	}
	if entry["msg"] != "test message" {
		t.Errorf("msg = %v, want test message", entry["msg"])
	}
	if entry["room"] != "kitchen" {
		t.Errorf("room = %v, want kitchen", entry["room"])
	}
}

func TestWith(t *testing.T) {
	logger := Default()
	child := logger.With("component", "fleet")

	if child == nil {
		t.Fatal("With returned nil")
	}
	if child == logger {
		t.Error("With should return a new Logger")
	}
}

func TestDefault(t *testing.T) {
	logger := Default()
	if logger == nil {
		t.Fatal("Default returned nil")
	}
}
