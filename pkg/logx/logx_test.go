package logx

import (
	"bytes"
	"log"
	"strings"
	"testing"
	"time"
)

func TestNewLogger(t *testing.T) {
	logger := NewLogger("tier")

	if logger.GetComponent() != "tier" {
		t.Errorf("Expected component 'tier', got '%s'", logger.GetComponent())
	}

	if logger.logger == nil {
		t.Error("Expected logger to be initialized")
	}
}

func TestLogFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("orchestrator")
	logger.logger = log.New(&buf, "", 0)

	logger.Info("Test message with %s", "formatting")

	output := buf.String()

	if !strings.Contains(output, "[orchestrator]") {
		t.Errorf("Expected component in output, got: %s", output)
	}

	if !strings.Contains(output, "INFO") {
		t.Errorf("Expected log level in output, got: %s", output)
	}

	if !strings.Contains(output, "Test message with formatting") {
		t.Errorf("Expected formatted message in output, got: %s", output)
	}

	if !strings.Contains(output, "T") || !strings.Contains(output, "Z") {
		t.Errorf("Expected ISO timestamp in output, got: %s", output)
	}
}

func TestLogLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("compressor")
	logger.logger = log.New(&buf, "", 0)

	tests := []struct {
		level    Level
		logFunc  func(string, ...interface{})
		expected string
	}{
		{LevelDebug, logger.Debug, "DEBUG"},
		{LevelInfo, logger.Info, "INFO"},
		{LevelWarn, logger.Warn, "WARN"},
		{LevelError, logger.Error, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			buf.Reset()
			tt.logFunc("test message")

			output := buf.String()
			if !strings.Contains(output, tt.expected) {
				t.Errorf("Expected level '%s' in output, got: %s", tt.expected, output)
			}
		})
	}
}

func TestWithComponent(t *testing.T) {
	originalLogger := NewLogger("snapshot")
	newLogger := originalLogger.WithComponent("snapshot-prune")

	if newLogger.GetComponent() != "snapshot-prune" {
		t.Errorf("Expected new component 'snapshot-prune', got '%s'", newLogger.GetComponent())
	}

	if originalLogger.GetComponent() != "snapshot" {
		t.Errorf("Expected original component unchanged, got '%s'", originalLogger.GetComponent())
	}

	if newLogger.logger != originalLogger.logger {
		t.Error("Expected loggers to share the same underlying log.Logger")
	}
}

func TestLogFormatting(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("activectx")
	logger.logger = log.New(&buf, "", 0)

	logger.Info("Processing task %d with priority %s", 123, "high")

	output := buf.String()

	if !strings.Contains(output, "Processing task 123 with priority high") {
		t.Errorf("Expected formatted message, got: %s", output)
	}
}

func TestMultipleComponents(t *testing.T) {
	var buf bytes.Buffer

	orchestrator := NewLogger("orchestrator")
	orchestrator.logger = log.New(&buf, "", 0)

	compressor := NewLogger("compressor")
	compressor.logger = log.New(&buf, "", 0)

	orchestrator.Info("Dispatching compression")
	compressor.Info("Compression complete")

	output := buf.String()
	lines := strings.Split(strings.TrimSpace(output), "\n")

	if len(lines) != 2 {
		t.Errorf("Expected 2 log lines, got %d", len(lines))
	}

	if !strings.Contains(lines[0], "[orchestrator]") {
		t.Errorf("Expected first line to contain [orchestrator], got: %s", lines[0])
	}

	if !strings.Contains(lines[1], "[compressor]") {
		t.Errorf("Expected second line to contain [compressor], got: %s", lines[1])
	}
}

func TestLogLevelConstants(t *testing.T) {
	expectedLevels := map[Level]string{
		LevelDebug: "DEBUG",
		LevelInfo:  "INFO",
		LevelWarn:  "WARN",
		LevelError: "ERROR",
	}

	for level, expected := range expectedLevels {
		if string(level) != expected {
			t.Errorf("Expected level constant %s to equal '%s', got '%s'",
				expected, expected, string(level))
		}
	}
}

func TestTimestampFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("test")
	logger.logger = log.New(&buf, "", 0)

	logger.Info("timestamp test")

	output := buf.String()

	start := strings.Index(output, "[")
	end := strings.Index(output, "]")

	if start == -1 || end == -1 || end <= start {
		t.Fatalf("Could not find timestamp in output: %s", output)
	}

	timestamp := output[start+1 : end]

	_, err := time.Parse("2006-01-02T15:04:05.000Z", timestamp)
	if err != nil {
		t.Errorf("Invalid timestamp format '%s': %v", timestamp, err)
	}
}
