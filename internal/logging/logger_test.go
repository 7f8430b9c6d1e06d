package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
	}{
		{name: "nil config", config: nil},
		{name: "debug level", config: &Config{Level: LevelDebug, Output: &bytes.Buffer{}}},
		{name: "error level", config: &Config{Level: LevelError, Output: &bytes.Buffer{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.config)
			if logger == nil {
				t.Error("NewLogger() returned nil")
			}
		})
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelWarn, Output: &buf})

	logger.Debug("should not appear")
	logger.Info("should not appear either")
	if buf.Len() != 0 {
		t.Errorf("expected no output below configured level, got: %s", buf.String())
	}

	logger.Warn("warning message")
	if !strings.Contains(buf.String(), "warning message") {
		t.Errorf("expected warning message, got: %s", buf.String())
	}
}

func TestLoggerPrintfAndDebugf(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	logger.Printf("chunk %d sent", 7)
	if !strings.Contains(buf.String(), "chunk 7 sent") {
		t.Errorf("expected formatted Printf output, got: %s", buf.String())
	}

	buf.Reset()
	logger.Debugf("dirty chunk at sector %d", 256)
	if !strings.Contains(buf.String(), "dirty chunk at sector 256") {
		t.Errorf("expected formatted Debugf output, got: %s", buf.String())
	}
}

func TestLoggerKeyValueArgs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	logger.Info("device registered", "name", "vda", "sectors", 2048)
	output := buf.String()
	if !strings.Contains(output, "name=vda") || !strings.Contains(output, "sectors=2048") {
		t.Errorf("expected key=value pairs in output, got: %s", output)
	}
}

func TestLoggerWithDeviceTagsLines(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	tagged := logger.WithDevice("vda")
	tagged.Info("chunk sent")
	if !strings.Contains(buf.String(), "[vda]") {
		t.Errorf("expected device tag in output, got: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "chunk sent") {
		t.Errorf("expected message in output, got: %s", buf.String())
	}

	buf.Reset()
	logger.Info("untagged line")
	if strings.Contains(buf.String(), "[vda]") {
		t.Errorf("expected parent logger to remain untagged, got: %s", buf.String())
	}
}

func TestLoggerWithDeviceSharesLevelAndLock(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelWarn, Output: &buf})
	tagged := logger.WithDevice("vdb")

	tagged.Debug("should not appear")
	if buf.Len() != 0 {
		t.Errorf("expected WithDevice to inherit parent's level filter, got: %s", buf.String())
	}

	tagged.Warn("should appear")
	if !strings.Contains(buf.String(), "[vdb]") || !strings.Contains(buf.String(), "should appear") {
		t.Errorf("expected tagged warning output, got: %s", buf.String())
	}
}

func TestGlobalLoggerFunctions(t *testing.T) {
	var buf bytes.Buffer
	SetDefault(NewLogger(&Config{Level: LevelDebug, Output: &buf}))

	Debug("debug message", "key", "value")
	if !strings.Contains(buf.String(), "debug message") {
		t.Errorf("expected debug message, got: %s", buf.String())
	}

	buf.Reset()
	Info("info message")
	if !strings.Contains(buf.String(), "info message") {
		t.Errorf("expected info message, got: %s", buf.String())
	}

	buf.Reset()
	Warn("warning message")
	if !strings.Contains(buf.String(), "warning message") {
		t.Errorf("expected warning message, got: %s", buf.String())
	}

	buf.Reset()
	Error("error message")
	if !strings.Contains(buf.String(), "error message") {
		t.Errorf("expected error message, got: %s", buf.String())
	}
}
