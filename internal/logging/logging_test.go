package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLogLevel(t *testing.T) {
	tests := []struct {
		name     string
		level    LogLevel
		expected slog.Level
	}{
		{"debug level", LevelDebug, slog.LevelDebug},
		{"info level", LevelInfo, slog.LevelInfo},
		{"warn level", LevelWarn, slog.LevelWarn},
		{"error level", LevelError, slog.LevelError},
		{"upper case", LogLevel("DEBUG"), slog.LevelDebug},
		{"unknown defaults to info", LogLevel("chatty"), slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseLevel(tt.level); got != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo {
		t.Errorf("Expected default level %s, got %s", LevelInfo, cfg.Level)
	}
	if cfg.Format != FormatText {
		t.Errorf("Expected default format %s, got %s", FormatText, cfg.Format)
	}
	if cfg.Output != "stderr" {
		t.Errorf("Expected default output 'stderr', got '%s'", cfg.Output)
	}
	if cfg.AddSource {
		t.Error("Expected AddSource to be false by default")
	}
}

func TestNewLogger(t *testing.T) {
	t.Run("stdout text logger", func(t *testing.T) {
		logger, err := New(Config{Level: LevelInfo, Format: FormatText, Output: "stdout"})
		if err != nil {
			t.Fatalf("Failed to create logger: %v", err)
		}
		if logger.Config().Level != LevelInfo {
			t.Errorf("Expected level %s, got %s", LevelInfo, logger.Config().Level)
		}
	})

	t.Run("file logger", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "nested", "probe.log")

		logger, err := New(Config{Level: LevelDebug, Format: FormatText, Output: logFile})
		if err != nil {
			t.Fatalf("Failed to create file logger: %v", err)
		}
		logger.Info("hello")

		data, err := os.ReadFile(logFile)
		if err != nil {
			t.Fatalf("Log file should have been created: %v", err)
		}
		if !strings.Contains(string(data), "hello") {
			t.Errorf("Expected log file to contain message, got %q", string(data))
		}
	})

	t.Run("invalid directory for file logger", func(t *testing.T) {
		_, err := New(Config{Level: LevelInfo, Output: "/proc/invalid/path/test.log"})
		if err == nil {
			t.Error("Expected error for invalid log file path")
		}
	})
}

func TestJSONOutputCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(Config{Level: LevelDebug, Format: FormatJSON}, &buf)

	logger.WithComponent("scanner").WithScanID("abc").DebugProbe("probe finished", "127.0.0.1", 80, "state", "open")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Expected JSON log line, got %q: %v", buf.String(), err)
	}

	want := map[string]any{
		"msg":       "probe finished",
		"component": "scanner",
		"scan_id":   "abc",
		"host":      "127.0.0.1",
		"port":      float64(80),
		"state":     "open",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("Expected %s=%v, got %v", k, v, entry[k])
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(Config{Level: LevelWarn, Format: FormatText}, &buf)

	logger.Info("hidden")
	logger.ErrorScan("scan failed", "10.0.0.1", errors.New("boom"))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("Info message should be filtered at warn level")
	}
	if !strings.Contains(out, "scan failed") || !strings.Contains(out, "target=10.0.0.1") {
		t.Errorf("Expected error line with target, got %q", out)
	}
}

func TestDefaultLoggerReplacement(t *testing.T) {
	original := Default()
	defer SetDefault(original)

	var buf bytes.Buffer
	SetDefault(NewWithWriter(Config{Level: LevelDebug}, &buf))

	Debug("d")
	Info("i")
	Warn("w")
	Error("e")
	InfoScan("scan started", "example.org")

	out := buf.String()
	for _, msg := range []string{"msg=d", "msg=i", "msg=w", "msg=e", "target=example.org"} {
		if !strings.Contains(out, msg) {
			t.Errorf("Expected %q in output %q", msg, out)
		}
	}
}

func TestNewDiscard(t *testing.T) {
	logger := NewDiscard()
	logger.WithTarget("x").WithError(errors.New("ignored")).Error("nothing")
}
