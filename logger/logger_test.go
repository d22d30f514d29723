package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// setupTestLogger creates a temp log file and initializes the logger with it.
func setupTestLogger(t *testing.T) string {
	t.Helper()
	Reset()

	logPath := filepath.Join(t.TempDir(), "test.log")
	if err := Init(logPath); err != nil {
		t.Fatalf("Failed to init logger: %v", err)
	}
	t.Cleanup(Reset)

	return logPath
}

func TestGet(t *testing.T) {
	setupTestLogger(t)

	log := Get()
	if log == nil {
		t.Fatal("Get() returned nil")
	}

	// Should not panic
	log.Info("test message")
	log.Debug("debug message", "key", "value")
	log.Warn("warning", "count", 42)
	log.Error("error occurred", "err", "something failed")
}

func TestGet_StructuredLogging(t *testing.T) {
	logPath := setupTestLogger(t)

	log := Get()
	log.Info("session event", "event", "spawned", "pid", 123)

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}

	contentStr := string(content)
	if !strings.Contains(contentStr, "session event") {
		t.Error("Should contain message")
	}
	if !strings.Contains(contentStr, "event=spawned") {
		t.Error("Should contain event=spawned")
	}
	if !strings.Contains(contentStr, "pid=123") {
		t.Error("Should contain pid=123")
	}
}

func TestWithSession(t *testing.T) {
	logPath := setupTestLogger(t)

	log := WithSession("abc-123")
	log.Info("write arrived")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.Contains(string(content), "sessionID=abc-123") {
		t.Error("Should contain sessionID field")
	}
}

func TestWithComponent(t *testing.T) {
	logPath := setupTestLogger(t)

	log := WithComponent("supervisor")
	log.Info("started")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.Contains(string(content), "component=supervisor") {
		t.Error("Should contain component field")
	}
}

func TestSetDebug(t *testing.T) {
	logPath := setupTestLogger(t)

	SetDebug(false)
	Get().Debug("hidden message")

	SetDebug(true)
	Get().Debug("visible message")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}

	contentStr := string(content)
	if strings.Contains(contentStr, "hidden message") {
		t.Error("Debug message should be suppressed at info level")
	}
	if !strings.Contains(contentStr, "visible message") {
		t.Error("Debug message should appear when debug enabled")
	}
}

func TestInit_Idempotent(t *testing.T) {
	logPath := setupTestLogger(t)

	// Second Init with a different path is a no-op
	other := filepath.Join(t.TempDir(), "other.log")
	if err := Init(other); err != nil {
		t.Fatalf("second Init: %v", err)
	}

	Get().Info("after second init")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.Contains(string(content), "after second init") {
		t.Error("Log output should still go to the first path")
	}
	if _, err := os.Stat(other); err == nil {
		t.Error("Second path should not have been created")
	}
}
