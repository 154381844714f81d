//nolint:errcheck,gosec // Test file with acceptable error handling patterns
package log

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func captureOutput(t *testing.T, fn func()) string {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	defer func() {
		mu.Lock()
		out = os.Stdout
		errOut = os.Stderr
		mu.Unlock()
	}()
	fn()
	return buf.String()
}

func TestSetDebugMode(t *testing.T) {
	originalDebugMode := debugMode
	defer func() { debugMode = originalDebugMode }()

	tests := []struct {
		name    string
		enabled bool
	}{
		{name: "enable debug", enabled: true},
		{name: "disable debug", enabled: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetDebugMode(tt.enabled)
			if debugMode != tt.enabled {
				t.Errorf("SetDebugMode(%v) did not set debugMode correctly", tt.enabled)
			}
		})
	}
}

func TestDebugOutput(t *testing.T) {
	originalDebugMode := debugMode
	defer func() { debugMode = originalDebugMode }()

	SetDebugMode(true)
	output := captureOutput(t, func() { Debug("test %s", "message") })

	if !strings.Contains(output, "test message") {
		t.Errorf("Debug() did not output expected message, got: %s", output)
	}
	if !strings.Contains(output, "[DEBUG]") {
		t.Errorf("Debug() did not include [DEBUG] prefix, got: %s", output)
	}
}

func TestDebugDisabled(t *testing.T) {
	originalDebugMode := debugMode
	defer func() { debugMode = originalDebugMode }()

	SetDebugMode(false)
	output := captureOutput(t, func() { Debug("hidden") })

	if strings.Contains(output, "hidden") {
		t.Errorf("Debug() produced output with debug mode disabled: %s", output)
	}
}

func TestWarnPrefix(t *testing.T) {
	output := captureOutput(t, func() { Warn("conflict on %s", "/etc/x") })

	if !strings.Contains(output, "[!]") {
		t.Errorf("Warn() did not include [!] prefix, got: %s", output)
	}
	if !strings.Contains(output, "conflict on /etc/x") {
		t.Errorf("Warn() did not format message, got: %s", output)
	}
}

func TestReopen(t *testing.T) {
	tmpDir := t.TempDir()
	logFile := filepath.Join(tmpDir, "watchd.log")

	if err := Reopen(logFile); err != nil {
		t.Fatalf("Reopen() failed: %v", err)
	}
	defer func() {
		mu.Lock()
		out = os.Stdout
		errOut = os.Stderr
		mu.Unlock()
	}()

	Info("after reopen")

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "after reopen") {
		t.Errorf("log file missing message, got: %s", string(data))
	}
}

func TestReopenBadPath(t *testing.T) {
	err := Reopen(filepath.Join(t.TempDir(), "missing", "dir", "watchd.log"))
	if err == nil {
		t.Error("Reopen() with missing parent directory should fail")
	}
}
