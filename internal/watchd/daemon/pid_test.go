package daemon

import (
	"os"
	"path/filepath"
	"testing"
)

// TestWritePIDFileRoundTrip writes a PID and reads it back, creating the
// parent directory along the way.
func TestWritePIDFileRoundTrip(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "run", "watchd.pid")

	pid := os.Getpid()
	if err := WritePIDFile(pidFile, pid); err != nil {
		t.Fatalf("WritePIDFile() failed: %v", err)
	}

	readPID, err := ReadPIDFromFile(pidFile)
	if err != nil {
		t.Fatalf("ReadPIDFromFile() failed: %v", err)
	}
	if readPID != pid {
		t.Errorf("ReadPIDFromFile() = %d, want %d", readPID, pid)
	}

	info, err := os.Stat(pidFile)
	if err != nil {
		t.Fatalf("Failed to stat PID file: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("PID file permissions = %o, want 0600", info.Mode().Perm())
	}
}

// TestWritePIDFileOverwrite verifies a second write replaces the first.
func TestWritePIDFileOverwrite(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "watchd.pid")

	if err := WritePIDFile(pidFile, 111); err != nil {
		t.Fatalf("first WritePIDFile() failed: %v", err)
	}
	if err := WritePIDFile(pidFile, 222); err != nil {
		t.Fatalf("second WritePIDFile() failed: %v", err)
	}

	pid, err := ReadPIDFromFile(pidFile)
	if err != nil {
		t.Fatalf("ReadPIDFromFile() failed: %v", err)
	}
	if pid != 222 {
		t.Errorf("ReadPIDFromFile() = %d, want 222", pid)
	}
}

// TestReadPIDFromFileMissing preserves os.IsNotExist for the caller, which
// status reporting relies on to distinguish "stopped" from "error".
func TestReadPIDFromFileMissing(t *testing.T) {
	_, err := ReadPIDFromFile(filepath.Join(t.TempDir(), "absent.pid"))
	if err == nil {
		t.Fatal("ReadPIDFromFile() should fail for a missing file")
	}
	if !os.IsNotExist(err) {
		t.Errorf("expected os.IsNotExist error, got: %v", err)
	}
}

// TestReadPIDFromFileInvalid rejects empty and non-numeric pidfiles.
func TestReadPIDFromFileInvalid(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "bad.pid")
	for _, content := range []string{"", "   \n", "abc", "!@#"} {
		if err := os.WriteFile(pidFile, []byte(content), 0600); err != nil {
			t.Fatal(err)
		}
		if _, err := ReadPIDFromFile(pidFile); err == nil {
			t.Errorf("ReadPIDFromFile() accepted content %q", content)
		}
	}
}

// TestReadPIDFromFileWhitespace accepts surrounding whitespace.
func TestReadPIDFromFileWhitespace(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "ws.pid")
	if err := os.WriteFile(pidFile, []byte("  456  \n"), 0600); err != nil {
		t.Fatal(err)
	}
	pid, err := ReadPIDFromFile(pidFile)
	if err != nil {
		t.Fatalf("ReadPIDFromFile() failed: %v", err)
	}
	if pid != 456 {
		t.Errorf("ReadPIDFromFile() = %d, want 456", pid)
	}
}

// TestEnsureDirectoriesExist covers creation, empty-path skipping and
// idempotency in one pass.
func TestEnsureDirectoriesExist(t *testing.T) {
	tmpDir := t.TempDir()
	file1 := filepath.Join(tmpDir, "dir1", "watchd.pid")
	file2 := filepath.Join(tmpDir, "dir2", "sub", "watchd.log")

	if err := EnsureDirectoriesExist(file1, "", file2); err != nil {
		t.Fatalf("EnsureDirectoriesExist() failed: %v", err)
	}
	for _, f := range []string{file1, file2} {
		info, err := os.Stat(filepath.Dir(f))
		if err != nil {
			t.Errorf("directory for %s was not created: %v", f, err)
			continue
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", filepath.Dir(f))
		}
	}

	// second call over existing directories is a no-op
	if err := EnsureDirectoriesExist(file1, file2); err != nil {
		t.Errorf("EnsureDirectoriesExist() failed on existing dirs: %v", err)
	}
}

// TestEnsureDirectoriesExistUnderFile fails when a path component is a
// regular file.
func TestEnsureDirectoriesExistUnderFile(t *testing.T) {
	tmpDir := t.TempDir()
	existingFile := filepath.Join(tmpDir, "file.txt")
	if err := os.WriteFile(existingFile, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	if err := EnsureDirectoriesExist(filepath.Join(existingFile, "sub", "watchd.pid")); err == nil {
		t.Error("EnsureDirectoriesExist() should fail under a regular file")
	}
}
