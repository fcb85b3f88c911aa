package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDiagExportsBundle(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "debug.log")
	lines := `{"event":"session_start"}` + "\n" + `{"event":"session_stop"}` + "\n"
	if err := os.WriteFile(logPath, []byte(lines), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SCREENPULSE_LOG_PATH", logPath)
	dest := t.TempDir()
	t.Cleanup(func() { diagDest = "." })

	out, err := executeCommand(rootCmd, "diag", "--dest", dest)
	if err != nil {
		t.Fatalf("diag command error: %v\noutput:\n%s", err, out)
	}
	if !strings.Contains(out, "Wrote: ") || !strings.Contains(out, "(2 lines)") {
		t.Errorf("unexpected output:\n%s", out)
	}

	matches, err := filepath.Glob(filepath.Join(dest, "screenpulse-diag-*.ndjson"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("expected one bundle in %s, got %v (%v)", dest, matches, err)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatal(err)
	}
	// Header line plus the two log lines.
	if got := strings.Count(string(data), "\n"); got != 3 {
		t.Errorf("bundle has %d lines, want 3", got)
	}
}

func TestDiagMissingLog(t *testing.T) {
	t.Setenv("SCREENPULSE_LOG_PATH", filepath.Join(t.TempDir(), "missing.log"))
	t.Cleanup(func() { diagDest = "." })

	out, err := executeCommand(rootCmd, "diag", "--dest", t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "log file not found") {
		t.Fatalf("expected a not-found error, got: %v", err)
	}
	if !strings.Contains(out, "SCREENPULSE_DEBUG=true") {
		t.Errorf("expected an enable-logging hint, got:\n%s", out)
	}
}
