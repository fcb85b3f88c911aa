package command

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// writeFakeScript creates a shell script in the temp dir that acts as the
// analyzer binary.
func writeFakeScript(t *testing.T, dir, name, script string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("failed to write fake script: %v", err)
	}
	return path
}

func writeFakeVideo(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "recording.mp4")
	if err := os.WriteFile(path, []byte("fake video"), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
}

const validOutput = `{"title": "Writing a test", "summary": "The user writes and runs a test.", "steps": ["Step 1: Open the editor", "Step 2: Run the suite"], "model": "local-vlm"}`

func TestName(t *testing.T) {
	b := NewBackend(Config{})
	if b.Name() != "command" {
		t.Errorf("expected name %q, got %q", "command", b.Name())
	}
}

func TestAnalyzeVideo_Success(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()

	script := "#!/bin/sh\necho '" + validOutput + "'\n"
	binPath := writeFakeScript(t, dir, "analyze", script)
	video := writeFakeVideo(t, dir)

	b := NewBackend(Config{BinaryPath: binPath, TimeoutSeconds: 10})
	analysis, err := b.AnalyzeVideo(context.Background(), video)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if analysis.Title != "Writing a test" {
		t.Errorf("unexpected title: %q", analysis.Title)
	}
	if len(analysis.Steps) != 2 {
		t.Errorf("expected 2 steps, got %d", len(analysis.Steps))
	}
	if analysis.Backend != "command" {
		t.Errorf("expected backend %q, got %q", "command", analysis.Backend)
	}
	if analysis.Model != "local-vlm" {
		t.Errorf("expected model from output, got %q", analysis.Model)
	}
	if analysis.Duration <= 0 {
		t.Error("expected positive duration")
	}
}

func TestAnalyzeVideo_PassesArgs(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()

	capture := filepath.Join(dir, "args.txt")
	script := "#!/bin/sh\necho \"$@\" > " + capture + "\necho '" + validOutput + "'\n"
	binPath := writeFakeScript(t, dir, "analyze", script)
	video := writeFakeVideo(t, dir)

	b := NewBackend(Config{
		BinaryPath: binPath,
		ExtraArgs:  []string{"--model", "tiny"},
	})
	if _, err := b.AnalyzeVideo(context.Background(), video); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := os.ReadFile(capture)
	if err != nil {
		t.Fatalf("read captured args: %v", err)
	}
	want := "--model tiny " + video
	if strings.TrimSpace(string(got)) != want {
		t.Errorf("expected args %q, got %q", want, strings.TrimSpace(string(got)))
	}
}

func TestAnalyzeVideo_BinaryMissing(t *testing.T) {
	dir := t.TempDir()
	b := NewBackend(Config{BinaryPath: filepath.Join(dir, "nope")})

	_, err := b.AnalyzeVideo(context.Background(), writeFakeVideo(t, dir))
	if err == nil {
		t.Fatal("expected error for missing binary")
	}
	if !strings.Contains(err.Error(), "binary not found") {
		t.Errorf("expected binary not found error, got: %v", err)
	}
}

func TestAnalyzeVideo_VideoMissing(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	binPath := writeFakeScript(t, dir, "analyze", "#!/bin/sh\necho ok\n")

	b := NewBackend(Config{BinaryPath: binPath})
	_, err := b.AnalyzeVideo(context.Background(), filepath.Join(dir, "missing.mp4"))
	if err == nil {
		t.Fatal("expected error for missing video")
	}
	if !strings.Contains(err.Error(), "video not found") {
		t.Errorf("expected video not found error, got: %v", err)
	}
}

func TestAnalyzeVideo_InvalidJSON(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	binPath := writeFakeScript(t, dir, "analyze", "#!/bin/sh\necho 'not json at all'\n")

	b := NewBackend(Config{BinaryPath: binPath})
	_, err := b.AnalyzeVideo(context.Background(), writeFakeVideo(t, dir))
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
	if !strings.Contains(err.Error(), "parse JSON") {
		t.Errorf("expected JSON parse error, got: %v", err)
	}
}

func TestAnalyzeVideo_MissingSteps(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	script := "#!/bin/sh\necho '{\"title\": \"T\", \"summary\": \"S\", \"steps\": []}'\n"
	binPath := writeFakeScript(t, dir, "analyze", script)

	b := NewBackend(Config{BinaryPath: binPath})
	_, err := b.AnalyzeVideo(context.Background(), writeFakeVideo(t, dir))
	if err == nil {
		t.Fatal("expected error for empty steps")
	}
	if !strings.Contains(err.Error(), "no steps") {
		t.Errorf("expected no steps error, got: %v", err)
	}
}

func TestAnalyzeVideo_SubprocessFails(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	script := "#!/bin/sh\necho 'model exploded' >&2\nexit 1\n"
	binPath := writeFakeScript(t, dir, "analyze", script)

	b := NewBackend(Config{BinaryPath: binPath})
	_, err := b.AnalyzeVideo(context.Background(), writeFakeVideo(t, dir))
	if err == nil {
		t.Fatal("expected error for failing subprocess")
	}
	if !strings.Contains(err.Error(), "model exploded") {
		t.Errorf("expected stderr in error, got: %v", err)
	}
}

func TestAnalyzeVideo_Timeout(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	binPath := writeFakeScript(t, dir, "analyze", "#!/bin/sh\nsleep 10\n")

	b := NewBackend(Config{BinaryPath: binPath, TimeoutSeconds: 1})
	start := time.Now()
	_, err := b.AnalyzeVideo(context.Background(), writeFakeVideo(t, dir))
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("expected timeout error, got: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("timeout took too long: %v", elapsed)
	}
}

func TestAnalyzeVideo_ContextCancelled(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	binPath := writeFakeScript(t, dir, "analyze", "#!/bin/sh\nsleep 10\n")

	b := NewBackend(Config{BinaryPath: binPath, TimeoutSeconds: 30})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := b.AnalyzeVideo(ctx, writeFakeVideo(t, dir))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline error, got: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("cancellation took too long: %v", elapsed)
	}
}

func TestHealthCheck_OK(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	binPath := writeFakeScript(t, dir, "analyze", "#!/bin/sh\nexit 0\n")

	b := NewBackend(Config{BinaryPath: binPath})
	status, err := b.HealthCheck()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !status.OK {
		t.Errorf("expected healthy, got: %s", status.Message)
	}
}

func TestHealthCheck_BinaryMissing(t *testing.T) {
	b := NewBackend(Config{BinaryPath: "/nonexistent/analyze"})
	status, err := b.HealthCheck()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.OK {
		t.Error("expected unhealthy for missing binary")
	}
	if !strings.Contains(status.Message, "not found") {
		t.Errorf("expected not found message, got: %q", status.Message)
	}
}

func TestHealthCheck_NotExecutable(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "analyze")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"), 0644); err != nil {
		t.Fatal(err)
	}

	b := NewBackend(Config{BinaryPath: path})
	status, err := b.HealthCheck()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.OK {
		t.Error("expected unhealthy for non-executable binary")
	}
	if !strings.Contains(status.Message, "not executable") {
		t.Errorf("expected not executable message, got: %q", status.Message)
	}
}
