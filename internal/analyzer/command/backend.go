// Package command runs a user-supplied executable to analyze recordings.
// The binary receives the video path as its last argument and must print a
// JSON object with title, summary, and steps on stdout. Useful for local
// models or custom pipelines when the hosted API is not an option.
package command

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/patinas/ScreenPulse/internal/analyzer"
)

// Config configures the external-command backend.
type Config struct {
	BinaryPath     string   // analyzer executable
	ExtraArgs      []string // inserted before the video path
	TimeoutSeconds int      // default 300
}

// Backend shells out to an external analyzer binary.
type Backend struct {
	cfg Config
}

// NewBackend creates a new command backend with the given config.
func NewBackend(cfg Config) *Backend {
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 300
	}
	return &Backend{cfg: cfg}
}

// Name returns the backend identifier.
func (b *Backend) Name() string {
	return "command"
}

// commandOutput is the JSON shape the analyzer binary must print.
type commandOutput struct {
	Title   string   `json:"title"`
	Summary string   `json:"summary"`
	Steps   []string `json:"steps"`
	Model   string   `json:"model"`
}

// AnalyzeVideo invokes the analyzer subprocess on the video file. The
// subprocess runs in its own process group so a timeout or a cancelled ctx
// kills the whole tree.
func (b *Backend) AnalyzeVideo(ctx context.Context, videoPath string) (*analyzer.Analysis, error) {
	if _, err := os.Stat(b.cfg.BinaryPath); err != nil {
		return nil, fmt.Errorf("command: binary not found at %q: %w", b.cfg.BinaryPath, err)
	}
	if _, err := os.Stat(videoPath); err != nil {
		return nil, fmt.Errorf("command: video not found: %w", err)
	}

	start := time.Now()
	args := append(append([]string{}, b.cfg.ExtraArgs...), videoPath)
	cmd := exec.Command(b.cfg.BinaryPath, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("command: failed to start subprocess: %w", err)
	}

	var mu sync.Mutex
	var killed, cancelled bool
	killGroup := func() { _ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL) }

	timer := time.AfterFunc(time.Duration(b.cfg.TimeoutSeconds)*time.Second, func() {
		mu.Lock()
		killed = true
		mu.Unlock()
		killGroup()
	})
	watchDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			mu.Lock()
			cancelled = true
			mu.Unlock()
			killGroup()
		case <-watchDone:
		}
	}()

	err := cmd.Wait()
	timer.Stop()
	close(watchDone)

	if err != nil {
		mu.Lock()
		wasKilled, wasCancelled := killed, cancelled
		mu.Unlock()
		if wasCancelled {
			return nil, ctx.Err()
		}
		if wasKilled {
			return nil, fmt.Errorf("command: analysis timed out after %d seconds", b.cfg.TimeoutSeconds)
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("command: subprocess failed: %w: %s", err, firstN(msg, 300))
		}
		return nil, fmt.Errorf("command: subprocess failed: %w", err)
	}

	var out commandOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, fmt.Errorf("command: failed to parse JSON output: %w", err)
	}
	if out.Title == "" || out.Summary == "" {
		return nil, fmt.Errorf("command: output missing title or summary")
	}
	if len(out.Steps) == 0 {
		return nil, fmt.Errorf("command: output has no steps")
	}

	return &analyzer.Analysis{
		Title:    out.Title,
		Summary:  out.Summary,
		Steps:    out.Steps,
		Model:    out.Model,
		Backend:  b.Name(),
		Duration: time.Since(start),
	}, nil
}

// HealthCheck verifies the analyzer binary exists, is executable, and responds.
func (b *Backend) HealthCheck() (*analyzer.HealthStatus, error) {
	status := &analyzer.HealthStatus{
		Backend: b.Name(),
	}

	info, err := os.Stat(b.cfg.BinaryPath)
	if err != nil {
		status.Message = fmt.Sprintf("binary not found at %q: %v", b.cfg.BinaryPath, err)
		return status, nil
	}
	if info.Mode()&0111 == 0 {
		status.Message = fmt.Sprintf("binary at %q is not executable", b.cfg.BinaryPath)
		return status, nil
	}

	start := time.Now()
	cmd := exec.Command(b.cfg.BinaryPath, "--help")
	err = cmd.Run()
	status.Latency = time.Since(start)

	// --help may exit non-zero on some binaries; we just need it to execute
	if err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			status.Message = fmt.Sprintf("binary failed to execute: %v", err)
			return status, nil
		}
	}

	status.OK = true
	status.Message = "binary is available and executable"
	return status, nil
}

func firstN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
