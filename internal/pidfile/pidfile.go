package pidfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ErrAlreadyRunning is returned by New when a live process already owns the
// PID file. Callers should treat it as fatal and exit without touching the
// other instance's state.
var ErrAlreadyRunning = errors.New("another instance is already running")

// PIDFile manages a PID file for preventing duplicate instances
type PIDFile struct {
	path  string
	pid   int
	stale bool
}

// New creates a new PID file at the specified path.
// If a PID file exists and its process is alive, ErrAlreadyRunning is
// returned (wrapped with the existing PID). A stale file left behind by a
// crashed process is removed and startup continues.
func New(path string) (*PIDFile, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create PID directory: %w", err)
	}

	recovered := false

	// Check if PID file already exists
	if data, err := os.ReadFile(path); err == nil {
		// PID file exists, check if process is running
		pidStr := strings.TrimSpace(string(data))
		if existingPID, err := strconv.Atoi(pidStr); err == nil {
			if isProcessRunning(existingPID) {
				return nil, fmt.Errorf("%w (PID %d)", ErrAlreadyRunning, existingPID)
			}
			// Process not running, remove stale PID file
			if err := os.Remove(path); err != nil {
				return nil, fmt.Errorf("failed to remove stale PID file: %w", err)
			}
			recovered = true
		}
	}

	// Write current process PID
	currentPID := os.Getpid()
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d\n", currentPID)), 0600); err != nil {
		return nil, fmt.Errorf("failed to write PID file: %w", err)
	}

	return &PIDFile{
		path:  path,
		pid:   currentPID,
		stale: recovered,
	}, nil
}

// RemovedStale reports whether New had to clean up a stale PID file from a
// previous crashed instance.
func (p *PIDFile) RemovedStale() bool {
	if p == nil {
		return false
	}
	return p.stale
}

// Remove deletes the PID file
func (p *PIDFile) Remove() error {
	if p == nil {
		return nil
	}

	// Only remove if it contains our PID
	if data, err := os.ReadFile(p.path); err == nil {
		pidStr := strings.TrimSpace(string(data))
		if pid, err := strconv.Atoi(pidStr); err == nil && pid == p.pid {
			return os.Remove(p.path)
		}
	}

	return nil
}

// isProcessRunning checks if a process with the given PID is running
func isProcessRunning(pid int) bool {
	// Send signal 0 to check if process exists
	// This doesn't actually send a signal, just checks if we can
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// On Unix systems, FindProcess always succeeds, so we need to actually check
	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}

	// Check for specific error types
	if err == syscall.ESRCH {
		// No such process
		return false
	}

	if err == syscall.EPERM {
		// Process exists but we don't have permission to signal it
		return true
	}

	return false
}

// PathIn returns the marker file path for an application under the given
// state directory.
func PathIn(stateDir, appName string) string {
	return filepath.Join(stateDir, appName+".pid")
}
