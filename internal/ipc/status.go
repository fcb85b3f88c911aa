// Package ipc bridges the daemon and its control clients through small
// files in the cache directory: a status snapshot the daemon refreshes
// and a command file clients drop for it to pick up.
package ipc

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/patinas/ScreenPulse/internal/session"
)

// DefaultDir returns the standard exchange directory.
func DefaultDir() string {
	return filepath.Join(os.Getenv("HOME"), ".cache", "screenpulse")
}

func statusPath(dir string) string {
	return filepath.Join(dir, "status.json")
}

// WriteStatus persists the daemon status snapshot to <dir>/status.json
// using an atomic write, so readers never observe a partial file.
func WriteStatus(dir string, st session.Status) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return atomicWriteJSON(statusPath(dir), st)
}

// ReadStatus loads the last snapshot the daemon wrote.
func ReadStatus(dir string) (session.Status, error) {
	var st session.Status

	data, err := os.ReadFile(statusPath(dir))
	if err != nil {
		return st, err
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, err
	}
	return st, nil
}

// atomicWriteJSON writes data to a file atomically using temp file + rename
func atomicWriteJSON(path string, data interface{}) error {
	// Create temp file in same directory
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "status-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	// Ensure cleanup on error
	defer func() {
		if tmpFile != nil {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	// Write JSON with indentation for readability
	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return err
	}

	// Sync to disk before rename
	if err := tmpFile.Sync(); err != nil {
		return err
	}

	// Close file before rename
	if err := tmpFile.Close(); err != nil {
		return err
	}
	tmpFile = nil // Prevent defer cleanup

	// Atomic rename
	return os.Rename(tmpPath, path)
}
