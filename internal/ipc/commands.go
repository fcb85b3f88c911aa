package ipc

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/patinas/ScreenPulse/internal/session"
)

// CommandPath returns the command file location inside dir.
func CommandPath(dir string) string {
	return filepath.Join(dir, "cmd.txt")
}

// WriteCommand drops a command into <dir>/cmd.txt for the daemon.
func WriteCommand(dir string, cmd session.Command) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(CommandPath(dir), []byte(string(cmd)), 0644)
}

// ReadCommand reads and clears <dir>/cmd.txt.
// Returns the empty command if nothing is pending or the content is not
// a known command.
func ReadCommand(dir string) (session.Command, error) {
	cmdPath := CommandPath(dir)

	data, err := os.ReadFile(cmdPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil // No command pending
		}
		return "", err
	}

	// Clear the file immediately to prevent re-execution
	if err := os.WriteFile(cmdPath, []byte(""), 0644); err != nil {
		return "", err
	}

	cmd, ok := session.ParseCommand(strings.TrimSpace(string(data)))
	if !ok {
		// Unknown command - ignore it
		return "", nil
	}
	return cmd, nil
}
