// Package logging sets up the daemon's plain-text log pair with size-capped
// rotation. Messages are mirrored to the console so the daemon behaves the
// same under systemd (journal captures stdout) and in a terminal.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
)

const maxLogSize = 10 * 1024 * 1024 // rotate at 10MB

// Setup opens <dir>/<name>.out.log and <dir>/<name>.err.log, rotating each
// to .old when it exceeds the size cap, and returns the out/err logger pair.
func Setup(dir, name string) (*log.Logger, *log.Logger, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}

	outLogPath := filepath.Join(dir, name+".out.log")
	errLogPath := filepath.Join(dir, name+".err.log")

	if err := rotateIfNeeded(outLogPath, maxLogSize); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to rotate out log: %v\n", err)
	}
	if err := rotateIfNeeded(errLogPath, maxLogSize); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to rotate err log: %v\n", err)
	}

	outFile, err := os.OpenFile(outLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, err
	}

	errFile, err := os.OpenFile(errLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		outFile.Close()
		return nil, nil, err
	}

	prefix := "[" + name + "]"
	outLog := log.New(io.MultiWriter(os.Stdout, outFile), prefix+" ", log.LstdFlags)
	errLog := log.New(io.MultiWriter(os.Stderr, errFile), prefix+" ERROR: ", log.LstdFlags)

	return outLog, errLog, nil
}

// rotateIfNeeded renames logPath to logPath.old when it exceeds maxSize bytes,
// replacing any previous .old file.
func rotateIfNeeded(logPath string, maxSize int64) error {
	info, err := os.Stat(logPath)
	if os.IsNotExist(err) {
		return nil // Log doesn't exist yet
	}
	if err != nil {
		return err
	}

	if info.Size() < maxSize {
		return nil // Log is under size limit
	}

	oldPath := logPath + ".old"
	if err := os.Remove(oldPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove old log: %w", err)
	}

	return os.Rename(logPath, oldPath)
}
