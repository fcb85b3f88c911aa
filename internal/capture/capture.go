// Package capture abstracts screen recorder backends behind a common
// start/stop contract.
package capture

import (
	"errors"
	"time"
)

// ErrLaunch is returned by Backend.Start when the recorder cannot be
// spawned: missing binary, bad pipe, immediate spawn failure. The session
// controller treats it as recoverable.
var ErrLaunch = errors.New("failed to launch recorder")

// ErrStopTimeout is returned by Handle.Wait when the recorder outlives the
// timeout. The caller is expected to escalate to Kill.
var ErrStopTimeout = errors.New("recorder did not exit in time")

// ExitResult describes how a recorder process ended.
type ExitResult struct {
	Code   int   // Process exit code, -1 when killed by a signal
	Clean  bool  // Exit was the expected answer to a requested stop
	Forced bool  // Termination needed a kill escalation
	Err    error // Underlying wait error for unclean exits
}

// Handle controls one live recorder process.
type Handle interface {
	// Alive reports whether the recorder is still running. Non-blocking.
	Alive() bool

	// SignalStop asks the recorder to finish and finalize the output file.
	// Non-blocking; the caller follows up with Wait.
	SignalStop() error

	// Wait blocks until the recorder exits or timeout elapses, returning
	// ErrStopTimeout on expiry.
	Wait(timeout time.Duration) (ExitResult, error)

	// Kill force-terminates the recorder. The output file may end up
	// truncated.
	Kill() error

	// OutputPath returns the recording destination. Backends that choose
	// their own container finalize the path on exit.
	OutputPath() string
}

// Backend launches recorder processes.
type Backend interface {
	Name() string
	Start(outputPath string) (Handle, error)
}
