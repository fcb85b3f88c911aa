package capture

import (
	"os/exec"
	"syscall"
	"time"
)

// killOptions configures process group termination behavior.
type killOptions struct {
	// GracePeriod is how long to wait after SIGTERM before sending SIGKILL.
	// Default: 2s, enough for an encoder to flush its container.
	GracePeriod time.Duration
}

// killProcessGroup sends SIGTERM to a process group, waits for the grace
// period, then sends SIGKILL if processes are still running.
// The leaderPID parameter is the process ID of the group leader.
func killProcessGroup(leaderPID int, opts killOptions) error {
	if opts.GracePeriod == 0 {
		opts.GracePeriod = 2 * time.Second
	}

	// Get the actual process group ID
	pgid, err := syscall.Getpgid(leaderPID)
	if err != nil {
		// ESRCH means the process already exited
		if err == syscall.ESRCH {
			return nil
		}
		return err
	}

	if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil {
		if err == syscall.ESRCH {
			return nil
		}
		return err
	}

	// Wait for the grace period, polling to see if the group exits
	deadline := time.Now().Add(opts.GracePeriod)
	for time.Now().Before(deadline) {
		err := syscall.Kill(-pgid, 0)
		if err == syscall.ESRCH {
			// Process group exited
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Still running, send SIGKILL
	// EPERM can occur if the process group emptied during the grace period
	err = syscall.Kill(-pgid, syscall.SIGKILL)
	if err != nil && err != syscall.ESRCH && err != syscall.EPERM {
		return err
	}

	return nil
}

// setProcessGroup configures a command to run in its own process group so
// escalation can kill the encoder and any children it forked.
func setProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}
