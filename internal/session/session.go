// Package session contains the activity-driven recording state machine:
// a pure per-tick decision function and the controller that applies its
// decisions to a capture backend.
package session

import (
	"time"

	"github.com/patinas/ScreenPulse/internal/capture"
)

// State is the controller's position in the recording lifecycle.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateActive
	StateStoppingGraceful
	StateRotating
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateStoppingGraceful:
		return "stopping"
	case StateRotating:
		return "rotating"
	default:
		return "unknown"
	}
}

// Stop reasons recorded in logs, sidecar metadata, and the index.
const (
	ReasonIdle     = "idle"
	ReasonRotation = "rotation"
	ReasonShutdown = "shutdown"
	ReasonCrash    = "crash"
	ReasonManual   = "manual"
)

// Session is one continuous capture attempt. The controller exclusively
// owns the process handle behind it; everyone else sees this value.
type Session struct {
	ID         string    `json:"id"`
	OutputPath string    `json:"output_path"`
	Backend    string    `json:"backend"`
	StartedAt  time.Time `json:"started_at"`
}

// Result describes a finished session, delivered to OnSessionEnd.
type Result struct {
	Session   Session
	StoppedAt time.Time
	Reason    string
	Exit      capture.ExitResult
}

// Status is the controller's externally visible snapshot, refreshed after
// every tick and transition.
type Status struct {
	State        string    `json:"state"`
	Armed        bool      `json:"armed"`
	SessionID    string    `json:"session_id,omitempty"`
	OutputPath   string    `json:"output_path,omitempty"`
	Backend      string    `json:"backend,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	LastActivity time.Time `json:"last_activity"`
	UpdatedAt    time.Time `json:"updated_at"`
	PID          int       `json:"pid"`
}

// Command is a manual override delivered through the command file.
type Command string

const (
	CmdStart  Command = "start"
	CmdStop   Command = "stop"
	CmdSplit  Command = "split"
	CmdPause  Command = "pause"
	CmdResume Command = "resume"
	CmdQuit   Command = "quit"
)

// ParseCommand maps a command-file token to a Command.
func ParseCommand(s string) (Command, bool) {
	switch Command(s) {
	case CmdStart, CmdStop, CmdSplit, CmdPause, CmdResume, CmdQuit:
		return Command(s), true
	default:
		return "", false
	}
}
