package session

import "time"

// Action is what the controller should do on this tick.
type Action int

const (
	ActionNone Action = iota
	ActionStart
	ActionStop
	ActionRotate
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionStart:
		return "start"
	case ActionStop:
		return "stop"
	case ActionRotate:
		return "rotate"
	default:
		return "unknown"
	}
}

// Tick is everything the policy may look at. The controller fills one in
// per poll; tests construct them directly.
type Tick struct {
	State        State
	Now          time.Time
	LastActivity time.Time // zero means no activity observed since start
	StartedAt    time.Time // zero unless a session exists
	Shutdown     bool
	Armed        bool      // auto-start enabled; toggled by pause/resume
	RearmAt      time.Time // after a failure, starting needs activity strictly newer than this
}

// Policy holds the two durations the whole state machine turns on.
type Policy struct {
	IdleTimeout time.Duration
	MaxDuration time.Duration
}

// Decide evaluates one tick. It is a pure function: same inputs, same
// answer, no side effects.
//
// Boundary comparisons are inclusive: a session that has been idle for
// exactly IdleTimeout stops, a session that has run for exactly
// MaxDuration rotates or stops. When the idle timeout and the max
// duration trip on the same tick the session stops without rotating,
// because resuming is pointless while the user is away.
func (p Policy) Decide(t Tick) Action {
	switch t.State {
	case StateIdle:
		if t.Shutdown || !t.Armed {
			return ActionNone
		}
		// Never start on the zero value: booting the daemon is not
		// user activity.
		if t.LastActivity.IsZero() {
			return ActionNone
		}
		// Re-arm guard: after a launch failure or crash, only activity
		// strictly newer than the failure may start a session. Stops
		// retry storms against a broken encoder.
		if !t.LastActivity.After(t.RearmAt) {
			return ActionNone
		}
		if t.Now.Sub(t.LastActivity) < p.IdleTimeout {
			return ActionStart
		}
		return ActionNone

	case StateActive:
		if t.Shutdown {
			return ActionStop
		}
		idle := t.Now.Sub(t.LastActivity) >= p.IdleTimeout
		expired := t.Now.Sub(t.StartedAt) >= p.MaxDuration
		if idle {
			return ActionStop
		}
		if expired {
			return ActionRotate
		}
		return ActionNone

	default:
		// Starting, StoppingGraceful and Rotating are transient within a
		// single controller step; nothing to decide there.
		return ActionNone
	}
}
