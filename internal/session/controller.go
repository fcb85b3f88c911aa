package session

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/patinas/ScreenPulse/internal/activity"
	"github.com/patinas/ScreenPulse/internal/capture"
	"github.com/patinas/ScreenPulse/internal/diaglog"
	"github.com/patinas/ScreenPulse/internal/fileutil"
)

// killConfirmWait bounds the post-Kill wait for the reaper to report death.
const killConfirmWait = 2 * time.Second

// Config holds the controller's timing knobs and output location.
type Config struct {
	OutputDir    string
	PollInterval time.Duration
	IdleTimeout  time.Duration
	MaxDuration  time.Duration
	StopTimeout  time.Duration
	StartupGrace time.Duration
}

// Controller runs the recording state machine: one single-threaded loop
// woken on a fixed tick, re-evaluating Policy.Decide and applying the
// result. Stop waits intentionally block the loop; a new encoder is never
// launched while the previous one might still be alive.
type Controller struct {
	cfg     Config
	policy  Policy
	backend capture.Backend
	tracker *activity.Tracker
	out     *log.Logger
	errLog  *log.Logger
	diag    *diaglog.Logger

	cmds chan Command

	// Loop-owned state. Only Run's goroutine touches these.
	state    State
	session  *Session
	handle   capture.Handle
	armed    bool
	shutdown bool
	rearmAt  time.Time

	// OnSessionEnd fires once per finished session, crashed or clean.
	// OnStatus fires after every tick and transition with a fresh
	// snapshot. Both run on the control loop; keep them quick.
	OnSessionEnd func(Result)
	OnStatus     func(Status)
}

// New wires a controller. Callbacks may be assigned before Run is called.
func New(cfg Config, backend capture.Backend, tracker *activity.Tracker, out, errLog *log.Logger, diag *diaglog.Logger) *Controller {
	return &Controller{
		cfg:     cfg,
		policy:  Policy{IdleTimeout: cfg.IdleTimeout, MaxDuration: cfg.MaxDuration},
		backend: backend,
		tracker: tracker,
		out:     out,
		errLog:  errLog,
		diag:    diag,
		cmds:    make(chan Command, 8),
		state:   StateIdle,
		armed:   true,
	}
}

// Send queues a manual command for the control loop. Never blocks; a full
// queue drops the command with a log line.
func (c *Controller) Send(cmd Command) {
	select {
	case c.cmds <- cmd:
	default:
		c.errLog.Printf("[EVENT] command queue full, dropping %q", cmd)
	}
}

// Run drives the state machine until ctx is cancelled or a quit command
// arrives. The final stop completes before Run returns.
func (c *Controller) Run(ctx context.Context) error {
	c.out.Printf("[STARTUP] session controller running (backend=%s idle_timeout=%s max_duration=%s poll=%s)",
		c.backend.Name(), c.cfg.IdleTimeout, c.cfg.MaxDuration, c.cfg.PollInterval)

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	c.pushStatus()
	for {
		select {
		case <-ctx.Done():
			c.shutdown = true
		case cmd := <-c.cmds:
			c.applyCommand(cmd)
		case <-ticker.C:
			c.step()
		}

		if c.shutdown {
			// Shutdown skips rotation entirely: final stop, then exit.
			if c.session != nil {
				c.stopSession(ReasonShutdown)
			}
			c.pushStatus()
			c.out.Printf("[SHUTDOWN] session controller stopped")
			return nil
		}
		c.pushStatus()
	}
}

// step is one tick: crash detection first, then the pure decision.
func (c *Controller) step() {
	c.detectCrash()

	tick := Tick{
		State:        c.state,
		Now:          time.Now(),
		LastActivity: c.tracker.Last(),
		Armed:        c.armed,
		RearmAt:      c.rearmAt,
	}
	if c.session != nil {
		tick.StartedAt = c.session.StartedAt
	}

	switch c.policy.Decide(tick) {
	case ActionStart:
		c.startSession("activity")
	case ActionStop:
		c.stopSession(ReasonIdle)
	case ActionRotate:
		c.rotate()
	}
}

// detectCrash reaps an encoder that died outside a requested stop.
func (c *Controller) detectCrash() {
	if c.session == nil || c.handle.Alive() {
		return
	}

	res, err := c.handle.Wait(killConfirmWait)
	if err != nil {
		res = capture.ExitResult{Code: -1, Err: err}
	}
	c.errLog.Printf("[EVENT] session %s crashed: recorder exited unexpectedly (code %d)", c.session.ID, res.Code)
	c.diag.Log(diaglog.LogEntry{
		Component: diaglog.ComponentController,
		Event:     diaglog.EventSessionCrash,
		SessionID: c.session.ID,
		Payload:   map[string]interface{}{"exit_code": res.Code},
	})

	c.finishSession(ReasonCrash, res)
	// Only activity newer than the crash may start the next session.
	c.rearmAt = time.Now()
}

// startSession launches the encoder and waits out the startup grace
// window. An encoder that dies inside the window is a launch failure:
// settle Idle and re-arm rather than retry immediately.
func (c *Controller) startSession(trigger string) {
	c.state = StateStarting
	now := time.Now()
	path := fileutil.EnsureUnique(filepath.Join(c.cfg.OutputDir, fileutil.SessionFilename(now)))

	handle, err := c.backend.Start(path)
	if err != nil {
		c.errLog.Printf("[EVENT] failed to launch recorder: %v", err)
		c.diag.Log(diaglog.LogEntry{
			Component: diaglog.ComponentController,
			Event:     diaglog.EventLaunchFailed,
			Payload:   map[string]interface{}{"error": err.Error(), "output": path},
		})
		c.rearmAt = time.Now()
		c.state = StateIdle
		return
	}

	time.Sleep(c.cfg.StartupGrace)
	if !handle.Alive() {
		res, werr := handle.Wait(killConfirmWait)
		if werr != nil {
			res = capture.ExitResult{Code: -1, Err: werr}
		}
		c.errLog.Printf("[EVENT] recorder died during startup grace (code %d)", res.Code)
		c.diag.Log(diaglog.LogEntry{
			Component: diaglog.ComponentController,
			Event:     diaglog.EventLaunchFailed,
			Payload:   map[string]interface{}{"exit_code": res.Code, "output": handle.OutputPath()},
		})

		// The encoder may have left a stub file behind; report it as a
		// crashed session so the sidecar and index record what happened.
		sess := Session{ID: uuid.NewString(), OutputPath: handle.OutputPath(), Backend: c.backend.Name(), StartedAt: now}
		if c.OnSessionEnd != nil {
			c.OnSessionEnd(Result{Session: sess, StoppedAt: time.Now(), Reason: ReasonCrash, Exit: res})
		}
		c.rearmAt = time.Now()
		c.state = StateIdle
		return
	}

	c.session = &Session{
		ID:         uuid.NewString(),
		OutputPath: handle.OutputPath(),
		Backend:    c.backend.Name(),
		StartedAt:  now,
	}
	c.handle = handle
	c.state = StateActive

	c.out.Printf("[EVENT] session %s started (%s) -> %s", c.session.ID, trigger, c.session.OutputPath)
	c.diag.Log(diaglog.LogEntry{
		Component: diaglog.ComponentController,
		Event:     diaglog.EventSessionStart,
		SessionID: c.session.ID,
		Reason:    trigger,
		Payload:   map[string]interface{}{"output": c.session.OutputPath, "backend": c.session.Backend},
	})
}

// stopSession runs the graceful stop sequence: SignalStop, bounded Wait,
// Kill escalation on timeout. Returns true once the encoder is confirmed
// dead. The blocking waits are deliberate backpressure on the loop.
func (c *Controller) stopSession(reason string) bool {
	if c.session == nil {
		return true
	}
	c.state = StateStoppingGraceful
	c.out.Printf("[EVENT] stopping session %s (%s)", c.session.ID, reason)

	if err := c.handle.SignalStop(); err != nil {
		c.errLog.Printf("[EVENT] graceful stop request failed: %v", err)
	}

	res, err := c.handle.Wait(c.cfg.StopTimeout)
	if err != nil {
		c.errLog.Printf("[EVENT] recorder ignored graceful stop after %s, forcing kill (file may be truncated)", c.cfg.StopTimeout)
		c.diag.Log(diaglog.LogEntry{
			Component: diaglog.ComponentController,
			Event:     diaglog.EventStopEscalation,
			SessionID: c.session.ID,
			Reason:    reason,
		})
		if kerr := c.handle.Kill(); kerr != nil {
			c.errLog.Printf("[EVENT] kill failed: %v", kerr)
		}
		res, err = c.handle.Wait(killConfirmWait)
		if err != nil {
			// Could not confirm death. Report the session as force-ended
			// and re-arm so only fresh activity may launch the next
			// encoder over whatever is left of this one.
			c.errLog.Printf("[EVENT] could not confirm recorder death: %v", err)
			c.finishSession(reason, capture.ExitResult{Code: -1, Forced: true, Err: err})
			c.rearmAt = time.Now()
			return false
		}
	}

	c.finishSession(reason, res)
	return true
}

// finishSession emits the result and resets to Idle.
func (c *Controller) finishSession(reason string, exit capture.ExitResult) {
	s := *c.session
	stopped := time.Now()

	c.out.Printf("[EVENT] session %s ended (%s, clean=%v)", s.ID, reason, exit.Clean)
	c.diag.Log(diaglog.LogEntry{
		Component: diaglog.ComponentController,
		Event:     diaglog.EventSessionStop,
		SessionID: s.ID,
		Reason:    reason,
		Payload: map[string]interface{}{
			"clean":     exit.Clean,
			"forced":    exit.Forced,
			"exit_code": exit.Code,
			"output":    s.OutputPath,
		},
	})

	if c.OnSessionEnd != nil {
		c.OnSessionEnd(Result{Session: s, StoppedAt: stopped, Reason: reason, Exit: exit})
	}

	c.session = nil
	c.handle = nil
	c.state = StateIdle
}

// rotate splits the recording at max duration: graceful stop, confirm
// dead, then immediately start the next file. If death cannot be
// confirmed the new start is refused and the controller settles Idle.
func (c *Controller) rotate() {
	c.state = StateRotating
	c.out.Printf("[EVENT] rotating session %s at max duration", c.session.ID)
	c.diag.Log(diaglog.LogEntry{
		Component: diaglog.ComponentController,
		Event:     diaglog.EventSessionRotate,
		SessionID: c.session.ID,
	})

	if !c.stopSession(ReasonRotation) {
		return
	}
	c.startSession("rotation")
}

func (c *Controller) applyCommand(cmd Command) {
	c.out.Printf("[EVENT] command received: %s", cmd)
	c.diag.Log(diaglog.LogEntry{
		Component: diaglog.ComponentController,
		Event:     diaglog.EventCommand,
		Payload:   map[string]interface{}{"command": string(cmd)},
	})

	switch cmd {
	case CmdStart:
		if c.session == nil {
			c.startSession("manual")
		}
	case CmdStop:
		if c.session != nil {
			c.stopSession(ReasonManual)
			// Hold Idle until fresh activity arrives, otherwise the next
			// tick would restart immediately.
			c.rearmAt = time.Now()
		}
	case CmdSplit:
		if c.session != nil {
			c.rotate()
		}
	case CmdPause:
		c.armed = false
		c.out.Printf("[EVENT] auto-start paused; current session keeps running")
	case CmdResume:
		c.armed = true
		c.out.Printf("[EVENT] auto-start resumed")
	case CmdQuit:
		c.shutdown = true
	}
}

func (c *Controller) pushStatus() {
	if c.OnStatus == nil {
		return
	}
	st := Status{
		State:        c.state.String(),
		Armed:        c.armed,
		LastActivity: c.tracker.Last(),
		UpdatedAt:    time.Now(),
		PID:          os.Getpid(),
	}
	if c.session != nil {
		st.SessionID = c.session.ID
		st.OutputPath = c.session.OutputPath
		st.Backend = c.session.Backend
		st.StartedAt = c.session.StartedAt
	}
	c.OnStatus(st)
}
