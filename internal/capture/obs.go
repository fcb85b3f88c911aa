package capture

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/patinas/ScreenPulse/internal/diaglog"
	"github.com/patinas/ScreenPulse/internal/obsws"
)

// OBSBackend records through a running OBS instance over obs-websocket v5.
// OBS owns the encoder process, so the handle tracks the recording output
// rather than a child process: "alive" means OBS reports an active record
// output on a healthy websocket.
type OBSBackend struct {
	client *obsws.Client
	out    *log.Logger
	errLog *log.Logger
	diag   *diaglog.Logger

	connectAttempts  int
	connectRetryWait time.Duration

	mu     sync.Mutex
	active *obsHandle
}

// NewOBSBackend creates the backend without connecting. Call Connect before
// the first Start. Launching the OBS process itself is the caller's
// business (see obsws.StartOBSIfNeeded); the backend only ever talks to
// the websocket.
func NewOBSBackend(url, password string, out, errLog *log.Logger, diag *diaglog.Logger) *OBSBackend {
	b := &OBSBackend{
		client:           obsws.NewClient(url, password),
		out:              out,
		errLog:           errLog,
		diag:             diag,
		connectAttempts:  3,
		connectRetryWait: 2 * time.Second,
	}
	b.client.SetLogger(diag)
	b.client.OnRecordStateChanged(b.recordStateChanged)
	b.client.OnDisconnected(b.wsDisconnected)
	return b
}

// Name implements Backend.
func (b *OBSBackend) Name() string { return "obs" }

// Connect identifies over the websocket and runs the scene preflight. The
// obsws client keeps reconnecting on its own after the first successful
// connect, so a transient OBS restart heals without daemon intervention.
func (b *OBSBackend) Connect() error {
	if b.client.IsConnected() {
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= b.connectAttempts; attempt++ {
		if err := b.client.Connect(); err != nil {
			lastErr = err
			b.errLog.Printf("[STARTUP] OBS websocket connect attempt %d failed: %v", attempt, err)
			time.Sleep(b.connectRetryWait)
			continue
		}
		lastErr = nil
		break
	}
	if lastErr != nil {
		return fmt.Errorf("connect to obs websocket: %w", lastErr)
	}

	if err := b.client.EnsureDisplaySource(); err != nil {
		return fmt.Errorf("obs scene preflight: %w", err)
	}

	return nil
}

// Close tears down the websocket and disables reconnection.
func (b *OBSBackend) Close() {
	b.client.Disconnect()
}

// Client exposes the underlying websocket client for status surfaces.
func (b *OBSBackend) Client() *obsws.Client {
	return b.client
}

// Start implements Backend. outputPath names the file the session wants;
// OBS records into its own directory with the same stem and appends the
// container extension it is configured for, so the final path is taken
// from the stop event rather than assumed.
func (b *OBSBackend) Start(outputPath string) (Handle, error) {
	if !b.client.IsConnected() {
		return nil, fmt.Errorf("%w: obs websocket not connected", ErrLaunch)
	}

	stem := strings.TrimSuffix(filepath.Base(outputPath), filepath.Ext(outputPath))

	if err := b.client.SetFilenameFormatting(stem); err != nil {
		return nil, fmt.Errorf("%w: set filename format: %v", ErrLaunch, err)
	}
	if err := b.client.StartRecord(stem); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLaunch, err)
	}

	h := &obsHandle{
		client:    b.client,
		errLog:    b.errLog,
		requested: b.client.GetRecordingState().OutputPath,
		done:      make(chan struct{}),
	}

	b.mu.Lock()
	b.active = h
	b.mu.Unlock()

	b.out.Printf("[EVENT] obs recording started -> %s", h.requested)
	return h, nil
}

// recordStateChanged finalizes the active handle when OBS reports the
// record output went inactive, whether we asked for it or not.
func (b *OBSBackend) recordStateChanged(recording bool) {
	if recording {
		return
	}

	b.mu.Lock()
	h := b.active
	b.active = nil
	b.mu.Unlock()

	if h == nil {
		return
	}
	h.finish(b.client.GetRecordingState().OutputPath, nil)
}

// wsDisconnected fails the active handle. OBS may well keep recording on
// its own, but without the websocket there is no way to control or observe
// it, so the session is over from the daemon's point of view.
func (b *OBSBackend) wsDisconnected() {
	b.mu.Lock()
	h := b.active
	b.active = nil
	b.mu.Unlock()

	if h == nil {
		return
	}
	b.errLog.Printf("[EVENT] obs websocket dropped while recording; session abandoned")
	h.finish("", errors.New("obs websocket disconnected during recording"))
}

type obsHandle struct {
	client    *obsws.Client
	errLog    *log.Logger
	requested string

	mu        sync.Mutex
	stopReq   bool
	forced    bool
	finalPath string
	failErr   error
	finished  bool
	done      chan struct{}
}

// finish resolves the handle exactly once.
func (h *obsHandle) finish(path string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.finished {
		return
	}
	h.finished = true
	if path != "" {
		h.finalPath = path
	}
	h.failErr = err
	close(h.done)
}

// Alive implements Handle.
func (h *obsHandle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// SignalStop implements Handle. StopRecord is synchronous in obs-websocket,
// so on success the handle resolves immediately instead of waiting for the
// RecordStateChanged event to race in.
func (h *obsHandle) SignalStop() error {
	h.mu.Lock()
	if h.finished {
		h.mu.Unlock()
		return nil
	}
	h.stopReq = true
	h.mu.Unlock()

	path, err := h.client.StopRecord("requested")
	if err != nil {
		return err
	}
	h.finish(path, nil)
	return nil
}

// Wait implements Handle.
func (h *obsHandle) Wait(timeout time.Duration) (ExitResult, error) {
	select {
	case <-h.done:
		return h.result(), nil
	case <-time.After(timeout):
		return ExitResult{}, ErrStopTimeout
	}
}

// Kill implements Handle. There is no process to kill: the best available
// escalation is one more stop request, after which the handle is written
// off either way.
func (h *obsHandle) Kill() error {
	h.mu.Lock()
	if h.finished {
		h.mu.Unlock()
		return nil
	}
	h.forced = true
	h.mu.Unlock()

	path, err := h.client.StopRecord("forced")
	if err != nil {
		h.errLog.Printf("[SHUTDOWN] forced OBS stop failed, OBS may still be recording: %v", err)
		h.finish("", fmt.Errorf("forced stop failed: %w", err))
		return nil
	}
	h.finish(path, nil)
	return nil
}

// OutputPath implements Handle.
func (h *obsHandle) OutputPath() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.finalPath != "" {
		return h.finalPath
	}
	return h.requested
}

func (h *obsHandle) result() ExitResult {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.failErr != nil {
		return ExitResult{Code: -1, Clean: false, Forced: h.forced, Err: h.failErr}
	}
	// OBS finalizes the container on every stop it acknowledges. A stop we
	// never requested still means an intact file, but the session did not
	// end the way the controller intended, so it is not clean.
	return ExitResult{Code: 0, Clean: h.stopReq && !h.forced, Forced: h.forced}
}
