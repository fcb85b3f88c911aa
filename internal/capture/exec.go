package capture

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/patinas/ScreenPulse/internal/diaglog"
)

type encoderKind int

const (
	encoderFFmpeg encoderKind = iota
	encoderWFRecorder
)

func (k encoderKind) String() string {
	if k == encoderWFRecorder {
		return "wf-recorder"
	}
	return "ffmpeg"
}

// ExecOptions tune the subprocess recorder.
type ExecOptions struct {
	Encoder     string // "auto", "ffmpeg" or "wf-recorder"
	EncoderPath string // Override binary location
	Display     string // X11 display, defaults to $DISPLAY
	Resolution  string // WIDTHxHEIGHT
	Framerate   int
	CRF         int
	ExtraArgs   []string
}

// ExecBackend records the screen by driving ffmpeg (X11) or wf-recorder
// (Wayland) as a child process.
type ExecBackend struct {
	opts   ExecOptions
	out    *log.Logger
	errLog *log.Logger
	diag   *diaglog.Logger
}

// NewExecBackend returns a subprocess-based recorder backend.
func NewExecBackend(opts ExecOptions, out, errLog *log.Logger, diag *diaglog.Logger) *ExecBackend {
	return &ExecBackend{opts: opts, out: out, errLog: errLog, diag: diag}
}

// Name implements Backend.
func (b *ExecBackend) Name() string { return "exec" }

// Start launches the encoder for outputPath. The binary is resolved on
// every call so an encoder installed after a failure works on the next
// session without a daemon restart.
func (b *ExecBackend) Start(outputPath string) (Handle, error) {
	bin, kind, err := b.resolve()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLaunch, err)
	}

	cmd := exec.Command(bin, b.buildArgs(kind, outputPath)...)
	setProcessGroup(cmd)

	tail := &tailBuffer{max: 4096}
	cmd.Stderr = tail

	var stdin io.WriteCloser
	if kind == encoderFFmpeg {
		// ffmpeg stops cleanly on a 'q' keypress.
		stdin, err = cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("%w: stdin pipe: %v", ErrLaunch, err)
		}
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLaunch, err)
	}

	b.out.Printf("[EVENT] recorder started: %s (pid %d) -> %s", kind, cmd.Process.Pid, outputPath)

	h := &execHandle{
		kind:       kind,
		outputPath: outputPath,
		cmd:        cmd,
		stdin:      stdin,
		stderr:     tail,
		errLog:     b.errLog,
		killGrace:  2 * time.Second,
		done:       make(chan struct{}),
	}
	go h.reap()
	return h, nil
}

// resolve picks the encoder binary. "auto" prefers wf-recorder on Wayland
// sessions and falls back to whichever of the two is installed.
func (b *ExecBackend) resolve() (string, encoderKind, error) {
	choice := b.opts.Encoder
	if choice == "" {
		choice = "auto"
	}

	if choice == "auto" {
		candidates := []string{"ffmpeg", "wf-recorder"}
		if isWaylandSession() {
			candidates = []string{"wf-recorder", "ffmpeg"}
		}
		for _, c := range candidates {
			if path, err := exec.LookPath(c); err == nil {
				return path, kindOf(c), nil
			}
		}
		return "", 0, errors.New("neither ffmpeg nor wf-recorder found in PATH")
	}

	bin := b.opts.EncoderPath
	if bin == "" {
		bin = choice
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		return "", 0, err
	}
	return path, kindOf(choice), nil
}

func kindOf(encoder string) encoderKind {
	if encoder == "wf-recorder" {
		return encoderWFRecorder
	}
	return encoderFFmpeg
}

func isWaylandSession() bool {
	if strings.EqualFold(os.Getenv("XDG_SESSION_TYPE"), "wayland") {
		return true
	}
	return os.Getenv("WAYLAND_DISPLAY") != ""
}

func (b *ExecBackend) buildArgs(kind encoderKind, outputPath string) []string {
	if kind == encoderWFRecorder {
		args := []string{
			"-f", outputPath,
			"-c", "libx264",
			"--pixel-format", "yuv420p",
			"-r", strconv.Itoa(b.opts.Framerate),
		}
		return append(args, b.opts.ExtraArgs...)
	}

	display := b.opts.Display
	if display == "" {
		display = os.Getenv("DISPLAY")
	}
	if display == "" {
		display = ":0"
	}

	// The scale filter wants W:H, the grab size wants WxH.
	filterRes := strings.Replace(b.opts.Resolution, "x", ":", 1)

	args := []string{
		"-f", "x11grab",
		"-video_size", b.opts.Resolution,
		"-framerate", strconv.Itoa(b.opts.Framerate),
		"-i", display,
		"-c:v", "libx264",
		"-preset", "medium",
		"-crf", strconv.Itoa(b.opts.CRF),
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		"-vf", "scale=" + filterRes + ":flags=lanczos",
	}
	args = append(args, b.opts.ExtraArgs...)
	return append(args, "-y", outputPath)
}

// execHandle controls one running encoder process.
type execHandle struct {
	kind       encoderKind
	outputPath string
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	stderr     *tailBuffer
	errLog     *log.Logger
	killGrace  time.Duration

	mu            sync.Mutex
	stopRequested bool
	forced        bool

	exitErr error // written once before done closes
	done    chan struct{}
}

// reap waits for the process exactly once; everyone else observes the
// done channel.
func (h *execHandle) reap() {
	err := h.cmd.Wait()
	h.exitErr = err
	close(h.done)

	if err == nil {
		return
	}
	h.mu.Lock()
	requested := h.stopRequested
	h.mu.Unlock()
	if !requested {
		if tail := h.stderr.String(); tail != "" {
			h.errLog.Printf("recorder stderr: %s", truncate(tail, 400))
		}
	}
}

// Alive implements Handle.
func (h *execHandle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// SignalStop implements Handle. ffmpeg gets 'q' on stdin, wf-recorder gets
// SIGINT; both finalize the file before exiting.
func (h *execHandle) SignalStop() error {
	h.mu.Lock()
	h.stopRequested = true
	h.mu.Unlock()

	if h.kind == encoderFFmpeg {
		if h.stdin == nil {
			return errors.New("no stdin pipe")
		}
		_, err := h.stdin.Write([]byte("q\n"))
		return err
	}
	return h.cmd.Process.Signal(syscall.SIGINT)
}

// Wait implements Handle.
func (h *execHandle) Wait(timeout time.Duration) (ExitResult, error) {
	select {
	case <-h.done:
		return h.result(), nil
	case <-time.After(timeout):
		return ExitResult{}, ErrStopTimeout
	}
}

// Kill implements Handle. Terminates the whole encoder process group.
func (h *execHandle) Kill() error {
	h.mu.Lock()
	h.forced = true
	h.mu.Unlock()
	return killProcessGroup(h.cmd.Process.Pid, killOptions{GracePeriod: h.killGrace})
}

// OutputPath implements Handle.
func (h *execHandle) OutputPath() string { return h.outputPath }

// result interprets the exit status. Call only after done is closed.
func (h *execHandle) result() ExitResult {
	h.mu.Lock()
	requested := h.stopRequested
	forced := h.forced
	h.mu.Unlock()

	res := ExitResult{Forced: forced}
	err := h.exitErr
	if err == nil {
		// Status 0 means the container was finalized, however we got here.
		res.Code = 0
		res.Clean = true
		return res
	}

	res.Err = err
	res.Code = -1

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.Code = exitErr.ExitCode()
		switch h.kind {
		case encoderFFmpeg:
			// ffmpeg answers the 'q' keypress with status 255.
			res.Clean = requested && res.Code == 255
		case encoderWFRecorder:
			// wf-recorder dies from the SIGINT we sent.
			if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
				if ws.Signaled() && ws.Signal() == syscall.SIGINT {
					res.Clean = requested
				}
			}
		}
	}
	return res
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
