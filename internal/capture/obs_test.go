package capture

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/patinas/ScreenPulse/internal/diaglog"
	"github.com/patinas/ScreenPulse/testutil"
)

func newTestOBSBackend(t *testing.T) (*OBSBackend, *testutil.MockOBSServer) {
	t.Helper()

	mock := testutil.NewMockOBS()
	if err := mock.Start(); err != nil {
		t.Fatalf("mock start failed: %v", err)
	}
	t.Cleanup(func() { _ = mock.Stop() })

	b := NewOBSBackend(mock.URL(), "", quietLogger(), quietLogger(), diaglog.NewNoOp())
	b.connectAttempts = 1
	b.connectRetryWait = 10 * time.Millisecond
	t.Cleanup(b.Close)

	return b, mock
}

func TestOBSBackendName(t *testing.T) {
	b := NewOBSBackend("ws://localhost:4455", "", quietLogger(), quietLogger(), diaglog.NewNoOp())
	if b.Name() != "obs" {
		t.Errorf("Name() = %s, want obs", b.Name())
	}
}

func TestOBSBackendConnectRunsPreflight(t *testing.T) {
	b, _ := newTestOBSBackend(t)

	// Empty scene: the preflight has to create the screen source itself
	if err := b.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	setup, err := b.Client().CheckRecordingSetup()
	if err != nil {
		t.Fatalf("CheckRecordingSetup failed: %v", err)
	}
	if !setup.HasDisplayVideo {
		t.Error("preflight should have created a display source")
	}
}

func TestOBSBackendConnectRefused(t *testing.T) {
	b := NewOBSBackend("ws://127.0.0.1:1", "", quietLogger(), quietLogger(), diaglog.NewNoOp())
	b.connectAttempts = 1
	b.connectRetryWait = 10 * time.Millisecond

	if err := b.Connect(); err == nil {
		t.Fatal("Connect should fail when nothing listens on the port")
	}
}

func TestOBSBackendStartNotConnected(t *testing.T) {
	b := NewOBSBackend("ws://localhost:4455", "", quietLogger(), quietLogger(), diaglog.NewNoOp())

	_, err := b.Start("/tmp/recording_20260101_120000.mp4")
	if !errors.Is(err, ErrLaunch) {
		t.Fatalf("Start without connection = %v, want ErrLaunch", err)
	}
}

func TestOBSBackendStartAndGracefulStop(t *testing.T) {
	b, mock := newTestOBSBackend(t)
	mock.SeedDisplaySource("Screen", "xshm_input")

	if err := b.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	h, err := b.Start("/videos/recording_20260101_120000.mp4")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if !h.Alive() {
		t.Error("handle should be alive right after Start")
	}
	testutil.AssertEventually(t, mock.Recording, 2*time.Second, 10*time.Millisecond,
		"mock should report recording after Start")

	if err := h.SignalStop(); err != nil {
		t.Fatalf("SignalStop failed: %v", err)
	}

	res, err := h.Wait(2 * time.Second)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if !res.Clean {
		t.Errorf("requested stop should be clean, got %+v", res)
	}
	if res.Code != 0 {
		t.Errorf("Code = %d, want 0", res.Code)
	}
	if h.Alive() {
		t.Error("handle should be dead after stop")
	}

	// OBS reports its own output path: same stem, its own container
	if !strings.HasSuffix(h.OutputPath(), "recording_20260101_120000.mkv") {
		t.Errorf("OutputPath = %s, want OBS-reported .mkv path", h.OutputPath())
	}
	if mock.Recording() {
		t.Error("mock should not be recording after stop")
	}
}

func TestOBSBackendSecondStartFailsWhileRecording(t *testing.T) {
	b, mock := newTestOBSBackend(t)
	mock.SeedDisplaySource("Screen", "xshm_input")

	if err := b.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	h, err := b.Start("/videos/recording_20260101_120000.mp4")
	if err != nil {
		t.Fatalf("first Start failed: %v", err)
	}
	defer func() {
		_ = h.SignalStop()
		_, _ = h.Wait(2 * time.Second)
	}()

	_, err = b.Start("/videos/recording_20260101_120100.mp4")
	if !errors.Is(err, ErrLaunch) {
		t.Fatalf("second Start = %v, want ErrLaunch while output active", err)
	}
}

func TestOBSBackendUserStopIsUnclean(t *testing.T) {
	b, mock := newTestOBSBackend(t)
	mock.SeedDisplaySource("Screen", "xshm_input")

	if err := b.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	h, err := b.Start("/videos/recording_20260101_120000.mp4")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	testutil.AssertEventually(t, mock.Recording, 2*time.Second, 10*time.Millisecond,
		"mock should report recording after Start")

	// Someone clicks Stop in the OBS UI
	if err := mock.SimulateUserStop(); err != nil {
		t.Fatalf("SimulateUserStop failed: %v", err)
	}

	res, err := h.Wait(2 * time.Second)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if res.Clean {
		t.Error("a stop the daemon never requested must not be clean")
	}
	if res.Err != nil {
		t.Errorf("file is still finalized, want no error, got %v", res.Err)
	}
	if !strings.HasSuffix(h.OutputPath(), ".mkv") {
		t.Errorf("OutputPath = %s, want path from the stop event", h.OutputPath())
	}
}

func TestOBSBackendDisconnectFailsHandle(t *testing.T) {
	b, mock := newTestOBSBackend(t)
	mock.SeedDisplaySource("Screen", "xshm_input")

	if err := b.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	// Keep the test deterministic: no background reconnect racing the
	// assertions below
	b.Client().SetReconnectEnabled(false)

	h, err := b.Start("/videos/recording_20260101_120000.mp4")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	mock.DropConnection()

	res, err := h.Wait(2 * time.Second)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if res.Clean {
		t.Error("losing the websocket mid-recording must not be clean")
	}
	if res.Err == nil {
		t.Error("expected a failure error after websocket drop")
	}
}

func TestOBSBackendWaitTimesOutWithoutStop(t *testing.T) {
	b, mock := newTestOBSBackend(t)
	mock.SeedDisplaySource("Screen", "xshm_input")

	if err := b.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	h, err := b.Start("/videos/recording_20260101_120000.mp4")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() {
		_ = h.SignalStop()
		_, _ = h.Wait(2 * time.Second)
	}()

	_, err = h.Wait(100 * time.Millisecond)
	if !errors.Is(err, ErrStopTimeout) {
		t.Fatalf("Wait without stop = %v, want ErrStopTimeout", err)
	}
}

func TestOBSBackendKillResolvesHandle(t *testing.T) {
	b, mock := newTestOBSBackend(t)
	mock.SeedDisplaySource("Screen", "xshm_input")

	if err := b.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	h, err := b.Start("/videos/recording_20260101_120000.mp4")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := h.Kill(); err != nil {
		t.Fatalf("Kill failed: %v", err)
	}

	res, err := h.Wait(time.Second)
	if err != nil {
		t.Fatalf("Wait after Kill failed: %v", err)
	}
	if res.Clean {
		t.Error("forced stop must not be clean")
	}
	if !res.Forced {
		t.Error("Forced should be set after Kill")
	}
	if mock.Recording() {
		t.Error("mock should not be recording after Kill")
	}

	// Kill after resolution is a no-op
	if err := h.Kill(); err != nil {
		t.Errorf("second Kill = %v, want nil", err)
	}
}
