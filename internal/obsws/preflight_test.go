package obsws

import (
	"runtime"
	"strings"
	"testing"
)

func newPreflightClient(t *testing.T, mock *mockOBSServer) *Client {
	t.Helper()

	client := NewClient(mock.URL(), "")
	if err := client.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(client.Disconnect)
	return client
}

func TestValidateDisplaySource(t *testing.T) {
	tests := []struct {
		name     string
		items    []SourceInfo
		wantHas  bool
		wantName string
	}{
		{
			name: "enabled screen capture",
			items: []SourceInfo{
				{SourceName: "Screen", InputKind: "xshm_input", Enabled: true},
			},
			wantHas:  true,
			wantName: "Screen",
		},
		{
			name: "wayland pipewire capture",
			items: []SourceInfo{
				{SourceName: "Desktop", InputKind: "pipewire-desktop-capture-source", Enabled: true},
			},
			wantHas:  true,
			wantName: "Desktop",
		},
		{
			name: "disabled screen capture",
			items: []SourceInfo{
				{SourceName: "Screen", InputKind: "xshm_input", Enabled: false},
			},
			wantHas: false,
		},
		{
			name: "only non-display sources",
			items: []SourceInfo{
				{SourceName: "Mic", InputKind: "pulse_input_capture", Enabled: true},
				{SourceName: "Cam", InputKind: "v4l2_input", Enabled: true},
			},
			wantHas: false,
		},
		{
			name:    "empty scene",
			items:   []SourceInfo{},
			wantHas: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMockOBSServer()
			defer mock.Close()
			mock.SetSceneItems(tt.items)

			client := newPreflightClient(t, mock)

			result, err := client.ValidateDisplaySource("Test Scene")
			if err != nil {
				t.Fatalf("ValidateDisplaySource failed: %v", err)
			}

			if result.HasDisplayVideo != tt.wantHas {
				t.Errorf("HasDisplayVideo = %v, want %v", result.HasDisplayVideo, tt.wantHas)
			}
			if tt.wantHas && result.VideoSourceName != tt.wantName {
				t.Errorf("VideoSourceName = %s, want %s", result.VideoSourceName, tt.wantName)
			}
		})
	}
}

func TestGetActiveScene(t *testing.T) {
	mock := newMockOBSServer()
	defer mock.Close()

	client := newPreflightClient(t, mock)

	scene, err := client.GetActiveScene()
	if err != nil {
		t.Fatalf("GetActiveScene failed: %v", err)
	}
	if scene != "Test Scene" {
		t.Errorf("scene = %s, want Test Scene", scene)
	}
}

func TestEnsureDisplaySourceCreatesWhenMissing(t *testing.T) {
	mock := newMockOBSServer()
	defer mock.Close()

	client := newPreflightClient(t, mock)

	if err := client.EnsureDisplaySource(); err != nil {
		t.Fatalf("EnsureDisplaySource failed: %v", err)
	}

	result, err := client.ValidateDisplaySource("Test Scene")
	if err != nil {
		t.Fatalf("ValidateDisplaySource failed: %v", err)
	}
	if !result.HasDisplayVideo {
		t.Fatal("scene should have a display source after EnsureDisplaySource")
	}
	if result.VideoSourceName != "Screen Capture" {
		t.Errorf("created source name = %s, want Screen Capture", result.VideoSourceName)
	}
}

func TestEnsureDisplaySourceKeepsExisting(t *testing.T) {
	mock := newMockOBSServer()
	defer mock.Close()
	mock.SetSceneItems([]SourceInfo{
		{SourceName: "My Screen", InputKind: "xshm_input", Enabled: true},
	})

	client := newPreflightClient(t, mock)

	if err := client.EnsureDisplaySource(); err != nil {
		t.Fatalf("EnsureDisplaySource failed: %v", err)
	}

	sources, err := client.GetSceneSources("Test Scene")
	if err != nil {
		t.Fatalf("GetSceneSources failed: %v", err)
	}
	if len(sources) != 1 {
		t.Errorf("source count = %d, want 1 (no duplicate created)", len(sources))
	}
	if sources[0].SourceName != "My Screen" {
		t.Errorf("source name = %s, want My Screen", sources[0].SourceName)
	}
}

func TestCheckRecordingSetup(t *testing.T) {
	mock := newMockOBSServer()
	defer mock.Close()

	client := newPreflightClient(t, mock)

	// Empty scene: preflight reports the gap without creating anything
	result, err := client.CheckRecordingSetup()
	if err != nil {
		t.Fatalf("CheckRecordingSetup failed: %v", err)
	}
	if result.HasDisplayVideo {
		t.Error("empty scene should not report a display source")
	}
	if result.SceneName != "Test Scene" {
		t.Errorf("scene name = %s, want Test Scene", result.SceneName)
	}

	mock.SetSceneItems([]SourceInfo{
		{SourceName: "Screen", InputKind: "monitor_capture", Enabled: true},
	})

	result, err = client.CheckRecordingSetup()
	if err != nil {
		t.Fatalf("CheckRecordingSetup failed: %v", err)
	}
	if !result.HasDisplayVideo {
		t.Error("seeded scene should report a display source")
	}
}

func TestCreateSourceAbortsOnCode204(t *testing.T) {
	mock := newMockOBSServer()
	defer mock.Close()
	mock.SetFailureMode("code204")

	client := newPreflightClient(t, mock)

	// Code 204 means a version mismatch; retrying cannot help, so the
	// retry wrapper must give up on the first attempt
	err := client.CreateSourceWithRetry("Test Scene", "Screen Capture", "xshm_input", map[string]interface{}{}, 3)
	if err == nil {
		t.Fatal("expected error for code 204")
	}
	if !strings.Contains(err.Error(), "204") {
		t.Errorf("error should mention code 204, got: %v", err)
	}
	if strings.Contains(err.Error(), "after 3 retries") {
		t.Errorf("code 204 should abort immediately, not exhaust retries: %v", err)
	}
}

func TestCreateSourceRecovery(t *testing.T) {
	mock := newMockOBSServer()
	defer mock.Close()
	mock.SetFailureMode("code203")

	client := newPreflightClient(t, mock)

	// First attempt fails while the failure mode is active
	if err := client.CreateSource("Test Scene", "Screen Capture", "xshm_input", map[string]interface{}{}); err == nil {
		t.Fatal("CreateSource should fail with code 203")
	}

	mock.SetFailureMode("")

	// Second attempt succeeds after recovery
	if err := client.CreateSource("Test Scene", "Screen Capture 2", "xshm_input", map[string]interface{}{}); err != nil {
		t.Fatalf("CreateSource should succeed after recovery: %v", err)
	}
}

func TestDefaultDisplayKind(t *testing.T) {
	kind, settings := defaultDisplayKind()

	if kind == "" {
		t.Fatal("defaultDisplayKind returned empty kind")
	}
	if !displaySourceKinds[kind] {
		t.Errorf("kind %s is not in the recognized display source set", kind)
	}
	if settings == nil {
		t.Error("settings should not be nil")
	}
}

func TestIsOBSRunning(t *testing.T) {
	// Cannot assert whether OBS is running on the test host, only that
	// the process query does not panic
	running := isOBSRunning()
	t.Logf("OBS running on %s: %v", runtime.GOOS, running)
}
