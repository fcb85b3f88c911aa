package ipc

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/patinas/ScreenPulse/internal/session"
)

func TestStatusRoundTrip(t *testing.T) {
	dir := t.TempDir()

	st := session.Status{
		State:        "active",
		Armed:        true,
		SessionID:    "b5c7f9e2-8f1a-4f53-9c3c-2f1d2ab4c890",
		OutputPath:   "/home/u/Videos/screenpulse/recording_20260115_143005.mp4",
		Backend:      "exec",
		StartedAt:    time.Date(2026, 1, 15, 14, 30, 5, 0, time.UTC),
		LastActivity: time.Date(2026, 1, 15, 14, 42, 0, 0, time.UTC),
		UpdatedAt:    time.Date(2026, 1, 15, 14, 42, 1, 0, time.UTC),
		PID:          4242,
	}

	if err := WriteStatus(dir, st); err != nil {
		t.Fatalf("WriteStatus: %v", err)
	}

	got, err := ReadStatus(dir)
	if err != nil {
		t.Fatalf("ReadStatus: %v", err)
	}

	if got.State != st.State {
		t.Errorf("State = %q, want %q", got.State, st.State)
	}
	if got.Armed != st.Armed {
		t.Errorf("Armed = %v, want %v", got.Armed, st.Armed)
	}
	if got.SessionID != st.SessionID {
		t.Errorf("SessionID = %q, want %q", got.SessionID, st.SessionID)
	}
	if got.OutputPath != st.OutputPath {
		t.Errorf("OutputPath = %q, want %q", got.OutputPath, st.OutputPath)
	}
	if got.Backend != st.Backend {
		t.Errorf("Backend = %q, want %q", got.Backend, st.Backend)
	}
	if !got.StartedAt.Equal(st.StartedAt) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, st.StartedAt)
	}
	if !got.LastActivity.Equal(st.LastActivity) {
		t.Errorf("LastActivity = %v, want %v", got.LastActivity, st.LastActivity)
	}
	if !got.UpdatedAt.Equal(st.UpdatedAt) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, st.UpdatedAt)
	}
	if got.PID != st.PID {
		t.Errorf("PID = %d, want %d", got.PID, st.PID)
	}
}

func TestWriteStatusCreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "cache")

	if err := WriteStatus(dir, session.Status{State: "idle"}); err != nil {
		t.Fatalf("WriteStatus: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "status.json")); err != nil {
		t.Errorf("status file missing: %v", err)
	}
}

func TestWriteStatusOverwrites(t *testing.T) {
	dir := t.TempDir()

	if err := WriteStatus(dir, session.Status{State: "idle", PID: 1}); err != nil {
		t.Fatalf("WriteStatus: %v", err)
	}
	if err := WriteStatus(dir, session.Status{State: "active", PID: 2}); err != nil {
		t.Fatalf("WriteStatus: %v", err)
	}

	got, err := ReadStatus(dir)
	if err != nil {
		t.Fatalf("ReadStatus: %v", err)
	}
	if got.State != "active" || got.PID != 2 {
		t.Errorf("got %q/%d, want the second snapshot", got.State, got.PID)
	}
}

func TestWriteStatusLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()

	if err := WriteStatus(dir, session.Status{State: "idle"}); err != nil {
		t.Fatalf("WriteStatus: %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	if err != nil {
		t.Fatalf("Glob: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("temp files left behind: %v", matches)
	}
}

func TestReadStatusMissing(t *testing.T) {
	if _, err := ReadStatus(t.TempDir()); !os.IsNotExist(err) {
		t.Errorf("err = %v, want not-exist", err)
	}
}

func TestCommandRoundTrip(t *testing.T) {
	commands := []session.Command{
		session.CmdStart, session.CmdStop, session.CmdSplit,
		session.CmdPause, session.CmdResume, session.CmdQuit,
	}

	for _, cmd := range commands {
		t.Run(string(cmd), func(t *testing.T) {
			dir := t.TempDir()

			if err := WriteCommand(dir, cmd); err != nil {
				t.Fatalf("WriteCommand: %v", err)
			}

			got, err := ReadCommand(dir)
			if err != nil {
				t.Fatalf("ReadCommand: %v", err)
			}
			if got != cmd {
				t.Errorf("ReadCommand = %q, want %q", got, cmd)
			}

			// The read must clear the command so it runs once.
			again, err := ReadCommand(dir)
			if err != nil {
				t.Fatalf("second ReadCommand: %v", err)
			}
			if again != "" {
				t.Errorf("command not cleared, second read got %q", again)
			}
		})
	}
}

func TestReadCommandMissing(t *testing.T) {
	cmd, err := ReadCommand(t.TempDir())
	if err != nil {
		t.Fatalf("ReadCommand: %v", err)
	}
	if cmd != "" {
		t.Errorf("ReadCommand = %q, want empty", cmd)
	}
}

func TestReadCommandUnknownIgnored(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "cmd.txt"), []byte("selfdestruct"), 0644); err != nil {
		t.Fatalf("seed command file: %v", err)
	}

	cmd, err := ReadCommand(dir)
	if err != nil {
		t.Fatalf("ReadCommand: %v", err)
	}
	if cmd != "" {
		t.Errorf("ReadCommand = %q, want empty for unknown input", cmd)
	}

	// Unknown input is still consumed.
	data, err := os.ReadFile(filepath.Join(dir, "cmd.txt"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(data) != 0 {
		t.Errorf("command file not cleared, still holds %q", data)
	}
}

func TestReadCommandTrimsWhitespace(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "cmd.txt"), []byte("  quit\n"), 0644); err != nil {
		t.Fatalf("seed command file: %v", err)
	}

	cmd, err := ReadCommand(dir)
	if err != nil {
		t.Fatalf("ReadCommand: %v", err)
	}
	if cmd != session.CmdQuit {
		t.Errorf("ReadCommand = %q, want %q", cmd, session.CmdQuit)
	}
}
