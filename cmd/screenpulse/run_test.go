package main

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/patinas/ScreenPulse/internal/capture"
	"github.com/patinas/ScreenPulse/internal/fileutil"
	"github.com/patinas/ScreenPulse/internal/index"
	"github.com/patinas/ScreenPulse/internal/session"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func testResult(t *testing.T, dir string) session.Result {
	t.Helper()
	videoPath := filepath.Join(dir, "recording_20250811_141530.mp4")
	if err := os.WriteFile(videoPath, []byte("fake video bytes"), 0644); err != nil {
		t.Fatalf("write video: %v", err)
	}

	started := time.Date(2025, 8, 11, 14, 15, 30, 0, time.UTC)
	return session.Result{
		Session: session.Session{
			ID:         "11111111-2222-3333-4444-555555555555",
			OutputPath: videoPath,
			Backend:    "exec",
			StartedAt:  started,
		},
		StoppedAt: started.Add(90 * time.Second),
		Reason:    session.ReasonIdle,
		Exit:      capture.ExitResult{Clean: true},
	}
}

func TestRecordSessionEndWritesSidecarAndIndex(t *testing.T) {
	dir := t.TempDir()
	store, err := index.Open(filepath.Join(dir, "index.db"))
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	defer store.Close()

	res := testResult(t, dir)
	recordSessionEnd(store, res, quietLogger())

	meta, err := fileutil.ReadMetadata(res.Session.OutputPath)
	if err != nil {
		t.Fatalf("read sidecar: %v", err)
	}
	if meta.SessionID != res.Session.ID {
		t.Errorf("sidecar session id = %q, want %q", meta.SessionID, res.Session.ID)
	}
	if meta.DurationMs != 90000 {
		t.Errorf("sidecar duration_ms = %d, want 90000", meta.DurationMs)
	}
	if meta.StopReason != session.ReasonIdle {
		t.Errorf("sidecar stop reason = %q, want idle", meta.StopReason)
	}
	if !meta.CleanExit {
		t.Error("sidecar should record a clean exit")
	}
	if meta.SizeBytes != int64(len("fake video bytes")) {
		t.Errorf("sidecar size = %d, want %d", meta.SizeBytes, len("fake video bytes"))
	}

	rec, err := store.GetByPath(res.Session.OutputPath)
	if err != nil {
		t.Fatalf("index lookup: %v", err)
	}
	if rec.ID != res.Session.ID {
		t.Errorf("index id = %q, want %q", rec.ID, res.Session.ID)
	}
	if rec.AnalysisState != index.AnalysisPending {
		t.Errorf("index analysis state = %q, want pending", rec.AnalysisState)
	}
	if rec.Backend != "exec" || rec.StopReason != session.ReasonIdle || !rec.Clean {
		t.Errorf("index row mismatch: %+v", rec)
	}
}

func TestRecordSessionEndWithoutIndex(t *testing.T) {
	dir := t.TempDir()
	res := testResult(t, dir)

	// A nil store means the index was unavailable at startup; the sidecar
	// must still land.
	recordSessionEnd(nil, res, quietLogger())

	if _, err := fileutil.ReadMetadata(res.Session.OutputPath); err != nil {
		t.Fatalf("read sidecar: %v", err)
	}
}

func TestRecordSessionEndMissingFile(t *testing.T) {
	dir := t.TempDir()
	store, err := index.Open(filepath.Join(dir, "index.db"))
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	defer store.Close()

	res := testResult(t, dir)
	if err := os.Remove(res.Session.OutputPath); err != nil {
		t.Fatalf("remove video: %v", err)
	}

	// A crashed launch can end a session whose file never appeared. The
	// row is still recorded with zero size.
	recordSessionEnd(store, res, quietLogger())

	rec, err := store.GetByPath(res.Session.OutputPath)
	if err != nil {
		t.Fatalf("index lookup: %v", err)
	}
	if rec.SizeBytes != 0 {
		t.Errorf("size = %d, want 0 for a missing file", rec.SizeBytes)
	}
}
