package fileutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWriteMetadata_Basic(t *testing.T) {
	dir := t.TempDir()
	recPath := filepath.Join(dir, "recording_20260115_143000.mp4")
	// Create a dummy recording file so the dir exists.
	if err := os.WriteFile(recPath, []byte("fake"), 0644); err != nil {
		t.Fatal(err)
	}

	meta := &RecordingMetadata{
		Version:        "1.2.3",
		SessionID:      "abc123",
		StartedAt:      time.Date(2026, 1, 15, 14, 30, 0, 0, time.UTC),
		StoppedAt:      time.Date(2026, 1, 15, 15, 0, 0, 0, time.UTC),
		Duration:       "30m0s",
		DurationMs:     1800000,
		StopReason:     "idle",
		CleanExit:      true,
		CaptureBackend: "exec",
		OutputFile:     recPath,
		SizeBytes:      1024,
	}

	if err := WriteMetadata(recPath, meta); err != nil {
		t.Fatalf("WriteMetadata: %v", err)
	}

	// Verify file exists at expected path.
	metaPath := filepath.Join(dir, "recording_20260115_143000.meta.json")
	data, err := os.ReadFile(metaPath)
	if err != nil {
		t.Fatalf("read meta file: %v", err)
	}

	var got RecordingMetadata
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got.Version != "1.2.3" {
		t.Errorf("version = %q, want %q", got.Version, "1.2.3")
	}
	if got.SessionID != "abc123" {
		t.Errorf("session_id = %q, want %q", got.SessionID, "abc123")
	}
	if got.StopReason != "idle" {
		t.Errorf("stop_reason = %q, want %q", got.StopReason, "idle")
	}
	if got.DurationMs != 1800000 {
		t.Errorf("duration_ms = %d, want %d", got.DurationMs, 1800000)
	}
	if !got.CleanExit {
		t.Error("clean_exit = false, want true")
	}
}

func TestWriteMetadata_WithAnalysis(t *testing.T) {
	dir := t.TempDir()
	recPath := filepath.Join(dir, "recording.mp4")
	if err := os.WriteFile(recPath, []byte("fake"), 0644); err != nil {
		t.Fatal(err)
	}

	meta := &RecordingMetadata{
		Version:    "dev",
		OutputFile: recPath,
		Analysis: &AnalysisMeta{
			Backend:     "gemini",
			Model:       "gemini-2.0-flash",
			Success:     true,
			SummaryFile: filepath.Join(dir, "recording.md"),
			AnalyzedAt:  time.Date(2026, 1, 15, 15, 1, 0, 0, time.UTC),
		},
	}

	if err := WriteMetadata(recPath, meta); err != nil {
		t.Fatalf("WriteMetadata: %v", err)
	}

	metaPath := filepath.Join(dir, "recording.meta.json")
	data, err := os.ReadFile(metaPath)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var got RecordingMetadata
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got.Analysis == nil {
		t.Fatal("Analysis is nil, expected non-nil")
	}
	if got.Analysis.Backend != "gemini" {
		t.Errorf("analysis.backend = %q, want %q", got.Analysis.Backend, "gemini")
	}
	if !got.Analysis.Success {
		t.Error("analysis.success = false, want true")
	}
	if got.Analysis.SummaryFile == "" {
		t.Error("analysis.summary_file is empty")
	}
}

func TestWriteMetadata_NilAnalysis(t *testing.T) {
	dir := t.TempDir()
	recPath := filepath.Join(dir, "recording.mp4")
	if err := os.WriteFile(recPath, []byte("fake"), 0644); err != nil {
		t.Fatal(err)
	}

	meta := &RecordingMetadata{
		Version:    "dev",
		OutputFile: recPath,
	}

	if err := WriteMetadata(recPath, meta); err != nil {
		t.Fatalf("WriteMetadata: %v", err)
	}

	metaPath := filepath.Join(dir, "recording.meta.json")
	data, err := os.ReadFile(metaPath)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	// Analysis should be omitted from JSON.
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := raw["analysis"]; ok {
		t.Error("expected no 'analysis' field in JSON when Analysis is nil")
	}
}

func TestReadMetadataRoundTrip(t *testing.T) {
	dir := t.TempDir()
	recPath := filepath.Join(dir, "recording.mp4")
	if err := os.WriteFile(recPath, []byte("fake"), 0644); err != nil {
		t.Fatal(err)
	}

	meta := &RecordingMetadata{
		Version:    "dev",
		SessionID:  "sess-1",
		StopReason: "rotation",
		OutputFile: recPath,
	}
	if err := WriteMetadata(recPath, meta); err != nil {
		t.Fatalf("WriteMetadata: %v", err)
	}

	got, err := ReadMetadata(recPath)
	if err != nil {
		t.Fatalf("ReadMetadata: %v", err)
	}
	if got.SessionID != "sess-1" {
		t.Errorf("session_id = %q, want %q", got.SessionID, "sess-1")
	}
	if got.StopReason != "rotation" {
		t.Errorf("stop_reason = %q, want %q", got.StopReason, "rotation")
	}
}

func TestReadMetadataMissing(t *testing.T) {
	_, err := ReadMetadata(filepath.Join(t.TempDir(), "nope.mp4"))
	if err == nil {
		t.Fatal("expected error for missing sidecar")
	}
	if !os.IsNotExist(err) {
		t.Errorf("want os.IsNotExist error, got %v", err)
	}
}

func TestMetadataPath(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"recording.mp4", "recording.meta.json"},
		{"/path/to/file.mkv", "/path/to/file.meta.json"},
		{"no-ext", "no-ext.meta.json"},
	}
	for _, tt := range tests {
		got := MetadataPath(tt.input)
		if got != tt.want {
			t.Errorf("MetadataPath(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestWriteMetadata_AtomicNoPartialFile(t *testing.T) {
	// Write to a non-existent directory should fail cleanly.
	badPath := filepath.Join(t.TempDir(), "nonexistent", "sub", "recording.mp4")
	meta := &RecordingMetadata{Version: "dev"}
	err := WriteMetadata(badPath, meta)
	if err == nil {
		t.Fatal("expected error for non-existent directory")
	}
}
