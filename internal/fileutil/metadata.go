// Package fileutil provides recording file naming and sidecar metadata.
package fileutil

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// RecordingMetadata is the sidecar metadata written alongside each recording.
type RecordingMetadata struct {
	Version        string        `json:"version"`
	SessionID      string        `json:"session_id"`
	StartedAt      time.Time     `json:"started_at"`
	StoppedAt      time.Time     `json:"stopped_at"`
	Duration       string        `json:"duration"`
	DurationMs     int64         `json:"duration_ms"`
	StopReason     string        `json:"stop_reason"`
	CleanExit      bool          `json:"clean_exit"`
	CaptureBackend string        `json:"capture_backend"`
	OutputFile     string        `json:"output_file"`
	SizeBytes      int64         `json:"size_bytes"`
	Analysis       *AnalysisMeta `json:"analysis,omitempty"`
}

// AnalysisMeta captures summarization details for the sidecar.
type AnalysisMeta struct {
	Backend     string    `json:"backend"`
	Model       string    `json:"model"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
	SummaryFile string    `json:"summary_file,omitempty"`
	AnalyzedAt  time.Time `json:"analyzed_at,omitempty"`
}

// WriteMetadata writes a <basepath>.meta.json sidecar file alongside the
// recording. Uses atomic write (temp + rename) consistent with ipc patterns.
func WriteMetadata(recordingPath string, meta *RecordingMetadata) error {
	metaPath := MetadataPath(recordingPath)
	dir := filepath.Dir(metaPath)

	tmpFile, err := os.CreateTemp(dir, "meta-*.tmp")
	if err != nil {
		return fmt.Errorf("create metadata temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	// Ensure cleanup on error.
	success := false
	defer func() {
		if !success {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(meta); err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("sync metadata: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close metadata temp: %w", err)
	}
	success = true // prevent defer cleanup

	if err := os.Rename(tmpPath, metaPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename metadata: %w", err)
	}
	return nil
}

// ReadMetadata loads the sidecar for a recording, if present.
func ReadMetadata(recordingPath string) (*RecordingMetadata, error) {
	data, err := os.ReadFile(MetadataPath(recordingPath))
	if err != nil {
		return nil, err
	}
	var meta RecordingMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}
	return &meta, nil
}

// MetadataPath returns <basepath>.meta.json for a given recording file path.
func MetadataPath(recordingPath string) string {
	ext := filepath.Ext(recordingPath)
	base := recordingPath[:len(recordingPath)-len(ext)]
	return base + ".meta.json"
}
