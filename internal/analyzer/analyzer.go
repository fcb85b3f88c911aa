// Package analyzer turns finished recordings into structured summary notes.
// Concrete backends live in subpackages (gemini, command); this package
// holds the shared types, the primary/fallback registry, and the Processor
// that drives the whole pipeline for a single video file.
package analyzer

import (
	"context"
	"time"
)

// Analysis is the structured result of analyzing one recording.
type Analysis struct {
	Title    string
	Summary  string
	Steps    []string
	Model    string
	Backend  string
	Duration time.Duration // wall time spent on the analysis
}

// HealthStatus reports backend health.
type HealthStatus struct {
	OK      bool
	Backend string
	Message string
	Latency time.Duration
}

// Backend is the interface video analysis backends must implement.
// AnalyzeVideo honours ctx so the daemon can cancel an in-flight upload or
// subprocess during shutdown.
type Backend interface {
	Name() string
	AnalyzeVideo(ctx context.Context, videoPath string) (*Analysis, error)
	HealthCheck() (*HealthStatus, error)
}
