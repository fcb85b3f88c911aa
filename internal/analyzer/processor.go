package analyzer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/patinas/ScreenPulse/internal/diaglog"
	"github.com/patinas/ScreenPulse/internal/fileutil"
	"github.com/patinas/ScreenPulse/internal/index"
	"github.com/patinas/ScreenPulse/internal/summary"
)

// Indexer is the slice of the recording index the processor needs.
type Indexer interface {
	GetByPath(path string) (*index.Recording, error)
	Upsert(rec index.Recording) error
	MarkSummarized(id, summaryPath string, at time.Time) error
	MarkFailed(id, reason string, at time.Time) error
	MarkSkipped(id, reason string, at time.Time) error
}

// ProcessorConfig tunes the per-file pipeline.
type ProcessorConfig struct {
	MinSizeBytes int64  // skip files smaller than this
	NotesDir     string // summaries land here instead of next to the video
}

// Processor drives the full pipeline for one recording: make sure the file
// is indexed, run the analysis with fallback, write the markdown note, and
// record the outcome in the index and the sidecar.
type Processor struct {
	registry *Registry
	idx      Indexer
	cfg      ProcessorConfig
	out      *log.Logger
	errLog   *log.Logger
	diag     *diaglog.Logger
}

// NewProcessor creates a processor. idx must not be nil.
func NewProcessor(registry *Registry, idx Indexer, cfg ProcessorConfig, out, errLog *log.Logger, diag *diaglog.Logger) *Processor {
	return &Processor{
		registry: registry,
		idx:      idx,
		cfg:      cfg,
		out:      out,
		errLog:   errLog,
		diag:     diag,
	}
}

// Process analyzes one video file. Returns nil when the file was skipped or
// already summarized; returns the analysis error after recording it.
func (p *Processor) Process(ctx context.Context, videoPath string) error {
	info, err := os.Stat(videoPath)
	if err != nil {
		return fmt.Errorf("stat recording: %w", err)
	}

	rec, err := p.ensureIndexed(videoPath, info.Size(), info.ModTime())
	if err != nil {
		return fmt.Errorf("index recording: %w", err)
	}

	if rec.AnalysisState == index.AnalysisSummarized && summary.Exists(rec.SummaryPath) {
		p.out.Printf("[EVENT] Skipping %s: already summarized (%s)", videoPath, rec.SummaryPath)
		return nil
	}

	if info.Size() < p.cfg.MinSizeBytes {
		reason := fmt.Sprintf("below minimum size (%d < %d bytes)", info.Size(), p.cfg.MinSizeBytes)
		p.out.Printf("[EVENT] Skipping %s: %s", videoPath, reason)
		if err := p.idx.MarkSkipped(rec.ID, reason, time.Now()); err != nil {
			p.errLog.Printf("[EVENT] WARN: could not mark %s skipped: %v", rec.ID, err)
		}
		return nil
	}

	p.out.Printf("[EVENT] Analyzing %s (%.1f MB)", videoPath, float64(info.Size())/(1<<20))
	p.diag.Log(diaglog.LogEntry{
		Component: diaglog.ComponentAnalyzer,
		Event:     diaglog.EventAnalyzeStart,
		SessionID: rec.ID,
		Payload:   map[string]interface{}{"path": videoPath, "size_bytes": info.Size()},
	})

	analysis, err := p.registry.AnalyzeWithFallback(ctx, videoPath)
	if err != nil {
		p.recordFailure(rec, videoPath, err)
		return err
	}

	sumPath := summary.Path(videoPath, p.cfg.NotesDir)
	note := summary.Note{
		Title:      analysis.Title,
		Summary:    analysis.Summary,
		Steps:      analysis.Steps,
		Model:      analysis.Model,
		Backend:    analysis.Backend,
		VideoPath:  videoPath,
		RecordedAt: rec.StartedAt,
		Duration:   time.Duration(rec.DurationMs) * time.Millisecond,
	}
	if err := summary.Write(sumPath, note); err != nil {
		err = fmt.Errorf("write summary: %w", err)
		p.recordFailure(rec, videoPath, err)
		return err
	}

	now := time.Now()
	if err := p.idx.MarkSummarized(rec.ID, sumPath, now); err != nil {
		p.errLog.Printf("[EVENT] WARN: could not mark %s summarized: %v", rec.ID, err)
	}
	p.updateSidecar(videoPath, &fileutil.AnalysisMeta{
		Backend:     analysis.Backend,
		Model:       analysis.Model,
		Success:     true,
		SummaryFile: sumPath,
		AnalyzedAt:  now,
	})

	p.out.Printf("[EVENT] Summary written: %s (%q, %d steps, %s via %s)",
		sumPath, analysis.Title, len(analysis.Steps), analysis.Duration.Round(time.Second), analysis.Backend)
	p.diag.Log(diaglog.LogEntry{
		Component: diaglog.ComponentAnalyzer,
		Event:     diaglog.EventAnalyzeDone,
		SessionID: rec.ID,
		Payload: map[string]interface{}{
			"summary":     sumPath,
			"backend":     analysis.Backend,
			"steps":       len(analysis.Steps),
			"duration_ms": analysis.Duration.Milliseconds(),
		},
	})
	return nil
}

// ensureIndexed returns the index row for the video, synthesizing one from
// the sidecar (or the file itself) when the recorder never registered it.
func (p *Processor) ensureIndexed(videoPath string, size int64, mtime time.Time) (*index.Recording, error) {
	rec, err := p.idx.GetByPath(videoPath)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	rec = &index.Recording{
		ID:            uuid.NewString(),
		OutputPath:    videoPath,
		StartedAt:     mtime,
		StoppedAt:     mtime,
		SizeBytes:     size,
		AnalysisState: index.AnalysisPending,
	}
	if meta, merr := fileutil.ReadMetadata(videoPath); merr == nil {
		if meta.SessionID != "" {
			rec.ID = meta.SessionID
		}
		rec.StartedAt = meta.StartedAt
		rec.StoppedAt = meta.StoppedAt
		rec.DurationMs = meta.DurationMs
		rec.Backend = meta.CaptureBackend
		rec.StopReason = meta.StopReason
		rec.Clean = meta.CleanExit
	}

	if err := p.idx.Upsert(*rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (p *Processor) recordFailure(rec *index.Recording, videoPath string, cause error) {
	now := time.Now()
	p.errLog.Printf("[EVENT] Analysis failed for %s: %v", videoPath, cause)
	if err := p.idx.MarkFailed(rec.ID, cause.Error(), now); err != nil {
		p.errLog.Printf("[EVENT] WARN: could not mark %s failed: %v", rec.ID, err)
	}
	p.updateSidecar(videoPath, &fileutil.AnalysisMeta{
		Backend:    p.primaryName(),
		Success:    false,
		Error:      cause.Error(),
		AnalyzedAt: now,
	})
	p.diag.Log(diaglog.LogEntry{
		Component: diaglog.ComponentAnalyzer,
		Event:     diaglog.EventAnalyzeFailed,
		SessionID: rec.ID,
		Reason:    cause.Error(),
		Payload:   map[string]interface{}{"path": videoPath},
	})
}

// updateSidecar attaches the analysis outcome to the recording's sidecar.
// Files without a sidecar (imported from elsewhere) are left alone.
func (p *Processor) updateSidecar(videoPath string, analysis *fileutil.AnalysisMeta) {
	meta, err := fileutil.ReadMetadata(videoPath)
	if err != nil {
		return
	}
	meta.Analysis = analysis
	if err := fileutil.WriteMetadata(videoPath, meta); err != nil {
		p.errLog.Printf("[EVENT] WARN: could not update sidecar for %s: %v", videoPath, err)
	}
}

func (p *Processor) primaryName() string {
	if b := p.registry.Primary(); b != nil {
		return b.Name()
	}
	return ""
}
