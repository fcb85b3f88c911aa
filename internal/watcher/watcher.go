// Package watcher detects finished recordings in the output directory.
// A file counts as finished once its size stops changing: encoders write
// continuously, so a stable size over several checks means the recorder
// closed it. Paths are delivered on the Stable channel.
package watcher

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/patinas/ScreenPulse/internal/diaglog"
)

// Config tunes completion detection.
type Config struct {
	Dir               string
	MinSizeBytes      int64         // files below this never stabilize
	StabilityChecks   int           // consecutive unchanged-size checks, default 3
	StabilityInterval time.Duration // delay between checks, default 3s
	StableTimeout     time.Duration // drop a candidate after this long, default 10m
	RescanInterval    time.Duration // directory sweep for missed events, default 10s
}

// candidate tracks one file working toward stability.
type candidate struct {
	lastSize    int64
	stableCount int
	firstSeen   time.Time
}

// Watcher watches the recording directory and reports stable video files.
type Watcher struct {
	cfg    Config
	out    *log.Logger
	errLog *log.Logger
	diag   *diaglog.Logger

	stable     chan string
	candidates map[string]*candidate
	seen       map[string]bool
	started    time.Time
}

// New creates a watcher for cfg.Dir. Zero config fields get defaults.
func New(cfg Config, out, errLog *log.Logger, diag *diaglog.Logger) *Watcher {
	if cfg.StabilityChecks <= 0 {
		cfg.StabilityChecks = 3
	}
	if cfg.StabilityInterval <= 0 {
		cfg.StabilityInterval = 3 * time.Second
	}
	if cfg.StableTimeout <= 0 {
		cfg.StableTimeout = 10 * time.Minute
	}
	if cfg.RescanInterval <= 0 {
		cfg.RescanInterval = 10 * time.Second
	}
	return &Watcher{
		cfg:        cfg,
		out:        out,
		errLog:     errLog,
		diag:       diag,
		stable:     make(chan string, 16),
		candidates: make(map[string]*candidate),
		seen:       make(map[string]bool),
	}
}

// Stable returns the channel of completed recording paths.
func (w *Watcher) Stable() <-chan string {
	return w.stable
}

// Run watches until ctx is cancelled. Pre-existing files are ignored; the
// backfill command owns history. When fsnotify is unavailable the periodic
// rescan alone drives detection.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.cfg.Dir, 0755); err != nil {
		return err
	}
	w.started = time.Now()

	var events <-chan fsnotify.Event
	var errs <-chan error
	fsn, err := fsnotify.NewWatcher()
	if err != nil {
		w.errLog.Printf("[STARTUP] fsnotify not available, relying on periodic rescans: %v", err)
	} else {
		defer fsn.Close()
		if err := fsn.Add(w.cfg.Dir); err != nil {
			w.errLog.Printf("[STARTUP] Failed to watch %s, relying on periodic rescans: %v", w.cfg.Dir, err)
		} else {
			events = fsn.Events
			errs = fsn.Errors
		}
	}
	w.out.Printf("[STARTUP] Watching %s for finished recordings (checks=%d interval=%s)",
		w.cfg.Dir, w.cfg.StabilityChecks, w.cfg.StabilityInterval)

	checkTicker := time.NewTicker(w.cfg.StabilityInterval)
	defer checkTicker.Stop()
	rescanTicker := time.NewTicker(w.cfg.RescanInterval)
	defer rescanTicker.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				w.out.Printf("[RUNNING] fsnotify watcher closed, switching to rescan-only mode")
				events, errs = nil, nil
				continue
			}
			if event.Op&fsnotify.Create == fsnotify.Create || event.Op&fsnotify.Write == fsnotify.Write {
				w.touch(event.Name)
			}

		case err, ok := <-errs:
			if !ok {
				events, errs = nil, nil
				continue
			}
			w.errLog.Printf("[RUNNING] File watcher error: %v", err)

		case <-checkTicker.C:
			w.checkCandidates()

		case <-rescanTicker.C:
			w.rescan()

		case <-ctx.Done():
			return nil
		}
	}
}

// touch registers a path as a candidate unless it is already tracked,
// already delivered, or not a video.
func (w *Watcher) touch(path string) {
	if !IsVideo(path) {
		return
	}
	if w.seen[path] {
		return
	}
	if _, ok := w.candidates[path]; ok {
		return
	}
	w.candidates[path] = &candidate{lastSize: -1, firstSeen: time.Now()}
	w.out.Printf("[EVENT] Recording in progress: %s", filepath.Base(path))
}

// checkCandidates advances the stability count for every tracked file.
// The first observation only records the size; counting starts once two
// consecutive checks agree and the file has reached the minimum size.
func (w *Watcher) checkCandidates() {
	for path, c := range w.candidates {
		info, err := os.Stat(path)
		if err != nil {
			delete(w.candidates, path)
			w.errLog.Printf("[EVENT] WARN: %s disappeared before completing", filepath.Base(path))
			continue
		}

		size := info.Size()
		if size == c.lastSize && size >= w.cfg.MinSizeBytes {
			c.stableCount++
			if c.stableCount >= w.cfg.StabilityChecks {
				w.emit(path, size)
				continue
			}
		} else if size != c.lastSize {
			c.stableCount = 0
		}
		c.lastSize = size

		if time.Since(c.firstSeen) > w.cfg.StableTimeout {
			delete(w.candidates, path)
			w.errLog.Printf("[EVENT] WARN: %s did not stabilize within %s", filepath.Base(path), w.cfg.StableTimeout)
		}
	}
}

// emit hands a stable path to the consumer. When the channel is full the
// candidate is re-armed one check away from stable and retried next tick.
func (w *Watcher) emit(path string, size int64) {
	delete(w.candidates, path)
	select {
	case w.stable <- path:
		w.seen[path] = true
		w.out.Printf("[EVENT] Recording complete: %s (%d bytes)", filepath.Base(path), size)
		w.diag.Log(diaglog.LogEntry{
			Component: diaglog.ComponentWatcher,
			Event:     diaglog.EventFileStable,
			Payload:   map[string]interface{}{"path": path, "size_bytes": size},
		})
	default:
		w.candidates[path] = &candidate{
			lastSize:    size,
			stableCount: w.cfg.StabilityChecks - 1,
			firstSeen:   time.Now(),
		}
		w.errLog.Printf("[EVENT] WARN: stable queue full, retrying %s next check", filepath.Base(path))
	}
}

// rescan sweeps the directory for files fsnotify missed. Only files
// modified after the watcher started are considered.
func (w *Watcher) rescan() {
	entries, err := os.ReadDir(w.cfg.Dir)
	if err != nil {
		w.errLog.Printf("[RUNNING] WARN: rescan of %s failed: %v", w.cfg.Dir, err)
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(w.started) {
			continue
		}
		w.touch(filepath.Join(w.cfg.Dir, e.Name()))
	}
}

// videoExts are the container formats capture backends produce.
var videoExts = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".avi":  true,
	".mkv":  true,
	".webm": true,
	".flv":  true,
	".m4v":  true,
}

// IsVideo reports whether path looks like a recording file. Hidden files
// never qualify.
func IsVideo(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return videoExts[strings.ToLower(filepath.Ext(base))]
}
