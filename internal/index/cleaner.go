package index

import (
	"errors"
	"io/fs"
	"log"
	"os"
	"sync"
	"time"

	"github.com/patinas/ScreenPulse/internal/diaglog"
	"github.com/patinas/ScreenPulse/internal/fileutil"
)

// Cleaner removes recordings older than the retention window: the video
// file, its metadata sidecar, its summary note, and finally the index row.
type Cleaner struct {
	store         *Store
	retentionDays int
	interval      time.Duration
	out           *log.Logger
	errLog        *log.Logger
	diag          *diaglog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewCleaner creates a retention cleaner. retentionDays <= 0 disables it.
func NewCleaner(store *Store, retentionDays int, out, errLog *log.Logger, diag *diaglog.Logger) *Cleaner {
	return &Cleaner{
		store:         store,
		retentionDays: retentionDays,
		interval:      time.Hour,
		out:           out,
		errLog:        errLog,
		diag:          diag,
		stopCh:        make(chan struct{}),
	}
}

// Start launches the hourly sweep loop. One sweep runs immediately so a
// daemon restarted after a long downtime catches up without waiting.
func (c *Cleaner) Start() {
	if c.retentionDays <= 0 {
		c.out.Printf("[STARTUP] Retention cleanup disabled (retention_days=%d)", c.retentionDays)
		return
	}
	c.out.Printf("[STARTUP] Retention cleanup enabled: removing recordings older than %d day(s)", c.retentionDays)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.sweep()

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.sweep()
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop halts the sweep loop and waits for an in-flight sweep to finish.
func (c *Cleaner) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

func (c *Cleaner) sweep() {
	cutoff := time.Now().Add(-time.Duration(c.retentionDays) * 24 * time.Hour)
	expired, err := c.store.ListExpired(cutoff)
	if err != nil {
		c.errLog.Printf("[RUNNING] WARN: retention sweep query failed: %v", err)
		return
	}
	if len(expired) == 0 {
		return
	}

	removed := 0
	for _, rec := range expired {
		if !c.removeFiles(rec) {
			continue
		}
		if err := c.store.Delete(rec.ID); err != nil {
			c.errLog.Printf("[RUNNING] WARN: retention sweep could not delete index row %s: %v", rec.ID, err)
			continue
		}
		removed++
	}
	c.out.Printf("[RUNNING] Retention sweep removed %d of %d expired recording(s)", removed, len(expired))
	c.diag.Log(diaglog.LogEntry{
		Component: diaglog.ComponentIndex,
		Event:     diaglog.EventRetentionSweep,
		Payload: map[string]interface{}{
			"expired": len(expired),
			"removed": removed,
			"cutoff":  cutoff.UTC().Format(time.RFC3339),
		},
	})
}

// removeFiles deletes the on-disk artifacts for rec. Returns false when the
// video itself could not be removed; the row is kept in that case so the
// file is retried on the next sweep instead of being orphaned.
func (c *Cleaner) removeFiles(rec Recording) bool {
	if err := removeIfPresent(rec.OutputPath); err != nil {
		c.errLog.Printf("[RUNNING] WARN: retention sweep could not remove %s: %v", rec.OutputPath, err)
		return false
	}
	if err := removeIfPresent(fileutil.MetadataPath(rec.OutputPath)); err != nil {
		c.errLog.Printf("[RUNNING] WARN: retention sweep could not remove metadata for %s: %v", rec.OutputPath, err)
	}
	if rec.SummaryPath != "" {
		if err := removeIfPresent(rec.SummaryPath); err != nil {
			c.errLog.Printf("[RUNNING] WARN: retention sweep could not remove summary %s: %v", rec.SummaryPath, err)
		}
	}
	return true
}

func removeIfPresent(path string) error {
	err := os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
