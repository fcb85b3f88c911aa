package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/patinas/ScreenPulse/internal/analyzer"
	"github.com/patinas/ScreenPulse/internal/config"
	"github.com/patinas/ScreenPulse/internal/index"
	"github.com/patinas/ScreenPulse/internal/logging"
	"github.com/patinas/ScreenPulse/internal/pidfile"
	"github.com/patinas/ScreenPulse/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the analyzer daemon that summarizes finished recordings",
	RunE: func(cmd *cobra.Command, args []string) error {
		return watchDaemon(cfg)
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

// watchDaemon is the analyzer: it waits for recordings to finish, runs the
// summarization pipeline on each, and keeps the index current.
func watchDaemon(cfg *config.Config) error {
	if !cfg.Analyzer.Enabled {
		return fmt.Errorf("analyzer is disabled in the configuration (analyzer.enabled=false)")
	}

	out, errLog, err := logging.Setup(cfg.LogDir, "screenpulse-watch")
	if err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}

	out.Println("===========================================")
	out.Println("Starting ScreenPulse analyzer v" + Version + "...")
	out.Printf("PID: %d", os.Getpid())
	out.Println("===========================================")

	pidPath := pidfile.PathIn(cfg.StateDir, "screenpulse-watch")
	pf, err := pidfile.New(pidPath)
	if err != nil {
		if errors.Is(err, pidfile.ErrAlreadyRunning) {
			errLog.Printf("[STARTUP] %v", err)
			errLog.Printf("If you are sure no other instance is running, remove: %s", pidPath)
		}
		return err
	}
	defer func() {
		if err := pf.Remove(); err != nil {
			errLog.Printf("Warning: failed to remove PID file: %v", err)
		}
	}()
	if pf.RemovedStale() {
		out.Printf("[STARTUP] Recovered stale PID file from a previous crash: %s", pidPath)
	}

	diag := openDiagLog(errLog)
	defer func() { _ = diag.Close() }()

	// Unlike the recorder, the analyzer cannot work without the index:
	// nothing could ever be marked summarized or failed.
	store, err := index.Open(indexPath(cfg))
	if err != nil {
		return fmt.Errorf("open recording index: %w", err)
	}
	defer store.Close()
	out.Printf("[STARTUP] Recording index open: %s", indexPath(cfg))

	reg, err := buildAnalyzerRegistry(cfg, out, diag)
	if err != nil {
		errLog.Printf("[STARTUP] %v", err)
		return err
	}
	out.Printf("[STARTUP] Analyzer backends: %s (primary=%s)",
		strings.Join(reg.Backends(), ", "), cfg.Analyzer.Backend)
	runBackendHealthChecks(reg, out, errLog, diag)

	proc := analyzer.NewProcessor(reg, store, analyzer.ProcessorConfig{
		MinSizeBytes: cfg.Analyzer.MinFileSizeBytes,
		NotesDir:     cfg.Analyzer.NotesDir,
	}, out, errLog, diag)

	w := watcher.New(watcher.Config{
		Dir:               cfg.OutputDir,
		MinSizeBytes:      cfg.Analyzer.MinFileSizeBytes,
		StabilityChecks:   cfg.Analyzer.StabilityChecks,
		StabilityInterval: time.Duration(cfg.Analyzer.StabilityIntervalSeconds) * time.Second,
		StableTimeout:     time.Duration(cfg.Analyzer.StableTimeoutSeconds) * time.Second,
	}, out, errLog, diag)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	out.Println("[STARTUP] Signal handlers registered (SIGINT, SIGTERM)")
	go func() {
		sig := <-sigChan
		out.Printf("[SHUTDOWN] Received %s at %s", sig, time.Now().Format(time.RFC3339))
		cancel()
	}()

	watcherDone := make(chan error, 1)
	go func() {
		watcherDone <- w.Run(ctx)
	}()

	out.Println("===========================================")
	out.Printf("[RUNNING] Analyzer is watching %s", cfg.OutputDir)

	// Recordings indexed while the analyzer was down go first.
	drainPending(ctx, store, proc, out, errLog)

	for {
		select {
		case <-ctx.Done():
			<-watcherDone
			out.Println("[SHUTDOWN] Analyzer stopped")
			return nil

		case err := <-watcherDone:
			if err != nil {
				return fmt.Errorf("output watcher failed: %w", err)
			}
			return nil

		case path := <-w.Stable():
			if err := proc.Process(ctx, path); err != nil && ctx.Err() == nil {
				errLog.Printf("Processing %s: %v", path, err)
			}
		}
	}
}

// drainPending analyzes recordings the recorder indexed while the analyzer
// was not running. Rows whose file has since disappeared are marked skipped
// so they stop resurfacing.
func drainPending(ctx context.Context, store *index.Store, proc *analyzer.Processor, out, errLog *log.Logger) {
	pending, err := store.ListPending(0)
	if err != nil {
		errLog.Printf("[STARTUP] Could not list pending recordings: %v", err)
		return
	}
	if len(pending) == 0 {
		return
	}
	out.Printf("[STARTUP] %d recording(s) pending analysis from previous runs", len(pending))

	for _, rec := range pending {
		if ctx.Err() != nil {
			return
		}
		if _, statErr := os.Stat(rec.OutputPath); statErr != nil {
			if os.IsNotExist(statErr) {
				out.Printf("[EVENT] Skipping %s: recording file missing", rec.OutputPath)
				if err := store.MarkSkipped(rec.ID, "recording file missing", time.Now()); err != nil {
					errLog.Printf("[EVENT] WARN: could not mark %s skipped: %v", rec.ID, err)
				}
			}
			continue
		}
		if err := proc.Process(ctx, rec.OutputPath); err != nil && ctx.Err() == nil {
			errLog.Printf("Processing %s: %v", rec.OutputPath, err)
		}
	}
}
