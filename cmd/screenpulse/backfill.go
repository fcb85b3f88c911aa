package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/patinas/ScreenPulse/internal/analyzer"
	"github.com/patinas/ScreenPulse/internal/index"
	"github.com/patinas/ScreenPulse/internal/summary"
	"github.com/patinas/ScreenPulse/internal/watcher"
)

var backfillYes bool

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Summarize existing recordings that have no summary yet",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBackfill(cmd, backfillYes)
	},
}

func init() {
	backfillCmd.Flags().BoolVarP(&backfillYes, "yes", "y", false,
		"skip the confirmation prompt")
	rootCmd.AddCommand(backfillCmd)
}

// runBackfill scans the output directory for recordings without a summary
// and runs the analysis pipeline on each, sequentially.
func runBackfill(cmd *cobra.Command, skipConfirm bool) error {
	if !cfg.Analyzer.Enabled {
		return fmt.Errorf("analyzer is disabled in the configuration (analyzer.enabled=false)")
	}

	// Console loggers: the processor's progress lines are the UX here.
	out := log.New(cmd.OutOrStdout(), "", 0)
	errLog := log.New(cmd.ErrOrStderr(), "", 0)
	diag := openDiagLog(errLog)
	defer func() { _ = diag.Close() }()

	fmt.Fprintf(cmd.OutOrStdout(), "Scanning %s\n", cfg.OutputDir)
	unprocessed, err := findUnsummarized(cfg.OutputDir, cfg.Analyzer.NotesDir)
	if err != nil {
		return err
	}
	if len(unprocessed) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "All recordings have summaries.")
		return nil
	}

	for _, path := range unprocessed {
		size := int64(0)
		if info, err := os.Stat(path); err == nil {
			size = info.Size()
		}
		fmt.Fprintf(cmd.OutOrStdout(), "  %s (%.1f MB)\n", filepath.Base(path), float64(size)/(1<<20))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Found %d recording(s) without a summary\n", len(unprocessed))

	if !skipConfirm {
		fmt.Fprintf(cmd.OutOrStdout(), "Process these recordings? (y/n): ")
		reader := bufio.NewReader(cmd.InOrStdin())
		line, err := reader.ReadString('\n')
		if err != nil || strings.ToLower(strings.TrimSpace(line)) != "y" {
			fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
			return nil
		}
	}

	if err := os.MkdirAll(cfg.StateDir, 0755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	store, err := index.Open(indexPath(cfg))
	if err != nil {
		return fmt.Errorf("open recording index: %w", err)
	}
	defer store.Close()

	reg, err := buildAnalyzerRegistry(cfg, out, diag)
	if err != nil {
		return err
	}
	proc := analyzer.NewProcessor(reg, store, analyzer.ProcessorConfig{
		MinSizeBytes: cfg.Analyzer.MinFileSizeBytes,
		NotesDir:     cfg.Analyzer.NotesDir,
	}, out, errLog, diag)

	// Ctrl-C aborts the in-flight analysis and stops the run.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	succeeded, failed := 0, 0
	for i, path := range unprocessed {
		if ctx.Err() != nil {
			fmt.Fprintln(cmd.OutOrStdout(), "Interrupted.")
			break
		}
		fmt.Fprintf(cmd.OutOrStdout(), "[%d/%d] %s\n", i+1, len(unprocessed), filepath.Base(path))
		if err := proc.Process(ctx, path); err != nil {
			failed++
			continue
		}
		succeeded++
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Done: %d succeeded, %d failed, %d total\n",
		succeeded, failed, len(unprocessed))
	if failed > 0 {
		return fmt.Errorf("%d recording(s) failed", failed)
	}
	return nil
}

// findUnsummarized returns recording files under dir that have no summary
// markdown, sorted by name (which sorts by recording time for our naming
// scheme).
func findUnsummarized(dir, notesDir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read output directory: %w", err)
	}

	var unprocessed []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if !watcher.IsVideo(path) {
			continue
		}
		if summary.Exists(summary.Path(path, notesDir)) {
			continue
		}
		unprocessed = append(unprocessed, path)
	}
	return unprocessed, nil
}
