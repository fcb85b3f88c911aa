package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/patinas/ScreenPulse/internal/activity"
	"github.com/patinas/ScreenPulse/internal/config"
	"github.com/patinas/ScreenPulse/internal/fileutil"
	"github.com/patinas/ScreenPulse/internal/index"
	"github.com/patinas/ScreenPulse/internal/ipc"
	"github.com/patinas/ScreenPulse/internal/logging"
	"github.com/patinas/ScreenPulse/internal/pidfile"
	"github.com/patinas/ScreenPulse/internal/session"
)

var (
	runOutputDir   string
	runIdleTimeout int
	runMaxDuration int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the recorder daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("output-dir") {
			cfg.OutputDir = runOutputDir
		}
		if cmd.Flags().Changed("idle-timeout") {
			cfg.Session.IdleTimeoutSeconds = runIdleTimeout
		}
		if cmd.Flags().Changed("max-duration") {
			cfg.Session.MaxDurationSeconds = runMaxDuration
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		return runDaemon(cfg)
	},
}

func init() {
	runCmd.Flags().StringVar(&runOutputDir, "output-dir", "",
		"recordings directory (overrides config)")
	runCmd.Flags().IntVar(&runIdleTimeout, "idle-timeout", 0,
		"stop after this many seconds without input (overrides config)")
	runCmd.Flags().IntVar(&runMaxDuration, "max-duration", 0,
		"rotate the recording after this many seconds (overrides config)")
	rootCmd.AddCommand(runCmd)
}

// runDaemon is the recorder: activity monitor, session controller, capture
// backend, status/command IPC, sidecars, index, retention.
func runDaemon(cfg *config.Config) error {
	out, errLog, err := logging.Setup(cfg.LogDir, "screenpulse")
	if err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}

	out.Println("===========================================")
	out.Println("Starting ScreenPulse v" + Version + "...")
	out.Printf("PID: %d", os.Getpid())
	out.Println("===========================================")

	pidPath := pidfile.PathIn(cfg.StateDir, "screenpulse")
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
	out.Printf("[STARTUP] PID file created: %s", pidPath)

	diag := openDiagLog(errLog)
	defer func() { _ = diag.Close() }()

	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	out.Printf("[STARTUP] Recording to %s", cfg.OutputDir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Input activity feeds the controller's idle decisions. No readable
	// device means the daemon could never start a recording, so bail out.
	tracker := activity.NewTracker()
	monitor := activity.NewMonitor(tracker, out, errLog, diag)
	devices, err := monitor.Start(ctx)
	if err != nil {
		if errors.Is(err, activity.ErrNoInputDevices) {
			errLog.Println("[STARTUP] No readable input devices found")
			errLog.Println("Add your user to the 'input' group and log in again: sudo usermod -aG input $USER")
		}
		return err
	}
	out.Printf("[STARTUP] Monitoring %d input device(s)", devices)

	backend, closeBackend, err := buildCaptureBackend(cfg, out, errLog, diag)
	if err != nil {
		errLog.Printf("[STARTUP] %v", err)
		if cfg.Capture.Backend == "obs" {
			errLog.Println("Ensure OBS is running with the WebSocket server enabled (Tools > WebSocket Server Settings)")
		}
		return err
	}
	defer closeBackend()
	out.Printf("[STARTUP] Capture backend ready: %s", backend.Name())

	// The recorder survives without the index: sessions still land on disk
	// with sidecars, and backfill re-registers them later.
	var store *index.Store
	if st, err := index.Open(indexPath(cfg)); err != nil {
		errLog.Printf("[STARTUP] WARNING: recording index unavailable: %v (continuing without it)", err)
	} else {
		store = st
		defer store.Close()
		out.Printf("[STARTUP] Recording index open: %s", indexPath(cfg))
	}

	if store != nil && cfg.RetentionDays > 0 {
		cleaner := index.NewCleaner(store, cfg.RetentionDays, out, errLog, diag)
		cleaner.Start()
		defer cleaner.Stop()
	}

	ctrl := session.New(session.Config{
		OutputDir:    cfg.OutputDir,
		PollInterval: time.Duration(cfg.Session.PollIntervalSeconds) * time.Second,
		IdleTimeout:  time.Duration(cfg.Session.IdleTimeoutSeconds) * time.Second,
		MaxDuration:  time.Duration(cfg.Session.MaxDurationSeconds) * time.Second,
		StopTimeout:  time.Duration(cfg.Session.StopTimeoutSeconds) * time.Second,
		StartupGrace: time.Duration(cfg.Session.StartupGraceSeconds) * time.Second,
	}, backend, tracker, out, errLog, diag)

	ctrl.OnSessionEnd = func(res session.Result) {
		recordSessionEnd(store, res, errLog)
	}

	ipcDir := ipc.DefaultDir()
	ctrl.OnStatus = func(st session.Status) {
		if err := ipc.WriteStatus(ipcDir, st); err != nil {
			errLog.Printf("Failed to write status: %v", err)
		}
	}

	go watchCommands(ctx, ipcDir, ctrl, out, errLog)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	out.Println("[STARTUP] Signal handlers registered (SIGINT, SIGTERM)")
	go func() {
		sig := <-sigChan
		out.Printf("[SHUTDOWN] Received %s at %s", sig, time.Now().Format(time.RFC3339))
		cancel()
	}()

	out.Println("===========================================")
	out.Println("[RUNNING] ScreenPulse is recording on activity")

	return ctrl.Run(ctx)
}

// recordSessionEnd persists a finished session: sidecar first, then the
// index. Neither failure is allowed to disturb the recorder.
func recordSessionEnd(store *index.Store, res session.Result, errLog *log.Logger) {
	var size int64
	if info, err := os.Stat(res.Session.OutputPath); err == nil {
		size = info.Size()
	}
	duration := res.StoppedAt.Sub(res.Session.StartedAt)

	meta := &fileutil.RecordingMetadata{
		Version:        Version,
		SessionID:      res.Session.ID,
		StartedAt:      res.Session.StartedAt,
		StoppedAt:      res.StoppedAt,
		Duration:       duration.String(),
		DurationMs:     duration.Milliseconds(),
		StopReason:     res.Reason,
		CleanExit:      res.Exit.Clean,
		CaptureBackend: res.Session.Backend,
		OutputFile:     res.Session.OutputPath,
		SizeBytes:      size,
	}
	if err := fileutil.WriteMetadata(res.Session.OutputPath, meta); err != nil {
		errLog.Printf("Failed to write metadata for %s: %v", res.Session.OutputPath, err)
	}

	if store == nil {
		return
	}
	err := store.Upsert(index.Recording{
		ID:            res.Session.ID,
		OutputPath:    res.Session.OutputPath,
		StartedAt:     res.Session.StartedAt,
		StoppedAt:     res.StoppedAt,
		DurationMs:    duration.Milliseconds(),
		SizeBytes:     size,
		Backend:       res.Session.Backend,
		StopReason:    res.Reason,
		Clean:         res.Exit.Clean,
		AnalysisState: index.AnalysisPending,
	})
	if err != nil {
		errLog.Printf("Failed to index session %s: %v", res.Session.ID, err)
	}
}

// watchCommands monitors cmd.txt for manual control commands and forwards
// them to the controller. fsnotify when available, polling otherwise; the
// 1s ticker backstops lost events either way.
func watchCommands(ctx context.Context, dir string, ctrl *session.Controller, out, errLog *log.Logger) {
	cmdPath := ipc.CommandPath(dir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		errLog.Printf("Failed to create command directory: %v", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		errLog.Printf("fsnotify not available, falling back to polling: %v", err)
		pollCommands(ctx, dir, cmdPath, ctrl, out, errLog)
		return
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			errLog.Printf("Failed to close command watcher: %v", err)
		}
	}()

	if err := watcher.Add(dir); err != nil {
		errLog.Printf("Failed to watch command directory, falling back to polling: %v", err)
		pollCommands(ctx, dir, cmdPath, ctrl, out, errLog)
		return
	}

	out.Println("[STARTUP] Command watcher started (using fsnotify)")

	pollTicker := time.NewTicker(1 * time.Second)
	defer pollTicker.Stop()

	lastCheckTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				out.Println("fsnotify watcher closed, switching to polling")
				pollCommands(ctx, dir, cmdPath, ctrl, out, errLog)
				return
			}
			if event.Name == cmdPath && (event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create) {
				deliverCommand(dir, ctrl, errLog)
				lastCheckTime = time.Now()
			}

		case <-pollTicker.C:
			if info, err := os.Stat(cmdPath); err == nil && info.ModTime().After(lastCheckTime) {
				deliverCommand(dir, ctrl, errLog)
				lastCheckTime = time.Now()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				out.Println("fsnotify error channel closed, switching to polling")
				pollCommands(ctx, dir, cmdPath, ctrl, out, errLog)
				return
			}
			errLog.Printf("Command watcher error: %v", err)
		}
	}
}

// pollCommands is the pure polling fallback for command monitoring.
func pollCommands(ctx context.Context, dir, cmdPath string, ctrl *session.Controller, out, errLog *log.Logger) {
	out.Println("[STARTUP] Command watcher started (using polling fallback, 1s interval)")

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	lastCheckTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(cmdPath)
			if err != nil || !info.ModTime().After(lastCheckTime) {
				continue
			}
			deliverCommand(dir, ctrl, errLog)
			lastCheckTime = time.Now()
		}
	}
}

// deliverCommand reads and clears the command file and hands the result to
// the control loop.
func deliverCommand(dir string, ctrl *session.Controller, errLog *log.Logger) {
	// Small delay so the writer finishes before the read-and-clear.
	time.Sleep(50 * time.Millisecond)

	cmd, err := ipc.ReadCommand(dir)
	if err != nil {
		errLog.Printf("Failed to read command: %v", err)
		return
	}
	if cmd == "" {
		return
	}
	ctrl.Send(cmd)
}

func indexPath(cfg *config.Config) string {
	return filepath.Join(cfg.StateDir, "index.db")
}
