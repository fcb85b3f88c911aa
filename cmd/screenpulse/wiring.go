package main

import (
	"fmt"
	"log"

	"github.com/patinas/ScreenPulse/internal/analyzer"
	"github.com/patinas/ScreenPulse/internal/analyzer/command"
	"github.com/patinas/ScreenPulse/internal/analyzer/gemini"
	"github.com/patinas/ScreenPulse/internal/apikey"
	"github.com/patinas/ScreenPulse/internal/capture"
	"github.com/patinas/ScreenPulse/internal/config"
	"github.com/patinas/ScreenPulse/internal/diaglog"
)

// openDiagLog opens the NDJSON diagnostic log, degrading to a no-op logger
// when the file cannot be created.
func openDiagLog(errLog *log.Logger) *diaglog.Logger {
	path := diaglog.DefaultPath()
	diag, err := diaglog.New(path)
	if err != nil {
		errLog.Printf("[STARTUP] WARNING: could not open diagnostic log at %s: %v (continuing)", path, err)
		return diaglog.NewNoOp()
	}
	return diag
}

// buildCaptureBackend selects the configured recorder backend. The returned
// cleanup disconnects the OBS client; it is a no-op for exec.
func buildCaptureBackend(cfg *config.Config, out, errLog *log.Logger, diag *diaglog.Logger) (capture.Backend, func(), error) {
	switch cfg.Capture.Backend {
	case "exec":
		b := capture.NewExecBackend(capture.ExecOptions{
			Encoder:     cfg.Capture.Encoder,
			EncoderPath: cfg.Capture.EncoderPath,
			Display:     cfg.Capture.Display,
			Resolution:  cfg.Capture.Resolution,
			Framerate:   cfg.Capture.Framerate,
			CRF:         cfg.Capture.CRF,
			ExtraArgs:   cfg.Capture.ExtraArgs,
		}, out, errLog, diag)
		return b, func() {}, nil

	case "obs":
		b := capture.NewOBSBackend(cfg.Capture.OBS.URL, cfg.Capture.OBS.Password, out, errLog, diag)
		if err := b.Connect(); err != nil {
			return nil, nil, fmt.Errorf("connect to OBS at %s: %w", cfg.Capture.OBS.URL, err)
		}
		return b, b.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown capture backend %q", cfg.Capture.Backend)
	}
}

// buildAnalyzerRegistry assembles the configured summarization backends.
// The configured primary is registered first so it takes the default slot.
func buildAnalyzerRegistry(cfg *config.Config, out *log.Logger, diag *diaglog.Logger) (*analyzer.Registry, error) {
	names := []string{cfg.Analyzer.Backend}
	if fb := cfg.Analyzer.FallbackBackend; fb != "" && fb != cfg.Analyzer.Backend {
		names = append(names, fb)
	}

	reg := analyzer.NewRegistry()
	for _, name := range names {
		switch name {
		case "gemini":
			key, source, err := apikey.Resolve()
			if err != nil {
				return nil, fmt.Errorf("resolve Gemini API key: %w", err)
			}
			if key == "" {
				return nil, fmt.Errorf("no Gemini API key found: set %s or run 'screenpulse key set'", apikey.EnvVar)
			}
			out.Printf("[STARTUP] Gemini API key loaded from %s (%s)", source, apikey.Mask(key))

			c := gemini.NewClient(gemini.Config{
				APIKey:  key,
				Model:   cfg.Analyzer.Gemini.Model,
				BaseURL: cfg.Analyzer.Gemini.BaseURL,
			})
			c.SetLogger(diag)
			reg.Register("gemini", c)

		case "command":
			reg.Register("command", command.NewBackend(command.Config{
				BinaryPath:     cfg.Analyzer.Command.BinaryPath,
				TimeoutSeconds: cfg.Analyzer.Command.TimeoutSeconds,
				ExtraArgs:      cfg.Analyzer.Command.ExtraArgs,
			}))

		default:
			return nil, fmt.Errorf("unknown analyzer backend %q", name)
		}
	}

	if fb := cfg.Analyzer.FallbackBackend; fb != "" {
		reg.SetFallback(fb)
	}
	return reg, nil
}

// runBackendHealthChecks probes every registered analyzer backend once at
// startup. Failures are warnings: the daemon keeps running and each file
// gets its own retries.
func runBackendHealthChecks(reg *analyzer.Registry, out, errLog *log.Logger, diag *diaglog.Logger) {
	for _, name := range reg.Backends() {
		b, _ := reg.Get(name)
		if b == nil {
			continue
		}
		hs, err := b.HealthCheck()
		if err != nil {
			errLog.Printf("[STARTUP] Analyzer health check error (backend=%s): %v", name, err)
			diag.Log(diaglog.LogEntry{
				Component: diaglog.ComponentAnalyzer,
				Event:     diaglog.EventHealthCheck,
				Payload: map[string]interface{}{
					"backend": name,
					"ok":      false,
					"error":   err.Error(),
				},
			})
		} else if !hs.OK {
			errLog.Printf("[STARTUP] WARNING: analyzer backend %s unhealthy: %s", name, hs.Message)
			diag.Log(diaglog.LogEntry{
				Component: diaglog.ComponentAnalyzer,
				Event:     diaglog.EventHealthCheck,
				Payload: map[string]interface{}{
					"backend": name,
					"ok":      false,
					"message": hs.Message,
				},
			})
		} else {
			out.Printf("[STARTUP] Analyzer backend %s healthy (latency=%s)", name, hs.Latency)
			diag.Log(diaglog.LogEntry{
				Component: diaglog.ComponentAnalyzer,
				Event:     diaglog.EventHealthCheck,
				Payload: map[string]interface{}{
					"backend": name,
					"ok":      true,
					"latency": hs.Latency.String(),
				},
			})
		}
	}
}
