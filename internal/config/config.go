// Package config loads and validates the ScreenPulse configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// SessionConfig controls when recordings start, stop, and rotate.
type SessionConfig struct {
	IdleTimeoutSeconds  int `json:"idle_timeout_seconds"`  // Stop after this much inactivity
	MaxDurationSeconds  int `json:"max_duration_seconds"`  // Rotate the file after this long
	PollIntervalSeconds int `json:"poll_interval_seconds"` // Decision tick interval
	StopTimeoutSeconds  int `json:"stop_timeout_seconds"`  // Grace period before force kill
	StartupGraceSeconds int `json:"startup_grace_seconds"` // Recorder warmup before liveness checks
}

// OBSConfig holds obs-websocket connection settings.
type OBSConfig struct {
	URL      string `json:"url"`      // WebSocket URL, e.g. ws://localhost:4455
	Password string `json:"password"` // obs-websocket password, empty if auth disabled
}

// CaptureConfig selects and tunes the recorder backend.
type CaptureConfig struct {
	Backend     string    `json:"backend"`                // "exec" or "obs"
	Encoder     string    `json:"encoder"`                // "auto", "ffmpeg" or "wf-recorder"
	EncoderPath string    `json:"encoder_path,omitempty"` // Override binary location
	Display     string    `json:"display,omitempty"`      // X11 display, defaults to $DISPLAY
	Resolution  string    `json:"resolution"`             // Capture size, WIDTHxHEIGHT
	Framerate   int       `json:"framerate"`
	CRF         int       `json:"crf"` // x264 quality, lower is better
	ExtraArgs   []string  `json:"extra_args,omitempty"`
	OBS         OBSConfig `json:"obs"`
}

// GeminiConfig tunes the Gemini summarization backend.
type GeminiConfig struct {
	Model   string `json:"model"`
	BaseURL string `json:"base_url,omitempty"` // Override API endpoint, mainly for tests
}

// CommandConfig tunes the external-command summarization backend.
type CommandConfig struct {
	BinaryPath     string   `json:"binary_path"`
	TimeoutSeconds int      `json:"timeout_seconds"`
	ExtraArgs      []string `json:"extra_args,omitempty"`
}

// AnalyzerConfig controls the summarization pipeline.
type AnalyzerConfig struct {
	Enabled                  bool          `json:"enabled"`
	Backend                  string        `json:"backend"`                    // "gemini" or "command"
	FallbackBackend          string        `json:"fallback_backend,omitempty"` // Optional secondary backend
	Gemini                   GeminiConfig  `json:"gemini"`
	Command                  CommandConfig `json:"command"`
	MinFileSizeBytes         int64         `json:"min_file_size_bytes"`        // Skip files smaller than this
	StabilityChecks          int           `json:"stability_checks"`           // Consecutive stable size checks
	StabilityIntervalSeconds int           `json:"stability_interval_seconds"` // Delay between size checks
	StableTimeoutSeconds     int           `json:"stable_timeout_seconds"`     // Give up waiting for stability
	NotesDir                 string        `json:"notes_dir,omitempty"`        // Summaries land here instead of next to the video
}

// Config is the full ScreenPulse configuration.
type Config struct {
	OutputDir     string         `json:"output_dir"`
	StateDir      string         `json:"state_dir"` // Recording index database location
	LogDir        string         `json:"log_dir"`
	RetentionDays int            `json:"retention_days"` // 0 disables retention cleanup
	Session       SessionConfig  `json:"session"`
	Capture       CaptureConfig  `json:"capture"`
	Analyzer      AnalyzerConfig `json:"analyzer"`
}

var resolutionPattern = regexp.MustCompile(`^\d+x\d+$`)

// Default returns a fully populated configuration with stock settings.
func Default() *Config {
	home := os.Getenv("HOME")
	return &Config{
		OutputDir:     filepath.Join(home, "Videos", "screenpulse"),
		StateDir:      filepath.Join(home, ".local", "share", "screenpulse"),
		LogDir:        filepath.Join(home, ".local", "state", "screenpulse"),
		RetentionDays: 0,
		Session: SessionConfig{
			IdleTimeoutSeconds:  600,
			MaxDurationSeconds:  2400,
			PollIntervalSeconds: 2,
			StopTimeoutSeconds:  10,
			StartupGraceSeconds: 3,
		},
		Capture: CaptureConfig{
			Backend:    "exec",
			Encoder:    "auto",
			Resolution: "1280x720",
			Framerate:  30,
			CRF:        25,
			OBS: OBSConfig{
				URL: "ws://localhost:4455",
			},
		},
		Analyzer: AnalyzerConfig{
			Enabled: true,
			Backend: "gemini",
			Gemini: GeminiConfig{
				Model: "gemini-2.0-flash",
			},
			Command: CommandConfig{
				TimeoutSeconds: 300,
			},
			MinFileSizeBytes:         102400,
			StabilityChecks:          3,
			StabilityIntervalSeconds: 3,
			StableTimeoutSeconds:     600,
		},
	}
}

// DefaultPath returns the standard config file location.
func DefaultPath() string {
	return filepath.Join(os.Getenv("HOME"), ".config", "screenpulse", "config.json")
}

// Load reads the config file at path, layered over Default. A missing file
// is not an error: stock settings are returned. Empty path means DefaultPath.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.normalize()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Unmarshal over the defaults so absent keys keep their stock values.
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration to path, creating parent directories.
func Save(cfg *Config, path string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	// Write with indentation for readability
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// normalize expands leading ~ in configured paths.
func (c *Config) normalize() {
	c.OutputDir = expandHome(c.OutputDir)
	c.StateDir = expandHome(c.StateDir)
	c.LogDir = expandHome(c.LogDir)
	c.Capture.EncoderPath = expandHome(c.Capture.EncoderPath)
	c.Analyzer.Command.BinaryPath = expandHome(c.Analyzer.Command.BinaryPath)
	c.Analyzer.NotesDir = expandHome(c.Analyzer.NotesDir)
}

func expandHome(p string) string {
	if p == "~" {
		return os.Getenv("HOME")
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(os.Getenv("HOME"), p[2:])
	}
	return p
}

// Validate checks the configuration for validity
func (c *Config) Validate() error {
	if c.OutputDir == "" {
		return fmt.Errorf("output_dir must not be empty")
	}

	// PollInterval must be between 1 and 10 seconds
	if c.Session.PollIntervalSeconds < 1 || c.Session.PollIntervalSeconds > 10 {
		return fmt.Errorf("poll_interval_seconds must be between 1 and 10, got %d", c.Session.PollIntervalSeconds)
	}
	if c.Session.IdleTimeoutSeconds < 1 {
		return fmt.Errorf("idle_timeout_seconds must be at least 1, got %d", c.Session.IdleTimeoutSeconds)
	}
	if c.Session.MaxDurationSeconds < 1 {
		return fmt.Errorf("max_duration_seconds must be at least 1, got %d", c.Session.MaxDurationSeconds)
	}
	if c.Session.StopTimeoutSeconds < 1 || c.Session.StopTimeoutSeconds > 60 {
		return fmt.Errorf("stop_timeout_seconds must be between 1 and 60, got %d", c.Session.StopTimeoutSeconds)
	}
	if c.Session.StartupGraceSeconds < 0 || c.Session.StartupGraceSeconds > 30 {
		return fmt.Errorf("startup_grace_seconds must be between 0 and 30, got %d", c.Session.StartupGraceSeconds)
	}

	switch c.Capture.Backend {
	case "exec", "obs":
	default:
		return fmt.Errorf("capture.backend must be \"exec\" or \"obs\", got %q", c.Capture.Backend)
	}
	switch c.Capture.Encoder {
	case "auto", "ffmpeg", "wf-recorder":
	default:
		return fmt.Errorf("capture.encoder must be \"auto\", \"ffmpeg\" or \"wf-recorder\", got %q", c.Capture.Encoder)
	}
	if !resolutionPattern.MatchString(c.Capture.Resolution) {
		return fmt.Errorf("capture.resolution must look like 1280x720, got %q", c.Capture.Resolution)
	}
	if c.Capture.Framerate < 1 || c.Capture.Framerate > 120 {
		return fmt.Errorf("capture.framerate must be between 1 and 120, got %d", c.Capture.Framerate)
	}
	if c.Capture.CRF < 0 || c.Capture.CRF > 51 {
		return fmt.Errorf("capture.crf must be between 0 and 51, got %d", c.Capture.CRF)
	}
	if c.Capture.Backend == "obs" && c.Capture.OBS.URL == "" {
		return fmt.Errorf("capture.obs.url must not be empty when the obs backend is selected")
	}

	if c.Analyzer.Enabled {
		if err := validateAnalyzerBackend("analyzer.backend", c.Analyzer.Backend, false); err != nil {
			return err
		}
		if err := validateAnalyzerBackend("analyzer.fallback_backend", c.Analyzer.FallbackBackend, true); err != nil {
			return err
		}
		usesCommand := c.Analyzer.Backend == "command" || c.Analyzer.FallbackBackend == "command"
		if usesCommand && c.Analyzer.Command.BinaryPath == "" {
			return fmt.Errorf("analyzer.command.binary_path must be set when the command backend is selected")
		}
		if c.Analyzer.Command.TimeoutSeconds < 1 {
			return fmt.Errorf("analyzer.command.timeout_seconds must be at least 1, got %d", c.Analyzer.Command.TimeoutSeconds)
		}
	}

	if c.Analyzer.MinFileSizeBytes < 0 {
		return fmt.Errorf("analyzer.min_file_size_bytes must not be negative, got %d", c.Analyzer.MinFileSizeBytes)
	}
	if c.Analyzer.StabilityChecks < 1 || c.Analyzer.StabilityChecks > 10 {
		return fmt.Errorf("analyzer.stability_checks must be between 1 and 10, got %d", c.Analyzer.StabilityChecks)
	}
	if c.Analyzer.StabilityIntervalSeconds < 1 || c.Analyzer.StabilityIntervalSeconds > 60 {
		return fmt.Errorf("analyzer.stability_interval_seconds must be between 1 and 60, got %d", c.Analyzer.StabilityIntervalSeconds)
	}
	minWindow := c.Analyzer.StabilityChecks * c.Analyzer.StabilityIntervalSeconds
	if c.Analyzer.StableTimeoutSeconds < minWindow {
		return fmt.Errorf("analyzer.stable_timeout_seconds (%d) must be >= stability_checks * stability_interval_seconds (%d)",
			c.Analyzer.StableTimeoutSeconds, minWindow)
	}

	if c.RetentionDays < 0 {
		return fmt.Errorf("retention_days must not be negative, got %d", c.RetentionDays)
	}

	return nil
}

func validateAnalyzerBackend(key, name string, allowEmpty bool) error {
	if name == "" {
		if allowEmpty {
			return nil
		}
		return fmt.Errorf("%s must not be empty", key)
	}
	switch name {
	case "gemini", "command":
		return nil
	}
	return fmt.Errorf("%s must be \"gemini\" or \"command\", got %q", key, name)
}

// Duration accessors. The JSON file carries plain integer seconds.

func (s SessionConfig) IdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeoutSeconds) * time.Second
}

func (s SessionConfig) MaxDuration() time.Duration {
	return time.Duration(s.MaxDurationSeconds) * time.Second
}

func (s SessionConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalSeconds) * time.Second
}

func (s SessionConfig) StopTimeout() time.Duration {
	return time.Duration(s.StopTimeoutSeconds) * time.Second
}

func (s SessionConfig) StartupGrace() time.Duration {
	return time.Duration(s.StartupGraceSeconds) * time.Second
}

func (a AnalyzerConfig) StabilityInterval() time.Duration {
	return time.Duration(a.StabilityIntervalSeconds) * time.Second
}

func (a AnalyzerConfig) StableTimeout() time.Duration {
	return time.Duration(a.StableTimeoutSeconds) * time.Second
}

func (c CommandConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
