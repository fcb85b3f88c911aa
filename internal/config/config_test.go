package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config failed validation: %v", err)
	}
}

func TestDefaultValues(t *testing.T) {
	cfg := Default()

	if cfg.Session.IdleTimeoutSeconds != 600 {
		t.Errorf("idle_timeout_seconds = %d, want 600", cfg.Session.IdleTimeoutSeconds)
	}
	if cfg.Session.MaxDurationSeconds != 2400 {
		t.Errorf("max_duration_seconds = %d, want 2400", cfg.Session.MaxDurationSeconds)
	}
	if cfg.Session.PollIntervalSeconds != 2 {
		t.Errorf("poll_interval_seconds = %d, want 2", cfg.Session.PollIntervalSeconds)
	}
	if cfg.Capture.Backend != "exec" {
		t.Errorf("capture.backend = %q, want exec", cfg.Capture.Backend)
	}
	if cfg.Capture.Resolution != "1280x720" {
		t.Errorf("capture.resolution = %q, want 1280x720", cfg.Capture.Resolution)
	}
	if cfg.Analyzer.Gemini.Model != "gemini-2.0-flash" {
		t.Errorf("analyzer.gemini.model = %q, want gemini-2.0-flash", cfg.Analyzer.Gemini.Model)
	}
	if cfg.Analyzer.MinFileSizeBytes != 102400 {
		t.Errorf("analyzer.min_file_size_bytes = %d, want 102400", cfg.Analyzer.MinFileSizeBytes)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "poll interval too low",
			mutate:  func(c *Config) { c.Session.PollIntervalSeconds = 0 },
			wantErr: "poll_interval_seconds",
		},
		{
			name:    "poll interval too high",
			mutate:  func(c *Config) { c.Session.PollIntervalSeconds = 11 },
			wantErr: "poll_interval_seconds",
		},
		{
			name:    "zero idle timeout",
			mutate:  func(c *Config) { c.Session.IdleTimeoutSeconds = 0 },
			wantErr: "idle_timeout_seconds",
		},
		{
			name:    "zero max duration",
			mutate:  func(c *Config) { c.Session.MaxDurationSeconds = 0 },
			wantErr: "max_duration_seconds",
		},
		{
			name:    "stop timeout too high",
			mutate:  func(c *Config) { c.Session.StopTimeoutSeconds = 120 },
			wantErr: "stop_timeout_seconds",
		},
		{
			name:    "unknown capture backend",
			mutate:  func(c *Config) { c.Capture.Backend = "gstreamer" },
			wantErr: "capture.backend",
		},
		{
			name:    "unknown encoder",
			mutate:  func(c *Config) { c.Capture.Encoder = "x264" },
			wantErr: "capture.encoder",
		},
		{
			name:    "malformed resolution",
			mutate:  func(c *Config) { c.Capture.Resolution = "720p" },
			wantErr: "capture.resolution",
		},
		{
			name:    "crf out of range",
			mutate:  func(c *Config) { c.Capture.CRF = 99 },
			wantErr: "capture.crf",
		},
		{
			name: "obs backend without url",
			mutate: func(c *Config) {
				c.Capture.Backend = "obs"
				c.Capture.OBS.URL = ""
			},
			wantErr: "capture.obs.url",
		},
		{
			name:    "unknown analyzer backend",
			mutate:  func(c *Config) { c.Analyzer.Backend = "whisper" },
			wantErr: "analyzer.backend",
		},
		{
			name: "command backend without binary",
			mutate: func(c *Config) {
				c.Analyzer.Backend = "command"
				c.Analyzer.Command.BinaryPath = ""
			},
			wantErr: "analyzer.command.binary_path",
		},
		{
			name: "stable timeout below stability window",
			mutate: func(c *Config) {
				c.Analyzer.StabilityChecks = 5
				c.Analyzer.StabilityIntervalSeconds = 10
				c.Analyzer.StableTimeoutSeconds = 30
			},
			wantErr: "stable_timeout_seconds",
		},
		{
			name:    "negative retention",
			mutate:  func(c *Config) { c.RetentionDays = -1 },
			wantErr: "retention_days",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidateSkipsAnalyzerBackendWhenDisabled(t *testing.T) {
	cfg := Default()
	cfg.Analyzer.Enabled = false
	cfg.Analyzer.Backend = ""
	if err := cfg.Validate(); err != nil {
		t.Errorf("disabled analyzer should not require a backend: %v", err)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope", "config.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Session.IdleTimeoutSeconds != 600 {
		t.Errorf("missing file should yield defaults, got idle=%d", cfg.Session.IdleTimeoutSeconds)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
  "output_dir": "/tmp/caps",
  "session": {"idle_timeout_seconds": 120},
  "capture": {"encoder": "ffmpeg"}
}`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	// Overridden keys take effect.
	if cfg.OutputDir != "/tmp/caps" {
		t.Errorf("output_dir = %q, want /tmp/caps", cfg.OutputDir)
	}
	if cfg.Session.IdleTimeoutSeconds != 120 {
		t.Errorf("idle_timeout_seconds = %d, want 120", cfg.Session.IdleTimeoutSeconds)
	}
	if cfg.Capture.Encoder != "ffmpeg" {
		t.Errorf("capture.encoder = %q, want ffmpeg", cfg.Capture.Encoder)
	}

	// Absent keys keep stock values.
	if cfg.Session.MaxDurationSeconds != 2400 {
		t.Errorf("max_duration_seconds = %d, want stock 2400", cfg.Session.MaxDurationSeconds)
	}
	if cfg.Capture.Resolution != "1280x720" {
		t.Errorf("capture.resolution = %q, want stock 1280x720", cfg.Capture.Resolution)
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"session": {"poll_interval_seconds": 0}}`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for poll_interval_seconds=0")
	}
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"output_dir": "~/caps"}`), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := filepath.Join(home, "caps")
	if cfg.OutputDir != want {
		t.Errorf("output_dir = %q, want %q", cfg.OutputDir, want)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "config.json")

	cfg := Default()
	cfg.OutputDir = "/tmp/rt"
	cfg.Session.MaxDurationSeconds = 900
	cfg.RetentionDays = 14

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.OutputDir != "/tmp/rt" {
		t.Errorf("output_dir = %q, want /tmp/rt", got.OutputDir)
	}
	if got.Session.MaxDurationSeconds != 900 {
		t.Errorf("max_duration_seconds = %d, want 900", got.Session.MaxDurationSeconds)
	}
	if got.RetentionDays != 14 {
		t.Errorf("retention_days = %d, want 14", got.RetentionDays)
	}
}

func TestDurationAccessors(t *testing.T) {
	s := SessionConfig{
		IdleTimeoutSeconds:  600,
		MaxDurationSeconds:  2400,
		PollIntervalSeconds: 2,
		StopTimeoutSeconds:  10,
		StartupGraceSeconds: 3,
	}
	if s.IdleTimeout() != 10*time.Minute {
		t.Errorf("IdleTimeout = %v, want 10m", s.IdleTimeout())
	}
	if s.MaxDuration() != 40*time.Minute {
		t.Errorf("MaxDuration = %v, want 40m", s.MaxDuration())
	}
	if s.PollInterval() != 2*time.Second {
		t.Errorf("PollInterval = %v, want 2s", s.PollInterval())
	}
	if s.StopTimeout() != 10*time.Second {
		t.Errorf("StopTimeout = %v, want 10s", s.StopTimeout())
	}
	if s.StartupGrace() != 3*time.Second {
		t.Errorf("StartupGrace = %v, want 3s", s.StartupGrace())
	}
}
