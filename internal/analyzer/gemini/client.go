// Package gemini analyzes recordings with the Gemini API: the video is
// uploaded through the resumable Files endpoint, polled until processed,
// then sent to generateContent with a structured-JSON prompt.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/patinas/ScreenPulse/internal/analyzer"
	"github.com/patinas/ScreenPulse/internal/diaglog"
)

// Config configures the Gemini API client.
type Config struct {
	APIKey         string
	Model          string // default "gemini-2.0-flash"
	BaseURL        string // default "https://generativelanguage.googleapis.com"
	TimeoutSeconds int    // per-request HTTP timeout, default 300
	Retries        int    // default 3
}

// Client is an analyzer.Backend that calls the Gemini REST API.
type Client struct {
	cfg            Config
	client         *http.Client
	backoffBase    time.Duration // default time.Second; tests override to 1ms
	pollInterval   time.Duration // default 2s; tests shrink
	processTimeout time.Duration // default 120s; tests shrink

	logger   *diaglog.Logger
	loggerMu sync.RWMutex
}

// NewClient creates a new Gemini API client.
func NewClient(cfg Config) *Client {
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com"
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 300
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	return &Client{
		cfg:            cfg,
		backoffBase:    time.Second,
		pollInterval:   2 * time.Second,
		processTimeout: 120 * time.Second,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}
}

// SetLogger injects a diaglog.Logger for debug logging.
func (c *Client) SetLogger(l *diaglog.Logger) {
	c.loggerMu.Lock()
	c.logger = l
	c.loggerMu.Unlock()
}

func (c *Client) log(entry diaglog.LogEntry) {
	c.loggerMu.RLock()
	l := c.logger
	c.loggerMu.RUnlock()
	if l == nil {
		return
	}
	if entry.Component == "" {
		entry.Component = "gemini"
	}
	l.Log(entry)
}

// Name returns the backend identifier.
func (c *Client) Name() string {
	return "gemini"
}

// analysisPrompt asks for a strict JSON breakdown of the recording.
const analysisPrompt = `Analyze this video and provide a detailed breakdown in the following JSON format:

{
  "title": "A concise, descriptive title for this video (max 10 words)",
  "summary": "A brief 2-3 sentence summary of what this video demonstrates or teaches",
  "steps": [
    "Step 1: First action shown in the video with specific details",
    "Step 2: Second action with timing and context",
    "... continue for all distinct steps shown"
  ]
}

Important instructions:
- Create a clear, descriptive title that captures the main topic
- The summary should explain the overall purpose or outcome
- Break down EVERY distinct action or step shown in the video
- Include timing references (e.g., "At 0:15...") for important moments
- Be specific about what is clicked, typed, or demonstrated
- Capture both visual actions and any narration/text shown
- Number each step sequentially
- Return ONLY valid JSON, no other text

Analyze the video now:`

// AnalyzeVideo uploads the video, waits for processing, and requests a
// structured analysis. Retries on transient errors (429, 5xx, network).
func (c *Client) AnalyzeVideo(ctx context.Context, videoPath string) (*analyzer.Analysis, error) {
	start := time.Now()

	var lastErr error
	for attempt := 0; attempt <= c.cfg.Retries; attempt++ {
		if attempt > 0 {
			backoff := c.backoff(attempt)
			c.log(diaglog.LogEntry{
				Event:   diaglog.EventAnalyzeRetry,
				Payload: map[string]interface{}{"attempt": attempt, "backoff_ms": backoff.Milliseconds()},
			})
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		result, err := c.doAnalyze(ctx, videoPath)
		if err == nil {
			result.Model = c.cfg.Model
			result.Backend = c.Name()
			result.Duration = time.Since(start)
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if !isRetryable(err) {
			return nil, fmt.Errorf("analyze %s: %w", filepath.Base(videoPath), err)
		}
		lastErr = err
	}

	return nil, fmt.Errorf("analyze %s: all %d retries exhausted: %w", filepath.Base(videoPath), c.cfg.Retries, lastErr)
}

// doAnalyze performs one full upload/process/generate round. The uploaded
// file is deleted from the API before returning, success or not.
func (c *Client) doAnalyze(ctx context.Context, videoPath string) (*analyzer.Analysis, error) {
	file, err := c.uploadFile(ctx, videoPath)
	if err != nil {
		return nil, err
	}
	defer c.deleteFile(file.Name)

	file, err = c.waitActive(ctx, file)
	if err != nil {
		return nil, err
	}

	text, err := c.generate(ctx, file.URI, mimeTypeFor(videoPath))
	if err != nil {
		return nil, err
	}

	return parseAnalysis(text)
}

// fileRef is the subset of the Files API resource the client needs.
type fileRef struct {
	Name  string `json:"name"`
	URI   string `json:"uri"`
	State string `json:"state"`
}

// uploadFile pushes the video through the resumable upload protocol:
// a start request that returns the upload URL, then a single
// upload+finalize request carrying the bytes.
func (c *Client) uploadFile(ctx context.Context, videoPath string) (*fileRef, error) {
	info, err := os.Stat(videoPath)
	if err != nil {
		return nil, fmt.Errorf("stat video: %w", err)
	}
	mime := mimeTypeFor(videoPath)

	startBody, _ := json.Marshal(map[string]interface{}{
		"file": map[string]string{"display_name": filepath.Base(videoPath)},
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/upload/v1beta/files", bytes.NewReader(startBody))
	if err != nil {
		return nil, fmt.Errorf("create upload start request: %w", err)
	}
	req.Header.Set("x-goog-api-key", c.cfg.APIKey)
	req.Header.Set("X-Goog-Upload-Protocol", "resumable")
	req.Header.Set("X-Goog-Upload-Command", "start")
	req.Header.Set("X-Goog-Upload-Header-Content-Length", strconv.FormatInt(info.Size(), 10))
	req.Header.Set("X-Goog-Upload-Header-Content-Type", mime)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("upload start: %w", err)}
	}
	body, err := readBody(resp)
	if err != nil {
		return nil, err
	}
	uploadURL := resp.Header.Get("X-Goog-Upload-URL")
	if uploadURL == "" {
		return nil, fmt.Errorf("upload start: no upload URL in response: %s", truncate(body, 200))
	}

	f, err := os.Open(videoPath)
	if err != nil {
		return nil, fmt.Errorf("open video: %w", err)
	}
	defer f.Close()

	req, err = http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, f)
	if err != nil {
		return nil, fmt.Errorf("create upload request: %w", err)
	}
	req.ContentLength = info.Size()
	req.Header.Set("X-Goog-Upload-Offset", "0")
	req.Header.Set("X-Goog-Upload-Command", "upload, finalize")

	resp, err = c.client.Do(req)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("upload: %w", err)}
	}
	body, err = readBody(resp)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		File fileRef `json:"file"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	if parsed.File.Name == "" {
		return nil, fmt.Errorf("upload: empty file name in response: %s", truncate(body, 200))
	}
	return &parsed.File, nil
}

// waitActive polls the file resource until Gemini finishes processing it.
func (c *Client) waitActive(ctx context.Context, file *fileRef) (*fileRef, error) {
	deadline := time.Now().Add(c.processTimeout)
	for file.State != "ACTIVE" {
		if file.State == "FAILED" {
			return nil, fmt.Errorf("file processing failed for %s", file.Name)
		}
		if time.Now().After(deadline) {
			return nil, &retryableError{err: fmt.Errorf("file processing timeout after %s", c.processTimeout)}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/v1beta/"+file.Name, nil)
		if err != nil {
			return nil, fmt.Errorf("create file status request: %w", err)
		}
		req.Header.Set("x-goog-api-key", c.cfg.APIKey)

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, &retryableError{err: fmt.Errorf("file status: %w", err)}
		}
		body, err := readBody(resp)
		if err != nil {
			return nil, err
		}

		var updated fileRef
		if err := json.Unmarshal(body, &updated); err != nil {
			return nil, fmt.Errorf("decode file status: %w", err)
		}
		if updated.URI == "" {
			updated.URI = file.URI
		}
		file = &updated
	}
	return file, nil
}

// generate asks the model for the analysis and returns the raw text of the
// first candidate.
func (c *Client) generate(ctx context.Context, fileURI, mime string) (string, error) {
	payload, _ := json.Marshal(map[string]interface{}{
		"contents": []map[string]interface{}{{
			"parts": []map[string]interface{}{
				{"file_data": map[string]string{"mime_type": mime, "file_uri": fileURI}},
				{"text": analysisPrompt},
			},
		}},
	})

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.cfg.BaseURL, c.cfg.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create generate request: %w", err)
	}
	req.Header.Set("x-goog-api-key", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &retryableError{err: fmt.Errorf("generate: %w", err)}
	}
	body, err := readBody(resp)
	if err != nil {
		return "", err
	}

	var parsed struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode generate response: %w", err)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("generate: empty response: %s", truncate(body, 200))
	}
	return parsed.Candidates[0].Content.Parts[0].Text, nil
}

// deleteFile removes the uploaded file from the API. Runs on its own short
// context so a cancelled analysis still cleans up.
func (c *Client) deleteFile(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.cfg.BaseURL+"/v1beta/"+name, nil)
	if err != nil {
		return
	}
	req.Header.Set("x-goog-api-key", c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		c.log(diaglog.LogEntry{
			Event:   "file_delete_failed",
			Payload: map[string]interface{}{"file": name, "error": err.Error()},
		})
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// HealthCheck verifies the API key against the configured model.
func (c *Client) HealthCheck() (*analyzer.HealthStatus, error) {
	if c.cfg.APIKey == "" {
		return &analyzer.HealthStatus{
			OK:      false,
			Backend: c.Name(),
			Message: "api key not configured",
		}, nil
	}

	start := time.Now()
	url := fmt.Sprintf("%s/v1beta/models/%s", c.cfg.BaseURL, c.cfg.Model)
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create health request: %w", err)
	}
	req.Header.Set("x-goog-api-key", c.cfg.APIKey)

	resp, err := c.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return &analyzer.HealthStatus{
			OK:      false,
			Backend: c.Name(),
			Message: fmt.Sprintf("health check failed: %v", err),
			Latency: latency,
		}, nil
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &analyzer.HealthStatus{
			OK:      false,
			Backend: c.Name(),
			Message: fmt.Sprintf("unhealthy: http %d: %s", resp.StatusCode, truncate(body, 200)),
			Latency: latency,
		}, nil
	}

	return &analyzer.HealthStatus{
		OK:      true,
		Backend: c.Name(),
		Message: fmt.Sprintf("model %s reachable", c.cfg.Model),
		Latency: latency,
	}, nil
}

// ── helpers ──────────────────────────────────────────────────────────────────

// readBody drains and classifies an HTTP response: 429 and 5xx are
// retryable, other non-2xx statuses are permanent.
func readBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("read response body: %w", err)}
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, &retryableError{err: fmt.Errorf("server error %d: %s", resp.StatusCode, truncate(body, 200))}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, truncate(body, 200))
	}
	return body, nil
}

// parseAnalysis decodes the model output, tolerating a markdown code fence
// around the JSON.
func parseAnalysis(text string) (*analyzer.Analysis, error) {
	text = stripFences(strings.TrimSpace(text))

	var parsed struct {
		Title   string   `json:"title"`
		Summary string   `json:"summary"`
		Steps   []string `json:"steps"`
	}
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, fmt.Errorf("invalid JSON in model response: %w", err)
	}
	if parsed.Title == "" {
		return nil, fmt.Errorf("model response missing title")
	}
	if parsed.Summary == "" {
		return nil, fmt.Errorf("model response missing summary")
	}
	if len(parsed.Steps) == 0 {
		return nil, fmt.Errorf("model response has no steps")
	}

	return &analyzer.Analysis{
		Title:   parsed.Title,
		Summary: parsed.Summary,
		Steps:   parsed.Steps,
	}, nil
}

// stripFences removes a leading ```json or ``` code fence pair.
func stripFences(s string) string {
	marker := ""
	switch {
	case strings.HasPrefix(s, "```json"):
		marker = "```json"
	case strings.HasPrefix(s, "```"):
		marker = "```"
	default:
		return s
	}
	s = s[len(marker):]
	if end := strings.Index(s, "```"); end >= 0 {
		s = s[:end]
	}
	return strings.TrimSpace(s)
}

// retryableError wraps errors that should trigger a retry.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// isRetryable returns true for retryableError instances.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	_, ok := err.(*retryableError)
	return ok
}

// backoff returns exponential backoff duration: base * 2^(attempt-1) + jitter.
func (c *Client) backoff(attempt int) time.Duration {
	base := c.backoffBase
	if base <= 0 {
		base = time.Second
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	// Add jitter: 0–25% of delay.
	jitter := time.Duration(rand.Int63n(int64(delay/4) + 1))
	return delay + jitter
}

// mimeTypeFor maps a video extension to its MIME type.
func mimeTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mov":
		return "video/quicktime"
	case ".avi":
		return "video/x-msvideo"
	case ".mkv":
		return "video/x-matroska"
	case ".webm":
		return "video/webm"
	case ".flv":
		return "video/x-flv"
	case ".m4v":
		return "video/x-m4v"
	default:
		return "video/mp4"
	}
}

// truncate returns the first n bytes of body as a string.
func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
