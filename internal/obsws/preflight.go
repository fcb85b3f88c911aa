package obsws

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// SourceInfo represents a source in an OBS scene
type SourceInfo struct {
	SourceName string `json:"sourceName"`
	InputKind  string `json:"inputKind"`
	Enabled    bool   `json:"sceneItemEnabled"`
}

// ScenePreflight reports whether the active scene can record the screen
type ScenePreflight struct {
	SceneName       string
	HasDisplayVideo bool
	VideoSourceName string
}

// displaySourceKinds are the input kinds that capture a screen. The set
// covers X11, Wayland pipewire, and the non-Linux kinds so a preflight
// against a remote OBS still recognizes its sources.
var displaySourceKinds = map[string]bool{
	"xshm_input":                      true, // Linux X11 screen
	"pipewire-desktop-capture-source": true, // Linux Wayland (OBS 28+)
	"pipewire-screen-capture-source":  true, // Linux Wayland (older plugin)
	"monitor_capture":                 true, // Windows monitor
	"macos_screen_capture":            true, // macOS screen
	"window_capture":                  true, // Window capture
	"game_capture":                    true, // Game capture
}

// GetSceneSources retrieves all sources for a scene
func (c *Client) GetSceneSources(sceneName string) ([]SourceInfo, error) {
	resp, err := c.sendRequest("GetSceneItemList", map[string]interface{}{
		"sceneName": sceneName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get scene sources: %w", err)
	}

	var data struct {
		SceneItems []SourceInfo `json:"sceneItems"`
	}

	if err := json.Unmarshal(resp.ResponseData, &data); err != nil {
		return nil, fmt.Errorf("failed to parse scene sources: %w", err)
	}

	return data.SceneItems, nil
}

// GetActiveScene returns the current program scene name
func (c *Client) GetActiveScene() (string, error) {
	resp, err := c.sendRequest("GetCurrentProgramScene", nil)
	if err != nil {
		return "", fmt.Errorf("failed to get current scene: %w", err)
	}

	var data struct {
		CurrentProgramSceneName string `json:"currentProgramSceneName"`
	}

	if err := json.Unmarshal(resp.ResponseData, &data); err != nil {
		return "", fmt.Errorf("failed to parse current scene: %w", err)
	}

	return data.CurrentProgramSceneName, nil
}

// CreateSource creates a new input in a scene
func (c *Client) CreateSource(sceneName, sourceName, inputKind string, settings interface{}) error {
	_, err := c.sendRequest("CreateInput", map[string]interface{}{
		"sceneName":     sceneName,
		"inputName":     sourceName,
		"inputKind":     inputKind,
		"inputSettings": settings,
	})

	if err != nil {
		return fmt.Errorf("failed to create source %q: %w", sourceName, err)
	}

	return nil
}

// CreateSourceWithRetry creates a source with automatic retries on failure
func (c *Client) CreateSourceWithRetry(sceneName, sourceName, inputKind string, settings interface{}, maxRetries int) error {
	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		fmt.Printf("[CREATE_RETRY] Attempt %d/%d to create %q (kind: %s)...\n", attempt, maxRetries, sourceName, inputKind)

		err := c.CreateSource(sceneName, sourceName, inputKind, settings)
		if err == nil {
			fmt.Printf("[CREATE_RETRY] Success on attempt %d\n", attempt)
			return nil
		}

		lastErr = err
		fmt.Printf("[CREATE_RETRY] Attempt %d failed: %v\n", attempt, err)

		// Code 204 means OBS does not know the request or kind; retrying
		// the same request cannot succeed
		errStr := fmt.Sprintf("%v", err)
		if strings.Contains(errStr, "204") {
			fmt.Println("[CREATE_RETRY] Code 204 (InvalidRequest) detected - likely OBS version issue")
			fmt.Printf("[CREATE_RETRY] Suggestion: Ensure OBS version 28.0+ and obs-websocket v5+\n")
			return err
		}

		// Wait before retrying (except on last attempt)
		if attempt < maxRetries {
			waitTime := time.Duration(attempt) * time.Second
			fmt.Printf("[CREATE_RETRY] Waiting %d seconds before retry %d...\n", waitTime/time.Second, attempt+1)
			time.Sleep(waitTime)
		}
	}

	return fmt.Errorf("failed to create source %q after %d retries: %w", sourceName, maxRetries, lastErr)
}

// ValidateDisplaySource checks whether the scene has an enabled screen source
func (c *Client) ValidateDisplaySource(sceneName string) (*ScenePreflight, error) {
	sources, err := c.GetSceneSources(sceneName)
	if err != nil {
		return nil, err
	}

	result := &ScenePreflight{SceneName: sceneName}

	for _, src := range sources {
		if displaySourceKinds[src.InputKind] && src.Enabled {
			result.HasDisplayVideo = true
			result.VideoSourceName = src.SourceName
		}
	}

	return result, nil
}

// CheckAndCreateDisplaySource checks for display capture and creates if missing
func (c *Client) CheckAndCreateDisplaySource(sceneName string) (string, error) {
	sources, err := c.GetSceneSources(sceneName)
	if err != nil {
		return "", err
	}

	for _, src := range sources {
		if displaySourceKinds[src.InputKind] {
			if src.Enabled {
				fmt.Printf("[SOURCE_FOUND] Display source '%s' already exists and is enabled\n", src.SourceName)
				return src.SourceName, nil
			}
			fmt.Printf("[SOURCE_DISABLED] Display source '%s' exists but is disabled, attempting to enable...\n", src.SourceName)
			return src.SourceName, nil
		}
	}

	// No display source found, create one
	inputKind, settings := defaultDisplayKind()

	displaySourceName := "Screen Capture"
	fmt.Printf("[CREATE] Creating display source '%s' (kind: %s)\n", displaySourceName, inputKind)
	if err := c.CreateSourceWithRetry(sceneName, displaySourceName, inputKind, settings, 3); err != nil {
		fmt.Printf("[ERROR] Failed to create display source: %v\n", err)
		return "", fmt.Errorf("failed to create display source: %w", err)
	}
	fmt.Printf("[SUCCESS] Display source '%s' created\n", displaySourceName)

	return displaySourceName, nil
}

// defaultDisplayKind picks the screen capture kind for the local platform
func defaultDisplayKind() (string, map[string]interface{}) {
	switch runtime.GOOS {
	case "windows":
		return "monitor_capture", map[string]interface{}{"monitor": 0}
	case "linux":
		if isWaylandDesktop() {
			return "pipewire-desktop-capture-source", map[string]interface{}{}
		}
		return "xshm_input", map[string]interface{}{"screen": 0}
	default: // darwin/macOS
		return "macos_screen_capture", map[string]interface{}{"display": 0}
	}
}

func isWaylandDesktop() bool {
	return strings.EqualFold(os.Getenv("XDG_SESSION_TYPE"), "wayland") || os.Getenv("WAYLAND_DISPLAY") != ""
}

// EnsureDisplaySource validates the active scene and creates a screen
// capture source when none exists
func (c *Client) EnsureDisplaySource() error {
	// Get current scene
	sceneName, err := c.GetActiveScene()
	if err != nil {
		return fmt.Errorf("failed to get active scene: %w", err)
	}

	// Get scene sources to log current state
	sources, err := c.GetSceneSources(sceneName)
	if err != nil {
		return fmt.Errorf("failed to list scene sources: %w", err)
	}

	fmt.Printf("[SOURCES] Active scene: '%s', existing sources: %d\n", sceneName, len(sources))
	for _, src := range sources {
		fmt.Printf("[SOURCE_FOUND] %s (kind: %s, enabled: %v)\n", src.SourceName, src.InputKind, src.Enabled)
	}

	// Check and create display source if missing
	displaySource, err := c.CheckAndCreateDisplaySource(sceneName)
	if err != nil {
		return fmt.Errorf("failed to ensure display source: %w", err)
	}
	fmt.Printf("[SOURCE_CHECK] Display source: %s\n", displaySource)

	// Validate the source is now enabled
	validation, err := c.ValidateDisplaySource(sceneName)
	if err != nil {
		return fmt.Errorf("failed to validate sources: %w", err)
	}

	if !validation.HasDisplayVideo {
		return fmt.Errorf("display source created but not enabled: %s", displaySource)
	}

	fmt.Println("[VERIFY] Screen capture source is present and enabled")
	return nil
}

// CheckRecordingSetup runs the preflight against the active scene without
// creating anything. Status surfaces use this to explain why the OBS
// backend cannot record.
func (c *Client) CheckRecordingSetup() (*ScenePreflight, error) {
	sceneName, err := c.GetActiveScene()
	if err != nil {
		return nil, err
	}

	return c.ValidateDisplaySource(sceneName)
}

// StartOBSIfNeeded launches OBS if it's not running
func StartOBSIfNeeded() error {
	// Check if OBS is already running
	if isOBSRunning() {
		return nil // Already running
	}

	// Launch OBS
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", "-a", "OBS")
	case "windows":
		cmd = exec.Command("OBS.exe")
	case "linux":
		// Minimize to tray so the recorder does not steal focus from the
		// activity the user is being recorded doing
		cmd = exec.Command("obs", "--minimize-to-tray")
	default:
		return fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start OBS: %w", err)
	}

	// Wait for OBS to start and WebSocket to be ready
	// Give OBS 5 seconds to initialize
	time.Sleep(5 * time.Second)

	return nil
}

// isOBSRunning checks if OBS process is currently running
func isOBSRunning() bool {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("pgrep", "-f", "OBS")
	case "windows":
		cmd = exec.Command("tasklist", "/FI", "IMAGENAME eq OBS.exe")
	case "linux":
		cmd = exec.Command("pgrep", "-x", "obs")
	default:
		return false
	}

	err := cmd.Run()
	return err == nil // Returns nil if process found
}
