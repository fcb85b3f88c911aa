// Package summary renders analysis results as markdown notes next to the
// recording (or in a dedicated notes directory).
package summary

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Note holds everything a rendered summary needs.
type Note struct {
	Title      string
	Summary    string
	Steps      []string
	Model      string
	Backend    string
	VideoPath  string
	RecordedAt time.Time     // zero when unknown
	Duration   time.Duration // zero when unknown
}

// Path returns the markdown path for a video: the video stem plus ".md",
// placed in notesDir when set, otherwise next to the video.
func Path(videoPath, notesDir string) string {
	base := filepath.Base(videoPath)
	ext := filepath.Ext(base)
	name := base[:len(base)-len(ext)] + ".md"
	if notesDir != "" {
		return filepath.Join(notesDir, name)
	}
	return filepath.Join(filepath.Dir(videoPath), name)
}

// Exists reports whether a summary file is already present at path.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Write renders the note as markdown and writes it atomically (temp file +
// rename) so readers never see a partial summary.
func Write(path string, note Note) error {
	return atomicWrite(path, []byte(render(note)))
}

func render(note Note) string {
	var b strings.Builder

	title := note.Title
	if title == "" {
		title = "Screen Recording"
	}
	fmt.Fprintf(&b, "# %s\n\n", title)

	if !note.RecordedAt.IsZero() {
		if note.Duration > 0 {
			fmt.Fprintf(&b, "- **Recorded:** %s (%s)\n",
				note.RecordedAt.Local().Format("2006-01-02 15:04"), formatDuration(note.Duration))
		} else {
			fmt.Fprintf(&b, "- **Recorded:** %s\n", note.RecordedAt.Local().Format("2006-01-02 15:04"))
		}
	}
	if note.VideoPath != "" {
		fmt.Fprintf(&b, "- **Video:** %s\n", filepath.Base(note.VideoPath))
	}
	if note.Backend != "" {
		if note.Model != "" {
			fmt.Fprintf(&b, "- **Generated by:** %s (%s)\n", note.Backend, note.Model)
		} else {
			fmt.Fprintf(&b, "- **Generated by:** %s\n", note.Backend)
		}
	}
	b.WriteByte('\n')

	b.WriteString("## Summary\n\n")
	b.WriteString(strings.TrimSpace(note.Summary))
	b.WriteString("\n\n")

	b.WriteString("## Steps\n\n")
	for i, step := range note.Steps {
		fmt.Fprintf(&b, "%d. %s\n", i+1, cleanStep(step, i+1))
	}

	return b.String()
}

// cleanStep drops a redundant "Step N:" prefix when it matches the list
// position; the numbered markdown list already carries it.
func cleanStep(step string, n int) string {
	step = strings.TrimSpace(step)
	prefix := fmt.Sprintf("Step %d:", n)
	if strings.HasPrefix(step, prefix) {
		return strings.TrimSpace(strings.TrimPrefix(step, prefix))
	}
	return step
}

// formatDuration renders a duration as "32m" or "1h06m".
func formatDuration(d time.Duration) string {
	d = d.Round(time.Minute)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%02dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}

// atomicWrite writes data to path atomically using a temp file + rename.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmpFile, err := os.CreateTemp(dir, "summary-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	// Ensure cleanup on error.
	defer func() {
		if tmpFile != nil {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("writing summary: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("syncing summary: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing summary: %w", err)
	}
	tmpFile = nil // prevent defer cleanup

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming summary: %w", err)
	}
	return nil
}
