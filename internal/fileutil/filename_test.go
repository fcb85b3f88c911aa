package fileutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSessionFilename(t *testing.T) {
	ts := time.Date(2026, 1, 15, 14, 30, 5, 0, time.UTC)

	if got, want := SessionStem(ts), "recording_20260115_143005"; got != want {
		t.Errorf("SessionStem = %q, want %q", got, want)
	}
	if got, want := SessionFilename(ts), "recording_20260115_143005.mp4"; got != want {
		t.Errorf("SessionFilename = %q, want %q", got, want)
	}
}

func TestSanitizeForFilename(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", "Recording"},
		{"simple", "Fix login bug", "Fix-login-bug"},
		{"illegal chars", `a/b\c:d*e?f"g<h>i|j`, "a-b-c-d-e-f-g-h-i-j"},
		{"collapse whitespace", "too   many    spaces", "too-many-spaces"},
		{"underscores", "snake_case_title", "snake-case-title"},
		{"trim hyphens", "  -- padded --  ", "padded"},
		{"only illegal", `///`, "Recording"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeForFilename(tt.input); got != tt.want {
				t.Errorf("SanitizeForFilename(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSanitizeForFilenameTruncates(t *testing.T) {
	long := ""
	for i := 0; i < 20; i++ {
		long += "abcdefghij"
	}
	got := SanitizeForFilename(long)
	if len(got) > 50 {
		t.Errorf("sanitized length = %d, want <= 50", len(got))
	}
}

func TestEnsureUnique(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.md")

	// Nothing exists: path comes back unchanged.
	if got := EnsureUnique(path); got != path {
		t.Errorf("EnsureUnique on free path = %q, want %q", got, path)
	}

	// One collision: expect _2 suffix.
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	want2 := filepath.Join(dir, "note_2.md")
	if got := EnsureUnique(path); got != want2 {
		t.Errorf("EnsureUnique with collision = %q, want %q", got, want2)
	}

	// Two collisions: expect _3 suffix.
	if err := os.WriteFile(want2, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	want3 := filepath.Join(dir, "note_3.md")
	if got := EnsureUnique(path); got != want3 {
		t.Errorf("EnsureUnique with two collisions = %q, want %q", got, want3)
	}
}
