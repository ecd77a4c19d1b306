package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"casforge/internal/layout"
)

func mustMkdirAll(t *testing.T, dir string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("MkdirAll(%q): %v", dir, err)
	}
}

func TestWriteReadDescriptorRoundTrip(t *testing.T) {
	dir := t.TempDir()
	mustMkdirAll(t, dir)

	now := time.Now().UTC()
	record := Descriptor{
		ManifestVersion: ManifestVersion,
		Kind:            "echo",
		Input:           map[string]any{"text": "hi"},
		Metadata:        map[string]any{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := WriteDescriptor(dir, record); err != nil {
		t.Fatalf("WriteDescriptor: %v", err)
	}

	if !ArtifactExists(dir) {
		t.Fatalf("ArtifactExists = false after WriteDescriptor")
	}

	got, err := ReadDescriptor(dir)
	if err != nil {
		t.Fatalf("ReadDescriptor: %v", err)
	}
	if got.Kind != "echo" {
		t.Fatalf("Kind = %q, want %q", got.Kind, "echo")
	}
}

func TestArtifactExistsFalseWithoutDescriptor(t *testing.T) {
	dir := t.TempDir()
	if ArtifactExists(dir) {
		t.Fatalf("ArtifactExists = true for directory with no descriptor")
	}
}

func TestReadDescriptorCorrupt(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(layout.DescriptorPath(dir), []byte("not json"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := ReadDescriptor(dir); err == nil {
		t.Fatalf("expected an error reading a corrupt descriptor")
	}
}

func TestCreateAndResolveEntryLink(t *testing.T) {
	dir := t.TempDir()
	workspace := layout.WorkspacePath(dir)
	mustMkdirAll(t, workspace)
	if err := os.WriteFile(filepath.Join(workspace, "out.txt"), []byte("hi"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := CreateEntryLink(dir, "out.txt"); err != nil {
		t.Fatalf("CreateEntryLink: %v", err)
	}

	resolved, err := ResolveEntryLink(dir)
	if err != nil {
		t.Fatalf("ResolveEntryLink: %v", err)
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		t.Fatalf("ReadFile(%q): %v", resolved, err)
	}
	if string(data) != "hi" {
		t.Fatalf("content = %q, want %q", data, "hi")
	}
}

func TestCreateEntryLinkRejectsEscape(t *testing.T) {
	// S6 — Escape rejection.
	dir := t.TempDir()
	mustMkdirAll(t, layout.WorkspacePath(dir))
	if err := CreateEntryLink(dir, "../evil"); err == nil {
		t.Fatalf("expected an error for an escaping entry")
	}
}

func TestResolveEntryLinkDetectsEscape(t *testing.T) {
	dir := t.TempDir()
	mustMkdirAll(t, layout.WorkspacePath(dir))
	// Hand-construct a symlink that escapes workspace/, bypassing
	// CreateEntryLink's own validation, to exercise ResolveEntryLink's
	// independent check.
	if err := os.Symlink("../outside", layout.EntryLinkPath(dir)); err != nil {
		t.Fatalf("Symlink: %v", err)
	}
	if _, err := ResolveEntryLink(dir); err == nil {
		t.Fatalf("expected entry-link escape error")
	}
}
