package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"casforge/internal/layout"
)

// ErrCorruptDescriptor is wrapped and returned when the descriptor file
// exists but fails to parse as JSON. Callers must decide what to do
// (surface, or delete and retry) — it is never silently treated as absent.
var ErrCorruptDescriptor = errors.New("corrupt descriptor")

// ErrEntryLinkEscape is wrapped and returned when the entry link resolves
// outside workspace/.
var ErrEntryLinkEscape = errors.New("entry-link escape")

// WriteDescriptor serializes record into the reserved descriptor filename
// inside dir. dir is expected to be a scratch directory that has not yet
// been published; writing is not itself atomic here because the surrounding
// publish protocol only makes the whole directory visible via one rename.
func WriteDescriptor(dir string, record Descriptor) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshaling descriptor")
	}
	if err := os.WriteFile(layout.DescriptorPath(dir), data, 0644); err != nil {
		return errors.Wrap(err, "writing descriptor")
	}
	return nil
}

// ReadDescriptor parses the descriptor file in dir. A missing file is
// reported as a plain os.IsNotExist-compatible error; an unparsable file is
// wrapped in ErrCorruptDescriptor.
func ReadDescriptor(dir string) (*Descriptor, error) {
	data, err := os.ReadFile(layout.DescriptorPath(dir))
	if err != nil {
		return nil, err
	}
	var record Descriptor
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, errors.Wrapf(ErrCorruptDescriptor, "%s: %v", dir, err)
	}
	return &record, nil
}

// ArtifactExists reports whether dir's descriptor file is present and
// readable.
func ArtifactExists(dir string) bool {
	_, err := os.Stat(layout.DescriptorPath(dir))
	return err == nil
}

// CreateEntryLink validates that entry is a safe relative path under
// workspace/, then creates the reserved entry-link symlink pointing at
// workspace/<entry> (relative, so artifacts remain relocatable).
func CreateEntryLink(dir, entry string) error {
	if err := validateEntry(entry); err != nil {
		return err
	}
	target := filepath.Join(layout.WorkspaceName, entry)
	return os.Symlink(target, layout.EntryLinkPath(dir))
}

// validateEntry rejects entries that would resolve outside workspace/,
// matching the entry-link escape rule (data model invariant 2, S6).
func validateEntry(entry string) error {
	if entry == "" {
		return errors.Wrap(ErrInvalidArgument, "entry must not be empty")
	}
	if filepath.IsAbs(entry) {
		return errors.Wrapf(ErrInvalidArgument, "entry %q must be relative", entry)
	}
	cleaned := filepath.Clean(entry)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") || strings.HasPrefix(cleaned, string(filepath.Separator)) {
		return errors.Wrapf(ErrInvalidArgument, "entry %q escapes workspace", entry)
	}
	if layout.IsReserved(cleaned) {
		return errors.Wrapf(ErrInvalidArgument, "entry %q is a reserved name", entry)
	}
	return nil
}

// ErrInvalidArgument marks entry validation failures.
var ErrInvalidArgument = errors.New("invalid argument")

// ResolveEntryLink follows dir's entry-link symlink and verifies the
// resolved path lies within workspace/, returning the path to the user's
// entry point joined onto dir (absolute when dir is absolute).
func ResolveEntryLink(dir string) (string, error) {
	linkPath := layout.EntryLinkPath(dir)
	target, err := os.Readlink(linkPath)
	if err != nil {
		return "", err
	}

	resolved := target
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(dir, target)
	}
	resolved = filepath.Clean(resolved)

	workspaceRoot := filepath.Clean(layout.WorkspacePath(dir))
	if resolved != workspaceRoot && !strings.HasPrefix(resolved, workspaceRoot+string(filepath.Separator)) {
		return "", errors.Wrapf(ErrEntryLinkEscape, "%s -> %s", linkPath, resolved)
	}

	if _, err := os.Stat(resolved); err != nil {
		return "", err
	}
	return resolved, nil
}
