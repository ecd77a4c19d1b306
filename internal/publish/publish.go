// Package publish implements the scratch-and-rename protocol that makes
// artifact creation atomic: a build stages into a scratch directory, and a
// single directory rename makes it visible at its canonical path. Exactly
// one concurrent writer's rename can win per fingerprint; the rest reuse
// the winner's result (winner-takes-all, no global lock).
package publish

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"casforge/internal/layout"
)

// ErrPublishFailed wraps unexpected rename errors (not the benign
// "another writer won" case, which is handled silently).
var ErrPublishFailed = errors.New("publish failed")

// Scratch represents a staged, not-yet-published artifact build.
type Scratch struct {
	// Dir is the scratch directory, a sibling of the eventual artifact
	// path, named ".tmp-<fingerprint>-<nonce>".
	Dir string
	// Workspace is Dir/workspace, where fn and dependency mounts write.
	Workspace string

	artifactDir string
}

// Prepare creates a fresh scratch directory (and its workspace
// subdirectory) for a build of (kind, fingerprint) rooted at root.
func Prepare(root, kind, fingerprint string) (*Scratch, error) {
	artifactDir, err := layout.ArtifactPath(root, kind, fingerprint)
	if err != nil {
		return nil, err
	}

	nonce := uuid.New().String()
	scratchDir, err := layout.ScratchPath(root, kind, fingerprint, nonce)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(scratchDir), 0755); err != nil {
		return nil, errors.Wrap(err, "creating shard directory")
	}
	workspace := layout.WorkspacePath(scratchDir)
	if err := os.MkdirAll(workspace, 0755); err != nil {
		return nil, errors.Wrap(err, "creating scratch workspace")
	}

	return &Scratch{Dir: scratchDir, Workspace: workspace, artifactDir: artifactDir}, nil
}

// Publish attempts to rename s.Dir into its final artifact path. On
// success it returns (artifactDir, true, nil) — this caller's build won.
// If another writer's rename beat this one to the target (the rename fails
// because a non-empty directory already occupies it), Publish deletes the
// scratch directory and returns (artifactDir, false, nil): the caller
// should treat the existing artifact as canonical. Any other rename error
// is wrapped in ErrPublishFailed.
func (s *Scratch) Publish() (artifactDir string, won bool, err error) {
	renameErr := os.Rename(s.Dir, s.artifactDir)
	if renameErr == nil {
		return s.artifactDir, true, nil
	}

	if destinationOccupied(s.artifactDir) {
		_ = os.RemoveAll(s.Dir)
		return s.artifactDir, false, nil
	}

	return "", false, errors.Wrapf(ErrPublishFailed, "renaming %s to %s: %v", s.Dir, s.artifactDir, renameErr)
}

// destinationOccupied reports whether a published, non-empty artifact
// directory already exists at dir — the signal that another writer won the
// race, as opposed to some other filesystem failure.
func destinationOccupied(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	return len(entries) > 0
}

// Abandon deletes the scratch directory after a failed build. Callers pass
// cleanup=false to preserve it for forensic inspection, per the
// configurable cleanup policy.
func (s *Scratch) Abandon(cleanup bool) error {
	if !cleanup {
		return nil
	}
	if err := os.RemoveAll(s.Dir); err != nil {
		return errors.Wrap(err, "cleaning up scratch directory")
	}
	return nil
}
