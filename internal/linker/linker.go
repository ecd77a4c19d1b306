// Package linker creates and validates the relative symlinks that mount one
// artifact's entry into another artifact's workspace.
//
// The relative-symlink construction is the same idiom used to point a
// "latest build" convenience link at a build output directory: compute the
// target relative to the link's own parent directory, so the link keeps
// resolving correctly if the whole tree is moved or mounted elsewhere.
package linker

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"casforge/internal/layout"
)

// ErrInvalidMount marks a mount path that fails validation (contains "..",
// is absolute, or is empty).
var ErrInvalidMount = errors.New("invalid mount path")

// validateMountPath enforces invariant 5: dependency mount paths are
// relative, must not contain "..", and must resolve under the workspace
// root.
func validateMountPath(mountPath string) error {
	if mountPath == "" {
		return errors.Wrap(ErrInvalidMount, "mount path must not be empty")
	}
	if filepath.IsAbs(mountPath) {
		return errors.Wrapf(ErrInvalidMount, "%q must be relative", mountPath)
	}
	cleaned := filepath.Clean(mountPath)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return errors.Wrapf(ErrInvalidMount, "%q escapes the workspace", mountPath)
	}
	for _, part := range strings.Split(filepath.ToSlash(mountPath), "/") {
		if part == ".." {
			return errors.Wrapf(ErrInvalidMount, "%q must not contain \"..\"", mountPath)
		}
	}
	return nil
}

// ExpectedLinkTarget returns the canonical relative string a valid mount
// symlink at workspaceDir/mountPath should carry, pointing through the
// target artifact's entry link.
func ExpectedLinkTarget(workspaceDir, mountPath, targetArtifactDir string) (string, error) {
	if err := validateMountPath(mountPath); err != nil {
		return "", err
	}
	linkPath := filepath.Join(workspaceDir, mountPath)
	targetEntry := layout.EntryLinkPath(targetArtifactDir)
	rel, err := filepath.Rel(filepath.Dir(linkPath), targetEntry)
	if err != nil {
		return "", errors.Wrap(err, "computing relative mount target")
	}
	return rel, nil
}

// LinkDependency creates parent directories for mountPath inside
// workspaceDir, then creates a symlink whose target is the relative path
// from the symlink's parent directory to the target artifact's entry link.
// Dereferencing the mount therefore resolves transitively into the
// dependency's workspace, as if its entry had been copied in.
func LinkDependency(workspaceDir, mountPath, targetArtifactDir string) error {
	rel, err := ExpectedLinkTarget(workspaceDir, mountPath, targetArtifactDir)
	if err != nil {
		return err
	}
	linkPath := filepath.Join(workspaceDir, mountPath)
	if err := os.MkdirAll(filepath.Dir(linkPath), 0755); err != nil {
		return errors.Wrap(err, "creating mount parent directories")
	}
	if err := os.Symlink(rel, linkPath); err != nil {
		return errors.Wrap(err, "creating mount symlink")
	}
	return nil
}

// ValidateMount reads the on-disk symlink at workspaceDir/mountPath and
// compares its literal target string against expectedTarget. It reports
// (true, nil) when the mount is healthy, or (false, nil) when it is stale
// (target string differs) or the link/its target is missing — both of
// which the engine treats as "needs recovery", per the recovery protocol.
func ValidateMount(workspaceDir, mountPath, expectedTarget string) (ok bool, err error) {
	linkPath := filepath.Join(workspaceDir, mountPath)

	actual, readErr := os.Readlink(linkPath)
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return false, nil
		}
		return false, errors.Wrap(readErr, "reading mount symlink")
	}
	if actual != expectedTarget {
		return false, nil
	}

	// Link target string matches, but the dependency artifact may have been
	// removed out-of-band; stat through the link to detect that.
	if _, statErr := os.Stat(linkPath); statErr != nil {
		if os.IsNotExist(statErr) {
			return false, nil
		}
		return false, errors.Wrap(statErr, "statting mount target")
	}

	return true, nil
}

// Unlink removes the mount symlink at workspaceDir/mountPath, tolerating
// its absence.
func Unlink(workspaceDir, mountPath string) error {
	linkPath := filepath.Join(workspaceDir, mountPath)
	if err := os.Remove(linkPath); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "removing mount symlink")
	}
	return nil
}
