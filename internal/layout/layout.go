// Package layout maps fingerprints to sharded directory paths and defines
// the reserved names every artifact directory carries.
package layout

import (
	"fmt"
	"path/filepath"
	"strings"
)

// StoreVersion is bumped only when the reserved-name set or descriptor
// shape changes in a way that makes old stores unreadable.
const StoreVersion = "v1"

// Reserved member names inside an artifact directory. These may never be
// returned as a user `entry` value.
const (
	DescriptorName = ".descriptor.json"
	EntryLinkName  = ".entry"
	WorkspaceName  = "workspace"
)

var reservedNames = map[string]bool{
	DescriptorName: true,
	EntryLinkName:  true,
	WorkspaceName:  true,
}

// IsReserved reports whether name collides with a reserved artifact member.
func IsReserved(name string) bool {
	return reservedNames[name]
}

// ValidateKind checks kind against the rules in the data model: non-empty,
// no path separators, no leading/trailing whitespace, not "." or "..".
func ValidateKind(kind string) error {
	if kind == "" {
		return fmt.Errorf("kind must not be empty")
	}
	if kind != strings.TrimSpace(kind) {
		return fmt.Errorf("kind %q has leading or trailing whitespace", kind)
	}
	if kind == "." || kind == ".." {
		return fmt.Errorf("kind must not be %q", kind)
	}
	if strings.ContainsAny(kind, `/\`) {
		return fmt.Errorf("kind %q must not contain path separators", kind)
	}
	return nil
}

// Shard returns the first two hex characters of a fingerprint, used as an
// intermediate directory to cap fan-out under one kind.
func Shard(fingerprint string) (string, error) {
	if len(fingerprint) < 2 {
		return "", fmt.Errorf("fingerprint %q is too short to shard", fingerprint)
	}
	return fingerprint[:2], nil
}

// ArtifactPath returns the on-disk path for an artifact of the given kind
// and fingerprint, rooted at root.
func ArtifactPath(root, kind, fingerprint string) (string, error) {
	if err := ValidateKind(kind); err != nil {
		return "", err
	}
	shard, err := Shard(fingerprint)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, "fs-data", StoreVersion, kind, shard, fingerprint), nil
}

// KindDir returns the directory that holds every fingerprint shard for
// a given kind: <root>/fs-data/<storeVersion>/<kind>.
func KindDir(root, kind string) (string, error) {
	if err := ValidateKind(kind); err != nil {
		return "", err
	}
	return filepath.Join(root, "fs-data", StoreVersion, kind), nil
}

// StoreRoot returns <root>/fs-data/<storeVersion>, the directory Graph
// Discovery walks.
func StoreRoot(root string) string {
	return filepath.Join(root, "fs-data", StoreVersion)
}

// ScratchPrefix is the sibling-name prefix used for in-progress builds, per
// invariant 4 (scratch dirs never coexist with a published artifact beyond
// the rename step).
const ScratchPrefix = ".tmp-"

// ScratchPath returns the scratch directory sibling of an artifact's final
// path, uniquified by nonce so concurrent publishers never collide.
func ScratchPath(root, kind, fingerprint, nonce string) (string, error) {
	if err := ValidateKind(kind); err != nil {
		return "", err
	}
	shard, err := Shard(fingerprint)
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s%s-%s", ScratchPrefix, fingerprint, nonce)
	return filepath.Join(root, "fs-data", StoreVersion, kind, shard, name), nil
}

// IsScratchName reports whether a directory entry name is a scratch
// directory that Graph Discovery must skip.
func IsScratchName(name string) bool {
	return strings.HasPrefix(name, ScratchPrefix)
}

// WorkspacePath returns the workspace subdirectory of an artifact (or
// scratch) directory.
func WorkspacePath(artifactOrScratchDir string) string {
	return filepath.Join(artifactOrScratchDir, WorkspaceName)
}

// DescriptorPath returns the descriptor file path inside an artifact (or
// scratch) directory.
func DescriptorPath(artifactOrScratchDir string) string {
	return filepath.Join(artifactOrScratchDir, DescriptorName)
}

// EntryLinkPath returns the entry-link symlink path inside an artifact (or
// scratch) directory.
func EntryLinkPath(artifactOrScratchDir string) string {
	return filepath.Join(artifactOrScratchDir, EntryLinkName)
}
