// Package store reads and writes the manifest descriptor file and manages
// the entry-link symlink that names an artifact's canonical output.
package store

import "time"

// ManifestVersion is the descriptor wire-format version. It is independent
// of layout.StoreVersion, which governs path/reserved-name compatibility.
const ManifestVersion = "1.0.0"

// Descriptor is the reserved JSON record whose presence is the existence
// predicate for an artifact (data model invariant 1).
type Descriptor struct {
	ManifestVersion string         `json:"manifestVersion"`
	Kind            string         `json:"kind"`
	Input           any            `json:"input"`
	Metadata        map[string]any `json:"metadata"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}
