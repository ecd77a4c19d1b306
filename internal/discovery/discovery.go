// Package discovery walks the on-disk store to reconstruct the DAG of
// artifacts currently present: which artifacts exist, what each resolves
// to, and which dependencies each mounts.
package discovery

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charlievieth/fastwalk"

	"casforge/internal/layout"
	"casforge/internal/store"
)

// Edge is a mount from one artifact's workspace into another artifact's
// entry link.
type Edge struct {
	MountPath   string `json:"mountPath"`
	Kind        string `json:"kind"`
	Fingerprint string `json:"fingerprint"`
}

// ArtifactInfo is one node of the discovered graph.
type ArtifactInfo struct {
	Kind        string            `json:"kind"`
	Fingerprint string            `json:"fingerprint"`
	Descriptor  *store.Descriptor `json:"descriptor"`
	EntryPath   string            `json:"entryPath,omitempty"`
	Edges       []Edge            `json:"edges"`
}

// Graph is the reconstructed DAG of every artifact on disk. Discovery is
// advisory: a missing edge for a legitimate dependency (e.g. a broken
// symlink that leaves the store) is not an error.
type Graph struct {
	Artifacts []ArtifactInfo `json:"artifacts"`
}

// Discover scans <root>/fs-data/<storeVersion>/<kind>/<shard>/<fingerprint>,
// skipping any directory whose name begins with ".tmp-", and builds a Graph
// from the surviving artifacts' descriptors, entry links, and workspace
// mount symlinks.
func Discover(ctx context.Context, root string) (*Graph, error) {
	storeRoot := layout.StoreRoot(root)

	kindDirs, err := listSubdirs(storeRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return &Graph{Artifacts: []ArtifactInfo{}}, nil
		}
		return nil, err
	}

	var artifacts []ArtifactInfo
	for _, kind := range kindDirs {
		if layout.IsScratchName(kind) {
			continue
		}
		shardDirs, err := listSubdirs(filepath.Join(storeRoot, kind))
		if err != nil {
			continue
		}
		for _, shard := range shardDirs {
			fingerprintDirs, err := listSubdirs(filepath.Join(storeRoot, kind, shard))
			if err != nil {
				continue
			}
			for _, fp := range fingerprintDirs {
				if layout.IsScratchName(fp) {
					continue
				}
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				default:
				}

				dir := filepath.Join(storeRoot, kind, shard, fp)
				info, ok := inspectArtifact(dir, kind, fp, storeRoot)
				if !ok {
					continue
				}
				artifacts = append(artifacts, info)
			}
		}
	}

	sort.Slice(artifacts, func(i, j int) bool {
		if artifacts[i].Kind != artifacts[j].Kind {
			return artifacts[i].Kind < artifacts[j].Kind
		}
		return artifacts[i].Fingerprint < artifacts[j].Fingerprint
	})

	return &Graph{Artifacts: artifacts}, nil
}

func listSubdirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// inspectArtifact reads one fingerprint directory's descriptor, resolves
// its entry link, and walks its workspace for mount edges. It returns
// ok=false only when the directory has no readable descriptor at all
// (the existence predicate, data model invariant 1).
func inspectArtifact(dir, kind, fp, storeRoot string) (ArtifactInfo, bool) {
	descriptor, err := store.ReadDescriptor(dir)
	if err != nil {
		return ArtifactInfo{}, false
	}

	info := ArtifactInfo{Kind: kind, Fingerprint: fp, Descriptor: descriptor, Edges: []Edge{}}

	if resolved, err := store.ResolveEntryLink(dir); err == nil {
		info.EntryPath = resolved
	}

	info.Edges = discoverEdges(layout.WorkspacePath(dir), storeRoot)
	return info, true
}

// discoverEdges walks workspaceDir for symlinks whose resolved target lies
// within storeRoot and matches the shape
// .../<kind>/<shard>/<fingerprint>/<entry-link-name>; each becomes an edge
// labeled with the relative mount path. Symlinks leaving the store are
// ignored (advisory discovery).
func discoverEdges(workspaceDir, storeRoot string) []Edge {
	var edges []Edge

	_ = fastwalk.Walk(nil, workspaceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr
		}
		if d.Type()&os.ModeSymlink == 0 {
			return nil
		}

		target, err := os.Readlink(path)
		if err != nil {
			return nil
		}
		resolved := target
		if !filepath.IsAbs(resolved) {
			resolved = filepath.Join(filepath.Dir(path), target)
		}
		resolved = filepath.Clean(resolved)

		kind, fingerprint, ok := matchEntryLinkShape(resolved, storeRoot)
		if !ok {
			return nil
		}

		rel, err := filepath.Rel(workspaceDir, path)
		if err != nil {
			return nil
		}
		edges = append(edges, Edge{MountPath: rel, Kind: kind, Fingerprint: fingerprint})
		return nil
	})

	sort.Slice(edges, func(i, j int) bool { return edges[i].MountPath < edges[j].MountPath })
	return edges
}

// matchEntryLinkShape reports whether resolved matches
// <storeRoot>/<kind>/<shard>/<fingerprint>/<entry-link-name>.
func matchEntryLinkShape(resolved, storeRoot string) (kind, fingerprint string, ok bool) {
	rel, err := filepath.Rel(storeRoot, resolved)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", "", false
	}
	parts := strings.Split(rel, string(filepath.Separator))
	if len(parts) != 4 {
		return "", "", false
	}
	kind, _, fp, member := parts[0], parts[1], parts[2], parts[3]
	if member != layout.EntryLinkName {
		return "", "", false
	}
	if layout.IsScratchName(fp) {
		return "", "", false
	}
	return kind, fp, true
}
