// Package engine registers named executors and drives the execute/cache-hit
// state machine: it orchestrates dependency resolution, mounting, cache-hit
// recovery, and the scratch-and-rename publish protocol behind a small
// programmatic surface (Execute/Peek/Forget/ListArtifacts).
package engine

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"casforge/internal/discovery"
	"casforge/internal/fingerprint"
	"casforge/internal/layout"
	"casforge/internal/linker"
	"casforge/internal/obslog"
	"casforge/internal/publish"
	"casforge/internal/store"
)

// Engine is the owned, lifecycle-scoped container for the executor
// registry and its runtime configuration. There is no package-level
// global state; every caller holds its own *Engine.
type Engine struct {
	root                    string
	registry                *Registry
	log                     *obslog.Logger
	cleanupScratchOnFailure bool
}

// New creates an Engine rooted at root, with the default policy of
// cleaning up scratch directories after a failed build.
func New(root string) (*Engine, error) {
	if root == "" {
		return nil, newError(ErrKindInvalidArgument, "", "", "new", fmt.Errorf("root must not be empty"))
	}
	return &Engine{
		root:                    root,
		registry:                newRegistry(),
		log:                     obslog.New(nil),
		cleanupScratchOnFailure: true,
	}, nil
}

// SetCleanupScratchOnFailure controls whether a failed build's scratch
// directory is removed (true, default) or preserved for forensic
// inspection (false).
func (e *Engine) SetCleanupScratchOnFailure(cleanup bool) {
	e.cleanupScratchOnFailure = cleanup
}

// RegisterExecutor registers a fixed-dependency executor.
func (e *Engine) RegisterExecutor(kind string, deps map[string]ExecutorConfig, fn ExecutorFunc) error {
	return e.registry.Register(kind, deps, fn)
}

// RegisterDynamicExecutor registers an executor whose dependency mapping is
// a pure function of its input, evaluated inside Execute before
// fingerprinting.
func (e *Engine) RegisterDynamicExecutor(kind string, depsFn DynamicDependencyFunc, fn ExecutorFunc) error {
	return e.registry.RegisterDynamic(kind, depsFn, fn)
}

// Execute resolves kind's artifact for input, materializing it via the
// registered fn if it is not already cached (or if forceRecompute is set),
// and returns the path its entry link resolves to, under the engine's root
// (absolute when root is absolute).
func (e *Engine) Execute(ctx context.Context, kind string, input any, forceRecompute bool) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	return e.execute(ctx, kind, input, forceRecompute, map[string]bool{})
}

// execute is the recursive worker behind Execute; visiting tracks the
// (kind, fingerprint) pairs on the current call stack so cyclic dynamic
// dependencies fail fast instead of recursing unboundedly (DESIGN.md Open
// Question #3).
func (e *Engine) execute(ctx context.Context, kind string, input any, forceRecompute bool, visiting map[string]bool) (string, error) {
	entry, ok := e.registry.lookup(kind)
	if !ok {
		return "", newError(ErrKindNotFound, kind, "", "resolve-executor", fmt.Errorf("unknown executor %q", kind))
	}

	deps, err := entry.resolveDependencies(input)
	if err != nil {
		return "", wrapf(ErrKindInvalidArgument, kind, "", "resolve-dependencies", err, "evaluating dependencies for %q", kind)
	}
	for mount, cfg := range deps {
		if err := layout.ValidateKind(cfg.Kind); err != nil {
			return "", wrapf(ErrKindInvalidArgument, kind, "", "validate-dependency", err, "dependency %q", mount)
		}
	}

	fp, err := fingerprint.Compute(kind, input)
	if err != nil {
		return "", wrapf(ErrKindUnserializable, kind, "", "fingerprint", err, "computing fingerprint")
	}

	cycleKey := kind + "\x00" + fp
	if visiting[cycleKey] {
		return "", newError(ErrKindInvalidArgument, kind, fp, "cycle-detection",
			fmt.Errorf("cycle detected: kind=%s fingerprint=%s already on the dependency call stack", kind, fp))
	}
	childVisiting := copyVisitSet(visiting, cycleKey)

	log := e.log.With(kind, fp)

	artifactDir, err := layout.ArtifactPath(e.root, kind, fp)
	if err != nil {
		return "", wrapf(ErrKindInvalidArgument, kind, fp, "path-layout", err, "computing artifact path")
	}

	tm := newTransitioner()
	if err := tm.move(StateProbeCache); err != nil {
		return "", newError(ErrKindIO, kind, fp, "state-machine", err)
	}
	log.Transition(string(StateProbeCache), "probing")

	hit := store.ArtifactExists(artifactDir)
	if hit && forceRecompute {
		if err := os.RemoveAll(artifactDir); err != nil {
			return "", newError(ErrKindIO, kind, fp, "force-recompute-rm", err)
		}
		hit = false
	}

	if hit {
		if err := tm.move(StateRecoverDeps); err != nil {
			return "", newError(ErrKindIO, kind, fp, "state-machine", err)
		}
		log.Transition(string(StateRecoverDeps), "recovering")

		if err := e.recoverDependencies(ctx, artifactDir, deps, childVisiting); err != nil {
			_ = tm.move(StateFailed)
			log.Failed(string(StateRecoverDeps), err)
			return "", err
		}

		resolved, err := store.ResolveEntryLink(artifactDir)
		if err == nil {
			_ = tm.move(StateDone)
			log.Done(resolved)
			return resolved, nil
		}

		// Cache corruption: descriptor present but entry link broken or
		// escaping the workspace. Delete and fall through to rebuild.
		if rmErr := os.RemoveAll(artifactDir); rmErr != nil {
			return "", newError(ErrKindIO, kind, fp, "corruption-rm", rmErr)
		}
	}

	return e.build(ctx, entry, kind, input, fp, artifactDir, deps, childVisiting, tm, log)
}

// build runs the miss path: PrepareScratch -> MountDeps -> RunFn ->
// WriteDescriptor -> Publish -> Done.
func (e *Engine) build(
	ctx context.Context,
	entry *executorEntry,
	kind string,
	input any,
	fp string,
	artifactDir string,
	deps map[string]ExecutorConfig,
	visiting map[string]bool,
	tm *transitioner,
	log *obslog.Logger,
) (string, error) {
	if err := tm.move(StatePrepareScratch); err != nil {
		return "", newError(ErrKindIO, kind, fp, "state-machine", err)
	}
	log.Transition(string(StatePrepareScratch), "staging")

	scratch, err := publish.Prepare(e.root, kind, fp)
	if err != nil {
		_ = tm.move(StateFailed)
		log.Failed(string(StatePrepareScratch), err)
		return "", newError(ErrKindIO, kind, fp, "prepare-scratch", err)
	}

	abandon := func() {
		_ = scratch.Abandon(e.cleanupScratchOnFailure)
	}

	if err := tm.move(StateMountDeps); err != nil {
		abandon()
		return "", newError(ErrKindIO, kind, fp, "state-machine", err)
	}
	log.Transition(string(StateMountDeps), "mounting")

	if err := e.mountDependencies(ctx, scratch.Workspace, deps, visiting); err != nil {
		abandon()
		_ = tm.move(StateFailed)
		log.Failed(string(StateMountDeps), err)
		return "", err
	}

	if err := tm.move(StateRunFn); err != nil {
		abandon()
		return "", newError(ErrKindIO, kind, fp, "state-machine", err)
	}
	log.Transition(string(StateRunFn), "running")

	entryRel, metadata, fnErr := entry.fn(ctx, input, scratch.Workspace)
	if fnErr != nil {
		abandon()
		_ = tm.move(StateFailed)
		wrapped := wrapf(ErrKindUserFnFailed, kind, fp, "run-fn", fnErr, "executor %q failed", kind)
		log.Failed(string(StateRunFn), wrapped)
		return "", wrapped
	}

	if err := tm.move(StateWriteDescriptor); err != nil {
		abandon()
		return "", newError(ErrKindIO, kind, fp, "state-machine", err)
	}
	log.Transition(string(StateWriteDescriptor), "writing descriptor")

	now := time.Now().UTC()
	if metadata == nil {
		metadata = map[string]any{}
	}
	descriptor := store.Descriptor{
		ManifestVersion: store.ManifestVersion,
		Kind:            kind,
		Input:           input,
		Metadata:        metadata,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := store.WriteDescriptor(scratch.Dir, descriptor); err != nil {
		abandon()
		_ = tm.move(StateFailed)
		wrapped := newError(ErrKindIO, kind, fp, "write-descriptor", err)
		log.Failed(string(StateWriteDescriptor), wrapped)
		return "", wrapped
	}
	if err := store.CreateEntryLink(scratch.Dir, entryRel); err != nil {
		abandon()
		_ = tm.move(StateFailed)
		wrapped := newError(ErrKindInvalidArgument, kind, fp, "create-entry-link", err)
		log.Failed(string(StateWriteDescriptor), wrapped)
		return "", wrapped
	}

	if err := tm.move(StatePublish); err != nil {
		abandon()
		return "", newError(ErrKindIO, kind, fp, "state-machine", err)
	}
	log.Transition(string(StatePublish), "publishing")

	publishedDir, _, err := scratch.Publish()
	if err != nil {
		_ = tm.move(StateFailed)
		wrapped := newError(ErrKindIO, kind, fp, "publish", err)
		log.Failed(string(StatePublish), wrapped)
		return "", wrapped
	}

	resolved, err := store.ResolveEntryLink(publishedDir)
	if err != nil {
		_ = tm.move(StateFailed)
		wrapped := newError(ErrKindCorrupt, kind, fp, "resolve-published-entry", err)
		log.Failed(string(StatePublish), wrapped)
		return "", wrapped
	}

	_ = tm.move(StateDone)
	log.Done(resolved)
	return resolved, nil
}

// mountDependencies resolves and mounts every declared dependency into
// workspaceDir, in parallel: the engine must guarantee every dependency is
// durable on disk before RunFn begins, but independent dependencies may be
// resolved concurrently.
func (e *Engine) mountDependencies(ctx context.Context, workspaceDir string, deps map[string]ExecutorConfig, visiting map[string]bool) error {
	if len(deps) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(deps))

	for mount, cfg := range deps {
		wg.Add(1)
		go func(mount string, cfg ExecutorConfig) {
			defer wg.Done()
			if _, err := e.execute(ctx, cfg.Kind, cfg.Input, cfg.ForceRecompute, visiting); err != nil {
				errCh <- wrapf(ErrKindDependencyFailed, cfg.Kind, "", "mount-dependency", err, "mounting dependency %q", mount)
				return
			}
			depDir, _, err := e.dependencyArtifactPath(cfg)
			if err != nil {
				errCh <- err
				return
			}
			if err := linker.LinkDependency(workspaceDir, mount, depDir); err != nil {
				errCh <- newError(ErrKindIO, cfg.Kind, "", "link-dependency", err)
				return
			}
		}(mount, cfg)
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

// recoverDependencies implements the cache-hit recovery protocol: any
// declared dependency whose mount has drifted (config changed) or gone
// missing (target removed out-of-band) is silently repaired without
// re-running the hit artifact's own fn.
func (e *Engine) recoverDependencies(ctx context.Context, artifactDir string, deps map[string]ExecutorConfig, visiting map[string]bool) error {
	if len(deps) == 0 {
		return nil
	}
	workspaceDir := layout.WorkspacePath(artifactDir)

	for mount, cfg := range deps {
		depDir, _, err := e.dependencyArtifactPath(cfg)
		if err != nil {
			return err
		}
		expected, err := linker.ExpectedLinkTarget(workspaceDir, mount, depDir)
		if err != nil {
			return newError(ErrKindInvalidArgument, cfg.Kind, "", "expected-link-target", err)
		}
		ok, err := linker.ValidateMount(workspaceDir, mount, expected)
		if err != nil {
			return newError(ErrKindIO, cfg.Kind, "", "validate-mount", err)
		}
		if ok {
			continue
		}

		if _, err := e.execute(ctx, cfg.Kind, cfg.Input, cfg.ForceRecompute, visiting); err != nil {
			return wrapf(ErrKindDependencyFailed, cfg.Kind, "", "recover-dependency", err, "recovering dependency %q", mount)
		}
		if err := linker.Unlink(workspaceDir, mount); err != nil {
			return newError(ErrKindIO, cfg.Kind, "", "unlink-stale-mount", err)
		}
		if err := linker.LinkDependency(workspaceDir, mount, depDir); err != nil {
			return newError(ErrKindIO, cfg.Kind, "", "relink-dependency", err)
		}
	}
	return nil
}

func (e *Engine) dependencyArtifactPath(cfg ExecutorConfig) (dir, fp string, err error) {
	fp, err = fingerprint.Compute(cfg.Kind, cfg.Input)
	if err != nil {
		return "", "", wrapf(ErrKindUnserializable, cfg.Kind, "", "dependency-fingerprint", err, "fingerprinting dependency")
	}
	dir, err = layout.ArtifactPath(e.root, cfg.Kind, fp)
	if err != nil {
		return "", "", wrapf(ErrKindInvalidArgument, cfg.Kind, fp, "dependency-path", err, "computing dependency path")
	}
	return dir, fp, nil
}

func copyVisitSet(visiting map[string]bool, add string) map[string]bool {
	out := make(map[string]bool, len(visiting)+1)
	for k, v := range visiting {
		out[k] = v
	}
	out[add] = true
	return out
}

// Peek probes for an existing artifact without ever executing. It returns
// (path, true, nil) on a hit and ("", false, nil) on a miss.
func (e *Engine) Peek(kind string, input any) (string, bool, error) {
	if err := layout.ValidateKind(kind); err != nil {
		return "", false, newError(ErrKindInvalidArgument, kind, "", "peek", err)
	}
	fp, err := fingerprint.Compute(kind, input)
	if err != nil {
		return "", false, wrapf(ErrKindUnserializable, kind, "", "peek", err, "computing fingerprint")
	}
	dir, err := layout.ArtifactPath(e.root, kind, fp)
	if err != nil {
		return "", false, newError(ErrKindInvalidArgument, kind, fp, "peek", err)
	}
	if !store.ArtifactExists(dir) {
		return "", false, nil
	}
	resolved, err := store.ResolveEntryLink(dir)
	if err != nil {
		return "", false, newError(ErrKindCorrupt, kind, fp, "peek-resolve-entry", err)
	}
	return resolved, true, nil
}

// Forget idempotently deletes the artifact directory for (kind, input). It
// must not fail if the artifact is absent.
func (e *Engine) Forget(kind string, input any) error {
	if err := layout.ValidateKind(kind); err != nil {
		return newError(ErrKindInvalidArgument, kind, "", "forget", err)
	}
	fp, err := fingerprint.Compute(kind, input)
	if err != nil {
		return wrapf(ErrKindUnserializable, kind, "", "forget", err, "computing fingerprint")
	}
	dir, err := layout.ArtifactPath(e.root, kind, fp)
	if err != nil {
		return newError(ErrKindInvalidArgument, kind, fp, "forget", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return newError(ErrKindIO, kind, fp, "forget", err)
	}
	return nil
}

// ListArtifacts reconstructs the DAG of every artifact currently on disk by
// delegating to the discovery package.
func (e *Engine) ListArtifacts(ctx context.Context) (*discovery.Graph, error) {
	return discovery.Discover(ctx, e.root)
}
