package engine

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"casforge/internal/layout"
)

var errNilFn = errors.New("executor fn must not be nil")

// ExecutorConfig is a reified handle naming another artifact: the request
// a dependency map makes of the engine.
type ExecutorConfig struct {
	Kind           string
	Input          any
	ForceRecompute bool
}

// ExecutorFunc is a registered computation. It must write files under
// workspacePath, then return the relative path to the artifact's entry
// point and optional metadata to record in the descriptor.
type ExecutorFunc func(ctx context.Context, input any, workspacePath string) (entry string, metadata map[string]any, err error)

// DynamicDependencyFunc evaluates a dependency mapping from input, for
// executors whose dependencies are a pure function of their input rather
// than a fixed map.
type DynamicDependencyFunc func(input any) (map[string]ExecutorConfig, error)

// executorEntry is the registry's internal representation of a registered
// (kind, dependencies, fn) triple. Exactly one of deps/depsFn is set.
type executorEntry struct {
	kind   string
	deps   map[string]ExecutorConfig
	depsFn DynamicDependencyFunc
	fn     ExecutorFunc
}

func (e *executorEntry) resolveDependencies(input any) (map[string]ExecutorConfig, error) {
	if e.depsFn != nil {
		return e.depsFn(input)
	}
	return e.deps, nil
}

// Registry is a process-local mapping from kind to its registered
// executor. Re-registering the same kind replaces the prior entry.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*executorEntry
}

func newRegistry() *Registry {
	return &Registry{entries: make(map[string]*executorEntry)}
}

// Register adds a fixed-dependency executor. deps may be nil for no
// declared dependencies.
func (r *Registry) Register(kind string, deps map[string]ExecutorConfig, fn ExecutorFunc) error {
	if err := layout.ValidateKind(kind); err != nil {
		return newError(ErrKindInvalidArgument, kind, "", "register", err)
	}
	if fn == nil {
		return newError(ErrKindInvalidArgument, kind, "", "register", errNilFn)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[kind] = &executorEntry{kind: kind, deps: deps, fn: fn}
	return nil
}

// RegisterDynamic adds an executor whose dependency mapping is a pure
// function of its input, evaluated inside Execute before fingerprinting.
func (r *Registry) RegisterDynamic(kind string, depsFn DynamicDependencyFunc, fn ExecutorFunc) error {
	if err := layout.ValidateKind(kind); err != nil {
		return newError(ErrKindInvalidArgument, kind, "", "register", err)
	}
	if fn == nil {
		return newError(ErrKindInvalidArgument, kind, "", "register", errNilFn)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[kind] = &executorEntry{kind: kind, depsFn: depsFn, fn: fn}
	return nil
}

func (r *Registry) lookup(kind string) (*executorEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[kind]
	return e, ok
}
