package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"casforge/internal/layout"
)

func writeOut(text string) ExecutorFunc {
	return func(ctx context.Context, input any, workspacePath string) (string, map[string]any, error) {
		if err := os.WriteFile(filepath.Join(workspacePath, "out.txt"), []byte(text), 0644); err != nil {
			return "", nil, err
		}
		return "out.txt", nil, nil
	}
}

func TestS1BasicPublish(t *testing.T) {
	root := t.TempDir()
	e, err := New(root)
	require.NoError(t, err)

	require.NoError(t, e.RegisterExecutor("echo", nil, func(ctx context.Context, input any, workspacePath string) (string, map[string]any, error) {
		m := input.(map[string]any)
		text := m["text"].(string)
		if err := os.WriteFile(filepath.Join(workspacePath, "out.txt"), []byte(text), 0644); err != nil {
			return "", nil, err
		}
		return "out.txt", map[string]any{"text": text}, nil
	}))

	p, err := e.Execute(context.Background(), "echo", map[string]any{"text": "hi"}, false)
	require.NoError(t, err)

	data, err := os.ReadFile(p)
	require.NoError(t, err)
	require.Equal(t, "hi", string(data))
}

func TestS2Canonicalization(t *testing.T) {
	root := t.TempDir()
	e, err := New(root)
	require.NoError(t, err)

	require.NoError(t, e.RegisterExecutor("k", nil, writeOut("value")))

	p1, err := e.Execute(context.Background(), "k", map[string]any{"a": 1, "b": 2}, false)
	require.NoError(t, err)
	p2, err := e.Execute(context.Background(), "k", map[string]any{"b": 2, "a": 1}, false)
	require.NoError(t, err)
	require.Equal(t, p1, p2)
}

func TestS3WinnerTakesAll(t *testing.T) {
	root := t.TempDir()
	e, err := New(root)
	require.NoError(t, err)

	var counter int64
	require.NoError(t, e.RegisterExecutor("slow", nil, func(ctx context.Context, input any, workspacePath string) (string, map[string]any, error) {
		atomic.AddInt64(&counter, 1)
		time.Sleep(50 * time.Millisecond)
		if err := os.WriteFile(filepath.Join(workspacePath, "out.txt"), []byte("x"), 0644); err != nil {
			return "", nil, err
		}
		return "out.txt", nil, nil
	}))

	const n = 16
	paths := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := e.Execute(context.Background(), "slow", map[string]any{"i": 1}, false)
			paths[i], errs[i] = p, err
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, paths[0], paths[i])
	}
	require.GreaterOrEqual(t, atomic.LoadInt64(&counter), int64(1))
	require.LessOrEqual(t, atomic.LoadInt64(&counter), int64(n))
}

func TestS4DependencyRecovery(t *testing.T) {
	root := t.TempDir()
	e, err := New(root)
	require.NoError(t, err)

	var srcCount, sinkCount int64
	require.NoError(t, e.RegisterExecutor("src", nil, func(ctx context.Context, input any, workspacePath string) (string, map[string]any, error) {
		atomic.AddInt64(&srcCount, 1)
		if err := os.WriteFile(filepath.Join(workspacePath, "out.txt"), []byte("v1"), 0644); err != nil {
			return "", nil, err
		}
		return "out.txt", nil, nil
	}))
	require.NoError(t, e.RegisterExecutor("sink", map[string]ExecutorConfig{
		"in": {Kind: "src", Input: map[string]any{}},
	}, func(ctx context.Context, input any, workspacePath string) (string, map[string]any, error) {
		atomic.AddInt64(&sinkCount, 1)
		data, err := os.ReadFile(filepath.Join(workspacePath, "in"))
		if err != nil {
			return "", nil, err
		}
		if err := os.WriteFile(filepath.Join(workspacePath, "out.txt"), data, 0644); err != nil {
			return "", nil, err
		}
		return "out.txt", nil, nil
	}))

	q1, err := e.Execute(context.Background(), "sink", map[string]any{}, false)
	require.NoError(t, err)

	require.NoError(t, e.Forget("src", map[string]any{}))

	q2, err := e.Execute(context.Background(), "sink", map[string]any{}, false)
	require.NoError(t, err)

	require.Equal(t, q1, q2)
	require.EqualValues(t, 1, atomic.LoadInt64(&sinkCount))
	require.EqualValues(t, 2, atomic.LoadInt64(&srcCount))
}

func TestS5ConfigDrift(t *testing.T) {
	root := t.TempDir()
	e, err := New(root)
	require.NoError(t, err)

	var srcCount, sinkCount int64
	srcFn := func(ctx context.Context, input any, workspacePath string) (string, map[string]any, error) {
		atomic.AddInt64(&srcCount, 1)
		m := input.(map[string]any)
		v, _ := m["v"].(string)
		if v == "" {
			v = "v1"
		}
		if err := os.WriteFile(filepath.Join(workspacePath, "out.txt"), []byte(v), 0644); err != nil {
			return "", nil, err
		}
		return "out.txt", nil, nil
	}
	require.NoError(t, e.RegisterExecutor("src", nil, srcFn))

	sinkFn := func(ctx context.Context, input any, workspacePath string) (string, map[string]any, error) {
		atomic.AddInt64(&sinkCount, 1)
		data, err := os.ReadFile(filepath.Join(workspacePath, "in"))
		if err != nil {
			return "", nil, err
		}
		if err := os.WriteFile(filepath.Join(workspacePath, "out.txt"), data, 0644); err != nil {
			return "", nil, err
		}
		return "out.txt", nil, nil
	}
	require.NoError(t, e.RegisterExecutor("sink", map[string]ExecutorConfig{
		"in": {Kind: "src", Input: map[string]any{}},
	}, sinkFn))

	q1, err := e.Execute(context.Background(), "sink", map[string]any{}, false)
	require.NoError(t, err)

	require.NoError(t, e.RegisterExecutor("sink", map[string]ExecutorConfig{
		"in": {Kind: "src", Input: map[string]any{"v": "v2"}},
	}, sinkFn))

	q2, err := e.Execute(context.Background(), "sink", map[string]any{}, false)
	require.NoError(t, err)

	require.Equal(t, q1, q2)
	require.EqualValues(t, 1, atomic.LoadInt64(&sinkCount))
	require.EqualValues(t, 2, atomic.LoadInt64(&srcCount))

	data, err := os.ReadFile(filepath.Join(filepath.Dir(q2), "in"))
	require.NoError(t, err)
	require.Equal(t, "v2", string(data))
}

func TestS6EscapeRejection(t *testing.T) {
	root := t.TempDir()
	e, err := New(root)
	require.NoError(t, err)

	require.NoError(t, e.RegisterExecutor("evil", nil, func(ctx context.Context, input any, workspacePath string) (string, map[string]any, error) {
		return "../evil", nil, nil
	}))

	_, err = e.Execute(context.Background(), "evil", map[string]any{}, false)
	require.Error(t, err)

	engErr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, ErrKindInvalidArgument, engErr.Kind)

	_, found, err := e.Peek("evil", map[string]any{})
	require.NoError(t, err)
	require.False(t, found)
}

func TestIdempotentExecuteRunsFnAtMostOnce(t *testing.T) {
	root := t.TempDir()
	e, err := New(root)
	require.NoError(t, err)

	var count int64
	require.NoError(t, e.RegisterExecutor("echo", nil, func(ctx context.Context, input any, workspacePath string) (string, map[string]any, error) {
		atomic.AddInt64(&count, 1)
		if err := os.WriteFile(filepath.Join(workspacePath, "out.txt"), []byte("hi"), 0644); err != nil {
			return "", nil, err
		}
		return "out.txt", nil, nil
	}))

	p1, err := e.Execute(context.Background(), "echo", map[string]any{"text": "hi"}, false)
	require.NoError(t, err)
	p2, err := e.Execute(context.Background(), "echo", map[string]any{"text": "hi"}, false)
	require.NoError(t, err)

	require.Equal(t, p1, p2)
	require.EqualValues(t, 1, atomic.LoadInt64(&count))
}

func TestScratchHygieneAfterFailedFn(t *testing.T) {
	root := t.TempDir()
	e, err := New(root)
	require.NoError(t, err)

	require.NoError(t, e.RegisterExecutor("broken", nil, func(ctx context.Context, input any, workspacePath string) (string, map[string]any, error) {
		return "", nil, errBroken
	}))

	_, err = e.Execute(context.Background(), "broken", map[string]any{}, false)
	require.Error(t, err)

	kindDir, err := kindDirFor(root, "broken")
	require.NoError(t, err)
	entries, statErr := os.ReadDir(kindDir)
	if statErr == nil {
		for _, shard := range entries {
			shardEntries, err := os.ReadDir(filepath.Join(kindDir, shard.Name()))
			require.NoError(t, err)
			for _, e := range shardEntries {
				require.False(t, layout.IsScratchName(e.Name()), "leftover scratch dir %q", e.Name())
			}
		}
	}
}

func TestUnknownExecutorSurfacesNotFound(t *testing.T) {
	root := t.TempDir()
	e, err := New(root)
	require.NoError(t, err)

	_, err = e.Execute(context.Background(), "missing", map[string]any{}, false)
	require.Error(t, err)
	engErr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, ErrKindNotFound, engErr.Kind)
}

func TestForgetIsIdempotent(t *testing.T) {
	root := t.TempDir()
	e, err := New(root)
	require.NoError(t, err)
	require.NoError(t, e.Forget("never-existed", map[string]any{}))
	require.NoError(t, e.Forget("never-existed", map[string]any{}))
}

var errBroken = &brokenErr{}

type brokenErr struct{}

func (*brokenErr) Error() string { return "fn intentionally failed" }

func kindDirFor(root, kind string) (string, error) {
	return layout.KindDir(root, kind)
}
