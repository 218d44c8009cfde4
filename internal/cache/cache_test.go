package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCacheIdempotence(t *testing.T) {
	c := New()
	var calls int32

	fn := func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(10 * time.Millisecond)
		return "hover result", nil
	}

	var wg sync.WaitGroup
	results := make([]any, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.Call(context.Background(), "textDocument/hover", map[string]any{"line": 1, "char": 2}, fn)
			require.NoError(t, err)
			results[i] = v
		}(i)
	}
	wg.Wait()

	require.EqualValues(t, 1, calls, "two identical concurrent requests must issue exactly one upstream call")
	require.Equal(t, results[0], results[1])
}

func TestCacheInvalidationOnReset(t *testing.T) {
	c := New()
	var calls int32
	fn := func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return "v", nil
	}

	_, err := c.Call(context.Background(), "textDocument/hover", 1, fn)
	require.NoError(t, err)
	c.Reset()
	_, err = c.Call(context.Background(), "textDocument/hover", 1, fn)
	require.NoError(t, err)

	require.EqualValues(t, 2, calls, "a document mutation must invalidate the cache wholesale")
}

func TestCacheArgOrderIndependentFingerprint(t *testing.T) {
	c := New()
	var calls int32
	fn := func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return nil, nil
	}

	_, _ = c.Call(context.Background(), "textDocument/completion", map[string]any{"a": 1, "b": 2}, fn)
	_, _ = c.Call(context.Background(), "textDocument/completion", map[string]any{"b": 2, "a": 1}, fn)

	require.EqualValues(t, 1, calls, "key order in args must not affect the fingerprint")
}

func TestCacheBypassesNonCacheableMethods(t *testing.T) {
	c := New()
	var calls int32
	fn := func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return nil, nil
	}

	_, _ = c.Call(context.Background(), "workspace/executeCommand", 1, fn)
	_, _ = c.Call(context.Background(), "workspace/executeCommand", 1, fn)

	require.EqualValues(t, 2, calls, "execute-command is excluded from the cacheable set")
}

func TestCacheFailurePropagatesToEveryCaller(t *testing.T) {
	c := New()
	boom := require.Error
	fn := func(ctx context.Context) (any, error) {
		return nil, assertErr
	}
	_, err1 := c.Call(context.Background(), "textDocument/hover", 1, fn)
	_, err2 := c.Call(context.Background(), "textDocument/hover", 1, fn)
	boom(t, err1)
	require.Equal(t, err1, err2)
}

var assertErr = context.DeadlineExceeded
