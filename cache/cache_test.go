package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dexgate/dexgate/kv"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()

	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	return New(store, WithRegisterer(prometheus.NewRegistry()))
}

func TestGetOrCompute_ComputesOnceWithinTTL(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	var calls atomic.Int64
	compute := func(context.Context) (string, error) {
		calls.Add(1)
		return "hello", nil
	}

	v, err := GetOrCompute(ctx, c, "greeting", "en", time.Minute, compute)
	require.NoError(t, err)
	assert.Equal(t, "hello", v)

	v, err = GetOrCompute(ctx, c, "greeting", "en", time.Minute, compute)
	require.NoError(t, err)
	assert.Equal(t, "hello", v)

	assert.Equal(t, int64(1), calls.Load())
}

func TestGetOrCompute_RecomputesAfterExpiry(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	now := time.Now()
	c.now = func() time.Time { return now }

	var calls atomic.Int64
	compute := func(context.Context) (int, error) {
		calls.Add(1)
		return 42, nil
	}

	_, err := GetOrCompute(ctx, c, "answer", nil, time.Minute, compute)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)

	v, err := GetOrCompute(ctx, c, "answer", nil, time.Minute, compute)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, int64(2), calls.Load())
}

func TestGetOrCompute_ErrorIsNotCached(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	var calls atomic.Int64
	boom := errors.New("upstream exploded")
	compute := func(context.Context) (string, error) {
		if calls.Add(1) == 1 {
			return "", boom
		}
		return "recovered", nil
	}

	_, err := GetOrCompute(ctx, c, "flaky", "x", time.Minute, compute)
	require.ErrorIs(t, err, boom)

	v, err := GetOrCompute(ctx, c, "flaky", "x", time.Minute, compute)
	require.NoError(t, err)
	assert.Equal(t, "recovered", v)
	assert.Equal(t, int64(2), calls.Load())
}

func TestGetOrCompute_DistinctArgsDistinctEntries(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	compute := func(v string) func(context.Context) (string, error) {
		return func(context.Context) (string, error) { return v, nil }
	}

	a, err := GetOrCompute(ctx, c, "ns", map[string]int{"page": 1}, time.Minute, compute("one"))
	require.NoError(t, err)

	b, err := GetOrCompute(ctx, c, "ns", map[string]int{"page": 2}, time.Minute, compute("two"))
	require.NoError(t, err)

	assert.Equal(t, "one", a)
	assert.Equal(t, "two", b)
}

func TestGetOrCompute_ConcurrentMissesSingleFlight(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	var calls atomic.Int64
	release := make(chan struct{})
	compute := func(context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "shared", nil
	}

	var wg sync.WaitGroup
	results := make([]string, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := GetOrCompute(ctx, c, "burst", "k", time.Minute, compute)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	// Give the goroutines time to pile onto the flight group
	// before the first compute finishes.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load())
	for _, v := range results {
		assert.Equal(t, "shared", v)
	}
}

func TestKey_Deterministic(t *testing.T) {
	a, err := Key("tokens", map[string]any{"page": 1, "size": 1000})
	require.NoError(t, err)

	b, err := Key("tokens", map[string]any{"size": 1000, "page": 1})
	require.NoError(t, err)

	// encoding/json sorts map keys, so argument order in the map
	// literal must not matter.
	assert.Equal(t, a, b)

	other, err := Key("tokens", map[string]any{"page": 2, "size": 1000})
	require.NoError(t, err)
	assert.NotEqual(t, a, other)

	assert.Less(t, len(a), 64, "keys must stay short enough for a filename")
}

func TestKVStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	c := New(NewKVStore(kv.NewMemoryStore()), WithRegisterer(prometheus.NewRegistry()))

	var calls atomic.Int64
	compute := func(context.Context) ([]string, error) {
		calls.Add(1)
		return []string{"a", "b"}, nil
	}

	v, err := GetOrCompute(ctx, c, "list", 7, time.Minute, compute)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, v)

	v, err = GetOrCompute(ctx, c, "list", 7, time.Minute, compute)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, v)
	assert.Equal(t, int64(1), calls.Load())
}
