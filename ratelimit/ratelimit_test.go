package ratelimit

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dexgate/dexgate/kv"
)

// countingStore wraps a kv.Store and counts IncrWindow calls.
type countingStore struct {
	kv.Store
	calls atomic.Int64
}

func (s *countingStore) IncrWindow(ctx context.Context, key string, windowStart, prevWindowStart int64, n int64) (int64, int64, error) {
	s.calls.Add(1)
	return s.Store.IncrWindow(ctx, key, windowStart, prevWindowStart, n)
}

// failingStore errors on every operation.
type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("store down")
}

func (failingStore) SetWithTTL(context.Context, string, []byte, time.Duration) error {
	return errors.New("store down")
}

func (failingStore) IncrWindow(context.Context, string, int64, int64, int64) (int64, int64, error) {
	return 0, 0, errors.New("store down")
}

func newTestLimiter(t *testing.T, store kv.Store, options ...Option) *Limiter {
	t.Helper()

	options = append(options, WithRegisterer(prometheus.NewRegistry()))
	return NewLimiter(store, options...)
}

func TestLimiter_QuotaExhaustion(t *testing.T) {
	ctx := context.Background()
	limiter := newTestLimiter(t, kv.NewMemoryStore())

	// Pin the clock to the start of a window so the previous
	// window carries no weight.
	rate := Rate{Limit: 5, Window: time.Minute}
	base := time.Now().Truncate(rate.Window)
	limiter.now = func() time.Time { return base }

	for i := 0; i < 5; i++ {
		result, err := limiter.Allow(ctx, "client-a:/api", rate)
		require.NoError(t, err)
		assert.True(t, result.Allowed, "request %d should be allowed", i+1)
		assert.Equal(t, 5, result.Limit)
		assert.Equal(t, 5-(i+1), result.Remaining)
	}

	result, err := limiter.Allow(ctx, "client-a:/api", rate)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, 0, result.Remaining)
	assert.Equal(t, base.Add(rate.Window), result.ResetAt)
}

func TestLimiter_RemainingArithmetic(t *testing.T) {
	ctx := context.Background()
	limiter := newTestLimiter(t, kv.NewMemoryStore())

	rate := Rate{Limit: 120, Window: time.Minute}
	base := time.Now().Truncate(rate.Window)
	limiter.now = func() time.Time { return base }

	var result *Result
	var err error
	for i := 0; i < 3; i++ {
		result, err = limiter.Allow(ctx, "client-b:/api", rate)
		require.NoError(t, err)
	}

	assert.True(t, result.Allowed)
	assert.Equal(t, 117, result.Remaining)
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	limiter := newTestLimiter(t, kv.NewMemoryStore())

	rate := Rate{Limit: 1, Window: time.Minute}
	base := time.Now().Truncate(rate.Window)
	limiter.now = func() time.Time { return base }

	first, err := limiter.Allow(ctx, "client-a:/api", rate)
	require.NoError(t, err)
	require.True(t, first.Allowed)

	denied, err := limiter.Allow(ctx, "client-a:/api", rate)
	require.NoError(t, err)
	assert.False(t, denied.Allowed)

	other, err := limiter.Allow(ctx, "client-b:/api", rate)
	require.NoError(t, err)
	assert.True(t, other.Allowed)
}

func TestLimiter_AllowsAgainAfterReset(t *testing.T) {
	ctx := context.Background()
	limiter := newTestLimiter(t, kv.NewMemoryStore())

	rate := Rate{Limit: 2, Window: time.Minute}
	base := time.Now().Truncate(rate.Window)
	now := base
	limiter.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		result, err := limiter.Allow(ctx, "client-c:/api", rate)
		require.NoError(t, err)
		require.True(t, result.Allowed)
	}

	denied, err := limiter.Allow(ctx, "client-c:/api", rate)
	require.NoError(t, err)
	require.False(t, denied.Allowed)

	// Still inside the window: stays denied.
	now = base.Add(30 * time.Second)
	denied, err = limiter.Allow(ctx, "client-c:/api", rate)
	require.NoError(t, err)
	assert.False(t, denied.Allowed)

	// Two full windows later even the interpolated previous
	// window is empty again.
	now = base.Add(2 * rate.Window)
	result, err := limiter.Allow(ctx, "client-c:/api", rate)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestLimiter_DeniedCallsStillConsume(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	limiter := newTestLimiter(t, store)

	rate := Rate{Limit: 1, Window: time.Minute}
	base := time.Now().Truncate(rate.Window)
	limiter.now = func() time.Time { return base }

	_, err := limiter.Allow(ctx, "client-d:/api", rate)
	require.NoError(t, err)

	// The denied call goes through the store once and lands in
	// the blocked cache; its increment must still have happened.
	_, err = limiter.Allow(ctx, "client-d:/api", rate)
	require.NoError(t, err)

	current, _, err := store.IncrWindow(ctx, "client-d:/api", base.UnixMilli(), base.Add(-rate.Window).UnixMilli(), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), current)
}

func TestLimiter_BlockedCacheSkipsStore(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{Store: kv.NewMemoryStore()}
	limiter := newTestLimiter(t, store)

	rate := Rate{Limit: 1, Window: time.Minute}
	base := time.Now().Truncate(rate.Window)
	limiter.now = func() time.Time { return base }

	_, err := limiter.Allow(ctx, "client-e:/api", rate)
	require.NoError(t, err)

	_, err = limiter.Allow(ctx, "client-e:/api", rate)
	require.NoError(t, err)

	before := store.calls.Load()

	for i := 0; i < 10; i++ {
		result, err := limiter.Allow(ctx, "client-e:/api", rate)
		require.NoError(t, err)
		assert.False(t, result.Allowed)
	}

	assert.Equal(t, before, store.calls.Load(), "blocked keys must not hit the store")
}

func TestLimiter_FailurePolicy(t *testing.T) {
	ctx := context.Background()
	rate := Rate{Limit: 10, Window: time.Minute}

	open := newTestLimiter(t, failingStore{}, WithFailurePolicy(FailOpen))
	result, err := open.Allow(ctx, "client-f:/api", rate)
	require.Error(t, err)
	assert.True(t, result.Allowed)

	closed := newTestLimiter(t, failingStore{}, WithFailurePolicy(FailClosed))
	result, err = closed.Allow(ctx, "client-f:/api", rate)
	require.Error(t, err)
	assert.False(t, result.Allowed)
}

func TestLimiter_StoreErrorsCountAsChecks(t *testing.T) {
	ctx := context.Background()
	rate := Rate{Limit: 10, Window: time.Minute}

	limiter := newTestLimiter(t, failingStore{}, WithFailurePolicy(FailClosed))

	_, err := limiter.Allow(ctx, "client-h:/api", rate)
	require.Error(t, err)

	// A failed check still resolves to an outcome under the
	// failure policy; it must land in the check counters, not
	// only in the store failure counter.
	assert.Equal(t, float64(1), testutil.ToFloat64(limiter.requestsTotal.WithLabelValues("false")))
	assert.Equal(t, float64(1), testutil.ToFloat64(limiter.storeFailuresTotal))
}

func TestLimiter_SlidingWindowBoundary(t *testing.T) {
	ctx := context.Background()
	limiter := newTestLimiter(t, kv.NewMemoryStore())

	rate := Rate{Limit: 10, Window: time.Minute}
	base := time.Now().Truncate(rate.Window)
	now := base
	limiter.now = func() time.Time { return now }

	// Fill the whole quota at the end of the first window.
	for i := 0; i < 10; i++ {
		_, err := limiter.Allow(ctx, "client-g:/api", rate)
		require.NoError(t, err)
	}

	// Just after the boundary the previous window still counts
	// at nearly full weight, so a fresh burst is rejected
	// instead of doubling the rate.
	now = base.Add(rate.Window + time.Second)
	var result *Result
	var err error
	for i := 0; i < 2; i++ {
		result, err = limiter.Allow(ctx, "client-g:/api", rate)
		require.NoError(t, err)
	}
	assert.False(t, result.Allowed)
}
