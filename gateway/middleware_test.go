package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dexgate/dexgate/kv"
	"github.com/dexgate/dexgate/ratelimit"
)

func newTestLimiter(t *testing.T) *ratelimit.Limiter {
	t.Helper()

	return ratelimit.NewLimiter(
		kv.NewMemoryStore(),
		ratelimit.WithRegisterer(prometheus.NewRegistry()),
	)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddleware_DisabledPassthrough(t *testing.T) {
	mw := NewRateLimitMiddleware(nil, ratelimit.Rate{Limit: 1, Window: time.Minute})
	h := mw.Handler(okHandler())

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/price", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("RateLimit-Limit"))
	}
}

func TestMiddleware_QuotaHeaders(t *testing.T) {
	mw := NewRateLimitMiddleware(
		newTestLimiter(t),
		ratelimit.Rate{Limit: 120, Window: time.Minute},
	)
	h := mw.Handler(okHandler())

	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		last = httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/api/tokens", nil)
		r.RemoteAddr = "203.0.113.7:4312"
		h.ServeHTTP(last, r)

		require.Equal(t, http.StatusOK, last.Code)
	}

	assert.Equal(t, "120", last.Header().Get("RateLimit-Limit"))
	assert.Equal(t, "117", last.Header().Get("RateLimit-Remaining"))
	assert.NotEmpty(t, last.Header().Get("RateLimit-Reset"))
}

func TestMiddleware_Denial(t *testing.T) {
	mw := NewRateLimitMiddleware(
		newTestLimiter(t),
		ratelimit.Rate{Limit: 2, Window: time.Minute},
	)
	h := mw.Handler(okHandler())

	do := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/api/pools", nil)
		r.RemoteAddr = "203.0.113.7:4312"
		h.ServeHTTP(w, r)
		return w
	}

	require.Equal(t, http.StatusOK, do().Code)
	require.Equal(t, http.StatusOK, do().Code)

	w := do()
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"success":false,"error":"rate limit exceeded"}`, w.Body.String())
	assert.Equal(t, "2", w.Header().Get("RateLimit-Limit"))
	assert.Equal(t, "0", w.Header().Get("RateLimit-Remaining"))
}

func TestMiddleware_RouteGroupSharesBucket(t *testing.T) {
	mw := NewRateLimitMiddleware(
		newTestLimiter(t),
		ratelimit.Rate{Limit: 2, Window: time.Minute},
	)
	h := mw.Handler(okHandler())

	do := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, path, nil)
		r.RemoteAddr = "203.0.113.7:4312"
		h.ServeHTTP(w, r)
		return w
	}

	// All /api paths drain the same bucket.
	require.Equal(t, http.StatusOK, do("/api/price").Code)
	require.Equal(t, http.StatusOK, do("/api/tokens").Code)
	assert.Equal(t, http.StatusTooManyRequests, do("/api/pools").Code)

	// A path outside the prefix has its own bucket.
	assert.Equal(t, http.StatusOK, do("/status").Code)
}

func TestMiddleware_ClientsAreIndependent(t *testing.T) {
	mw := NewRateLimitMiddleware(
		newTestLimiter(t),
		ratelimit.Rate{Limit: 1, Window: time.Minute},
	)
	h := mw.Handler(okHandler())

	do := func(ip string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/api/price", nil)
		r.Header.Set("X-Forwarded-For", ip)
		h.ServeHTTP(w, r)
		return w
	}

	require.Equal(t, http.StatusOK, do("198.51.100.1").Code)
	assert.Equal(t, http.StatusTooManyRequests, do("198.51.100.1").Code)
	assert.Equal(t, http.StatusOK, do("198.51.100.2").Code)
}

func TestMiddleware_RateOverride(t *testing.T) {
	mw := NewRateLimitMiddleware(
		newTestLimiter(t),
		ratelimit.Rate{Limit: 100, Window: time.Minute},
		WithRateOverride("/admin", ratelimit.Rate{Limit: 1, Window: time.Minute}),
	)
	h := mw.Handler(okHandler())

	do := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, path, nil)
		r.RemoteAddr = "203.0.113.7:4312"
		h.ServeHTTP(w, r)
		return w
	}

	require.Equal(t, http.StatusOK, do("/admin").Code)
	assert.Equal(t, http.StatusTooManyRequests, do("/admin").Code)
	assert.Equal(t, http.StatusOK, do("/api/price").Code)
}

func TestClientIdentity(t *testing.T) {
	testCases := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		expected   string
	}{
		{
			name:       "forwarded chain uses first hop",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.1, 10.0.0.2"},
			expected:   "198.51.100.1",
		},
		{
			name:       "real ip fallback",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"X-Real-IP": "198.51.100.9"},
			expected:   "198.51.100.9",
		},
		{
			name:       "remote addr fallback",
			remoteAddr: "203.0.113.7:4312",
			expected:   "203.0.113.7",
		},
		{
			name:     "unknown when nothing available",
			expected: "unknown",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/price", nil)
			r.RemoteAddr = tc.remoteAddr
			for k, v := range tc.headers {
				r.Header.Set(k, v)
			}

			assert.Equal(t, tc.expected, clientIdentity(r))
		})
	}
}
