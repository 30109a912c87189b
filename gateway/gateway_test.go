package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dexgate/dexgate/ratelimit"
)

func TestRouter_ServesResource(t *testing.T) {
	mw := NewRateLimitMiddleware(nil, ratelimit.Rate{})
	router := NewRouter(mw, []Resource{
		{
			Pattern: "/api/price",
			TTL:     12 * time.Second,
			Fetch: func(ctx context.Context) (any, error) {
				return map[string]string{"ethPriceUSD": "3000"}, nil
			},
		},
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/price", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ethPriceUSD":"3000"}`, w.Body.String())
	assert.Equal(
		t,
		"public, max-age=0, s-maxage=12, stale-while-revalidate=12",
		w.Header().Get("Cache-Control"),
	)
}

func TestRouter_FetchFailure(t *testing.T) {
	mw := NewRateLimitMiddleware(nil, ratelimit.Rate{})
	router := NewRouter(mw, []Resource{
		{
			Pattern: "/api/stats",
			TTL:     time.Minute,
			Fetch: func(ctx context.Context) (any, error) {
				return nil, errors.New("indexer unreachable")
			},
		},
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/stats", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"success":false,"error":"upstream unavailable"}`, w.Body.String())
	assert.Empty(t, w.Header().Get("Cache-Control"))
}

func TestRouter_RateLimitApplied(t *testing.T) {
	mw := NewRateLimitMiddleware(
		newTestLimiter(t),
		ratelimit.Rate{Limit: 1, Window: time.Minute},
	)
	router := NewRouter(mw, []Resource{
		{
			Pattern: "/api/tokens",
			TTL:     time.Minute,
			Fetch: func(ctx context.Context) (any, error) {
				return []string{}, nil
			},
		},
	})

	do := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/api/tokens", nil)
		r.RemoteAddr = "203.0.113.7:4312"
		router.ServeHTTP(w, r)
		return w
	}

	require.Equal(t, http.StatusOK, do().Code)
	assert.Equal(t, http.StatusTooManyRequests, do().Code)
}
