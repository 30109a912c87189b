// Copyright (c) 2026.
//
// Permission to use, copy, modify, and/or distribute this software
// for any purpose with or without fee is hereby granted, provided
// that the above copyright notice and this permission notice appear
// in all copies.
//
// THE SOFTWARE IS PROVIDED "AS IS" AND THE AUTHOR DISCLAIMS ALL
// WARRANTIES WITH REGARD TO THIS SOFTWARE INCLUDING ALL IMPLIED
// WARRANTIES OF MERCHANTABILITY AND FITNESS. IN NO EVENT SHALL THE
// AUTHOR BE LIABLE FOR ANY SPECIAL, DIRECT, INDIRECT, OR
// CONSEQUENTIAL DAMAGES OR ANY DAMAGES WHATSOEVER RESULTING FROM LOSS
// OF USE, DATA OR PROFITS, WHETHER IN AN ACTION OF CONTRACT,
// NEGLIGENCE OR OTHER TORTIOUS ACTION, ARISING OUT OF OR IN
// CONNECTION WITH THE USE OR PERFORMANCE OF THIS SOFTWARE.

package gateway

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/dexgate/dexgate/httpserver"
	"github.com/dexgate/dexgate/log"
	"github.com/dexgate/dexgate/ratelimit"
)

type (
	// RateLimitMiddleware enforces per-client request quotas on
	// every request flowing through it. Keys are derived from the
	// client identity and the route group so that all paths under
	// the API prefix share one bucket per client.
	RateLimitMiddleware struct {
		limiter     *ratelimit.Limiter
		rate        ratelimit.Rate
		overrides   map[string]ratelimit.Rate
		groupPrefix string
		logger      *log.Logger
	}

	// MiddlewareOption configures the RateLimitMiddleware during
	// initialization.
	MiddlewareOption func(m *RateLimitMiddleware)
)

// WithMiddlewareLogger sets a custom logger for the middleware.
func WithMiddlewareLogger(l *log.Logger) MiddlewareOption {
	return func(m *RateLimitMiddleware) {
		m.logger = l.Named("gateway.middleware")
	}
}

// WithGroupPrefix sets the path prefix collapsed into a single rate
// limit bucket. Requests outside the prefix are keyed by their
// literal path.
func WithGroupPrefix(prefix string) MiddlewareOption {
	return func(m *RateLimitMiddleware) {
		m.groupPrefix = prefix
	}
}

// WithRateOverride sets a dedicated rate for one route group,
// overriding the default rate.
func WithRateOverride(group string, rate ratelimit.Rate) MiddlewareOption {
	return func(m *RateLimitMiddleware) {
		m.overrides[group] = rate
	}
}

// NewRateLimitMiddleware returns a middleware enforcing rate against
// limiter. A nil limiter disables enforcement entirely: requests pass
// through unmodified, without quota headers.
func NewRateLimitMiddleware(
	limiter *ratelimit.Limiter,
	rate ratelimit.Rate,
	options ...MiddlewareOption,
) *RateLimitMiddleware {
	m := &RateLimitMiddleware{
		limiter:     limiter,
		rate:        rate,
		overrides:   make(map[string]ratelimit.Rate),
		groupPrefix: "/api",
		logger:      log.NewLogger(log.WithOutput(io.Discard)),
	}

	for _, o := range options {
		o(m)
	}

	return m
}

// Handler wraps next with rate limit enforcement.
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}

		var (
			group = m.routeGroup(r.URL.Path)
			key   = fmt.Sprintf("%s:%s", clientIdentity(r), group)
			rate  = m.rate
		)

		if override, ok := m.overrides[group]; ok {
			rate = override
		}

		result, err := m.limiter.Allow(r.Context(), key, rate)
		if err != nil {
			// The limiter already resolved the outcome per
			// its failure policy; the error is recorded
			// here so store outages never go unnoticed.
			m.logger.ErrorCtx(
				r.Context(),
				"rate limit check failed",
				log.String("key", key),
				log.Error(err),
			)
		}

		h := w.Header()
		h.Set("RateLimit-Limit", strconv.Itoa(result.Limit))
		h.Set("RateLimit-Remaining", strconv.Itoa(result.Remaining))
		h.Set("RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

		if !result.Allowed {
			httpserver.RenderError(
				w,
				http.StatusTooManyRequests,
				"rate limit exceeded",
			)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *RateLimitMiddleware) routeGroup(path string) string {
	if strings.HasPrefix(path, m.groupPrefix) {
		return m.groupPrefix
	}

	return path
}

// clientIdentity resolves the caller's IP. Forwarded headers are set
// by the fronting load balancer; the first forwarded-for hop is the
// original client.
func clientIdentity(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}

	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}

	return "unknown"
}
