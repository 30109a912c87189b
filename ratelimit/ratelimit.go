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

package ratelimit

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dexgate/dexgate/internal/version"
	"github.com/dexgate/dexgate/kv"
	"github.com/dexgate/dexgate/log"
)

type (
	// Option is a function that configures the Limiter during
	// initialization.
	Option func(l *Limiter)

	// Limiter is a sliding window counter rate limiter over a
	// shared kv.Store, so every gateway instance behind a load
	// balancer observes the same per-key counts.
	Limiter struct {
		store  kv.Store
		policy FailurePolicy
		logger *log.Logger
		tracer trace.Tracer

		cleanupInterval time.Duration
		cleanupOnce     sync.Once

		blockedCache sync.Map // key+window -> unblockAt (time.Time)

		now func() time.Time

		requestsTotal      *prometheus.CounterVec
		checkDuration      *prometheus.HistogramVec
		cacheHitsTotal     prometheus.Counter
		storeFailuresTotal prometheus.Counter
	}

	// Rate defines the rate limit parameters.
	Rate struct {
		// Limit is the maximum number of requests allowed
		// within the Window duration.
		Limit int

		// Window is the time duration for the rate limit
		// window.
		Window time.Duration
	}

	// Result contains the outcome of a rate limit check.
	Result struct {
		// Allowed indicates whether the request is permitted.
		Allowed bool

		// Limit is the maximum number of requests allowed in
		// the window.
		Limit int

		// Remaining is the number of requests remaining in
		// the current window.
		Remaining int

		// ResetAt is the time when the current window resets.
		ResetAt time.Time
	}

	// FailurePolicy decides what happens when the shared store
	// is unreachable. This is a deployment decision, never a
	// silent default: a gateway fronting a paid API fails
	// closed, one fronting public read-only data fails open.
	FailurePolicy int
)

const (
	// FailOpen allows the request when the store errors.
	FailOpen FailurePolicy = iota

	// FailClosed denies the request when the store errors.
	FailClosed
)

const (
	tracerName = "github.com/dexgate/dexgate/ratelimit"
)

// WithLogger sets a custom logger for the limiter.
func WithLogger(l *log.Logger) Option {
	return func(lim *Limiter) {
		lim.logger = l.Named("ratelimit")
	}
}

// WithTracerProvider configures OpenTelemetry tracing with the
// provided tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(l *Limiter) {
		l.tracer = tp.Tracer(
			tracerName,
			trace.WithInstrumentationVersion(
				version.New(0).Alpha(1),
			),
		)
	}
}

// WithRegisterer sets a custom Prometheus registerer for metrics.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(l *Limiter) {
		l.registerMetrics(r)
	}
}

// WithFailurePolicy sets the behavior on store errors.
func WithFailurePolicy(p FailurePolicy) Option {
	return func(l *Limiter) {
		l.policy = p
	}
}

// WithCleanupInterval sets the interval for background cleanup of
// expired window counters. Default is 5 minutes.
func WithCleanupInterval(d time.Duration) Option {
	return func(l *Limiter) {
		l.cleanupInterval = d
	}
}

// NewLimiter creates a new rate limiter on the given shared store.
func NewLimiter(store kv.Store, options ...Option) *Limiter {
	l := &Limiter{
		store:           store,
		logger:          log.NewLogger(log.WithOutput(io.Discard)),
		tracer:          otel.GetTracerProvider().Tracer(tracerName),
		cleanupInterval: 5 * time.Minute,
		now:             time.Now,
	}

	l.registerMetrics(prometheus.DefaultRegisterer)

	for _, o := range options {
		o(l)
	}

	return l
}

func (l *Limiter) registerMetrics(r prometheus.Registerer) {
	l.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: "ratelimit",
			Name:      "requests_total",
			Help:      "Total number of rate limit checks.",
		},
		[]string{"allowed"},
	)
	if err := r.Register(l.requestsTotal); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			l.requestsTotal = are.ExistingCollector.(*prometheus.CounterVec)
		}
	}

	l.checkDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Subsystem: "ratelimit",
			Name:      "check_duration_seconds",
			Help:      "Duration of rate limit checks in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"allowed"},
	)
	if err := r.Register(l.checkDuration); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			l.checkDuration = are.ExistingCollector.(*prometheus.HistogramVec)
		}
	}

	l.cacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Subsystem: "ratelimit",
			Name:      "cache_hits_total",
			Help:      "Total number of blocked cache hits (store calls avoided).",
		},
	)
	if err := r.Register(l.cacheHitsTotal); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			l.cacheHitsTotal = are.ExistingCollector.(prometheus.Counter)
		}
	}

	l.storeFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Subsystem: "ratelimit",
			Name:      "store_failures_total",
			Help:      "Total number of shared store errors during checks.",
		},
	)
	if err := r.Register(l.storeFailuresTotal); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			l.storeFailuresTotal = are.ExistingCollector.(prometheus.Counter)
		}
	}
}

// Allow checks if a single request is allowed for the given key and
// rate. Every call consumes a slot, allowed or not, so probing the
// limiter cannot amplify the effective quota.
func (l *Limiter) Allow(ctx context.Context, key string, rate Rate) (*Result, error) {
	return l.AllowN(ctx, key, rate, 1)
}

// AllowN checks if n requests are allowed for the given key and
// rate. When the store errors, the returned Result follows the
// configured FailurePolicy and the error is returned alongside it.
func (l *Limiter) AllowN(ctx context.Context, key string, rate Rate, n int) (*Result, error) {
	start := time.Now()

	var (
		rootSpan = trace.SpanFromContext(ctx)
		span     trace.Span
	)

	if rootSpan.IsRecording() {
		ctx, span = l.tracer.Start(
			ctx,
			"ratelimit.AllowN",
			trace.WithSpanKind(trace.SpanKindInternal),
			trace.WithAttributes(
				attribute.String("ratelimit.key", key),
				attribute.Int("ratelimit.limit", rate.Limit),
				attribute.Int64("ratelimit.window_ms", rate.Window.Milliseconds()),
				attribute.Int("ratelimit.n", n),
			),
		)
		defer span.End()
	}

	now := l.now()
	windowStart := now.Truncate(rate.Window)
	prevWindowStart := windowStart.Add(-rate.Window)
	resetAt := windowStart.Add(rate.Window)

	// Fast path: keys already known to be blocked skip the
	// shared store round-trip until their window resets.
	cacheKey := fmt.Sprintf("%s:%d", key, rate.Window.Milliseconds())
	if unblockAt, ok := l.blockedCache.Load(cacheKey); ok {
		if now.Before(unblockAt.(time.Time)) {
			l.cacheHitsTotal.Inc()

			result := &Result{
				Allowed:   false,
				Limit:     rate.Limit,
				Remaining: 0,
				ResetAt:   unblockAt.(time.Time),
			}

			if rootSpan.IsRecording() {
				span.SetAttributes(
					attribute.Bool("ratelimit.allowed", false),
					attribute.Bool("ratelimit.cache_hit", true),
				)
			}

			l.recordMetrics(false, time.Since(start))
			return result, nil
		}
		l.blockedCache.Delete(cacheKey)
	}

	currentCount, prevCount, err := l.store.IncrWindow(
		ctx,
		key,
		windowStart.UnixMilli(),
		prevWindowStart.UnixMilli(),
		int64(n),
	)
	if err != nil {
		l.storeFailuresTotal.Inc()

		if rootSpan.IsRecording() {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}

		result := &Result{
			Allowed: l.policy == FailOpen,
			Limit:   rate.Limit,
			ResetAt: resetAt,
		}

		l.recordMetrics(result.Allowed, time.Since(start))
		return result, fmt.Errorf("cannot check rate limit: %w", err)
	}

	// Interpolate the previous window by how much of the current
	// window has elapsed. This avoids the boundary spike of fixed
	// buckets, where a client can double its quota by straddling
	// the reset.
	elapsed := now.Sub(windowStart)
	weight := float64(rate.Window-elapsed) / float64(rate.Window)
	effectiveCount := currentCount + int64(float64(prevCount)*weight)

	allowed := effectiveCount <= int64(rate.Limit)
	remaining := int64(rate.Limit) - effectiveCount
	if remaining < 0 {
		remaining = 0
	}

	if !allowed {
		l.blockedCache.Store(cacheKey, resetAt)
	}

	if rootSpan.IsRecording() {
		span.SetAttributes(
			attribute.Bool("ratelimit.allowed", allowed),
			attribute.Bool("ratelimit.cache_hit", false),
			attribute.Int64("ratelimit.current_count", currentCount),
			attribute.Int64("ratelimit.prev_count", prevCount),
			attribute.Int64("ratelimit.effective_count", effectiveCount),
			attribute.Int64("ratelimit.remaining", remaining),
		)
	}

	result := &Result{
		Allowed:   allowed,
		Limit:     rate.Limit,
		Remaining: int(remaining),
		ResetAt:   resetAt,
	}

	l.recordMetrics(allowed, time.Since(start))

	return result, nil
}

func (l *Limiter) recordMetrics(allowed bool, duration time.Duration) {
	allowedStr := "true"
	if !allowed {
		allowedStr = "false"
	}

	l.requestsTotal.WithLabelValues(allowedStr).Inc()
	l.checkDuration.WithLabelValues(allowedStr).Observe(duration.Seconds())
}
