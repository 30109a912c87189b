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

// Package cache memoizes expensive computations under a namespace
// plus an argument fingerprint, with per-call TTLs.
//
// Keys are derived from a canonical serialization of the arguments
// fed through xxhash. The hash is not collision resistant; that is
// acceptable here because values are recomputed idempotently on any
// miss, so a rare collision serves a recomputable value, never a
// corrupted one.
//
// Concurrent misses for the same key are collapsed into a single
// compute call (single-flight); callers never pay for a stampede.
// Failed computes are never written back, so the next call retries
// the upstream.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/dexgate/dexgate/log"
)

type (
	// Store persists cache entries. Implementations arbitrate
	// nothing beyond per-key read and write; the Cache layers
	// validity checking and single-flight on top.
	Store interface {
		// Read returns the entry stored under key, or ErrMiss.
		Read(ctx context.Context, key string) (*Entry, error)

		// Write stores an entry under key. The ttl is a
		// reclamation hint for stores with native expiry; the
		// Cache re-checks validity on read regardless.
		Write(ctx context.Context, key string, e *Entry, ttl time.Duration) error
	}

	// Entry is one cached value with its write timestamp.
	Entry struct {
		Value    json.RawMessage `json:"value"`
		StoredAt time.Time       `json:"storedAt"`
	}

	// Cache memoizes computations on a Store.
	Cache struct {
		store  Store
		logger *log.Logger
		group  singleflight.Group
		now    func() time.Time

		hitsTotal   *prometheus.CounterVec
		missesTotal *prometheus.CounterVec
	}

	// Option configures a Cache during initialization.
	Option func(c *Cache)
)

// ErrMiss is returned by Store.Read when no entry exists under the
// key.
var ErrMiss = errors.New("cache: miss")

// WithLogger sets a custom logger for the cache.
func WithLogger(l *log.Logger) Option {
	return func(c *Cache) {
		c.logger = l.Named("cache")
	}
}

// WithRegisterer sets a custom Prometheus registerer for metrics.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(c *Cache) {
		c.registerMetrics(r)
	}
}

// New creates a Cache on the given store.
func New(store Store, options ...Option) *Cache {
	c := &Cache{
		store:  store,
		logger: log.NewLogger(log.WithOutput(io.Discard)),
		now:    time.Now,
	}

	c.registerMetrics(prometheus.DefaultRegisterer)

	for _, o := range options {
		o(c)
	}

	return c
}

func (c *Cache) registerMetrics(r prometheus.Registerer) {
	c.hitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of cache hits.",
		},
		[]string{"namespace"},
	)
	if err := r.Register(c.hitsTotal); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			c.hitsTotal = are.ExistingCollector.(*prometheus.CounterVec)
		}
	}

	c.missesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of cache misses.",
		},
		[]string{"namespace"},
	)
	if err := r.Register(c.missesTotal); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			c.missesTotal = are.ExistingCollector.(*prometheus.CounterVec)
		}
	}
}

// Key derives the bounded-length cache key for a namespace and
// argument set. Identical (namespace, args) pairs always map to the
// same key; strings fingerprint as-is, everything else through its
// canonical JSON form (encoding/json sorts map keys).
func Key(namespace string, args any) (string, error) {
	var blob []byte

	switch v := args.(type) {
	case nil:
	case string:
		blob = []byte(v)
	case []byte:
		blob = v
	default:
		var err error
		blob, err = json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("cannot fingerprint cache arguments: %w", err)
		}
	}

	return fmt.Sprintf("%s-%016x", namespace, xxhash.Sum64(blob)), nil
}

// GetOrCompute returns the cached value for (namespace, args) when a
// valid entry exists, and otherwise invokes compute exactly once
// across concurrent callers, persists its result, and returns it. A
// failed compute is propagated unchanged and leaves no entry behind.
func GetOrCompute[T any](
	ctx context.Context,
	c *Cache,
	namespace string,
	args any,
	ttl time.Duration,
	compute func(context.Context) (T, error),
) (T, error) {
	var zero T

	key, err := Key(namespace, args)
	if err != nil {
		return zero, err
	}

	if v, ok := lookup[T](ctx, c, namespace, key, ttl); ok {
		return v, nil
	}

	result, err, _ := c.group.Do(key, func() (any, error) {
		// A concurrent caller may have finished the same
		// compute while this one queued on the flight group.
		if v, ok := lookup[T](ctx, c, namespace, key, ttl); ok {
			return v, nil
		}

		value, err := compute(ctx)
		if err != nil {
			return zero, err
		}

		blob, err := json.Marshal(value)
		if err != nil {
			return zero, fmt.Errorf("cannot encode cache value for %q: %w", key, err)
		}

		entry := &Entry{Value: blob, StoredAt: c.now()}
		if err := c.store.Write(ctx, key, entry, ttl); err != nil {
			// A failed write only costs a recompute on the
			// next call; the fresh value is still good.
			c.logger.WarnCtx(ctx, "cannot write cache entry",
				log.String("key", key),
				log.Error(err),
			)
		}

		return value, nil
	})
	if err != nil {
		return zero, err
	}

	return result.(T), nil
}

func lookup[T any](ctx context.Context, c *Cache, namespace, key string, ttl time.Duration) (T, bool) {
	var value T

	entry, err := c.store.Read(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			c.logger.WarnCtx(ctx, "cannot read cache entry",
				log.String("key", key),
				log.Error(err),
			)
		}

		c.missesTotal.WithLabelValues(namespace).Inc()
		return value, false
	}

	if c.now().Sub(entry.StoredAt) > ttl {
		c.missesTotal.WithLabelValues(namespace).Inc()
		return value, false
	}

	if err := json.Unmarshal(entry.Value, &value); err != nil {
		c.logger.WarnCtx(ctx, "cannot decode cache entry",
			log.String("key", key),
			log.Error(err),
		)

		c.missesTotal.WithLabelValues(namespace).Inc()
		return value, false
	}

	c.hitsTotal.WithLabelValues(namespace).Inc()
	return value, true
}
