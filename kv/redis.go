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

package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type (
	// RedisStore implements Store on a Redis server reachable
	// from every gateway instance.
	RedisStore struct {
		rdb    redis.UniversalClient
		prefix string

		// windowRetention bounds how long window counter keys
		// live in Redis. Must be at least twice the largest
		// rate-limit window in use.
		windowRetention time.Duration
	}

	// RedisOption configures a RedisStore.
	RedisOption func(s *RedisStore)
)

var (
	_ Store = (*RedisStore)(nil)
)

// WithPrefix namespaces every key written by the store.
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

// WithWindowRetention sets the TTL applied to window counter keys.
func WithWindowRetention(d time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.windowRetention = d
	}
}

// NewRedisStore wraps an already-configured Redis client.
func NewRedisStore(rdb redis.UniversalClient, options ...RedisOption) *RedisStore {
	s := &RedisStore{
		rdb:             rdb,
		prefix:          "dexgate",
		windowRetention: 5 * time.Minute,
	}

	for _, o := range options {
		o(s)
	}

	return s
}

func (s *RedisStore) key(parts ...string) string {
	return s.prefix + ":" + strings.Join(parts, ":")
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.rdb.Get(ctx, s.key("v", key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("cannot get %q: %w", key, err)
	}

	return v, nil
}

// SetWithTTL implements Store.
func (s *RedisStore) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, s.key("v", key), value, ttl).Err(); err != nil {
		return fmt.Errorf("cannot set %q: %w", key, err)
	}

	return nil
}

// IncrWindow implements Store. The two window buckets live under
// distinct keys; one pipeline round-trip increments the current
// bucket, refreshes its retention, and reads the previous bucket.
func (s *RedisStore) IncrWindow(ctx context.Context, key string, windowStart, prevWindowStart int64, n int64) (int64, int64, error) {
	var (
		curKey  = s.key("w", key, fmt.Sprintf("%d", windowStart))
		prevKey = s.key("w", key, fmt.Sprintf("%d", prevWindowStart))
	)

	pipe := s.rdb.Pipeline()
	incr := pipe.IncrBy(ctx, curKey, n)
	pipe.Expire(ctx, curKey, s.windowRetention)
	prev := pipe.Get(ctx, prevKey)

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return 0, 0, fmt.Errorf("cannot increment window for %q: %w", key, err)
	}

	previous, err := prev.Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, 0, fmt.Errorf("cannot read previous window for %q: %w", key, err)
	}

	return incr.Val(), previous, nil
}
