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
	"sync"
	"time"
)

type (
	// MemoryStore is a process-local Store. It satisfies the
	// limiter and cache contracts for a single gateway instance
	// and for tests; it must not back a multi-instance
	// deployment.
	MemoryStore struct {
		mu      sync.Mutex
		values  map[string]memoryEntry
		windows map[string]map[int64]int64

		now func() time.Time
	}

	memoryEntry struct {
		value     []byte
		expiresAt time.Time
	}
)

var (
	_ Store   = (*MemoryStore)(nil)
	_ Cleaner = (*MemoryStore)(nil)
)

// NewMemoryStore returns an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:  make(map[string]memoryEntry),
		windows: make(map[string]map[int64]int64),
		now:     time.Now,
	}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.values[key]
	if !ok {
		return nil, ErrNotFound
	}

	if !e.expiresAt.IsZero() && s.now().After(e.expiresAt) {
		delete(s.values, key)
		return nil, ErrNotFound
	}

	return e.value, nil
}

// SetWithTTL implements Store.
func (s *MemoryStore) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}

	s.values[key] = e
	return nil
}

// IncrWindow implements Store.
func (s *MemoryStore) IncrWindow(_ context.Context, key string, windowStart, prevWindowStart int64, n int64) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buckets, ok := s.windows[key]
	if !ok {
		buckets = make(map[int64]int64)
		s.windows[key] = buckets
	}

	buckets[windowStart] += n

	return buckets[windowStart], buckets[prevWindowStart], nil
}

// Cleanup implements Cleaner, dropping window buckets whose start is
// older than the given duration.
func (s *MemoryStore) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-olderThan).UnixMilli()

	var removed int64
	for key, buckets := range s.windows {
		for start := range buckets {
			if start < cutoff {
				delete(buckets, start)
				removed++
			}
		}
		if len(buckets) == 0 {
			delete(s.windows, key)
		}
	}

	return removed, nil
}
