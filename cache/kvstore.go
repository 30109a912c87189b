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

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dexgate/dexgate/kv"
)

type (
	// KVStore persists cache entries in a shared kv.Store, so
	// every gateway instance sees the same cached upstream
	// results.
	KVStore struct {
		store kv.Store
	}
)

var (
	_ Store = (*KVStore)(nil)
)

// NewKVStore wraps a kv.Store.
func NewKVStore(store kv.Store) *KVStore {
	return &KVStore{store: store}
}

// Read implements Store.
func (s *KVStore) Read(ctx context.Context, key string) (*Entry, error) {
	blob, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, ErrMiss
		}

		return nil, fmt.Errorf("cannot read cache entry for %q: %w", key, err)
	}

	var e Entry
	if err := json.Unmarshal(blob, &e); err != nil {
		return nil, ErrMiss
	}

	return &e, nil
}

// Write implements Store. The entry expires server-side at twice its
// TTL; reads past the TTL still see it, which is what lets the
// aggregators keep a stale copy around without a second store.
func (s *KVStore) Write(ctx context.Context, key string, e *Entry, ttl time.Duration) error {
	blob, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("cannot encode cache entry for %q: %w", key, err)
	}

	var retention time.Duration
	if ttl > 0 {
		retention = 2 * ttl
	}

	if err := s.store.SetWithTTL(ctx, key, blob, retention); err != nil {
		return fmt.Errorf("cannot store cache entry for %q: %w", key, err)
	}

	return nil
}
