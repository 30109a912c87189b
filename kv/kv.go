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

// Package kv defines the shared key-value capability the gateway's
// limiter and cache are built on. A Store must be externally shared
// when more than one gateway instance serves traffic; the in-memory
// implementation is only correct for a single instance.
package kv

import (
	"context"
	"errors"
	"time"
)

type (
	// Store is a key-value store with per-key TTL writes and
	// windowed atomic increments. No multi-key transactions are
	// assumed or required.
	Store interface {
		// Get returns the value stored under key, or
		// ErrNotFound when the key is absent or expired.
		Get(ctx context.Context, key string) ([]byte, error)

		// SetWithTTL stores value under key. The entry expires
		// after ttl; a ttl of zero means no expiry.
		SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error

		// IncrWindow atomically adds n to the counter of the
		// time bucket starting at windowStart (unix
		// milliseconds) for key, and returns the updated
		// bucket count together with the count of the bucket
		// starting at prevWindowStart.
		IncrWindow(ctx context.Context, key string, windowStart, prevWindowStart int64, n int64) (current, previous int64, err error)
	}

	// Cleaner is implemented by stores whose window counters
	// need periodic reaping.
	Cleaner interface {
		// Cleanup removes window counters older than the given
		// duration and reports how many entries were removed.
		Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
	}
)

// ErrNotFound is returned by Get when the key is absent or its TTL
// has elapsed.
var ErrNotFound = errors.New("kv: key not found")
