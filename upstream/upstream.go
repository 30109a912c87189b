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

// Package upstream aggregates the indexer and oracle data backing the
// gateway's resources. Every aggregator keeps its last successful
// value and serves it, regardless of age, when a refresh fails;
// a short TTL cache in front of each refresh shields upstreams from
// concurrent client traffic.
package upstream

import (
	"io"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dexgate/dexgate/log"
)

type (
	// Option is a function that configures an aggregator during
	// initialization.
	Option func(o *options)

	options struct {
		logger *log.Logger
		ttl    time.Duration
	}

	// fallback is the single-writer last-good state of one
	// aggregator.
	fallback[T any] struct {
		mu sync.Mutex
		v  T
		at time.Time
		ok bool
	}
)

// WithLogger sets a custom logger for the aggregator.
func WithLogger(l *log.Logger) Option {
	return func(o *options) {
		o.logger = l.Named("upstream")
	}
}

// WithTTL overrides the aggregator's refresh TTL. Edge cache headers
// emitted by the gateway must carry the same value.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.ttl = ttl
	}
}

func configureOptions(opts []Option, defaultTTL time.Duration) *options {
	o := &options{
		logger: log.NewLogger(log.WithOutput(io.Discard)),
		ttl:    defaultTTL,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

func (f *fallback[T]) publish(v T) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.v = v
	f.at = time.Now()
	f.ok = true
}

func (f *fallback[T]) last() (T, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.v, f.ok
}

// isAddress reports whether s looks like a 20-byte hex address.
func isAddress(s string) bool {
	if len(s) != 42 || !strings.HasPrefix(s, "0x") {
		return false
	}

	for _, c := range s[2:] {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}

	return true
}

// isFiniteNumber reports whether s parses as a finite float.
func isFiniteNumber(s string) bool {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return false
	}

	return !math.IsInf(v, 0) && !math.IsNaN(v)
}
