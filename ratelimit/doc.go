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

// Package ratelimit provides a distributed rate limiter using the
// sliding window counter algorithm over a shared key-value store.
//
// # Algorithm
//
// The limiter tracks request counts in the current and previous time
// windows and interpolates between them based on how much of the
// current window has elapsed. Compared to a fixed window counter
// this removes the boundary spike where a client could send two full
// quotas back to back across a window reset.
//
// Every check consumes a slot, whether or not the request is
// allowed, so a denied client keeps its own window full instead of
// probing the limiter for free.
//
// # Stores
//
// Counts live in a kv.Store. In production this must be a store
// shared by all gateway instances (Redis or PostgreSQL); the
// in-memory store is only correct for a single instance. A blocked
// key is also cached locally until its window resets, which skips
// the store round-trip for clients that keep hammering after a 429.
//
// # Failure policy
//
// When the store is unreachable the limiter follows the configured
// FailurePolicy: FailOpen admits the request, FailClosed rejects it.
// The error is returned either way so callers can log it. There is
// deliberately no silent default behavior beyond that choice.
//
// # Usage
//
//	limiter := ratelimit.NewLimiter(store,
//	    ratelimit.WithLogger(logger),
//	    ratelimit.WithRegisterer(registry),
//	    ratelimit.WithFailurePolicy(ratelimit.FailOpen),
//	)
//	limiter.StartCleanup(ctx)
//
//	result, err := limiter.Allow(ctx, "203.0.113.7:/api", ratelimit.Rate{
//	    Limit:  120,
//	    Window: time.Minute,
//	})
//
// # Metrics
//
//   - ratelimit_requests_total{allowed}: counter of checks
//   - ratelimit_check_duration_seconds{allowed}: histogram of check durations
//   - ratelimit_cache_hits_total: blocked cache hits (store calls avoided)
//   - ratelimit_store_failures_total: shared store errors
package ratelimit
