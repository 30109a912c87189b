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
	"time"

	"github.com/dexgate/dexgate/kv"
	"github.com/dexgate/dexgate/log"
)

// StartCleanup starts a background goroutine that periodically asks
// the store to remove expired window counters. It is a no-op when
// the store does not implement kv.Cleaner (Redis expires window keys
// on its own). The goroutine stops when the provided context is
// cancelled.
//
// This method is safe to call multiple times; only the first call
// starts the goroutine.
func (l *Limiter) StartCleanup(ctx context.Context) {
	cleaner, ok := l.store.(kv.Cleaner)
	if !ok {
		return
	}

	l.cleanupOnce.Do(func() {
		go l.runCleanupLoop(ctx, cleaner)
	})
}

func (l *Limiter) runCleanupLoop(ctx context.Context, cleaner kv.Cleaner) {
	l.logger.InfoCtx(ctx, "starting rate limit cleanup loop",
		log.Duration("interval", l.cleanupInterval),
	)

	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.InfoCtx(ctx, "stopping rate limit cleanup loop")
			return
		case <-ticker.C:
			// Keep two cleanup intervals of history so the
			// previous window of any in-flight sliding
			// window calculation is still present.
			olderThan := l.cleanupInterval * 2

			removed, err := cleaner.Cleanup(ctx, olderThan)
			if err != nil {
				l.logger.ErrorCtx(ctx, "rate limit cleanup failed",
					log.Error(err),
				)
				continue
			}

			l.logger.DebugCtx(ctx, "rate limit cleanup completed",
				log.Int64("rows_deleted", removed),
				log.Duration("older_than", olderThan),
			)
		}
	}
}
