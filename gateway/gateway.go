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

// Package gateway exposes the aggregated upstream resources over
// HTTP, fronted by per-client rate limiting and edge cache headers.
package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dexgate/dexgate/httpserver"
	"github.com/dexgate/dexgate/log"
)

type (
	// Resource describes one aggregated endpoint: its route
	// pattern, the TTL advertised to edge caches, and the fetch
	// function producing its current value. The TTL must match
	// the TTL of the cache fronting Fetch so that edge caches and
	// the internal cache expire together.
	Resource struct {
		Pattern string
		TTL     time.Duration
		Fetch   func(ctx context.Context) (any, error)
	}

	// RouterOption configures the router during initialization.
	RouterOption func(o *routerOptions)

	routerOptions struct {
		logger *log.Logger
	}
)

// WithRouterLogger sets a custom logger for the resource handlers.
func WithRouterLogger(l *log.Logger) RouterOption {
	return func(o *routerOptions) {
		o.logger = l.Named("gateway")
	}
}

// NewRouter builds the gateway's HTTP routing table. Every resource
// handler runs behind the rate limit middleware.
func NewRouter(
	mw *RateLimitMiddleware,
	resources []Resource,
	options ...RouterOption,
) *chi.Mux {
	opts := &routerOptions{
		logger: log.NewLogger(log.WithOutput(io.Discard)),
	}

	for _, o := range options {
		o(opts)
	}

	r := chi.NewRouter()
	r.Use(mw.Handler)

	for _, res := range resources {
		r.Get(res.Pattern, res.handler(opts.logger))
	}

	return r
}

func (res Resource) handler(logger *log.Logger) http.HandlerFunc {
	seconds := int(res.TTL.Seconds())
	cacheControl := fmt.Sprintf(
		"public, max-age=0, s-maxage=%d, stale-while-revalidate=%d",
		seconds,
		seconds,
	)

	return func(w http.ResponseWriter, r *http.Request) {
		v, err := res.Fetch(r.Context())
		if err != nil {
			logger.ErrorCtx(
				r.Context(),
				"cannot fetch resource",
				log.String("pattern", res.Pattern),
				log.Error(err),
			)

			httpserver.RenderError(
				w,
				http.StatusInternalServerError,
				"upstream unavailable",
			)
			return
		}

		w.Header().Set("Cache-Control", cacheControl)
		httpserver.RenderJSON(w, http.StatusOK, v)
	}
}
