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

package upstream

import (
	"context"
	"strconv"
	"time"

	"github.com/dexgate/dexgate/cache"
	"github.com/dexgate/dexgate/log"
)

// defaultEthPriceUSD is served when no oracle endpoint is configured
// and no prior value exists. A plausible stale number beats an error
// for a display-only price.
const defaultEthPriceUSD = "3000"

type (
	// PriceSource reads the current price from an oracle.
	PriceSource interface {
		LatestPrice(ctx context.Context) (float64, error)
	}

	// Price is the gateway's price resource.
	Price struct {
		EthPriceUSD string `json:"ethPriceUSD"`
	}

	// PriceAggregator serves the oracle price with a soft default
	// and last-good fallback.
	PriceAggregator struct {
		feed   PriceSource
		cache  *cache.Cache
		ttl    time.Duration
		logger *log.Logger
		state  fallback[Price]
	}
)

// NewPriceAggregator returns an aggregator reading from feed. A nil
// feed means no oracle endpoint is configured: the aggregator serves
// its default without upstream calls.
func NewPriceAggregator(feed PriceSource, c *cache.Cache, opts ...Option) *PriceAggregator {
	o := configureOptions(opts, 15*time.Second)

	return &PriceAggregator{
		feed:   feed,
		cache:  c,
		ttl:    o.ttl,
		logger: o.logger,
	}
}

// TTL returns the aggregator's refresh TTL.
func (a *PriceAggregator) TTL() time.Duration {
	return a.ttl
}

// Fetch returns the current price, cache-fronted.
func (a *PriceAggregator) Fetch(ctx context.Context) (Price, error) {
	return cache.GetOrCompute(ctx, a.cache, "price", nil, a.ttl, a.refresh)
}

func (a *PriceAggregator) refresh(ctx context.Context) (Price, error) {
	if a.feed == nil {
		if v, ok := a.state.last(); ok {
			return v, nil
		}

		return Price{EthPriceUSD: defaultEthPriceUSD}, nil
	}

	value, err := a.feed.LatestPrice(ctx)
	if err != nil {
		a.logger.WarnCtx(ctx, "cannot refresh price", log.Error(err))

		if v, ok := a.state.last(); ok {
			return v, nil
		}

		return Price{EthPriceUSD: defaultEthPriceUSD}, nil
	}

	p := Price{
		EthPriceUSD: strconv.FormatFloat(value, 'f', -1, 64),
	}
	a.state.publish(p)

	return p, nil
}
