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
	"fmt"
	"time"

	"github.com/dexgate/dexgate/cache"
	"github.com/dexgate/dexgate/log"
	"github.com/dexgate/dexgate/upstream/graph"
)

const (
	bundleQuery = `
{
  bundles(first: 1) {
    ethPrice
  }
}`

	factoryQuery = `
{
  uniswapFactories(first: 1) {
    totalVolumeUSD
    totalLiquidityUSD
    txCount
    pairCount
  }
}`
)

type (
	// Stats is the gateway's protocol stats resource: the pool
	// table merged with the global price bundle and the factory
	// totals.
	Stats struct {
		Timestamp         time.Time `json:"timestamp"`
		EthPriceUSD       string    `json:"ethPriceUSD"`
		TotalVolumeUSD    string    `json:"totalVolumeUSD"`
		TotalLiquidityUSD string    `json:"totalLiquidityUSD"`
		TxCount           string    `json:"txCount"`
		PairCount         int       `json:"pairCount"`
		PoolCount         int       `json:"poolCount"`
	}

	// StatsAggregator merges the pool list with the bundle and
	// factory queries.
	StatsAggregator struct {
		indexer *graph.Client
		pools   *PoolsAggregator
		cache   *cache.Cache
		ttl     time.Duration
		logger  *log.Logger
		state   fallback[Stats]
	}
)

// NewStatsAggregator returns an aggregator over indexer, reusing the
// pool aggregator's cache-fronted pool list.
func NewStatsAggregator(
	indexer *graph.Client,
	pools *PoolsAggregator,
	c *cache.Cache,
	opts ...Option,
) *StatsAggregator {
	o := configureOptions(opts, time.Minute)

	return &StatsAggregator{
		indexer: indexer,
		pools:   pools,
		cache:   c,
		ttl:     o.ttl,
		logger:  o.logger,
	}
}

// TTL returns the aggregator's refresh TTL.
func (a *StatsAggregator) TTL() time.Duration {
	return a.ttl
}

// Fetch returns the current stats, cache-fronted.
func (a *StatsAggregator) Fetch(ctx context.Context) (Stats, error) {
	return cache.GetOrCompute(ctx, a.cache, "stats", nil, a.ttl, a.refresh)
}

func (a *StatsAggregator) refresh(ctx context.Context) (Stats, error) {
	stats, err := a.aggregate(ctx)
	if err != nil {
		a.logger.WarnCtx(ctx, "cannot refresh stats", log.Error(err))

		if v, ok := a.state.last(); ok {
			return v, nil
		}

		return Stats{}, fmt.Errorf("cannot aggregate stats: %w", err)
	}

	a.state.publish(stats)

	return stats, nil
}

func (a *StatsAggregator) aggregate(ctx context.Context) (Stats, error) {
	var bundle struct {
		Bundles []struct {
			EthPrice string `json:"ethPrice"`
		} `json:"bundles"`
	}
	if err := a.indexer.Query(ctx, bundleQuery, nil, &bundle); err != nil {
		return Stats{}, fmt.Errorf("cannot fetch bundle: %w", err)
	}
	if len(bundle.Bundles) == 0 {
		return Stats{}, fmt.Errorf("bundle query returned no rows")
	}

	var factory struct {
		Factories []struct {
			TotalVolumeUSD    string `json:"totalVolumeUSD"`
			TotalLiquidityUSD string `json:"totalLiquidityUSD"`
			TxCount           string `json:"txCount"`
			PairCount         int    `json:"pairCount"`
		} `json:"uniswapFactories"`
	}
	if err := a.indexer.Query(ctx, factoryQuery, nil, &factory); err != nil {
		return Stats{}, fmt.Errorf("cannot fetch factory: %w", err)
	}
	if len(factory.Factories) == 0 {
		return Stats{}, fmt.Errorf("factory query returned no rows")
	}

	pools, err := a.pools.Fetch(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("cannot fetch pools: %w", err)
	}

	f := factory.Factories[0]

	return Stats{
		Timestamp:         time.Now().UTC(),
		EthPriceUSD:       bundle.Bundles[0].EthPrice,
		TotalVolumeUSD:    f.TotalVolumeUSD,
		TotalLiquidityUSD: f.TotalLiquidityUSD,
		TxCount:           f.TxCount,
		PairCount:         f.PairCount,
		PoolCount:         len(pools.Pools),
	}, nil
}
