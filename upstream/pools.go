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

const poolsQuery = `
query pairs($first: Int!, $skip: Int!) {
  pairs(first: $first, skip: $skip, orderBy: reserveUSD, orderDirection: desc) {
    id
    reserveUSD
    volumeUSD
    token0 { id symbol }
    token1 { id symbol }
  }
}`

type (
	// PoolToken is one side of a pool.
	PoolToken struct {
		Address string `json:"address"`
		Symbol  string `json:"symbol"`
	}

	// Pool is one entry of the gateway's pool list resource.
	Pool struct {
		ID         string    `json:"id"`
		Token0     PoolToken `json:"token0"`
		Token1     PoolToken `json:"token1"`
		ReserveUSD string    `json:"reserveUSD"`
		VolumeUSD  string    `json:"volumeUSD"`
	}

	// PoolList is the gateway's pool list resource.
	PoolList struct {
		Timestamp time.Time `json:"timestamp"`
		Pools     []Pool    `json:"pools"`
	}

	poolRow struct {
		ID         string `json:"id"`
		ReserveUSD string `json:"reserveUSD"`
		VolumeUSD  string `json:"volumeUSD"`
		Token0     struct {
			ID     string `json:"id"`
			Symbol string `json:"symbol"`
		} `json:"token0"`
		Token1 struct {
			ID     string `json:"id"`
			Symbol string `json:"symbol"`
		} `json:"token1"`
	}

	// PoolsAggregator paginates the indexer's pair table.
	PoolsAggregator struct {
		indexer *graph.Client
		cache   *cache.Cache
		ttl     time.Duration
		logger  *log.Logger
		state   fallback[PoolList]
	}
)

// NewPoolsAggregator returns an aggregator over indexer.
func NewPoolsAggregator(indexer *graph.Client, c *cache.Cache, opts ...Option) *PoolsAggregator {
	o := configureOptions(opts, 10*time.Minute)

	return &PoolsAggregator{
		indexer: indexer,
		cache:   c,
		ttl:     o.ttl,
		logger:  o.logger,
	}
}

// TTL returns the aggregator's refresh TTL.
func (a *PoolsAggregator) TTL() time.Duration {
	return a.ttl
}

// Fetch returns the current pool list, cache-fronted.
func (a *PoolsAggregator) Fetch(ctx context.Context) (PoolList, error) {
	return cache.GetOrCompute(ctx, a.cache, "pools", nil, a.ttl, a.refresh)
}

func (a *PoolsAggregator) refresh(ctx context.Context) (PoolList, error) {
	rows, err := graph.Paginate(ctx, a.fetchPage)
	if err == nil && len(rows) == 0 {
		// An indexer mid-resync answers 200 with zero rows.
		err = fmt.Errorf("pair query returned no rows")
	}
	if err != nil {
		a.logger.WarnCtx(ctx, "cannot refresh pool list", log.Error(err))

		if v, ok := a.state.last(); ok {
			return v, nil
		}

		return PoolList{}, fmt.Errorf("cannot aggregate pools: %w", err)
	}

	pools := make([]Pool, 0, len(rows))
	for _, row := range rows {
		pool, ok := buildPool(row)
		if !ok {
			continue
		}

		pools = append(pools, pool)
	}

	list := PoolList{
		Timestamp: time.Now().UTC(),
		Pools:     pools,
	}
	a.state.publish(list)

	return list, nil
}

func (a *PoolsAggregator) fetchPage(ctx context.Context, first, skip int) ([]poolRow, error) {
	var out struct {
		Pairs []poolRow `json:"pairs"`
	}

	err := a.indexer.Query(
		ctx,
		poolsQuery,
		map[string]any{"first": first, "skip": skip},
		&out,
	)
	if err != nil {
		return nil, err
	}

	return out.Pairs, nil
}

func buildPool(row poolRow) (Pool, bool) {
	if !isAddress(row.ID) || !isAddress(row.Token0.ID) || !isAddress(row.Token1.ID) {
		return Pool{}, false
	}

	if !isFiniteNumber(row.ReserveUSD) || !isFiniteNumber(row.VolumeUSD) {
		return Pool{}, false
	}

	return Pool{
		ID: row.ID,
		Token0: PoolToken{
			Address: row.Token0.ID,
			Symbol:  row.Token0.Symbol,
		},
		Token1: PoolToken{
			Address: row.Token1.ID,
			Symbol:  row.Token1.Symbol,
		},
		ReserveUSD: row.ReserveUSD,
		VolumeUSD:  row.VolumeUSD,
	}, true
}
