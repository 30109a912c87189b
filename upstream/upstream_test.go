package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dexgate/dexgate/cache"
	"github.com/dexgate/dexgate/kv"
	"github.com/dexgate/dexgate/upstream/graph"
)

type (
	stubFeed struct {
		value float64
		err   error
	}

	stubLogos struct {
		logos map[string]string
		err   error
	}
)

func (f *stubFeed) LatestPrice(ctx context.Context) (float64, error) {
	return f.value, f.err
}

func (s *stubLogos) Logos(ctx context.Context) (map[string]string, error) {
	return s.logos, s.err
}

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()

	return cache.New(
		cache.NewKVStore(kv.NewMemoryStore()),
		cache.WithRegisterer(prometheus.NewRegistry()),
	)
}

// newIndexerServer answers tokens, pairs, bundle and factory queries
// from the given fixtures. A nil fixture makes the matching query
// fail.
func newIndexerServer(t *testing.T, fixtures map[string]string) (*httptest.Server, *atomic.Int64) {
	t.Helper()

	var calls atomic.Int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)

		var req struct {
			Query string `json:"query"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		for marker, body := range fixtures {
			if strings.Contains(req.Query, marker) {
				if body == "" {
					w.WriteHeader(http.StatusBadGateway)
					return
				}

				fmt.Fprintf(w, `{"data":%s}`, body)
				return
			}
		}

		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	return srv, &calls
}

func TestPriceAggregator_NoFeedDefault(t *testing.T) {
	a := NewPriceAggregator(nil, newTestCache(t))

	p, err := a.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "3000", p.EthPriceUSD)
}

func TestPriceAggregator_FormatsFeedValue(t *testing.T) {
	a := NewPriceAggregator(&stubFeed{value: 2}, newTestCache(t))

	p, err := a.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2", p.EthPriceUSD)
}

func TestPriceAggregator_FallbackAfterFailure(t *testing.T) {
	feed := &stubFeed{value: 1875.42}
	a := NewPriceAggregator(feed, newTestCache(t))

	p, err := a.refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, "1875.42", p.EthPriceUSD)

	feed.err = errors.New("oracle unreachable")

	p, err = a.refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1875.42", p.EthPriceUSD)
}

func TestPriceAggregator_DefaultWhenNoPriorValue(t *testing.T) {
	a := NewPriceAggregator(&stubFeed{err: errors.New("oracle unreachable")}, newTestCache(t))

	p, err := a.refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "3000", p.EthPriceUSD)
}

func TestTokensAggregator_DropsMalformedRows(t *testing.T) {
	srv, _ := newIndexerServer(t, map[string]string{
		"tokens": `{"tokens":[
			{"id":"0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2","symbol":"WETH","name":"Wrapped Ether","decimals":"18"},
			{"id":"0x123","symbol":"BAD","name":"Malformed","decimals":"18"},
			{"id":"0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48","symbol":"USDC","name":"USD Coin","decimals":"not-a-number"}
		]}`,
	})

	a := NewTokensAggregator(graph.NewClient(srv.URL), nil, 1, newTestCache(t))

	list, err := a.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, list.Tokens, 1)
	assert.Equal(t, "WETH", list.Tokens[0].Symbol)
	assert.Equal(t, 1, list.Tokens[0].ChainID)
	assert.Equal(t, 18, list.Tokens[0].Decimals)
}

func TestTokensAggregator_LogoEnrichment(t *testing.T) {
	srv, _ := newIndexerServer(t, map[string]string{
		"tokens": `{"tokens":[
			{"id":"0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2","symbol":"WETH","name":"Wrapped Ether","decimals":"18"},
			{"id":"0x1f9840a85d5af5bf1d1762f925bdaddc4201f984","symbol":"UNI","name":"Uniswap","decimals":"18"}
		]}`,
	})

	logos := &stubLogos{logos: map[string]string{
		"0x1F9840a85d5aF5bf1D1762F925BDADdC4201F984": "https://cdn.example.com/uni.png",
	}}

	a := NewTokensAggregator(graph.NewClient(srv.URL), logos, 1, newTestCache(t))

	list, err := a.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, list.Tokens, 2)

	// The known-token table wins for WETH; the secondary source
	// fills in UNI by lowercased address.
	assert.Equal(t, knownLogos["0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"], list.Tokens[0].LogoURI)
	assert.Equal(t, "https://cdn.example.com/uni.png", list.Tokens[1].LogoURI)
}

func TestTokensAggregator_LogoFailureIsBestEffort(t *testing.T) {
	srv, _ := newIndexerServer(t, map[string]string{
		"tokens": `{"tokens":[
			{"id":"0x1f9840a85d5af5bf1d1762f925bdaddc4201f984","symbol":"UNI","name":"Uniswap","decimals":"18"}
		]}`,
	})

	logos := &stubLogos{err: errors.New("metadata source down")}

	a := NewTokensAggregator(graph.NewClient(srv.URL), logos, 1, newTestCache(t))

	list, err := a.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, list.Tokens, 1)
	assert.Empty(t, list.Tokens[0].LogoURI)
}

func TestTokensAggregator_FallbackAfterFailure(t *testing.T) {
	fixtures := map[string]string{
		"tokens": `{"tokens":[
			{"id":"0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2","symbol":"WETH","name":"Wrapped Ether","decimals":"18"}
		]}`,
	}
	srv, _ := newIndexerServer(t, fixtures)

	a := NewTokensAggregator(graph.NewClient(srv.URL), nil, 1, newTestCache(t))

	first, err := a.refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, first.Tokens, 1)

	fixtures["tokens"] = ""

	second, err := a.refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.Tokens, second.Tokens)
}

func TestTokensAggregator_TerminalErrorWithoutPriorValue(t *testing.T) {
	srv, _ := newIndexerServer(t, map[string]string{"tokens": ""})

	a := NewTokensAggregator(graph.NewClient(srv.URL), nil, 1, newTestCache(t))

	_, err := a.Fetch(context.Background())
	assert.Error(t, err)
}

func TestTokensAggregator_EmptyResultServesLastGood(t *testing.T) {
	fixtures := map[string]string{
		"tokens": `{"tokens":[
			{"id":"0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2","symbol":"WETH","name":"Wrapped Ether","decimals":"18"}
		]}`,
	}
	srv, _ := newIndexerServer(t, fixtures)

	a := NewTokensAggregator(graph.NewClient(srv.URL), nil, 1, newTestCache(t))

	first, err := a.refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, first.Tokens, 1)

	// A drained indexer answers 200 with zero rows; the last
	// published list must survive it.
	fixtures["tokens"] = `{"tokens":[]}`

	second, err := a.refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.Tokens, second.Tokens)
}

func TestTokensAggregator_EmptyResultWithoutPriorValue(t *testing.T) {
	srv, _ := newIndexerServer(t, map[string]string{"tokens": `{"tokens":[]}`})

	a := NewTokensAggregator(graph.NewClient(srv.URL), nil, 1, newTestCache(t))

	_, err := a.Fetch(context.Background())
	assert.Error(t, err)
}

func TestPoolsAggregator_DropsNonFiniteRows(t *testing.T) {
	srv, _ := newIndexerServer(t, map[string]string{
		"pairs": `{"pairs":[
			{
				"id":"0xb4e16d0168e52d35cacd2c6185b44281ec28c9dc",
				"reserveUSD":"125000000.5","volumeUSD":"42.0",
				"token0":{"id":"0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48","symbol":"USDC"},
				"token1":{"id":"0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2","symbol":"WETH"}
			},
			{
				"id":"0x0d4a11d5eeaac28ec3f61d100daf4d40471f1852",
				"reserveUSD":"NaN","volumeUSD":"42.0",
				"token0":{"id":"0xdac17f958d2ee523a2206206994597c13d831ec7","symbol":"USDT"},
				"token1":{"id":"0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2","symbol":"WETH"}
			}
		]}`,
	})

	a := NewPoolsAggregator(graph.NewClient(srv.URL), newTestCache(t))

	list, err := a.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, list.Pools, 1)
	assert.Equal(t, "USDC", list.Pools[0].Token0.Symbol)
}

func TestPoolsAggregator_EmptyResultServesLastGood(t *testing.T) {
	fixtures := map[string]string{
		"pairs": `{"pairs":[
			{
				"id":"0xb4e16d0168e52d35cacd2c6185b44281ec28c9dc",
				"reserveUSD":"125000000.5","volumeUSD":"42.0",
				"token0":{"id":"0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48","symbol":"USDC"},
				"token1":{"id":"0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2","symbol":"WETH"}
			}
		]}`,
	}
	srv, _ := newIndexerServer(t, fixtures)

	a := NewPoolsAggregator(graph.NewClient(srv.URL), newTestCache(t))

	first, err := a.refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, first.Pools, 1)

	fixtures["pairs"] = `{"pairs":[]}`

	second, err := a.refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.Pools, second.Pools)
}

func TestPoolsAggregator_EmptyResultWithoutPriorValue(t *testing.T) {
	srv, _ := newIndexerServer(t, map[string]string{"pairs": `{"pairs":[]}`})

	a := NewPoolsAggregator(graph.NewClient(srv.URL), newTestCache(t))

	_, err := a.Fetch(context.Background())
	assert.Error(t, err)
}

func TestStatsAggregator_MergesQueries(t *testing.T) {
	srv, _ := newIndexerServer(t, map[string]string{
		"bundles":          `{"bundles":[{"ethPrice":"1875.42"}]}`,
		"uniswapFactories": `{"uniswapFactories":[{"totalVolumeUSD":"9000000","totalLiquidityUSD":"4000000","txCount":"123456","pairCount":2841}]}`,
		"pairs": `{"pairs":[
			{
				"id":"0xb4e16d0168e52d35cacd2c6185b44281ec28c9dc",
				"reserveUSD":"125000000.5","volumeUSD":"42.0",
				"token0":{"id":"0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48","symbol":"USDC"},
				"token1":{"id":"0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2","symbol":"WETH"}
			}
		]}`,
	})

	indexer := graph.NewClient(srv.URL)
	c := newTestCache(t)
	pools := NewPoolsAggregator(indexer, c)
	a := NewStatsAggregator(indexer, pools, c)

	stats, err := a.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1875.42", stats.EthPriceUSD)
	assert.Equal(t, "9000000", stats.TotalVolumeUSD)
	assert.Equal(t, "123456", stats.TxCount)
	assert.Equal(t, 2841, stats.PairCount)
	assert.Equal(t, 1, stats.PoolCount)
}

func TestStatsAggregator_FallbackAfterFailure(t *testing.T) {
	fixtures := map[string]string{
		"bundles":          `{"bundles":[{"ethPrice":"1875.42"}]}`,
		"uniswapFactories": `{"uniswapFactories":[{"totalVolumeUSD":"9000000","totalLiquidityUSD":"4000000","txCount":"123456","pairCount":2841}]}`,
		"pairs": `{"pairs":[
			{
				"id":"0xb4e16d0168e52d35cacd2c6185b44281ec28c9dc",
				"reserveUSD":"125000000.5","volumeUSD":"42.0",
				"token0":{"id":"0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48","symbol":"USDC"},
				"token1":{"id":"0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2","symbol":"WETH"}
			}
		]}`,
	}
	srv, _ := newIndexerServer(t, fixtures)

	indexer := graph.NewClient(srv.URL)
	c := newTestCache(t)
	pools := NewPoolsAggregator(indexer, c)
	a := NewStatsAggregator(indexer, pools, c)

	first, err := a.refresh(context.Background())
	require.NoError(t, err)

	fixtures["bundles"] = ""

	second, err := a.refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.EthPriceUSD, second.EthPriceUSD)
}

func TestFetch_CacheShieldsUpstream(t *testing.T) {
	srv, calls := newIndexerServer(t, map[string]string{
		"tokens": `{"tokens":[
			{"id":"0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2","symbol":"WETH","name":"Wrapped Ether","decimals":"18"}
		]}`,
	})

	a := NewTokensAggregator(graph.NewClient(srv.URL), nil, 1, newTestCache(t))

	_, err := a.Fetch(context.Background())
	require.NoError(t, err)
	_, err = a.Fetch(context.Background())
	require.NoError(t, err)

	assert.EqualValues(t, 1, calls.Load())
}

func TestIsAddress(t *testing.T) {
	assert.True(t, isAddress("0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"))
	assert.False(t, isAddress("0x123"))
	assert.False(t, isAddress("c02aaa39b223fe8d0a0e5c4f27ead9083c756cc200"))
	assert.False(t, isAddress("0xz02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"))
}
