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

// Command dexgated is the edge gateway fronting the DEX frontend's
// read-only data: oracle price, token and pool lists, and protocol
// stats, with per-client rate limiting and short-TTL caching.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"

	"github.com/dexgate/dexgate/cache"
	"github.com/dexgate/dexgate/gateway"
	"github.com/dexgate/dexgate/httpserver"
	"github.com/dexgate/dexgate/internal/version"
	"github.com/dexgate/dexgate/kv"
	"github.com/dexgate/dexgate/log"
	"github.com/dexgate/dexgate/migrator"
	"github.com/dexgate/dexgate/pg"
	"github.com/dexgate/dexgate/ratelimit"
	"github.com/dexgate/dexgate/unit"
	"github.com/dexgate/dexgate/upstream"
	"github.com/dexgate/dexgate/upstream/graph"
	"github.com/dexgate/dexgate/upstream/rpc"
)

// Mainnet Chainlink ETH/USD aggregator.
const defaultOracleAddress = "0x5f4ec3df9cbd43714fe2740f5e3616155c5b8419"

type (
	service struct {
		config *config
	}

	config struct {
		ListenAddr string `json:"listen-addr"`

		RPCURL        string `json:"rpc-url"`
		OracleAddress string `json:"oracle-address"`
		SubgraphURL   string `json:"subgraph-url"`
		TokenListURL  string `json:"token-list-url"`
		ChainID       int    `json:"chain-id"`

		Redis    redisConfig    `json:"redis"`
		Postgres postgresConfig `json:"postgres"`

		RateLimit rateLimitConfig `json:"rate-limit"`
		Cache     cacheConfig     `json:"cache"`
		TTL       ttlConfig       `json:"ttl"`
	}

	redisConfig struct {
		Addr     string `json:"addr"`
		Password string `json:"password"`
		DB       int    `json:"db"`
	}

	postgresConfig struct {
		Addr     string `json:"addr"`
		User     string `json:"user"`
		Password string `json:"password"`
		Database string `json:"database"`
	}

	rateLimitConfig struct {
		Quota         int    `json:"quota"`
		WindowSeconds int    `json:"window-seconds"`
		FailurePolicy string `json:"failure-policy"`
	}

	cacheConfig struct {
		// Backend is "fs", "store" or "memory". "store" shares
		// the rate limiter's key-value store.
		Backend string `json:"backend"`
		Dir     string `json:"dir"`
	}

	ttlConfig struct {
		PriceSeconds  int `json:"price-seconds"`
		TokensSeconds int `json:"tokens-seconds"`
		PoolsSeconds  int `json:"pools-seconds"`
		StatsSeconds  int `json:"stats-seconds"`
	}
)

func main() {
	svc := &service{
		config: &config{
			ListenAddr:    ":8080",
			OracleAddress: defaultOracleAddress,
			ChainID:       1,
			RateLimit: rateLimitConfig{
				Quota:         120,
				WindowSeconds: 60,
				FailurePolicy: "open",
			},
			Cache: cacheConfig{
				Backend: "memory",
				Dir:     "cache",
			},
			TTL: ttlConfig{
				PriceSeconds:  15,
				TokensSeconds: 600,
				PoolsSeconds:  600,
				StatsSeconds:  60,
			},
		},
	}

	u := unit.NewUnit("dexgated", version.New(0).Alpha(1), os.Getenv("DEXGATE_ENV"), svc)
	if err := u.Run(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func (s *service) GetConfiguration() any {
	return s.config
}

func (s *service) Run(
	ctx context.Context,
	logger *log.Logger,
	registerer prometheus.Registerer,
	tracerProvider trace.TracerProvider,
) error {
	cfg := s.config

	if cfg.SubgraphURL == "" {
		return fmt.Errorf("missing required setting %q", "subgraph-url")
	}

	if cfg.RateLimit.WindowSeconds <= 0 {
		return fmt.Errorf("invalid setting %q: must be positive", "rate-limit.window-seconds")
	}
	window := time.Duration(cfg.RateLimit.WindowSeconds) * time.Second

	store, err := s.buildStore(ctx, logger, registerer, window)
	if err != nil {
		return err
	}

	var limiter *ratelimit.Limiter
	if store != nil {
		policy := ratelimit.FailOpen
		switch cfg.RateLimit.FailurePolicy {
		case "open", "":
		case "closed":
			policy = ratelimit.FailClosed
		default:
			return fmt.Errorf("unknown failure policy %q", cfg.RateLimit.FailurePolicy)
		}

		// Cleanup keeps two intervals of history, so one interval
		// per window preserves the previous bucket of any
		// in-flight sliding window calculation.
		limiter = ratelimit.NewLimiter(
			store,
			ratelimit.WithLogger(logger),
			ratelimit.WithRegisterer(registerer),
			ratelimit.WithTracerProvider(tracerProvider),
			ratelimit.WithFailurePolicy(policy),
			ratelimit.WithCleanupInterval(window),
		)
		limiter.StartCleanup(ctx)
	} else {
		logger.Warn("no shared store configured, rate limiting disabled")
	}

	cacheStore, err := s.buildCacheStore(store)
	if err != nil {
		return err
	}

	c := cache.New(
		cacheStore,
		cache.WithLogger(logger),
		cache.WithRegisterer(registerer),
	)

	var feed upstream.PriceSource
	if cfg.RPCURL != "" {
		feed = rpc.NewPriceFeed(
			rpc.NewClient(cfg.RPCURL, rpc.WithLogger(logger)),
			cfg.OracleAddress,
		)
	} else {
		logger.Warn("no rpc endpoint configured, price feed uses default value")
	}

	indexer := graph.NewClient(cfg.SubgraphURL, graph.WithLogger(logger))

	var logos upstream.LogoSource
	if cfg.TokenListURL != "" {
		logos = upstream.NewTokenListClient(cfg.TokenListURL)
	}

	var (
		price = upstream.NewPriceAggregator(
			feed,
			c,
			upstream.WithLogger(logger),
			upstream.WithTTL(time.Duration(cfg.TTL.PriceSeconds)*time.Second),
		)
		tokens = upstream.NewTokensAggregator(
			indexer,
			logos,
			cfg.ChainID,
			c,
			upstream.WithLogger(logger),
			upstream.WithTTL(time.Duration(cfg.TTL.TokensSeconds)*time.Second),
		)
		pools = upstream.NewPoolsAggregator(
			indexer,
			c,
			upstream.WithLogger(logger),
			upstream.WithTTL(time.Duration(cfg.TTL.PoolsSeconds)*time.Second),
		)
		stats = upstream.NewStatsAggregator(
			indexer,
			pools,
			c,
			upstream.WithLogger(logger),
			upstream.WithTTL(time.Duration(cfg.TTL.StatsSeconds)*time.Second),
		)
	)

	mw := gateway.NewRateLimitMiddleware(
		limiter,
		ratelimit.Rate{
			Limit:  cfg.RateLimit.Quota,
			Window: window,
		},
		gateway.WithMiddlewareLogger(logger),
	)

	router := gateway.NewRouter(
		mw,
		[]gateway.Resource{
			{
				Pattern: "/api/price",
				TTL:     price.TTL(),
				Fetch: func(ctx context.Context) (any, error) {
					return price.Fetch(ctx)
				},
			},
			{
				Pattern: "/api/tokens",
				TTL:     tokens.TTL(),
				Fetch: func(ctx context.Context) (any, error) {
					return tokens.Fetch(ctx)
				},
			},
			{
				Pattern: "/api/pools",
				TTL:     pools.TTL(),
				Fetch: func(ctx context.Context) (any, error) {
					return pools.Fetch(ctx)
				},
			},
			{
				Pattern: "/api/stats",
				TTL:     stats.TTL(),
				Fetch: func(ctx context.Context) (any, error) {
					return stats.Fetch(ctx)
				},
			},
		},
		gateway.WithRouterLogger(logger),
	)

	server := httpserver.NewServer(
		cfg.ListenAddr,
		router,
		httpserver.WithLogger(logger),
		httpserver.WithRegisterer(registerer),
		httpserver.WithTracerProvider(tracerProvider),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", log.String("addr", cfg.ListenAddr))

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("cannot serve http requests: %w", err)
		}
		close(serverErrCh)
	}()

	select {
	case err := <-serverErrCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("cannot shutdown http server: %w", err)
	}

	return nil
}

// buildStore selects the shared key-value store backing the limiter.
// Redis wins when both are configured; nil means no store.
func (s *service) buildStore(
	ctx context.Context,
	logger *log.Logger,
	registerer prometheus.Registerer,
	window time.Duration,
) (kv.Store, error) {
	cfg := s.config

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("cannot connect to redis at %q: %w", cfg.Redis.Addr, err)
		}

		// Counter keys must outlive both buckets of the sliding
		// window or counts silently reset mid-window.
		return kv.NewRedisStore(rdb, kv.WithWindowRetention(2*window)), nil
	}

	if cfg.Postgres.Addr != "" {
		client, err := pg.NewClient(
			pg.WithLogger(logger),
			pg.WithAddr(cfg.Postgres.Addr),
			pg.WithUser(cfg.Postgres.User),
			pg.WithPassword(cfg.Postgres.Password),
			pg.WithDatabase(cfg.Postgres.Database),
			pg.WithRegisterer(registerer),
		)
		if err != nil {
			return nil, fmt.Errorf("cannot create postgres client: %w", err)
		}

		store, err := kv.NewPGStore(ctx, client, migrator.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("cannot initialize postgres store: %w", err)
		}

		return store, nil
	}

	return nil, nil
}

func (s *service) buildCacheStore(store kv.Store) (cache.Store, error) {
	cfg := s.config

	switch cfg.Cache.Backend {
	case "fs":
		fs, err := cache.NewFSStore(cfg.Cache.Dir)
		if err != nil {
			return nil, fmt.Errorf("cannot create cache directory %q: %w", cfg.Cache.Dir, err)
		}

		return fs, nil
	case "store":
		if store == nil {
			return nil, fmt.Errorf("cache backend %q requires redis or postgres", "store")
		}

		return cache.NewKVStore(store), nil
	case "memory", "":
		return cache.NewKVStore(kv.NewMemoryStore()), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}
