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
	"strconv"
	"strings"
	"time"

	"github.com/dexgate/dexgate/cache"
	"github.com/dexgate/dexgate/log"
	"github.com/dexgate/dexgate/upstream/graph"
)

const tokensQuery = `
query tokens($first: Int!, $skip: Int!) {
  tokens(first: $first, skip: $skip, orderBy: txCount, orderDirection: desc) {
    id
    symbol
    name
    decimals
  }
}`

type (
	// Token is one entry of the gateway's token list resource.
	Token struct {
		ChainID  int    `json:"chainId"`
		Address  string `json:"address"`
		Symbol   string `json:"symbol"`
		Name     string `json:"name"`
		Decimals int    `json:"decimals"`
		LogoURI  string `json:"logoURI,omitempty"`
	}

	// ListVersion is the token list's semantic version.
	ListVersion struct {
		Major int `json:"major"`
		Minor int `json:"minor"`
		Patch int `json:"patch"`
	}

	// TokenList is the gateway's token list resource.
	TokenList struct {
		Name      string      `json:"name"`
		Timestamp time.Time   `json:"timestamp"`
		Version   ListVersion `json:"version"`
		Tokens    []Token     `json:"tokens"`
	}

	// LogoSource provides best-effort logo enrichment, keyed by
	// lowercased token address.
	LogoSource interface {
		Logos(ctx context.Context) (map[string]string, error)
	}

	tokenRow struct {
		ID       string `json:"id"`
		Symbol   string `json:"symbol"`
		Name     string `json:"name"`
		Decimals string `json:"decimals"`
	}

	// TokensAggregator paginates the indexer's token table and
	// enriches rows with logos.
	TokensAggregator struct {
		indexer *graph.Client
		logos   LogoSource
		chainID int
		cache   *cache.Cache
		ttl     time.Duration
		logger  *log.Logger
		state   fallback[TokenList]
	}
)

// NewTokensAggregator returns an aggregator over indexer. logos may
// be nil; enrichment then only uses the built-in known-token table.
func NewTokensAggregator(
	indexer *graph.Client,
	logos LogoSource,
	chainID int,
	c *cache.Cache,
	opts ...Option,
) *TokensAggregator {
	o := configureOptions(opts, 10*time.Minute)

	return &TokensAggregator{
		indexer: indexer,
		logos:   logos,
		chainID: chainID,
		cache:   c,
		ttl:     o.ttl,
		logger:  o.logger,
	}
}

// TTL returns the aggregator's refresh TTL.
func (a *TokensAggregator) TTL() time.Duration {
	return a.ttl
}

// Fetch returns the current token list, cache-fronted.
func (a *TokensAggregator) Fetch(ctx context.Context) (TokenList, error) {
	return cache.GetOrCompute(ctx, a.cache, "tokens", nil, a.ttl, a.refresh)
}

func (a *TokensAggregator) refresh(ctx context.Context) (TokenList, error) {
	rows, err := graph.Paginate(ctx, a.fetchPage)
	if err == nil && len(rows) == 0 {
		// An indexer mid-resync answers 200 with zero rows.
		err = fmt.Errorf("token query returned no rows")
	}
	if err != nil {
		a.logger.WarnCtx(ctx, "cannot refresh token list", log.Error(err))

		if v, ok := a.state.last(); ok {
			return v, nil
		}

		return TokenList{}, fmt.Errorf("cannot aggregate tokens: %w", err)
	}

	logos := a.fetchLogos(ctx)

	tokens := make([]Token, 0, len(rows))
	for _, row := range rows {
		token, ok := a.buildToken(row, logos)
		if !ok {
			continue
		}

		tokens = append(tokens, token)
	}

	list := TokenList{
		Name:      "dexgate",
		Timestamp: time.Now().UTC(),
		Version:   ListVersion{Major: 1},
		Tokens:    tokens,
	}
	a.state.publish(list)

	return list, nil
}

func (a *TokensAggregator) fetchPage(ctx context.Context, first, skip int) ([]tokenRow, error) {
	var out struct {
		Tokens []tokenRow `json:"tokens"`
	}

	err := a.indexer.Query(
		ctx,
		tokensQuery,
		map[string]any{"first": first, "skip": skip},
		&out,
	)
	if err != nil {
		return nil, err
	}

	return out.Tokens, nil
}

// fetchLogos merges the built-in known-token table with the secondary
// metadata source. The secondary source is best-effort; its failure
// contributes no entries.
func (a *TokensAggregator) fetchLogos(ctx context.Context) map[string]string {
	logos := make(map[string]string, len(knownLogos))
	for addr, uri := range knownLogos {
		logos[addr] = uri
	}

	if a.logos == nil {
		return logos
	}

	secondary, err := a.logos.Logos(ctx)
	if err != nil {
		a.logger.WarnCtx(ctx, "cannot fetch token logos", log.Error(err))
		return logos
	}

	for addr, uri := range secondary {
		addr = strings.ToLower(addr)
		if _, ok := logos[addr]; !ok {
			logos[addr] = uri
		}
	}

	return logos
}

// buildToken validates one indexer row. Malformed rows are dropped
// rather than failing the batch.
func (a *TokensAggregator) buildToken(row tokenRow, logos map[string]string) (Token, bool) {
	if !isAddress(row.ID) {
		return Token{}, false
	}

	decimals, err := strconv.Atoi(row.Decimals)
	if err != nil || decimals < 0 || decimals > 255 {
		return Token{}, false
	}

	return Token{
		ChainID:  a.chainID,
		Address:  row.ID,
		Symbol:   row.Symbol,
		Name:     row.Name,
		Decimals: decimals,
		LogoURI:  logos[strings.ToLower(row.ID)],
	}, true
}
