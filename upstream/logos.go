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
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dexgate/dexgate/httpclient"
)

// knownLogos maps lowercased token addresses to logo URIs for tokens
// common enough that waiting on the metadata source is not worth it.
var knownLogos = map[string]string{
	// WETH
	"0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2": "https://raw.githubusercontent.com/trustwallet/assets/master/blockchains/ethereum/assets/0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2/logo.png",
	// USDC
	"0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48": "https://raw.githubusercontent.com/trustwallet/assets/master/blockchains/ethereum/assets/0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48/logo.png",
	// USDT
	"0xdac17f958d2ee523a2206206994597c13d831ec7": "https://raw.githubusercontent.com/trustwallet/assets/master/blockchains/ethereum/assets/0xdAC17F958D2ee523a2206206994597C13D831ec7/logo.png",
	// DAI
	"0x6b175474e89094c44da98b954eedeac495271d0f": "https://raw.githubusercontent.com/trustwallet/assets/master/blockchains/ethereum/assets/0x6B175474E89094C44Da98b954EedeAC495271d0F/logo.png",
	// WBTC
	"0x2260fac5e5542a773aa44fbcfedf7c193bc2c599": "https://raw.githubusercontent.com/trustwallet/assets/master/blockchains/ethereum/assets/0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599/logo.png",
}

type (
	// TokenListClient fetches logos from an external token list
	// document.
	TokenListClient struct {
		url string
		hc  *http.Client
	}
)

// NewTokenListClient returns a LogoSource reading the token list
// document at url.
func NewTokenListClient(url string) *TokenListClient {
	return &TokenListClient{
		url: url,
		hc: httpclient.DefaultPooledClient(
			httpclient.WithTimeout(10 * time.Second),
		),
	}
}

// Logos downloads the token list and indexes logo URIs by lowercased
// address.
func (c *TokenListClient) Logos(ctx context.Context) (map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("cannot create token list request: %w", err)
	}

	res, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cannot fetch token list: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token list endpoint returned %d status code", res.StatusCode)
	}

	var doc struct {
		Tokens []struct {
			Address string `json:"address"`
			LogoURI string `json:"logoURI"`
		} `json:"tokens"`
	}
	if err := json.NewDecoder(res.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("cannot decode token list: %w", err)
	}

	logos := make(map[string]string, len(doc.Tokens))
	for _, t := range doc.Tokens {
		if t.LogoURI == "" {
			continue
		}

		logos[strings.ToLower(t.Address)] = t.LogoURI
	}

	return logos, nil
}
