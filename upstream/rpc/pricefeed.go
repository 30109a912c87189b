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

package rpc

import (
	"context"
	"fmt"
	"math/big"

	"golang.org/x/sync/errgroup"
)

// Function selectors of the oracle's latestAnswer() and decimals()
// accessors.
const (
	selectorLatestAnswer = "0x50d25bcd"
	selectorDecimals     = "0x313ce567"
)

type (
	// PriceFeed reads a fixed-point price from an on-chain oracle
	// contract.
	PriceFeed struct {
		client *Client
		oracle string
	}
)

// NewPriceFeed returns a feed reading from the oracle contract at the
// given address through client.
func NewPriceFeed(client *Client, oracle string) *PriceFeed {
	return &PriceFeed{
		client: client,
		oracle: oracle,
	}
}

// LatestPrice fetches the oracle's latest answer and its decimal
// count concurrently and returns answer / 10^decimals.
func (f *PriceFeed) LatestPrice(ctx context.Context) (float64, error) {
	var (
		answer   *big.Int
		decimals *big.Int
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		raw, err := f.client.Call(ctx, f.oracle, selectorLatestAnswer)
		if err != nil {
			return fmt.Errorf("cannot fetch latest answer: %w", err)
		}

		answer, err = parseHexUint(raw)
		if err != nil {
			return fmt.Errorf("cannot parse latest answer: %w", err)
		}

		return nil
	})
	g.Go(func() error {
		raw, err := f.client.Call(ctx, f.oracle, selectorDecimals)
		if err != nil {
			return fmt.Errorf("cannot fetch decimals: %w", err)
		}

		decimals, err = parseHexUint(raw)
		if err != nil {
			return fmt.Errorf("cannot parse decimals: %w", err)
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		return 0, err
	}

	if answer.Sign() == 0 {
		return 0, fmt.Errorf("oracle returned zero answer")
	}

	scale := new(big.Int).Exp(
		big.NewInt(10),
		decimals,
		nil,
	)

	value, _ := new(big.Float).Quo(
		new(big.Float).SetInt(answer),
		new(big.Float).SetInt(scale),
	).Float64()

	return value, nil
}
