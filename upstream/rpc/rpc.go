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

// Package rpc is a minimal JSON-RPC client for read-only contract
// calls against an Ethereum node.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/dexgate/dexgate/httpclient"
	"github.com/dexgate/dexgate/log"
)

type (
	// Option is a function that configures the Client during
	// initialization.
	Option func(c *Client)

	// Client issues eth_call requests against a single JSON-RPC
	// endpoint.
	Client struct {
		endpoint string
		hc       *http.Client
		logger   *log.Logger
	}

	rpcRequest struct {
		JSONRPC string `json:"jsonrpc"`
		ID      int    `json:"id"`
		Method  string `json:"method"`
		Params  []any  `json:"params"`
	}

	rpcError struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}

	rpcResponse struct {
		Result string    `json:"result"`
		Error  *rpcError `json:"error"`
	}

	callParams struct {
		To   string `json:"to"`
		Data string `json:"data"`
	}
)

// WithLogger sets a custom logger for the client.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) {
		c.logger = l.Named("upstream.rpc")
	}
}

// WithHTTPClient sets the underlying HTTP client. The default is a
// pooled telemetry client with a short timeout suited to interactive
// lookups.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.hc = hc
	}
}

// NewClient returns a JSON-RPC client bound to endpoint.
func NewClient(endpoint string, options ...Option) *Client {
	c := &Client{
		endpoint: endpoint,
		hc: httpclient.DefaultPooledClient(
			httpclient.WithTimeout(5 * time.Second),
		),
		logger: log.NewLogger(log.WithOutput(io.Discard)),
	}

	for _, o := range options {
		o(c)
	}

	return c
}

// Call performs a read-only eth_call against the contract at to with
// the given ABI-encoded calldata, at the latest block. It returns the
// raw hex-encoded return value.
func (c *Client) Call(ctx context.Context, to, data string) (string, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "eth_call",
		Params: []any{
			callParams{To: to, Data: data},
			"latest",
		},
	})
	if err != nil {
		return "", fmt.Errorf("cannot marshal rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.endpoint,
		bytes.NewReader(body),
	)
	if err != nil {
		return "", fmt.Errorf("cannot create rpc request: %w", err)
	}
	req.Header.Set("content-type", "application/json")

	res, err := c.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("cannot execute rpc request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("rpc endpoint returned %d status code", res.StatusCode)
	}

	var r rpcResponse
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		return "", fmt.Errorf("cannot decode rpc response: %w", err)
	}

	if r.Error != nil {
		return "", fmt.Errorf("rpc error %d: %s", r.Error.Code, r.Error.Message)
	}

	if r.Result == "" || r.Result == "0x" {
		return "", fmt.Errorf("rpc call returned empty result")
	}

	return r.Result, nil
}

// parseHexUint decodes a hex-encoded return value into an unsigned
// big integer.
func parseHexUint(s string) (*big.Int, error) {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return nil, fmt.Errorf("cannot parse empty hex value")
	}

	n, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return nil, fmt.Errorf("cannot parse hex value %q", s)
	}

	return n, nil
}
