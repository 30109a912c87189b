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

// Package graph is a GraphQL client for the indexer, with a paginated
// fetch helper bounded by a hard row cap.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dexgate/dexgate/httpclient"
	"github.com/dexgate/dexgate/log"
)

const (
	// PageSize is the number of rows requested per page.
	PageSize = 1000

	// MaxRows bounds the total rows fetched in one run, so a
	// misbehaving indexer cannot drive an unbounded loop.
	MaxRows = 10000
)

type (
	// Option is a function that configures the Client during
	// initialization.
	Option func(c *Client)

	// Client issues GraphQL queries against a single endpoint.
	Client struct {
		endpoint string
		hc       *http.Client
		logger   *log.Logger
	}

	graphQLRequest struct {
		Query     string         `json:"query"`
		Variables map[string]any `json:"variables,omitempty"`
	}

	graphQLError struct {
		Message string `json:"message"`
	}

	graphQLResponse struct {
		Data   json.RawMessage `json:"data"`
		Errors []graphQLError  `json:"errors"`
	}
)

// WithLogger sets a custom logger for the client.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) {
		c.logger = l.Named("upstream.graph")
	}
}

// WithHTTPClient sets the underlying HTTP client. The default is a
// pooled telemetry client with a timeout sized for batch aggregation
// runs.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.hc = hc
	}
}

// NewClient returns a GraphQL client bound to endpoint.
func NewClient(endpoint string, options ...Option) *Client {
	c := &Client{
		endpoint: endpoint,
		hc: httpclient.DefaultPooledClient(
			httpclient.WithTimeout(30 * time.Second),
		),
		logger: log.NewLogger(log.WithOutput(io.Discard)),
	}

	for _, o := range options {
		o(c)
	}

	return c
}

// Query executes query with variables and unmarshals the response's
// data field into out.
func (c *Client) Query(ctx context.Context, query string, variables map[string]any, out any) error {
	body, err := json.Marshal(graphQLRequest{
		Query:     query,
		Variables: variables,
	})
	if err != nil {
		return fmt.Errorf("cannot marshal graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.endpoint,
		bytes.NewReader(body),
	)
	if err != nil {
		return fmt.Errorf("cannot create graphql request: %w", err)
	}
	req.Header.Set("content-type", "application/json")

	res, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("cannot execute graphql request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("graphql endpoint returned %d status code", res.StatusCode)
	}

	var r graphQLResponse
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		return fmt.Errorf("cannot decode graphql response: %w", err)
	}

	if len(r.Errors) > 0 {
		msgs := make([]string, 0, len(r.Errors))
		for _, e := range r.Errors {
			msgs = append(msgs, e.Message)
		}

		return fmt.Errorf("graphql error: %s", strings.Join(msgs, "; "))
	}

	if len(r.Data) == 0 {
		return fmt.Errorf("graphql response has no data")
	}

	if err := json.Unmarshal(r.Data, out); err != nil {
		return fmt.Errorf("cannot unmarshal graphql data: %w", err)
	}

	return nil
}

// Paginate fetches rows page by page at strictly increasing offsets
// until a short page or MaxRows. A failing page aborts the whole run;
// partial results are never returned.
func Paginate[T any](
	ctx context.Context,
	fetch func(ctx context.Context, first, skip int) ([]T, error),
) ([]T, error) {
	var rows []T

	for skip := 0; skip < MaxRows; skip += PageSize {
		first := PageSize
		if remaining := MaxRows - skip; remaining < first {
			first = remaining
		}

		page, err := fetch(ctx, first, skip)
		if err != nil {
			return nil, fmt.Errorf("cannot fetch page at offset %d: %w", skip, err)
		}

		rows = append(rows, page...)

		if len(page) < first {
			break
		}
	}

	return rows, nil
}
