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

// Package pg provides the PostgreSQL client backing the gateway's
// shared window counters, with pooled connections, query logging,
// and Prometheus pool metrics.
package pg

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dexgate/dexgate/log"
)

type (
	// Option is a function that configures the Client during
	// initialization.
	Option func(c *Client)

	// Client provides a PostgreSQL client with a connection
	// pool, query logging, and Prometheus pool metrics.
	Client struct {
		addr     string
		user     string
		password string
		database string

		poolSize int32

		tlsConfig *tls.Config

		pool *pgxpool.Pool

		logger     *log.Logger
		registerer prometheus.Registerer
	}

	// ExecFunc runs queries against an acquired connection.
	ExecFunc func(Conn) error
)

// WithLogger sets a custom logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) {
		c.logger = l.Named("pg.client")
	}
}

// WithAddr specifies the database address in "host:port" format.
func WithAddr(addr string) Option {
	return func(c *Client) {
		c.addr = addr
	}
}

// WithUser sets the database user.
func WithUser(user string) Option {
	return func(c *Client) {
		c.user = user
	}
}

// WithPassword sets the database password.
func WithPassword(password string) Option {
	return func(c *Client) {
		c.password = password
	}
}

// WithDatabase specifies the database to connect to.
func WithDatabase(database string) Option {
	return func(c *Client) {
		c.database = database
	}
}

// WithTLS configures TLS using the provided certificates for secure
// connections.
func WithTLS(certs []*x509.Certificate) Option {
	return func(c *Client) {
		rootCAs := x509.NewCertPool()
		for _, cert := range certs {
			rootCAs.AddCert(cert)
		}

		host, _, err := net.SplitHostPort(c.addr)
		if err != nil {
			host = c.addr
		}

		c.tlsConfig = &tls.Config{
			RootCAs:    rootCAs,
			ServerName: host,
			MinVersion: tls.VersionTLS12,
		}
	}
}

// WithPoolSize sets the maximum number of pooled connections.
func WithPoolSize(i int32) Option {
	return func(c *Client) {
		c.poolSize = i
	}
}

// WithRegisterer sets a custom Prometheus registerer for metrics.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(c *Client) {
		c.registerer = r
	}
}

// NewClient creates a new database client.
//
// Example:
//
//	client, err := pg.NewClient(
//	    pg.WithAddr("db.example.com:5432"),
//	    pg.WithUser("gateway"),
//	    pg.WithPassword("password"),
//	)
func NewClient(options ...Option) (*Client, error) {
	c := &Client{
		addr:       "localhost:5432",
		user:       "postgres",
		database:   "postgres",
		poolSize:   10,
		logger:     log.NewLogger(log.WithOutput(io.Discard)),
		registerer: prometheus.DefaultRegisterer,
	}

	for _, o := range options {
		o(c)
	}

	host, portStr, err := net.SplitHostPort(c.addr)
	if err != nil {
		return nil, fmt.Errorf("invalid address: %w", err)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port: %w", err)
	}

	config, _ := pgxpool.ParseConfig("")
	config.ConnConfig.Config.Host = host
	config.ConnConfig.Config.Port = uint16(port)
	config.ConnConfig.Config.User = c.user
	config.ConnConfig.Config.Password = c.password
	config.ConnConfig.Config.Database = c.database
	config.ConnConfig.Config.TLSConfig = c.tlsConfig
	config.MinConns = 1
	config.MaxConns = c.poolSize

	config.ConnConfig.Tracer = &tracelog.TraceLog{
		Logger:   &queryLogger{c.logger},
		LogLevel: tracelog.LogLevelWarn,
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("cannot create connection pool from config: %w", err)
	}

	c.registerer.MustRegister(
		newCollector(
			pool,
			map[string]string{
				"database": c.database,
				"addr":     c.addr,
			},
		),
	)

	c.pool = pool

	return c, nil
}

// Close closes the client's connection pool, releasing all resources.
func (c *Client) Close() {
	c.pool.Close()
}

// WithConn executes the given ExecFunc with a database connection
// from the pool.
func (c *Client) WithConn(ctx context.Context, exec ExecFunc) error {
	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("cannot acquire connection: %w", err)
	}
	defer conn.Release()

	return exec(conn)
}

// WithTx executes the given ExecFunc within a transaction, rolling
// back when exec returns an error and committing otherwise.
func (c *Client) WithTx(ctx context.Context, exec ExecFunc) error {
	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("cannot acquire connection: %w", err)
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("cannot begin transaction: %w", err)
	}

	if err := exec(tx); err != nil {
		if err2 := tx.Rollback(ctx); err2 != nil {
			err = errors.Join(
				err,
				fmt.Errorf("cannot rollback transaction: %w", err2),
			)
		}

		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("cannot commit transaction: %w", err)
	}

	return nil
}
