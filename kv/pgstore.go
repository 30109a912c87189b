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

package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dexgate/dexgate/migrator"
	"github.com/dexgate/dexgate/pg"
)

type (
	// PGStore implements Store on PostgreSQL, for deployments
	// that already run a database and do not want a second
	// shared store for rate limiting.
	PGStore struct {
		pg *pg.Client
	}
)

var (
	_ Store   = (*PGStore)(nil)
	_ Cleaner = (*PGStore)(nil)
)

// migrations is the store's schema. Window counters live in UNLOGGED
// tables: skipping the WAL makes per-request increments cheap, and a
// crash only resets rate limits and cached values.
var migrations = []migrator.Migration{
	{
		Version: "0001_gateway_windows",
		SQL: `
CREATE UNLOGGED TABLE IF NOT EXISTS gateway_windows (
    key           TEXT NOT NULL,
    window_start  BIGINT NOT NULL,
    count         BIGINT NOT NULL DEFAULT 0,
    PRIMARY KEY (key, window_start)
);

CREATE INDEX IF NOT EXISTS idx_gateway_windows_cleanup
ON gateway_windows (window_start);
`,
	},
	{
		Version: "0002_gateway_values",
		SQL: `
CREATE UNLOGGED TABLE IF NOT EXISTS gateway_values (
    key        TEXT PRIMARY KEY,
    value      BYTEA NOT NULL,
    expires_at TIMESTAMPTZ
);
`,
	},
}

// NewPGStore wraps a PostgreSQL client and migrates the backing
// tables.
func NewPGStore(ctx context.Context, pgClient *pg.Client, options ...migrator.Option) (*PGStore, error) {
	s := &PGStore{pg: pgClient}

	m := migrator.NewMigrator(pgClient, migrations, options...)
	if err := m.Run(ctx); err != nil {
		return nil, fmt.Errorf("cannot migrate gateway kv tables: %w", err)
	}

	return s, nil
}

// Get implements Store.
func (s *PGStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte

	err := s.pg.WithConn(ctx, func(conn pg.Conn) error {
		q := `
SELECT value FROM gateway_values
WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())
`
		return conn.QueryRow(ctx, q, key).Scan(&value)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("cannot get %q: %w", key, err)
	}

	return value, nil
}

// SetWithTTL implements Store.
func (s *PGStore) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := s.pg.WithConn(ctx, func(conn pg.Conn) error {
		q := `
INSERT INTO gateway_values (key, value, expires_at)
VALUES ($1, $2, CASE WHEN $3::BIGINT > 0 THEN now() + ($3::BIGINT || ' milliseconds')::INTERVAL END)
ON CONFLICT (key)
DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at
`
		_, err := conn.Exec(ctx, q, key, value, ttl.Milliseconds())
		return err
	})

	if err != nil {
		return fmt.Errorf("cannot set %q: %w", key, err)
	}

	return nil
}

// IncrWindow implements Store. A single INSERT ... ON CONFLICT DO
// UPDATE ... RETURNING round-trip increments the current bucket and
// reads the previous one.
func (s *PGStore) IncrWindow(ctx context.Context, key string, windowStart, prevWindowStart int64, n int64) (int64, int64, error) {
	var current, previous int64

	err := s.pg.WithConn(ctx, func(conn pg.Conn) error {
		q := `
INSERT INTO gateway_windows (key, window_start, count)
VALUES ($1, $2, $3)
ON CONFLICT (key, window_start)
DO UPDATE SET count = gateway_windows.count + $3
RETURNING
    count,
    COALESCE((SELECT count FROM gateway_windows
     WHERE key = $1 AND window_start = $4), 0) as prev_count
`
		row := conn.QueryRow(ctx, q, key, windowStart, n, prevWindowStart)
		return row.Scan(&current, &previous)
	})

	if err != nil {
		return 0, 0, fmt.Errorf("cannot increment window for %q: %w", key, err)
	}

	return current, previous, nil
}

// Cleanup implements Cleaner, deleting window buckets and expired
// cached values older than the given duration. It should run
// periodically to keep the UNLOGGED tables from growing without
// bound.
func (s *PGStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UnixMilli()

	var rowsDeleted int64
	err := s.pg.WithConn(ctx, func(conn pg.Conn) error {
		tag, err := conn.Exec(ctx, `DELETE FROM gateway_windows WHERE window_start < $1`, cutoff)
		if err != nil {
			return err
		}
		rowsDeleted = tag.RowsAffected()

		tag, err = conn.Exec(ctx, `DELETE FROM gateway_values WHERE expires_at IS NOT NULL AND expires_at < now()`)
		if err != nil {
			return err
		}
		rowsDeleted += tag.RowsAffected()

		return nil
	})

	if err != nil {
		return 0, fmt.Errorf("cannot cleanup gateway kv tables: %w", err)
	}

	return rowsDeleted, nil
}
