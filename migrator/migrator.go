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

// Package migrator applies versioned schema migrations under an
// advisory lock, so multiple gateway instances can start concurrently
// against the same database.
package migrator

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/dexgate/dexgate/log"
	"github.com/dexgate/dexgate/pg"
)

type (
	// Option is a function that configures the Migrator during
	// initialization.
	Option func(m *Migrator)

	// Migration is one schema change, identified by a version
	// string that orders and deduplicates it.
	Migration struct {
		Version string
		SQL     string
	}

	Migrator struct {
		pg         *pg.Client
		migrations []Migration
		logger     *log.Logger
	}
)

// advisoryLockID serializes concurrent migration runs across
// instances. The value is arbitrary but must never change.
const advisoryLockID = 874502139

// WithLogger sets a custom logger for the migrator.
func WithLogger(l *log.Logger) Option {
	return func(m *Migrator) {
		m.logger = l.Named("migrator")
	}
}

// NewMigrator returns a migrator applying migrations against client.
func NewMigrator(client *pg.Client, migrations []Migration, options ...Option) *Migrator {
	m := &Migrator{
		pg:         client,
		migrations: migrations,
		logger:     log.NewLogger(log.WithOutput(io.Discard)),
	}

	for _, o := range options {
		o(m)
	}

	return m
}

// Run applies every migration not yet recorded in schema_versions, in
// version order.
func (m *Migrator) Run(ctx context.Context) error {
	if len(m.migrations) == 0 {
		return nil
	}

	migrations := make([]Migration, len(m.migrations))
	copy(migrations, m.migrations)
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return m.pg.WithConn(ctx, func(conn pg.Conn) error {
		if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", advisoryLockID); err != nil {
			return fmt.Errorf("cannot acquire migration lock: %w", err)
		}
		defer conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", advisoryLockID)

		if err := createIfNotExistVersionsTable(ctx, conn); err != nil {
			return fmt.Errorf("cannot create schema version table: %w", err)
		}

		appliedVersions, err := loadSchemaVersions(ctx, conn)
		if err != nil {
			return fmt.Errorf("cannot load schema versions: %w", err)
		}

		for _, migration := range migrations {
			if _, found := appliedVersions[migration.Version]; found {
				continue
			}

			m.logger.InfoCtx(ctx, "applying migration", log.String("version", migration.Version))

			if err := migration.apply(ctx, conn); err != nil {
				return fmt.Errorf("cannot apply migration %q: %w", migration.Version, err)
			}
		}

		return nil
	})
}

func (m Migration) apply(ctx context.Context, conn pg.Conn) error {
	if _, err := conn.Exec(ctx, "BEGIN"); err != nil {
		return fmt.Errorf("cannot begin transaction: %w", err)
	}

	if _, err := conn.Exec(ctx, m.SQL); err != nil {
		conn.Exec(ctx, "ROLLBACK")
		return fmt.Errorf("cannot execute migration: %w", err)
	}

	q := "INSERT INTO schema_versions (version) VALUES ($1)"
	if _, err := conn.Exec(ctx, q, m.Version); err != nil {
		conn.Exec(ctx, "ROLLBACK")
		return fmt.Errorf("cannot insert schema version: %w", err)
	}

	if _, err := conn.Exec(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("cannot commit transaction: %w", err)
	}

	return nil
}

func createIfNotExistVersionsTable(ctx context.Context, conn pg.Conn) error {
	q := `
CREATE TABLE IF NOT EXISTS schema_versions (
  version VARCHAR PRIMARY KEY,
  executed_at TIMESTAMP NOT NULL DEFAULT (CURRENT_TIMESTAMP AT TIME ZONE 'UTC')
)
`

	_, err := conn.Exec(ctx, q)
	return err
}

func loadSchemaVersions(ctx context.Context, conn pg.Conn) (map[string]struct{}, error) {
	q := "SELECT version FROM schema_versions"
	r, err := conn.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("cannot exec query: %w", err)
	}
	defer r.Close()

	versions := make(map[string]struct{})
	for r.Next() {
		var v string
		if err := r.Scan(&v); err != nil {
			return nil, fmt.Errorf("cannot scan row: %w", err)
		}

		versions[v] = struct{}{}
	}

	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("cannot read query: %w", err)
	}

	return versions, nil
}
