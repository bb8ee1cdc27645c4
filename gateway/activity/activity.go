// Copyright 2026 The Anteroom Authors
// SPDX-License-Identifier: Apache-2.0

// Package activity records tenant login events and last-seen
// timestamps in a local SQLite database. The store is an audit trail
// and the data source for idle-tenant queries; it is best-effort by
// contract — callers log write failures and carry on, a request never
// fails because the audit write did.
package activity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/anteroom-project/anteroom/lib/clock"
)

const schema = `
CREATE TABLE IF NOT EXISTS tenant_activity (
	tenant_hash TEXT PRIMARY KEY,
	first_login INTEGER NOT NULL,
	last_login  INTEGER NOT NULL,
	last_seen   INTEGER NOT NULL,
	login_count INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS login_events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	tenant_hash TEXT NOT NULL,
	key_last4   TEXT NOT NULL,
	remote_addr TEXT NOT NULL,
	at          INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS login_events_tenant ON login_events(tenant_hash, at);
`

// Store is a SQLite-backed activity recorder. Safe for concurrent use;
// each operation takes its own pooled connection.
type Store struct {
	pool   *sqlitex.Pool
	clock  clock.Clock
	logger *slog.Logger
}

// Config holds store settings.
type Config struct {
	// Path is the database file. ":memory:" works for tests with
	// PoolSize 1.
	Path string

	// PoolSize defaults to 4.
	PoolSize int

	// Clock defaults to the real clock.
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Open creates the store, applying pragmas and the schema to every
// connection on first use.
func Open(config Config) (*Store, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("activity: Path is required")
	}
	if config.PoolSize <= 0 {
		config.PoolSize = 4
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	pool, err := sqlitex.NewPool(config.Path, sqlitex.PoolOptions{
		PoolSize:    config.PoolSize,
		PrepareConn: prepareConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("activity: opening %s: %w", config.Path, err)
	}
	return &Store{pool: pool, clock: config.Clock, logger: config.Logger}, nil
}

func prepareConnection(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("activity: %s: %w", pragma, err)
		}
	}
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("activity: applying schema: %w", err)
	}
	return nil
}

// Close closes the pool. Blocks until borrowed connections return.
func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("activity: close: %w", err)
	}
	return nil
}

// RecordLogin appends a login event and upserts the tenant's activity
// row.
func (s *Store) RecordLogin(ctx context.Context, tenantHash, keyLast4, remoteAddr string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("activity: take: %w", err)
	}
	defer s.pool.Put(conn)

	now := s.clock.Now().Unix()
	err = sqlitex.Execute(conn,
		`INSERT INTO login_events (tenant_hash, key_last4, remote_addr, at)
		 VALUES (?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{tenantHash, keyLast4, remoteAddr, now}})
	if err != nil {
		return fmt.Errorf("activity: recording login event: %w", err)
	}

	err = sqlitex.Execute(conn,
		`INSERT INTO tenant_activity (tenant_hash, first_login, last_login, last_seen, login_count)
		 VALUES (?, ?, ?, ?, 1)
		 ON CONFLICT(tenant_hash) DO UPDATE SET
		   last_login = excluded.last_login,
		   last_seen = excluded.last_seen,
		   login_count = login_count + 1`,
		&sqlitex.ExecOptions{Args: []any{tenantHash, now, now, now}})
	if err != nil {
		return fmt.Errorf("activity: updating tenant activity: %w", err)
	}
	return nil
}

// Touch advances a tenant's last-seen timestamp. Tenants without an
// activity row are ignored; proxied traffic before any recorded login
// (dev mode) has nothing to update.
func (s *Store) Touch(ctx context.Context, tenantHash string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("activity: take: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`UPDATE tenant_activity SET last_seen = ? WHERE tenant_hash = ?`,
		&sqlitex.ExecOptions{Args: []any{s.clock.Now().Unix(), tenantHash}})
	if err != nil {
		return fmt.Errorf("activity: touch: %w", err)
	}
	return nil
}

// Record is one tenant's activity summary.
type Record struct {
	TenantHash string
	FirstLogin time.Time
	LastLogin  time.Time
	LastSeen   time.Time
	LoginCount int64
}

// Lookup returns one tenant's activity record, or nil when the tenant
// has never logged in.
func (s *Store) Lookup(ctx context.Context, tenantHash string) (*Record, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("activity: take: %w", err)
	}
	defer s.pool.Put(conn)

	var record *Record
	err = sqlitex.Execute(conn,
		`SELECT tenant_hash, first_login, last_login, last_seen, login_count
		 FROM tenant_activity WHERE tenant_hash = ?`,
		&sqlitex.ExecOptions{
			Args: []any{tenantHash},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				record = recordFromRow(stmt)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("activity: lookup: %w", err)
	}
	return record, nil
}

// IdleSince returns tenants whose last-seen timestamp is at or before
// the cutoff, oldest first. Operators use this to decide which backend
// sandboxes are safe to hibernate.
func (s *Store) IdleSince(ctx context.Context, cutoff time.Time) ([]Record, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("activity: take: %w", err)
	}
	defer s.pool.Put(conn)

	var records []Record
	err = sqlitex.Execute(conn,
		`SELECT tenant_hash, first_login, last_login, last_seen, login_count
		 FROM tenant_activity WHERE last_seen <= ? ORDER BY last_seen ASC`,
		&sqlitex.ExecOptions{
			Args: []any{cutoff.Unix()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				records = append(records, *recordFromRow(stmt))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("activity: idle query: %w", err)
	}
	return records, nil
}

func recordFromRow(stmt *sqlite.Stmt) *Record {
	return &Record{
		TenantHash: stmt.ColumnText(0),
		FirstLogin: time.Unix(stmt.ColumnInt64(1), 0),
		LastLogin:  time.Unix(stmt.ColumnInt64(2), 0),
		LastSeen:   time.Unix(stmt.ColumnInt64(3), 0),
		LoginCount: stmt.ColumnInt64(4),
	}
}
