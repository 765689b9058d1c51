// Package sqlite implements repository.BlobStore on a local SQLite file.
//
// WHY SQLITE?
// The app is single-user and local-first. One embedded database file gives
// durable, crash-safe writes without running a server, and ":memory:" makes
// tests trivial.
//
// WHY modernc.org/sqlite?
// It is a pure Go translation of SQLite, so there is no CGo and
// cross-compiling the CLI for another OS just works.
//
// SCHEMA:
// A single table holds every document:
//
//	blobs(key TEXT PRIMARY KEY, value BLOB, updated_at DATETIME)
//
// The schema is versioned with goose. Migration files are embedded into the
// binary (see ./migrations) so there is nothing to ship next to it.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"

	"github.com/sakif/checkinn/internal/repository/sqlite/migrations"

	// Registers the "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection pool and implements repository.BlobStore.
type DB struct {
	conn *sql.DB
}

// New opens (or creates) the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/checkinn.db" → file-based database (persistent)
//   - ":memory:"         → in-memory database (tests)
//
// sql.Open does not connect; Ping forces the first connection so a bad path
// or permission problem surfaces here instead of on the first query.
func New(ctx context.Context, dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// Every pooled connection to ":memory:" is its own empty database,
	// so pin the pool to one connection.
	if dbPath == ":memory:" {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets readers proceed while a write is in flight.
	if _, err := conn.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	// Wait for a competing writer (the CLI and the server may share a file)
	// instead of failing with SQLITE_BUSY straight away.
	if _, err := conn.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting busy timeout: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate applies every embedded goose migration that has not run yet.
// goose records applied versions in its own goose_db_version table.
func (db *DB) migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db.conn, "."); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}
