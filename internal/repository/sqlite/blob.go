package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sakif/checkinn/internal/apperror"
	"github.com/sakif/checkinn/internal/repository"
)

var _ repository.BlobStore = (*DB)(nil)

// Get returns the stored document for key.
//
// sql.ErrNoRows means the key was never written; that becomes
// apperror.NotFound so callers can tell "absent" from "broken".
func (db *DB) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := db.conn.QueryRowContext(ctx,
		`SELECT value FROM blobs WHERE key = ?`, key,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("blob", key)
		}
		return nil, fmt.Errorf("sqlite: reading blob %s: %w", key, err)
	}
	return value, nil
}

// Put inserts or replaces the document for key.
//
// UPSERT:
// ON CONFLICT(key) DO UPDATE turns a second write to the same key into an
// update in a single statement, so there is no read-then-write window.
func (db *DB) Put(ctx context.Context, key string, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO blobs (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, data, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: writing blob %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (db *DB) Delete(ctx context.Context, key string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM blobs WHERE key = ?`, key); err != nil {
		return fmt.Errorf("sqlite: deleting blob %s: %w", key, err)
	}
	return nil
}
