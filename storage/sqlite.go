package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gennadis/voicechat/internal/chat"
	"github.com/jmoiron/sqlx"
)

// SQLite is a Backend over a single sqlite table.
type SQLite struct {
	db         *sqlx.DB
	quotaBytes int64
}

// NewSQLite creates the cache table if needed. quotaBytes <= 0 disables the budget.
func NewSQLite(db *sqlx.DB, quotaBytes int64) (*SQLite, error) {
	createCacheTable := `
	CREATE TABLE IF NOT EXISTS cache (
		collection TEXT NOT NULL,
		key TEXT NOT NULL,
		value BLOB NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (collection, key)
	)
	`
	if _, err := db.Exec(createCacheTable); err != nil {
		return nil, fmt.Errorf("failed to create cache table: %w", err)
	}

	return &SQLite{db: db, quotaBytes: quotaBytes}, nil
}

// Put inserts or replaces the value stored under collection/key
func (s *SQLite) Put(ctx context.Context, collection, key string, value []byte) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin cache write: %w", err)
	}
	defer tx.Rollback()

	if s.quotaBytes > 0 {
		var used int64
		err := tx.GetContext(ctx, &used,
			"SELECT COALESCE(SUM(LENGTH(value)), 0) FROM cache WHERE NOT (collection = ? AND key = ?)",
			collection, key)
		if err != nil {
			return fmt.Errorf("failed to measure cache size: %w", err)
		}
		if used+int64(len(value)) > s.quotaBytes {
			return fmt.Errorf("write %s/%s of %d bytes: %w", collection, key, len(value), chat.ErrStorageQuota)
		}
	}

	upsert := `
	INSERT INTO cache (collection, key, value, updated_at) VALUES (?, ?, ?, ?)
	ON CONFLICT(collection, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err := tx.ExecContext(ctx, upsert, collection, key, value, time.Now()); err != nil {
		return fmt.Errorf("failed to write %s/%s: %w", collection, key, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %s/%s: %w", collection, key, err)
	}

	slog.Debug("cache entry written",
		slog.String("collection", collection),
		slog.String("key", key),
		slog.Int("bytes", len(value)),
	)
	return nil
}

// Get returns the value stored under collection/key
func (s *SQLite) Get(ctx context.Context, collection, key string) ([]byte, error) {
	var value []byte
	err := s.db.GetContext(ctx, &value, "SELECT value FROM cache WHERE collection = ? AND key = ?", collection, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, chat.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s/%s: %w", collection, key, err)
	}
	return value, nil
}

// Delete removes collection/key; deleting a missing key is not an error
func (s *SQLite) Delete(ctx context.Context, collection, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM cache WHERE collection = ? AND key = ?", collection, key); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", collection, key, err)
	}

	slog.Debug("cache entry deleted",
		slog.String("collection", collection),
		slog.String("key", key),
	)
	return nil
}

// Keys lists the keys of a collection
func (s *SQLite) Keys(ctx context.Context, collection string) ([]string, error) {
	var keys []string
	if err := s.db.SelectContext(ctx, &keys, "SELECT key FROM cache WHERE collection = ? ORDER BY key", collection); err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, err)
	}
	return keys, nil
}

// Size returns the number of payload bytes currently stored
func (s *SQLite) Size(ctx context.Context) (int64, error) {
	var used int64
	if err := s.db.GetContext(ctx, &used, "SELECT COALESCE(SUM(LENGTH(value)), 0) FROM cache"); err != nil {
		return 0, fmt.Errorf("failed to measure cache size: %w", err)
	}
	return used, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
