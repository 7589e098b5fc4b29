package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS configuration_cache (
	type       TEXT NOT NULL,
	key        TEXT NOT NULL,
	content    BLOB NOT NULL,
	updated_at INTEGER NOT NULL DEFAULT (strftime('%s','now')),
	PRIMARY KEY (type, key)
);`

// SQLiteCache stores entries in a SQLite database.
type SQLiteCache struct {
	db *sql.DB
}

var _ Cache = (*SQLiteCache)(nil)

// OpenSQLite opens or creates a cache database at path. The path ":memory:"
// opens a private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteCache, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections.
	// One connection also keeps an in-memory database alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache schema: %w", err)
	}

	return &SQLiteCache{db: db}, nil
}

// Read returns cached content or ErrNotFound.
func (c *SQLiteCache) Read(ctx context.Context, key Key) ([]byte, error) {
	var content []byte
	err := c.db.QueryRowContext(ctx,
		"SELECT content FROM configuration_cache WHERE type = ? AND key = ?",
		key.Type, key.Key,
	).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("reading cache %s: %w", key, err)
	}
	return content, nil
}

// Write stores content. Empty content removes the entry.
func (c *SQLiteCache) Write(ctx context.Context, key Key, content []byte) error {
	if len(content) == 0 {
		return c.Remove(ctx, key)
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO configuration_cache (type, key, content, updated_at)
		VALUES (?, ?, ?, strftime('%s','now'))
		ON CONFLICT(type, key) DO UPDATE SET
			content = excluded.content,
			updated_at = excluded.updated_at`,
		key.Type, key.Key, content,
	)
	if err != nil {
		return fmt.Errorf("writing cache %s: %w", key, err)
	}
	return nil
}

// Remove deletes an entry. Missing entries are not an error.
func (c *SQLiteCache) Remove(ctx context.Context, key Key) error {
	_, err := c.db.ExecContext(ctx,
		"DELETE FROM configuration_cache WHERE type = ? AND key = ?",
		key.Type, key.Key,
	)
	if err != nil {
		return fmt.Errorf("removing cache %s: %w", key, err)
	}
	return nil
}

// Keys lists the cached keys of one type.
func (c *SQLiteCache) Keys(ctx context.Context, typ string) ([]Key, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT key FROM configuration_cache WHERE type = ? ORDER BY key", typ)
	if err != nil {
		return nil, fmt.Errorf("listing cache: %w", err)
	}
	defer rows.Close()

	var keys []Key
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("listing cache: %w", err)
		}
		keys = append(keys, Key{Type: typ, Key: k})
	}
	return keys, rows.Err()
}

// Close closes the database.
func (c *SQLiteCache) Close() error {
	return c.db.Close()
}
