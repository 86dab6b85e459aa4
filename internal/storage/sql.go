package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

const tableName = "modinspect_cache"

// Dialect captures the differences between the SQL engines a SQLCache runs on.
type Dialect struct {
	// Driver is the database/sql driver name
	Driver string
	// BlobType is the column type used for values
	BlobType string
	// Placeholder returns the bind parameter for the n-th argument (1-based)
	Placeholder func(n int) string
}

var (
	// SQLite stores entries in a local database file.
	SQLite = Dialect{
		Driver:      "sqlite3",
		BlobType:    "BLOB",
		Placeholder: func(int) string { return "?" },
	}

	// Postgres stores entries through the pgx stdlib driver.
	Postgres = Dialect{
		Driver:      "pgx",
		BlobType:    "BYTEA",
		Placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	}
)

func (d Dialect) bind(n int) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = d.Placeholder(i + 1)
	}
	return out
}

func (d Dialect) createTable() string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	key TEXT PRIMARY KEY,
	value %s NOT NULL,
	expires_at BIGINT NOT NULL DEFAULT 0
)`, tableName, d.BlobType)
}

func (d Dialect) selectValue() string {
	return fmt.Sprintf("SELECT value, expires_at FROM %s WHERE key = %s", tableName, d.Placeholder(1))
}

func (d Dialect) upsert() string {
	return fmt.Sprintf(
		"INSERT INTO %s (key, value, expires_at) VALUES (%s, %s, %s) "+
			"ON CONFLICT (key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at",
		append([]any{tableName}, d.bind(3)...)...,
	)
}

func (d Dialect) deleteKey() string {
	return fmt.Sprintf("DELETE FROM %s WHERE key = %s", tableName, d.Placeholder(1))
}

func (d Dialect) deletePrefix() string {
	return fmt.Sprintf("DELETE FROM %s WHERE substr(key, 1, %s) = %s", tableName, d.Placeholder(1), d.Placeholder(2))
}

// SQLCache implements Cache on top of a single key/value table.
type SQLCache struct {
	db      *sql.DB
	dialect Dialect
	config  CacheConfig
	owned   bool
}

// OpenSQLCache opens the database behind dsn and prepares the cache table.
func OpenSQLCache(ctx context.Context, dialect Dialect, dsn string, config CacheConfig) (*SQLCache, error) {
	db, err := sql.Open(dialect.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect.Driver, err)
	}

	// sqlite serializes writers anyway; one connection also keeps ":memory:"
	// databases from splitting per connection.
	if dialect.Driver == SQLite.Driver {
		db.SetMaxOpenConns(1)
	}

	cache, err := NewSQLCacheWithDB(ctx, db, dialect, config)
	if err != nil {
		db.Close()
		return nil, err
	}
	cache.owned = true
	return cache, nil
}

// NewSQLCacheWithDB creates a cache over an existing database handle.
func NewSQLCacheWithDB(ctx context.Context, db *sql.DB, dialect Dialect, config CacheConfig) (*SQLCache, error) {
	if _, err := db.ExecContext(ctx, dialect.createTable()); err != nil {
		return nil, fmt.Errorf("failed to create cache table: %w", err)
	}

	return &SQLCache{
		db:      db,
		dialect: dialect,
		config:  config,
	}, nil
}

// Get retrieves a value from the cache
func (s *SQLCache) Get(ctx context.Context, key string) ([]byte, error) {
	var (
		value     []byte
		expiresAt int64
	)

	err := s.db.QueryRowContext(ctx, s.dialect.selectValue(), s.config.Prefix+key).Scan(&value, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCacheMiss{Key: key}
		}
		return nil, err
	}

	if expiresAt > 0 && time.Now().UnixNano() > expiresAt {
		if err := s.Delete(ctx, key); err != nil {
			return nil, err
		}
		return nil, ErrCacheMiss{Key: key}
	}

	return value, nil
}

// Set stores a value in the cache with a TTL
func (s *SQLCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt int64
	if exp := s.config.expiry(ttl); !exp.IsZero() {
		expiresAt = exp.UnixNano()
	}

	_, err := s.db.ExecContext(ctx, s.dialect.upsert(), s.config.Prefix+key, value, expiresAt)
	return err
}

// Delete removes a value from the cache
func (s *SQLCache) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, s.dialect.deleteKey(), s.config.Prefix+key)
	return err
}

// Clear removes every row under this handle's prefix
func (s *SQLCache) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, s.dialect.deletePrefix(), len(s.config.Prefix), s.config.Prefix)
	return err
}

// Exists checks if a key exists in the cache
func (s *SQLCache) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Get(ctx, key)
	if IsCacheMiss(err) {
		return false, nil
	}
	return err == nil, err
}

// Close closes the database if this cache opened it
func (s *SQLCache) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}
