package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Drivers understood by Open.
const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config selects and configures the backend for every storage handle.
type Config struct {
	Driver      string
	TTL         time.Duration
	Redis       RedisConfig
	SQLitePath  string
	PostgresURL string
}

// Open creates the storage handle called name.
func Open(ctx context.Context, cfg Config, name string) (Cache, error) {
	cacheConfig := DefaultCacheConfig(name)
	if cfg.TTL != 0 {
		cacheConfig.DefaultTTL = cfg.TTL
	}

	switch cfg.Driver {
	case "", DriverMemory:
		return NewMemoryCache(cacheConfig), nil
	case DriverRedis:
		return NewRedisCache(ctx, cfg.Redis, cacheConfig)
	case DriverSQLite:
		dsn, err := sqliteDSN(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return OpenSQLCache(ctx, SQLite, dsn, cacheConfig)
	case DriverPostgres:
		if cfg.PostgresURL == "" {
			return nil, fmt.Errorf("storage driver %q requires a connection url", DriverPostgres)
		}
		return OpenSQLCache(ctx, Postgres, cfg.PostgresURL, cacheConfig)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", cfg.Driver)
	}
}

// OpenHandles opens the npm metadata and publint handles the inspector needs.
// Nothing is left open when an error is returned.
func OpenHandles(ctx context.Context, cfg Config) (map[string]Cache, error) {
	handles := make(map[string]Cache, 2)
	for _, name := range []string{NpmMeta, Publint} {
		cache, err := Open(ctx, cfg, name)
		if err != nil {
			CloseAll(handles)
			return nil, fmt.Errorf("failed to open %s storage: %w", name, err)
		}
		handles[name] = cache
	}
	return handles, nil
}

// CloseAll closes every handle and returns the first error.
func CloseAll(handles map[string]Cache) error {
	var first error
	for _, cache := range handles {
		if err := cache.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func sqliteDSN(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if path == "" {
		dir, err := os.UserCacheDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve cache directory: %w", err)
		}
		path = filepath.Join(dir, "modinspect", "storage.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create storage directory: %w", err)
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_busy_timeout=5000", nil
}
