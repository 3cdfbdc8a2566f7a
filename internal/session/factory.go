package session

import (
	"context"
	"fmt"
)

// Backend names accepted by NewAdapter
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// AdapterConfig selects and configures a persistence backend
type AdapterConfig struct {
	Backend      string
	Dir          string
	SQLiteDriver string
	RedisURL     string
	RedisKey     string
}

// NewAdapter builds the adapter named by cfg.Backend
func NewAdapter(ctx context.Context, cfg AdapterConfig) (Adapter, error) {
	switch cfg.Backend {
	case BackendMemory:
		return NewMemoryAdapter(), nil
	case BackendFile, "":
		return NewFileAdapter(cfg.Dir)
	case BackendSQLite:
		driver := cfg.SQLiteDriver
		if driver == "" {
			driver = DriverModernc
		}
		return NewSQLiteAdapter(cfg.Dir, driver)
	case BackendRedis:
		return NewRedisAdapter(ctx, cfg.RedisURL, cfg.RedisKey)
	default:
		return nil, fmt.Errorf("unsupported session store %q", cfg.Backend)
	}
}
