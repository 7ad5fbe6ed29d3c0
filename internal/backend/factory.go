// Package backend wires configuration to concrete storage and cache
// implementations so the binaries stay free of backend-specific code.
package backend

import (
	"context"
	"fmt"

	"splitledger/internal/cache"
	"splitledger/internal/config"
	"splitledger/internal/log"
	"splitledger/internal/storage"
	"splitledger/internal/storage/postgres"
	"splitledger/internal/storage/sqlite"
)

// OpenStore creates the store named by STORAGE_BACKEND.
func OpenStore(ctx context.Context, cfg *config.Config, logger *log.Logger) (storage.Store, error) {
	switch cfg.StorageBackend {
	case "sqlite":
		logger.Info("Opening sqlite store", "path", cfg.SQLiteDBPath)
		return sqlite.NewStore(cfg.SQLiteDBPath)
	case "postgres":
		logger.Info("Opening postgres store")
		return postgres.NewStore(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.StorageBackend)
	}
}

// OpenCache returns a Redis-backed cache when REDIS_ADDR is set and an
// in-process LRU otherwise.
func OpenCache(ctx context.Context, cfg *config.Config, logger *log.Logger) (cache.Cache, error) {
	if cfg.RedisAddr != "" {
		logger.Info("Using redis cache", "addr", cfg.RedisAddr)
		return cache.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	}
	logger.Info("Using in-memory cache", "max_entries", cfg.CacheMaxEntries)
	mem := cache.NewMemory(cfg.CacheMaxEntries)
	mem.StartCleanup(cfg.CacheTTL)
	return mem, nil
}
