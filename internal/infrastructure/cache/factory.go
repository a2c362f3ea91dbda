package cache

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/vendorhub/storefront/internal/infrastructure/config"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// NewBackend builds the backend selected by cfg.Backend. The redis backend
// needs a client; the gorm backend needs a migrated database.
func NewBackend(cfg config.CacheConfig, db *gorm.DB, client redis.UniversalClient, logger *zap.Logger) (Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Backend {
	case "redis":
		if client == nil {
			return nil, fmt.Errorf("cache backend redis requires a redis client")
		}
		logger.Info("using redis cache backend", zap.String("prefix", cfg.KeyPrefix))
		return NewRedisBackend(client, cfg.KeyPrefix, cfg.MaxEntries), nil
	case "gorm", "":
		if db == nil {
			return nil, fmt.Errorf("cache backend gorm requires a database")
		}
		logger.Info("using database cache backend",
			zap.Int("max_entries", cfg.MaxEntries),
			zap.Int64("max_bytes", cfg.MaxBytes),
		)
		return NewGormBackend(db, cfg.MaxEntries, cfg.MaxBytes), nil
	case "memory":
		logger.Warn("using in-memory cache backend; cached responses will not survive restarts")
		return NewMemoryBackend(cfg.MaxEntries), nil
	}
	return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
}
