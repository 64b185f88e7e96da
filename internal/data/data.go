// Package data provides the persistence layer for the account pool.
package data

import (
	"CopilotLane/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
)

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(
	NewRedisClient,
	NewStoreRepo,
)

// NewStoreRepo selects the store backend from configuration.
// The path sentinel "memory" always wins: it disables persistence entirely
// no matter which backend is configured.
func NewStoreRepo(c *conf.Store, rdb *redis.Client, logger log.Logger) (StoreRepo, error) {
	helper := log.NewHelper(logger)

	if c.Path == conf.MemoryPathSentinel || c.Backend == conf.BackendMemory {
		helper.Info("account store is ephemeral, nothing will be persisted")
		return NewMemoryStore(), nil
	}

	if c.Backend == conf.BackendRedis {
		helper.Infow("msg", "account store backed by redis", "key", c.Redis.Key)
		return NewRedisStore(rdb, c.Redis.Key, logger), nil
	}

	path := c.Path
	if path == "" {
		resolved, err := DefaultAccountsPath()
		if err != nil {
			return nil, err
		}
		path = resolved
	}
	helper.Infow("msg", "account store backed by file", "path", path)
	return NewFileStore(path, logger), nil
}
