package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"CopilotLane/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient creates a Redis client for the redis store backend.
// It returns nil when the backend is not redis; callers treat a nil client
// as "backend unavailable".
func NewRedisClient(c *conf.Store, logger log.Logger) (*redis.Client, func(), error) {
	helper := log.NewHelper(logger)

	if c == nil || c.Backend != conf.BackendRedis {
		return nil, func() {}, nil
	}
	if c.Redis == nil || c.Redis.Addr == "" {
		return nil, func() {}, errors.New("redis store backend requires store.redis.addr")
	}

	rdb := redis.NewClient(&redis.Options{
		Network:      c.Redis.Network,
		Addr:         c.Redis.Addr,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  c.Redis.ReadTimeout,
		WriteTimeout: c.Redis.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		helper.Warnw("msg", "redis store backend unreachable at startup",
			"addr", c.Redis.Addr, "error", err.Error())
	}

	cleanup := func() {
		helper.Info("closing redis store client")
		_ = rdb.Close()
	}

	return rdb, cleanup, nil
}

// redisStore persists the same JSON document the file backend writes, held
// in a single key. Useful when several machines share one credential pool.
type redisStore struct {
	client *redis.Client
	key    string
	logger *log.Helper
}

// NewRedisStore creates a redis-backed StoreRepo.
func NewRedisStore(client *redis.Client, key string, logger log.Logger) StoreRepo {
	return &redisStore{
		client: client,
		key:    key,
		logger: log.NewHelper(logger),
	}
}

// Load implements StoreRepo.
func (s *redisStore) Load(ctx context.Context) (*AccountStore, bool) {
	raw, err := s.client.Get(ctx, s.key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warnw("msg", "failed to read account store from redis, starting empty",
				"key", s.key, "error", err.Error())
		}
		return NewAccountStore(), false
	}

	store := &AccountStore{}
	if err := json.Unmarshal([]byte(raw), store); err != nil {
		s.logger.Warnw("msg", "redis account store is not valid JSON, starting empty",
			"key", s.key, "error", err.Error())
		return NewAccountStore(), false
	}
	store.normalize()
	if !store.valid() {
		s.logger.Warnw("msg", "redis account store failed schema validation, starting empty",
			"key", s.key, "version", store.Version)
		return NewAccountStore(), false
	}

	return store, true
}

// Save implements StoreRepo.
func (s *redisStore) Save(ctx context.Context, store *AccountStore) error {
	data, err := json.Marshal(store)
	if err != nil {
		return fmt.Errorf("failed to marshal account store: %w", err)
	}

	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write account store to redis key %s: %w", s.key, err)
	}

	return nil
}
