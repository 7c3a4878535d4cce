package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/innbot/internal/model"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "innbot:cache:"

// RedisBackend keeps entries as JSON strings. Keys physically expire at 2*ttl;
// freshness itself is decided by Cache from FetchedAt.
type RedisBackend struct {
	rdb *redis.Client
}

func NewRedisBackend(rdb *redis.Client) *RedisBackend {
	return &RedisBackend{rdb: rdb}
}

var _ Backend = (*RedisBackend)(nil)

func (b *RedisBackend) Load(ctx context.Context, inn string) (*model.CacheEntry, error) {
	raw, err := b.rdb.Get(ctx, redisKeyPrefix+inn).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var e model.CacheEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode cache entry %s: %w", inn, err)
	}
	return &e, nil
}

func (b *RedisBackend) Store(ctx context.Context, e model.CacheEntry, ttl time.Duration) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode cache entry %s: %w", e.INN, err)
	}
	return b.rdb.Set(ctx, redisKeyPrefix+e.INN, raw, 2*ttl).Err()
}
