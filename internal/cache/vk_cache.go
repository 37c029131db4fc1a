package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/llmops/govern/internal/logger"
	"github.com/llmops/govern/internal/model"
	"github.com/llmops/govern/internal/repository"
)

const keyPrefix = "vk:value:"

// VirtualKeyCache is a redis read-through cache for credential lookups by
// value. Cached entries carry only the key row and its governance relations;
// counters are always re-read under lock during admission, so staleness here
// only delays visibility of management edits, bounded by the TTL.
//
// With a nil redis client every lookup falls through to MySQL.
type VirtualKeyCache struct {
	repo  repository.VirtualKeysRepository
	redis *redis.Client
	ttl   time.Duration
}

func NewVirtualKeyCache(repo repository.VirtualKeysRepository, rdb *redis.Client, ttl time.Duration) *VirtualKeyCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &VirtualKeyCache{repo: repo, redis: rdb, ttl: ttl}
}

// GetByValue resolves a credential, serving from redis when possible.
// A cache miss or a broken redis falls back to the repository; repository
// misses are not negatively cached.
func (c *VirtualKeyCache) GetByValue(ctx context.Context, value string) (*model.VirtualKey, error) {
	if c.redis == nil {
		return c.repo.GetByValue(ctx, value)
	}

	b, err := c.redis.Get(ctx, keyPrefix+value).Bytes()
	if err == nil {
		var vk model.VirtualKey
		if uerr := json.Unmarshal(b, &vk); uerr == nil {
			return &vk, nil
		}
		// poisoned entry: drop and fall through
		c.redis.Del(ctx, keyPrefix+value)
	} else if !errors.Is(err, redis.Nil) {
		logger.L().Warn("vk cache read failed", zap.Error(err))
	}

	vk, err := c.repo.GetByValue(ctx, value)
	if err != nil {
		return nil, err
	}

	if b, merr := json.Marshal(vk); merr == nil {
		if serr := c.redis.Set(ctx, keyPrefix+value, b, c.ttl).Err(); serr != nil {
			logger.L().Warn("vk cache write failed", zap.Error(serr))
		}
	}
	return vk, nil
}

// Invalidate drops the cached entry for a key value. Management handlers call
// it after every write touching the key or its governance objects.
func (c *VirtualKeyCache) Invalidate(ctx context.Context, value string) {
	if c.redis == nil || value == "" {
		return
	}
	if err := c.redis.Del(ctx, keyPrefix+value).Err(); err != nil {
		logger.L().Warn("vk cache invalidate failed", zap.Error(err))
	}
}
