package reputation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "reputation:"

// DefaultCacheTTL is used when NewCache gets a non-positive ttl.
const DefaultCacheTTL = 5 * time.Minute

// Cache is a Redis read-through cache in front of another Source.
// Redis failures fall back to the origin.
type Cache struct {
	rdb    *redis.Client
	origin Source
	ttl    time.Duration
	logger *zap.Logger
}

// NewCache wraps origin with a Redis cache.
func NewCache(rdb *redis.Client, origin Source, ttl time.Duration, logger *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{rdb: rdb, origin: origin, ttl: ttl, logger: logger}
}

func cacheKey(id uuid.UUID) string {
	return keyPrefix + id.String()
}

// Score implements Source.
func (c *Cache) Score(ctx context.Context, participantID uuid.UUID) (int, error) {
	key := cacheKey(participantID)
	raw, err := c.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		if v, convErr := strconv.Atoi(raw); convErr == nil {
			return Clamp(v), nil
		}
		c.logger.Warn("reputation cache: bad value", zap.String("key", key), zap.String("value", raw))
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("reputation cache: get failed", zap.String("key", key), zap.Error(err))
	}

	score, err := c.origin.Score(ctx, participantID)
	if err != nil {
		return 0, fmt.Errorf("reputation origin: %w", err)
	}
	score = Clamp(score)
	if err := c.rdb.Set(ctx, key, score, c.ttl).Err(); err != nil {
		c.logger.Warn("reputation cache: set failed", zap.String("key", key), zap.Error(err))
	}
	return score, nil
}

// Invalidate drops a cached score.
func (c *Cache) Invalidate(ctx context.Context, participantID uuid.UUID) error {
	return c.rdb.Del(ctx, cacheKey(participantID)).Err()
}
