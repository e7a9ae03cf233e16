package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/ukuvago/contractdesk/internal/config"
	"github.com/ukuvago/contractdesk/internal/logger"
	"github.com/ukuvago/contractdesk/internal/models"
)

// ViewCache holds rendered public views of contracts. Misses and cache
// failures fall through to the database.
type ViewCache interface {
	Get(ctx context.Context, contractID uuid.UUID) (*models.PublicView, bool)
	Set(ctx context.Context, view *models.PublicView)
	Invalidate(ctx context.Context, contractID uuid.UUID)
}

// NewViewCache connects to Redis when REDIS_ADDR is set. Without it, or
// when Redis is unreachable, caching is disabled.
func NewViewCache(ctx context.Context, cfg *config.Config) ViewCache {
	if cfg.RedisAddr == "" {
		logger.Warn(ctx, "REDIS_ADDR not set, public view caching disabled")
		return noopViewCache{}
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		logger.Error(ctx, "failed to connect to Redis, public view caching disabled", "error", err)
		_ = rdb.Close()
		return noopViewCache{}
	}

	logger.Info(ctx, "connected to Redis", "addr", cfg.RedisAddr)
	return NewRedisViewCache(rdb, cfg.ViewCacheTTL)
}

type RedisViewCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisViewCache(rdb *redis.Client, ttl time.Duration) *RedisViewCache {
	return &RedisViewCache{rdb: rdb, ttl: ttl}
}

func viewCacheKey(contractID uuid.UUID) string {
	return fmt.Sprintf("contract:%s:public_view", contractID)
}

func (c *RedisViewCache) Get(ctx context.Context, contractID uuid.UUID) (*models.PublicView, bool) {
	cached, err := c.rdb.Get(ctx, viewCacheKey(contractID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.WithContext(ctx).Error("redis GET failed", "error", err, "contract_id", contractID)
		}
		return nil, false
	}

	var view models.PublicView
	if err := json.Unmarshal([]byte(cached), &view); err != nil {
		logger.WithContext(ctx).Warn("failed to unmarshal cached public view", "contract_id", contractID)
		return nil, false
	}
	return &view, true
}

func (c *RedisViewCache) Set(ctx context.Context, view *models.PublicView) {
	data, err := json.Marshal(view)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, viewCacheKey(view.ContractID), data, c.ttl).Err(); err != nil {
		logger.WithContext(ctx).Error("redis SET failed", "error", err, "contract_id", view.ContractID)
	}
}

func (c *RedisViewCache) Invalidate(ctx context.Context, contractID uuid.UUID) {
	if err := c.rdb.Del(ctx, viewCacheKey(contractID)).Err(); err != nil {
		logger.WithContext(ctx).Error("redis DEL failed", "error", err, "contract_id", contractID)
	}
}

func (c *RedisViewCache) Close() error {
	return c.rdb.Close()
}

type noopViewCache struct{}

func (noopViewCache) Get(context.Context, uuid.UUID) (*models.PublicView, bool) { return nil, false }
func (noopViewCache) Set(context.Context, *models.PublicView)                   {}
func (noopViewCache) Invalidate(context.Context, uuid.UUID)                     {}
