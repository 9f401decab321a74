package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cogniscribe/api/internal/apperr"
	"github.com/cogniscribe/api/internal/model"
)

// RedisCache implements CacheTier. Entries carry a TTL so the tier
// never needs active sweeping.
type RedisCache struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisCache creates the volatile cache tier.
func NewRedisCache(redisClient *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{redis: redisClient, ttl: ttl}
}

func jobKey(id string) string {
	return fmt.Sprintf("job:%s", id)
}

// SaveJob stores the job snapshot as JSON under its TTL.
func (c *RedisCache) SaveJob(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return c.redis.Set(ctx, jobKey(job.ID), data, c.ttl).Err()
}

// GetJob returns apperr.ErrNotFound on a cache miss.
func (c *RedisCache) GetJob(ctx context.Context, id string) (*model.Job, error) {
	data, err := c.redis.Get(ctx, jobKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return &job, nil
}

// DeleteJob evicts the job snapshot.
func (c *RedisCache) DeleteJob(ctx context.Context, id string) error {
	return c.redis.Del(ctx, jobKey(id)).Err()
}
