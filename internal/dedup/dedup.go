// Package dedup short-circuits resubmissions of byte-identical files.
// Results are keyed by a SHA-256 content fingerprint, never by filename.
package dedup

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cogniscribe/api/internal/model"
)

const (
	resultKeyPrefix   = "dedup:"
	inflightKeyPrefix = "dedup:inflight:"
	hitsKey           = "dedup:stats:hits"
	missesKey         = "dedup:stats:misses"
)

// redisCmds is the slice of the Redis API the cache uses. *redis.Client
// satisfies it; tests substitute a fake.
type redisCmds interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
}

// Cache maps content fingerprints to prior results and serializes
// in-flight work on the same fingerprint.
type Cache struct {
	redis       redisCmds
	ttl         time.Duration
	inflightTTL time.Duration
}

// NewCache creates a dedup cache. ttl bounds result entries; inflightTTL
// bounds the per-fingerprint reservation so a crashed runner cannot
// block future submissions forever.
func NewCache(redisClient redisCmds, ttl, inflightTTL time.Duration) *Cache {
	return &Cache{redis: redisClient, ttl: ttl, inflightTTL: inflightTTL}
}

// Lookup returns the cached result for a fingerprint, if present.
// Redis failures degrade to a miss; dedup is an optimization, not a
// correctness dependency.
func (c *Cache) Lookup(ctx context.Context, fingerprint string) (*model.PipelineResult, bool) {
	data, err := c.redis.Get(ctx, resultKeyPrefix+fingerprint).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Printf("dedup lookup failed for %s: %v", shortFP(fingerprint), err)
		}
		c.count(ctx, missesKey)
		return nil, false
	}

	var result model.PipelineResult
	if err := json.Unmarshal(data, &result); err != nil {
		log.Printf("dedup entry corrupt for %s: %v", shortFP(fingerprint), err)
		c.count(ctx, missesKey)
		return nil, false
	}
	c.count(ctx, hitsKey)
	return &result, true
}

// Store caches a completed result under its fingerprint. Entries are
// read-only after creation and expire passively.
func (c *Cache) Store(ctx context.Context, fingerprint string, result *model.PipelineResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal dedup entry: %w", err)
	}
	return c.redis.Set(ctx, resultKeyPrefix+fingerprint, data, c.ttl).Err()
}

// Reserve claims a fingerprint for jobID. If another job already holds
// the reservation, its id is returned so the caller can join it instead
// of recomputing.
func (c *Cache) Reserve(ctx context.Context, fingerprint, jobID string) (existingJobID string, reserved bool) {
	ok, err := c.redis.SetNX(ctx, inflightKeyPrefix+fingerprint, jobID, c.inflightTTL).Result()
	if err != nil {
		log.Printf("dedup reserve failed for %s: %v", shortFP(fingerprint), err)
		return "", true // degrade to duplicate work rather than reject
	}
	if ok {
		return "", true
	}
	existing, err := c.redis.Get(ctx, inflightKeyPrefix+fingerprint).Result()
	if err != nil {
		// Reservation expired between SetNX and Get. Proceed independently.
		return "", true
	}
	return existing, false
}

// Release drops the in-flight reservation once the job reaches a
// terminal state.
func (c *Cache) Release(ctx context.Context, fingerprint string) {
	if err := c.redis.Del(ctx, inflightKeyPrefix+fingerprint).Err(); err != nil {
		log.Printf("dedup release failed for %s: %v", shortFP(fingerprint), err)
	}
}

// Stats returns the cumulative hit and miss counters.
func (c *Cache) Stats(ctx context.Context) (hits, misses int64) {
	hits = c.counter(ctx, hitsKey)
	misses = c.counter(ctx, missesKey)
	return hits, misses
}

func (c *Cache) count(ctx context.Context, key string) {
	if err := c.redis.Incr(ctx, key).Err(); err != nil {
		log.Printf("dedup counter %s failed: %v", key, err)
	}
}

func (c *Cache) counter(ctx context.Context, key string) int64 {
	val, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		return 0
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func shortFP(fingerprint string) string {
	if len(fingerprint) > 16 {
		return fingerprint[:16]
	}
	return fingerprint
}
