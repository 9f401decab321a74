package dedup

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cogniscribe/api/internal/model"
)

// fakeRedis backs the redisCmds interface with a plain map.
type fakeRedis struct {
	data map[string]string
	err  error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string]string)}
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	val, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(val, nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	f.data[key] = asString(value)
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	if f.err != nil {
		return redis.NewBoolResult(false, f.err)
	}
	if _, held := f.data[key]; held {
		return redis.NewBoolResult(false, nil)
	}
	f.data[key] = asString(value)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	var n int64
	for _, key := range keys {
		if _, ok := f.data[key]; ok {
			delete(f.data, key)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) Incr(ctx context.Context, key string) *redis.IntCmd {
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	n, _ := strconv.ParseInt(f.data[key], 10, 64)
	n++
	f.data[key] = strconv.FormatInt(n, 10)
	return redis.NewIntResult(n, nil)
}

func asString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	}
	return ""
}

const testFP = "b5bb9d8014a0f9b1d61e21e796d78dccdf1352f23cd32812f4850b878ae4944c"

func TestLookupMissThenHit(t *testing.T) {
	fake := newFakeRedis()
	cache := NewCache(fake, time.Hour, time.Minute)
	ctx := context.Background()

	_, ok := cache.Lookup(ctx, testFP)
	assert.False(t, ok)

	result := &model.PipelineResult{Transcript: "hello", Summary: "- hello"}
	require.NoError(t, cache.Store(ctx, testFP, result))

	got, ok := cache.Lookup(ctx, testFP)
	require.True(t, ok)
	assert.Equal(t, "hello", got.Transcript)
	assert.Equal(t, "- hello", got.Summary)

	hits, misses := cache.Stats(ctx)
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestLookupDegradesToMissOnRedisFailure(t *testing.T) {
	fake := newFakeRedis()
	fake.err = errors.New("connection refused")
	cache := NewCache(fake, time.Hour, time.Minute)

	_, ok := cache.Lookup(context.Background(), testFP)
	assert.False(t, ok)
}

func TestLookupDegradesToMissOnCorruptEntry(t *testing.T) {
	fake := newFakeRedis()
	fake.data[resultKeyPrefix+testFP] = "{not json"
	cache := NewCache(fake, time.Hour, time.Minute)

	_, ok := cache.Lookup(context.Background(), testFP)
	assert.False(t, ok)
}

func TestReserveSerializesConcurrentSubmissions(t *testing.T) {
	fake := newFakeRedis()
	cache := NewCache(fake, time.Hour, time.Minute)
	ctx := context.Background()

	existing, reserved := cache.Reserve(ctx, testFP, "job-1")
	assert.True(t, reserved)
	assert.Empty(t, existing)

	// Second submission with the same fingerprint joins job-1.
	existing, reserved = cache.Reserve(ctx, testFP, "job-2")
	assert.False(t, reserved)
	assert.Equal(t, "job-1", existing)

	// Once released the fingerprint can be reserved again.
	cache.Release(ctx, testFP)
	_, reserved = cache.Reserve(ctx, testFP, "job-3")
	assert.True(t, reserved)
}

func TestReserveDegradesOnRedisFailure(t *testing.T) {
	fake := newFakeRedis()
	fake.err = errors.New("connection refused")
	cache := NewCache(fake, time.Hour, time.Minute)

	// Duplicate work is preferable to rejecting the submission.
	_, reserved := cache.Reserve(context.Background(), testFP, "job-1")
	assert.True(t, reserved)
}
