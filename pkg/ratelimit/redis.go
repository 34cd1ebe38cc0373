package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// redisSlidingWindowScript runs the sliding-window check atomically.
// KEYS[1] = window key (e.g. "ratelimit:pubmed")
// ARGV[1] = now (microseconds)
// ARGV[2] = window length (microseconds)
// ARGV[3] = limit
// ARGV[4] = unique member for this call
// Returns {granted, retry_after_micros}.
var redisSlidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call("ZREMRANGEBYSCORE", key, 0, now - window)

local count = redis.call("ZCARD", key)
if count >= limit then
    local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
    local retry = 0
    if oldest[2] then
        retry = tonumber(oldest[2]) + window - now
    end
    return {0, retry}
end

redis.call("ZADD", key, now, member)
redis.call("PEXPIRE", key, math.ceil(window / 1000))
return {1, 0}
`)

// RedisStore shares one sliding window per key across processes.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a store over an existing Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Acquire implements Store.
func (s *RedisStore) Acquire(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	now := time.Now().UnixMicro()

	res, err := redisSlidingWindowScript.Run(ctx, s.client,
		[]string{"ratelimit:" + key},
		now, window.Microseconds(), limit, uuid.NewString(),
	).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: redis acquire: %w", err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return Decision{}, fmt.Errorf("ratelimit: unexpected script response %v", res)
	}

	granted, _ := vals[0].(int64)
	retryMicros, _ := vals[1].(int64)
	return Decision{
		Granted:    granted == 1,
		RetryAfter: time.Duration(retryMicros) * time.Microsecond,
	}, nil
}
