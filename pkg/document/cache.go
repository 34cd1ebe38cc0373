package document

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is an optional read-through cache for fetched documents.
// Correctness never depends on it: a lossy or unavailable cache only
// costs extra upstream calls.
type Cache interface {
	Get(ctx context.Context, id string) (*SourceDocument, bool)
	Set(ctx context.Context, doc *SourceDocument)
}

// NopCache disables caching.
type NopCache struct{}

func (NopCache) Get(context.Context, string) (*SourceDocument, bool) { return nil, false }
func (NopCache) Set(context.Context, *SourceDocument)                {}

// RedisCache stores documents as JSON with a TTL. All failures are
// logged at debug level and swallowed.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisCache creates a cache over an existing Redis client.
func NewRedisCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisCache {
	return &RedisCache{
		client: client,
		ttl:    ttl,
		logger: logger.With("component", "doccache"),
	}
}

func cacheKey(id string) string { return "doc:" + id }

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, id string) (*SourceDocument, bool) {
	data, err := c.client.Get(ctx, cacheKey(id)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.DebugContext(ctx, "cache get failed", "id", id, "error", err)
		}
		return nil, false
	}
	var doc SourceDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		c.logger.DebugContext(ctx, "cache entry corrupt", "id", id, "error", err)
		return nil, false
	}
	return &doc, true
}

// Set implements Cache.
func (c *RedisCache) Set(ctx context.Context, doc *SourceDocument) {
	data, err := json.Marshal(doc)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, cacheKey(doc.ID), data, c.ttl).Err(); err != nil {
		c.logger.DebugContext(ctx, "cache set failed", "id", doc.ID, "error", err)
	}
}
