package narrative

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"vigil/metrics"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// CachedCompletion is a provider answer stored against its prompt.
type CachedCompletion struct {
	Provider  string    `msgpack:"provider"`
	Text      string    `msgpack:"text"`
	CreatedAt time.Time `msgpack:"created_at"`
}

// CompletionCache remembers provider answers for identical sanitized prompts,
// so repeated identical alerts do not spend provider budget. Cache errors are
// never fatal to narration.
type CompletionCache interface {
	Get(ctx context.Context, key string) (CachedCompletion, bool)
	Set(ctx context.Context, key string, value CachedCompletion)
}

// PromptKey derives the cache key for a prompt.
func PromptKey(p Prompt) string {
	h := sha256.New()
	h.Write([]byte(p.System))
	h.Write([]byte{0})
	h.Write([]byte(p.User))
	return hex.EncodeToString(h.Sum(nil))
}

// MemoryCache is an in-process expiring LRU cache.
type MemoryCache struct {
	lru *expirable.LRU[string, CachedCompletion]
}

// NewMemoryCache creates an LRU cache holding at most size entries for ttl.
func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	if size <= 0 {
		size = 1024
	}
	return &MemoryCache{lru: expirable.NewLRU[string, CachedCompletion](size, nil, ttl)}
}

// Get returns a cached completion
func (c *MemoryCache) Get(_ context.Context, key string) (CachedCompletion, bool) {
	v, ok := c.lru.Get(key)
	if ok {
		metrics.CacheHits.WithLabelValues("memory").Inc()
	} else {
		metrics.CacheMisses.WithLabelValues("memory").Inc()
	}
	return v, ok
}

// Set stores a completion
func (c *MemoryCache) Set(_ context.Context, key string, value CachedCompletion) {
	c.lru.Add(key, value)
}

// Len returns the number of cached entries
func (c *MemoryCache) Len() int {
	return c.lru.Len()
}

// RedisCache shares completions between processes. Values are msgpack-encoded.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *zap.SugaredLogger
}

// NewRedisCache creates a Redis-backed completion cache
func NewRedisCache(client redis.UniversalClient, prefix string, ttl time.Duration, logger *zap.SugaredLogger) *RedisCache {
	if prefix == "" {
		prefix = "vigil:completion:"
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl, logger: logger}
}

// Get returns a cached completion
func (c *RedisCache) Get(ctx context.Context, key string) (CachedCompletion, bool) {
	var out CachedCompletion
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warnw("Completion cache read failed", "key", key, "error", err)
			metrics.CacheErrors.WithLabelValues("redis", "get").Inc()
		} else {
			metrics.CacheMisses.WithLabelValues("redis").Inc()
		}
		return out, false
	}
	if err := msgpack.Unmarshal(data, &out); err != nil {
		c.logger.Warnw("Completion cache entry is corrupt", "key", key, "error", err)
		metrics.CacheErrors.WithLabelValues("redis", "decode").Inc()
		return out, false
	}
	metrics.CacheHits.WithLabelValues("redis").Inc()
	return out, true
}

// Set stores a completion
func (c *RedisCache) Set(ctx context.Context, key string, value CachedCompletion) {
	data, err := msgpack.Marshal(value)
	if err != nil {
		c.logger.Warnw("Failed to encode completion", "key", key, "error", err)
		metrics.CacheErrors.WithLabelValues("redis", "encode").Inc()
		return
	}
	if err := c.client.Set(ctx, c.prefix+key, data, c.ttl).Err(); err != nil {
		c.logger.Warnw("Completion cache write failed", "key", key, "error", err)
		metrics.CacheErrors.WithLabelValues("redis", "set").Inc()
	}
}
