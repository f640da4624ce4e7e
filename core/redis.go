package core

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseClaimScript deletes the claim only if it still carries our token, so a
// claim that expired and was re-taken by another worker is left alone.
var releaseClaimScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// NewRedisClient creates a go-redis client from connection settings
func NewRedisClient(addr, password string, db, poolSize int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: poolSize,
	})
}

// RedisClaimLocker is a ClaimLocker shared by every vigil process pointed at the
// same Redis. Claims expire after ttl so a crashed worker never strands an alert.
type RedisClaimLocker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *zap.SugaredLogger
}

// NewRedisClaimLocker creates a Redis-backed claim locker
func NewRedisClaimLocker(client redis.UniversalClient, prefix string, ttl time.Duration, logger *zap.SugaredLogger) *RedisClaimLocker {
	if prefix == "" {
		prefix = "vigil:claim:"
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisClaimLocker{client: client, prefix: prefix, ttl: ttl, logger: logger}
}

// Claim sets the claim key with SETNX and a random owner token.
func (l *RedisClaimLocker) Claim(ctx context.Context, key string) (func(), bool, error) {
	redisKey := l.prefix + key
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
	if err != nil {
		return func() {}, false, fmt.Errorf("failed to claim %s: %w", key, err)
	}
	if !ok {
		return func() {}, false, nil
	}

	return func() {
		// Release must not be cut short by the caller's context being done.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseClaimScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err(); err != nil {
			l.logger.Warnw("Failed to release claim", "key", key, "error", err)
		}
	}, true, nil
}
