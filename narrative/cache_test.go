package narrative

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestPromptKey(t *testing.T) {
	a := PromptKey(Prompt{System: "sys", User: "user"})
	assert.Len(t, a, 64)
	assert.Equal(t, a, PromptKey(Prompt{System: "sys", User: "user"}))
	assert.NotEqual(t, a, PromptKey(Prompt{System: "sysu", User: "ser"}))
}

func TestMemoryCache(t *testing.T) {
	c := NewMemoryCache(2, time.Minute)
	ctx := context.Background()

	_, ok := c.Get(ctx, "a")
	assert.False(t, ok)

	c.Set(ctx, "a", CachedCompletion{Provider: "p", Text: "one"})
	c.Set(ctx, "b", CachedCompletion{Provider: "p", Text: "two"})
	c.Set(ctx, "c", CachedCompletion{Provider: "p", Text: "three"})

	assert.Equal(t, 2, c.Len())
	_, ok = c.Get(ctx, "a")
	assert.False(t, ok, "oldest entry is evicted")
	v, ok := c.Get(ctx, "c")
	require.True(t, ok)
	assert.Equal(t, "three", v.Text)
}

func newRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisCache(client, "", time.Hour, zaptest.NewLogger(t).Sugar()), mr
}

func TestRedisCache_RoundTrip(t *testing.T) {
	c, mr := newRedisCache(t)
	ctx := context.Background()
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	c.Set(ctx, "k", CachedCompletion{Provider: "primary", Text: "## WHAT HAPPENED\nx", CreatedAt: created})
	assert.True(t, mr.Exists("vigil:completion:k"))

	v, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "primary", v.Provider)
	assert.Equal(t, "## WHAT HAPPENED\nx", v.Text)
	assert.True(t, created.Equal(v.CreatedAt))
}

func TestRedisCache_Expiry(t *testing.T) {
	c, mr := newRedisCache(t)
	ctx := context.Background()

	c.Set(ctx, "k", CachedCompletion{Text: "x"})
	mr.FastForward(2 * time.Hour)

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestRedisCache_CorruptEntryIsAMiss(t *testing.T) {
	c, mr := newRedisCache(t)
	require.NoError(t, mr.Set("vigil:completion:bad", "\xc1not msgpack"))

	_, ok := c.Get(context.Background(), "bad")
	assert.False(t, ok)
}

func TestRedisCache_ServerDownIsAMiss(t *testing.T) {
	c, mr := newRedisCache(t)
	mr.Close()

	c.Set(context.Background(), "k", CachedCompletion{Text: "x"})
	_, ok := c.Get(context.Background(), "k")
	assert.False(t, ok)
}
