package core

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRedisClaimLocker_ClaimAndRelease(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := NewRedisClient(mr.Addr(), "", 0, 4)
	defer client.Close()
	locker := NewRedisClaimLocker(client, "test:", 10*time.Second, zaptest.NewLogger(t).Sugar())
	ctx := context.Background()

	release, ok, err := locker.Claim(ctx, "alert-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, mr.Exists("test:alert-1"))

	_, ok, err = locker.Claim(ctx, "alert-1")
	require.NoError(t, err)
	assert.False(t, ok, "a held claim cannot be taken twice")

	release()
	assert.False(t, mr.Exists("test:alert-1"))

	_, ok, err = locker.Claim(ctx, "alert-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisClaimLocker_ExpiredClaimIsNotReleasedByOldOwner(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := NewRedisClient(mr.Addr(), "", 0, 4)
	defer client.Close()
	locker := NewRedisClaimLocker(client, "test:", 5*time.Second, zaptest.NewLogger(t).Sugar())
	ctx := context.Background()

	staleRelease, ok, err := locker.Claim(ctx, "alert-2")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(6 * time.Second)

	_, ok, err = locker.Claim(ctx, "alert-2")
	require.NoError(t, err)
	require.True(t, ok, "claim is available after its ttl")

	staleRelease()
	assert.True(t, mr.Exists("test:alert-2"), "the new owner's claim must survive the stale release")
}

func TestRedisClaimLocker_ConnectionError(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := NewRedisClient(mr.Addr(), "", 0, 1)
	defer client.Close()
	mr.Close()

	locker := NewRedisClaimLocker(client, "", 0, zaptest.NewLogger(t).Sugar())
	_, ok, err := locker.Claim(context.Background(), "alert-3")
	assert.Error(t, err)
	assert.False(t, ok)
}
