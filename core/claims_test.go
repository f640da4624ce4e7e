package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryClaimLocker(t *testing.T) {
	locker := NewMemoryClaimLocker()
	ctx := context.Background()

	release, ok, err := locker.Claim(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, _ = locker.Claim(ctx, "a")
	assert.False(t, ok)

	release()
	release() // second call is a no-op

	_, ok, _ = locker.Claim(ctx, "a")
	assert.True(t, ok)
}

func TestClaimAll_ReleasesPartialClaims(t *testing.T) {
	locker := NewMemoryClaimLocker()
	ctx := context.Background()

	holdB, ok, err := locker.Claim(ctx, "b")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = ClaimAll(ctx, locker, []string{"c", "a", "b"})
	require.NoError(t, err)
	assert.False(t, ok)

	// "a" was claimed before "b" failed and must have been handed back.
	_, ok, _ = locker.Claim(ctx, "a")
	assert.True(t, ok)

	holdB()
	release, ok, err := ClaimAll(ctx, locker, []string{"b", "c"})
	require.NoError(t, err)
	require.True(t, ok)
	release()

	_, ok, _ = locker.Claim(ctx, "c")
	assert.True(t, ok)
}
