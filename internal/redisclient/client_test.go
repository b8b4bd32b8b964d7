package redisclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockTokenCompareAndDelete(t *testing.T) {
	t.Skip("Integration test - requires redis")

	c, err := NewClient("localhost:6379", "", 0)
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	token, err := c.AcquireLock(ctx, "test-lock", time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	// A second holder is refused while the lease lives.
	second, err := c.AcquireLock(ctx, "test-lock", time.Minute)
	require.NoError(t, err)
	assert.Empty(t, second)

	// A stale token must not free someone else's lock.
	require.NoError(t, c.ReleaseLock(ctx, "test-lock", "stale"))
	still, err := c.AcquireLock(ctx, "test-lock", time.Minute)
	require.NoError(t, err)
	assert.Empty(t, still)

	// The real holder releases, and the lock is free again.
	require.NoError(t, c.ReleaseLock(ctx, "test-lock", token))
	next, err := c.AcquireLock(ctx, "test-lock", time.Minute)
	require.NoError(t, err)
	assert.NotEmpty(t, next)
}
