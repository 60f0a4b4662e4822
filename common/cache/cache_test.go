package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/queueboard/common/logger"
)

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(logger.Discard())
	defer c.Close()

	require.NoError(t, c.Set(ctx, "snapshot:2025-01-10", []byte("a"), time.Minute))
	require.NoError(t, c.Set(ctx, "stats:2025-01-10", []byte("b"), time.Minute))
	require.NoError(t, c.Set(ctx, "expired", []byte("c"), -time.Second))

	v, ok, err := c.Get(ctx, "snapshot:2025-01-10")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("a"), v)

	_, ok, _ = c.Get(ctx, "expired")
	assert.False(t, ok)

	require.NoError(t, c.Delete(ctx, "snapshot:2025-01-10", "stats:2025-01-10"))
	_, ok, _ = c.Get(ctx, "stats:2025-01-10")
	assert.False(t, ok)
}

func TestMemoryCacheUsableAfterClose(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(logger.Discard())
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
}
