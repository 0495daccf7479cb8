package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cachedBot struct {
	ID   string   `json:"id"`
	Tags []string `json:"tags"`
}

func TestMemoryCache_SetGetDelete(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "bot:1", cachedBot{ID: "1", Tags: []string{"a"}}, time.Minute))

	var got cachedBot
	require.NoError(t, c.Get(ctx, "bot:1", &got))
	assert.Equal(t, "1", got.ID)
	assert.Equal(t, []string{"a"}, got.Tags)

	require.NoError(t, c.Delete(ctx, "bot:1"))
	assert.ErrorIs(t, c.Get(ctx, "bot:1", &got), ErrCacheMiss)
}

func TestMemoryCache_Expiry(t *testing.T) {
	c := NewMemoryCache()
	now := time.Now()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", time.Second))

	now = now.Add(2 * time.Second)
	var got string
	assert.ErrorIs(t, c.Get(ctx, "k", &got), ErrCacheMiss)
	assert.Empty(t, c.items)
}

func TestRedisCache_RoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	c := NewRedisCache(client, "router:")
	ctx := context.Background()

	var got cachedBot
	assert.ErrorIs(t, c.Get(ctx, "bot:1", &got), ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "bot:1", cachedBot{ID: "1"}, time.Minute))
	assert.True(t, mr.Exists("router:bot:1"))

	require.NoError(t, c.Get(ctx, "bot:1", &got))
	assert.Equal(t, "1", got.ID)

	mr.FastForward(2 * time.Minute)
	assert.ErrorIs(t, c.Get(ctx, "bot:1", &got), ErrCacheMiss)
}
