package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"feedline/internal/config"
	"feedline/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledCacheIsNoop(t *testing.T) {
	c, err := New(context.Background(), &config.CacheConfig{})
	require.NoError(t, err)
	assert.False(t, c.Enabled())

	ctx := context.Background()
	require.NoError(t, c.SetPost(ctx, &models.Post{ID: "p1"}))
	got, err := c.GetPost(ctx, "p1")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, c.Invalidate(ctx, "p1"))
	assert.NoError(t, c.Close())
}

func TestRedisRoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	c := NewWithClient(client, time.Minute)
	t.Cleanup(func() { c.Close() })

	post := &models.Post{ID: "cache-test-post", Title: "hi", LikesCount: 7}
	require.NoError(t, c.SetPost(ctx, post))

	got, err := c.GetPost(ctx, post.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 7, got.LikesCount)

	require.NoError(t, c.Invalidate(ctx, post.ID))
	got, err = c.GetPost(ctx, post.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}
