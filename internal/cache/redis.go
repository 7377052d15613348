// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"feedline/internal/config"
	"feedline/internal/models"

	"github.com/redis/go-redis/v9"
)

// PostCache is a read-through cache for single posts. A PostCache without a
// client is disabled: reads always miss and writes are dropped.
type PostCache struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects to Redis when cfg.RedisAddr is set. An empty address yields a
// disabled cache.
func New(ctx context.Context, cfg *config.CacheConfig) (*PostCache, error) {
	if cfg.RedisAddr == "" {
		return &PostCache{}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	slog.Info("redis connected", "addr", cfg.RedisAddr)
	return NewWithClient(client, cfg.TTL), nil
}

func NewWithClient(client *redis.Client, ttl time.Duration) *PostCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &PostCache{client: client, ttl: ttl}
}

func (c *PostCache) Enabled() bool {
	return c != nil && c.client != nil
}

func postKey(id string) string {
	return "post:" + id
}

// GetPost returns the cached post, or nil on a miss.
func (c *PostCache) GetPost(ctx context.Context, id string) (*models.Post, error) {
	if !c.Enabled() {
		return nil, nil
	}
	raw, err := c.client.Get(ctx, postKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var post models.Post
	if err := json.Unmarshal(raw, &post); err != nil {
		// Unreadable entry; drop it so the next read repopulates.
		c.client.Del(ctx, postKey(id))
		return nil, nil
	}
	return &post, nil
}

func (c *PostCache) SetPost(ctx context.Context, post *models.Post) error {
	if !c.Enabled() {
		return nil
	}
	raw, err := json.Marshal(post)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, postKey(post.ID), raw, c.ttl).Err()
}

// Invalidate removes the post. Writers call it after every committed change.
func (c *PostCache) Invalidate(ctx context.Context, id string) error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Del(ctx, postKey(id)).Err()
}

func (c *PostCache) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Close()
}
