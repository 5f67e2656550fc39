// Package cache provides a Redis-backed read cache for rendered tree
// views. Keys embed a per-forest generation counter; a structural mutation
// bumps the generation so every cached view of that forest ages out
// without any scan or delete.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultTTL = 5 * time.Minute

// TreeCache caches serialized query results per (forest, generation, view,
// node). A nil *TreeCache is valid and disables caching.
type TreeCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// New connects to Redis and verifies the connection.
func New(redisURL string) (*TreeCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &TreeCache{client: client, prefix: "tree:", ttl: defaultTTL}, nil
}

// NewWithClient wraps an existing client; used by tests with miniredis.
func NewWithClient(client *redis.Client) *TreeCache {
	return &TreeCache{client: client, prefix: "tree:", ttl: defaultTTL}
}

func (c *TreeCache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}

func (c *TreeCache) genKey(forestID string) string {
	return c.prefix + "gen:" + forestID
}

func (c *TreeCache) generation(ctx context.Context, forestID string) (string, error) {
	gen, err := c.client.Get(ctx, c.genKey(forestID)).Result()
	if errors.Is(err, redis.Nil) {
		return "0", nil
	}
	if err != nil {
		return "", err
	}
	return gen, nil
}

func (c *TreeCache) viewKey(gen, forestID, view, nodeID string) string {
	return c.prefix + forestID + ":" + gen + ":" + view + ":" + nodeID
}

// Get returns the cached payload for a view, or ok=false on any miss or
// Redis error. Cache failures never fail the request.
func (c *TreeCache) Get(ctx context.Context, forestID, view, nodeID string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	gen, err := c.generation(ctx, forestID)
	if err != nil {
		return nil, false
	}
	payload, err := c.client.Get(ctx, c.viewKey(gen, forestID, view, nodeID)).Bytes()
	if err != nil {
		return nil, false
	}
	return payload, true
}

// Set stores a rendered view payload under the forest's current generation.
func (c *TreeCache) Set(ctx context.Context, forestID, view, nodeID string, payload []byte) {
	if c == nil {
		return
	}
	gen, err := c.generation(ctx, forestID)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, c.viewKey(gen, forestID, view, nodeID), payload, c.ttl).Err()
}

// Invalidate bumps the generation of every named forest, orphaning all
// cached views for those forests at once.
func (c *TreeCache) Invalidate(ctx context.Context, forestIDs ...string) {
	if c == nil {
		return
	}
	for _, forestID := range forestIDs {
		if forestID == "" {
			continue
		}
		_ = c.client.Incr(ctx, c.genKey(forestID)).Err()
	}
}
