// Package redis provides the advisory locks the queue processor and retry
// scheduler use to avoid duplicate pickup across daemon instances. Locks are
// best-effort: correctness still rests on the conditional status updates in
// storage.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps Redis operations for pipeline coordination.
type Client struct {
	rdb *redis.Client
}

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Key helpers
func itemLockKey(itemID string) string {
	return fmt.Sprintf("enrichd:item_lock:%s", itemID)
}

func sweepLockKey() string {
	return "enrichd:retry_sweep_lock"
}

// AcquireItemLock attempts to take the processing lock for one queue item.
func (c *Client) AcquireItemLock(ctx context.Context, itemID string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, itemLockKey(itemID), "locked", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx failed: %w", err)
	}
	return ok, nil
}

// ReleaseItemLock releases an item's processing lock.
func (c *Client) ReleaseItemLock(ctx context.Context, itemID string) error {
	return c.rdb.Del(ctx, itemLockKey(itemID)).Err()
}

// RefreshItemLock extends the TTL of an item lock while a long step runs.
func (c *Client) RefreshItemLock(ctx context.Context, itemID string, ttl time.Duration) error {
	return c.rdb.Expire(ctx, itemLockKey(itemID), ttl).Err()
}

// AcquireSweepLock attempts to take the global retry-sweep lock so only one
// instance sweeps due items at a time.
func (c *Client) AcquireSweepLock(ctx context.Context, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, sweepLockKey(), "locked", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx failed: %w", err)
	}
	return ok, nil
}

// ReleaseSweepLock releases the retry-sweep lock.
func (c *Client) ReleaseSweepLock(ctx context.Context) error {
	return c.rdb.Del(ctx, sweepLockKey()).Err()
}
