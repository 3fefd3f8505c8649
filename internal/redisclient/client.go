package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/release_lock.lua
var releaseLockScript string

type Client struct {
	rdb           *redis.Client
	releaseScript *redis.Script
}

// NewClient creates a new Redis client and verifies connectivity
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewFromRedis(rdb), nil
}

// NewFromRedis wraps an existing connection.
func NewFromRedis(rdb *redis.Client) *Client {
	return &Client{
		rdb:           rdb,
		releaseScript: redis.NewScript(releaseLockScript),
	}
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func checkoutLockKey(userID int64) string {
	return fmt.Sprintf("lock:checkout:%d", userID)
}

// AcquireCheckoutLock takes the per-user checkout lock. The returned token
// must be passed to ReleaseCheckoutLock; ok is false when another checkout
// holds the lock.
func (c *Client) AcquireCheckoutLock(ctx context.Context, userID int64, ttl time.Duration) (token string, ok bool, err error) {
	token = uuid.New().String()
	ok, err = c.rdb.SetNX(ctx, checkoutLockKey(userID), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire checkout lock: %w", err)
	}
	return token, ok, nil
}

// ReleaseCheckoutLock deletes the lock only if token still owns it.
func (c *Client) ReleaseCheckoutLock(ctx context.Context, userID int64, token string) error {
	_, err := c.releaseScript.Run(ctx, c.rdb, []string{checkoutLockKey(userID)}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock script failed: %w", err)
	}
	return nil
}

func callbackKey(gateway, transactionID string) string {
	return fmt.Sprintf("idempotency:callback:%s:%s", gateway, transactionID)
}

// IsCallbackProcessed checks the fast-path marker for a gateway transaction.
func (c *Client) IsCallbackProcessed(ctx context.Context, gateway, transactionID string) (bool, error) {
	n, err := c.rdb.Exists(ctx, callbackKey(gateway, transactionID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkCallbackProcessed records the marker with TTL.
func (c *Client) MarkCallbackProcessed(ctx context.Context, gateway, transactionID string, ttl time.Duration) error {
	return c.rdb.Set(ctx, callbackKey(gateway, transactionID), time.Now().Unix(), ttl).Err()
}

func routeKey(key string) string {
	return "shipping:route:" + key
}

// GetRouteDistance returns a cached route distance in km.
func (c *Client) GetRouteDistance(ctx context.Context, key string) (float64, bool, error) {
	val, err := c.rdb.Get(ctx, routeKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	km, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt route distance %q: %w", val, err)
	}
	return km, true, nil
}

// SetRouteDistance caches a route distance in km.
func (c *Client) SetRouteDistance(ctx context.Context, key string, km float64, ttl time.Duration) error {
	return c.rdb.Set(ctx, routeKey(key), strconv.FormatFloat(km, 'f', -1, 64), ttl).Err()
}
