package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/reserve_stock.lua
var reserveStockScript string

//go:embed scripts/release_stock.lua
var releaseStockScript string

//go:embed scripts/commit_stock.lua
var commitStockScript string

// ErrNotCached means the product has no inventory entry in Redis
var ErrNotCached = errors.New("inventory not cached")

type Client struct {
	rdb           *redis.Client
	reserveScript *redis.Script
	releaseScript *redis.Script
	commitScript  *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
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

	return &Client{
		rdb:           rdb,
		reserveScript: redis.NewScript(reserveStockScript),
		releaseScript: redis.NewScript(releaseStockScript),
		commitScript:  redis.NewScript(commitStockScript),
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Ping checks the Redis connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func inventoryKey(productID string) string {
	return "inventory:" + productID
}

func scriptError(name string, err error) error {
	if strings.Contains(err.Error(), "NOT_CACHED") {
		return ErrNotCached
	}
	return fmt.Errorf("%s script failed: %w", name, err)
}

// ReserveStock atomically reserves stock using Lua script.
// Returns true if reservation successful, false if insufficient stock.
func (c *Client) ReserveStock(ctx context.Context, productID string, quantity int) (bool, error) {
	result, err := c.reserveScript.Run(ctx, c.rdb, []string{inventoryKey(productID)}, quantity).Result()
	if err != nil {
		return false, scriptError("reserve stock", err)
	}

	success, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected script result type %T", result)
	}

	return success == 1, nil
}

// ReleaseStock atomically releases reserved stock (compensation)
func (c *Client) ReleaseStock(ctx context.Context, productID string, quantity int) error {
	if err := c.releaseScript.Run(ctx, c.rdb, []string{inventoryKey(productID)}, quantity).Err(); err != nil {
		return scriptError("release stock", err)
	}
	return nil
}

// CommitStock atomically commits reserved stock (final deduction)
func (c *Client) CommitStock(ctx context.Context, productID string, quantity int) error {
	if err := c.commitScript.Run(ctx, c.rdb, []string{inventoryKey(productID)}, quantity).Err(); err != nil {
		return scriptError("commit stock", err)
	}
	return nil
}

// InitInventory initializes inventory count in Redis
func (c *Client) InitInventory(ctx context.Context, productID string, available, reserved int) error {
	_, err := c.rdb.HSet(ctx, inventoryKey(productID), "available", available, "reserved", reserved).Result()
	return err
}

// GetInventory retrieves current inventory counts. Returns ErrNotCached
// when the product has no entry.
func (c *Client) GetInventory(ctx context.Context, productID string) (available, reserved int, err error) {
	result, err := c.rdb.HGetAll(ctx, inventoryKey(productID)).Result()
	if err != nil {
		return 0, 0, err
	}

	if len(result) == 0 {
		return 0, 0, ErrNotCached
	}

	if available, err = strconv.Atoi(result["available"]); err != nil {
		return 0, 0, fmt.Errorf("invalid available count for product %s: %w", productID, err)
	}
	if reserved, err = strconv.Atoi(result["reserved"]); err != nil {
		return 0, 0, fmt.Errorf("invalid reserved count for product %s: %w", productID, err)
	}

	return available, reserved, nil
}

// ClaimIdempotencyKey binds key to orderID unless another order already
// holds it, in which case that order's id is returned with claimed false.
func (c *Client) ClaimIdempotencyKey(ctx context.Context, key, orderID string, ttl time.Duration) (existing string, claimed bool, err error) {
	redisKey := "idempotency:" + key

	claimed, err = c.rdb.SetNX(ctx, redisKey, orderID, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if claimed {
		return orderID, true, nil
	}

	existing, err = c.rdb.Get(ctx, redisKey).Result()
	if errors.Is(err, redis.Nil) {
		return c.ClaimIdempotencyKey(ctx, key, orderID, ttl)
	}
	if err != nil {
		return "", false, err
	}
	return existing, false, nil
}

// ReleaseIdempotencyKey forgets key so a failed request can be retried
func (c *Client) ReleaseIdempotencyKey(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, "idempotency:"+key).Err()
}
