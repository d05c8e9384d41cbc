package redisclient

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/reserve_slots.lua
var reserveSlotsScript string

//go:embed scripts/release_slots.lua
var releaseSlotsScript string

type Client struct {
	rdb           *redis.Client
	reserveScript *redis.Script
	releaseScript *redis.Script
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
		reserveScript: redis.NewScript(reserveSlotsScript),
		releaseScript: redis.NewScript(releaseSlotsScript),
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func slotKey(poolID string) string {
	return fmt.Sprintf("pool:slots:%s", poolID)
}

// InitPoolSlots seeds the advisory slot counter for a pool
func (c *Client) InitPoolSlots(ctx context.Context, poolID string, target, taken int) error {
	pipe := c.rdb.Pipeline()
	pipe.HSet(ctx, slotKey(poolID), "target", target)
	pipe.HSet(ctx, slotKey(poolID), "taken", taken)

	_, err := pipe.Exec(ctx)
	return err
}

// TryReserveSlots runs the atomic advisory reservation. A false result means
// the pool is certainly full; a true result still has to pass the
// authoritative engine, which is why this is only a cheap fast-reject in
// front of the pool's serialization point.
func (c *Client) TryReserveSlots(ctx context.Context, poolID string, delta int) (bool, error) {
	result, err := c.reserveScript.Run(ctx, c.rdb, []string{slotKey(poolID)}, delta).Result()
	if err != nil {
		return false, fmt.Errorf("reserve slots script failed: %w", err)
	}

	admitted, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected script result type")
	}
	return admitted == 1, nil
}

// ReleaseSlots returns slots to the advisory counter
func (c *Client) ReleaseSlots(ctx context.Context, poolID string, qty int) error {
	_, err := c.releaseScript.Run(ctx, c.rdb, []string{slotKey(poolID)}, qty).Result()
	if err != nil {
		return fmt.Errorf("release slots script failed: %w", err)
	}
	return nil
}

// DropPoolSlots removes the advisory counter of a terminal pool
func (c *Client) DropPoolSlots(ctx context.Context, poolID string) error {
	return c.rdb.Del(ctx, slotKey(poolID)).Err()
}

// CachePoolStatus stores a pool status snapshot for cross-instance reads
func (c *Client) CachePoolStatus(ctx context.Context, poolID string, snapshot interface{}, ttl time.Duration) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal pool snapshot: %w", err)
	}
	return c.rdb.Set(ctx, fmt.Sprintf("pool:status:%s", poolID), data, ttl).Err()
}

// GetCachedPoolStatus retrieves a cached pool status snapshot into dest.
// Returns false when the cache has no entry.
func (c *Client) GetCachedPoolStatus(ctx context.Context, poolID string, dest interface{}) (bool, error) {
	val, err := c.rdb.Get(ctx, fmt.Sprintf("pool:status:%s", poolID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal pool snapshot: %w", err)
	}
	return true, nil
}

// CacheOffering stores a catalog offering read model with TTL
func (c *Client) CacheOffering(ctx context.Context, offeringID string, offering interface{}, ttl time.Duration) error {
	data, err := json.Marshal(offering)
	if err != nil {
		return fmt.Errorf("failed to marshal offering: %w", err)
	}
	return c.rdb.Set(ctx, fmt.Sprintf("offering:%s", offeringID), data, ttl).Err()
}

// GetCachedOffering retrieves a cached offering into dest. Returns false when
// the cache has no entry.
func (c *Client) GetCachedOffering(ctx context.Context, offeringID string, dest interface{}) (bool, error) {
	val, err := c.rdb.Get(ctx, fmt.Sprintf("offering:%s", offeringID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal offering: %w", err)
	}
	return true, nil
}

// SetIdempotencyKey stores an idempotency key with TTL
func (c *Client) SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("idempotency:%s", key), value, ttl).Err()
}

// CheckIdempotencyKey checks if an idempotency key exists
func (c *Client) CheckIdempotencyKey(ctx context.Context, key string) (bool, error) {
	result, err := c.rdb.Exists(ctx, fmt.Sprintf("idempotency:%s", key)).Result()
	if err != nil {
		return false, err
	}
	return result > 0, nil
}

// AcquireSweepLease acquires the deadline-sweeper leader lease so only one
// instance sweeps at a time
func (c *Client) AcquireSweepLease(ctx context.Context, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, "lease:deadline-sweep", "1", ttl).Result()
}

// ReleaseSweepLease releases the sweeper lease
func (c *Client) ReleaseSweepLease(ctx context.Context) error {
	return c.rdb.Del(ctx, "lease:deadline-sweep").Err()
}
