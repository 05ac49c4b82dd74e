// Package presence counts live realtime sessions per identity so that one
// device disconnecting does not mark a user offline while another device is
// still connected.
package presence

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type Counter interface {
	// Incr registers one more live session and returns the new count.
	Incr(ctx context.Context, userID uint) (int64, error)
	// Decr drops one live session and returns the remaining count, never below zero.
	Decr(ctx context.Context, userID uint) (int64, error)
	// Reset forgets every session of the identity.
	Reset(ctx context.Context, userID uint) error
}

// MemoryCounter is the single-instance Counter.
type MemoryCounter struct {
	mu sync.Mutex
	m  map[uint]int64
}

func NewMemoryCounter() *MemoryCounter { return &MemoryCounter{m: make(map[uint]int64)} }

func (c *MemoryCounter) Incr(_ context.Context, userID uint) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[userID]++
	return c.m[userID], nil
}

func (c *MemoryCounter) Decr(_ context.Context, userID uint) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.m[userID] - 1
	if n <= 0 {
		delete(c.m, userID)
		return 0, nil
	}
	c.m[userID] = n
	return n, nil
}

func (c *MemoryCounter) Reset(_ context.Context, userID uint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, userID)
	return nil
}

// RedisCounter shares session counts between gateway instances.
type RedisCounter struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisCounter keeps each key alive for ttl after its last change so a
// crashed instance cannot pin a user online forever.
func NewRedisCounter(rdb *redis.Client, ttl time.Duration) *RedisCounter {
	return &RedisCounter{rdb: rdb, ttl: ttl}
}

func key(userID uint) string {
	return "presence:sessions:" + strconv.FormatUint(uint64(userID), 10)
}

func (c *RedisCounter) Incr(ctx context.Context, userID uint) (int64, error) {
	pipe := c.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key(userID))
	pipe.Expire(ctx, key(userID), c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (c *RedisCounter) Decr(ctx context.Context, userID uint) (int64, error) {
	n, err := c.rdb.Decr(ctx, key(userID)).Result()
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, c.rdb.Del(ctx, key(userID)).Err()
	}
	return n, c.rdb.Expire(ctx, key(userID), c.ttl).Err()
}

// Touch extends the key lifetime; called from the connection heartbeat.
func (c *RedisCounter) Touch(ctx context.Context, userID uint) error {
	return c.rdb.Expire(ctx, key(userID), c.ttl).Err()
}

func (c *RedisCounter) Reset(ctx context.Context, userID uint) error {
	return c.rdb.Del(ctx, key(userID)).Err()
}
