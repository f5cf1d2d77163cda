// Package cache keeps recently read orders in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rai/orderhistory-go/modules/orderhistory/application/queries"
)

const keyPrefix = "orderhistory:order:"

// setIfCurrent writes KEYS[1] unless KEYS[2] holds a version newer than
// ARGV[2]. It returns 1 when the entry was written.
const setIfCurrent = `
local floor = redis.call('GET', KEYS[2])
if floor and tonumber(ARGV[2]) < tonumber(floor) then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`

// raiseFloor lifts the floor in KEYS[1] to ARGV[1] and drops the entry in
// KEYS[2]. The floor never moves down.
const raiseFloor = `
local floor = redis.call('GET', KEYS[1])
if not floor or tonumber(floor) < tonumber(ARGV[1]) then
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
end
redis.call('DEL', KEYS[2])
return 1
`

// Client is the subset of the go-redis client the cache uses.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// RedisOrderCache stores OrderDTOs as JSON under a per-order key. Next to
// each entry it keeps the lowest version still allowed into the cache, so a
// read that raced with an update cannot put the older copy back.
type RedisOrderCache struct {
	client Client
	ttl    time.Duration
}

func NewRedisOrderCache(client Client, ttl time.Duration) *RedisOrderCache {
	return &RedisOrderCache{client: client, ttl: ttl}
}

func key(orderID string) string {
	return keyPrefix + orderID
}

func floorKey(orderID string) string {
	return keyPrefix + orderID + ":floor"
}

// Get returns (nil, nil) on a miss.
func (c *RedisOrderCache) Get(ctx context.Context, orderID string) (*queries.OrderDTO, error) {
	val, err := c.client.Get(ctx, key(orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", orderID, err)
	}

	var order queries.OrderDTO
	if err := json.Unmarshal(val, &order); err != nil {
		return nil, fmt.Errorf("decode cached order %s: %w", orderID, err)
	}
	return &order, nil
}

// Set caches order unless an invalidation has already announced a newer
// version. A skipped write is not an error.
func (c *RedisOrderCache) Set(ctx context.Context, order *queries.OrderDTO) error {
	data, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("encode order %s: %w", order.OrderID, err)
	}
	err = c.client.Eval(ctx, setIfCurrent,
		[]string{key(order.OrderID), floorKey(order.OrderID)},
		data, order.Version, c.ttl.Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("redis set %s: %w", order.OrderID, err)
	}
	return nil
}

// Invalidate drops the entry and keeps copies older than version out.
func (c *RedisOrderCache) Invalidate(ctx context.Context, orderID string, version int64) error {
	err := c.client.Eval(ctx, raiseFloor,
		[]string{floorKey(orderID), key(orderID)},
		version, c.ttl.Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("redis invalidate %s: %w", orderID, err)
	}
	return nil
}
