package cache_test

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rai/orderhistory-go/modules/orderhistory/application/queries"
	"github.com/rai/orderhistory-go/modules/orderhistory/infrastructure/cache"
)

// fakeRedis is an in-process stand-in for the go-redis client. Eval runs the
// Go equivalent of the cache's scripts.
type fakeRedis struct {
	values map[string]string
	ttls   map[string]time.Duration
	err    error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Eval(_ context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	if f.err != nil {
		return redis.NewCmdResult(nil, f.err)
	}
	switch script {
	case cache.SetIfCurrentScript:
		if floor, ok := f.values[keys[1]]; ok && toInt(args[1]) < toInt(floor) {
			return redis.NewCmdResult(int64(0), nil)
		}
		f.values[keys[0]] = string(args[0].([]byte))
		f.ttls[keys[0]] = time.Duration(toInt(args[2])) * time.Millisecond
		return redis.NewCmdResult(int64(1), nil)
	case cache.RaiseFloorScript:
		if floor, ok := f.values[keys[0]]; !ok || toInt(floor) < toInt(args[0]) {
			f.values[keys[0]] = fmt.Sprint(args[0])
			f.ttls[keys[0]] = time.Duration(toInt(args[1])) * time.Millisecond
		}
		delete(f.values, keys[1])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(nil, errors.New("unknown script"))
}

func toInt(v interface{}) int64 {
	n, err := strconv.ParseInt(fmt.Sprint(v), 10, 64)
	if err != nil {
		panic(err)
	}
	return n
}

func TestRedisOrderCache_RoundTrip(t *testing.T) {
	client := newFakeRedis()
	c := cache.NewRedisOrderCache(client, time.Minute)
	ctx := context.Background()

	got, err := c.Get(ctx, "order-1")
	if err != nil || got != nil {
		t.Fatalf("miss: got %v, err %v", got, err)
	}

	order := &queries.OrderDTO{OrderID: "order-1", ConsumerID: "consumer-1", Status: "APPROVED", Version: 2}
	if err := c.Set(ctx, order); err != nil {
		t.Fatalf("set: %v", err)
	}
	if ttl := client.ttls["orderhistory:order:order-1"]; ttl != time.Minute {
		t.Errorf("ttl = %v, want 1m", ttl)
	}

	got, err = c.Get(ctx, "order-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.Status != "APPROVED" || got.ConsumerID != "consumer-1" || got.Version != 2 {
		t.Fatalf("got %+v", got)
	}

	if err := c.Invalidate(ctx, "order-1", 3); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if got, _ := c.Get(ctx, "order-1"); got != nil {
		t.Errorf("expected miss after invalidate, got %+v", got)
	}
}

func TestRedisOrderCache_SkipsCopiesOlderThanInvalidation(t *testing.T) {
	client := newFakeRedis()
	c := cache.NewRedisOrderCache(client, time.Minute)
	ctx := context.Background()

	// A reader loaded version 1, then the projector saved version 2 and
	// invalidated before the reader got to write its copy.
	stale := &queries.OrderDTO{OrderID: "order-1", Status: "APPROVAL_PENDING", Version: 1}
	if err := c.Invalidate(ctx, "order-1", 2); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if err := c.Set(ctx, stale); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got, _ := c.Get(ctx, "order-1"); got != nil {
		t.Fatalf("stale copy was cached: %+v", got)
	}

	fresh := &queries.OrderDTO{OrderID: "order-1", Status: "CANCELLED", Version: 2}
	if err := c.Set(ctx, fresh); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got, _ := c.Get(ctx, "order-1"); got == nil || got.Status != "CANCELLED" {
		t.Fatalf("expected the current copy, got %+v", got)
	}
}

func TestRedisOrderCache_FloorNeverMovesDown(t *testing.T) {
	client := newFakeRedis()
	c := cache.NewRedisOrderCache(client, time.Minute)
	ctx := context.Background()

	if err := c.Invalidate(ctx, "order-1", 5); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if err := c.Invalidate(ctx, "order-1", 3); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if err := c.Set(ctx, &queries.OrderDTO{OrderID: "order-1", Version: 4}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got, _ := c.Get(ctx, "order-1"); got != nil {
		t.Errorf("version 4 cached after version 5 was announced: %+v", got)
	}
}

func TestRedisOrderCache_Errors(t *testing.T) {
	client := newFakeRedis()
	client.err = errors.New("connection refused")
	c := cache.NewRedisOrderCache(client, time.Minute)
	ctx := context.Background()

	if _, err := c.Get(ctx, "order-1"); err == nil {
		t.Error("get: expected error")
	}
	if err := c.Set(ctx, &queries.OrderDTO{OrderID: "order-1"}); err == nil {
		t.Error("set: expected error")
	}
	if err := c.Invalidate(ctx, "order-1", 1); err == nil {
		t.Error("invalidate: expected error")
	}
}
