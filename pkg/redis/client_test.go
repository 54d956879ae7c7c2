package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/novelnest/bookmatch/pkg/config"
)

func skipIfNoRedis(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	c, err := NewClient(config.RedisConfig{Addr: addr, DB: 15, PoolSize: 2})
	if err != nil {
		t.Skipf("skipping integration test: redis unavailable: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestIsNilError(t *testing.T) {
	if !IsNilError(redis.Nil) {
		t.Error("redis.Nil not recognised")
	}
	if !IsNilError(fmt.Errorf("wrapped: %w", redis.Nil)) {
		t.Error("wrapped redis.Nil not recognised")
	}
	if IsNilError(fmt.Errorf("other")) {
		t.Error("unrelated error treated as nil")
	}
}

func TestClientRoundTrip(t *testing.T) {
	c := skipIfNoRedis(t)
	ctx := context.Background()
	prefix := fmt.Sprintf("bookmatch-test:%d:", time.Now().UnixNano())
	for i := 0; i < 150; i++ {
		if err := c.Set(ctx, fmt.Sprintf("%s%d", prefix, i), "v", time.Minute); err != nil {
			t.Fatal(err)
		}
	}
	v, err := c.Get(ctx, prefix+"7")
	if err != nil || v != "v" {
		t.Fatalf("Get = %q, %v", v, err)
	}
	n, err := c.FlushByPattern(ctx, prefix+"*")
	if err != nil {
		t.Fatal(err)
	}
	if n != 150 {
		t.Errorf("deleted %d keys, want 150", n)
	}
	if _, err := c.Get(ctx, prefix+"7"); !IsNilError(err) {
		t.Errorf("Get after flush err = %v", err)
	}
}
