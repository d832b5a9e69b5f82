package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

// setupRedisCacheTest starts miniredis and returns a connected cache.
func setupRedisCacheTest(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}

	c, err := NewRedisCache(RedisConfig{URL: "redis://" + mr.Addr(), Prefix: "test:"})
	if err != nil {
		mr.Close()
		t.Fatalf("Failed to create redis cache: %v", err)
	}

	t.Cleanup(func() {
		c.Close()
		mr.Close()
	})
	return c, mr
}

func TestNewRedisCache_InvalidURL(t *testing.T) {
	if _, err := NewRedisCache(RedisConfig{URL: "invalid://url"}); err == nil {
		t.Fatal("Expected error for invalid redis URL")
	}
}

func TestRedisCache_GetSetDelete(t *testing.T) {
	c, mr := setupRedisCacheTest(t)
	ctx := context.Background()
	key := NewKey("Roles", "getRoles")

	if _, ok, err := c.Get(ctx, key); err != nil || ok {
		t.Fatalf("Expected miss, got ok=%v err=%v", ok, err)
	}

	if err := c.Set(ctx, key, []byte(`[1,2]`), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if !mr.Exists("test:Roles:getRoles") {
		t.Fatal("Expected prefixed key in redis")
	}
	if ttl := mr.TTL("test:Roles:getRoles"); ttl != time.Minute {
		t.Errorf("Expected TTL of 1m, got %v", ttl)
	}

	got, ok, err := c.Get(ctx, key)
	if err != nil || !ok || string(got) != `[1,2]` {
		t.Fatalf("Expected hit with [1,2], got %q ok=%v err=%v", got, ok, err)
	}

	if err := c.Delete(ctx, key, NewKey("Roles", "getRoot")); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok, _ := c.Get(ctx, key); ok {
		t.Fatal("Expected miss after delete")
	}
}

func TestRedisCache_Expiry(t *testing.T) {
	c, mr := setupRedisCacheTest(t)
	ctx := context.Background()
	key := NewKey("Roles", "getUsers", 2)

	if err := c.Set(ctx, key, Empty, time.Second); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	mr.FastForward(2 * time.Second)

	if _, ok, _ := c.Get(ctx, key); ok {
		t.Fatal("Expected entry to expire")
	}
}

func TestRedisCache_DeletePattern(t *testing.T) {
	c, _ := setupRedisCacheTest(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		if err := c.Set(ctx, NewKey("Roles", "getSiblings", i), []byte("x"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}
	if err := c.Set(ctx, NewKey("Other", "keep"), []byte("x"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	n, err := c.DeletePattern(ctx, "Roles:*")
	if err != nil {
		t.Fatalf("DeletePattern failed: %v", err)
	}
	if n != 5 {
		t.Errorf("Expected 5 deleted keys, got %d", n)
	}
	if _, ok, _ := c.Get(ctx, NewKey("Other", "keep")); !ok {
		t.Error("Expected unrelated key to survive")
	}
}

func TestRedisCache_ServerDown(t *testing.T) {
	c, mr := setupRedisCacheTest(t)
	mr.Close()

	if _, _, err := c.Get(context.Background(), NewKey("Roles", "getRoles")); err == nil {
		t.Fatal("Expected error when redis is unreachable")
	}
}
