package ratelimit

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRateLimiter_AllowReducesTokens(t *testing.T) {
	rdb := newMiniRedis(t)
	defer closeRedis(t, rdb)

	limiter := NewRedisRateLimiter(rdb, nil, "test:login:", 10, 2)
	d, err := limiter.Allow(context.Background(), "10.0.0.1")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if !d.Allowed {
		t.Fatalf("expected first call to be allowed")
	}

	tokensStr, err := rdb.HGet(context.Background(), "test:login:10.0.0.1", "level").Result()
	if err != nil {
		t.Fatalf("hget level: %v", err)
	}
	tokens, err := strconv.ParseFloat(tokensStr, 64)
	if err != nil {
		t.Fatalf("parse tokens: %v", err)
	}
	if tokens > 1.1 {
		t.Fatalf("expected tokens to decrease, got %.2f", tokens)
	}
}

func TestRateLimiter_RejectsWhenEmpty(t *testing.T) {
	rdb := newMiniRedis(t)
	defer closeRedis(t, rdb)

	now := time.UnixMilli(1_700_000_000_000)
	limiter := NewRedisRateLimiter(rdb, nil, "test:login:", 1, 2)
	limiter.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		d, err := limiter.Allow(context.Background(), "ip")
		if err != nil || !d.Allowed {
			t.Fatalf("call %d: allowed=%v err=%v", i, d.Allowed, err)
		}
	}

	d, err := limiter.Allow(context.Background(), "ip")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if d.Allowed {
		t.Fatalf("expected third call to be rejected")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Second {
		t.Fatalf("unexpected retry after %v", d.RetryAfter)
	}

	now = now.Add(time.Second)
	d, err = limiter.Allow(context.Background(), "ip")
	if err != nil || !d.Allowed {
		t.Fatalf("expected refill after 1s: allowed=%v err=%v", d.Allowed, err)
	}
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	rdb := newMiniRedis(t)
	defer closeRedis(t, rdb)

	limiter := NewRedisRateLimiter(rdb, nil, "", 0.01, 1)
	if d, _ := limiter.Allow(context.Background(), "a"); !d.Allowed {
		t.Fatalf("a should be allowed")
	}
	if d, _ := limiter.Allow(context.Background(), "a"); d.Allowed {
		t.Fatalf("a should be exhausted")
	}
	if d, _ := limiter.Allow(context.Background(), "b"); !d.Allowed {
		t.Fatalf("b should have its own bucket")
	}

	if err := limiter.Reset(context.Background(), "a"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if d, _ := limiter.Allow(context.Background(), "a"); !d.Allowed {
		t.Fatalf("a should be allowed after reset")
	}
}

func TestRateLimiter_DisabledAlwaysAllows(t *testing.T) {
	limiter := NewRedisRateLimiter(nil, nil, "", 0, 0)
	for i := 0; i < 5; i++ {
		d, err := limiter.Allow(context.Background(), "x")
		if err != nil || !d.Allowed {
			t.Fatalf("disabled limiter rejected: %v", err)
		}
	}
}

func TestRateLimiter_ConcurrentAllow(t *testing.T) {
	rdb := newMiniRedis(t)
	defer closeRedis(t, rdb)

	limiter := NewRedisRateLimiter(rdb, nil, "test:concurrent:", 0.01, 5)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := limiter.Allow(context.Background(), "shared")
			if err != nil {
				t.Errorf("allow: %v", err)
				return
			}
			if d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 5 {
		t.Fatalf("expected 5 allowed, got %d", allowed)
	}
}

func newMiniRedis(t *testing.T) *redis.Client {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(s.Close)
	return redis.NewClient(&redis.Options{Addr: s.Addr()})
}

func closeRedis(t *testing.T, rdb *redis.Client) {
	t.Helper()
	if err := rdb.Close(); err != nil {
		t.Fatalf("close redis: %v", err)
	}
}
