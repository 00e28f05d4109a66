package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "callcrm:dedup:"

// Deduplicator 在一个时间窗口内拦截内容相同的重复提交。
//
// 提交内容由调用方拆成若干部分传入，按顺序拼接后取 sha256 作为 Redis key。
type Deduplicator struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewDeduplicator(rdb *redis.Client, ttl time.Duration) *Deduplicator {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Deduplicator{
		rdb: rdb,
		ttl: ttl,
	}
}

// Claim 占用一次提交。返回 false 表示窗口内已有相同提交。
func (d *Deduplicator) Claim(ctx context.Context, parts ...string) (bool, error) {
	if d == nil || d.rdb == nil || len(parts) == 0 {
		return true, nil
	}
	ok, err := d.rdb.SetNX(ctx, key(parts), "1", d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup setnx: %w", err)
	}
	return ok, nil
}

// Release 释放占用，提交处理失败时调用以允许重试。
func (d *Deduplicator) Release(ctx context.Context, parts ...string) error {
	if d == nil || d.rdb == nil || len(parts) == 0 {
		return nil
	}
	if err := d.rdb.Del(ctx, key(parts)).Err(); err != nil {
		return fmt.Errorf("dedup del: %w", err)
	}
	return nil
}

func key(parts []string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return keyPrefix + hex.EncodeToString(sum[:])
}
