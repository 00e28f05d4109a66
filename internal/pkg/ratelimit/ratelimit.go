package ratelimit

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"callcrm/internal/pkg/metrics"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "callcrm:ratelimit:"

// 令牌桶脚本。KEYS[1] 为桶；ARGV: 每毫秒补充量, 容量, 当前毫秒时间, 过期毫秒。
// 返回 {是否放行, 需等待的毫秒数}。
const tokenBucketLua = `
local perMs = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local nowMs = tonumber(ARGV[3])
local ttlMs = tonumber(ARGV[4])

local level = tonumber(redis.call("HGET", KEYS[1], "level") or capacity)
local last = tonumber(redis.call("HGET", KEYS[1], "last") or nowMs)
if nowMs > last then
  level = math.min(capacity, level + (nowMs - last) * perMs)
end

local ok = 0
local waitMs = 0
if level >= 1 then
  level = level - 1
  ok = 1
else
  waitMs = math.ceil((1 - level) / perMs)
end

redis.call("HSET", KEYS[1], "level", tostring(level), "last", nowMs)
redis.call("PEXPIRE", KEYS[1], ttlMs)
return {ok, waitMs}
`

// Decision 是一次限流判定的结果。
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// RateLimiter 是基于 Redis 的分布式令牌桶，每个 key（如客户端 IP）一个桶。
type RateLimiter struct {
	rdb    *redis.Client
	prefix string
	rate   float64
	burst  float64
	logger *slog.Logger
	script *redis.Script
	now    func() time.Time
}

func NewRedisRateLimiter(rdb *redis.Client, logger *slog.Logger, prefix string, rate float64, burst float64) *RateLimiter {
	if prefix == "" {
		prefix = defaultPrefix
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &RateLimiter{
		rdb:    rdb,
		prefix: prefix,
		rate:   rate,
		burst:  burst,
		logger: logger,
		script: redis.NewScript(tokenBucketLua),
		now:    time.Now,
	}
}

// Allow 尝试从 key 对应的桶中取一个令牌，不阻塞。
//
// rate 或 burst 不大于 0 时视为不限流。
func (r *RateLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	if r == nil || r.rdb == nil || r.rate <= 0 || r.burst <= 0 {
		return Decision{Allowed: true}, nil
	}

	perMs := r.rate / 1000
	ttl := int64(r.burst/r.rate*1000) * 2
	res, err := r.script.Run(ctx, r.rdb, []string{r.prefix + key}, perMs, r.burst, r.now().UnixMilli(), ttl).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit eval: %w", err)
	}
	reply, ok := res.([]interface{})
	if !ok || len(reply) != 2 {
		return Decision{}, fmt.Errorf("ratelimit: unexpected reply %v", res)
	}
	allowed, _ := reply[0].(int64)
	waitMs, _ := reply[1].(int64)

	d := Decision{
		Allowed:    allowed == 1,
		RetryAfter: time.Duration(waitMs) * time.Millisecond,
	}
	if !d.Allowed {
		metrics.RateLimitRejectedTotal.Inc()
		r.logger.Debug("rate limited",
			slog.String("key", key),
			slog.Duration("retry_after", d.RetryAfter))
	}
	return d, nil
}

// Reset 清空 key 对应的桶，例如登录成功后。
func (r *RateLimiter) Reset(ctx context.Context, key string) error {
	if r == nil || r.rdb == nil {
		return nil
	}
	if err := r.rdb.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("ratelimit reset: %w", err)
	}
	return nil
}
