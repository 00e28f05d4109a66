package middleware

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"callcrm/internal/pkg/metrics"
	"callcrm/internal/pkg/ratelimit"

	"github.com/gin-gonic/gin"
)

// Limiter 是按 key 限流的判定器。
type Limiter interface {
	Allow(ctx context.Context, key string) (ratelimit.Decision, error)
}

// LoginThrottle 按客户端 IP 限制登录尝试，超限返回 429 与 Retry-After。
//
// Redis 不可用时放行请求，只记录日志。
func LoginThrottle(limiter Limiter, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		d, err := limiter.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			if logger != nil {
				logger.Warn("rate limiter unavailable", slog.String("error", err.Error()))
			}
			c.Next()
			return
		}
		if !d.Allowed {
			metrics.LoginFailuresTotal.WithLabelValues("throttled").Inc()
			secs := int(math.Ceil(d.RetryAfter.Seconds()))
			if secs < 1 {
				secs = 1
			}
			c.Header("Retry-After", strconv.Itoa(secs))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many attempts, try again later"})
			return
		}
		c.Next()
	}
}
