package keepalive

import (
	"context"
	"log/slog"
	"time"

	"callcrm/internal/pkg/metrics"
)

// Target 是一个需要定期探测的依赖。
type Target struct {
	Name string
	Ping func(ctx context.Context) error
}

// Pinger 按固定间隔探测数据库等依赖，防止空闲连接被服务端断开，并记录失败。
type Pinger struct {
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration
	targets  []Target
}

// New 创建 Pinger。interval 不大于 0 时 Run 直接返回。
func New(logger *slog.Logger, interval time.Duration, targets ...Target) *Pinger {
	timeout := 5 * time.Second
	if interval > 0 && interval < timeout {
		timeout = interval
	}
	return &Pinger{
		logger:   logger,
		interval: interval,
		timeout:  timeout,
		targets:  targets,
	}
}

// Run 阻塞运行直到 ctx 被取消。
func (p *Pinger) Run(ctx context.Context) {
	if p.interval <= 0 || len(p.targets) == 0 {
		return
	}
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("keepalive started", slog.String("interval", p.interval.String()))
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("keepalive stopped")
			return
		case <-ticker.C:
			p.PingOnce(ctx)
		}
	}
}

// PingOnce 依次探测所有依赖，返回失败的依赖数。
func (p *Pinger) PingOnce(ctx context.Context) int {
	failed := 0
	for _, t := range p.targets {
		pingCtx, cancel := context.WithTimeout(ctx, p.timeout)
		err := t.Ping(pingCtx)
		cancel()
		if err != nil {
			failed++
			metrics.KeepalivePingFailuresTotal.WithLabelValues(t.Name).Inc()
			p.logger.Warn("keepalive ping failed",
				slog.String("target", t.Name),
				slog.String("error", err.Error()))
			continue
		}
		p.logger.Debug("keepalive ping ok", slog.String("target", t.Name))
	}
	return failed
}
