package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "callcrm"

var (
	// HTTPRequestsTotal 按路由、方法和状态码统计请求数。
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route, method and status.",
	}, []string{"route", "method", "status"})

	// HTTPRequestDuration 按路由统计请求耗时。
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})

	LeadsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "leads_created_total",
		Help:      "Leads created by cc agents.",
	})

	LeadsTransferredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "leads_transferred_total",
		Help:      "Leads transferred to cro agents.",
	})

	NumbersUploadedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "numbers_uploaded_total",
		Help:      "Phone numbers assigned through admin uploads.",
	})

	// UploadDuplicatePreventedTotal 统计被去重拦截的重复上传。
	UploadDuplicatePreventedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upload_duplicate_prevented_total",
		Help:      "Number uploads rejected as duplicate submissions.",
	})

	// LoginFailuresTotal 按原因统计登录失败（bad_credentials / throttled）。
	LoginFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "login_failures_total",
		Help:      "Failed login attempts by reason.",
	}, []string{"reason"})

	RateLimitRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ratelimit_rejected_total",
		Help:      "Requests rejected by the token bucket.",
	})

	NotifyQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "notify_queue_depth",
		Help:      "Pending notification jobs.",
	})

	NotifyQueueCapacity = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "notify_queue_capacity",
		Help:      "Configured notification queue capacity.",
	})

	// NotificationsTotal 按类型和结果统计通知发送。
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Notifications sent by kind and result.",
	}, []string{"kind", "result"})

	// KeepalivePingFailuresTotal 按依赖统计保活探测失败次数。
	KeepalivePingFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "keepalive_ping_failures_total",
		Help:      "Failed keep-alive pings by dependency.",
	}, []string{"target"})
)

// InitMetrics 预置标签与静态值，使指标在首次请求前即可被抓取。
func InitMetrics(notifyCapacity int) {
	NotifyQueueCapacity.Set(float64(notifyCapacity))
	NotifyQueueDepth.Set(0)
	for _, reason := range []string{"bad_credentials", "throttled"} {
		LoginFailuresTotal.WithLabelValues(reason)
	}
	for _, target := range []string{"database", "redis"} {
		KeepalivePingFailuresTotal.WithLabelValues(target)
	}
}
