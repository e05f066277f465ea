package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SlapsTotal 统计成功的计数增加，按实际落地的后端区分
	SlapsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slaps_increments_total",
			Help: "Total number of successful counter increments",
		},
		[]string{"backend"},
	)

	// SlapRequests 按结果统计计数请求: ok, duplicate, rate_limited, db_unavailable, server_error
	SlapRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slaps_requests_total",
			Help: "Total number of increment requests by outcome",
		},
		[]string{"outcome"},
	)

	// BackendAttempts 记录回退链中每一次后端尝试的结果
	BackendAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slaps_backend_attempts_total",
			Help: "Backend attempts inside the fallback loop",
		},
		[]string{"backend", "role", "result"},
	)

	// LocalFallbacks 统计限流器和幂等守卫退化到进程内模式的次数
	LocalFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slaps_local_fallbacks_total",
			Help: "Times a shared-state check fell back to in-process state",
		},
		[]string{"component"},
	)

	// RequestDuration 记录计数请求的处理耗时
	RequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "slaps_request_duration_seconds",
			Help:    "Duration of increment requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// PrunedEvents 统计被保留策略清理掉的审计事件
	PrunedEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "slaps_pruned_events_total",
			Help: "Audit events deleted by the retention pruner",
		},
	)
)

// Handler 返回 /metrics 的 gin 处理函数
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
