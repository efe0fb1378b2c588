package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// unmatchedRoute 汇总所有未命中路由的请求，避免把任意 URL 变成标签值。
const unmatchedRoute = "unmatched"

var (
	apiRequestSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "civy",
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "API 请求耗时分布（秒），不含 websocket 会话。",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route", "class"},
	)

	apiRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "civy",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "API 请求总数，按状态码区间区分。",
		},
		[]string{"method", "route", "class"},
	)

	apiInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "civy",
			Subsystem: "api",
			Name:      "in_flight_requests",
			Help:      "正在处理的普通 HTTP 请求数。",
		},
	)

	wsUpgradesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "civy",
			Subsystem: "api",
			Name:      "websocket_sessions_total",
			Help:      "结束的 websocket 会话数（通知与实时预览）。",
		},
		[]string{"route"},
	)
)

// RequestMetrics 采集 API 请求指标。skip 中的路由（如 /metrics、/health）不计入。
// websocket 会话持续整个连接周期，只计数，不进耗时分布。
func RequestMetrics(skip ...string) gin.HandlerFunc {
	skipped := make(map[string]struct{}, len(skip))
	for _, r := range skip {
		skipped[r] = struct{}{}
	}

	return func(c *gin.Context) {
		route := c.FullPath()
		if _, ok := skipped[route]; ok {
			c.Next()
			return
		}
		if route == "" {
			route = unmatchedRoute
		}
		if c.IsWebsocket() {
			c.Next()
			wsUpgradesTotal.WithLabelValues(route).Inc()
			return
		}

		start := time.Now()
		apiInFlight.Inc()
		defer apiInFlight.Dec()

		c.Next()

		class := statusClass(c.Writer.Status())
		apiRequestSeconds.WithLabelValues(c.Request.Method, route, class).Observe(time.Since(start).Seconds())
		apiRequestsTotal.WithLabelValues(c.Request.Method, route, class).Inc()
	}
}

// statusClass 把状态码折叠为 2xx/4xx/5xx；限流的 429 单独保留。
func statusClass(code int) string {
	if code == 429 {
		return "429"
	}
	return strconv.Itoa(code/100) + "xx"
}
