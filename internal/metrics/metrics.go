package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_ws_connections",
		Help: "Current number of authenticated realtime connections",
	})
	WsActiveRooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_ws_active_rooms",
		Help: "Number of rooms with a running broadcast actor",
	})
	WsMessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_ws_messages_total",
		Help: "Messages persisted and broadcast, by origin",
	}, []string{"origin"})
	WsEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_ws_events_total",
		Help: "Inbound realtime events by name and outcome",
	}, []string{"event", "outcome"})
	WsSlowConsumers = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_ws_slow_consumers_total",
		Help: "Connections dropped because their send buffer was full",
	})
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(WsConnections, WsActiveRooms, WsMessagesTotal, WsEventsTotal, WsSlowConsumers,
		HttpRequestsTotal, HttpRequestDuration)
}

// GinMiddleware 统计基础请求指标，供 Prometheus 拉取。
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
