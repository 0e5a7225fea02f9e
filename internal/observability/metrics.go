package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aide_http_requests_total",
			Help: "Total number of HTTP requests handled by the local API.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aide_http_request_duration_seconds",
			Help:    "Local API request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	messagesIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aide_messages_ingested_total",
			Help: "Total number of messages inserted into the feed.",
		},
		[]string{"source"},
	)
	sendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aide_sends_total",
			Help: "Total number of outbox sends by outcome.",
		},
		[]string{"outcome"},
	)
	streamEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aide_stream_events_total",
			Help: "Total number of SSE content events accumulated.",
		},
	)
	realtimeConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "aide_realtime_connected",
			Help: "Whether the realtime websocket is currently up.",
		},
	)
	deliveryAcksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aide_delivery_acks_total",
			Help: "Total number of scheduled delivery acknowledgements.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		messagesIngestedTotal,
		sendsTotal,
		streamEventsTotal,
		realtimeConnected,
		deliveryAcksTotal,
	)
}

// HTTPMetricsMiddleware records request counts and latencies per route.
func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// IncMessagesIngested counts a feed insert; source is "rest", "realtime" or
// "scheduled".
func IncMessagesIngested(source string) {
	messagesIngestedTotal.WithLabelValues(source).Inc()
}

// IncSend counts a finished outbox send; outcome is "sent" or "failed".
func IncSend(outcome string) {
	sendsTotal.WithLabelValues(outcome).Inc()
}

// IncStreamEvent counts one accumulated SSE content event.
func IncStreamEvent() {
	streamEventsTotal.Inc()
}

// SetRealtimeConnected flips the realtime connection gauge.
func SetRealtimeConnected(up bool) {
	if up {
		realtimeConnected.Set(1)
	} else {
		realtimeConnected.Set(0)
	}
}

// IncDeliveryAck counts a deliver call; outcome is "ok" or "error".
func IncDeliveryAck(outcome string) {
	deliveryAcksTotal.WithLabelValues(outcome).Inc()
}
