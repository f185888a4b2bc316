package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"chat-core/internal/models"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatcore_http_requests_total",
			Help: "Total number of HTTP requests processed by the session gateway.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatcore_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	channelState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatcore_channel_state",
			Help: "Push channel state: 0 disconnected, 1 connecting, 2 connected.",
		},
	)
	channelReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatcore_channel_reconnects_total",
			Help: "Total number of scheduled reconnect attempts.",
		},
	)
	channelEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatcore_channel_events_total",
			Help: "Total number of push channel events.",
		},
		[]string{"direction", "event"},
	)
	droppedEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatcore_dropped_events_total",
			Help: "Total number of malformed inbound events dropped before dispatch.",
		},
	)
	messagesMergedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatcore_messages_merged_total",
			Help: "Total number of messages inserted into a conversation sequence.",
		},
		[]string{"source"},
	)
	mergeDuplicatesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatcore_merge_duplicates_total",
			Help: "Total number of already-known messages ignored during merges.",
		},
	)
	sendFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatcore_send_failures_total",
			Help: "Total number of message submissions rolled back after an error.",
		},
	)
	pollErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatcore_poll_errors_total",
			Help: "Total number of failed backstop history fetches.",
		},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatcore_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		channelState,
		channelReconnectsTotal,
		channelEventsTotal,
		droppedEventsTotal,
		messagesMergedTotal,
		mergeDuplicatesTotal,
		sendFailuresTotal,
		pollErrorsTotal,
		amqpPublishErrorsTotal,
	)
}

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

func SetChannelState(state models.ConnState) {
	switch state {
	case models.ConnConnected:
		channelState.Set(2)
	case models.ConnConnecting:
		channelState.Set(1)
	default:
		channelState.Set(0)
	}
}

func IncReconnect() {
	channelReconnectsTotal.Inc()
}

func IncChannelEvent(direction, event string) {
	channelEventsTotal.WithLabelValues(direction, event).Inc()
}

func IncDroppedEvent() {
	droppedEventsTotal.Inc()
}

func IncMergedMessage(source string) {
	messagesMergedTotal.WithLabelValues(source).Inc()
}

func IncMergeDuplicate() {
	mergeDuplicatesTotal.Inc()
}

func IncSendFailure() {
	sendFailuresTotal.Inc()
}

func IncPollError() {
	pollErrorsTotal.Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
