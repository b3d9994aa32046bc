package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lendchat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lendchat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Chat metrics
	MessagesPersisted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lendchat_messages_persisted_total",
			Help: "Messages stored through the send endpoint",
		},
	)

	SendFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lendchat_send_failures_total",
			Help: "Send requests that could not be persisted",
		},
	)

	MessagesRelayed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lendchat_messages_relayed_total",
			Help: "sendMessage events relayed to connections",
		},
	)

	RelayDuplicates = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lendchat_relay_duplicates_total",
			Help: "sendMessage events dropped because the message was already relayed",
		},
	)

	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lendchat_ws_connections",
			Help: "Open push channel connections",
		},
	)

	WSEventsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lendchat_ws_events_rejected_total",
			Help: "Push channel events answered with an error",
		},
		[]string{"code"},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lendchat_rate_limit_hits_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"endpoint"},
	)
)
