package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts ledger requests by operation and outcome
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_requests_total",
			Help: "Total number of ledger requests",
		},
		[]string{"op", "status"},
	)

	// RequestDuration tracks request processing time by operation
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledger_request_duration_seconds",
			Help:    "Ledger request processing duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// EventsEmitted counts notification events by type
	EventsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_events_emitted_total",
			Help: "Total number of notification events emitted",
		},
		[]string{"type"},
	)

	// QueueDepth tracks the number of requests waiting in the dispatcher queue
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ledger_request_queue_depth",
			Help: "Number of requests waiting in the dispatcher queue",
		},
	)

	// RejectionsTotal counts rejected requests by reason
	RejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_rejections_total",
			Help: "Total number of rejected ledger requests",
		},
		[]string{"op", "reason"},
	)
)
