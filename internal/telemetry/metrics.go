package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "receptionist"

var (
	// WebhookEvents counts provider callbacks by event (incoming, gather, status) and outcome.
	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "voice",
			Name:      "webhook_events_total",
			Help:      "Telephony webhook callbacks by event and outcome",
		},
		[]string{"event", "outcome"},
	)

	TurnsByIntent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dialogue",
			Name:      "turns_total",
			Help:      "Caller turns handled, by classified intent",
		},
		[]string{"intent"},
	)

	// CallActions counts the next instruction returned to the transport.
	CallActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dialogue",
			Name:      "actions_total",
			Help:      "Dialogue instructions by action (gather, transfer, hangup) and reason",
		},
		[]string{"action", "reason"},
	)

	ReplyFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "assistant",
			Name:      "reply_fallbacks_total",
			Help:      "Deterministic replies used instead of a completion, by reason",
		},
		[]string{"reason"},
	)

	CompletionLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "assistant",
			Name:      "completion_latency_seconds",
			Help:      "Latency of completion provider calls",
			Buckets:   []float64{0.25, 0.5, 1, 2, 3, 4, 6, 8, 10},
		},
		[]string{"status"},
	)

	DashboardLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reporting",
			Name:      "dashboard_compute_seconds",
			Help:      "Time to compute one dashboard payload",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		WebhookEvents,
		TurnsByIntent,
		CallActions,
		ReplyFallbacks,
		CompletionLatency,
		DashboardLatency,
	)
}
