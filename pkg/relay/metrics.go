package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics are per client, labelled with the relay url. A nil registerer
// keeps them private to the client.
type metrics struct {
	connectAttempts prometheus.Counter
	connectFailures prometheus.Counter
	bytesIn         prometheus.Counter
	bytesOut        prometheus.Counter
	messagesIn      *prometheus.CounterVec
	messagesOut     *prometheus.CounterVec
	discarded       *prometheus.CounterVec
	published       *prometheus.CounterVec
	subscriptions   prometheus.Gauge
	ackLatency      prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer, relayURL string) *metrics {
	f := promauto.With(reg)
	labels := prometheus.Labels{"relay": relayURL}

	return &metrics{
		connectAttempts: f.NewCounter(prometheus.CounterOpts{
			Namespace:   "nostrbox",
			Subsystem:   "relay",
			Name:        "connect_attempts_total",
			Help:        "Connection attempts to the relay",
			ConstLabels: labels,
		}),
		connectFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace:   "nostrbox",
			Subsystem:   "relay",
			Name:        "connect_failures_total",
			Help:        "Failed connection attempts",
			ConstLabels: labels,
		}),
		bytesIn: f.NewCounter(prometheus.CounterOpts{
			Namespace:   "nostrbox",
			Subsystem:   "relay",
			Name:        "received_bytes_total",
			Help:        "Bytes read from the relay",
			ConstLabels: labels,
		}),
		bytesOut: f.NewCounter(prometheus.CounterOpts{
			Namespace:   "nostrbox",
			Subsystem:   "relay",
			Name:        "sent_bytes_total",
			Help:        "Bytes written to the relay",
			ConstLabels: labels,
		}),
		messagesIn: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "nostrbox",
			Subsystem:   "relay",
			Name:        "received_messages_total",
			Help:        "Messages read from the relay by label",
			ConstLabels: labels,
		}, []string{"type"}),
		messagesOut: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "nostrbox",
			Subsystem:   "relay",
			Name:        "sent_messages_total",
			Help:        "Messages written to the relay by label",
			ConstLabels: labels,
		}, []string{"type"}),
		discarded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "nostrbox",
			Subsystem:   "relay",
			Name:        "discarded_messages_total",
			Help:        "Inbound messages dropped by reason",
			ConstLabels: labels,
		}, []string{"reason"}),
		published: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "nostrbox",
			Subsystem:   "relay",
			Name:        "publish_results_total",
			Help:        "Publish outcomes",
			ConstLabels: labels,
		}, []string{"outcome"}),
		subscriptions: f.NewGauge(prometheus.GaugeOpts{
			Namespace:   "nostrbox",
			Subsystem:   "relay",
			Name:        "active_subscriptions",
			Help:        "Subscriptions currently open",
			ConstLabels: labels,
		}),
		ackLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "nostrbox",
			Subsystem:   "relay",
			Name:        "publish_ack_seconds",
			Help:        "Time from sending an event to its OK",
			ConstLabels: labels,
			Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
	}
}

const (
	discardUnknownSubscription = "unknown_subscription"
	discardInvalidSignature    = "invalid_signature"
	discardOversized           = "oversized"
	discardMalformed           = "malformed"
	discardUnknownOK           = "unknown_ok"
	discardSlowConsumer        = "slow_consumer"

	outcomeAccepted    = "accepted"
	outcomeRejected    = "rejected"
	outcomeUnconfirmed = "unconfirmed"
	outcomeTimeout     = "timeout"
)
