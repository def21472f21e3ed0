// Package metrics declares the Prometheus collectors for the auction core.
// Everything registers on the default registry and is served at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BidsAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "auction_bids_accepted_total",
			Help: "Total number of bids admitted by the atomic script",
		},
	)

	BidsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_bids_rejected_total",
			Help: "Total number of rejected bids by rejection reason",
		},
		[]string{"reason"},
	)

	BidAdmissionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "auction_bid_admission_seconds",
			Help:    "End-to-end place_bid latency including the durable append",
			Buckets: prometheus.DefBuckets,
		},
	)

	SchedulerTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "auction_scheduler_tick_seconds",
			Help:    "Duration of one full scheduler tick",
			Buckets: prometheus.DefBuckets,
		},
	)

	SchedulerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_scheduler_transitions_total",
			Help: "Lifecycle transitions applied by the scheduler",
		},
		[]string{"kind"}, // activated, completed, completed_no_bids, payment_failed, fallback, no_winner
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_events_published_total",
			Help: "Broadcast events published to the hub by event type",
		},
		[]string{"type"},
	)

	WebsocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "auction_websocket_clients",
			Help: "Currently connected WebSocket subscribers",
		},
	)

	LiveStoreFallbackReads = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "auction_livestore_fallback_reads_total",
			Help: "State reads answered from the durable store because the live store was unavailable or expired",
		},
	)
)
