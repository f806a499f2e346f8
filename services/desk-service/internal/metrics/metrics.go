package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Mutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "desk_mutations_total",
			Help: "Appointment mutations by operation and outcome",
		},
		[]string{"op", "outcome"},
	)

	Rollbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "desk_rollbacks_total",
			Help: "Optimistic writes rolled back after a backend failure",
		},
		[]string{"op"},
	)

	ConflictChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "desk_conflict_checks_total",
			Help: "Slot conflict checks by result",
		},
		[]string{"result"}, // available, occupied, outside_schedule, unverified
	)

	BackendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "desk_backend_duration_seconds",
			Help:    "Latency of backend collaborator calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "desk_sessions_active",
			Help: "Live per-user session caches",
		},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "desk_events_published_total",
			Help: "Events handed to the broker by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	EventsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "desk_events_consumed_total",
			Help: "Events read from the broker by type and outcome",
		},
		[]string{"type", "outcome"},
	)
)

func RecordMutation(op, outcome string) {
	Mutations.WithLabelValues(op, outcome).Inc()
}

func RecordRollback(op string) {
	Rollbacks.WithLabelValues(op).Inc()
}

func RecordConflictCheck(result string) {
	ConflictChecks.WithLabelValues(result).Inc()
}

// ObserveBackend returns a func that records the elapsed time of op when called.
func ObserveBackend(op string) func() {
	start := time.Now()
	return func() {
		BackendDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

func RecordPublish(eventType, outcome string) {
	EventsPublished.WithLabelValues(eventType, outcome).Inc()
}

func RecordConsume(eventType, outcome string) {
	EventsConsumed.WithLabelValues(eventType, outcome).Inc()
}
