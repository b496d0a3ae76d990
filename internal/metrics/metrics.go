// Package metrics holds the process-wide Prometheus collectors. They are
// registered on the default registry and served by the admin API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IngestRequestsTotal counts gateway submissions by result.
	IngestRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bruteguard_ingest_requests_total",
			Help: "Total number of log submissions handled by the gateway",
		},
		[]string{"status"},
	)

	// PublishTotal counts completed background publishes by result.
	PublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bruteguard_publish_total",
			Help: "Total number of transport publishes by result",
		},
		[]string{"result"},
	)

	PublishOutcomesDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bruteguard_publish_outcomes_dropped_total",
			Help: "Publish outcomes dropped because no consumer kept up",
		},
	)

	// PersistMessagesTotal counts delivered messages by result (stored, malformed, retry).
	PersistMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bruteguard_persist_messages_total",
			Help: "Total number of transport messages handled by the persister",
		},
		[]string{"result"},
	)

	DetectionRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bruteguard_detection_runs_total",
			Help: "Total number of detection runs by result",
		},
		[]string{"result"},
	)

	DetectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bruteguard_detection_duration_seconds",
			Help:    "Duration of detection runs in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// DetectionCandidates is the candidate count of the latest run.
	DetectionCandidates = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bruteguard_detection_candidates",
			Help: "Principals over threshold in the most recent detection run",
		},
	)

	// AlertsTotal counts alert dispatches by result (sent, failed, suppressed).
	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bruteguard_alerts_total",
			Help: "Total number of alert dispatch attempts by result",
		},
		[]string{"result"},
	)
)
