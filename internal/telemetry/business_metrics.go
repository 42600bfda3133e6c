package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BusinessMetrics holds Prometheus metrics for business-level observability
// of the reconciliation pipeline.
type BusinessMetrics struct {
	// Webhook ingestion
	WebhookReceived  *prometheus.CounterVec
	WebhookProcessed *prometheus.CounterVec
	WebhookFailed    *prometheus.CounterVec
	WebhookLatency   *prometheus.HistogramVec

	// Store verification
	VerifyCalls   *prometheus.CounterVec
	VerifyLatency *prometheus.HistogramVec

	// Observations
	ObservationsIngested  *prometheus.CounterVec
	ObservationsDiscarded *prometheus.CounterVec
	UnclassifiedProducts  *prometheus.CounterVec

	// Entitlement recomputation
	RecomputeRuns          *prometheus.CounterVec
	RecomputeLatency       *prometheus.HistogramVec
	EntitlementTransitions *prometheus.CounterVec

	// Client sync & usage
	SyncReports  *prometheus.CounterVec
	UsageReports *prometheus.CounterVec

	// Reconciliation sweep
	SweepRuns     *prometheus.CounterVec
	SweepUsers    prometheus.Counter
	SweepDuration prometheus.Histogram
}

// NewBusinessMetrics creates and registers all business metrics
func NewBusinessMetrics(namespace string) *BusinessMetrics {
	if namespace == "" {
		namespace = "everreach"
	}

	subsystem := "entitlement"

	m := &BusinessMetrics{
		WebhookReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhooks_received_total",
				Help:      "Total webhook deliveries received",
			},
			[]string{"store", "event_type"},
		),
		WebhookProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhooks_processed_total",
				Help:      "Total webhook deliveries processed to an observation",
			},
			[]string{"store", "event_type"},
		),
		WebhookFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhooks_failed_total",
				Help:      "Total webhook deliveries that failed processing",
			},
			[]string{"store", "reason"}, // reason: malformed, verify_failed, storage
		),
		WebhookLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_duration_seconds",
				Help:      "Webhook processing latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"store"},
		),
		VerifyCalls: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "verify_calls_total",
				Help:      "Total store verification API calls",
			},
			[]string{"store", "outcome"}, // outcome: ok, not_found, transient, error
		),
		VerifyLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "verify_duration_seconds",
				Help:      "Store verification API latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"store"},
		),
		ObservationsIngested: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "observations_ingested_total",
				Help:      "Total observations written to the log",
			},
			[]string{"store", "status"},
		),
		ObservationsDiscarded: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "observations_discarded_total",
				Help:      "Total stale replays discarded by the idempotent upsert",
			},
			[]string{"store"},
		),
		UnclassifiedProducts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "unclassified_products_total",
				Help:      "Total observations whose store SKU has no catalog mapping",
			},
			[]string{"store", "sku"},
		),
		RecomputeRuns: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "recompute_runs_total",
				Help:      "Total entitlement recomputations",
			},
			[]string{"trigger", "outcome"}, // trigger: webhook, sync, usage, link, sweep, admin
		),
		RecomputeLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "recompute_duration_seconds",
				Help:      "Entitlement recompute latency including lock wait",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"trigger"},
		),
		EntitlementTransitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "entitlement_transitions_total",
				Help:      "Total recomputations that changed tier or status",
			},
			[]string{"from_tier", "to_tier"},
		),
		SyncReports: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "sync_reports_total",
				Help:      "Total client-reported aggregator sync submissions",
			},
			[]string{"outcome"}, // outcome: accepted, collapsed, rejected
		),
		UsageReports: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "usage_reports_total",
				Help:      "Total session usage submissions",
			},
			[]string{"outcome"},
		),
		SweepRuns: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "sweep_runs_total",
				Help:      "Total reconciliation sweep iterations",
			},
			[]string{"outcome"},
		),
		SweepUsers: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "sweep_users_total",
				Help:      "Total users recomputed by the reconciliation sweep",
			},
		),
		SweepDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "sweep_duration_seconds",
				Help:      "Reconciliation sweep iteration duration",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300},
			},
		),
	}

	return m
}
