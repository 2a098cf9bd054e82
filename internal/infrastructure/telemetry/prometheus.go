package telemetry

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	appshared "github.com/erp/reconciler/internal/application/shared"
)

// PrometheusMetrics is the scrape-side twin of ReconcileMetrics, served on
// /metrics.
type PrometheusMetrics struct {
	eventsIngested *prometheus.CounterVec
	outcomes       *prometheus.CounterVec
	failures       *prometheus.CounterVec
	movements      *prometheus.CounterVec
	movementUnits  *prometheus.CounterVec
	drift          *prometheus.CounterVec
	duration       *prometheus.HistogramVec
}

var _ appshared.Metrics = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics creates the collectors and registers them on reg.
func NewPrometheusMetrics(reg prometheus.Registerer, namespace string) (*PrometheusMetrics, error) {
	m := &PrometheusMetrics{
		eventsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_ingested_total",
			Help:      "Raw events submitted, by platform and ingest status",
		}, []string{"platform", "status"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outcomes_total",
			Help:      "Processed events, by platform and outcome",
		}, []string{"platform", "outcome"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Failed processing attempts, by platform and reason",
		}, []string{"platform", "reason", "dead_lettered"}),
		movements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_movements_total",
			Help:      "Stock movements appended, by type",
		}, []string{"movement_type"}),
		movementUnits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_movement_units_total",
			Help:      "Absolute units moved, by type",
		}, []string{"movement_type"}),
		drift: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_drift_total",
			Help:      "Audits that found the snapshot disagreeing with the movement log",
		}, []string{"sku"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "duration_seconds",
			Help:      "Time spent processing one raw event",
			Buckets:   ReconcileDurationBuckets,
		}, []string{"platform"}),
	}

	for _, c := range []prometheus.Collector{
		m.eventsIngested, m.outcomes, m.failures,
		m.movements, m.movementUnits, m.drift, m.duration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *PrometheusMetrics) RecordIngest(_ context.Context, platform, status string) {
	m.eventsIngested.WithLabelValues(platform, status).Inc()
}

func (m *PrometheusMetrics) RecordOutcome(_ context.Context, platform, outcome string) {
	m.outcomes.WithLabelValues(platform, outcome).Inc()
}

func (m *PrometheusMetrics) RecordFailure(_ context.Context, platform, reason string, deadLettered bool) {
	m.failures.WithLabelValues(platform, reason, strconv.FormatBool(deadLettered)).Inc()
}

func (m *PrometheusMetrics) RecordMovement(_ context.Context, movementType string, quantity int64) {
	if quantity < 0 {
		quantity = -quantity
	}
	m.movements.WithLabelValues(movementType).Inc()
	m.movementUnits.WithLabelValues(movementType).Add(float64(quantity))
}

func (m *PrometheusMetrics) RecordReconcileDuration(_ context.Context, platform string, d time.Duration) {
	m.duration.WithLabelValues(platform).Observe(d.Seconds())
}

func (m *PrometheusMetrics) RecordDrift(_ context.Context, sku string) {
	m.drift.WithLabelValues(sku).Inc()
}

// MultiMetrics forwards every measurement to each sink.
type MultiMetrics []appshared.Metrics

var _ appshared.Metrics = MultiMetrics(nil)

func (mm MultiMetrics) RecordIngest(ctx context.Context, platform, status string) {
	for _, m := range mm {
		m.RecordIngest(ctx, platform, status)
	}
}

func (mm MultiMetrics) RecordOutcome(ctx context.Context, platform, outcome string) {
	for _, m := range mm {
		m.RecordOutcome(ctx, platform, outcome)
	}
}

func (mm MultiMetrics) RecordFailure(ctx context.Context, platform, reason string, deadLettered bool) {
	for _, m := range mm {
		m.RecordFailure(ctx, platform, reason, deadLettered)
	}
}

func (mm MultiMetrics) RecordMovement(ctx context.Context, movementType string, quantity int64) {
	for _, m := range mm {
		m.RecordMovement(ctx, movementType, quantity)
	}
}

func (mm MultiMetrics) RecordReconcileDuration(ctx context.Context, platform string, d time.Duration) {
	for _, m := range mm {
		m.RecordReconcileDuration(ctx, platform, d)
	}
}

func (mm MultiMetrics) RecordDrift(ctx context.Context, sku string) {
	for _, m := range mm {
		m.RecordDrift(ctx, sku)
	}
}
