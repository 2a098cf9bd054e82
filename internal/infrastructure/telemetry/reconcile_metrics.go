package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/metric"

	appshared "github.com/erp/reconciler/internal/application/shared"
)

// ErrMeterNil is returned when a metrics constructor receives no meter.
var ErrMeterNil = errors.New("meter cannot be nil")

// ReconcileMetrics records ingestion, reconcile and ledger measurements
// through OpenTelemetry instruments.
type ReconcileMetrics struct {
	eventsIngested *Counter
	outcomes       *Counter
	failures       *Counter
	movements      *Counter
	movementUnits  *Counter
	drift          *Counter
	duration       *Histogram
}

var _ appshared.Metrics = (*ReconcileMetrics)(nil)

// NewReconcileMetrics creates the instruments on meter.
func NewReconcileMetrics(meter metric.Meter) (*ReconcileMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}

	var (
		m   ReconcileMetrics
		err error
	)
	counters := []struct {
		dst        **Counter
		name, desc string
		unit       string
	}{
		{&m.eventsIngested, "reconcile_events_ingested_total", "Raw events submitted, by platform and ingest status", "{event}"},
		{&m.outcomes, "reconcile_outcomes_total", "Processed events, by platform and outcome", "{event}"},
		{&m.failures, "reconcile_failures_total", "Failed processing attempts, by platform and reason", "{attempt}"},
		{&m.movements, "ledger_movements_total", "Stock movements appended, by type", "{movement}"},
		{&m.movementUnits, "ledger_movement_units_total", "Absolute units moved, by type", "{unit}"},
		{&m.drift, "ledger_drift_total", "SKUs whose snapshot disagreed with the movement log", "{sku}"},
	}
	for _, c := range counters {
		if *c.dst, err = NewCounter(meter, c.name, c.desc, c.unit); err != nil {
			return nil, err
		}
	}

	m.duration, err = NewHistogram(meter, HistogramOpts{
		Name:        "reconcile_duration_seconds",
		Description: "Time spent processing one raw event",
		Unit:        "s",
		Boundaries:  ReconcileDurationBuckets,
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *ReconcileMetrics) RecordIngest(ctx context.Context, platform, status string) {
	m.eventsIngested.Inc(ctx, AttrPlatform.String(platform), AttrStatus.String(status))
}

func (m *ReconcileMetrics) RecordOutcome(ctx context.Context, platform, outcome string) {
	m.outcomes.Inc(ctx, AttrPlatform.String(platform), AttrOutcome.String(outcome))
}

func (m *ReconcileMetrics) RecordFailure(ctx context.Context, platform, reason string, deadLettered bool) {
	m.failures.Inc(ctx,
		AttrPlatform.String(platform),
		AttrReason.String(reason),
		AttrDeadLettered.Bool(deadLettered),
	)
}

// RecordMovement counts the movement and its absolute quantity.
func (m *ReconcileMetrics) RecordMovement(ctx context.Context, movementType string, quantity int64) {
	if quantity < 0 {
		quantity = -quantity
	}
	m.movements.Inc(ctx, AttrMovementType.String(movementType))
	m.movementUnits.Add(ctx, quantity, AttrMovementType.String(movementType))
}

func (m *ReconcileMetrics) RecordReconcileDuration(ctx context.Context, platform string, d time.Duration) {
	m.duration.RecordDuration(ctx, d, AttrPlatform.String(platform))
}

func (m *ReconcileMetrics) RecordDrift(ctx context.Context, sku string) {
	m.drift.Inc(ctx, AttrSKU.String(sku))
}
