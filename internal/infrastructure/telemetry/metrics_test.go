package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap/zaptest"
)

func newManualMeter(t *testing.T) (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	return reader, mp
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumFor(t *testing.T, m metricdata.Metrics, attrs ...attribute.KeyValue) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)
	want := attribute.NewSet(attrs...)
	for _, dp := range sum.DataPoints {
		if dp.Attributes.Equals(&want) {
			return dp.Value
		}
	}
	return 0
}

func TestNewMeterProvider_Disabled(t *testing.T) {
	ctx := context.Background()
	mp, err := NewMeterProvider(ctx, MetricsConfig{ServiceName: "reconciler-test"}, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.False(t, mp.IsEnabled())
	assert.NotNil(t, mp.Meter("test"))
	assert.NoError(t, mp.Shutdown(ctx))
}

func TestNewReconcileMetrics_NilMeter(t *testing.T) {
	_, err := NewReconcileMetrics(nil)
	assert.ErrorIs(t, err, ErrMeterNil)
}

func TestReconcileMetrics_Counters(t *testing.T) {
	reader, mp := newManualMeter(t)
	m, err := NewReconcileMetrics(mp.Meter("test"))
	require.NoError(t, err)
	ctx := context.Background()

	m.RecordIngest(ctx, "TAOBAO", "ACCEPTED")
	m.RecordIngest(ctx, "TAOBAO", "ACCEPTED")
	m.RecordIngest(ctx, "TAOBAO", "DUPLICATE")
	m.RecordOutcome(ctx, "DOUYIN", "STALE")
	m.RecordFailure(ctx, "DOUYIN", "INSUFFICIENT_STOCK", true)
	m.RecordMovement(ctx, "RESERVE", 3)
	m.RecordMovement(ctx, "RESERVE", -2)
	m.RecordDrift(ctx, "SKU-1")

	got := collect(t, reader)
	ingested := got["reconcile_events_ingested_total"]
	assert.Equal(t, int64(2), sumFor(t, ingested, AttrPlatform.String("TAOBAO"), AttrStatus.String("ACCEPTED")))
	assert.Equal(t, int64(1), sumFor(t, ingested, AttrPlatform.String("TAOBAO"), AttrStatus.String("DUPLICATE")))

	assert.Equal(t, int64(1), sumFor(t, got["reconcile_outcomes_total"],
		AttrPlatform.String("DOUYIN"), AttrOutcome.String("STALE")))
	assert.Equal(t, int64(1), sumFor(t, got["reconcile_failures_total"],
		AttrPlatform.String("DOUYIN"), AttrReason.String("INSUFFICIENT_STOCK"), AttrDeadLettered.Bool(true)))
	assert.Equal(t, int64(2), sumFor(t, got["ledger_movements_total"], AttrMovementType.String("RESERVE")))
	assert.Equal(t, int64(5), sumFor(t, got["ledger_movement_units_total"], AttrMovementType.String("RESERVE")))
	assert.Equal(t, int64(1), sumFor(t, got["ledger_drift_total"], AttrSKU.String("SKU-1")))
}

func TestReconcileMetrics_Duration(t *testing.T) {
	reader, mp := newManualMeter(t)
	m, err := NewReconcileMetrics(mp.Meter("test"))
	require.NoError(t, err)

	m.RecordReconcileDuration(context.Background(), "CANONICAL", 20*time.Millisecond)
	m.RecordReconcileDuration(context.Background(), "CANONICAL", 3*time.Second)

	h, ok := collect(t, reader)["reconcile_duration_seconds"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, h.DataPoints, 1)
	dp := h.DataPoints[0]
	assert.Equal(t, uint64(2), dp.Count)
	assert.Equal(t, ReconcileDurationBuckets, dp.Bounds)
	assert.InDelta(t, 3.02, dp.Sum, 1e-9)
}
