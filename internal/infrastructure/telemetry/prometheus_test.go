package telemetry

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appshared "github.com/erp/reconciler/internal/application/shared"
)

func TestPrometheusMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewPrometheusMetrics(reg, "reconcile")
	require.NoError(t, err)
	ctx := context.Background()

	m.RecordIngest(ctx, "TAOBAO", "accepted")
	m.RecordOutcome(ctx, "TAOBAO", "ACCEPTED")
	m.RecordFailure(ctx, "DOUYIN", "INSUFFICIENT_STOCK", false)
	m.RecordMovement(ctx, "DEDUCT", -3)
	m.RecordReconcileDuration(ctx, "TAOBAO", 10*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventsIngested.WithLabelValues("TAOBAO", "accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("DOUYIN", "INSUFFICIENT_STOCK", "false")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.movementUnits.WithLabelValues("DEDUCT")))

	expected := `
# HELP reconcile_outcomes_total Processed events, by platform and outcome
# TYPE reconcile_outcomes_total counter
reconcile_outcomes_total{outcome="ACCEPTED",platform="TAOBAO"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "reconcile_outcomes_total"))

	// a second set on the same registry collides
	_, err = NewPrometheusMetrics(reg, "reconcile")
	assert.Error(t, err)
}

type countingMetrics struct {
	appshared.NopMetrics
	drift int
}

func (c *countingMetrics) RecordDrift(context.Context, string) { c.drift++ }

func TestMultiMetrics(t *testing.T) {
	a, b := &countingMetrics{}, &countingMetrics{}
	mm := MultiMetrics{a, b, appshared.NopMetrics{}}

	mm.RecordDrift(context.Background(), "SKU-1")
	mm.RecordIngest(context.Background(), "TAOBAO", "duplicate")

	assert.Equal(t, 1, a.drift)
	assert.Equal(t, 1, b.drift)
}
