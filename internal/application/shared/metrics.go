package shared

import (
	"context"
	"time"
)

// Metrics receives the business measurements the application layer emits.
// The telemetry package provides the OpenTelemetry implementation.
type Metrics interface {
	RecordIngest(ctx context.Context, platform, status string)
	RecordOutcome(ctx context.Context, platform, outcome string)
	RecordFailure(ctx context.Context, platform, reason string, deadLettered bool)
	RecordMovement(ctx context.Context, movementType string, quantity int64)
	RecordReconcileDuration(ctx context.Context, platform string, d time.Duration)
	RecordDrift(ctx context.Context, sku string)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) RecordIngest(context.Context, string, string) {}
func (NopMetrics) RecordOutcome(context.Context, string, string) {}
func (NopMetrics) RecordFailure(context.Context, string, string, bool) {}
func (NopMetrics) RecordMovement(context.Context, string, int64) {}
func (NopMetrics) RecordReconcileDuration(context.Context, string, time.Duration) {}
func (NopMetrics) RecordDrift(context.Context, string) {}

var _ Metrics = NopMetrics{}
