package scheduler

import (
	"context"
	"time"

	"github.com/erp/reconciler/internal/application/reconcile"
	"github.com/erp/reconciler/internal/domain/intake"
)

// InlineRunner processes an event on the caller's goroutine. It stands in
// for the pool's Await when events travel over the durable queue, which has
// no way to hand a result back.
type InlineRunner struct {
	processor reconcile.Processor
	timeout   time.Duration
}

// NewInlineRunner creates a runner. A zero timeout leaves ctx as is.
func NewInlineRunner(processor reconcile.Processor, timeout time.Duration) *InlineRunner {
	return &InlineRunner{processor: processor, timeout: timeout}
}

// Await processes ev and returns its result
func (r *InlineRunner) Await(ctx context.Context, ev *intake.RawEvent) (*reconcile.Result, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	return r.processor.Process(ctx, ev.ID)
}
