package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	appshared "github.com/erp/reconciler/internal/application/shared"
	"github.com/erp/reconciler/internal/domain/intake"
	"github.com/erp/reconciler/internal/domain/ledger"
	"github.com/erp/reconciler/internal/domain/order"
	"github.com/erp/reconciler/internal/domain/shared"
	"github.com/erp/reconciler/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Result reports what processing one event did.
type Result struct {
	EventID           uuid.UUID          `json:"event_id"`
	Platform          string             `json:"platform"`
	ExternalOrderID   string             `json:"external_order_id"`
	Outcome           order.Outcome      `json:"outcome"`
	FromStatus        order.Status       `json:"from_status"`
	ToStatus          order.Status       `json:"to_status"`
	OrderVersion      int                `json:"order_version"`
	SupersededEventID *uuid.UUID         `json:"superseded_event_id,omitempty"`
	Movements         []*ledger.Movement `json:"-"`
	Warnings          []string           `json:"warnings,omitempty"`
	// AlreadyProcessed is set when the event had been handled before and
	// nothing was done this time.
	AlreadyProcessed bool `json:"already_processed,omitempty"`
}

// ErrLoadEvent wraps failures to read the event before processing started.
// Nothing was recorded on the event in that case.
var ErrLoadEvent = errors.New("load event")

// Processor processes one stored event. The worker pool and the queue
// transport depend on this rather than on Reconciler.
type Processor interface {
	Process(ctx context.Context, eventID uuid.UUID) (*Result, error)
}

// Reconciler applies stored events to orders, allocations and the ledger.
type Reconciler struct {
	scope       appshared.TransactionScope
	events      intake.RawEventRepository
	orders      order.Repository
	normalizers intake.NormalizerRegistry
	locker      appshared.SKULocker
	coordinator *Coordinator
	policy      shared.RetryPolicy
	casRetries  uint64
	metrics     appshared.Metrics
	logger      *zap.Logger
	now         func() time.Time
}

// NewReconciler creates a new Reconciler
func NewReconciler(
	scope appshared.TransactionScope,
	events intake.RawEventRepository,
	orders order.Repository,
	normalizers intake.NormalizerRegistry,
	locker appshared.SKULocker,
	policy shared.RetryPolicy,
	logger *zap.Logger,
) *Reconciler {
	return &Reconciler{
		scope:       scope,
		events:      events,
		orders:      orders,
		normalizers: normalizers,
		locker:      locker,
		coordinator: NewCoordinator(logger),
		policy:      policy,
		casRetries:  appshared.DefaultConflictRetries,
		metrics:     appshared.NopMetrics{},
		logger:      logger,
		now:         time.Now,
	}
}

// SetMetrics sets the metrics sink
func (r *Reconciler) SetMetrics(m appshared.Metrics) {
	r.metrics = m
}

// SetClock replaces the clock used for processing timestamps
func (r *Reconciler) SetClock(now func() time.Time) {
	r.now = now
}

// Process reconciles one event. Failures are recorded on the event itself
// (attempt count, next retry, dead letter) before the error is returned,
// so callers only need to log it.
func (r *Reconciler) Process(ctx context.Context, eventID uuid.UUID) (*Result, error) {
	start := time.Now()
	ctx, span := telemetry.StartServiceSpan(ctx, "reconcile", "process",
		telemetry.WithAttribute(telemetry.SpanAttrEventID, eventID.String()),
	)
	defer span.End()

	ev, err := r.events.FindByID(ctx, eventID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("%w %s: %w", ErrLoadEvent, eventID, err)
	}
	telemetry.SetAttributes(span,
		telemetry.SpanAttrPlatform, string(ev.Platform),
		telemetry.SpanAttrOrderID, ev.ExternalOrderID,
		telemetry.SpanAttrAttempt, ev.AttemptCount,
	)
	if ev.Processed || ev.DeadLettered {
		return alreadyProcessed(ev), nil
	}

	log := r.logger.With(
		zap.String("event_id", ev.ID.String()),
		zap.String("platform", string(ev.Platform)),
		zap.String("order_id", ev.ExternalOrderID),
	)

	env, err := r.normalizers.Normalize(ev.Platform, ev.Payload)
	if err != nil {
		err = r.fail(ctx, ev, fmt.Errorf("%w: %v", shared.ErrMalformedPayload, err), log)
		telemetry.RecordError(span, err)
		return nil, err
	}
	if ev.IsMalformed() {
		ev.Normalized(env)
		log = log.With(zap.String("order_id", ev.ExternalOrderID))
	}

	result, err := r.reconcile(ctx, ev, env)
	if err != nil {
		err = r.fail(ctx, ev, err, log)
		telemetry.RecordError(span, err)
		return nil, err
	}
	if result.AlreadyProcessed {
		log.Debug("Event was processed concurrently")
		return result, nil
	}
	telemetry.SetAttributes(span,
		telemetry.SpanAttrOutcome, string(result.Outcome),
		telemetry.SpanAttrOrderState, result.ToStatus.String(),
	)
	if result.SupersededEventID != nil {
		telemetry.SetAttribute(span, "superseded_event_id", result.SupersededEventID.String())
	}
	telemetry.SetOK(span)

	r.metrics.RecordOutcome(ctx, string(ev.Platform), string(result.Outcome))
	for _, m := range result.Movements {
		r.metrics.RecordMovement(ctx, string(m.Type), m.Quantity())
	}
	r.metrics.RecordReconcileDuration(ctx, string(ev.Platform), time.Since(start))

	fields := []zap.Field{
		zap.String("outcome", string(result.Outcome)),
		zap.String("from_status", result.FromStatus.String()),
		zap.String("to_status", result.ToStatus.String()),
		zap.Int("movements", len(result.Movements)),
	}
	switch result.Outcome {
	case order.OutcomeAccepted:
		log.Info("Event applied", fields...)
	case order.OutcomeConflict:
		log.Warn("Conflicting event resolved", fields...)
	default:
		log.Debug("Event ignored", fields...)
	}
	return result, nil
}

// reconcile runs the whole state change for ev under the SKU locks, retrying
// the transaction when a version compare-and-set loses.
func (r *Reconciler) reconcile(ctx context.Context, ev *intake.RawEvent, env *intake.Envelope) (*Result, error) {
	skus, err := r.lockSet(ctx, ev, env)
	if err != nil {
		return nil, err
	}
	unlock, err := r.locker.Lock(ctx, skus)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var result *Result
	err = appshared.RetryOnConflict(ctx, r.casRetries, func() error {
		res, err := r.applyOnce(ctx, ev, env, skus)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	return result, err
}

// lockSet is every SKU the order has or the event brings.
func (r *Reconciler) lockSet(ctx context.Context, ev *intake.RawEvent, env *intake.Envelope) ([]string, error) {
	existing, err := r.orders.FindByExternalID(ctx, string(ev.Platform), env.ExternalOrderID)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return OrderSKUs(env.Lines), nil
	case err != nil:
		return nil, fmt.Errorf("load order: %w", err)
	}
	return OrderSKUs(existing.Lines, env.Lines), nil
}

func (r *Reconciler) applyOnce(ctx context.Context, ev *intake.RawEvent, env *intake.Envelope, locked []string) (*Result, error) {
	var (
		result    *Result
		processed intake.RawEvent
	)
	err := r.scope.Execute(ctx, func(repos appshared.Repositories) error {
		current, err := repos.Events().FindByID(ctx, ev.ID)
		if err != nil {
			return fmt.Errorf("reload event: %w", err)
		}
		if current.Processed || current.DeadLettered {
			result = alreadyProcessed(current)
			processed = *current
			return nil
		}

		o, err := repos.Orders().FindByExternalID(ctx, string(ev.Platform), env.ExternalOrderID)
		if errors.Is(err, shared.ErrNotFound) {
			o, err = order.NewOrder(string(ev.Platform), env.ExternalOrderID)
		}
		if err != nil {
			return err
		}

		isNew := o.IsNew()
		expected := o.Version
		facts := env.Facts(ev)
		res := o.Apply(facts)

		result = &Result{
			EventID:         ev.ID,
			Platform:        string(ev.Platform),
			ExternalOrderID: env.ExternalOrderID,
			Outcome:         res.Outcome,
			FromStatus:      res.From,
			ToStatus:        res.To,
		}

		if res.Changed {
			if !covers(locked, OrderSKUs(o.Lines)) {
				// The order gained SKUs after the locks were taken.
				return shared.ErrConcurrencyConflict
			}
			alloc, err := r.coordinator.OnTransition(ctx, repos, o, res)
			if err != nil {
				return err
			}
			result.Movements = alloc.Movements
			result.Warnings = alloc.Warnings

			if isNew {
				err = repos.Orders().Create(ctx, o)
			} else {
				err = repos.Orders().Update(ctx, o, expected)
			}
			if err != nil {
				return fmt.Errorf("save order: %w", err)
			}
		}
		result.OrderVersion = o.Version

		if err := repos.Orders().AppendTransition(ctx, order.NewTransition(o, facts, res)); err != nil {
			return fmt.Errorf("append transition: %w", err)
		}

		now := r.now()
		if res.SupersededEventID != uuid.Nil {
			id := res.SupersededEventID
			result.SupersededEventID = &id
			if id != ev.ID {
				if err := r.supersede(ctx, repos, id, now); err != nil {
					return err
				}
			}
		}
		// Work on a copy so a rolled back attempt leaves ev untouched.
		done := *ev
		if res.SupersededEventID == ev.ID {
			done.MarkSuperseded(now)
		} else {
			done.MarkProcessed(string(res.Outcome), now)
		}
		if err := repos.Events().UpdateState(ctx, &done); err != nil {
			return err
		}
		processed = done
		return nil
	})
	if err != nil {
		return nil, err
	}
	*ev = processed
	return result, nil
}

// supersede marks a previously applied event as the loser of a conflict.
func (r *Reconciler) supersede(ctx context.Context, repos appshared.Repositories, id uuid.UUID, now time.Time) error {
	prev, err := repos.Events().FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load superseded event %s: %w", id, err)
	}
	prev.MarkSuperseded(now)
	return repos.Events().UpdateState(ctx, prev)
}

func alreadyProcessed(ev *intake.RawEvent) *Result {
	return &Result{
		EventID:          ev.ID,
		Platform:         string(ev.Platform),
		ExternalOrderID:  ev.ExternalOrderID,
		Outcome:          order.Outcome(ev.Outcome),
		AlreadyProcessed: true,
	}
}

// failureWriteTimeout bounds recording a failure once the job context is done.
const failureWriteTimeout = 5 * time.Second

// fail records a failed attempt on ev and returns cause. The failure is
// written even when ctx has expired, so a timed out attempt still counts.
func (r *Reconciler) fail(ctx context.Context, ev *intake.RawEvent, cause error, log *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()

	// The transaction rolled back, so only processing fields are rewritten.
	dead := ev.MarkFailed(cause, r.policy, r.now())
	if err := r.events.UpdateState(ctx, ev); err != nil {
		log.Error("Failed to record processing failure", zap.Error(err), zap.NamedError("cause", cause))
		return errors.Join(cause, err)
	}

	reason := failureReason(cause)
	r.metrics.RecordFailure(ctx, string(ev.Platform), reason, dead)
	fields := []zap.Field{
		zap.Error(cause),
		zap.String("reason", reason),
		zap.Int("attempt", ev.AttemptCount),
	}
	if dead {
		log.Error("Event dead-lettered", fields...)
	} else {
		log.Warn("Event processing failed, retry scheduled", append(fields, zap.Timep("next_retry_at", ev.NextRetryAt))...)
	}
	return cause
}

func failureReason(err error) string {
	var de *shared.DomainError
	switch {
	case errors.Is(err, shared.ErrInsufficientStock):
		return shared.CodeInsufficientStock
	case errors.Is(err, context.DeadlineExceeded):
		return "TIMEOUT"
	case errors.As(err, &de):
		return de.Code
	default:
		return "INTERNAL"
	}
}

func covers(locked, needed []string) bool {
	set := make(map[string]bool, len(locked))
	for _, s := range locked {
		set[s] = true
	}
	for _, s := range needed {
		if !set[s] {
			return false
		}
	}
	return true
}

var _ Processor = (*Reconciler)(nil)
