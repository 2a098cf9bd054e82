package intake

import (
	"context"
	"time"

	"github.com/erp/reconciler/internal/domain/shared"
	"github.com/google/uuid"
)

// ProcessingErrorSuperseded marks the losing event of a same-sequence
// conflict. Such events are processed and never retried.
const ProcessingErrorSuperseded = "superseded"

// RawEvent is one received payload. Its identity and payload never change;
// only the processing fields move.
type RawEvent struct {
	ID              uuid.UUID
	Platform        PlatformCode
	ExternalOrderID string
	IdempotencyKey  string
	EventType       string
	SequenceHint    int64
	Payload         []byte
	ReceivedAt      time.Time

	Processed       bool
	ProcessedAt     *time.Time
	ProcessingError string
	AttemptCount    int
	NextRetryAt     *time.Time
	DeadLettered    bool
	Outcome         string
}

// NewRawEvent records a payload that normalized cleanly.
func NewRawEvent(env *Envelope, payload []byte, receivedAt time.Time) *RawEvent {
	return &RawEvent{
		ID:              uuid.New(),
		Platform:        env.Platform,
		ExternalOrderID: env.ExternalOrderID,
		IdempotencyKey:  env.IdempotencyKey(),
		EventType:       env.EventType,
		SequenceHint:    env.SequenceHint,
		Payload:         payload,
		ReceivedAt:      receivedAt,
	}
}

// NewMalformedRawEvent records a payload that failed normalization. The
// first attempt counts as failed and a retry is scheduled.
func NewMalformedRawEvent(platform PlatformCode, payload []byte, cause error, policy shared.RetryPolicy, receivedAt time.Time) *RawEvent {
	ev := &RawEvent{
		ID:             uuid.New(),
		Platform:       platform,
		IdempotencyKey: MalformedKey(platform, payload),
		Payload:        payload,
		ReceivedAt:     receivedAt,
	}
	ev.MarkFailed(cause, policy, receivedAt)
	return ev
}

// IsMalformed reports whether intake could not derive an order for it.
func (e *RawEvent) IsMalformed() bool {
	return e.ExternalOrderID == ""
}

// IsReady reports whether the event should be handed to the reconciler.
func (e *RawEvent) IsReady(now time.Time) bool {
	if e.Processed || e.DeadLettered {
		return false
	}
	return e.NextRetryAt == nil || !e.NextRetryAt.After(now)
}

// PartitionKey groups events of one external order.
func (e *RawEvent) PartitionKey() string {
	if e.IsMalformed() {
		return string(e.Platform) + ":" + e.IdempotencyKey
	}
	return string(e.Platform) + ":" + e.ExternalOrderID
}

// MarkProcessed records a successful reconciliation with its outcome.
func (e *RawEvent) MarkProcessed(outcome string, now time.Time) {
	e.Processed = true
	e.ProcessedAt = &now
	e.ProcessingError = ""
	e.NextRetryAt = nil
	e.Outcome = outcome
}

// MarkSuperseded records that the event lost a conflict. An event that was
// applied before it lost keeps its processing time, which is its position
// in the replay order.
func (e *RawEvent) MarkSuperseded(now time.Time) {
	if !e.Processed || e.ProcessedAt == nil {
		e.MarkProcessed("conflict", now)
	}
	e.Outcome = "conflict"
	e.ProcessingError = ProcessingErrorSuperseded
}

// MarkFailed counts a failed attempt and either schedules the next one or
// dead-letters the event when attempts are exhausted. It returns true when
// the event was dead-lettered.
func (e *RawEvent) MarkFailed(cause error, policy shared.RetryPolicy, now time.Time) bool {
	e.AttemptCount++
	if cause != nil {
		e.ProcessingError = cause.Error()
	}
	if policy.Exhausted(e.AttemptCount) {
		e.DeadLettered = true
		e.NextRetryAt = nil
		return true
	}
	next := now.Add(policy.Backoff(e.AttemptCount))
	e.NextRetryAt = &next
	return false
}

// Requeue takes a dead-lettered event back into processing with a fresh
// attempt budget.
func (e *RawEvent) Requeue(now time.Time) error {
	if !e.DeadLettered {
		return ErrNotDeadLettered
	}
	e.DeadLettered = false
	e.AttemptCount = 0
	e.NextRetryAt = &now
	return nil
}

// Normalized refreshes the order identity of a previously malformed event
// once its payload normalizes. The idempotency key is left alone.
func (e *RawEvent) Normalized(env *Envelope) {
	e.ExternalOrderID = env.ExternalOrderID
	e.SequenceHint = env.SequenceHint
	e.EventType = env.EventType
}

// ---------------------------------------------------------------------------
// Ports
// ---------------------------------------------------------------------------

// RawEventRepository is the append-only event log.
type RawEventRepository interface {
	// Insert stores ev unless its idempotency key exists. When it exists
	// the stored event is returned and created is false.
	Insert(ctx context.Context, ev *RawEvent) (stored *RawEvent, created bool, err error)
	FindByID(ctx context.Context, id uuid.UUID) (*RawEvent, error)
	FindByKey(ctx context.Context, key string) (*RawEvent, error)
	// FindReady returns unprocessed, live events due at now, oldest first.
	FindReady(ctx context.Context, now time.Time, limit int) ([]*RawEvent, error)
	// UpdateState writes only the processing fields of ev.
	UpdateState(ctx context.Context, ev *RawEvent) error
	ListDeadLettered(ctx context.Context, filter shared.Filter) ([]*RawEvent, int64, error)
	// ListProcessed pages through processed events in (processed_at, id)
	// order, starting after the given position. Used by projection rebuilds.
	ListProcessed(ctx context.Context, after time.Time, afterID uuid.UUID, limit int) ([]*RawEvent, error)
}

// Normalizer turns one platform's payload into an Envelope.
type Normalizer interface {
	Platform() PlatformCode
	Normalize(payload []byte) (*Envelope, error)
}

// NormalizerRegistry resolves the normalizer of a platform.
type NormalizerRegistry interface {
	Normalize(platform PlatformCode, payload []byte) (*Envelope, error)
}

// FeedOrder is one order pulled from a platform, kept as the raw JSON the
// platform's push would have carried.
type FeedOrder struct {
	ExternalOrderID string
	Payload         []byte
}

// FeedClient pulls recently modified orders from a platform.
type FeedClient interface {
	Platform() PlatformCode
	// ListModified returns one page of orders modified in [from, to).
	ListModified(ctx context.Context, from, to time.Time, page, pageSize int) (orders []FeedOrder, hasNext bool, err error)
}
