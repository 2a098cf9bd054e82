package intake

import (
	"context"
	"errors"
	"fmt"
	"time"

	appshared "github.com/erp/reconciler/internal/application/shared"
	"github.com/erp/reconciler/internal/domain/intake"
	"github.com/erp/reconciler/internal/domain/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Dispatcher hands a stored event to whatever processes events. Dispatch
// must not block on processing; the event log stays the source of truth, so
// a lost dispatch is picked up by the next poll.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev *intake.RawEvent) error
}

// Service normalizes, deduplicates and stores inbound payloads.
type Service struct {
	events      intake.RawEventRepository
	normalizers intake.NormalizerRegistry
	idempotency shared.IdempotencyStore
	idemConfig  shared.IdempotencyConfig
	policy      shared.RetryPolicy
	dispatcher  Dispatcher
	metrics     appshared.Metrics
	logger      *zap.Logger
	now         func() time.Time
}

// NewService creates a new intake Service
func NewService(
	events intake.RawEventRepository,
	normalizers intake.NormalizerRegistry,
	policy shared.RetryPolicy,
	logger *zap.Logger,
) *Service {
	return &Service{
		events:      events,
		normalizers: normalizers,
		idemConfig:  shared.DefaultIdempotencyConfig(),
		policy:      policy,
		metrics:     appshared.NopMetrics{},
		logger:      logger,
		now:         time.Now,
	}
}

// SetIdempotencyStore enables the dedup fast path
func (s *Service) SetIdempotencyStore(store shared.IdempotencyStore, cfg shared.IdempotencyConfig) {
	s.idempotency = store
	s.idemConfig = cfg
}

// SetDispatcher sets where newly accepted events are pushed
func (s *Service) SetDispatcher(d Dispatcher) {
	s.dispatcher = d
}

// SetMetrics sets the metrics sink
func (s *Service) SetMetrics(m appshared.Metrics) {
	s.metrics = m
}

// Submit ingests a payload and dispatches it for reconciliation.
func (s *Service) Submit(ctx context.Context, platform intake.PlatformCode, payload []byte) (*SubmitResult, error) {
	res, err := s.Ingest(ctx, platform, payload)
	if err != nil {
		return nil, err
	}
	if res.Status == intake.IngestAccepted && s.dispatcher != nil {
		if err := s.dispatcher.Dispatch(ctx, res.Event); err != nil {
			s.logger.Warn("Dispatch failed, event left for polling",
				zap.String("event_id", res.EventID.String()),
				zap.Error(err),
			)
		}
	}
	return res, nil
}

// Ingest stores a payload without dispatching it. A payload whose
// idempotency key is already stored is reported as duplicate and nothing
// changes. A payload that does not normalize is stored as malformed with a
// retry scheduled.
func (s *Service) Ingest(ctx context.Context, platform intake.PlatformCode, payload []byte) (*SubmitResult, error) {
	if !platform.IsValid() {
		return nil, intake.ErrUnknownPlatform
	}
	if len(payload) == 0 {
		return nil, intake.ErrEmptyPayload
	}
	now := s.now()

	env, normErr := s.normalizers.Normalize(platform, payload)
	if normErr != nil {
		ev := intake.NewMalformedRawEvent(platform, payload, normErr, s.policy, now)
		stored, created, err := s.events.Insert(ctx, ev)
		if err != nil {
			return nil, fmt.Errorf("store malformed event: %w", err)
		}
		status := intake.IngestMalformed
		if !created {
			status = intake.IngestDuplicate
		}
		s.metrics.RecordIngest(ctx, string(platform), string(status))
		s.logger.Warn("Malformed payload quarantined",
			zap.String("platform", string(platform)),
			zap.String("event_id", stored.ID.String()),
			zap.String("status", string(status)),
			zap.Error(normErr),
		)
		return newResult(stored, status), nil
	}

	key := env.IdempotencyKey()
	if dup := s.knownDuplicate(ctx, key); dup != nil {
		s.metrics.RecordIngest(ctx, string(platform), string(intake.IngestDuplicate))
		s.logDuplicate(dup)
		return newResult(dup, intake.IngestDuplicate), nil
	}

	stored, created, err := s.events.Insert(ctx, intake.NewRawEvent(env, payload, now))
	if err != nil {
		return nil, fmt.Errorf("store event: %w", err)
	}
	s.remember(ctx, key)
	if !created {
		s.metrics.RecordIngest(ctx, string(platform), string(intake.IngestDuplicate))
		s.logDuplicate(stored)
		return newResult(stored, intake.IngestDuplicate), nil
	}

	s.metrics.RecordIngest(ctx, string(platform), string(intake.IngestAccepted))
	s.logger.Debug("Event accepted",
		zap.String("event_id", stored.ID.String()),
		zap.String("platform", string(platform)),
		zap.String("order_id", stored.ExternalOrderID),
		zap.String("idempotency_key", key),
	)
	return newResult(stored, intake.IngestAccepted), nil
}

// knownDuplicate consults the fast path and returns the stored event when
// the key was seen before. Any cache failure falls through to the database.
func (s *Service) knownDuplicate(ctx context.Context, key string) *intake.RawEvent {
	if s.idempotency == nil || !s.idemConfig.Enabled {
		return nil
	}
	seen, err := s.idempotency.IsProcessed(ctx, key)
	if err != nil {
		s.logger.Warn("Idempotency store unavailable", zap.Error(err))
		return nil
	}
	if !seen {
		return nil
	}
	ev, err := s.events.FindByKey(ctx, key)
	if err != nil {
		return nil
	}
	return ev
}

func (s *Service) remember(ctx context.Context, key string) {
	if s.idempotency == nil || !s.idemConfig.Enabled {
		return
	}
	if _, err := s.idempotency.MarkProcessed(ctx, key, s.idemConfig.TTL); err != nil {
		s.logger.Warn("Failed to remember idempotency key", zap.String("key", key), zap.Error(err))
	}
}

func (s *Service) logDuplicate(ev *intake.RawEvent) {
	s.logger.Info("Duplicate event ignored",
		zap.String("event_id", ev.ID.String()),
		zap.String("platform", string(ev.Platform)),
		zap.String("order_id", ev.ExternalOrderID),
		zap.String("idempotency_key", ev.IdempotencyKey),
	)
}

func newResult(ev *intake.RawEvent, status intake.IngestStatus) *SubmitResult {
	return &SubmitResult{
		EventID:         ev.ID,
		Status:          status,
		Platform:        string(ev.Platform),
		ExternalOrderID: ev.ExternalOrderID,
		IdempotencyKey:  ev.IdempotencyKey,
		Event:           ev,
	}
}

// ---------------------------------------------------------------------------
// Dead letters
// ---------------------------------------------------------------------------

// GetEvent returns one stored event
func (s *Service) GetEvent(ctx context.Context, id uuid.UUID) (*EventResponse, error) {
	ev, err := s.events.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, intake.ErrEventNotFound
		}
		return nil, err
	}
	resp := ToEventResponse(ev)
	return &resp, nil
}

// ListDeadLetters returns one page of dead-lettered events, oldest first
func (s *Service) ListDeadLetters(ctx context.Context, filter shared.Filter) (shared.Paginated[EventResponse], error) {
	items, total, err := s.events.ListDeadLettered(ctx, filter)
	if err != nil {
		return shared.Paginated[EventResponse]{}, err
	}
	out := make([]EventResponse, len(items))
	for i, ev := range items {
		out[i] = ToEventResponse(ev)
	}
	return shared.NewPaginated(out, total, filter.Page, filter.PageSize), nil
}

// Requeue takes a dead-lettered event back into processing.
func (s *Service) Requeue(ctx context.Context, id uuid.UUID) (*EventResponse, error) {
	ev, err := s.events.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, intake.ErrEventNotFound
		}
		return nil, err
	}
	if err := ev.Requeue(s.now()); err != nil {
		return nil, err
	}
	if err := s.events.UpdateState(ctx, ev); err != nil {
		return nil, fmt.Errorf("requeue event: %w", err)
	}
	s.logger.Info("Dead-lettered event requeued", zap.String("event_id", ev.ID.String()))
	if s.dispatcher != nil {
		if err := s.dispatcher.Dispatch(ctx, ev); err != nil {
			s.logger.Warn("Dispatch failed, event left for polling", zap.String("event_id", ev.ID.String()), zap.Error(err))
		}
	}
	resp := ToEventResponse(ev)
	return &resp, nil
}
