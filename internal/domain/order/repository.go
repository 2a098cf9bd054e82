package order

import (
	"context"

	"github.com/erp/reconciler/internal/domain/shared"
	"github.com/google/uuid"
)

// Repository persists Order aggregates and their transition history.
type Repository interface {
	// FindByExternalID returns shared.ErrNotFound when no order exists.
	FindByExternalID(ctx context.Context, platform, externalOrderID string) (*Order, error)
	FindByID(ctx context.Context, id uuid.UUID) (*Order, error)
	Create(ctx context.Context, o *Order) error
	// Update writes o only if the stored version still equals
	// expectedVersion, otherwise it returns shared.ErrConcurrencyConflict.
	Update(ctx context.Context, o *Order, expectedVersion int) error
	AppendTransition(ctx context.Context, t *Transition) error
	ListTransitions(ctx context.Context, orderID uuid.UUID, filter shared.Filter) ([]*Transition, int64, error)
}
