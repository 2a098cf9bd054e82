package order

import (
	"context"
	"strings"

	"github.com/erp/reconciler/internal/domain/allocation"
	"github.com/erp/reconciler/internal/domain/order"
	"github.com/erp/reconciler/internal/domain/shared"
)

// QueryService exposes the reconciled view of orders.
type QueryService struct {
	orders      order.Repository
	allocations allocation.Repository
}

// NewQueryService creates a new QueryService
func NewQueryService(orders order.Repository, allocations allocation.Repository) *QueryService {
	return &QueryService{orders: orders, allocations: allocations}
}

// Get returns the order with its allocations
func (s *QueryService) Get(ctx context.Context, platform, externalOrderID string) (*OrderResponse, error) {
	o, err := s.orders.FindByExternalID(ctx, strings.ToUpper(platform), externalOrderID)
	if err != nil {
		return nil, err
	}
	records, err := s.allocations.ListByOrder(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	resp := ToOrderResponse(o, records)
	return &resp, nil
}

// Transitions returns one page of the order's history, oldest first
func (s *QueryService) Transitions(ctx context.Context, platform, externalOrderID string, filter shared.Filter) (shared.Paginated[TransitionResponse], error) {
	o, err := s.orders.FindByExternalID(ctx, strings.ToUpper(platform), externalOrderID)
	if err != nil {
		return shared.Paginated[TransitionResponse]{}, err
	}
	items, total, err := s.orders.ListTransitions(ctx, o.ID, filter)
	if err != nil {
		return shared.Paginated[TransitionResponse]{}, err
	}
	out := make([]TransitionResponse, len(items))
	for i, t := range items {
		out[i] = ToTransitionResponse(t)
	}
	return shared.NewPaginated(out, total, filter.Page, filter.PageSize), nil
}
