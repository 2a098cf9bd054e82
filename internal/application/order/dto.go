package order

import (
	"time"

	"github.com/erp/reconciler/internal/domain/allocation"
	"github.com/erp/reconciler/internal/domain/order"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderResponse is the canonical view of one external order
type OrderResponse struct {
	ID                  uuid.UUID            `json:"id"`
	Platform            string               `json:"platform"`
	ExternalOrderID     string               `json:"external_order_id"`
	CanonicalStatus     string               `json:"canonical_status"`
	LineItems           []LineItemResponse   `json:"line_items"`
	Version             int                  `json:"version"`
	LastAppliedSequence int64                `json:"last_applied_sequence"`
	Flags               []string             `json:"flags"`
	Allocations         []AllocationResponse `json:"allocations"`
	CreatedAt           time.Time            `json:"created_at"`
	UpdatedAt           time.Time            `json:"updated_at"`
}

// LineItemResponse is one order line
type LineItemResponse struct {
	LineID    string          `json:"line_id"`
	SKU       string          `json:"sku"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Amount    decimal.Decimal `json:"amount"`
}

// AllocationResponse is the stock held for one SKU of the order
type AllocationResponse struct {
	SKU       string    `json:"sku"`
	Quantity  int64     `json:"quantity"`
	State     string    `json:"state"`
	Flag      string    `json:"flag,omitempty"`
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TransitionResponse is one row of an order's history
type TransitionResponse struct {
	ID           uuid.UUID `json:"id"`
	EventID      uuid.UUID `json:"event_id"`
	FromStatus   string    `json:"from_status"`
	ToStatus     string    `json:"to_status"`
	SequenceHint int64     `json:"sequence_hint"`
	Outcome      string    `json:"outcome"`
	CreatedAt    time.Time `json:"created_at"`
}

// ToOrderResponse converts an order and its allocation records
func ToOrderResponse(o *order.Order, records []*allocation.Record) OrderResponse {
	lines := make([]LineItemResponse, len(o.Lines))
	for i, l := range o.Lines {
		lines[i] = LineItemResponse{
			LineID:    l.LineID,
			SKU:       l.SKU,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
			Amount:    l.UnitPrice.Mul(decimal.NewFromInt(l.Quantity)),
		}
	}
	allocs := make([]AllocationResponse, len(records))
	for i, r := range records {
		allocs[i] = AllocationResponse{
			SKU:       r.SKU,
			Quantity:  r.Quantity,
			State:     string(r.State),
			Flag:      r.Flag,
			Version:   r.Version,
			UpdatedAt: r.UpdatedAt,
		}
	}
	flags := o.Flags
	if flags == nil {
		flags = []string{}
	}
	return OrderResponse{
		ID:                  o.ID,
		Platform:            o.Platform,
		ExternalOrderID:     o.ExternalOrderID,
		CanonicalStatus:     o.Status.String(),
		LineItems:           lines,
		Version:             o.Version,
		LastAppliedSequence: o.LastAppliedSequence,
		Flags:               flags,
		Allocations:         allocs,
		CreatedAt:           o.CreatedAt,
		UpdatedAt:           o.UpdatedAt,
	}
}

// ToTransitionResponse converts a transition row
func ToTransitionResponse(t *order.Transition) TransitionResponse {
	return TransitionResponse{
		ID:           t.ID,
		EventID:      t.EventID,
		FromStatus:   t.FromStatus.String(),
		ToStatus:     t.ToStatus.String(),
		SequenceHint: t.SequenceHint,
		Outcome:      string(t.Outcome),
		CreatedAt:    t.CreatedAt,
	}
}
