package allocation

import (
	"context"
	"time"

	"github.com/erp/reconciler/internal/domain/order"
	"github.com/google/uuid"
)

// State is where an order's claim on one SKU stands.
type State string

const (
	StateNone     State = "NONE"
	StateReserved State = "RESERVED"
	StateDeducted State = "DEDUCTED"
	StateReleased State = "RELEASED"
)

// FlagTerminalMismatch marks a record whose order reached a terminal status
// the allocation could not follow (e.g. cancelled after shipment).
const FlagTerminalMismatch = "terminal_mismatch"

// Record joins an order to a SKU and tracks the stock held for it. There is
// exactly one record per (order, SKU).
type Record struct {
	ID        uuid.UUID
	OrderID   uuid.UUID
	SKU       string
	LineID    string
	Quantity  int64
	State     State
	Flag      string
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewRecord returns a record in NONE, not yet persisted.
func NewRecord(orderID uuid.UUID, line order.SKUQuantity) *Record {
	now := time.Now()
	return &Record{
		ID:        uuid.New(),
		OrderID:   orderID,
		SKU:       line.SKU,
		LineID:    line.LineID,
		Quantity:  line.Quantity,
		State:     StateNone,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsPersisted reports whether the record has been stored.
func (r *Record) IsPersisted() bool {
	return r.Version > 0
}

// Repository persists allocation records.
type Repository interface {
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*Record, error)
	// Save inserts a record with Version 0 and otherwise updates it with
	// compare-and-set on Version, bumping it by one.
	Save(ctx context.Context, r *Record) error
}
