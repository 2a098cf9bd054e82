package ledger

import (
	"time"

	"github.com/erp/reconciler/internal/domain/shared"
	"github.com/google/uuid"
)

// MovementType is the kind of stock action a movement records.
type MovementType string

const (
	MovementReserve MovementType = "RESERVE"
	MovementRelease MovementType = "RELEASE"
	MovementDeduct  MovementType = "DEDUCT"
	MovementAdjust  MovementType = "ADJUST"
)

// IsValid returns true if the movement type is known
func (t MovementType) IsValid() bool {
	switch t {
	case MovementReserve, MovementRelease, MovementDeduct, MovementAdjust:
		return true
	}
	return false
}

// ReferenceType says what a movement points back to.
type ReferenceType string

const (
	ReferenceAllocation ReferenceType = "ALLOCATION"
	ReferenceReceipt    ReferenceType = "RECEIPT"
)

// Movement is one immutable entry of the stock ledger. IDs are UUIDv7 so
// (CreatedAt, ID) gives a total order even within one clock tick.
type Movement struct {
	ID                uuid.UUID
	SKU               string
	Delta             int64
	Type              MovementType
	ReferenceType     ReferenceType
	ReferenceOrderID  uuid.UUID
	ReferenceLineID   string
	ReceiptID         string
	AllocationVersion int
	Note              string
	CreatedAt         time.Time
}

// AllocationRef identifies the allocation transition a movement belongs to.
type AllocationRef struct {
	OrderID uuid.UUID
	LineID  string
	Version int
}

// NewAllocationMovement builds a RESERVE, RELEASE, DEDUCT or ADJUST movement
// for quantity units. The sign of Delta follows the type: RESERVE and
// ADJUST (a return) are positive, RELEASE and DEDUCT negative.
func NewAllocationMovement(sku string, typ MovementType, quantity int64, ref AllocationRef, note string) (*Movement, error) {
	if sku == "" {
		return nil, shared.NewDomainError("INVALID_SKU", "SKU cannot be empty")
	}
	if !typ.IsValid() {
		return nil, shared.NewDomainError("INVALID_MOVEMENT_TYPE", "Unknown movement type: "+string(typ))
	}
	if quantity <= 0 {
		return nil, shared.NewDomainError("INVALID_QUANTITY", "Quantity must be positive")
	}
	if ref.OrderID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_REFERENCE", "Allocation movement must reference an order")
	}
	delta := quantity
	if typ == MovementRelease || typ == MovementDeduct {
		delta = -quantity
	}
	return &Movement{
		ID:                newMovementID(),
		SKU:               sku,
		Delta:             delta,
		Type:              typ,
		ReferenceType:     ReferenceAllocation,
		ReferenceOrderID:  ref.OrderID,
		ReferenceLineID:   ref.LineID,
		AllocationVersion: ref.Version,
		Note:              note,
		CreatedAt:         time.Now(),
	}, nil
}

// NewReceiptMovement builds an ADJUST movement recording a restock, an
// opening balance or a stock-count correction. delta may be negative.
func NewReceiptMovement(sku string, delta int64, receiptID, note string) (*Movement, error) {
	if sku == "" {
		return nil, shared.NewDomainError("INVALID_SKU", "SKU cannot be empty")
	}
	if delta == 0 {
		return nil, shared.NewDomainError("INVALID_QUANTITY", "Adjustment cannot be zero")
	}
	if receiptID == "" {
		return nil, shared.NewDomainError("INVALID_REFERENCE", "Receipt ID cannot be empty")
	}
	return &Movement{
		ID:            newMovementID(),
		SKU:           sku,
		Delta:         delta,
		Type:          MovementAdjust,
		ReferenceType: ReferenceReceipt,
		ReceiptID:     receiptID,
		Note:          note,
		CreatedAt:     time.Now(),
	}, nil
}

func newMovementID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}

// Quantity returns the absolute number of units moved.
func (m *Movement) Quantity() int64 {
	if m.Delta < 0 {
		return -m.Delta
	}
	return m.Delta
}
