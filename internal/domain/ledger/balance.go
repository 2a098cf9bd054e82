package ledger

import (
	"fmt"
	"time"

	"github.com/erp/reconciler/internal/domain/shared"
)

// Balance is the materialized stock position of one SKU. It must always
// equal the fold of the SKU's movements.
type Balance struct {
	SKU           string
	OnHand        int64
	Reserved      int64
	Version       int
	MovementCount int64
	UpdatedAt     time.Time
}

// NewBalance returns the empty balance of a SKU that has no movements.
func NewBalance(sku string) *Balance {
	return &Balance{SKU: sku}
}

// Available is on hand stock not promised to any order.
func (b *Balance) Available() int64 {
	return b.OnHand - b.Reserved
}

// InsufficientStockError is returned when a movement would drive available
// stock below zero. It matches shared.ErrInsufficientStock with errors.Is.
type InsufficientStockError struct {
	SKU       string
	Requested int64
	Available int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.SKU, e.Requested, e.Available)
}

// Is matches the shared sentinel.
func (e *InsufficientStockError) Is(target error) bool {
	return target == shared.ErrInsufficientStock
}

// Apply folds m into the balance. It rejects any movement that would break
// available >= 0 or release more than is reserved, leaving the balance
// untouched.
func (b *Balance) Apply(m *Movement) error {
	if m.SKU != b.SKU {
		return shared.NewDomainError(shared.CodeInvalidInput, fmt.Sprintf("movement for %s applied to balance of %s", m.SKU, b.SKU))
	}
	onHand, reserved := b.OnHand, b.Reserved
	q := m.Quantity()

	switch m.Type {
	case MovementReserve:
		if b.Available() < q {
			return &InsufficientStockError{SKU: b.SKU, Requested: q, Available: b.Available()}
		}
		reserved += q
	case MovementRelease:
		if reserved < q {
			return shared.NewDomainError(shared.CodeInvalidState, fmt.Sprintf("release of %d exceeds reserved %d for %s", q, reserved, b.SKU))
		}
		reserved -= q
	case MovementDeduct:
		if reserved < q || onHand < q {
			return shared.NewDomainError(shared.CodeInvalidState, fmt.Sprintf("deduct of %d exceeds reserved %d for %s", q, reserved, b.SKU))
		}
		onHand -= q
		reserved -= q
	case MovementAdjust:
		if m.Delta < 0 && b.Available() < q {
			return &InsufficientStockError{SKU: b.SKU, Requested: q, Available: b.Available()}
		}
		onHand += m.Delta
	default:
		return shared.NewDomainError("INVALID_MOVEMENT_TYPE", "Unknown movement type: "+string(m.Type))
	}

	b.OnHand = onHand
	b.Reserved = reserved
	b.Version++
	b.MovementCount++
	b.UpdatedAt = m.CreatedAt
	return nil
}

// Replay folds movements, which must be in ledger order, into a fresh
// balance for sku.
func Replay(sku string, movements []*Movement) (*Balance, error) {
	b := NewBalance(sku)
	for _, m := range movements {
		if err := b.Apply(m); err != nil {
			return nil, fmt.Errorf("replay %s at movement %s: %w", sku, m.ID, err)
		}
	}
	return b, nil
}

// Drift compares a materialized balance with the one rebuilt from the log.
type Drift struct {
	SKU          string
	Materialized Position
	Replayed     Position
}

// Position is the comparable part of a balance.
type Position struct {
	OnHand        int64 `json:"on_hand"`
	Reserved      int64 `json:"reserved"`
	Available     int64 `json:"available"`
	MovementCount int64 `json:"movement_count"`
}

// PositionOf extracts the comparable fields of b.
func PositionOf(b *Balance) Position {
	return Position{
		OnHand:        b.OnHand,
		Reserved:      b.Reserved,
		Available:     b.Available(),
		MovementCount: b.MovementCount,
	}
}

// Diverged reports whether the materialized balance disagrees with the log.
func (d Drift) Diverged() bool {
	return d.Materialized != d.Replayed
}
