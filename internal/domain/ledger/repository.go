package ledger

import (
	"context"

	"github.com/erp/reconciler/internal/domain/shared"
	"github.com/google/uuid"
)

// MovementRepository is the append-only movement log.
type MovementRepository interface {
	Append(ctx context.Context, movements ...*Movement) error
	// ListBySKU returns one page of a SKU's movements in ledger order.
	ListBySKU(ctx context.Context, sku string, filter shared.Filter) ([]*Movement, int64, error)
	// AllBySKU returns every movement of a SKU in ledger order.
	AllBySKU(ctx context.Context, sku string) ([]*Movement, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*Movement, error)
	DistinctSKUs(ctx context.Context) ([]string, error)
}

// BalanceRepository stores materialized balances.
type BalanceRepository interface {
	// Get returns shared.ErrNotFound for a SKU without movements.
	Get(ctx context.Context, sku string) (*Balance, error)
	// Save inserts the balance when expectedVersion is 0, otherwise it
	// updates it only if the stored version equals expectedVersion.
	// A lost race returns shared.ErrConcurrencyConflict.
	Save(ctx context.Context, b *Balance, expectedVersion int) error
	// Overwrite replaces the stored balance unconditionally. Used by audit
	// repair and projection rebuilds.
	Overwrite(ctx context.Context, b *Balance) error
	List(ctx context.Context, filter shared.Filter) ([]*Balance, int64, error)
}
