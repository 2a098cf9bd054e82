package shared

import (
	"context"

	"github.com/erp/reconciler/internal/domain/allocation"
	"github.com/erp/reconciler/internal/domain/intake"
	"github.com/erp/reconciler/internal/domain/ledger"
	"github.com/erp/reconciler/internal/domain/order"
)

// TransactionScope provides transactional access to the reconciler's repositories.
// When a function is executed within a transaction scope, all repository operations
// will be part of the same database transaction and will be committed or rolled back atomically.
type TransactionScope interface {
	// Execute runs the given function within a database transaction.
	// If the function returns an error, the transaction is rolled back.
	// If the function succeeds, the transaction is committed.
	Execute(ctx context.Context, fn func(repos Repositories) error) error
}

// Repositories provides access to all repositories within a transaction.
// All repositories returned share the same underlying database transaction.
//
// One reconciliation writes through every one of them: the order CAS, its
// transition row, the allocation records, the movements, the balances and
// the raw event's processing state commit or roll back together.
type Repositories interface {
	Events() intake.RawEventRepository
	Orders() order.Repository
	Allocations() allocation.Repository
	Movements() ledger.MovementRepository
	Balances() ledger.BalanceRepository
}
