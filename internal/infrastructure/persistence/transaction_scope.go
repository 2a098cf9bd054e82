package persistence

import (
	"context"

	appshared "github.com/erp/reconciler/internal/application/shared"
	"github.com/erp/reconciler/internal/domain/allocation"
	"github.com/erp/reconciler/internal/domain/intake"
	"github.com/erp/reconciler/internal/domain/ledger"
	"github.com/erp/reconciler/internal/domain/order"
	"gorm.io/gorm"
)

// GormTransactionScope implements appshared.TransactionScope using GORM
// transactions.
type GormTransactionScope struct {
	db *gorm.DB
}

// NewGormTransactionScope creates a new GormTransactionScope.
func NewGormTransactionScope(db *gorm.DB) *GormTransactionScope {
	return &GormTransactionScope{db: db}
}

// Execute runs fn within a database transaction, rolling back if it errors.
func (s *GormTransactionScope) Execute(ctx context.Context, fn func(repos appshared.Repositories) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewRepositories(tx))
	})
}

// Repositories bundles the repositories bound to one *gorm.DB, which may be
// a transaction or the root handle.
type Repositories struct {
	db *gorm.DB
}

// NewRepositories binds every repository to db
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{db: db}
}

// Events returns the event log repository
func (r *Repositories) Events() intake.RawEventRepository { return NewGormRawEventRepository(r.db) }

// Orders returns the order repository
func (r *Repositories) Orders() order.Repository { return NewGormOrderRepository(r.db) }

// Allocations returns the allocation record repository
func (r *Repositories) Allocations() allocation.Repository { return NewGormAllocationRepository(r.db) }

// Movements returns the stock movement repository
func (r *Repositories) Movements() ledger.MovementRepository { return NewGormMovementRepository(r.db) }

// Balances returns the stock balance repository
func (r *Repositories) Balances() ledger.BalanceRepository { return NewGormBalanceRepository(r.db) }

var (
	_ appshared.TransactionScope = (*GormTransactionScope)(nil)
	_ appshared.Repositories     = (*Repositories)(nil)
)
