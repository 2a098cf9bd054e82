package models

import (
	"time"

	"github.com/erp/reconciler/internal/domain/ledger"
	"github.com/google/uuid"
)

// StockMovementModel is an immutable ledger row. Rows are only ever inserted.
type StockMovementModel struct {
	ID                uuid.UUID  `gorm:"type:uuid;primaryKey"`
	SKU               string     `gorm:"type:varchar(100);not null;index:idx_stock_movements_sku,priority:1"`
	Delta             int64      `gorm:"not null"`
	Type              string     `gorm:"type:varchar(20);not null"`
	ReferenceType     string     `gorm:"type:varchar(20);not null"`
	ReferenceOrderID  *uuid.UUID `gorm:"type:uuid;index"`
	ReferenceLineID   string     `gorm:"type:varchar(100);not null;default:''"`
	ReceiptID         string     `gorm:"type:varchar(100);not null;default:''"`
	AllocationVersion int        `gorm:"not null;default:0"`
	Note              string     `gorm:"type:text;not null;default:''"`
	CreatedAt         time.Time  `gorm:"not null;index:idx_stock_movements_sku,priority:2"`
}

// TableName returns the table name for GORM
func (StockMovementModel) TableName() string {
	return "stock_movements"
}

// ToDomain converts the model to a domain Movement
func (m *StockMovementModel) ToDomain() *ledger.Movement {
	mv := &ledger.Movement{
		ID:                m.ID,
		SKU:               m.SKU,
		Delta:             m.Delta,
		Type:              ledger.MovementType(m.Type),
		ReferenceType:     ledger.ReferenceType(m.ReferenceType),
		ReferenceLineID:   m.ReferenceLineID,
		ReceiptID:         m.ReceiptID,
		AllocationVersion: m.AllocationVersion,
		Note:              m.Note,
		CreatedAt:         m.CreatedAt,
	}
	if m.ReferenceOrderID != nil {
		mv.ReferenceOrderID = *m.ReferenceOrderID
	}
	return mv
}

// StockMovementModelFromDomain builds a model from a domain Movement
func StockMovementModelFromDomain(mv *ledger.Movement) *StockMovementModel {
	m := &StockMovementModel{
		ID:                mv.ID,
		SKU:               mv.SKU,
		Delta:             mv.Delta,
		Type:              string(mv.Type),
		ReferenceType:     string(mv.ReferenceType),
		ReferenceLineID:   mv.ReferenceLineID,
		ReceiptID:         mv.ReceiptID,
		AllocationVersion: mv.AllocationVersion,
		Note:              mv.Note,
		CreatedAt:         mv.CreatedAt,
	}
	if mv.ReferenceOrderID != uuid.Nil {
		id := mv.ReferenceOrderID
		m.ReferenceOrderID = &id
	}
	return m
}

// StockBalanceModel is the materialized per-SKU position.
type StockBalanceModel struct {
	SKU           string    `gorm:"type:varchar(100);primaryKey"`
	OnHand        int64     `gorm:"not null;default:0"`
	Reserved      int64     `gorm:"not null;default:0"`
	Version       int       `gorm:"not null;default:0"`
	MovementCount int64     `gorm:"not null;default:0"`
	UpdatedAt     time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (StockBalanceModel) TableName() string {
	return "stock_balances"
}

// ToDomain converts the model to a domain Balance
func (m *StockBalanceModel) ToDomain() *ledger.Balance {
	return &ledger.Balance{
		SKU:           m.SKU,
		OnHand:        m.OnHand,
		Reserved:      m.Reserved,
		Version:       m.Version,
		MovementCount: m.MovementCount,
		UpdatedAt:     m.UpdatedAt,
	}
}

// StockBalanceModelFromDomain builds a model from a domain Balance
func StockBalanceModelFromDomain(b *ledger.Balance) *StockBalanceModel {
	return &StockBalanceModel{
		SKU:           b.SKU,
		OnHand:        b.OnHand,
		Reserved:      b.Reserved,
		Version:       b.Version,
		MovementCount: b.MovementCount,
		UpdatedAt:     b.UpdatedAt,
	}
}

// AllModels lists every model, in dependency order, for AutoMigrate.
func AllModels() []any {
	return []any{
		&RawEventModel{},
		&OrderModel{},
		&OrderTransitionModel{},
		&AllocationRecordModel{},
		&StockMovementModel{},
		&StockBalanceModel{},
	}
}
