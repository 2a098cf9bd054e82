package models

import (
	"time"

	"github.com/erp/reconciler/internal/domain/allocation"
	"github.com/google/uuid"
)

// AllocationRecordModel is the persistence model for an allocation record.
type AllocationRecordModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	OrderID   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_allocation_order_sku,priority:1"`
	SKU       string    `gorm:"type:varchar(100);not null;uniqueIndex:idx_allocation_order_sku,priority:2"`
	LineID    string    `gorm:"type:varchar(100);not null;default:''"`
	Quantity  int64     `gorm:"not null"`
	State     string    `gorm:"type:varchar(20);not null"`
	Flag      string    `gorm:"type:varchar(50);not null;default:''"`
	Version   int       `gorm:"not null;default:1"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (AllocationRecordModel) TableName() string {
	return "allocation_records"
}

// ToDomain converts the model to a domain allocation Record
func (m *AllocationRecordModel) ToDomain() *allocation.Record {
	return &allocation.Record{
		ID:        m.ID,
		OrderID:   m.OrderID,
		SKU:       m.SKU,
		LineID:    m.LineID,
		Quantity:  m.Quantity,
		State:     allocation.State(m.State),
		Flag:      m.Flag,
		Version:   m.Version,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// AllocationRecordModelFromDomain builds a model from a domain allocation Record
func AllocationRecordModelFromDomain(r *allocation.Record) *AllocationRecordModel {
	return &AllocationRecordModel{
		ID:        r.ID,
		OrderID:   r.OrderID,
		SKU:       r.SKU,
		LineID:    r.LineID,
		Quantity:  r.Quantity,
		State:     string(r.State),
		Flag:      r.Flag,
		Version:   r.Version,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}
