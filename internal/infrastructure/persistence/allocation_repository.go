package persistence

import (
	"context"
	"time"

	"github.com/erp/reconciler/internal/domain/allocation"
	"github.com/erp/reconciler/internal/domain/shared"
	"github.com/erp/reconciler/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormAllocationRepository implements allocation.Repository using GORM
type GormAllocationRepository struct {
	db *gorm.DB
}

// NewGormAllocationRepository creates a new GormAllocationRepository
func NewGormAllocationRepository(db *gorm.DB) *GormAllocationRepository {
	return &GormAllocationRepository{db: db}
}

// ListByOrder returns an order's records sorted by SKU
func (r *GormAllocationRepository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*allocation.Record, error) {
	var rows []models.AllocationRecordModel
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("sku ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*allocation.Record, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out, nil
}

// Save inserts a record with Version 0 or updates one whose stored version
// equals rec.Version. On success rec.Version is incremented.
func (r *GormAllocationRepository) Save(ctx context.Context, rec *allocation.Record) error {
	now := time.Now()
	m := models.AllocationRecordModelFromDomain(rec)
	m.Version = rec.Version + 1
	m.UpdatedAt = now

	var result *gorm.DB
	if rec.Version == 0 {
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		result = r.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "order_id"}, {Name: "sku"}},
				DoNothing: true,
			}).
			Create(m)
	} else {
		result = r.db.WithContext(ctx).
			Model(&models.AllocationRecordModel{}).
			Where("id = ? AND version = ?", rec.ID, rec.Version).
			Updates(map[string]any{
				"line_id":    m.LineID,
				"quantity":   m.Quantity,
				"state":      m.State,
				"flag":       m.Flag,
				"version":    m.Version,
				"updated_at": m.UpdatedAt,
			})
	}
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrConcurrencyConflict
	}
	rec.Version = m.Version
	rec.UpdatedAt = now
	return nil
}

// Ensure GormAllocationRepository implements allocation.Repository
var _ allocation.Repository = (*GormAllocationRepository)(nil)
