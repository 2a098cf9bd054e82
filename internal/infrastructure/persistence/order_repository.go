package persistence

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/erp/reconciler/internal/domain/order"
	"github.com/erp/reconciler/internal/domain/shared"
	"github.com/erp/reconciler/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormOrderRepository implements order.Repository using GORM
type GormOrderRepository struct {
	db *gorm.DB
}

// NewGormOrderRepository creates a new GormOrderRepository
func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

// FindByExternalID finds an order by its marketplace identity
func (r *GormOrderRepository) FindByExternalID(ctx context.Context, platform, externalOrderID string) (*order.Order, error) {
	var model models.OrderModel
	err := r.db.WithContext(ctx).
		Where("platform = ? AND external_order_id = ?", platform, externalOrderID).
		First(&model).Error
	if err != nil {
		return nil, notFound(err)
	}
	return model.ToDomain(), nil
}

// FindByID finds an order by ID
func (r *GormOrderRepository) FindByID(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	var model models.OrderModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return model.ToDomain(), nil
}

// Create inserts a new order. A concurrent insert of the same
// (platform, external_order_id) surfaces as a concurrency conflict.
func (r *GormOrderRepository) Create(ctx context.Context, o *order.Order) error {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "platform"}, {Name: "external_order_id"}},
			DoNothing: true,
		}).
		Create(models.OrderModelFromDomain(o))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrConcurrencyConflict
	}
	return nil
}

// Update writes the order if its stored version still equals expectedVersion
func (r *GormOrderRepository) Update(ctx context.Context, o *order.Order, expectedVersion int) error {
	m := models.OrderModelFromDomain(o)
	lines, err := json.Marshal(m.Lines)
	if err != nil {
		return fmt.Errorf("encode lines: %w", err)
	}
	flags, err := json.Marshal(m.Flags)
	if err != nil {
		return fmt.Errorf("encode flags: %w", err)
	}
	result := r.db.WithContext(ctx).
		Model(&models.OrderModel{}).
		Where("id = ? AND version = ?", o.ID, expectedVersion).
		Updates(map[string]any{
			"status":                   m.Status,
			"lines":                    string(lines),
			"last_applied_sequence":    m.LastAppliedSequence,
			"last_applied_event_id":    m.LastAppliedEventID,
			"last_applied_received_at": m.LastAppliedReceivedAt,
			"flags":                    string(flags),
			"version":                  m.Version,
			"updated_at":               m.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrConcurrencyConflict
	}
	return nil
}

// AppendTransition records one history row
func (r *GormOrderRepository) AppendTransition(ctx context.Context, t *order.Transition) error {
	return r.db.WithContext(ctx).Create(models.OrderTransitionModelFromDomain(t)).Error
}

// ListTransitions pages through an order's history, oldest first by default
func (r *GormOrderRepository) ListTransitions(ctx context.Context, orderID uuid.UUID, filter shared.Filter) ([]*order.Transition, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.OrderTransitionModel{}).Where("order_id = ?", orderID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	dir := ValidateSortOrder(filter.OrderDir, "ASC")
	var rows []models.OrderTransitionModel
	if err := paginate(q.Order("created_at "+dir+", id "+dir), filter).Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	out := make([]*order.Transition, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out, total, nil
}

// Ensure GormOrderRepository implements order.Repository
var _ order.Repository = (*GormOrderRepository)(nil)
