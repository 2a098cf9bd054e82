package persistence

import (
	"context"
	"time"

	"github.com/erp/reconciler/internal/domain/intake"
	"github.com/erp/reconciler/internal/domain/shared"
	"github.com/erp/reconciler/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormRawEventRepository implements intake.RawEventRepository using GORM
type GormRawEventRepository struct {
	db *gorm.DB
}

// NewGormRawEventRepository creates a new GormRawEventRepository
func NewGormRawEventRepository(db *gorm.DB) *GormRawEventRepository {
	return &GormRawEventRepository{db: db}
}

// Insert stores the event unless its idempotency key is already present.
// The unique index on idempotency_key decides; on conflict the stored row
// is returned with created=false.
func (r *GormRawEventRepository) Insert(ctx context.Context, ev *intake.RawEvent) (*intake.RawEvent, bool, error) {
	model := models.RawEventModelFromDomain(ev)
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "idempotency_key"}}, DoNothing: true}).
		Create(model)
	if result.Error != nil {
		return nil, false, result.Error
	}
	if result.RowsAffected == 1 {
		return ev, true, nil
	}
	stored, err := r.FindByKey(ctx, ev.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	return stored, false, nil
}

// FindByID finds an event by ID
func (r *GormRawEventRepository) FindByID(ctx context.Context, id uuid.UUID) (*intake.RawEvent, error) {
	var model models.RawEventModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return model.ToDomain(), nil
}

// FindByKey finds an event by idempotency key
func (r *GormRawEventRepository) FindByKey(ctx context.Context, key string) (*intake.RawEvent, error) {
	var model models.RawEventModel
	if err := r.db.WithContext(ctx).First(&model, "idempotency_key = ?", key).Error; err != nil {
		return nil, notFound(err)
	}
	return model.ToDomain(), nil
}

// FindReady returns unprocessed, live events whose retry time has passed,
// oldest first.
func (r *GormRawEventRepository) FindReady(ctx context.Context, now time.Time, limit int) ([]*intake.RawEvent, error) {
	var rows []models.RawEventModel
	err := r.db.WithContext(ctx).
		Where("processed = ? AND dead_lettered = ?", false, false).
		Where("next_retry_at IS NULL OR next_retry_at <= ?", now).
		Order("received_at ASC, id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return toEvents(rows), nil
}

// UpdateState writes the processing columns of an event. The payload,
// idempotency key and received_at are immutable.
func (r *GormRawEventRepository) UpdateState(ctx context.Context, ev *intake.RawEvent) error {
	result := r.db.WithContext(ctx).
		Model(&models.RawEventModel{}).
		Where("id = ?", ev.ID).
		Updates(models.RawEventModelFromDomain(ev).StateColumns())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// ListDeadLettered pages through dead-lettered events, oldest first
func (r *GormRawEventRepository) ListDeadLettered(ctx context.Context, filter shared.Filter) ([]*intake.RawEvent, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.RawEventModel{}).Where("dead_lettered = ?", true)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []models.RawEventModel
	if err := paginate(q.Order("received_at ASC, id ASC"), filter).Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return toEvents(rows), total, nil
}

// ListProcessed returns processed events strictly after the (after, afterID)
// cursor in (processed_at, id) order.
func (r *GormRawEventRepository) ListProcessed(ctx context.Context, after time.Time, afterID uuid.UUID, limit int) ([]*intake.RawEvent, error) {
	var rows []models.RawEventModel
	err := r.db.WithContext(ctx).
		Where("processed = ? AND processed_at IS NOT NULL", true).
		Where("processed_at > ? OR (processed_at = ? AND id > ?)", after, after, afterID).
		Order("processed_at ASC, id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return toEvents(rows), nil
}

func toEvents(rows []models.RawEventModel) []*intake.RawEvent {
	out := make([]*intake.RawEvent, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out
}

// Ensure GormRawEventRepository implements the port
var _ intake.RawEventRepository = (*GormRawEventRepository)(nil)
