package persistence

import (
	"context"

	"github.com/erp/reconciler/internal/domain/ledger"
	"github.com/erp/reconciler/internal/domain/shared"
	"github.com/erp/reconciler/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// movementBatchSize bounds the rows per INSERT statement
const movementBatchSize = 200

// GormMovementRepository implements ledger.MovementRepository using GORM.
// It only ever inserts.
type GormMovementRepository struct {
	db *gorm.DB
}

// NewGormMovementRepository creates a new GormMovementRepository
func NewGormMovementRepository(db *gorm.DB) *GormMovementRepository {
	return &GormMovementRepository{db: db}
}

// Append inserts movements in one statement batch
func (r *GormMovementRepository) Append(ctx context.Context, movements ...*ledger.Movement) error {
	if len(movements) == 0 {
		return nil
	}
	rows := make([]*models.StockMovementModel, len(movements))
	for i, m := range movements {
		rows[i] = models.StockMovementModelFromDomain(m)
	}
	return r.db.WithContext(ctx).CreateInBatches(rows, movementBatchSize).Error
}

// ListBySKU pages through a SKU's movements, in ledger order by default
func (r *GormMovementRepository) ListBySKU(ctx context.Context, sku string, filter shared.Filter) ([]*ledger.Movement, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.StockMovementModel{}).Where("sku = ?", sku)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	dir := ValidateSortOrder(filter.OrderDir, "ASC")
	var rows []models.StockMovementModel
	if err := paginate(q.Order("created_at "+dir+", id "+dir), filter).Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return toMovements(rows), total, nil
}

// AllBySKU returns every movement of a SKU in ledger order
func (r *GormMovementRepository) AllBySKU(ctx context.Context, sku string) ([]*ledger.Movement, error) {
	var rows []models.StockMovementModel
	err := r.db.WithContext(ctx).Where("sku = ?", sku).Order("created_at ASC, id ASC").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return toMovements(rows), nil
}

// ListByOrder returns the movements an order caused, in ledger order
func (r *GormMovementRepository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*ledger.Movement, error) {
	var rows []models.StockMovementModel
	err := r.db.WithContext(ctx).Where("reference_order_id = ?", orderID).Order("created_at ASC, id ASC").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return toMovements(rows), nil
}

// DistinctSKUs returns every SKU with at least one movement, sorted
func (r *GormMovementRepository) DistinctSKUs(ctx context.Context) ([]string, error) {
	var skus []string
	err := r.db.WithContext(ctx).Model(&models.StockMovementModel{}).Distinct("sku").Order("sku ASC").Pluck("sku", &skus).Error
	return skus, err
}

func toMovements(rows []models.StockMovementModel) []*ledger.Movement {
	out := make([]*ledger.Movement, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out
}

// GormBalanceRepository implements ledger.BalanceRepository using GORM
type GormBalanceRepository struct {
	db *gorm.DB
}

// NewGormBalanceRepository creates a new GormBalanceRepository
func NewGormBalanceRepository(db *gorm.DB) *GormBalanceRepository {
	return &GormBalanceRepository{db: db}
}

// Get returns the balance of a SKU or shared.ErrNotFound
func (r *GormBalanceRepository) Get(ctx context.Context, sku string) (*ledger.Balance, error) {
	var model models.StockBalanceModel
	if err := r.db.WithContext(ctx).First(&model, "sku = ?", sku).Error; err != nil {
		return nil, notFound(err)
	}
	return model.ToDomain(), nil
}

// Save inserts the balance when expectedVersion is 0 and otherwise updates it
// only if the stored version equals expectedVersion.
func (r *GormBalanceRepository) Save(ctx context.Context, b *ledger.Balance, expectedVersion int) error {
	m := models.StockBalanceModelFromDomain(b)

	var result *gorm.DB
	if expectedVersion == 0 {
		result = r.db.WithContext(ctx).
			Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "sku"}}, DoNothing: true}).
			Create(m)
	} else {
		result = r.db.WithContext(ctx).
			Model(&models.StockBalanceModel{}).
			Where("sku = ? AND version = ?", b.SKU, expectedVersion).
			Updates(map[string]any{
				"on_hand":        m.OnHand,
				"reserved":       m.Reserved,
				"version":        m.Version,
				"movement_count": m.MovementCount,
				"updated_at":     m.UpdatedAt,
			})
	}
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrConcurrencyConflict
	}
	return nil
}

// Overwrite replaces the balance unconditionally. Only audit repair uses it.
func (r *GormBalanceRepository) Overwrite(ctx context.Context, b *ledger.Balance) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "sku"}}, UpdateAll: true}).
		Create(models.StockBalanceModelFromDomain(b)).Error
}

// List pages through balances sorted by SKU
func (r *GormBalanceRepository) List(ctx context.Context, filter shared.Filter) ([]*ledger.Balance, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.StockBalanceModel{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []models.StockBalanceModel
	if err := paginate(q.Order("sku "+ValidateSortOrder(filter.OrderDir, "ASC")), filter).Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	out := make([]*ledger.Balance, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out, total, nil
}

var (
	_ ledger.MovementRepository = (*GormMovementRepository)(nil)
	_ ledger.BalanceRepository  = (*GormBalanceRepository)(nil)
)
