package ledger

import (
	"context"
	"errors"
	"fmt"

	appshared "github.com/erp/reconciler/internal/application/shared"
	"github.com/erp/reconciler/internal/domain/ledger"
	"github.com/erp/reconciler/internal/domain/shared"
	"go.uber.org/zap"
)

// Service answers stock queries and performs the ledger operations that do
// not come from order events: receipts and audits.
type Service struct {
	scope     appshared.TransactionScope
	movements ledger.MovementRepository
	balances  ledger.BalanceRepository
	locker    appshared.SKULocker
	metrics   appshared.Metrics
	logger    *zap.Logger
}

// NewService creates a new ledger Service
func NewService(
	scope appshared.TransactionScope,
	movements ledger.MovementRepository,
	balances ledger.BalanceRepository,
	locker appshared.SKULocker,
	logger *zap.Logger,
) *Service {
	return &Service{
		scope:     scope,
		movements: movements,
		balances:  balances,
		locker:    locker,
		metrics:   appshared.NopMetrics{},
		logger:    logger,
	}
}

// SetMetrics sets the metrics sink
func (s *Service) SetMetrics(m appshared.Metrics) {
	s.metrics = m
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

// GetBalance returns the position of sku. A SKU that never moved has an
// all-zero balance.
func (s *Service) GetBalance(ctx context.Context, sku string) (*BalanceResponse, error) {
	sku = ledger.NormalizeSKU(sku)
	if sku == "" {
		return nil, shared.NewDomainError("INVALID_SKU", "SKU cannot be empty")
	}
	b, err := loadBalance(ctx, s.balances, sku)
	if err != nil {
		return nil, err
	}
	resp := ToBalanceResponse(b)
	return &resp, nil
}

// ListBalances returns one page of balances ordered by SKU
func (s *Service) ListBalances(ctx context.Context, filter shared.Filter) (shared.Paginated[BalanceResponse], error) {
	items, total, err := s.balances.List(ctx, filter)
	if err != nil {
		return shared.Paginated[BalanceResponse]{}, err
	}
	out := make([]BalanceResponse, len(items))
	for i, b := range items {
		out[i] = ToBalanceResponse(b)
	}
	return shared.NewPaginated(out, total, filter.Page, filter.PageSize), nil
}

// ListMovements returns one page of a SKU's movements in ledger order
func (s *Service) ListMovements(ctx context.Context, sku string, filter shared.Filter) (shared.Paginated[MovementResponse], error) {
	sku = ledger.NormalizeSKU(sku)
	items, total, err := s.movements.ListBySKU(ctx, sku, filter)
	if err != nil {
		return shared.Paginated[MovementResponse]{}, err
	}
	return shared.NewPaginated(toMovementResponses(items), total, filter.Page, filter.PageSize), nil
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

// Adjust posts a receipt movement. Negative adjustments cannot take
// available stock below zero.
func (s *Service) Adjust(ctx context.Context, sku string, req AdjustRequest) (*BalanceResponse, error) {
	sku = ledger.NormalizeSKU(sku)
	m, err := ledger.NewReceiptMovement(sku, req.Delta, req.ReceiptID, req.Note)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, []string{sku})
	if err != nil {
		return nil, err
	}
	defer unlock()

	var balance *ledger.Balance
	err = appshared.RetryOnConflict(ctx, appshared.DefaultConflictRetries, func() error {
		return s.scope.Execute(ctx, func(repos appshared.Repositories) error {
			balances, err := Post(ctx, repos, []*ledger.Movement{m})
			if err != nil {
				return err
			}
			balance = balances[sku]
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordMovement(ctx, string(m.Type), m.Quantity())
	s.logger.Info("Stock adjusted",
		zap.String("sku", sku),
		zap.Int64("delta", req.Delta),
		zap.String("receipt_id", req.ReceiptID),
		zap.Int64("available", balance.Available()),
	)
	resp := ToBalanceResponse(balance)
	return &resp, nil
}

// Audit recomputes sku's balance from its movement log and compares it with
// the materialized one. With repair set, a diverged balance is rewritten to
// the replayed value.
func (s *Service) Audit(ctx context.Context, sku string, repair bool) (*DriftResponse, error) {
	sku = ledger.NormalizeSKU(sku)
	unlock, err := s.locker.Lock(ctx, []string{sku})
	if err != nil {
		return nil, err
	}
	defer unlock()

	var resp DriftResponse
	err = s.scope.Execute(ctx, func(repos appshared.Repositories) error {
		movements, err := repos.Movements().AllBySKU(ctx, sku)
		if err != nil {
			return err
		}
		replayed, err := ledger.Replay(sku, movements)
		if err != nil {
			return err
		}
		materialized, err := loadBalance(ctx, repos.Balances(), sku)
		if err != nil {
			return err
		}

		drift := ledger.Drift{
			SKU:          sku,
			Materialized: ledger.PositionOf(materialized),
			Replayed:     ledger.PositionOf(replayed),
		}
		repaired := false
		if drift.Diverged() && repair {
			replayed.Version = materialized.Version + 1
			if err := repos.Balances().Overwrite(ctx, replayed); err != nil {
				return fmt.Errorf("repair balance %s: %w", sku, err)
			}
			repaired = true
		}
		resp = toDriftResponse(drift, repaired)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if resp.Diverged {
		s.metrics.RecordDrift(ctx, sku)
		s.logger.Warn("Stock balance drift detected",
			zap.String("sku", sku),
			zap.Any("materialized", resp.Materialized),
			zap.Any("replayed", resp.Replayed),
			zap.Bool("repaired", resp.Repaired),
		)
	}
	return &resp, nil
}

// AuditAll audits every SKU that has a movement or a balance.
func (s *Service) AuditAll(ctx context.Context, repair bool) (*AuditReport, error) {
	skus, err := s.knownSKUs(ctx)
	if err != nil {
		return nil, err
	}

	report := &AuditReport{Drifts: make([]DriftResponse, 0)}
	for _, sku := range skus {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		drift, err := s.Audit(ctx, sku, repair)
		if err != nil {
			return report, fmt.Errorf("audit %s: %w", sku, err)
		}
		report.Checked++
		if drift.Diverged {
			report.Diverged++
			report.Drifts = append(report.Drifts, *drift)
		}
		if drift.Repaired {
			report.Repaired++
		}
	}
	return report, nil
}

func (s *Service) knownSKUs(ctx context.Context) ([]string, error) {
	skus, err := s.movements.DistinctSKUs(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(skus))
	for _, sku := range skus {
		seen[sku] = true
	}

	filter := shared.Filter{Page: 1, PageSize: 500}
	for {
		items, total, err := s.balances.List(ctx, filter)
		if err != nil {
			return nil, err
		}
		for _, b := range items {
			if !seen[b.SKU] {
				seen[b.SKU] = true
				skus = append(skus, b.SKU)
			}
		}
		if int64(filter.Offset()+len(items)) >= total || len(items) == 0 {
			break
		}
		filter.Page++
	}
	return skus, nil
}

// IsInsufficientStock reports whether err is a rejected reservation.
func IsInsufficientStock(err error) bool {
	return errors.Is(err, shared.ErrInsufficientStock)
}
