package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	appledger "github.com/erp/reconciler/internal/application/ledger"
	appshared "github.com/erp/reconciler/internal/application/shared"
	"github.com/erp/reconciler/internal/domain/intake"
	"github.com/erp/reconciler/internal/domain/ledger"
	"github.com/erp/reconciler/internal/domain/order"
	"github.com/erp/reconciler/internal/domain/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RebuildTarget is an empty store the projections are rebuilt into.
type RebuildTarget interface {
	appshared.TransactionScope
	appshared.Repositories
}

// OrderMismatch is an order whose rebuilt status differs from the live one.
type OrderMismatch struct {
	Platform        string       `json:"platform"`
	ExternalOrderID string       `json:"external_order_id"`
	Live            order.Status `json:"live"`
	Rebuilt         order.Status `json:"rebuilt"`
}

// RebuildReport compares rebuilt projections with the live ones.
type RebuildReport struct {
	Events          int             `json:"events"`
	Receipts        int             `json:"receipts"`
	Failures        int             `json:"failures"`
	SKUs            int             `json:"skus"`
	Orders          int             `json:"orders"`
	Drifts          []ledger.Drift  `json:"drifts"`
	OrderMismatches []OrderMismatch `json:"order_mismatches"`
}

// Converged reports whether the rebuild reproduced the live state.
func (r *RebuildReport) Converged() bool {
	return r.Failures == 0 && len(r.Drifts) == 0 && len(r.OrderMismatches) == 0
}

// Rebuilder replays the live event log and receipts, in the order they were
// originally processed, into an empty target and compares the outcome with
// the live projections.
type Rebuilder struct {
	live        appshared.Repositories
	target      RebuildTarget
	normalizers intake.NormalizerRegistry
	batchSize   int
	logger      *zap.Logger
}

// NewRebuilder creates a new Rebuilder
func NewRebuilder(live appshared.Repositories, target RebuildTarget, normalizers intake.NormalizerRegistry, logger *zap.Logger) *Rebuilder {
	return &Rebuilder{
		live:        live,
		target:      target,
		normalizers: normalizers,
		batchSize:   500,
		logger:      logger,
	}
}

type passThroughLocker struct{}

func (passThroughLocker) Lock(context.Context, []string) (func(), error) {
	return func() {}, nil
}

// Rebuild runs the replay. It is single-threaded.
func (b *Rebuilder) Rebuild(ctx context.Context) (*RebuildReport, error) {
	report := &RebuildReport{}

	receipts, err := b.liveReceipts(ctx)
	if err != nil {
		return nil, err
	}
	report.Receipts = len(receipts)

	var replayAt time.Time
	rec := NewReconciler(b.target, b.target.Events(), b.target.Orders(), b.normalizers, passThroughLocker{},
		shared.RetryPolicy{MaxAttempts: 1}, b.logger.Named("rebuild"))
	rec.SetClock(func() time.Time { return replayAt })

	orders := make(map[orderRef]bool)
	var (
		after   time.Time
		afterID uuid.UUID
	)
	for {
		batch, err := b.live.Events().ListProcessed(ctx, after, afterID, b.batchSize)
		if err != nil {
			return nil, fmt.Errorf("list processed events: %w", err)
		}
		for _, ev := range batch {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			replayAt = *ev.ProcessedAt
			receipts, err = b.postReceipts(ctx, receipts, replayAt)
			if err != nil {
				return nil, err
			}
			if _, _, err := b.target.Events().Insert(ctx, freshCopy(ev)); err != nil {
				return nil, fmt.Errorf("copy event %s: %w", ev.ID, err)
			}
			report.Events++
			if _, err := rec.Process(ctx, ev.ID); err != nil {
				report.Failures++
				b.logger.Warn("Replay of processed event failed", zap.String("event_id", ev.ID.String()), zap.Error(err))
				continue
			}
			if ev.ExternalOrderID != "" {
				orders[orderRef{platform: string(ev.Platform), externalID: ev.ExternalOrderID}] = true
			}
		}
		if len(batch) < b.batchSize {
			break
		}
		last := batch[len(batch)-1]
		after, afterID = *last.ProcessedAt, last.ID
	}
	if _, err := b.postReceipts(ctx, receipts, time.Time{}); err != nil {
		return nil, err
	}

	if err := b.compareBalances(ctx, report); err != nil {
		return nil, err
	}
	if err := b.compareOrders(ctx, orders, report); err != nil {
		return nil, err
	}
	return report, nil
}

func freshCopy(ev *intake.RawEvent) *intake.RawEvent {
	return &intake.RawEvent{
		ID:              ev.ID,
		Platform:        ev.Platform,
		ExternalOrderID: ev.ExternalOrderID,
		IdempotencyKey:  ev.IdempotencyKey,
		EventType:       ev.EventType,
		SequenceHint:    ev.SequenceHint,
		Payload:         ev.Payload,
		ReceivedAt:      ev.ReceivedAt,
	}
}

func (b *Rebuilder) liveReceipts(ctx context.Context) ([]*ledger.Movement, error) {
	skus, err := b.live.Movements().DistinctSKUs(ctx)
	if err != nil {
		return nil, err
	}
	var receipts []*ledger.Movement
	for _, sku := range skus {
		all, err := b.live.Movements().AllBySKU(ctx, sku)
		if err != nil {
			return nil, err
		}
		for _, m := range all {
			if m.ReferenceType == ledger.ReferenceReceipt {
				receipts = append(receipts, m)
			}
		}
	}
	sort.SliceStable(receipts, func(i, j int) bool { return receipts[i].CreatedAt.Before(receipts[j].CreatedAt) })
	return receipts, nil
}

// postReceipts posts the receipts created up to until (all of them for a
// zero until) and returns the rest.
func (b *Rebuilder) postReceipts(ctx context.Context, receipts []*ledger.Movement, until time.Time) ([]*ledger.Movement, error) {
	n := 0
	for n < len(receipts) && (until.IsZero() || !receipts[n].CreatedAt.After(until)) {
		n++
	}
	if n == 0 {
		return receipts, nil
	}
	due := receipts[:n]
	err := b.target.Execute(ctx, func(repos appshared.Repositories) error {
		_, err := appledger.Post(ctx, repos, due)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("replay receipts: %w", err)
	}
	return receipts[n:], nil
}

func (b *Rebuilder) compareBalances(ctx context.Context, report *RebuildReport) error {
	liveSKUs, err := b.live.Movements().DistinctSKUs(ctx)
	if err != nil {
		return err
	}
	rebuiltSKUs, err := b.target.Movements().DistinctSKUs(ctx)
	if err != nil {
		return err
	}
	skus := make(map[string]bool)
	for _, s := range append(liveSKUs, rebuiltSKUs...) {
		skus[s] = true
	}
	report.SKUs = len(skus)

	for sku := range skus {
		live, err := balanceOrEmpty(ctx, b.live.Balances(), sku)
		if err != nil {
			return err
		}
		rebuilt, err := balanceOrEmpty(ctx, b.target.Balances(), sku)
		if err != nil {
			return err
		}
		d := ledger.Drift{SKU: sku, Materialized: ledger.PositionOf(live), Replayed: ledger.PositionOf(rebuilt)}
		if d.Diverged() {
			report.Drifts = append(report.Drifts, d)
		}
	}
	sort.Slice(report.Drifts, func(i, j int) bool { return report.Drifts[i].SKU < report.Drifts[j].SKU })
	return nil
}

type orderRef struct {
	platform   string
	externalID string
}

func (b *Rebuilder) compareOrders(ctx context.Context, refs map[orderRef]bool, report *RebuildReport) error {
	for ref := range refs {
		platform, externalID := ref.platform, ref.externalID
		live, err := b.live.Orders().FindByExternalID(ctx, platform, externalID)
		if err != nil {
			return fmt.Errorf("load live order %s: %w", externalID, err)
		}
		rebuilt, err := b.target.Orders().FindByExternalID(ctx, platform, externalID)
		if err != nil && !errors.Is(err, shared.ErrNotFound) {
			return err
		}
		report.Orders++
		rebuiltStatus := order.Status("")
		if rebuilt != nil {
			rebuiltStatus = rebuilt.Status
		}
		if live.Status != rebuiltStatus {
			report.OrderMismatches = append(report.OrderMismatches, OrderMismatch{
				Platform:        platform,
				ExternalOrderID: externalID,
				Live:            live.Status,
				Rebuilt:         rebuiltStatus,
			})
		}
	}
	return nil
}

func balanceOrEmpty(ctx context.Context, repo ledger.BalanceRepository, sku string) (*ledger.Balance, error) {
	b, err := repo.Get(ctx, sku)
	if errors.Is(err, shared.ErrNotFound) {
		return ledger.NewBalance(sku), nil
	}
	return b, err
}
