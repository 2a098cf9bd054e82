package reconcile

import (
	"context"
	"fmt"

	appledger "github.com/erp/reconciler/internal/application/ledger"
	appshared "github.com/erp/reconciler/internal/application/shared"
	"github.com/erp/reconciler/internal/domain/allocation"
	"github.com/erp/reconciler/internal/domain/ledger"
	"github.com/erp/reconciler/internal/domain/order"
	"github.com/erp/reconciler/internal/domain/shared"
	"github.com/erp/reconciler/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// Coordinator turns an accepted status transition into allocation state
// changes and stock movements.
type Coordinator struct {
	logger *zap.Logger
}

// NewCoordinator creates a new Coordinator
func NewCoordinator(logger *zap.Logger) *Coordinator {
	return &Coordinator{logger: logger}
}

// AllocationOutcome is what one transition did to stock.
type AllocationOutcome struct {
	Movements []*ledger.Movement
	Records   []*allocation.Record
	Warnings  []string
}

// OnTransition plans and posts the movements for o having moved to its
// current status. It runs inside the reconciliation transaction; the caller
// holds the locks of every SKU on the order.
func (c *Coordinator) OnTransition(ctx context.Context, repos appshared.Repositories, o *order.Order, res order.ApplyResult) (*AllocationOutcome, error) {
	records, err := c.records(ctx, repos, o)
	if err != nil {
		return nil, err
	}

	span := telemetry.SpanFromContext(ctx)
	out := &AllocationOutcome{Records: records}
	steps := allocation.Plan(res.To, records)
	for _, step := range steps {
		rec := step.Record
		ref := ledger.AllocationRef{OrderID: o.ID, LineID: rec.LineID, Version: rec.Version + 1}
		for _, typ := range step.Movements {
			note := fmt.Sprintf("%s -> %s", res.From, res.To)
			if step.Compensated {
				note = "compensating " + note
			}
			m, err := ledger.NewAllocationMovement(rec.SKU, typ, rec.Quantity, ref, note)
			if err != nil {
				return nil, err
			}
			out.Movements = append(out.Movements, m)
			telemetry.AddEvent(span, "stock_movement",
				telemetry.SpanAttrSKU, m.SKU,
				telemetry.SpanAttrMovementType, string(m.Type),
				telemetry.SpanAttrQuantity, rec.Quantity,
			)
		}

		if step.Compensated {
			o.AddFlag(order.FlagCompensatedShipment)
			out.Warnings = append(out.Warnings, fmt.Sprintf("%s shipped without reservation, compensating reserve+deduct", rec.SKU))
		}
		if step.Flag == allocation.FlagTerminalMismatch && rec.Flag != allocation.FlagTerminalMismatch {
			o.AddFlag(order.FlagTerminalMismatch)
			mismatch := shared.NewDomainError(shared.CodeTerminalMismatch,
				fmt.Sprintf("order %s reached %s with %s in state %s", o.ExternalOrderID, res.To, rec.SKU, rec.State))
			out.Warnings = append(out.Warnings, mismatch.Error())
			c.logger.Warn("Allocation terminal mismatch",
				zap.String("order_id", o.ExternalOrderID),
				zap.String("sku", rec.SKU),
				zap.String("state", string(rec.State)),
				zap.String("to_status", res.To.String()),
				zap.Error(mismatch),
			)
		}

		if !step.Changed() && rec.IsPersisted() {
			continue
		}
		rec.State = step.NewState
		rec.Flag = step.Flag
		if err := repos.Allocations().Save(ctx, rec); err != nil {
			return nil, fmt.Errorf("save allocation %s/%s: %w", o.ExternalOrderID, rec.SKU, err)
		}
	}

	if len(out.Movements) > 0 {
		if _, err := appledger.Post(ctx, repos, out.Movements); err != nil {
			return nil, err
		}
	}
	for _, w := range out.Warnings {
		c.logger.Warn("Reconciliation warning", zap.String("order_id", o.ExternalOrderID), zap.String("warning", w))
	}
	return out, nil
}

// records returns one allocation record per SKU on the order, creating the
// missing ones in NONE. Records that never held stock follow the current
// lines, which may still change while the order is NEW.
func (c *Coordinator) records(ctx context.Context, repos appshared.Repositories, o *order.Order) ([]*allocation.Record, error) {
	existing, err := repos.Allocations().ListByOrder(ctx, o.ID)
	if err != nil {
		return nil, fmt.Errorf("load allocations: %w", err)
	}
	lines := order.QuantitiesBySKU(o.Lines)
	current := make(map[string]order.SKUQuantity, len(lines))
	for _, q := range lines {
		current[q.SKU] = q
	}

	records := make([]*allocation.Record, 0, len(lines))
	seen := make(map[string]bool, len(existing))
	for _, r := range existing {
		seen[r.SKU] = true
		if r.State == allocation.StateNone {
			q, ok := current[r.SKU]
			if !ok {
				continue
			}
			r.Quantity = q.Quantity
			r.LineID = q.LineID
		}
		records = append(records, r)
	}
	for _, q := range lines {
		if !seen[q.SKU] {
			records = append(records, allocation.NewRecord(o.ID, q))
		}
	}
	return records, nil
}

// OrderSKUs returns the SKUs whose balances a transition of o may touch.
func OrderSKUs(lines ...[]order.LineItem) []string {
	seen := make(map[string]bool)
	var all []order.LineItem
	for _, l := range lines {
		all = append(all, l...)
	}
	out := make([]string, 0, len(all))
	for _, q := range order.QuantitiesBySKU(all) {
		if !seen[q.SKU] {
			seen[q.SKU] = true
			out = append(out, q.SKU)
		}
	}
	return out
}
