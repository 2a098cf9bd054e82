package memory

import (
	"context"
	"sort"
	"time"

	"github.com/erp/reconciler/internal/domain/allocation"
	"github.com/erp/reconciler/internal/domain/intake"
	"github.com/erp/reconciler/internal/domain/ledger"
	"github.com/erp/reconciler/internal/domain/order"
	"github.com/erp/reconciler/internal/domain/shared"
	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Raw events
// ---------------------------------------------------------------------------

type eventRepo struct{ s *Store }

func cloneEvent(e *intake.RawEvent) *intake.RawEvent {
	cp := *e
	if e.ProcessedAt != nil {
		t := *e.ProcessedAt
		cp.ProcessedAt = &t
	}
	if e.NextRetryAt != nil {
		t := *e.NextRetryAt
		cp.NextRetryAt = &t
	}
	return &cp
}

func (r *eventRepo) Insert(_ context.Context, ev *intake.RawEvent) (*intake.RawEvent, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if id, ok := r.s.data.eventKeys[ev.IdempotencyKey]; ok {
		return cloneEvent(r.s.data.events[id]), false, nil
	}
	r.s.data.events[ev.ID] = cloneEvent(ev)
	r.s.data.eventKeys[ev.IdempotencyKey] = ev.ID
	return ev, true, nil
}

func (r *eventRepo) FindByID(_ context.Context, id uuid.UUID) (*intake.RawEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ev, ok := r.s.data.events[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return cloneEvent(ev), nil
}

func (r *eventRepo) FindByKey(_ context.Context, key string) (*intake.RawEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id, ok := r.s.data.eventKeys[key]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return cloneEvent(r.s.data.events[id]), nil
}

func (r *eventRepo) filter(keep func(*intake.RawEvent) bool, less func(a, b *intake.RawEvent) bool) []*intake.RawEvent {
	out := make([]*intake.RawEvent, 0)
	for _, ev := range r.s.data.events {
		if keep(ev) {
			out = append(out, cloneEvent(ev))
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func byReceived(a, b *intake.RawEvent) bool {
	if !a.ReceivedAt.Equal(b.ReceivedAt) {
		return a.ReceivedAt.Before(b.ReceivedAt)
	}
	return idLess(a.ID, b.ID)
}

func (r *eventRepo) FindReady(_ context.Context, now time.Time, limit int) ([]*intake.RawEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := r.filter(func(e *intake.RawEvent) bool { return e.IsReady(now) }, byReceived)
	return page(out, 0, limit), nil
}

func (r *eventRepo) UpdateState(_ context.Context, ev *intake.RawEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.data.events[ev.ID]
	if !ok {
		return shared.ErrNotFound
	}
	cp := cloneEvent(stored)
	upd := cloneEvent(ev)
	cp.ExternalOrderID = upd.ExternalOrderID
	cp.SequenceHint = upd.SequenceHint
	cp.EventType = upd.EventType
	cp.Processed = upd.Processed
	cp.ProcessedAt = upd.ProcessedAt
	cp.ProcessingError = upd.ProcessingError
	cp.AttemptCount = upd.AttemptCount
	cp.NextRetryAt = upd.NextRetryAt
	cp.DeadLettered = upd.DeadLettered
	cp.Outcome = upd.Outcome
	r.s.data.events[ev.ID] = cp
	return nil
}

func (r *eventRepo) ListDeadLettered(_ context.Context, f shared.Filter) ([]*intake.RawEvent, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := r.filter(func(e *intake.RawEvent) bool { return e.DeadLettered }, byReceived)
	return page(out, f.Offset(), f.PageSize), int64(len(out)), nil
}

func (r *eventRepo) ListProcessed(_ context.Context, after time.Time, afterID uuid.UUID, limit int) ([]*intake.RawEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := r.filter(func(e *intake.RawEvent) bool {
		if !e.Processed || e.ProcessedAt == nil {
			return false
		}
		if e.ProcessedAt.After(after) {
			return true
		}
		return e.ProcessedAt.Equal(after) && idLess(afterID, e.ID)
	}, func(a, b *intake.RawEvent) bool {
		if !a.ProcessedAt.Equal(*b.ProcessedAt) {
			return a.ProcessedAt.Before(*b.ProcessedAt)
		}
		return idLess(a.ID, b.ID)
	})
	return page(out, 0, limit), nil
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

type orderRepo struct{ s *Store }

func orderKey(platform, externalID string) string {
	return platform + ":" + externalID
}

func cloneOrder(o *order.Order) *order.Order {
	cp := *o
	cp.Lines = append([]order.LineItem(nil), o.Lines...)
	cp.Flags = append([]string(nil), o.Flags...)
	return &cp
}

func (r *orderRepo) FindByExternalID(_ context.Context, platform, externalOrderID string) (*order.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id, ok := r.s.data.orderKeys[orderKey(platform, externalOrderID)]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return cloneOrder(r.s.data.orders[id]), nil
}

func (r *orderRepo) FindByID(_ context.Context, id uuid.UUID) (*order.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.data.orders[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return cloneOrder(o), nil
}

func (r *orderRepo) Create(_ context.Context, o *order.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := orderKey(o.Platform, o.ExternalOrderID)
	if _, ok := r.s.data.orderKeys[key]; ok {
		return shared.ErrConcurrencyConflict
	}
	r.s.data.orders[o.ID] = cloneOrder(o)
	r.s.data.orderKeys[key] = o.ID
	return nil
}

func (r *orderRepo) Update(_ context.Context, o *order.Order, expectedVersion int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.data.orders[o.ID]
	if !ok {
		return shared.ErrNotFound
	}
	if stored.Version != expectedVersion {
		return shared.ErrConcurrencyConflict
	}
	r.s.data.orders[o.ID] = cloneOrder(o)
	return nil
}

func (r *orderRepo) AppendTransition(_ context.Context, t *order.Transition) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *t
	r.s.data.transitions = append(r.s.data.transitions, &cp)
	return nil
}

func (r *orderRepo) ListTransitions(_ context.Context, orderID uuid.UUID, f shared.Filter) ([]*order.Transition, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]*order.Transition, 0)
	for _, t := range r.s.data.transitions {
		if t.OrderID == orderID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return page(out, f.Offset(), f.PageSize), int64(len(out)), nil
}

// ---------------------------------------------------------------------------
// Allocations
// ---------------------------------------------------------------------------

type allocationRepo struct{ s *Store }

func (r *allocationRepo) ListByOrder(_ context.Context, orderID uuid.UUID) ([]*allocation.Record, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]*allocation.Record, 0)
	for _, rec := range r.s.data.allocations {
		if rec.OrderID == orderID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out, nil
}

func (r *allocationRepo) Save(_ context.Context, rec *allocation.Record) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if rec.Version == 0 {
		for _, existing := range r.s.data.allocations {
			if existing.OrderID == rec.OrderID && existing.SKU == rec.SKU {
				return shared.ErrConcurrencyConflict
			}
		}
	} else {
		stored, ok := r.s.data.allocations[rec.ID]
		if !ok {
			return shared.ErrNotFound
		}
		if stored.Version != rec.Version {
			return shared.ErrConcurrencyConflict
		}
	}
	rec.Version++
	rec.UpdatedAt = time.Now()
	cp := *rec
	r.s.data.allocations[rec.ID] = &cp
	return nil
}

// ---------------------------------------------------------------------------
// Ledger
// ---------------------------------------------------------------------------

type movementRepo struct{ s *Store }

func ledgerOrder(out []*ledger.Movement) {
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return idLess(out[i].ID, out[j].ID)
	})
}

func (r *movementRepo) collect(keep func(*ledger.Movement) bool) []*ledger.Movement {
	out := make([]*ledger.Movement, 0)
	for _, m := range r.s.data.movements {
		if keep(m) {
			cp := *m
			out = append(out, &cp)
		}
	}
	ledgerOrder(out)
	return out
}

func (r *movementRepo) Append(_ context.Context, movements ...*ledger.Movement) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, m := range movements {
		cp := *m
		r.s.data.movements = append(r.s.data.movements, &cp)
	}
	return nil
}

func (r *movementRepo) ListBySKU(_ context.Context, sku string, f shared.Filter) ([]*ledger.Movement, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := r.collect(func(m *ledger.Movement) bool { return m.SKU == sku })
	return page(out, f.Offset(), f.PageSize), int64(len(out)), nil
}

func (r *movementRepo) AllBySKU(_ context.Context, sku string) ([]*ledger.Movement, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.collect(func(m *ledger.Movement) bool { return m.SKU == sku }), nil
}

func (r *movementRepo) ListByOrder(_ context.Context, orderID uuid.UUID) ([]*ledger.Movement, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.collect(func(m *ledger.Movement) bool { return m.ReferenceOrderID == orderID }), nil
}

func (r *movementRepo) DistinctSKUs(_ context.Context) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	seen := make(map[string]bool)
	out := make([]string, 0)
	for _, m := range r.s.data.movements {
		if !seen[m.SKU] {
			seen[m.SKU] = true
			out = append(out, m.SKU)
		}
	}
	return sortStrings(out), nil
}

type balanceRepo struct{ s *Store }

func (r *balanceRepo) Get(_ context.Context, sku string) (*ledger.Balance, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.data.balances[sku]
	if !ok {
		return nil, shared.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (r *balanceRepo) Save(_ context.Context, b *ledger.Balance, expectedVersion int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.data.balances[b.SKU]
	switch {
	case expectedVersion == 0 && ok:
		return shared.ErrConcurrencyConflict
	case expectedVersion != 0 && (!ok || stored.Version != expectedVersion):
		return shared.ErrConcurrencyConflict
	}
	cp := *b
	r.s.data.balances[b.SKU] = &cp
	return nil
}

func (r *balanceRepo) Overwrite(_ context.Context, b *ledger.Balance) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *b
	r.s.data.balances[b.SKU] = &cp
	return nil
}

func (r *balanceRepo) List(_ context.Context, f shared.Filter) ([]*ledger.Balance, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]*ledger.Balance, 0, len(r.s.data.balances))
	for _, b := range r.s.data.balances {
		cp := *b
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return page(out, f.Offset(), f.PageSize), int64(len(out)), nil
}
