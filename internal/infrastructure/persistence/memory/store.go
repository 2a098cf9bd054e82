// Package memory is an in-process implementation of every repository the
// reconciler uses. It backs projection rebuilds, which replay the event log
// into empty projections, and the application-layer tests.
//
// Execute serializes transactions and restores a snapshot when the callback
// fails. Reads outside Execute see uncommitted writes of a running
// transaction.
package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"

	appshared "github.com/erp/reconciler/internal/application/shared"
	"github.com/erp/reconciler/internal/domain/allocation"
	"github.com/erp/reconciler/internal/domain/intake"
	"github.com/erp/reconciler/internal/domain/ledger"
	"github.com/erp/reconciler/internal/domain/order"
	"github.com/google/uuid"
)

// Store holds all state of one in-memory database.
type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex
	data state
}

type state struct {
	events      map[uuid.UUID]*intake.RawEvent
	eventKeys   map[string]uuid.UUID
	orders      map[uuid.UUID]*order.Order
	orderKeys   map[string]uuid.UUID
	transitions []*order.Transition
	allocations map[uuid.UUID]*allocation.Record
	movements   []*ledger.Movement
	balances    map[string]*ledger.Balance
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{data: state{
		events:      make(map[uuid.UUID]*intake.RawEvent),
		eventKeys:   make(map[string]uuid.UUID),
		orders:      make(map[uuid.UUID]*order.Order),
		orderKeys:   make(map[string]uuid.UUID),
		allocations: make(map[uuid.UUID]*allocation.Record),
		balances:    make(map[string]*ledger.Balance),
	}}
}

// Stored entities are never mutated in place, so a snapshot only needs to
// copy the containers.
func (d state) snapshot() state {
	cp := state{
		events:      make(map[uuid.UUID]*intake.RawEvent, len(d.events)),
		eventKeys:   make(map[string]uuid.UUID, len(d.eventKeys)),
		orders:      make(map[uuid.UUID]*order.Order, len(d.orders)),
		orderKeys:   make(map[string]uuid.UUID, len(d.orderKeys)),
		transitions: append([]*order.Transition(nil), d.transitions...),
		allocations: make(map[uuid.UUID]*allocation.Record, len(d.allocations)),
		movements:   append([]*ledger.Movement(nil), d.movements...),
		balances:    make(map[string]*ledger.Balance, len(d.balances)),
	}
	for k, v := range d.events {
		cp.events[k] = v
	}
	for k, v := range d.eventKeys {
		cp.eventKeys[k] = v
	}
	for k, v := range d.orders {
		cp.orders[k] = v
	}
	for k, v := range d.orderKeys {
		cp.orderKeys[k] = v
	}
	for k, v := range d.allocations {
		cp.allocations[k] = v
	}
	for k, v := range d.balances {
		cp.balances[k] = v
	}
	return cp
}

// Execute runs fn atomically against the store.
func (s *Store) Execute(_ context.Context, fn func(repos appshared.Repositories) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snap := s.data.snapshot()
	s.mu.Unlock()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.data = snap
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Store) Events() intake.RawEventRepository { return &eventRepo{s} }
func (s *Store) Orders() order.Repository { return &orderRepo{s} }
func (s *Store) Allocations() allocation.Repository { return &allocationRepo{s} }
func (s *Store) Movements() ledger.MovementRepository { return &movementRepo{s} }
func (s *Store) Balances() ledger.BalanceRepository { return &balanceRepo{s} }

func idLess(a, b uuid.UUID) bool {
	return bytes.Compare(a[:], b[:]) < 0
}

func page[T any](items []T, offset, size int) []T {
	if size <= 0 {
		return items
	}
	if offset >= len(items) {
		return []T{}
	}
	end := offset + size
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func sortStrings(in []string) []string {
	sort.Strings(in)
	return in
}

var (
	_ appshared.TransactionScope = (*Store)(nil)
	_ appshared.Repositories     = (*Store)(nil)
)
