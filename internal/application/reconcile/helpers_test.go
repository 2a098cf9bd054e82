package reconcile_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	appledger "github.com/erp/reconciler/internal/application/ledger"
	"github.com/erp/reconciler/internal/application/reconcile"
	"github.com/erp/reconciler/internal/domain/intake"
	"github.com/erp/reconciler/internal/domain/order"
	"github.com/erp/reconciler/internal/domain/shared"
	"github.com/erp/reconciler/internal/infrastructure/persistence/memory"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// testPayload is the payload dialect understood by testNormalizer.
type testPayload struct {
	OrderID string           `json:"order_id"`
	Status  string           `json:"status"`
	Seq     int64            `json:"seq"`
	Token   string           `json:"token"`
	Lines   []order.LineItem `json:"lines"`
}

type testNormalizer struct{}

func (testNormalizer) Normalize(platform intake.PlatformCode, payload []byte) (*intake.Envelope, error) {
	var p testPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, err
	}
	if p.OrderID == "" {
		return nil, intake.ErrMissingOrderID
	}
	status, ok := order.ParseStatus(p.Status)
	if !ok {
		return nil, intake.ErrUnmappedStatus
	}
	token := p.Token
	if token == "" {
		token = fmt.Sprintf("%s:%d", p.Status, p.Seq)
	}
	return &intake.Envelope{
		Platform:        platform,
		ExternalOrderID: p.OrderID,
		VersionToken:    token,
		Status:          status,
		SequenceHint:    p.Seq,
		Lines:           p.Lines,
	}, nil
}

type mutexLocker struct{ mu sync.Mutex }

func (l *mutexLocker) Lock(context.Context, []string) (func(), error) {
	l.mu.Lock()
	return l.mu.Unlock, nil
}

type harness struct {
	t          *testing.T
	ctx        context.Context
	store      *memory.Store
	reconciler *reconcile.Reconciler
	ledger     *appledger.Service
	clock      time.Time
	policy     shared.RetryPolicy
}

func newHarness(t *testing.T) *harness {
	store := memory.NewStore()
	logger := zaptest.NewLogger(t)
	locker := &mutexLocker{}
	policy := shared.RetryPolicy{MaxAttempts: 3, BaseBackoff: time.Second, MaxBackoff: time.Minute}
	h := &harness{
		t:      t,
		ctx:    context.Background(),
		store:  store,
		clock:  time.Now(),
		policy: policy,
	}
	h.reconciler = reconcile.NewReconciler(store, store.Events(), store.Orders(), testNormalizer{}, locker, policy, logger)
	h.reconciler.SetClock(func() time.Time { return h.clock })
	h.ledger = appledger.NewService(store, store.Movements(), store.Balances(), locker, logger)
	return h
}

func lines(sku string, qty int64) []order.LineItem {
	return []order.LineItem{{LineID: "L-" + sku, SKU: sku, Quantity: qty}}
}

// receive stores an event the way intake would and returns it.
func (h *harness) receive(p testPayload) *intake.RawEvent {
	h.clock = h.clock.Add(time.Second)
	payload, err := json.Marshal(p)
	require.NoError(h.t, err)
	env, err := testNormalizer{}.Normalize(intake.PlatformCanonical, payload)
	require.NoError(h.t, err)
	ev, created, err := h.store.Events().Insert(h.ctx, intake.NewRawEvent(env, payload, h.clock))
	require.NoError(h.t, err)
	require.True(h.t, created)
	return ev
}

func (h *harness) process(p testPayload) (*reconcile.Result, error) {
	ev := h.receive(p)
	return h.reconciler.Process(h.ctx, ev.ID)
}

func (h *harness) mustProcess(p testPayload) *reconcile.Result {
	res, err := h.process(p)
	require.NoError(h.t, err)
	return res
}

func (h *harness) stock(sku string, qty int64) {
	_, err := h.ledger.Adjust(h.ctx, sku, appledger.AdjustRequest{Delta: qty, ReceiptID: "OPENING-" + sku})
	require.NoError(h.t, err)
}

func (h *harness) balance(sku string) [3]int64 {
	b, err := h.ledger.GetBalance(h.ctx, sku)
	require.NoError(h.t, err)
	return [3]int64{b.OnHand, b.Reserved, b.Available}
}

func (h *harness) order(id string) *order.Order {
	o, err := h.store.Orders().FindByExternalID(h.ctx, string(intake.PlatformCanonical), id)
	require.NoError(h.t, err)
	return o
}

// hookLocker runs before once, ahead of the first lock it hands out.
type hookLocker struct {
	mutexLocker
	once   sync.Once
	before func()
}

func (l *hookLocker) Lock(ctx context.Context, skus []string) (func(), error) {
	l.once.Do(l.before)
	return l.mutexLocker.Lock(ctx, skus)
}
