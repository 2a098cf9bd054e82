package reconcile_test

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	appledger "github.com/erp/reconciler/internal/application/ledger"
	"github.com/erp/reconciler/internal/application/reconcile"
	appshared "github.com/erp/reconciler/internal/application/shared"
	"github.com/erp/reconciler/internal/domain/intake"
	"github.com/erp/reconciler/internal/domain/order"
	"github.com/erp/reconciler/internal/domain/shared"
	"github.com/erp/reconciler/internal/infrastructure/cache"
	"github.com/erp/reconciler/internal/infrastructure/config"
	"github.com/erp/reconciler/internal/infrastructure/persistence"
	"github.com/erp/reconciler/internal/infrastructure/persistence/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type sqliteStore struct {
	repos  *persistence.Repositories
	scope  *persistence.GormTransactionScope
	ledger *appledger.Service
}

func newSQLiteStore(t *testing.T, locker appshared.SKULocker) *sqliteStore {
	t.Helper()
	db, err := persistence.NewDatabase(&config.DatabaseConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "reconcile.db"),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate())
	t.Cleanup(func() { _ = db.Close() })

	repos := persistence.NewRepositories(db.DB)
	scope := persistence.NewGormTransactionScope(db.DB)
	return &sqliteStore{
		repos:  repos,
		scope:  scope,
		ledger: appledger.NewService(scope, repos.Movements(), repos.Balances(), locker, zaptest.NewLogger(t)),
	}
}

func (s *sqliteStore) reconciler(t *testing.T, locker appshared.SKULocker, policy shared.RetryPolicy) *reconcile.Reconciler {
	return reconcile.NewReconciler(s.scope, s.repos.Events(), s.repos.Orders(), testNormalizer{}, locker, policy, zaptest.NewLogger(t))
}

func (s *sqliteStore) receive(t *testing.T, p testPayload, at time.Time) *intake.RawEvent {
	t.Helper()
	payload, err := json.Marshal(p)
	require.NoError(t, err)
	env, err := testNormalizer{}.Normalize(intake.PlatformCanonical, payload)
	require.NoError(t, err)
	ev, created, err := s.repos.Events().Insert(context.Background(), intake.NewRawEvent(env, payload, at))
	require.NoError(t, err)
	require.True(t, created)
	return ev
}

// waitingLocker never grants a lock; it holds the caller until ctx is done.
type waitingLocker struct{}

func (waitingLocker) Lock(ctx context.Context, _ []string) (func(), error) {
	<-ctx.Done()
	return nil, fmt.Errorf("%w: %w", appshared.ErrLockNotAcquired, ctx.Err())
}

func TestReconciler_TimedOutAttemptIsRecorded(t *testing.T) {
	store := newSQLiteStore(t, cache.NewLocalSKULocker(8))
	policy := shared.RetryPolicy{MaxAttempts: 3, BaseBackoff: time.Second, MaxBackoff: time.Minute}
	rec := store.reconciler(t, waitingLocker{}, policy)
	ev := store.receive(t, testPayload{OrderID: "T1", Status: "PAID", Seq: 1, Lines: lines("ABC", 1)}, time.Now().UTC())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := rec.Process(ctx, ev.ID)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	stored, err := store.repos.Events().FindByID(context.Background(), ev.ID)
	require.NoError(t, err)
	assert.False(t, stored.Processed)
	assert.False(t, stored.DeadLettered)
	assert.Equal(t, 1, stored.AttemptCount)
	require.NotNil(t, stored.NextRetryAt)
	assert.NotEmpty(t, stored.ProcessingError)
}

func TestReconciler_ParallelOrdersNeverOversell(t *testing.T) {
	locker := cache.NewLocalSKULocker(16)
	store := newSQLiteStore(t, locker)
	ctx := context.Background()
	_, err := store.ledger.Adjust(ctx, "HOT", appledger.AdjustRequest{Delta: 5, ReceiptID: "OPENING-HOT"})
	require.NoError(t, err)
	_, err = store.ledger.Adjust(ctx, "COLD", appledger.AdjustRequest{Delta: 20, ReceiptID: "OPENING-COLD"})
	require.NoError(t, err)

	const orders = 12
	base := time.Now().UTC()
	events := make([]*intake.RawEvent, 0, orders)
	for i := 0; i < orders; i++ {
		items := append(lines("HOT", 1), lines("COLD", 1)...)
		events = append(events, store.receive(t, testPayload{
			OrderID: fmt.Sprintf("P%02d", i),
			Status:  "PAID",
			Seq:     1,
			Lines:   items,
		}, base.Add(time.Duration(i)*time.Millisecond)))
	}

	rec := store.reconciler(t, locker, shared.RetryPolicy{MaxAttempts: 3, BaseBackoff: time.Second, MaxBackoff: time.Minute})
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		short    int
	)
	for _, ev := range events {
		wg.Add(1)
		go func(ev *intake.RawEvent) {
			defer wg.Done()
			res, err := rec.Process(ctx, ev.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && res.Outcome == order.OutcomeAccepted:
				accepted++
			case assert.ErrorIs(t, err, shared.ErrInsufficientStock):
				short++
			}
		}(ev)
	}
	wg.Wait()

	assert.Equal(t, 5, accepted)
	assert.Equal(t, orders-5, short)

	hot, err := store.ledger.GetBalance(ctx, "HOT")
	require.NoError(t, err)
	assert.Equal(t, int64(5), hot.OnHand)
	assert.Equal(t, int64(5), hot.Reserved)
	assert.Equal(t, int64(0), hot.Available)

	cold, err := store.ledger.GetBalance(ctx, "COLD")
	require.NoError(t, err)
	assert.Equal(t, int64(5), cold.Reserved, "rejected orders keep no reservation")

	report, err := reconcile.NewRebuilder(store.repos, memory.NewStore(), testNormalizer{}, zaptest.NewLogger(t)).Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, report.Events)
	assert.True(t, report.Converged(), "drifts=%v mismatches=%v", report.Drifts, report.OrderMismatches)
}
