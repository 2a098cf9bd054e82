//go:build integration

package persistence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/erp/reconciler/internal/domain/ledger"
	"github.com/erp/reconciler/internal/domain/shared"
	"github.com/erp/reconciler/internal/infrastructure/migration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newPostgres starts a throwaway postgres and applies the embedded migrations
func newPostgres(t *testing.T) *gorm.DB {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("reconciler_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := gorm.Open(gormpostgres.Open(dsn), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)

	m, err := migration.New(sqlDB, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, m.Up())
	return db
}

func TestPostgres_MovementsAreImmutable(t *testing.T) {
	db := newPostgres(t)
	ctx := context.Background()

	m, err := ledger.NewReceiptMovement("SKU-P", 3, "RCPT-1", "")
	require.NoError(t, err)
	require.NoError(t, NewGormMovementRepository(db).Append(ctx, m))

	err = db.Exec("UPDATE stock_movements SET delta = 4 WHERE id = ?", m.ID).Error
	require.Error(t, err)
	assert.Contains(t, err.Error(), "immutable")
}

// Concurrent writers racing on one balance: exactly one CAS wins per version.
func TestPostgres_BalanceCASUnderContention(t *testing.T) {
	db := newPostgres(t)
	ctx := context.Background()
	repo := NewGormBalanceRepository(db)

	seed := ledger.NewBalance("SKU-HOT")
	seed.OnHand = 100
	seed.Version = 1
	seed.UpdatedAt = time.Now()
	require.NoError(t, repo.Save(ctx, seed, 0))

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b := *seed
			b.OnHand--
			b.Version = 2
			err := repo.Save(ctx, &b, 1)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case assert.ErrorIs(t, err, shared.ErrConcurrencyConflict):
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, writers-1, conflicts)
	stored, err := repo.Get(ctx, "SKU-HOT")
	require.NoError(t, err)
	assert.EqualValues(t, 99, stored.OnHand)
}
