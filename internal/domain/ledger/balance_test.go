package ledger

import (
	"errors"
	"testing"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/erp/reconciler/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allocRef() AllocationRef {
	return AllocationRef{OrderID: uuid.New(), LineID: "L1", Version: 1}
}

func mustAlloc(t *testing.T, sku string, typ MovementType, q int64) *Movement {
	m, err := NewAllocationMovement(sku, typ, q, allocRef(), "")
	require.NoError(t, err)
	return m
}

func mustReceipt(t *testing.T, sku string, delta int64) *Movement {
	m, err := NewReceiptMovement(sku, delta, "RCPT-1", "")
	require.NoError(t, err)
	return m
}

func TestNewAllocationMovement_Signs(t *testing.T) {
	tests := []struct {
		typ   MovementType
		delta int64
	}{
		{MovementReserve, 3},
		{MovementRelease, -3},
		{MovementDeduct, -3},
		{MovementAdjust, 3},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			m := mustAlloc(t, "SKU-A", tt.typ, 3)
			assert.Equal(t, tt.delta, m.Delta)
			assert.Equal(t, int64(3), m.Quantity())
			assert.Equal(t, ReferenceAllocation, m.ReferenceType)
			assert.Equal(t, uuid.Version(7), m.ID.Version())
		})
	}
}

func TestNewAllocationMovement_Validation(t *testing.T) {
	_, err := NewAllocationMovement("", MovementReserve, 1, allocRef(), "")
	assert.Error(t, err)
	_, err = NewAllocationMovement("SKU-A", MovementReserve, 0, allocRef(), "")
	assert.Error(t, err)
	_, err = NewAllocationMovement("SKU-A", MovementType("STEAL"), 1, allocRef(), "")
	assert.Error(t, err)
	_, err = NewAllocationMovement("SKU-A", MovementReserve, 1, AllocationRef{}, "")
	assert.Error(t, err)
}

func TestBalance_Apply(t *testing.T) {
	b := NewBalance("SKU-A")
	require.NoError(t, b.Apply(mustReceipt(t, "SKU-A", 10)))
	require.NoError(t, b.Apply(mustAlloc(t, "SKU-A", MovementReserve, 2)))

	assert.Equal(t, int64(10), b.OnHand)
	assert.Equal(t, int64(2), b.Reserved)
	assert.Equal(t, int64(8), b.Available())

	require.NoError(t, b.Apply(mustAlloc(t, "SKU-A", MovementDeduct, 2)))
	assert.Equal(t, int64(8), b.OnHand)
	assert.Equal(t, int64(0), b.Reserved)
	assert.Equal(t, 3, b.Version)
	assert.Equal(t, int64(3), b.MovementCount)
}

func TestBalance_Apply_InsufficientStock(t *testing.T) {
	b := NewBalance("SKU-B")
	require.NoError(t, b.Apply(mustReceipt(t, "SKU-B", 1)))

	err := b.Apply(mustAlloc(t, "SKU-B", MovementReserve, 2))

	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrInsufficientStock))
	var ise *InsufficientStockError
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, int64(1), ise.Available)
	assert.Equal(t, int64(0), b.Reserved, "nothing partially reserved")
	assert.Equal(t, 1, b.Version)
}

func TestBalance_Apply_NegativeReceiptCannotUnderflow(t *testing.T) {
	b := NewBalance("SKU-A")
	require.NoError(t, b.Apply(mustReceipt(t, "SKU-A", 5)))
	require.NoError(t, b.Apply(mustAlloc(t, "SKU-A", MovementReserve, 4)))

	err := b.Apply(mustReceipt(t, "SKU-A", -2))
	assert.ErrorIs(t, err, shared.ErrInsufficientStock)

	require.NoError(t, b.Apply(mustReceipt(t, "SKU-A", -1)))
	assert.Equal(t, int64(0), b.Available())
}

func TestBalance_Apply_ReleaseMoreThanReserved(t *testing.T) {
	b := NewBalance("SKU-A")
	err := b.Apply(mustAlloc(t, "SKU-A", MovementRelease, 1))
	assert.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestBalance_Apply_WrongSKU(t *testing.T) {
	b := NewBalance("SKU-A")
	assert.ErrorIs(t, b.Apply(mustReceipt(t, "SKU-Z", 1)), shared.ErrInvalidInput)
}

// TestReplay_MatchesIncrementalFold drives a random but valid movement
// sequence through Apply and checks that Replay over the accepted
// movements lands on the same position.
func TestReplay_MatchesIncrementalFold(t *testing.T) {
	faker := gofakeit.New(42)
	live := NewBalance("SKU-R")
	var log []*Movement

	for i := 0; i < 500; i++ {
		var m *Movement
		switch faker.IntRange(0, 3) {
		case 0:
			m = mustReceipt(t, "SKU-R", int64(faker.IntRange(1, 20)))
		case 1:
			m = mustAlloc(t, "SKU-R", MovementReserve, int64(faker.IntRange(1, 10)))
		case 2:
			m = mustAlloc(t, "SKU-R", MovementRelease, int64(faker.IntRange(1, 10)))
		default:
			m = mustAlloc(t, "SKU-R", MovementDeduct, int64(faker.IntRange(1, 10)))
		}
		if err := live.Apply(m); err != nil {
			continue
		}
		log = append(log, m)
		require.GreaterOrEqual(t, live.Available(), int64(0))
	}

	replayed, err := Replay("SKU-R", log)
	require.NoError(t, err)
	assert.Equal(t, PositionOf(live), PositionOf(replayed))
	assert.False(t, Drift{SKU: "SKU-R", Materialized: PositionOf(live), Replayed: PositionOf(replayed)}.Diverged())
}

func TestDrift_Diverged(t *testing.T) {
	d := Drift{
		SKU:          "SKU-A",
		Materialized: Position{OnHand: 10, Reserved: 2, Available: 8, MovementCount: 3},
		Replayed:     Position{OnHand: 10, Reserved: 3, Available: 7, MovementCount: 4},
	}
	assert.True(t, d.Diverged())
}
