package allocation

import (
	"testing"

	"github.com/erp/reconciler/internal/domain/ledger"
	"github.com/erp/reconciler/internal/domain/order"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordIn(state State) *Record {
	r := NewRecord(uuid.New(), order.SKUQuantity{SKU: "SKU-A", Quantity: 2, LineID: "L1"})
	r.State = state
	return r
}

func TestPlan(t *testing.T) {
	tests := []struct {
		name        string
		to          order.Status
		state       State
		movements   []ledger.MovementType
		newState    State
		flag        string
		compensated bool
	}{
		{"paid reserves", order.StatusPaid, StateNone, []ledger.MovementType{ledger.MovementReserve}, StateReserved, "", false},
		{"packing after paid is a no-op", order.StatusPacking, StateReserved, nil, StateReserved, "", false},
		{"skip to packing still reserves", order.StatusPacking, StateNone, []ledger.MovementType{ledger.MovementReserve}, StateReserved, "", false},
		{"shipped deducts", order.StatusShipped, StateReserved, []ledger.MovementType{ledger.MovementDeduct}, StateDeducted, "", false},
		{"shipped without reservation compensates", order.StatusShipped, StateNone, []ledger.MovementType{ledger.MovementReserve, ledger.MovementDeduct}, StateDeducted, "", true},
		{"delivered after shipped is a no-op", order.StatusDelivered, StateDeducted, nil, StateDeducted, "", false},
		{"cancel releases", order.StatusCancelled, StateReserved, []ledger.MovementType{ledger.MovementRelease}, StateReleased, "", false},
		{"cancel before paid", order.StatusCancelled, StateNone, nil, StateReleased, "", false},
		{"cancel after shipment flags", order.StatusCancelled, StateDeducted, nil, StateDeducted, FlagTerminalMismatch, false},
		{"returned adjusts", order.StatusReturned, StateDeducted, []ledger.MovementType{ledger.MovementAdjust}, StateReleased, "", false},
		{"returned straight from paid", order.StatusReturned, StateReserved, []ledger.MovementType{ledger.MovementDeduct, ledger.MovementAdjust}, StateReleased, "", false},
		{"return requested keeps deduction", order.StatusToReturn, StateDeducted, nil, StateDeducted, "", false},
		{"new does nothing", order.StatusNew, StateNone, nil, StateNone, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			steps := Plan(tt.to, []*Record{recordIn(tt.state)})
			require.Len(t, steps, 1)
			s := steps[0]
			assert.Equal(t, tt.movements, s.Movements)
			assert.Equal(t, tt.newState, s.NewState)
			assert.Equal(t, tt.flag, s.Flag)
			assert.Equal(t, tt.compensated, s.Compensated)
		})
	}
}

func TestPlan_IsIdempotentOnCommittedState(t *testing.T) {
	r := recordIn(StateNone)

	first := Plan(order.StatusShipped, []*Record{r})[0]
	r.State = first.NewState

	again := Plan(order.StatusShipped, []*Record{r})[0]
	assert.Empty(t, again.Movements)
	assert.False(t, again.Changed())
}
