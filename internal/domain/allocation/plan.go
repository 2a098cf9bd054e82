package allocation

import (
	"github.com/erp/reconciler/internal/domain/ledger"
	"github.com/erp/reconciler/internal/domain/order"
)

// Step is the planned change for one record.
type Step struct {
	Record    *Record
	Movements []ledger.MovementType
	NewState  State
	Flag      string
	// Compensated is set when SHIPPED was reached without a prior
	// reservation and a RESERVE+DEDUCT pair was planned instead.
	Compensated bool
}

// Changed reports whether the step alters the record.
func (s Step) Changed() bool {
	return s.NewState != s.Record.State || s.Flag != s.Record.Flag
}

// Plan works out the stock actions for moving an order to status to. The
// rules are driven by the records' current state rather than by from, so
// running Plan again after it was committed yields no movements.
//
//   - reaching PAID:      NONE -> RESERVE, RESERVED
//   - reaching SHIPPED:   RESERVED -> DEDUCT, DEDUCTED;
//     NONE -> RESERVE + DEDUCT, DEDUCTED (compensated)
//   - CANCELLED:          RESERVED -> RELEASE, RELEASED; NONE -> RELEASED;
//     DEDUCTED -> flagged terminal_mismatch
//   - RETURNED:           DEDUCTED -> ADJUST, RELEASED; RELEASED and
//     flagged records stay as they are
func Plan(to order.Status, records []*Record) []Step {
	steps := make([]Step, 0, len(records))
	for _, r := range records {
		steps = append(steps, planRecord(to, r))
	}
	return steps
}

func planRecord(to order.Status, r *Record) Step {
	step := Step{Record: r, NewState: r.State, Flag: r.Flag}

	if to == order.StatusCancelled {
		switch r.State {
		case StateReserved:
			step.Movements = append(step.Movements, ledger.MovementRelease)
			step.NewState = StateReleased
		case StateNone:
			step.NewState = StateReleased
		case StateDeducted:
			step.Flag = FlagTerminalMismatch
		}
		return step
	}

	state := r.State
	if to.Reached(order.StatusPaid) && !to.Reached(order.StatusShipped) && state == StateNone {
		step.Movements = append(step.Movements, ledger.MovementReserve)
		state = StateReserved
	}
	if to.Reached(order.StatusShipped) {
		switch state {
		case StateReserved:
			step.Movements = append(step.Movements, ledger.MovementDeduct)
			state = StateDeducted
		case StateNone:
			step.Movements = append(step.Movements, ledger.MovementReserve, ledger.MovementDeduct)
			step.Compensated = true
			state = StateDeducted
		}
	}
	if to == order.StatusReturned {
		switch state {
		case StateDeducted:
			step.Movements = append(step.Movements, ledger.MovementAdjust)
			state = StateReleased
		case StateReleased:
		default:
			step.Flag = FlagTerminalMismatch
		}
	}
	step.NewState = state
	return step
}
