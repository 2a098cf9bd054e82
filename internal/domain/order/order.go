package order

import (
	"time"

	"github.com/erp/reconciler/internal/domain/shared"
	"github.com/google/uuid"
)

// Flags recorded on an order when reconciliation needed a compensating or
// suspicious step. They are informational and never block processing.
const (
	FlagCompensatedShipment = "compensated_shipment"
	FlagTerminalMismatch    = "terminal_mismatch"
)

// Outcome is the result of applying one event to an order.
type Outcome string

const (
	OutcomeAccepted         Outcome = "accepted"
	OutcomeIgnoredDuplicate Outcome = "ignored_duplicate"
	OutcomeIgnoredStale     Outcome = "ignored_stale"
	OutcomeConflict         Outcome = "conflict"
)

// Order is the canonical record of one external order. It only changes by
// applying events through Apply.
type Order struct {
	shared.BaseAggregateRoot
	Platform              string
	ExternalOrderID       string
	Status                Status
	Lines                 []LineItem
	LastAppliedSequence   int64
	LastAppliedEventID    uuid.UUID
	LastAppliedReceivedAt time.Time
	Flags                 []string
}

// NewOrder creates an empty order in NEW that has not seen any event yet.
// Its version is 0 until the first event is applied.
func NewOrder(platform, externalOrderID string) (*Order, error) {
	if platform == "" {
		return nil, shared.NewDomainError("INVALID_PLATFORM", "Platform cannot be empty")
	}
	if externalOrderID == "" {
		return nil, shared.NewDomainError("INVALID_EXTERNAL_ORDER_ID", "External order ID cannot be empty")
	}
	root := shared.NewBaseAggregateRoot()
	root.Version = 0
	return &Order{
		BaseAggregateRoot: root,
		Platform:          platform,
		ExternalOrderID:   externalOrderID,
		Status:            StatusNew,
	}, nil
}

// IsNew reports whether the order has never had an event applied.
func (o *Order) IsNew() bool {
	return o.LastAppliedEventID == uuid.Nil
}

// HasFlag reports whether flag was recorded on the order.
func (o *Order) HasFlag(flag string) bool {
	for _, f := range o.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// AddFlag records flag once.
func (o *Order) AddFlag(flag string) {
	if !o.HasFlag(flag) {
		o.Flags = append(o.Flags, flag)
	}
}

// EventFacts is what the order needs to know about an incoming event.
type EventFacts struct {
	EventID      uuid.UUID
	Status       Status
	SequenceHint int64
	ReceivedAt   time.Time
	Lines        []LineItem
}

// ApplyResult describes what Apply decided.
type ApplyResult struct {
	Outcome Outcome
	From    Status
	To      Status
	// Changed is true when the order state moved and must be persisted.
	Changed bool
	// SupersededEventID is the losing event of a conflict. It is the
	// incoming event when the order kept its state, or the previously
	// applied event when the incoming one won.
	SupersededEventID uuid.UUID
}

// Apply resolves an incoming event against the current state. The result
// is deterministic for a given order state and event: the status never
// regresses and equal-sequence conflicts are settled last-writer-wins by
// received time.
func (o *Order) Apply(f EventFacts) ApplyResult {
	res := ApplyResult{From: o.Status, To: o.Status}

	if o.IsNew() {
		// The first event creates the order, whatever status it reports.
		o.accept(f)
		res.Outcome = OutcomeAccepted
		res.To = o.Status
		res.Changed = true
		return res
	}

	sequenced := f.SequenceHint > 0 && o.LastAppliedSequence > 0

	switch {
	case o.Status.IsTerminal() && !o.Status.CanReach(f.Status):
		// Nothing that cannot follow a terminal status competes with it,
		// whatever sequence it carries.
		res.Outcome = o.ignore(f.Status)
	case sequenced && f.SequenceHint < o.LastAppliedSequence:
		res.Outcome = o.ignore(f.Status)
	case sequenced && f.SequenceHint == o.LastAppliedSequence:
		if f.Status == o.Status {
			res.Outcome = OutcomeIgnoredDuplicate
			return res
		}
		res.Outcome = OutcomeConflict
		if f.ReceivedAt.After(o.LastAppliedReceivedAt) && o.Status.CanReach(f.Status) {
			res.SupersededEventID = o.LastAppliedEventID
			o.accept(f)
			res.To = o.Status
			res.Changed = true
		} else {
			res.SupersededEventID = f.EventID
		}
	default:
		if o.Status.CanReach(f.Status) {
			o.accept(f)
			res.Outcome = OutcomeAccepted
			res.To = o.Status
			res.Changed = true
		} else {
			res.Outcome = o.ignore(f.Status)
		}
	}
	return res
}

func (o *Order) ignore(target Status) Outcome {
	if target == o.Status {
		return OutcomeIgnoredDuplicate
	}
	return OutcomeIgnoredStale
}

func (o *Order) accept(f EventFacts) {
	// Lines are frozen once stock has been reserved against them.
	if len(f.Lines) > 0 && (len(o.Lines) == 0 || o.Status == StatusNew) {
		o.Lines = append([]LineItem(nil), f.Lines...)
	}
	o.Status = f.Status
	if f.SequenceHint > o.LastAppliedSequence {
		o.LastAppliedSequence = f.SequenceHint
	}
	o.LastAppliedEventID = f.EventID
	o.LastAppliedReceivedAt = f.ReceivedAt
	o.IncrementVersion()
	o.Touch(time.Now())
}

// Transition is one row of the append-only history of applied and ignored
// events for an order.
type Transition struct {
	ID           uuid.UUID
	OrderID      uuid.UUID
	EventID      uuid.UUID
	FromStatus   Status
	ToStatus     Status
	SequenceHint int64
	Outcome      Outcome
	CreatedAt    time.Time
}

// NewTransition records the result of applying event to order.
func NewTransition(o *Order, f EventFacts, res ApplyResult) *Transition {
	to := f.Status
	if res.Changed {
		to = res.To
	}
	return &Transition{
		ID:           uuid.New(),
		OrderID:      o.ID,
		EventID:      f.EventID,
		FromStatus:   res.From,
		ToStatus:     to,
		SequenceHint: f.SequenceHint,
		Outcome:      res.Outcome,
		CreatedAt:    time.Now(),
	}
}
