package order

import "strings"

// Status is the canonical order status, independent of any platform's
// vocabulary.
type Status string

const (
	StatusNew             Status = "NEW"
	StatusPaid            Status = "PAID"
	StatusPacking         Status = "PACKING"
	StatusReadyToShip     Status = "READY_TO_SHIP"
	StatusShipped         Status = "SHIPPED"
	StatusDelivered       Status = "DELIVERED"
	StatusCancelled       Status = "CANCELLED"
	StatusToReturn        Status = "TO_RETURN"
	StatusReturnInitiated Status = "RETURN_INITIATED"
	StatusReturned        Status = "RETURNED"
)

// successors lists the direct edges of the state graph. CANCELLED is
// reachable from every status that is not terminal and is added in Next.
var successors = map[Status][]Status{
	StatusNew:             {StatusPaid},
	StatusPaid:            {StatusPacking},
	StatusPacking:         {StatusReadyToShip},
	StatusReadyToShip:     {StatusShipped},
	StatusShipped:         {StatusDelivered, StatusToReturn},
	StatusDelivered:       {StatusToReturn},
	StatusToReturn:        {StatusReturnInitiated},
	StatusReturnInitiated: {StatusReturned},
}

// rank orders the forward path. CANCELLED is off the path.
var rank = map[Status]int{
	StatusNew:             0,
	StatusPaid:            1,
	StatusPacking:         2,
	StatusReadyToShip:     3,
	StatusShipped:         4,
	StatusDelivered:       5,
	StatusToReturn:        6,
	StatusReturnInitiated: 7,
	StatusReturned:        8,
}

// ParseStatus parses a canonical status name, case-insensitively.
func ParseStatus(s string) (Status, bool) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	return st, st.IsValid()
}

// IsValid returns true if the status is part of the state graph
func (s Status) IsValid() bool {
	if s == StatusCancelled {
		return true
	}
	_, ok := rank[s]
	return ok
}

// String returns the string representation
func (s Status) String() string {
	return string(s)
}

// IsClosed reports whether nothing at all can follow s.
func (s Status) IsClosed() bool {
	return s == StatusCancelled || s == StatusReturned
}

// IsTerminal reports whether s ends the fulfilment flow. DELIVERED is
// terminal but still admits the return branch.
func (s Status) IsTerminal() bool {
	return s == StatusDelivered || s.IsClosed()
}

// Next returns the statuses directly reachable from s.
func (s Status) Next() []Status {
	next := append([]Status(nil), successors[s]...)
	if !s.IsTerminal() {
		next = append(next, StatusCancelled)
	}
	return next
}

// CanReach reports whether target lies strictly ahead of s in the state
// graph, following any number of edges. Skipping intermediate statuses is
// allowed because platforms do not report every step. CANCELLED is only
// reachable directly from a status that is not terminal.
func (s Status) CanReach(target Status) bool {
	if s == target || !target.IsValid() {
		return false
	}
	if target == StatusCancelled {
		return !s.IsTerminal()
	}
	seen := map[Status]bool{s: true}
	queue := []Status{s}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, n := range successors[cur] {
			if n == target {
				return true
			}
			if !seen[n] {
				seen[n] = true
				queue = append(queue, n)
			}
		}
	}
	return false
}

// Reached reports whether s is at or past milestone on the forward path.
// CANCELLED never reaches any milestone.
func (s Status) Reached(milestone Status) bool {
	r, ok := rank[s]
	if !ok {
		return false
	}
	m, ok := rank[milestone]
	if !ok {
		return false
	}
	return r >= m
}
