package exec

import (
	"fmt"

	"main/internal/schema"
)

// State is an order's lifecycle state.
type State uint8

const (
	StatePending State = iota
	StateSubmitted
	StatePartiallyFilled
	StateFilled
	StateCancelled
	StateRejected
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateSubmitted:
		return "SUBMITTED"
	case StatePartiallyFilled:
		return "PARTIALLY_FILLED"
	case StateFilled:
		return "FILLED"
	case StateCancelled:
		return "CANCELLED"
	case StateRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether the state ends the order's lifecycle.
func (s State) Terminal() bool {
	switch s {
	case StateFilled, StateCancelled, StateRejected:
		return true
	default:
		return false
	}
}

// transitions is the allowed state graph. Terminal states have no exits,
// so a REJECTED or CANCELLED order can never later become FILLED.
var transitions = map[State][]State{
	StatePending:         {StateSubmitted, StateRejected, StateCancelled},
	StateSubmitted:       {StatePartiallyFilled, StateFilled, StateCancelled, StateRejected},
	StatePartiallyFilled: {StatePartiallyFilled, StateFilled, StateCancelled},
}

// InvalidTransitionError reports a state change outside the graph.
type InvalidTransitionError struct {
	ClientID string
	From, To State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order %s: invalid transition %s -> %s", e.ClientID, e.From, e.To)
}

// Order is one order owned by the execution engine until terminal.
// The client ID is generated locally and reused across submission retries
// as the idempotency key.
type Order struct {
	ClientID   string
	ExchangeID string
	SymbolID   schema.SymbolID
	VenueID    schema.VenueID
	Side       schema.Side
	Type       schema.OrderType
	Price      schema.Price
	Qty        schema.Quantity
	FilledQty  schema.Quantity

	State State

	// attached exit levels, activated as child stops on the first fill
	StopLoss     schema.Price
	TakeProfit   schema.Price
	StopsActive  bool
	Strategy     string
	CreatedTs    int64
	UpdatedTs    int64
	RejectReason string
}

func (o *Order) transition(to State, tsNano int64) error {
	for _, allowed := range transitions[o.State] {
		if allowed == to {
			o.State = to
			o.UpdatedTs = tsNano
			return nil
		}
	}
	return &InvalidTransitionError{ClientID: o.ClientID, From: o.State, To: to}
}
