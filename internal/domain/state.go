package domain

// OrderState represents the lifecycle state of an order.
type OrderState string

const (
	OrderStateInput           OrderState = "input"
	OrderStateValidated       OrderState = "validated"
	OrderStateCommitted       OrderState = "committed"
	OrderStateMatching        OrderState = "matching"
	OrderStateLimitMatching   OrderState = "limit_matching"
	OrderStatePending         OrderState = "pending"
	OrderStateActive          OrderState = "active"
	OrderStatePartiallyFilled OrderState = "partially_filled"
	OrderStateFilled          OrderState = "filled"
	OrderStateCancelled       OrderState = "cancelled"
)

// AllOrderStates lists every state in lifecycle order.
var AllOrderStates = []OrderState{
	OrderStateInput,
	OrderStateValidated,
	OrderStateCommitted,
	OrderStateMatching,
	OrderStateLimitMatching,
	OrderStatePending,
	OrderStateActive,
	OrderStatePartiallyFilled,
	OrderStateFilled,
	OrderStateCancelled,
}

var transitions = map[OrderState][]OrderState{
	OrderStateInput:     {OrderStateValidated, OrderStateCancelled},
	OrderStateValidated: {OrderStateCommitted, OrderStateCancelled},
	OrderStateCommitted: {OrderStateMatching, OrderStateLimitMatching, OrderStatePending, OrderStateCancelled},
	OrderStateMatching: {
		OrderStatePending, OrderStatePartiallyFilled, OrderStateFilled,
		OrderStateCancelled, OrderStateLimitMatching, OrderStateCommitted,
	},
	OrderStateLimitMatching:   {OrderStatePending, OrderStatePartiallyFilled, OrderStateFilled, OrderStateCancelled},
	OrderStatePending:         {OrderStateActive, OrderStateCancelled},
	OrderStateActive:          {OrderStatePartiallyFilled, OrderStateFilled, OrderStateCancelled},
	OrderStatePartiallyFilled: {OrderStatePending, OrderStateFilled, OrderStateCommitted, OrderStateCancelled},
}

// CanTransition reports whether from -> to is an edge of the lifecycle graph.
func CanTransition(from, to OrderState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s OrderState) IsTerminal() bool {
	return s == OrderStateFilled || s == OrderStateCancelled
}

// IsValid reports whether s is a known state.
func (s OrderState) IsValid() bool {
	for _, v := range AllOrderStates {
		if v == s {
			return true
		}
	}
	return false
}

// Resting reports whether an order in state s may sit on the book.
func (s OrderState) Resting() bool {
	switch s {
	case OrderStatePending, OrderStateActive, OrderStatePartiallyFilled:
		return true
	}
	return false
}
