package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for domain-level error handling.
// The handler layer maps these to HTTP status codes.
var (
	ErrAgentAlreadyExists  = errors.New("agent_already_exists")
	ErrAgentNotFound       = errors.New("agent_not_found")
	ErrOrderNotFound       = errors.New("order_not_found")
	ErrOrderNotCancellable = errors.New("order_not_cancellable")
	ErrInstrumentNotFound  = errors.New("instrument_not_found")
	ErrInsufficientCash    = errors.New("insufficient_cash")
	ErrInsufficientShares  = errors.New("insufficient_shares")
	ErrBorrowUnavailable   = errors.New("borrow_unavailable")
	ErrInvalidOrder        = errors.New("invalid_order")
	ErrNoReferencePrice    = errors.New("no_reference_price")

	ErrInvalidTransition   = errors.New("invalid_transition")
	ErrReservationExceeded = errors.New("reservation_exceeded")
	ErrInvariant           = errors.New("invariant_violation")
)

// ValidationError is a recoverable rejection of a single request. Reason
// is one of the sentinel errors above and is what errors.Is matches.
type ValidationError struct {
	Reason  error
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Reason
}

// Reject builds a ValidationError with a formatted message.
func Reject(reason error, format string, args ...any) *ValidationError {
	return &ValidationError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// TransitionError reports an attempt to move an order along an edge the
// lifecycle graph does not contain.
type TransitionError struct {
	OrderID string
	From    OrderState
	To      OrderState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("order %s: illegal transition %s -> %s", e.OrderID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// InvariantKind classifies fatal accounting or matching failures.
type InvariantKind string

const (
	InvariantReservation InvariantKind = "reservation"
	InvariantMatching    InvariantKind = "matching"
	InvariantCrossedBook InvariantKind = "crossed_book"
	InvariantSettlement  InvariantKind = "settlement"
	InvariantAccounting  InvariantKind = "accounting"
)

// InvariantError is a fatal violation. It carries the orders involved so
// their transition histories can be inspected.
type InvariantError struct {
	Kind    InvariantKind
	Message string
	Orders  []*Order
	Trade   *Trade
	Err     error
}

// Invariant builds an InvariantError for the given orders.
func Invariant(kind InvariantKind, msg string, orders ...*Order) *InvariantError {
	return &InvariantError{Kind: kind, Message: msg, Orders: orders}
}

func (e *InvariantError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s invariant violated: %s", e.Kind, e.Message)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.Trade != nil {
		fmt.Fprintf(&b, "\n  trade %s: %d @ %d buy=%s sell=%s",
			e.Trade.TradeID, e.Trade.Quantity, e.Trade.Price, e.Trade.BuyOrderID, e.Trade.SellOrderID)
	}
	for _, o := range e.Orders {
		if o == nil {
			continue
		}
		fmt.Fprintf(&b, "\n  order %s agent=%s %s %s qty=%d rem=%d filled=%d state=%s",
			o.OrderID, o.AgentID, o.Side, o.Type, o.Quantity, o.RemainingQuantity, o.FilledQuantity, o.State)
		for _, h := range o.History {
			fmt.Fprintf(&b, "\n    r%d %s -> %s filled=%d rem=%d price=%d fill=%d@%d cash=%d/%d/%d shares=%d/%d/%d %s",
				h.Round, h.From, h.To, h.FilledQuantity, h.RemainingQuantity, h.Price, h.FillQuantity, h.FillPrice,
				h.Cash.Original, h.Cash.Current, h.Cash.Released,
				h.Shares.Original, h.Shares.Current, h.Shares.Released, h.Note)
		}
	}
	return b.String()
}

func (e *InvariantError) Unwrap() error {
	return e.Err
}

// Is makes every InvariantError match ErrInvariant.
func (e *InvariantError) Is(target error) bool {
	return target == ErrInvariant
}

// IsFatal reports whether err must abort the simulation rather than reject
// a single order.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return false
	}
	return errors.Is(err, ErrInvariant) || errors.Is(err, ErrInvalidTransition)
}
