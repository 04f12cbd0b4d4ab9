package domain

import "time"

// OrderType distinguishes limit orders from market orders.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// OrderSide indicates whether an order buys or sells.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Opposite returns the other side of the book.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// Reservation is the two-phase commitment record of an order. Current plus
// Released always equals Original.
type Reservation struct {
	Original int64
	Current  int64
	Released int64
}

// Reserve adds amount to the reservation.
func (r *Reservation) Reserve(amount int64) {
	r.Original += amount
	r.Current += amount
}

// Release moves amount from Current to Released. It returns
// ErrReservationExceeded without mutating when amount is larger than
// what is currently reserved.
func (r *Reservation) Release(amount int64) error {
	if amount < 0 || amount > r.Current {
		return ErrReservationExceeded
	}
	r.Current -= amount
	r.Released += amount
	return nil
}

// Balanced reports whether Current + Released == Original.
func (r Reservation) Balanced() bool {
	return r.Current+r.Released == r.Original && r.Current >= 0 && r.Released >= 0
}

// HistoryEntry records one state transition with the order's quantities and
// reservations at that instant. FilledQuantity is cumulative; FillQuantity
// and FillPrice describe the fill that produced the entry, if any.
type HistoryEntry struct {
	At                time.Time
	Round             int
	From              OrderState
	To                OrderState
	FilledQuantity    int64
	RemainingQuantity int64
	Price             int64
	FillQuantity      int64
	FillPrice         int64
	Note              string
	Cash              Reservation
	Shares            Reservation
}

// Order is a single buy or sell instruction submitted by an agent.
// Filled + Remaining + Cancelled always equals Quantity.
type Order struct {
	OrderID           string
	AgentID           string
	Instrument        string
	Side              OrderSide
	Type              OrderType
	Price             int64 // cents, 0 for market orders until converted
	Quantity          int64
	RemainingQuantity int64
	FilledQuantity    int64
	CancelledQuantity int64
	State             OrderState
	Seq               uint64
	Round             int
	CreatedAt         time.Time
	ExpiresRound      int // 0 means good till cancelled

	// Aggressive is set when an unfilled market order was repriced into a
	// limit order.
	Aggressive bool
	// PartialCommit is set when fewer shares than requested could be
	// reserved.
	PartialCommit bool

	Cash   Reservation
	Shares Reservation
	// BorrowedShares is the part of the share reservation sourced from the
	// borrow pool and not yet delivered.
	BorrowedShares int64
	// BorrowedCash is the cash drawn from the lending pool to fund this order.
	BorrowedCash int64

	Trades  []*Trade
	History []HistoryEntry
}

// IsBuy reports whether the order is on the buy side.
func (o *Order) IsBuy() bool {
	return o.Side == OrderSideBuy
}

// IsTerminal reports whether the order reached FILLED or CANCELLED.
func (o *Order) IsTerminal() bool {
	return o.State.IsTerminal()
}

// OwnedShares is the part of the share reservation backed by shares the
// agent owns.
func (o *Order) OwnedShares() int64 {
	return o.Shares.Current - o.BorrowedShares
}

// Snapshot builds a history entry for a transition from -> to.
func (o *Order) Snapshot(at time.Time, round int, from, to OrderState, note string) HistoryEntry {
	return HistoryEntry{
		At:                at,
		Round:             round,
		From:              from,
		To:                to,
		FilledQuantity:    o.FilledQuantity,
		RemainingQuantity: o.RemainingQuantity,
		Price:             o.Price,
		Note:              note,
		Cash:              o.Cash,
		Shares:            o.Shares,
	}
}

// AveragePrice computes the volume-weighted average execution price
// as sum(trade.price × trade.quantity) / filled_quantity using integer
// arithmetic. Returns (price, true) when trades exist, or (0, false)
// when no trades have been executed.
func (o *Order) AveragePrice() (int64, bool) {
	if len(o.Trades) == 0 || o.FilledQuantity == 0 {
		return 0, false
	}
	var total int64
	for _, t := range o.Trades {
		total += t.Price * t.Quantity
	}
	return total / o.FilledQuantity, true
}

// Clone returns a copy of the order whose trade and history slices do not
// alias the original.
func (o *Order) Clone() *Order {
	c := *o
	c.Trades = append([]*Trade(nil), o.Trades...)
	c.History = append([]HistoryEntry(nil), o.History...)
	return &c
}
