package domain

import (
	"sort"
	"time"
)

// Position is an agent's holding in a single instrument.
type Position struct {
	Quantity          int64 // owned shares
	Committed         int64 // owned shares reserved by open sells
	Borrowed          int64 // shares owed to the borrow pool
	BorrowedCommitted int64 // borrowed shares still reserved by open sells
}

// Short returns the delivered borrowed shares, i.e. the open short.
func (p *Position) Short() int64 {
	return p.Borrowed - p.BorrowedCommitted
}

// Net returns owned shares minus the open short.
func (p *Position) Net() int64 {
	return p.Quantity - p.Short()
}

// Account is a participant's cash and share balances.
type Account struct {
	AgentID       string
	CashBalance   int64 // total cash in cents
	CommittedCash int64 // cash locked by open buys
	BorrowedCash  int64 // cash owed to the lending pool
	AllowShort    bool
	AllowLeverage bool
	Positions     map[string]*Position // instrument → position
	CreatedAt     time.Time
}

// NewAccount creates an account with no positions.
func NewAccount(agentID string, cash int64, createdAt time.Time) *Account {
	return &Account{
		AgentID:     agentID,
		CashBalance: cash,
		Positions:   make(map[string]*Position),
		CreatedAt:   createdAt,
	}
}

// AvailableCash returns the account's unreserved cash balance.
func (a *Account) AvailableCash() int64 {
	return a.CashBalance - a.CommittedCash
}

// AvailableShares returns the unreserved owned quantity for the given
// instrument, or 0 if the account has no position in it.
func (a *Account) AvailableShares(instrument string) int64 {
	p, ok := a.Positions[instrument]
	if !ok {
		return 0
	}
	return p.Quantity - p.Committed
}

// Position returns the position for instrument, creating an empty one.
func (a *Account) Position(instrument string) *Position {
	p, ok := a.Positions[instrument]
	if !ok {
		p = &Position{}
		a.Positions[instrument] = p
	}
	return p
}

// Instruments returns the instruments the account has positions in, sorted.
func (a *Account) Instruments() []string {
	out := make([]string, 0, len(a.Positions))
	for k := range a.Positions {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// PositionBalance is a point-in-time copy of a Position.
type PositionBalance struct {
	Instrument        string `json:"instrument"`
	Quantity          int64  `json:"quantity"`
	Committed         int64  `json:"committed"`
	Available         int64  `json:"available"`
	Borrowed          int64  `json:"borrowed"`
	BorrowedCommitted int64  `json:"borrowed_committed"`
}

// AccountBalance is a point-in-time copy of an Account.
type AccountBalance struct {
	AgentID       string            `json:"agent_id"`
	CashBalance   int64             `json:"cash_balance"`
	CommittedCash int64             `json:"committed_cash"`
	AvailableCash int64             `json:"available_cash"`
	BorrowedCash  int64             `json:"borrowed_cash"`
	Positions     []PositionBalance `json:"positions"`
}

// Balance copies the account's balances.
func (a *Account) Balance() AccountBalance {
	b := AccountBalance{
		AgentID:       a.AgentID,
		CashBalance:   a.CashBalance,
		CommittedCash: a.CommittedCash,
		AvailableCash: a.AvailableCash(),
		BorrowedCash:  a.BorrowedCash,
		Positions:     make([]PositionBalance, 0, len(a.Positions)),
	}
	for _, inst := range a.Instruments() {
		p := a.Positions[inst]
		b.Positions = append(b.Positions, PositionBalance{
			Instrument:        inst,
			Quantity:          p.Quantity,
			Committed:         p.Committed,
			Available:         p.Quantity - p.Committed,
			Borrowed:          p.Borrowed,
			BorrowedCommitted: p.BorrowedCommitted,
		})
	}
	return b
}
