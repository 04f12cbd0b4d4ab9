// Package ledger reserves, releases and transfers agents' cash and shares.
//
// Every order reserves what it may spend when it is committed and releases
// it as it fills or is cancelled. Balances only move between agents through
// ApplyTrade, or through the explicit adjustment calls used by collaborators
// such as dividend and interest services.
package ledger

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/efreitasn/marketsim/internal/domain"
	"github.com/efreitasn/marketsim/internal/store"
)

// Options configures a Ledger.
type Options struct {
	// AllowPartialBorrow lets a short sale commit fewer shares than
	// requested when the borrow pool runs low.
	AllowPartialBorrow bool
	Logger             *slog.Logger
}

// Ledger is the resource ledger for all agents.
type Ledger struct {
	mu            sync.Mutex
	accounts      *store.AccountStore
	sharePools    map[string]*Pool // instrument → borrow pool
	cashPool      *Pool
	partialBorrow bool
	logger        *slog.Logger
}

// New creates a Ledger over the given accounts.
func New(accounts *store.AccountStore, opts Options) *Ledger {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		accounts:      accounts,
		sharePools:    make(map[string]*Pool),
		partialBorrow: opts.AllowPartialBorrow,
		logger:        logger,
	}
}

// SetBorrowPool installs the share lending pool for an instrument.
func (l *Ledger) SetBorrowPool(instrument string, p *Pool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sharePools[instrument] = p
}

// BorrowPool returns the share lending pool for an instrument, or nil.
func (l *Ledger) BorrowPool(instrument string) *Pool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sharePools[instrument]
}

// SetCashPool installs the cash lending pool.
func (l *Ledger) SetCashPool(p *Pool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cashPool = p
}

// CashPool returns the cash lending pool, or nil.
func (l *Ledger) CashPool() *Pool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cashPool
}

// ReserveCash commits amount cents of the buyer's cash to o. A leveraged
// account may draw a shortfall from the cash pool; the draw is all or
// nothing.
func (l *Ledger) ReserveCash(o *domain.Order, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if amount <= 0 {
		return domain.Reject(domain.ErrInvalidOrder, "cash reservation must be positive, got %d", amount)
	}
	acct, err := l.accounts.Get(o.AgentID)
	if err != nil {
		return domain.Reject(domain.ErrAgentNotFound, "agent %s not found", o.AgentID)
	}

	if short := amount - acct.AvailableCash(); short > 0 {
		if !acct.AllowLeverage || l.cashPool == nil {
			return domain.Reject(domain.ErrInsufficientCash,
				"agent %s needs %s, has %s available", o.AgentID, domain.FormatCents(amount), domain.FormatCents(acct.AvailableCash()))
		}
		granted := l.cashPool.Allocate(o.AgentID, short, false)
		if granted < short {
			return domain.Reject(domain.ErrInsufficientCash,
				"agent %s needs %s more and the cash pool has %s", o.AgentID, domain.FormatCents(short), domain.FormatCents(l.cashPool.Available()))
		}
		acct.CashBalance += granted
		acct.BorrowedCash += granted
		o.BorrowedCash += granted
		l.logger.Debug("cash borrowed",
			slog.String("agent_id", o.AgentID),
			slog.String("order_id", o.OrderID),
			slog.Int64("amount", granted),
		)
	}

	acct.CommittedCash += amount
	o.Cash.Reserve(amount)
	return nil
}

// ReserveShares commits up to qty shares to the sell order o and returns the
// quantity actually committed. Owned shares are used first; the rest is
// borrowed from the instrument's pool when the account may sell short.
// With partial borrowing enabled the committed quantity may be smaller than
// qty.
func (l *Ledger) ReserveShares(o *domain.Order, qty int64) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if qty <= 0 {
		return 0, domain.Reject(domain.ErrInvalidOrder, "share reservation must be positive, got %d", qty)
	}
	acct, err := l.accounts.Get(o.AgentID)
	if err != nil {
		return 0, domain.Reject(domain.ErrAgentNotFound, "agent %s not found", o.AgentID)
	}

	pos := acct.Position(o.Instrument)
	fromOwned := min(qty, max(pos.Quantity-pos.Committed, 0))
	short := qty - fromOwned

	var borrowed int64
	if short > 0 {
		if !acct.AllowShort {
			return 0, domain.Reject(domain.ErrInsufficientShares,
				"agent %s has %d %s available, needs %d", o.AgentID, fromOwned, o.Instrument, qty)
		}
		pool := l.sharePools[o.Instrument]
		if pool == nil {
			return 0, domain.Reject(domain.ErrBorrowUnavailable, "no borrow pool for %s", o.Instrument)
		}
		borrowed = pool.Allocate(o.AgentID, short, l.partialBorrow)
		if (borrowed < short && !l.partialBorrow) || fromOwned+borrowed == 0 {
			if borrowed > 0 {
				_ = pool.Release(o.AgentID, borrowed)
			}
			return 0, domain.Reject(domain.ErrBorrowUnavailable,
				"agent %s needs to borrow %d %s, pool has %d", o.AgentID, short, o.Instrument, pool.Available())
		}
	}

	committed := fromOwned + borrowed
	pos.Committed += fromOwned
	pos.Borrowed += borrowed
	pos.BorrowedCommitted += borrowed
	o.Shares.Reserve(committed)
	o.BorrowedShares += borrowed

	if borrowed > 0 {
		l.logger.Debug("shares borrowed",
			slog.String("agent_id", o.AgentID),
			slog.String("order_id", o.OrderID),
			slog.String("instrument", o.Instrument),
			slog.Int64("quantity", borrowed),
		)
	}
	return committed, nil
}

// ReleaseCash returns amount cents of o's reservation to the buyer.
func (l *Ledger) ReleaseCash(o *domain.Order, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.releaseCash(o, amount)
}

func (l *Ledger) releaseCash(o *domain.Order, amount int64) error {
	acct, err := l.accounts.Get(o.AgentID)
	if err != nil {
		return reservationError(o, fmt.Sprintf("release for unknown agent %s", o.AgentID), err)
	}
	if amount > o.Cash.Current || amount < 0 {
		return reservationError(o, fmt.Sprintf("cash release %d exceeds reservation %d", amount, o.Cash.Current), domain.ErrReservationExceeded)
	}
	if amount > acct.CommittedCash {
		return reservationError(o, fmt.Sprintf("cash release %d exceeds committed cash %d", amount, acct.CommittedCash), domain.ErrReservationExceeded)
	}
	_ = o.Cash.Release(amount)
	acct.CommittedCash -= amount
	return nil
}

// ReleaseAll releases everything o still holds. Borrowed shares that were
// never delivered go back to the borrow pool.
func (l *Ledger) ReleaseAll(o *domain.Order) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if o.IsBuy() {
		return l.releaseCash(o, o.Cash.Current)
	}

	acct, err := l.accounts.Get(o.AgentID)
	if err != nil {
		return reservationError(o, fmt.Sprintf("release for unknown agent %s", o.AgentID), err)
	}
	pos := acct.Position(o.Instrument)
	owned, borrowed := o.OwnedShares(), o.BorrowedShares
	if owned < 0 || owned > pos.Committed || borrowed > pos.BorrowedCommitted {
		return reservationError(o, fmt.Sprintf("share release owned=%d borrowed=%d exceeds committed=%d borrowed_committed=%d",
			owned, borrowed, pos.Committed, pos.BorrowedCommitted), domain.ErrReservationExceeded)
	}
	pool := l.sharePools[o.Instrument]
	if borrowed > 0 {
		if pool == nil || pool.BorrowedBy(o.AgentID) < borrowed {
			return reservationError(o, fmt.Sprintf("cannot return %d borrowed shares to pool", borrowed), domain.ErrReservationExceeded)
		}
		if err := pool.Release(o.AgentID, borrowed); err != nil {
			return reservationError(o, "borrow pool release failed", err)
		}
	}

	_ = o.Shares.Release(o.Shares.Current)
	pos.Committed -= owned
	pos.BorrowedCommitted -= borrowed
	pos.Borrowed -= borrowed
	o.BorrowedShares = 0
	return nil
}

// settlementPlan is the set of balance changes for one trade, computed and
// checked before anything is mutated.
type settlementPlan struct {
	buyer, seller   *domain.Account
	buyPos, sellPos *domain.Position
	value           int64
	cashRelease     int64
	fromOwned       int64
	fromBorrowed    int64
	cover           int64
	pool            *Pool
}

func (l *Ledger) plan(buy, sell *domain.Order, t *domain.Trade, cashRelease int64) (*settlementPlan, error) {
	buyer, err := l.accounts.Get(buy.AgentID)
	if err != nil {
		return nil, settlementError(t, "unknown buyer", err, buy, sell)
	}
	seller, err := l.accounts.Get(sell.AgentID)
	if err != nil {
		return nil, settlementError(t, "unknown seller", err, buy, sell)
	}
	p := &settlementPlan{
		buyer:       buyer,
		seller:      seller,
		buyPos:      buyer.Position(t.Instrument),
		sellPos:     seller.Position(t.Instrument),
		value:       t.Value(),
		cashRelease: cashRelease,
		pool:        l.sharePools[t.Instrument],
	}

	if cashRelease < 0 || cashRelease > buy.Cash.Current || cashRelease > buyer.CommittedCash {
		return nil, reservationError(buy, fmt.Sprintf("trade %s releases %d cash, order holds %d, account commits %d",
			t.TradeID, cashRelease, buy.Cash.Current, buyer.CommittedCash), domain.ErrReservationExceeded)
	}
	if p.value > cashRelease {
		return nil, reservationError(buy, fmt.Sprintf("trade %s value %d exceeds released reservation %d",
			t.TradeID, p.value, cashRelease), domain.ErrReservationExceeded)
	}
	if t.Quantity > sell.Shares.Current {
		return nil, reservationError(sell, fmt.Sprintf("trade %s delivers %d shares, order holds %d",
			t.TradeID, t.Quantity, sell.Shares.Current), domain.ErrReservationExceeded)
	}

	p.fromOwned = min(t.Quantity, sell.OwnedShares())
	p.fromBorrowed = t.Quantity - p.fromOwned
	if p.fromOwned > p.sellPos.Committed || p.fromOwned > p.sellPos.Quantity ||
		p.fromBorrowed > p.sellPos.BorrowedCommitted || p.fromBorrowed > sell.BorrowedShares {
		return nil, reservationError(sell, fmt.Sprintf("trade %s cannot deliver owned=%d borrowed=%d from position %+v",
			t.TradeID, p.fromOwned, p.fromBorrowed, *p.sellPos), domain.ErrReservationExceeded)
	}

	// Covering is computed against the buyer's short after the seller's
	// delivery, which only differs for a self-trade.
	short := p.buyPos.Short()
	if buyer == seller {
		short += p.fromBorrowed
	}
	p.cover = min(t.Quantity, short)
	if p.cover > 0 && (p.pool == nil || p.pool.BorrowedBy(buy.AgentID) < p.cover) {
		return nil, settlementError(t, fmt.Sprintf("buyer short of %d cannot be returned to the borrow pool", p.cover), nil, buy, sell)
	}
	return p, nil
}

// CheckTrade validates that t can settle with cashRelease released from the
// buy order, without changing anything.
func (l *Ledger) CheckTrade(buy, sell *domain.Order, t *domain.Trade, cashRelease int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.plan(buy, sell, t, cashRelease)
	return err
}

// ApplyTrade releases the reservations consumed by t and moves cash from
// buyer to seller and shares from seller to buyer. The buyer's open short is
// covered before owned shares accumulate. Nothing changes if validation
// fails.
func (l *Ledger) ApplyTrade(buy, sell *domain.Order, t *domain.Trade, cashRelease int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, err := l.plan(buy, sell, t, cashRelease)
	if err != nil {
		return err
	}

	_ = buy.Cash.Release(p.cashRelease)
	p.buyer.CommittedCash -= p.cashRelease
	p.buyer.CashBalance -= p.value
	p.seller.CashBalance += p.value

	_ = sell.Shares.Release(t.Quantity)
	sell.BorrowedShares -= p.fromBorrowed
	p.sellPos.Quantity -= p.fromOwned
	p.sellPos.Committed -= p.fromOwned
	p.sellPos.BorrowedCommitted -= p.fromBorrowed

	if p.cover > 0 {
		_ = p.pool.Release(buy.AgentID, p.cover)
		p.buyPos.Borrowed -= p.cover
	}
	p.buyPos.Quantity += t.Quantity - p.cover
	return nil
}

// AdjustCash applies an external cash movement such as a dividend, interest
// or a fee. Debits may not exceed available cash.
func (l *Ledger) AdjustCash(agentID string, delta int64, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	acct, err := l.accounts.Get(agentID)
	if err != nil {
		return err
	}
	if delta < 0 && acct.AvailableCash()+delta < 0 {
		return domain.Reject(domain.ErrInsufficientCash,
			"%s of %s exceeds available cash %s", reason, domain.FormatCents(-delta), domain.FormatCents(acct.AvailableCash()))
	}
	acct.CashBalance += delta
	l.logger.Debug("cash adjusted",
		slog.String("agent_id", agentID),
		slog.Int64("delta", delta),
		slog.String("reason", reason),
	)
	return nil
}

// AdjustShares applies an external share movement. Debits may not exceed
// available owned shares.
func (l *Ledger) AdjustShares(agentID, instrument string, delta int64, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	acct, err := l.accounts.Get(agentID)
	if err != nil {
		return err
	}
	if delta < 0 && acct.AvailableShares(instrument)+delta < 0 {
		return domain.Reject(domain.ErrInsufficientShares,
			"%s of %d %s exceeds available shares %d", reason, -delta, instrument, acct.AvailableShares(instrument))
	}
	acct.Position(instrument).Quantity += delta
	l.logger.Debug("shares adjusted",
		slog.String("agent_id", agentID),
		slog.String("instrument", instrument),
		slog.Int64("delta", delta),
		slog.String("reason", reason),
	)
	return nil
}

// RepayCash pays back amount cents of the agent's cash loan from available
// cash.
func (l *Ledger) RepayCash(agentID string, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	acct, err := l.accounts.Get(agentID)
	if err != nil {
		return err
	}
	if l.cashPool == nil || amount <= 0 || amount > acct.BorrowedCash {
		return domain.Reject(domain.ErrInvalidOrder, "agent %s cannot repay %d, owes %d", agentID, amount, acct.BorrowedCash)
	}
	if amount > acct.AvailableCash() {
		return domain.Reject(domain.ErrInsufficientCash, "agent %s cannot repay %d from %d available", agentID, amount, acct.AvailableCash())
	}
	if err := l.cashPool.Release(agentID, amount); err != nil {
		return err
	}
	acct.CashBalance -= amount
	acct.BorrowedCash -= amount
	return nil
}

// Balance returns a copy of the agent's balances.
func (l *Ledger) Balance(agentID string) (domain.AccountBalance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	acct, err := l.accounts.Get(agentID)
	if err != nil {
		return domain.AccountBalance{}, err
	}
	return acct.Balance(), nil
}

// Balances returns a copy of every agent's balances ordered by agent ID.
func (l *Ledger) Balances() []domain.AccountBalance {
	l.mu.Lock()
	defer l.mu.Unlock()

	accts := l.accounts.List()
	out := make([]domain.AccountBalance, 0, len(accts))
	for _, a := range accts {
		out = append(out, a.Balance())
	}
	return out
}

// Totals is the conserved quantity of the market: cash net of loans, and
// shares net of open shorts per instrument.
type Totals struct {
	Cash   int64
	Shares map[string]int64
}

// Totals sums every account.
func (l *Ledger) Totals() Totals {
	l.mu.Lock()
	defer l.mu.Unlock()

	t := Totals{Shares: make(map[string]int64)}
	for _, a := range l.accounts.List() {
		t.Cash += a.CashBalance - a.BorrowedCash
		for inst, p := range a.Positions {
			t.Shares[inst] += p.Net()
		}
	}
	return t
}

// Check verifies every account and pool invariant.
func (l *Ledger) Check() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, a := range l.accounts.List() {
		if a.CommittedCash < 0 || a.CommittedCash > a.CashBalance {
			return &domain.InvariantError{Kind: domain.InvariantAccounting,
				Message: fmt.Sprintf("agent %s committed cash %d outside [0, %d]", a.AgentID, a.CommittedCash, a.CashBalance)}
		}
		if a.BorrowedCash < 0 {
			return &domain.InvariantError{Kind: domain.InvariantAccounting,
				Message: fmt.Sprintf("agent %s borrowed cash %d is negative", a.AgentID, a.BorrowedCash)}
		}
		if l.cashPool != nil && l.cashPool.BorrowedBy(a.AgentID) != a.BorrowedCash {
			return &domain.InvariantError{Kind: domain.InvariantAccounting,
				Message: fmt.Sprintf("agent %s owes %d cash, pool records %d", a.AgentID, a.BorrowedCash, l.cashPool.BorrowedBy(a.AgentID))}
		}
		for inst, p := range a.Positions {
			if p.Quantity < 0 || p.Committed < 0 || p.Committed > p.Quantity {
				return &domain.InvariantError{Kind: domain.InvariantAccounting,
					Message: fmt.Sprintf("agent %s %s owned %d committed %d", a.AgentID, inst, p.Quantity, p.Committed)}
			}
			if p.BorrowedCommitted < 0 || p.BorrowedCommitted > p.Borrowed {
				return &domain.InvariantError{Kind: domain.InvariantAccounting,
					Message: fmt.Sprintf("agent %s %s borrowed %d committed %d", a.AgentID, inst, p.Borrowed, p.BorrowedCommitted)}
			}
			var lent int64
			if pool := l.sharePools[inst]; pool != nil {
				lent = pool.BorrowedBy(a.AgentID)
			}
			if lent != p.Borrowed {
				return &domain.InvariantError{Kind: domain.InvariantAccounting,
					Message: fmt.Sprintf("agent %s owes %d %s, pool records %d", a.AgentID, p.Borrowed, inst, lent)}
			}
		}
	}
	for _, pool := range l.sharePools {
		if err := pool.Check(); err != nil {
			return &domain.InvariantError{Kind: domain.InvariantAccounting, Message: err.Error()}
		}
	}
	if l.cashPool != nil {
		if err := l.cashPool.Check(); err != nil {
			return &domain.InvariantError{Kind: domain.InvariantAccounting, Message: err.Error()}
		}
	}
	return nil
}

func reservationError(o *domain.Order, msg string, err error) *domain.InvariantError {
	e := domain.Invariant(domain.InvariantReservation, msg, o)
	e.Err = err
	return e
}

func settlementError(t *domain.Trade, msg string, err error, orders ...*domain.Order) *domain.InvariantError {
	e := domain.Invariant(domain.InvariantSettlement, msg, orders...)
	e.Trade = t
	e.Err = err
	return e
}
