package engine

import (
	"fmt"
	"log/slog"

	"github.com/efreitasn/marketsim/internal/domain"
)

// RoundResult is the outcome of one matching cycle for one instrument.
type RoundResult struct {
	Round      int             `json:"round"`
	Instrument string          `json:"instrument"`
	Trades     []*domain.Trade `json:"trades"`
	Converted  []string        `json:"converted_order_ids"`
	Cancelled  []string        `json:"cancelled_order_ids"`
	Book       BookSnapshot    `json:"book"`
}

// Volume returns the number of shares traded.
func (r *RoundResult) Volume() int64 {
	var v int64
	for _, t := range r.Trades {
		v += t.Quantity
	}
	return v
}

// LastPrice returns the price of the last trade of the round.
func (r *RoundResult) LastPrice() (int64, bool) {
	if len(r.Trades) == 0 {
		return 0, false
	}
	return r.Trades[len(r.Trades)-1].Price, true
}

// RunRound matches every COMMITTED order of instrument: market orders are
// netted, walked against the book and converted; then aggressive limits and
// new limit orders are crossed against the book and rested, in submission
// order. The book is checked for crossing once the round is done.
func (m *Matcher) RunRound(instrument string, round int) (*RoundResult, error) {
	m.trades = nil
	book := m.books.GetOrCreate(instrument)

	var markets, limits []*domain.Order
	for _, o := range m.orders.InState(domain.OrderStateCommitted) {
		if o.Instrument != instrument {
			continue
		}
		if o.Type == domain.OrderTypeMarket {
			markets = append(markets, o)
		} else {
			limits = append(limits, o)
		}
	}

	converted, err := m.MatchMarketOrders(instrument, markets)
	if err != nil {
		return nil, err
	}

	res := &RoundResult{Round: round, Instrument: instrument}
	for _, o := range markets {
		if o.State == domain.OrderStateCancelled {
			res.Cancelled = append(res.Cancelled, o.OrderID)
		}
	}
	for _, o := range converted {
		res.Converted = append(res.Converted, o.OrderID)
		if err := m.MatchLimitOrder(o); err != nil {
			return nil, err
		}
	}
	for _, o := range limits {
		if err := m.MatchLimitOrder(o); err != nil {
			return nil, err
		}
	}

	if book.Crossed() {
		bid, _ := book.BestBid()
		ask, _ := book.BestAsk()
		e := domain.Invariant(domain.InvariantCrossedBook,
			fmt.Sprintf("book %s crossed after round %d: bid %s >= ask %s",
				instrument, round, domain.FormatCents(bid), domain.FormatCents(ask)))
		for _, side := range []domain.OrderSide{domain.OrderSideBuy, domain.OrderSideSell} {
			if entry, ok := book.PeekBest(side); ok {
				e.Orders = append(e.Orders, entry.Order)
			}
		}
		return nil, e
	}

	res.Trades = m.trades
	res.Book = book.Snapshot(10)
	m.trades = nil

	m.logger.Info("round matched",
		slog.Int("round", round),
		slog.String("instrument", instrument),
		slog.Int("trades", len(res.Trades)),
		slog.Int64("volume", res.Volume()),
		slog.Int("converted", len(res.Converted)),
		slog.Int("cancelled", len(res.Cancelled)),
	)
	return res, nil
}
