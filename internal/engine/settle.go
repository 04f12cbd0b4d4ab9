package engine

import (
	"fmt"
	"log/slog"

	"github.com/efreitasn/marketsim/internal/domain"
	"github.com/efreitasn/marketsim/internal/ledger"
	"github.com/efreitasn/marketsim/internal/store"
)

// Settler applies matched trades. Each trade is validated in full before
// any order, balance or book is touched.
type Settler struct {
	books  *BookManager
	orders *store.OrderStore
	trades *store.TradeStore
	ledger *ledger.Ledger
	logger *slog.Logger
}

// NewSettler creates a Settler with the given dependencies.
func NewSettler(books *BookManager, orders *store.OrderStore, trades *store.TradeStore, l *ledger.Ledger, logger *slog.Logger) *Settler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Settler{
		books:  books,
		orders: orders,
		trades: trades,
		ledger: l,
		logger: logger,
	}
}

// nextState returns the state o moves to after filling qty, or "" when
// the fill only updates counters.
func nextState(o *domain.Order, qty int64) domain.OrderState {
	if o.RemainingQuantity == qty {
		return domain.OrderStateFilled
	}
	if o.State != domain.OrderStatePartiallyFilled {
		return domain.OrderStatePartiallyFilled
	}
	return ""
}

// buyRelease is the cash released from the buy order by a fill: the value
// of the fill, or everything left once the order is done.
func buyRelease(buy *domain.Order, t *domain.Trade) int64 {
	if buy.RemainingQuantity == t.Quantity {
		return buy.Cash.Current
	}
	return t.Value()
}

func (s *Settler) validate(t *domain.Trade, buy, sell *domain.Order) error {
	fail := func(msg string) error {
		e := domain.Invariant(domain.InvariantSettlement, msg, buy, sell)
		e.Trade = t
		return e
	}
	if buy.Side != domain.OrderSideBuy || sell.Side != domain.OrderSideSell {
		return fail("trade sides do not match order sides")
	}
	if buy.Instrument != t.Instrument || sell.Instrument != t.Instrument {
		return fail("trade instrument does not match orders")
	}
	for _, o := range []*domain.Order{buy, sell} {
		if got, err := s.orders.Get(o.OrderID); err != nil || got != o {
			return fail(fmt.Sprintf("order %s is not in the order ledger", o.OrderID))
		}
		if o.IsTerminal() {
			return fail(fmt.Sprintf("order %s is already %s", o.OrderID, o.State))
		}
		if o.RemainingQuantity < t.Quantity {
			return fail(fmt.Sprintf("order %s has %d remaining, trade needs %d", o.OrderID, o.RemainingQuantity, t.Quantity))
		}
		if next := nextState(o, t.Quantity); next != "" && !domain.CanTransition(o.State, next) {
			return &domain.TransitionError{OrderID: o.OrderID, From: o.State, To: next}
		}
	}
	return s.ledger.CheckTrade(buy, sell, t, buyRelease(buy, t))
}

// Apply settles t between buy and sell: quantities, state transitions,
// reservation releases, cash and share transfer, trade records and removal
// of filled orders from the book. On error nothing has changed.
func (s *Settler) Apply(t *domain.Trade, buy, sell *domain.Order) error {
	if err := s.validate(t, buy, sell); err != nil {
		return err
	}

	release := buyRelease(buy, t)
	nextBuy, nextSell := nextState(buy, t.Quantity), nextState(sell, t.Quantity)

	if err := s.ledger.ApplyTrade(buy, sell, t, release); err != nil {
		return err
	}

	note := fmt.Sprintf("trade %s: %d @ %s", t.TradeID, t.Quantity, domain.FormatCents(t.Price))
	for _, step := range []struct {
		o    *domain.Order
		next domain.OrderState
	}{{buy, nextBuy}, {sell, nextSell}} {
		step.o.RemainingQuantity -= t.Quantity
		step.o.FilledQuantity += t.Quantity
		step.o.Trades = append(step.o.Trades, t)
		if step.next == "" {
			s.orders.NoteFill(step.o, t.Quantity, t.Price, note)
			continue
		}
		if err := s.orders.TransitionFill(step.o, step.next, t.Quantity, t.Price, note); err != nil {
			return err
		}
		if step.next == domain.OrderStateFilled {
			s.books.GetOrCreate(t.Instrument).Remove(step.o.OrderID)
		}
	}

	s.trades.Append(t)
	s.logger.Info("trade executed",
		slog.String("trade_id", t.TradeID),
		slog.String("instrument", t.Instrument),
		slog.String("buyer_id", t.BuyerID),
		slog.String("seller_id", t.SellerID),
		slog.Int64("quantity", t.Quantity),
		slog.Int64("price", t.Price),
		slog.Int("round", t.Round),
	)
	return nil
}
