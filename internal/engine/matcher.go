package engine

import (
	"fmt"
	"log/slog"

	"github.com/efreitasn/marketsim/internal/domain"
	"github.com/efreitasn/marketsim/internal/ledger"
	"github.com/efreitasn/marketsim/internal/store"
)

// PriceProvider supplies the prevailing reference price of an instrument.
type PriceProvider interface {
	ReferencePrice(instrument string) (int64, bool)
}

// Matcher implements the matching engine: market order netting, market
// orders against the book, aggressive limit conversion and limit crossing.
// It is not safe for concurrent use.
type Matcher struct {
	books   *BookManager
	orders  *store.OrderStore
	ledger  *ledger.Ledger
	settler *Settler
	expiry  *ExpiryManager
	prices  PriceProvider
	ids     domain.IDGenerator
	clock   domain.Clock
	logger  *slog.Logger

	// trades collects the trades of the round in progress.
	trades []*domain.Trade
}

// NewMatcher creates a new Matcher with the given dependencies.
func NewMatcher(
	books *BookManager,
	orders *store.OrderStore,
	trades *store.TradeStore,
	l *ledger.Ledger,
	prices PriceProvider,
	ids domain.IDGenerator,
	clock domain.Clock,
	logger *slog.Logger,
) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	if ids == nil {
		ids = domain.RandomIDs{}
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Matcher{
		books:   books,
		orders:  orders,
		ledger:  l,
		settler: NewSettler(books, orders, trades, l, logger),
		expiry:  NewExpiryManager(),
		prices:  prices,
		ids:     ids,
		clock:   clock,
		logger:  logger,
	}
}

// Books returns the book manager.
func (m *Matcher) Books() *BookManager {
	return m.books
}

// Expiry returns the expiry tracker for resting limit orders.
func (m *Matcher) Expiry() *ExpiryManager {
	return m.expiry
}

// execute builds a trade between buy and sell and settles it.
func (m *Matcher) execute(buy, sell *domain.Order, price, qty int64) (*domain.Trade, error) {
	t, err := domain.NewTrade(m.ids.NewID(), buy, sell, price, qty, m.orders.Round(), m.clock.Now())
	if err != nil {
		e := domain.Invariant(domain.InvariantMatching, "invalid trade", buy, sell)
		e.Err = err
		return nil, e
	}
	if err := m.settler.Apply(t, buy, sell); err != nil {
		return nil, err
	}
	for _, o := range []*domain.Order{buy, sell} {
		if o.State == domain.OrderStateFilled {
			m.expiry.Remove(o.OrderID)
		}
	}
	m.trades = append(m.trades, t)
	return t, nil
}

// pair orders incoming and resting into (buy, sell).
func pair(incoming, resting *domain.Order) (buy, sell *domain.Order) {
	if incoming.IsBuy() {
		return incoming, resting
	}
	return resting, incoming
}

// MatchLimitOrder runs a committed limit order through the book. A
// crossing order trades against the opposite side at resting prices until
// it no longer crosses; whatever is left rests. The book is re-checked
// before resting and a crossed result is a fatal error.
func (m *Matcher) MatchLimitOrder(o *domain.Order) error {
	if o.State != domain.OrderStateCommitted {
		return domain.Invariant(domain.InvariantMatching,
			fmt.Sprintf("limit order in state %s cannot be matched", o.State), o)
	}
	if o.Price <= 0 {
		return domain.Invariant(domain.InvariantMatching, "limit order without a price", o)
	}
	book := m.books.GetOrCreate(o.Instrument)
	opposite := o.Side.Opposite()

	if book.Crosses(o.Side, o.Price) {
		if err := m.orders.Transition(o, domain.OrderStateLimitMatching, "crosses the book"); err != nil {
			return err
		}
		for o.RemainingQuantity > 0 {
			entry, ok := book.PeekBest(opposite)
			if !ok || !book.Crosses(o.Side, o.Price) {
				break
			}
			resting := entry.Order
			qty := min(o.RemainingQuantity, resting.RemainingQuantity)
			if qty <= 0 {
				return domain.Invariant(domain.InvariantMatching,
					fmt.Sprintf("non-positive fill %d against resting order", qty), o, resting)
			}
			if o.RemainingQuantity-qty < 0 || resting.RemainingQuantity-qty < 0 {
				return domain.Invariant(domain.InvariantMatching, "fill would leave negative remaining quantity", o, resting)
			}
			buy, sell := pair(o, resting)
			if _, err := m.execute(buy, sell, entry.Price, qty); err != nil {
				return err
			}
		}
		if o.State == domain.OrderStateFilled {
			return nil
		}
	}

	return m.rest(o, book)
}

// rest moves o through PENDING to ACTIVE and adds it to the book.
func (m *Matcher) rest(o *domain.Order, book *OrderBook) error {
	if book.Crosses(o.Side, o.Price) {
		e := domain.Invariant(domain.InvariantCrossedBook,
			fmt.Sprintf("order at %s would rest crossing the book", domain.FormatCents(o.Price)), o)
		if entry, ok := book.PeekBest(o.Side.Opposite()); ok {
			e.Orders = append(e.Orders, entry.Order)
		}
		return e
	}
	if err := m.orders.Transition(o, domain.OrderStatePending, ""); err != nil {
		return err
	}
	if err := m.orders.Transition(o, domain.OrderStateActive, "resting"); err != nil {
		return err
	}
	if err := book.AddResting(o); err != nil {
		e := domain.Invariant(domain.InvariantMatching, "could not rest order", o)
		e.Err = err
		return e
	}
	m.expiry.Add(o)
	m.logger.Debug("order resting",
		slog.String("order_id", o.OrderID),
		slog.String("instrument", o.Instrument),
		slog.String("side", string(o.Side)),
		slog.Int64("price", o.Price),
		slog.Int64("remaining", o.RemainingQuantity),
	)
	return nil
}
