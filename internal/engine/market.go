package engine

import (
	"fmt"
	"log/slog"

	"github.com/efreitasn/marketsim/internal/domain"
)

// MatchMarketOrders runs the market phase for one instrument: committed
// market orders are netted against each other at the reference price, the
// rest walk the book, and anything still unfilled is repriced into an
// aggressive limit order. It returns the converted orders, in submission
// order, for the limit phase.
func (m *Matcher) MatchMarketOrders(instrument string, orders []*domain.Order) ([]*domain.Order, error) {
	var buys, sells []*domain.Order
	for _, o := range orders {
		if o.Type != domain.OrderTypeMarket || o.State != domain.OrderStateCommitted || o.Instrument != instrument {
			return nil, domain.Invariant(domain.InvariantMatching,
				fmt.Sprintf("order is not a committed %s market order", instrument), o)
		}
		if err := m.orders.Transition(o, domain.OrderStateMatching, ""); err != nil {
			return nil, err
		}
		if o.IsBuy() {
			buys = append(buys, o)
		} else {
			sells = append(sells, o)
		}
	}

	if err := m.net(instrument, buys, sells); err != nil {
		return nil, err
	}

	book := m.books.GetOrCreate(instrument)
	var converted []*domain.Order
	for _, o := range orders {
		if o.RemainingQuantity == 0 {
			continue
		}
		if err := m.walkBook(o, book); err != nil {
			return nil, err
		}
		if o.RemainingQuantity == 0 {
			continue
		}
		ok, err := m.convert(o, book)
		if err != nil {
			return nil, err
		}
		if ok {
			converted = append(converted, o)
		}
	}
	return converted, nil
}

// net pairs the oldest market buy with the oldest market sell at the
// reference price. A buyer that cannot afford a single share is dropped
// from netting, so every iteration either trades or drops an order.
func (m *Matcher) net(instrument string, buys, sells []*domain.Order) error {
	if len(buys) == 0 || len(sells) == 0 {
		return nil
	}
	price, ok := m.prices.ReferencePrice(instrument)
	if !ok || price <= 0 {
		return nil
	}

	limit := 2*(len(buys)+len(sells)) + 1
	i, j := 0, 0
	for iter := 0; i < len(buys) && j < len(sells); iter++ {
		if iter > limit {
			return domain.Invariant(domain.InvariantMatching, "netting did not terminate", buys[i], sells[j])
		}
		b, s := buys[i], sells[j]
		if b.RemainingQuantity == 0 {
			i++
			continue
		}
		if s.RemainingQuantity == 0 {
			j++
			continue
		}
		qty := min(b.RemainingQuantity, s.RemainingQuantity, b.Cash.Current/price)
		if qty <= 0 {
			i++
			continue
		}
		if _, err := m.execute(b, s, price, qty); err != nil {
			return err
		}
		if b.RemainingQuantity == 0 {
			i++
		}
		if s.RemainingQuantity == 0 {
			j++
		}
	}
	return nil
}

// walkBook fills a market order against resting orders one at a time at
// their prices. Each resting order is popped, traded and, if anything is
// left, put back with its original priority. A market buy never spends
// more than it has reserved.
func (m *Matcher) walkBook(o *domain.Order, book *OrderBook) error {
	opposite := o.Side.Opposite()
	for o.RemainingQuantity > 0 {
		entry, ok := book.PopBest(opposite)
		if !ok {
			return nil
		}
		resting := entry.Order
		qty := min(o.RemainingQuantity, resting.RemainingQuantity)
		if o.IsBuy() {
			qty = min(qty, o.Cash.Current/entry.Price)
		}
		if qty <= 0 {
			if err := book.AddResting(resting); err != nil {
				e := domain.Invariant(domain.InvariantMatching, "could not re-queue resting order", resting)
				e.Err = err
				return e
			}
			return nil
		}

		buy, sell := pair(o, resting)
		if _, err := m.execute(buy, sell, entry.Price, qty); err != nil {
			return err
		}
		if resting.RemainingQuantity > 0 {
			if err := book.AddResting(resting); err != nil {
				e := domain.Invariant(domain.InvariantMatching, "could not re-queue resting order", resting)
				e.Err = err
				return e
			}
		}
	}
	return nil
}

// aggressivePrice prices an unfilled market order against the opposite
// best quote, falling back to the reference price.
func (m *Matcher) aggressivePrice(o *domain.Order, book *OrderBook) (int64, bool) {
	var base int64
	var ok bool
	factor := domain.AggressiveSellFactor
	if o.IsBuy() {
		factor = domain.AggressiveBuyFactor
		base, ok = book.BestAsk()
	} else {
		base, ok = book.BestBid()
	}
	if !ok {
		base, ok = m.prices.ReferencePrice(o.Instrument)
	}
	if !ok || base <= 0 {
		return 0, false
	}
	return max(domain.ScaleCents(base, factor), 1), true
}

// convert turns the unfilled part of a market order into an aggressive
// limit order in the COMMITTED state. A buy is cut down to what its
// reservation covers at the new price. Orders that cannot be priced or end
// up with nothing to buy are cancelled instead; convert reports whether the
// order was converted.
func (m *Matcher) convert(o *domain.Order, book *OrderBook) (bool, error) {
	price, ok := m.aggressivePrice(o, book)
	if !ok {
		return false, m.cancel(o, "no price for aggressive conversion")
	}
	if o.IsBuy() {
		if affordable := o.Cash.Current / price; affordable < o.RemainingQuantity {
			o.CancelledQuantity += o.RemainingQuantity - affordable
			o.RemainingQuantity = affordable
		}
		if o.RemainingQuantity == 0 {
			return false, m.cancel(o, "reservation does not cover one share at the aggressive price")
		}
	}

	o.Type = domain.OrderTypeLimit
	o.Price = price
	o.Aggressive = true
	note := fmt.Sprintf("aggressive limit at %s", domain.FormatCents(price))
	if err := m.orders.Transition(o, domain.OrderStateCommitted, note); err != nil {
		return false, err
	}
	m.logger.Debug("market order converted",
		slog.String("order_id", o.OrderID),
		slog.String("side", string(o.Side)),
		slog.Int64("price", price),
		slog.Int64("remaining", o.RemainingQuantity),
	)
	return true, nil
}
