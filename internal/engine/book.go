package engine

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/efreitasn/marketsim/internal/domain"
	"github.com/google/btree"
)

// OrderBookEntry represents a single order resting on the book.
type OrderBookEntry struct {
	Price     int64
	CreatedAt time.Time
	Seq       uint64
	OrderID   string
	Order     *domain.Order
}

// PriceLevel represents an aggregated price level in the order book.
type PriceLevel struct {
	Price         int64 `json:"price"`
	TotalQuantity int64 `json:"total_quantity"`
	OrderCount    int   `json:"order_count"`
}

// bidLess defines ordering for the buy side: price descending, then
// created_at ascending, then submission sequence ascending. This means
// Min() returns the best bid (highest price, earliest time).
func bidLess(a, b OrderBookEntry) bool {
	if a.Price != b.Price {
		return a.Price > b.Price
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.Seq < b.Seq
}

// askLess defines ordering for the sell side: price ascending, then
// created_at ascending, then submission sequence ascending. Min() returns
// the best ask (lowest price, earliest time).
func askLess(a, b OrderBookEntry) bool {
	if a.Price != b.Price {
		return a.Price < b.Price
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.Seq < b.Seq
}

// OrderBook maintains the buy and sell sides for a single instrument using
// B-trees with a secondary index for O(log n) removal by order ID. It is not
// safe for concurrent mutation; the matching engine serializes access.
type OrderBook struct {
	instrument string
	bids       *btree.BTreeG[OrderBookEntry]
	asks       *btree.BTreeG[OrderBookEntry]
	index      map[string]OrderBookEntry // order_id → entry
}

// NewOrderBook creates an order book for the given instrument.
func NewOrderBook(instrument string) *OrderBook {
	const degree = 32
	return &OrderBook{
		instrument: instrument,
		bids:       btree.NewG[OrderBookEntry](degree, bidLess),
		asks:       btree.NewG[OrderBookEntry](degree, askLess),
		index:      make(map[string]OrderBookEntry),
	}
}

// Instrument returns the instrument this book trades.
func (ob *OrderBook) Instrument() string {
	return ob.instrument
}

func (ob *OrderBook) side(s domain.OrderSide) *btree.BTreeG[OrderBookEntry] {
	if s == domain.OrderSideBuy {
		return ob.bids
	}
	return ob.asks
}

// AddResting places o on its side of the book. The order must already be
// in a resting state, carry a positive price and have quantity left.
func (ob *OrderBook) AddResting(o *domain.Order) error {
	switch {
	case !o.State.Resting():
		return fmt.Errorf("order %s: cannot rest in state %s", o.OrderID, o.State)
	case o.Price <= 0:
		return fmt.Errorf("order %s: cannot rest without a price", o.OrderID)
	case o.RemainingQuantity <= 0:
		return fmt.Errorf("order %s: cannot rest with remaining quantity %d", o.OrderID, o.RemainingQuantity)
	case o.Instrument != ob.instrument:
		return fmt.Errorf("order %s: instrument %s on %s book", o.OrderID, o.Instrument, ob.instrument)
	}
	if _, ok := ob.index[o.OrderID]; ok {
		return fmt.Errorf("order %s: already on the book", o.OrderID)
	}
	entry := OrderBookEntry{
		Price:     o.Price,
		CreatedAt: o.CreatedAt,
		Seq:       o.Seq,
		OrderID:   o.OrderID,
		Order:     o,
	}
	ob.side(o.Side).ReplaceOrInsert(entry)
	ob.index[o.OrderID] = entry
	return nil
}

// PeekBest returns the highest-priority entry on side without removing it.
func (ob *OrderBook) PeekBest(side domain.OrderSide) (OrderBookEntry, bool) {
	return ob.side(side).Min()
}

// PopBest removes and returns the highest-priority entry on side.
func (ob *OrderBook) PopBest(side domain.OrderSide) (OrderBookEntry, bool) {
	entry, ok := ob.side(side).DeleteMin()
	if ok {
		delete(ob.index, entry.OrderID)
	}
	return entry, ok
}

// Remove deletes an order from the book by order ID using the
// secondary index. It reports whether the order was on the book.
func (ob *OrderBook) Remove(orderID string) bool {
	entry, ok := ob.index[orderID]
	if !ok {
		return false
	}
	delete(ob.index, orderID)
	ob.side(entry.Order.Side).Delete(entry)
	return true
}

// RemoveAllForAgent takes every order owned by agentID off the book and
// returns them in submission order. The caller cancels them and releases
// their reservations.
func (ob *OrderBook) RemoveAllForAgent(agentID string) []*domain.Order {
	var removed []*domain.Order
	for id, entry := range ob.index {
		if entry.Order.AgentID != agentID {
			continue
		}
		delete(ob.index, id)
		ob.side(entry.Order.Side).Delete(entry)
		removed = append(removed, entry.Order)
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].Seq < removed[j].Seq })
	return removed
}

// Contains reports whether the order is on the book.
func (ob *OrderBook) Contains(orderID string) bool {
	_, ok := ob.index[orderID]
	return ok
}

// BestBid returns the highest bid price.
func (ob *OrderBook) BestBid() (int64, bool) {
	e, ok := ob.bids.Min()
	return e.Price, ok
}

// BestAsk returns the lowest ask price.
func (ob *OrderBook) BestAsk() (int64, bool) {
	e, ok := ob.asks.Min()
	return e.Price, ok
}

// Midpoint returns the average of best bid and best ask when both exist.
func (ob *OrderBook) Midpoint() (int64, bool) {
	bid, okb := ob.BestBid()
	ask, oka := ob.BestAsk()
	if !okb || !oka {
		return 0, false
	}
	return domain.Midpoint(bid, ask), true
}

// BookPrice is the price implied by the book alone: the best ask if there
// is one, otherwise the best bid.
func (ob *OrderBook) BookPrice() (int64, bool) {
	if ask, ok := ob.BestAsk(); ok {
		return ask, true
	}
	return ob.BestBid()
}

// Crossed reports whether the best bid is at or above the best ask.
func (ob *OrderBook) Crossed() bool {
	bid, okb := ob.BestBid()
	ask, oka := ob.BestAsk()
	return okb && oka && bid >= ask
}

// Crosses reports whether a limit order on side at price would trade
// against the opposite side.
func (ob *OrderBook) Crosses(side domain.OrderSide, price int64) bool {
	if side == domain.OrderSideBuy {
		ask, ok := ob.BestAsk()
		return ok && price >= ask
	}
	bid, ok := ob.BestBid()
	return ok && price <= bid
}

// TopBids returns up to n aggregated price levels from the bid side,
// ordered by price descending.
func (ob *OrderBook) TopBids(n int) []PriceLevel {
	return topLevels(ob.bids, n)
}

// TopAsks returns up to n aggregated price levels from the ask side,
// ordered by price ascending.
func (ob *OrderBook) TopAsks(n int) []PriceLevel {
	return topLevels(ob.asks, n)
}

// AggregatedLevels returns every price level, bids descending and asks
// ascending.
func (ob *OrderBook) AggregatedLevels() (bids, asks []PriceLevel) {
	return topLevels(ob.bids, ob.bids.Len()), topLevels(ob.asks, ob.asks.Len())
}

// topLevels iterates the B-tree in order and aggregates entries into
// at most n price levels.
func topLevels(tree *btree.BTreeG[OrderBookEntry], n int) []PriceLevel {
	if n <= 0 {
		return []PriceLevel{}
	}
	levels := make([]PriceLevel, 0, n)
	tree.Ascend(func(entry OrderBookEntry) bool {
		if len(levels) > 0 && levels[len(levels)-1].Price == entry.Price {
			levels[len(levels)-1].TotalQuantity += entry.Order.RemainingQuantity
			levels[len(levels)-1].OrderCount++
			return true
		}
		if len(levels) >= n {
			return false
		}
		levels = append(levels, PriceLevel{
			Price:         entry.Price,
			TotalQuantity: entry.Order.RemainingQuantity,
			OrderCount:    1,
		})
		return true
	})
	return levels
}

// EstimateCost walks the side opposite to side without mutating it and
// returns the notional and quantity a market order of quantity could fill
// at current depth.
func (ob *OrderBook) EstimateCost(quantity int64, side domain.OrderSide) (notional, fillable int64) {
	remaining := quantity
	ob.side(side.Opposite()).Ascend(func(entry OrderBookEntry) bool {
		if remaining <= 0 {
			return false
		}
		fill := min(remaining, entry.Order.RemainingQuantity)
		notional += entry.Price * fill
		fillable += fill
		remaining -= fill
		return remaining > 0
	})
	return notional, fillable
}

// WalkAsks iterates asks in order (lowest price first). The callback
// returns true to continue, false to stop.
func (ob *OrderBook) WalkAsks(fn func(OrderBookEntry) bool) {
	ob.asks.Ascend(fn)
}

// WalkBids iterates bids in order (highest price first). The callback
// returns true to continue, false to stop.
func (ob *OrderBook) WalkBids(fn func(OrderBookEntry) bool) {
	ob.bids.Ascend(fn)
}

// BidCount returns the number of individual bid orders on the book.
func (ob *OrderBook) BidCount() int {
	return ob.bids.Len()
}

// AskCount returns the number of individual ask orders on the book.
func (ob *OrderBook) AskCount() int {
	return ob.asks.Len()
}

// BookSnapshot is a point-in-time view of one book.
type BookSnapshot struct {
	Instrument string       `json:"instrument"`
	BestBid    *int64       `json:"best_bid"`
	BestAsk    *int64       `json:"best_ask"`
	Midpoint   *int64       `json:"midpoint"`
	Bids       []PriceLevel `json:"bids"`
	Asks       []PriceLevel `json:"asks"`
}

// Snapshot copies the book's top of book and up to depth levels per side;
// depth <= 0 copies every level.
func (ob *OrderBook) Snapshot(depth int) BookSnapshot {
	s := BookSnapshot{Instrument: ob.instrument}
	if bid, ok := ob.BestBid(); ok {
		s.BestBid = &bid
	}
	if ask, ok := ob.BestAsk(); ok {
		s.BestAsk = &ask
	}
	if mid, ok := ob.Midpoint(); ok {
		s.Midpoint = &mid
	}
	if depth <= 0 {
		s.Bids, s.Asks = ob.AggregatedLevels()
	} else {
		s.Bids, s.Asks = ob.TopBids(depth), ob.TopAsks(depth)
	}
	return s
}

// BookManager is a thread-safe map of instrument → OrderBook.
type BookManager struct {
	mu    sync.RWMutex
	books map[string]*OrderBook
}

// NewBookManager creates a new BookManager.
func NewBookManager() *BookManager {
	return &BookManager{
		books: make(map[string]*OrderBook),
	}
}

// GetOrCreate returns the order book for the given instrument, creating
// one if it doesn't already exist.
func (bm *BookManager) GetOrCreate(instrument string) *OrderBook {
	bm.mu.RLock()
	book, ok := bm.books[instrument]
	bm.mu.RUnlock()
	if ok {
		return book
	}

	bm.mu.Lock()
	defer bm.mu.Unlock()
	// Double-check after acquiring write lock.
	if book, ok = bm.books[instrument]; ok {
		return book
	}
	book = NewOrderBook(instrument)
	bm.books[instrument] = book
	return book
}

// Instruments returns the instruments that have a book, sorted.
func (bm *BookManager) Instruments() []string {
	bm.mu.RLock()
	defer bm.mu.RUnlock()
	out := make([]string, 0, len(bm.books))
	for k := range bm.books {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
