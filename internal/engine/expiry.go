package engine

import (
	"sort"

	"github.com/efreitasn/marketsim/internal/domain"
)

// ExpiryManager tracks resting limit orders sorted by the round they
// expire in.
type ExpiryManager struct {
	activeOrders []*domain.Order // sorted by ExpiresRound ASC
}

// NewExpiryManager creates an empty ExpiryManager.
func NewExpiryManager() *ExpiryManager {
	return &ExpiryManager{
		activeOrders: make([]*domain.Order, 0),
	}
}

// Add inserts an order into the sorted activeOrders slice, maintaining
// ExpiresRound ASC order. Orders without an expiry are ignored.
func (e *ExpiryManager) Add(order *domain.Order) {
	if order.ExpiresRound <= 0 {
		return
	}
	for _, o := range e.activeOrders {
		if o.OrderID == order.OrderID {
			return
		}
	}
	idx := sort.Search(len(e.activeOrders), func(i int) bool {
		return e.activeOrders[i].ExpiresRound > order.ExpiresRound
	})
	e.activeOrders = append(e.activeOrders, nil)
	copy(e.activeOrders[idx+1:], e.activeOrders[idx:])
	e.activeOrders[idx] = order
}

// Remove deletes an order from the activeOrders slice by order ID.
func (e *ExpiryManager) Remove(orderID string) {
	for i, o := range e.activeOrders {
		if o.OrderID == orderID {
			e.activeOrders = append(e.activeOrders[:i], e.activeOrders[i+1:]...)
			return
		}
	}
}

// Due removes and returns the orders whose ExpiresRound is at or before
// round, in expiry order.
func (e *ExpiryManager) Due(round int) []*domain.Order {
	cutoff := 0
	for cutoff < len(e.activeOrders) && e.activeOrders[cutoff].ExpiresRound <= round {
		cutoff++
	}
	due := make([]*domain.Order, cutoff)
	copy(due, e.activeOrders[:cutoff])
	e.activeOrders = e.activeOrders[cutoff:]
	return due
}

// ActiveOrderCount returns the number of orders currently tracked for
// expiration.
func (e *ExpiryManager) ActiveOrderCount() int {
	return len(e.activeOrders)
}

// ExpireOrders cancels every tracked order due by round that is still
// open and returns them.
func (m *Matcher) ExpireOrders(round int) ([]*domain.Order, error) {
	var expired []*domain.Order
	for _, o := range m.expiry.Due(round) {
		if o.IsTerminal() {
			continue
		}
		if err := m.cancel(o, "expired"); err != nil {
			return expired, err
		}
		expired = append(expired, o)
	}
	return expired, nil
}
