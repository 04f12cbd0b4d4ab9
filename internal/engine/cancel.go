package engine

import (
	"log/slog"

	"github.com/efreitasn/marketsim/internal/domain"
)

// CancelOrder cancels a non-terminal order: it leaves the book, its
// reservation is released in one step and its remaining quantity becomes
// cancelled quantity.
//
// Returns ErrOrderNotFound if the order does not exist.
// Returns ErrOrderNotCancellable if the order is already FILLED or
// CANCELLED; nothing is released twice.
func (m *Matcher) CancelOrder(orderID, reason string) (*domain.Order, error) {
	o, err := m.orders.Get(orderID)
	if err != nil {
		return nil, domain.ErrOrderNotFound
	}
	if o.IsTerminal() {
		return nil, domain.ErrOrderNotCancellable
	}
	if err := m.cancel(o, reason); err != nil {
		return nil, err
	}
	return o, nil
}

// CancelAll cancels every open order of agentID, resting ones first, and
// returns them.
func (m *Matcher) CancelAll(agentID, reason string) ([]*domain.Order, error) {
	var cancelled []*domain.Order
	for _, inst := range m.books.Instruments() {
		for _, o := range m.books.GetOrCreate(inst).RemoveAllForAgent(agentID) {
			if err := m.cancel(o, reason); err != nil {
				return cancelled, err
			}
			cancelled = append(cancelled, o)
		}
	}
	for _, o := range m.orders.OpenByAgent(agentID) {
		if err := m.cancel(o, reason); err != nil {
			return cancelled, err
		}
		cancelled = append(cancelled, o)
	}
	return cancelled, nil
}

func (m *Matcher) cancel(o *domain.Order, reason string) error {
	m.books.GetOrCreate(o.Instrument).Remove(o.OrderID)
	m.expiry.Remove(o.OrderID)
	if err := m.ledger.ReleaseAll(o); err != nil {
		return err
	}
	o.CancelledQuantity += o.RemainingQuantity
	o.RemainingQuantity = 0
	if err := m.orders.Transition(o, domain.OrderStateCancelled, reason); err != nil {
		return err
	}
	m.logger.Debug("order cancelled",
		slog.String("order_id", o.OrderID),
		slog.String("agent_id", o.AgentID),
		slog.String("reason", reason),
	)
	return nil
}
