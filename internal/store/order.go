package store

import (
	"fmt"
	"sort"
	"sync"

	"github.com/efreitasn/marketsim/internal/domain"
)

// OrderStore is the order ledger: a thread-safe in-memory store with a
// primary index by order_id, a secondary index by agent_id and a state
// index. It is the only place an order's State changes.
type OrderStore struct {
	mu          sync.RWMutex
	clock       domain.Clock
	orders      map[string]*domain.Order
	agentOrders map[string][]*domain.Order // agent_id → orders (append-only)
	byState     map[domain.OrderState]map[string]*domain.Order
	seq         uint64
	round       int
}

// NewOrderStore creates an empty OrderStore. History entries are stamped
// with clock.
func NewOrderStore(clock domain.Clock) *OrderStore {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &OrderStore{
		clock:       clock,
		orders:      make(map[string]*domain.Order),
		agentOrders: make(map[string][]*domain.Order),
		byState:     make(map[domain.OrderState]map[string]*domain.Order),
	}
}

// SetRound sets the round recorded on subsequent history entries.
func (s *OrderStore) SetRound(round int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.round = round
}

// Round returns the current round.
func (s *OrderStore) Round() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.round
}

// Create adds a new order in the INPUT state, assigns its sequence number,
// records the initial history entry and appends it to the agent's secondary
// index.
func (s *OrderStore) Create(o *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if o.State == "" {
		o.State = domain.OrderStateInput
	}
	if o.State != domain.OrderStateInput {
		return fmt.Errorf("order %s: new orders must start in %s, got %s", o.OrderID, domain.OrderStateInput, o.State)
	}
	if _, exists := s.orders[o.OrderID]; exists {
		return fmt.Errorf("order %s: duplicate order id", o.OrderID)
	}

	s.seq++
	o.Seq = s.seq
	o.Round = s.round
	if o.CreatedAt.IsZero() {
		o.CreatedAt = s.clock.Now()
	}

	o.History = append(o.History, o.Snapshot(s.clock.Now(), s.round, "", domain.OrderStateInput, ""))
	s.orders[o.OrderID] = o
	s.agentOrders[o.AgentID] = append(s.agentOrders[o.AgentID], o)
	s.index(o)
	return nil
}

// Transition moves o to state to, appending a history entry. It returns a
// *domain.TransitionError without mutating anything if the edge is not in
// the lifecycle graph.
func (s *OrderStore) Transition(o *domain.Order, to domain.OrderState, note string) error {
	return s.transition(o, to, 0, 0, note)
}

// TransitionFill is Transition for a state change caused by a fill of qty
// shares at price.
func (s *OrderStore) TransitionFill(o *domain.Order, to domain.OrderState, qty, price int64, note string) error {
	return s.transition(o, to, qty, price, note)
}

func (s *OrderStore) transition(o *domain.Order, to domain.OrderState, qty, price int64, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	from := o.State
	if !domain.CanTransition(from, to) {
		return &domain.TransitionError{OrderID: o.OrderID, From: from, To: to}
	}
	if cur, ok := s.orders[o.OrderID]; !ok || cur != o {
		return fmt.Errorf("order %s: %w", o.OrderID, domain.ErrOrderNotFound)
	}

	s.unindex(o)
	o.State = to
	h := o.Snapshot(s.clock.Now(), s.round, from, to, note)
	h.FillQuantity, h.FillPrice = qty, price
	o.History = append(o.History, h)
	s.index(o)
	return nil
}

// Note appends a history entry without changing state, used to record
// reservation changes that happen inside a state.
func (s *OrderStore) Note(o *domain.Order, note string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o.History = append(o.History, o.Snapshot(s.clock.Now(), s.round, o.State, o.State, note))
}

// NoteFill records a fill of qty shares at price that leaves the state
// unchanged.
func (s *OrderStore) NoteFill(o *domain.Order, qty, price int64, note string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := o.Snapshot(s.clock.Now(), s.round, o.State, o.State, note)
	h.FillQuantity, h.FillPrice = qty, price
	o.History = append(o.History, h)
}

func (s *OrderStore) index(o *domain.Order) {
	m, ok := s.byState[o.State]
	if !ok {
		m = make(map[string]*domain.Order)
		s.byState[o.State] = m
	}
	m[o.OrderID] = o
}

func (s *OrderStore) unindex(o *domain.Order) {
	if m, ok := s.byState[o.State]; ok {
		delete(m, o.OrderID)
	}
}

// Get retrieves an order by ID. It returns
// domain.ErrOrderNotFound if the order does not exist.
func (s *OrderStore) Get(id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return o, nil
}

// InState returns the orders currently in state, in submission order.
func (s *OrderStore) InState(state domain.OrderState) []*domain.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m := s.byState[state]
	out := make([]*domain.Order, 0, len(m))
	for _, o := range m {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// CountByState returns the number of orders in each state.
func (s *OrderStore) CountByState() map[domain.OrderState]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[domain.OrderState]int, len(s.byState))
	for st, m := range s.byState {
		if len(m) > 0 {
			out[st] = len(m)
		}
	}
	return out
}

// OpenByAgent returns the agent's non-terminal orders in submission order.
func (s *OrderStore) OpenByAgent(agentID string) []*domain.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Order
	for _, o := range s.agentOrders[agentID] {
		if !o.State.IsTerminal() {
			out = append(out, o)
		}
	}
	return out
}

// All returns every order in submission order.
func (s *OrderStore) All() []*domain.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// ListByAgent returns orders for an agent in reverse chronological order
// (newest first). If state is non-nil, only orders in that state are
// included. Pagination is 1-based. Returns the matching orders for the
// requested page and the total count of matching orders (before pagination).
func (s *OrderStore) ListByAgent(agentID string, state *domain.OrderState, page, limit int) ([]*domain.Order, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.agentOrders[agentID]

	filtered := make([]*domain.Order, 0)
	for i := len(all) - 1; i >= 0; i-- {
		if state != nil && all[i].State != *state {
			continue
		}
		filtered = append(filtered, all[i])
	}

	total := len(filtered)

	start := (page - 1) * limit
	if start >= total {
		return []*domain.Order{}, total
	}
	end := start + limit
	if end > total {
		end = total
	}

	return filtered[start:end], total
}
