package store

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/efreitasn/marketsim/internal/domain"
)

func newTestStore() *OrderStore {
	return NewOrderStore(domain.NewRoundClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), time.Minute))
}

func newTestOrder(id, agentID string) *domain.Order {
	return &domain.Order{
		OrderID:           id,
		Type:              domain.OrderTypeLimit,
		AgentID:           agentID,
		Side:              domain.OrderSideBuy,
		Instrument:        "ACME",
		Price:             5000,
		Quantity:          10,
		RemainingQuantity: 10,
	}
}

// walk moves o through the given states, failing the test on error.
func walk(t *testing.T, s *OrderStore, o *domain.Order, states ...domain.OrderState) {
	t.Helper()
	for _, st := range states {
		if err := s.Transition(o, st, ""); err != nil {
			t.Fatalf("transition to %s: %v", st, err)
		}
	}
}

func TestOrderStore_Create_and_Get(t *testing.T) {
	s := newTestStore()
	o := newTestOrder("order-1", "agent-1")

	if err := s.Create(o); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	got, err := s.Get("order-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got.State != domain.OrderStateInput {
		t.Fatalf("expected state input, got %s", got.State)
	}
	if got.Seq != 1 {
		t.Fatalf("expected seq 1, got %d", got.Seq)
	}
	if got.CreatedAt.IsZero() {
		t.Fatal("expected created_at to be stamped")
	}
	if len(got.History) != 1 || got.History[0].From != "" || got.History[0].To != domain.OrderStateInput {
		t.Fatalf("expected a single entry into input, got %+v", got.History)
	}
}

func TestOrderStore_Create_RejectsDuplicateAndNonInput(t *testing.T) {
	s := newTestStore()
	if err := s.Create(newTestOrder("order-1", "agent-1")); err != nil {
		t.Fatal(err)
	}
	if err := s.Create(newTestOrder("order-1", "agent-1")); err == nil {
		t.Fatal("expected duplicate id error")
	}
	o := newTestOrder("order-2", "agent-1")
	o.State = domain.OrderStateActive
	if err := s.Create(o); err == nil {
		t.Fatal("expected error for order not in input state")
	}
}

func TestOrderStore_Get_NotFound(t *testing.T) {
	s := newTestStore()

	_, err := s.Get("no-such-order")
	if !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderStore_Transition_AppendsHistory(t *testing.T) {
	s := newTestStore()
	s.SetRound(4)
	o := newTestOrder("order-1", "agent-1")
	_ = s.Create(o)
	o.Cash.Reserve(50000)

	walk(t, s, o, domain.OrderStateValidated, domain.OrderStateCommitted, domain.OrderStatePending)

	if len(o.History) != 4 {
		t.Fatalf("expected 4 history entries, got %d", len(o.History))
	}
	last := o.History[3]
	if last.From != domain.OrderStateCommitted || last.To != domain.OrderStatePending {
		t.Errorf("unexpected last entry %s -> %s", last.From, last.To)
	}
	if last.Round != 4 || last.Cash.Current != 50000 || last.FillQuantity != 0 {
		t.Errorf("history snapshot = %+v", last)
	}
	if !o.History[2].At.After(o.History[1].At) {
		t.Error("history timestamps must increase")
	}
}

func TestOrderStore_Transition_IllegalEdge(t *testing.T) {
	s := newTestStore()
	o := newTestOrder("order-1", "agent-1")
	_ = s.Create(o)

	err := s.Transition(o, domain.OrderStateActive, "")
	var te *domain.TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransitionError, got %v", err)
	}
	if o.State != domain.OrderStateInput || len(o.History) != 1 {
		t.Fatal("failed transition must not mutate the order")
	}
}

func TestOrderStore_FillEntries(t *testing.T) {
	s := newTestStore()
	o := newTestOrder("order-1", "agent-1")
	_ = s.Create(o)
	walk(t, s, o, domain.OrderStateValidated, domain.OrderStateCommitted, domain.OrderStateLimitMatching)

	o.FilledQuantity, o.RemainingQuantity = 3, 7
	if err := s.TransitionFill(o, domain.OrderStatePartiallyFilled, 3, 4950, "first"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	o.FilledQuantity, o.RemainingQuantity = 5, 5
	s.NoteFill(o, 2, 4975, "second")

	first, second := o.History[len(o.History)-2], o.History[len(o.History)-1]
	if first.To != domain.OrderStatePartiallyFilled || first.FillQuantity != 3 || first.FillPrice != 4950 || first.FilledQuantity != 3 {
		t.Errorf("first fill entry = %+v", first)
	}
	if second.From != domain.OrderStatePartiallyFilled || second.To != domain.OrderStatePartiallyFilled {
		t.Errorf("second fill entry %s -> %s, want no state change", second.From, second.To)
	}
	if second.FillQuantity != 2 || second.FillPrice != 4975 || second.FilledQuantity != 5 || second.RemainingQuantity != 5 {
		t.Errorf("second fill entry = %+v", second)
	}
}

func TestOrderStore_Transition_UnknownOrder(t *testing.T) {
	s := newTestStore()
	o := newTestOrder("ghost", "agent-1")
	o.State = domain.OrderStateInput
	if err := s.Transition(o, domain.OrderStateValidated, ""); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderStore_InState(t *testing.T) {
	s := newTestStore()
	var orders []*domain.Order
	for i := 0; i < 4; i++ {
		o := newTestOrder(fmt.Sprintf("order-%d", i), "agent-1")
		_ = s.Create(o)
		orders = append(orders, o)
	}
	walk(t, s, orders[2], domain.OrderStateValidated)
	walk(t, s, orders[0], domain.OrderStateValidated)
	walk(t, s, orders[3], domain.OrderStateCancelled)

	validated := s.InState(domain.OrderStateValidated)
	if len(validated) != 2 || validated[0].OrderID != "order-0" || validated[1].OrderID != "order-2" {
		t.Fatalf("InState(validated) = %v, want order-0, order-2 in seq order", ids(validated))
	}
	if got := len(s.InState(domain.OrderStateInput)); got != 1 {
		t.Fatalf("expected 1 input order, got %d", got)
	}
	counts := s.CountByState()
	if counts[domain.OrderStateCancelled] != 1 || counts[domain.OrderStateValidated] != 2 {
		t.Fatalf("CountByState() = %v", counts)
	}
}

func TestOrderStore_OpenByAgent(t *testing.T) {
	s := newTestStore()
	a := newTestOrder("order-a", "agent-1")
	b := newTestOrder("order-b", "agent-1")
	c := newTestOrder("order-c", "agent-2")
	_ = s.Create(a)
	_ = s.Create(b)
	_ = s.Create(c)
	walk(t, s, a, domain.OrderStateCancelled)

	open := s.OpenByAgent("agent-1")
	if len(open) != 1 || open[0].OrderID != "order-b" {
		t.Fatalf("OpenByAgent() = %v", ids(open))
	}
}

func TestOrderStore_ListByAgent_ReverseChronological(t *testing.T) {
	s := newTestStore()
	for i := 0; i < 5; i++ {
		_ = s.Create(newTestOrder(fmt.Sprintf("order-%d", i), "agent-1"))
	}

	orders, total := s.ListByAgent("agent-1", nil, 1, 10)
	if total != 5 || len(orders) != 5 {
		t.Fatalf("expected 5 orders, got %d (total %d)", len(orders), total)
	}
	for i := 0; i < len(orders)-1; i++ {
		if orders[i].Seq < orders[i+1].Seq {
			t.Fatalf("orders not newest first at index %d", i)
		}
	}
}

func TestOrderStore_ListByAgent_StateFilterAndPagination(t *testing.T) {
	s := newTestStore()
	for i := 0; i < 10; i++ {
		o := newTestOrder(fmt.Sprintf("order-%d", i), "agent-1")
		_ = s.Create(o)
		if i%2 == 0 {
			walk(t, s, o, domain.OrderStateCancelled)
		}
	}

	cancelled := domain.OrderStateCancelled
	orders, total := s.ListByAgent("agent-1", &cancelled, 2, 2)
	if total != 5 {
		t.Fatalf("expected total 5 cancelled, got %d", total)
	}
	if len(orders) != 2 || orders[0].OrderID != "order-4" {
		t.Fatalf("page 2 = %v", ids(orders))
	}

	orders, total = s.ListByAgent("agent-1", &cancelled, 4, 2)
	if total != 5 || len(orders) != 0 {
		t.Fatalf("expected empty page beyond total, got %d", len(orders))
	}
}

func TestOrderStore_ConcurrentAccess(t *testing.T) {
	s := newTestStore()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			o := newTestOrder(fmt.Sprintf("order-%d", i), fmt.Sprintf("agent-%d", i%5))
			if err := s.Create(o); err != nil {
				t.Error(err)
				return
			}
			if err := s.Transition(o, domain.OrderStateValidated, ""); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	if got := len(s.InState(domain.OrderStateValidated)); got != 100 {
		t.Fatalf("expected 100 validated orders, got %d", got)
	}
	seen := make(map[uint64]bool)
	for _, o := range s.All() {
		if seen[o.Seq] {
			t.Fatalf("duplicate seq %d", o.Seq)
		}
		seen[o.Seq] = true
	}
	for a := 0; a < 5; a++ {
		_, total := s.ListByAgent(fmt.Sprintf("agent-%d", a), nil, 1, 100)
		if total != 20 {
			t.Fatalf("agent-%d expected 20 orders, got %d", a, total)
		}
	}
}

func ids(orders []*domain.Order) []string {
	out := make([]string, len(orders))
	for i, o := range orders {
		out[i] = o.OrderID
	}
	return out
}
