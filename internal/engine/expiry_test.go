package engine

import (
	"testing"

	"github.com/efreitasn/marketsim/internal/domain"
)

func newExpiringOrder(id string, expiresRound int) *domain.Order {
	return &domain.Order{OrderID: id, ExpiresRound: expiresRound}
}

func TestExpiryManager_Add_MaintainsSortOrder(t *testing.T) {
	em := NewExpiryManager()
	em.Add(newExpiringOrder("c", 3))
	em.Add(newExpiringOrder("a", 1))
	em.Add(newExpiringOrder("b", 2))
	em.Add(newExpiringOrder("a2", 1))

	want := []string{"a", "a2", "b", "c"}
	if em.ActiveOrderCount() != len(want) {
		t.Fatalf("expected %d tracked, got %d", len(want), em.ActiveOrderCount())
	}
	for i, id := range want {
		if em.activeOrders[i].OrderID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, em.activeOrders[i].OrderID)
		}
	}
}

func TestExpiryManager_Add_IgnoresGoodTillCancelledAndDuplicates(t *testing.T) {
	em := NewExpiryManager()
	em.Add(newExpiringOrder("gtc", 0))
	o := newExpiringOrder("x", 2)
	em.Add(o)
	em.Add(o)
	if em.ActiveOrderCount() != 1 {
		t.Errorf("expected 1 tracked order, got %d", em.ActiveOrderCount())
	}
}

func TestExpiryManager_Remove(t *testing.T) {
	em := NewExpiryManager()
	em.Add(newExpiringOrder("a", 1))
	em.Add(newExpiringOrder("b", 2))
	em.Remove("a")
	em.Remove("missing")
	if em.ActiveOrderCount() != 1 || em.activeOrders[0].OrderID != "b" {
		t.Errorf("unexpected tracked orders after remove")
	}
}

func TestExpiryManager_Due(t *testing.T) {
	em := NewExpiryManager()
	em.Add(newExpiringOrder("a", 1))
	em.Add(newExpiringOrder("b", 2))
	em.Add(newExpiringOrder("c", 4))

	if due := em.Due(0); len(due) != 0 {
		t.Errorf("expected nothing due at round 0, got %d", len(due))
	}
	due := em.Due(2)
	if len(due) != 2 || due[0].OrderID != "a" || due[1].OrderID != "b" {
		t.Fatalf("expected [a b] due, got %v", due)
	}
	if em.ActiveOrderCount() != 1 {
		t.Errorf("expected 1 left, got %d", em.ActiveOrderCount())
	}
}

func TestExpireOrders_CancelsRestingOrders(t *testing.T) {
	env := newTestEnv(0)
	buyer := env.account("buyer", 100000, 0)

	o := env.limit(t, "buyer", domain.OrderSideBuy, 10, 5000)
	o.ExpiresRound = 3
	if err := env.m.MatchLimitOrder(o); err != nil {
		t.Fatal(err)
	}
	gtc := env.rest(t, "buyer", domain.OrderSideBuy, 1, 4000)

	expired, err := env.m.ExpireOrders(2)
	if err != nil || len(expired) != 0 {
		t.Fatalf("expected nothing expired at round 2, got %d (%v)", len(expired), err)
	}
	expired, err = env.m.ExpireOrders(3)
	if err != nil {
		t.Fatalf("ExpireOrders: %v", err)
	}
	if len(expired) != 1 || expired[0] != o {
		t.Fatalf("expected the order to expire, got %v", expired)
	}
	if o.State != domain.OrderStateCancelled || env.book().Contains(o.OrderID) {
		t.Error("expired order must be cancelled and off the book")
	}
	if o.History[len(o.History)-1].Note != "expired" {
		t.Errorf("expected expiry note, got %q", o.History[len(o.History)-1].Note)
	}
	if buyer.CommittedCash != 4000 {
		t.Errorf("expected only the good-till-cancelled reservation left, got %d", buyer.CommittedCash)
	}
	if gtc.State != domain.OrderStateActive {
		t.Errorf("good-till-cancelled order must stay active, got %s", gtc.State)
	}
}

func TestExpireOrders_SkipsFilledOrders(t *testing.T) {
	env := newTestEnv(0)
	env.account("buyer", 100000, 0)
	env.account("seller", 0, 10)

	sell := env.limit(t, "seller", domain.OrderSideSell, 10, 5000)
	sell.ExpiresRound = 1
	if err := env.m.MatchLimitOrder(sell); err != nil {
		t.Fatal(err)
	}
	env.rest(t, "buyer", domain.OrderSideBuy, 10, 5000)
	if env.m.Expiry().ActiveOrderCount() != 0 {
		t.Error("filled order should stop being tracked")
	}

	expired, err := env.m.ExpireOrders(1)
	if err != nil || len(expired) != 0 {
		t.Errorf("expected nothing expired, got %d (%v)", len(expired), err)
	}
	if sell.State != domain.OrderStateFilled {
		t.Errorf("expected filled, got %s", sell.State)
	}
}

func TestExpireOrders_PartiallyFilledOrder(t *testing.T) {
	env := newTestEnv(0)
	env.account("buyer", 100000, 0)
	seller := env.account("seller", 0, 10)

	sell := env.limit(t, "seller", domain.OrderSideSell, 10, 5000)
	sell.ExpiresRound = 1
	if err := env.m.MatchLimitOrder(sell); err != nil {
		t.Fatal(err)
	}
	env.rest(t, "buyer", domain.OrderSideBuy, 3, 5000)

	expired, err := env.m.ExpireOrders(1)
	if err != nil || len(expired) != 1 {
		t.Fatalf("expected one expired order, got %d (%v)", len(expired), err)
	}
	if sell.FilledQuantity != 3 || sell.CancelledQuantity != 7 {
		t.Errorf("filled %d cancelled %d", sell.FilledQuantity, sell.CancelledQuantity)
	}
	if seller.Position("ACME").Committed != 0 || seller.Position("ACME").Quantity != 7 {
		t.Errorf("unexpected seller position %+v", seller.Position("ACME"))
	}
}
