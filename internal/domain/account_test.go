package domain

import (
	"testing"
	"time"
)

func TestAccount_AvailableCash(t *testing.T) {
	a := NewAccount("a1", 100000, time.Now())
	a.CommittedCash = 30000
	if got := a.AvailableCash(); got != 70000 {
		t.Errorf("AvailableCash() = %d, want 70000", got)
	}
}

func TestAccount_AvailableShares(t *testing.T) {
	a := NewAccount("a1", 0, time.Now())
	if got := a.AvailableShares("ACME"); got != 0 {
		t.Errorf("AvailableShares() on missing position = %d, want 0", got)
	}
	p := a.Position("ACME")
	p.Quantity = 100
	p.Committed = 40
	if got := a.AvailableShares("ACME"); got != 60 {
		t.Errorf("AvailableShares() = %d, want 60", got)
	}
}

func TestPosition_ShortAndNet(t *testing.T) {
	p := &Position{Quantity: 10, Borrowed: 50, BorrowedCommitted: 20}
	if got := p.Short(); got != 30 {
		t.Errorf("Short() = %d, want 30", got)
	}
	if got := p.Net(); got != -20 {
		t.Errorf("Net() = %d, want -20", got)
	}
}

func TestAccount_BalanceSortedCopy(t *testing.T) {
	a := NewAccount("a1", 5000, time.Now())
	a.Position("ZETA").Quantity = 1
	a.Position("ACME").Quantity = 2
	b := a.Balance()
	if len(b.Positions) != 2 || b.Positions[0].Instrument != "ACME" {
		t.Fatalf("positions not sorted: %+v", b.Positions)
	}
	a.Position("ACME").Quantity = 99
	if b.Positions[0].Quantity != 2 {
		t.Error("Balance() must copy positions")
	}
}

func TestInstrumentRegistry(t *testing.T) {
	r := NewInstrumentRegistry("ACME")
	r.Register("BOLT")
	if !r.Exists("ACME") || !r.Exists("BOLT") || r.Exists("NOPE") {
		t.Error("unexpected Exists() results")
	}
	got := r.List()
	if len(got) != 2 || got[0] != "ACME" || got[1] != "BOLT" {
		t.Errorf("List() = %v", got)
	}
}
