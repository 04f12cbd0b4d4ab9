package service

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/efreitasn/marketsim/internal/domain"
)

type testServices struct {
	*Services
	clock *domain.RoundClock
	round int
}

func newTestServices(t *testing.T, lendable int64) *testServices {
	t.Helper()
	return newLeveragedTestServices(t, lendable, 0)
}

// newLeveragedTestServices also opens a cash lending pool of lendableCash
// cents.
func newLeveragedTestServices(t *testing.T, lendable, lendableCash int64) *testServices {
	t.Helper()
	clock := domain.NewRoundClock(time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC), time.Minute)
	svc, err := New(Config{
		Instruments:        map[string]int64{"ACME": 5000, "BOLT": 1200},
		LendableShares:     lendable,
		LendableCash:       lendableCash,
		AllowPartialBorrow: true,
		IDs:                domain.NewSeededIDs(7),
		Clock:              clock,
		Logger:             slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return &testServices{Services: svc, clock: clock}
}

func (s *testServices) register(t *testing.T, id string, cash, acme int64, short bool) {
	t.Helper()
	req := RegisterAgentRequest{AgentID: id, InitialCash: cash, AllowShort: short}
	if acme > 0 {
		req.Holdings = []HoldingInput{{Instrument: "ACME", Quantity: acme}}
	}
	if _, err := s.Accounts.Register(req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func (s *testServices) submit(t *testing.T, in domain.OrderIntent) *domain.Order {
	t.Helper()
	o, err := s.Orders.Submit(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return o
}

// next begins the next round.
func (s *testServices) next() {
	s.round++
	s.clock.SetRound(s.round)
	s.Market.BeginRound(s.round)
}

func (s *testServices) run(t *testing.T) *RoundReport {
	t.Helper()
	report, err := s.Market.RunRound(s.round)
	if err != nil {
		t.Fatalf("round %d: %v", s.round, err)
	}
	if err := s.Accounts.Check(); err != nil {
		t.Fatalf("round %d: %v", s.round, err)
	}
	return report
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error for no instruments")
	}
	if _, err := New(Config{Instruments: map[string]int64{"acme": 100}}); err == nil {
		t.Error("expected error for lowercase instrument")
	}
	if _, err := New(Config{Instruments: map[string]int64{"ACME": 0}}); err == nil {
		t.Error("expected error for zero reference price")
	}
}

func TestNew_WiresPools(t *testing.T) {
	s := newTestServices(t, 40)
	for _, inst := range []string{"ACME", "BOLT"} {
		p := s.Ledger.BorrowPool(inst)
		if p == nil {
			t.Fatalf("no borrow pool for %s", inst)
		}
		if p.Total() != 40 {
			t.Errorf("got pool total %d, want 40", p.Total())
		}
	}
	if s.Ledger.CashPool() != nil {
		t.Error("cash pool must be nil when LendableCash is 0")
	}
	if got := s.Market.Instruments(); len(got) != 2 || got[0] != "ACME" || got[1] != "BOLT" {
		t.Errorf("got instruments %v", got)
	}
}
