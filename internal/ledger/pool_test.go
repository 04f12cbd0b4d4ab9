package ledger

import (
	"testing"

	"pgregory.net/rapid"
)

func TestPool_AllocateAllOrNothing(t *testing.T) {
	p := NewPool("ACME", 30)
	if got := p.Allocate("a", 50, false); got != 0 {
		t.Fatalf("Allocate(50, false) = %d, want 0", got)
	}
	if p.Available() != 30 {
		t.Fatalf("failed allocation changed the pool: available %d", p.Available())
	}
	if got := p.Allocate("a", 20, false); got != 20 {
		t.Fatalf("Allocate(20, false) = %d, want 20", got)
	}
	if p.BorrowedBy("a") != 20 || p.Available() != 10 {
		t.Fatalf("unexpected pool state: borrowed %d available %d", p.BorrowedBy("a"), p.Available())
	}
}

func TestPool_AllocatePartial(t *testing.T) {
	p := NewPool("ACME", 30)
	if got := p.Allocate("a", 50, true); got != 30 {
		t.Fatalf("Allocate(50, true) = %d, want 30", got)
	}
	if p.Available() != 0 {
		t.Fatalf("expected empty pool, available %d", p.Available())
	}
}

func TestPool_ReleaseMoreThanBorrowed(t *testing.T) {
	p := NewPool("ACME", 30)
	p.Allocate("a", 10, false)
	if err := p.Release("a", 11); err == nil {
		t.Fatal("expected error releasing more than borrowed")
	}
	if err := p.Release("b", 1); err == nil {
		t.Fatal("expected error releasing for an agent with no loan")
	}
	if err := p.Release("a", 10); err != nil {
		t.Fatalf("Release() unexpected error: %v", err)
	}
	if len(p.Borrowers()) != 0 || p.Available() != 30 {
		t.Fatal("pool not restored after full release")
	}
}

// Property 1: available + Σ borrowed == total after any sequence of
// allocations and releases.
func TestProperty_PoolConservation(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		total := rapid.Int64Range(0, 1000).Draw(t, "total")
		p := NewPool("ACME", total)
		agents := []string{"a", "b", "c"}
		steps := rapid.IntRange(1, 60).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			agent := rapid.SampledFrom(agents).Draw(t, "agent")
			if rapid.Bool().Draw(t, "allocate") {
				qty := rapid.Int64Range(0, 300).Draw(t, "qty")
				before := p.Available()
				got := p.Allocate(agent, qty, rapid.Bool().Draw(t, "partial"))
				if got < 0 || got > qty || got > before {
					t.Fatalf("Allocate(%d) granted %d with %d available", qty, got, before)
				}
			} else {
				owed := p.BorrowedBy(agent)
				qty := rapid.Int64Range(0, owed+5).Draw(t, "release")
				err := p.Release(agent, qty)
				if (err != nil) != (qty > owed) {
					t.Fatalf("Release(%d) with %d owed returned %v", qty, owed, err)
				}
			}
			if err := p.Check(); err != nil {
				t.Fatal(err)
			}
		}
	})
}
