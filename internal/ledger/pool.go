package ledger

import (
	"fmt"
	"sort"
	"sync"
)

// Pool is a finite lending pool. The borrow pool lends shares of one
// instrument; the cash pool lends cents. Available plus everything lent out
// always equals Total.
type Pool struct {
	mu        sync.Mutex
	name      string
	total     int64
	available int64
	borrowed  map[string]int64 // agent_id → outstanding
}

// NewPool creates a pool holding total units.
func NewPool(name string, total int64) *Pool {
	return &Pool{
		name:      name,
		total:     total,
		available: total,
		borrowed:  make(map[string]int64),
	}
}

// Name identifies the pool in logs and errors.
func (p *Pool) Name() string {
	return p.name
}

// Allocate lends up to qty units to agentID and returns the amount granted.
// Without allowPartial the request is all or nothing.
func (p *Pool) Allocate(agentID string, qty int64, allowPartial bool) int64 {
	if qty <= 0 {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	granted := qty
	if granted > p.available {
		if !allowPartial {
			return 0
		}
		granted = p.available
	}
	p.available -= granted
	p.borrowed[agentID] += granted
	return granted
}

// Release returns qty units borrowed by agentID. Returning more than the
// agent owes is an error and leaves the pool unchanged.
func (p *Pool) Release(agentID string, qty int64) error {
	if qty == 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if qty < 0 || qty > p.borrowed[agentID] {
		return fmt.Errorf("pool %s: agent %s returning %d, owes %d", p.name, agentID, qty, p.borrowed[agentID])
	}
	p.borrowed[agentID] -= qty
	if p.borrowed[agentID] == 0 {
		delete(p.borrowed, agentID)
	}
	p.available += qty
	return nil
}

// Available returns the units that can still be lent.
func (p *Pool) Available() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.available
}

// Total returns the pool size.
func (p *Pool) Total() int64 {
	return p.total
}

// BorrowedBy returns what agentID currently owes.
func (p *Pool) BorrowedBy(agentID string) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.borrowed[agentID]
}

// Borrowers returns the agents with outstanding loans, sorted.
func (p *Pool) Borrowers() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.borrowed))
	for id := range p.borrowed {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Check verifies available + Σ borrowed == total.
func (p *Pool) Check() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	sum := p.available
	for id, b := range p.borrowed {
		if b < 0 {
			return fmt.Errorf("pool %s: negative loan %d for %s", p.name, b, id)
		}
		sum += b
	}
	if p.available < 0 || sum != p.total {
		return fmt.Errorf("pool %s: available %d + borrowed %d != total %d", p.name, p.available, sum-p.available, p.total)
	}
	return nil
}
