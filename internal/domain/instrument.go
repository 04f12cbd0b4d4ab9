package domain

import (
	"sort"
	"sync"
)

// InstrumentRegistry tracks tradable instruments in a thread-safe manner.
type InstrumentRegistry struct {
	mu          sync.RWMutex
	instruments map[string]bool
}

// NewInstrumentRegistry creates a registry holding the given instruments.
func NewInstrumentRegistry(instruments ...string) *InstrumentRegistry {
	r := &InstrumentRegistry{
		instruments: make(map[string]bool),
	}
	for _, i := range instruments {
		r.instruments[i] = true
	}
	return r
}

// Register adds an instrument to the registry. Safe for concurrent use.
func (r *InstrumentRegistry) Register(instrument string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instruments[instrument] = true
}

// Exists returns true if the instrument has been registered. Safe for concurrent use.
func (r *InstrumentRegistry) Exists(instrument string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.instruments[instrument]
}

// List returns the registered instruments in sorted order.
func (r *InstrumentRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.instruments))
	for i := range r.instruments {
		out = append(out, i)
	}
	sort.Strings(out)
	return out
}
