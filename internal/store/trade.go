package store

import (
	"sync"

	"github.com/efreitasn/marketsim/internal/domain"
)

// TradeStore is a thread-safe in-memory store for trades,
// keyed by instrument. Trades are append-only and chronological.
type TradeStore struct {
	mu     sync.RWMutex
	trades map[string][]*domain.Trade // instrument → trades (chronological)
}

// NewTradeStore creates an empty TradeStore.
func NewTradeStore() *TradeStore {
	return &TradeStore{
		trades: make(map[string][]*domain.Trade),
	}
}

// Append adds a trade to its instrument's chronological list.
func (s *TradeStore) Append(t *domain.Trade) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.trades[t.Instrument] = append(s.trades[t.Instrument], t)
}

// GetByInstrument returns all trades for an instrument in chronological order.
// Returns an empty slice if no trades exist for the instrument.
func (s *TradeStore) GetByInstrument(instrument string) []*domain.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trades := s.trades[instrument]
	if trades == nil {
		return []*domain.Trade{}
	}

	// Return a copy to avoid callers mutating the internal slice.
	result := make([]*domain.Trade, len(trades))
	copy(result, trades)
	return result
}

// GetByRound returns the instrument's trades executed in round.
func (s *TradeStore) GetByRound(instrument string, round int) []*domain.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trades := s.trades[instrument]
	// Rounds are appended in order, so scan back from the end.
	i := len(trades)
	for i > 0 && trades[i-1].Round >= round {
		i--
	}
	result := make([]*domain.Trade, 0)
	for ; i < len(trades) && trades[i].Round == round; i++ {
		result = append(result, trades[i])
	}
	return result
}

// Last returns the most recent trade for the instrument.
func (s *TradeStore) Last(instrument string) (*domain.Trade, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trades := s.trades[instrument]
	if len(trades) == 0 {
		return nil, false
	}
	return trades[len(trades)-1], true
}

// Count returns the number of trades across all instruments.
func (s *TradeStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, ts := range s.trades {
		n += len(ts)
	}
	return n
}
