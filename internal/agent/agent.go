// Package agent holds the decision layer that drives a simulation: the
// Decider interface the round driver calls and a few rule-based traders.
package agent

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand/v2"

	"github.com/efreitasn/marketsim/internal/domain"
)

// Quote is what an agent can see of one instrument.
type Quote struct {
	Instrument string
	BestBid    *int64
	BestAsk    *int64
	Reference  int64
	LastPrice  *int64
}

// Mid returns the midpoint of the quote, falling back to whichever side is
// present and then to the reference price.
func (q Quote) Mid() int64 {
	switch {
	case q.BestBid != nil && q.BestAsk != nil:
		return domain.Midpoint(*q.BestBid, *q.BestAsk)
	case q.BestBid != nil:
		return *q.BestBid
	case q.BestAsk != nil:
		return *q.BestAsk
	default:
		return q.Reference
	}
}

// MarketView is the read-only state handed to every agent at the start of
// a round. Agents must not modify it.
type MarketView struct {
	Round       int
	Instruments []string
	Quotes      map[string]Quote
	Balances    map[string]domain.AccountBalance
	OpenOrders  map[string]int
}

// Position returns the agent's balance for instrument.
func (v *MarketView) Position(agentID, instrument string) domain.PositionBalance {
	for _, p := range v.Balances[agentID].Positions {
		if p.Instrument == instrument {
			return p
		}
	}
	return domain.PositionBalance{Instrument: instrument}
}

// Decision is what an agent wants done this round. With ReplaceExisting
// every open order of the agent is cancelled before the intents are
// submitted.
type Decision struct {
	ReplaceExisting bool
	Intents         []domain.OrderIntent
}

// Profile describes an agent's account.
type Profile struct {
	ID            string
	Kind          Kind
	AllowShort    bool
	AllowLeverage bool
}

// Decider produces a decision per round. Decide is called at most once per
// round for each agent and may run concurrently with other agents.
type Decider interface {
	Profile() Profile
	Decide(ctx context.Context, view *MarketView) (Decision, error)
}

// Kind names a trading strategy.
type Kind string

const (
	KindMarketMaker Kind = "market_maker"
	KindRandom      Kind = "random_limit"
	KindTaker       Kind = "market_taker"
	KindShortSeller Kind = "short_seller"
)

var kinds = []Kind{KindMarketMaker, KindRandom, KindTaker, KindShortSeller}

// New builds an agent of kind. Its random stream depends only on seed and
// id.
func New(kind Kind, id string, seed uint64) (Decider, error) {
	rng := newRand(seed, id)
	switch kind {
	case KindMarketMaker:
		return NewMarketMaker(id, rng), nil
	case KindRandom:
		return NewRandomTrader(id, rng), nil
	case KindTaker:
		return NewMarketTaker(id, rng), nil
	case KindShortSeller:
		return NewShortSeller(id, rng), nil
	default:
		return nil, fmt.Errorf("unknown agent kind %q", kind)
	}
}

// Population builds n agents cycling through every kind, with IDs
// "<kind>-<n>".
func Population(n int, seed uint64) []Decider {
	out := make([]Decider, 0, n)
	for i := 0; i < n; i++ {
		kind := kinds[i%len(kinds)]
		d, _ := New(kind, fmt.Sprintf("%s-%d", kind, i), seed)
		out = append(out, d)
	}
	return out
}

func newRand(seed uint64, id string) *rand.Rand {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	return rand.New(rand.NewPCG(seed, h.Sum64()))
}

// jitter returns price moved by up to ticks cents either way, never below
// one cent.
func jitter(rng *rand.Rand, price int64, ticks int64) int64 {
	if ticks <= 0 {
		return max(price, 1)
	}
	return max(price+rng.Int64N(2*ticks+1)-ticks, 1)
}
