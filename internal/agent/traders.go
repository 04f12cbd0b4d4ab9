package agent

import (
	"context"
	"math/rand/v2"

	"github.com/efreitasn/marketsim/internal/domain"
)

// MarketMaker quotes a bid and an ask around the mid of every instrument
// each round, replacing its previous quotes.
type MarketMaker struct {
	id          string
	rng         *rand.Rand
	HalfSpread  int64 // cents
	Size        int64
	JitterTicks int64
}

func NewMarketMaker(id string, rng *rand.Rand) *MarketMaker {
	return &MarketMaker{id: id, rng: rng, HalfSpread: 10, Size: 20, JitterTicks: 3}
}

func (m *MarketMaker) Profile() Profile {
	return Profile{ID: m.id, Kind: KindMarketMaker}
}

func (m *MarketMaker) Decide(_ context.Context, view *MarketView) (Decision, error) {
	d := Decision{ReplaceExisting: true}
	bal := view.Balances[m.id]
	cash := bal.CashBalance
	for _, inst := range view.Instruments {
		mid := jitter(m.rng, view.Quotes[inst].Mid(), m.JitterTicks)
		if mid <= 0 {
			continue
		}
		bid := max(mid-m.HalfSpread, 1)
		ask := mid + m.HalfSpread
		if size := min(m.Size, cash/bid); size > 0 {
			d.Intents = append(d.Intents, domain.Limit(m.id, inst, domain.OrderSideBuy, size, bid))
			cash -= size * bid
		}
		// committed shares come back when the old quotes are replaced
		if size := min(m.Size, view.Position(m.id, inst).Quantity); size > 0 {
			d.Intents = append(d.Intents, domain.Limit(m.id, inst, domain.OrderSideSell, size, ask))
		}
	}
	return d, nil
}

// RandomTrader places a limit order on a random side near the mid of a
// random instrument with a short time to live.
type RandomTrader struct {
	id         string
	rng        *rand.Rand
	RangeTicks int64
	MaxSize    int64
	TTLRounds  int
	// Activity is the chance of trading in a round.
	Activity float64
}

func NewRandomTrader(id string, rng *rand.Rand) *RandomTrader {
	return &RandomTrader{id: id, rng: rng, RangeTicks: 25, MaxSize: 15, TTLRounds: 3, Activity: 0.7}
}

func (r *RandomTrader) Profile() Profile {
	return Profile{ID: r.id, Kind: KindRandom}
}

func (r *RandomTrader) Decide(_ context.Context, view *MarketView) (Decision, error) {
	if len(view.Instruments) == 0 || r.rng.Float64() >= r.Activity {
		return Decision{}, nil
	}
	inst := view.Instruments[r.rng.IntN(len(view.Instruments))]
	price := jitter(r.rng, view.Quotes[inst].Mid(), r.RangeTicks)
	size := 1 + r.rng.Int64N(r.MaxSize)

	side := domain.OrderSideBuy
	if r.rng.IntN(2) == 1 {
		side = domain.OrderSideSell
		size = min(size, view.Position(r.id, inst).Available)
	} else {
		size = min(size, view.Balances[r.id].AvailableCash/price)
	}
	if size <= 0 {
		return Decision{}, nil
	}
	in := domain.Limit(r.id, inst, side, size, price)
	in.TTLRounds = r.TTLRounds
	return Decision{Intents: []domain.OrderIntent{in}}, nil
}

// MarketTaker sends a market order every few rounds.
type MarketTaker struct {
	id      string
	rng     *rand.Rand
	Every   int
	MaxSize int64
}

func NewMarketTaker(id string, rng *rand.Rand) *MarketTaker {
	return &MarketTaker{id: id, rng: rng, Every: 3, MaxSize: 10}
}

func (t *MarketTaker) Profile() Profile {
	return Profile{ID: t.id, Kind: KindTaker}
}

func (t *MarketTaker) Decide(_ context.Context, view *MarketView) (Decision, error) {
	if len(view.Instruments) == 0 || t.Every <= 0 || view.Round%t.Every != 0 {
		return Decision{}, nil
	}
	inst := view.Instruments[t.rng.IntN(len(view.Instruments))]
	size := 1 + t.rng.Int64N(t.MaxSize)
	side := domain.OrderSideBuy
	if t.rng.IntN(2) == 1 {
		side = domain.OrderSideSell
		size = min(size, view.Position(t.id, inst).Available)
		if size <= 0 {
			return Decision{}, nil
		}
	}
	return Decision{Intents: []domain.OrderIntent{domain.Market(t.id, inst, side, size)}}, nil
}

// ShortSeller sells borrowed shares when the last trade runs above its own
// moving average and buys them back once the price falls below its entry.
type ShortSeller struct {
	id  string
	rng *rand.Rand
	// Premium is how far above the average, in cents, the last trade must
	// be before shorting.
	Premium int64
	Size    int64
	// MaxShort caps the open short per instrument.
	MaxShort int64
	averages map[string]int64
	entries  map[string]int64
}

func NewShortSeller(id string, rng *rand.Rand) *ShortSeller {
	return &ShortSeller{
		id:       id,
		rng:      rng,
		Premium:  5,
		Size:     10,
		MaxShort: 50,
		averages: make(map[string]int64),
		entries:  make(map[string]int64),
	}
}

func (s *ShortSeller) Profile() Profile {
	return Profile{ID: s.id, Kind: KindShortSeller, AllowShort: true}
}

func (s *ShortSeller) Decide(_ context.Context, view *MarketView) (Decision, error) {
	var d Decision
	for _, inst := range view.Instruments {
		q := view.Quotes[inst]
		last := q.Reference
		if q.LastPrice != nil {
			last = *q.LastPrice
		}
		avg, seen := s.averages[inst]
		if !seen {
			avg = last
		}
		s.averages[inst] = (3*avg + last) / 4
		if last <= 0 {
			continue
		}

		short := view.Position(s.id, inst).Borrowed
		switch {
		case short > 0 && last < s.entries[inst]:
			if size := min(short, view.Balances[s.id].AvailableCash/last); size > 0 {
				d.Intents = append(d.Intents, domain.Limit(s.id, inst, domain.OrderSideBuy, size, last))
			}
		case last >= avg+s.Premium && short+s.Size <= s.MaxShort:
			price := jitter(s.rng, last, 2)
			in := domain.Limit(s.id, inst, domain.OrderSideSell, s.Size, price)
			in.TTLRounds = 1
			d.Intents = append(d.Intents, in)
			s.entries[inst] = price
		}
	}
	return d, nil
}
