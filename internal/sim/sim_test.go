package sim

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efreitasn/marketsim/internal/agent"
	"github.com/efreitasn/marketsim/internal/domain"
	"github.com/efreitasn/marketsim/internal/service"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSim(t *testing.T, seed uint64, agents []agent.Decider, rounds int) *Sim {
	t.Helper()
	clock := domain.NewRoundClock(time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC), time.Minute)
	svc, err := service.New(service.Config{
		Instruments:        map[string]int64{"ACME": 5000, "BOLT": 1200},
		LendableShares:     200,
		AllowPartialBorrow: true,
		DefaultTTLRounds:   5,
		IDs:                domain.NewSeededIDs(seed),
		Clock:              clock,
		Logger:             discard(),
	})
	require.NoError(t, err)
	s, err := New(Config{
		Seed:            seed,
		Rounds:          rounds,
		DecisionWorkers: 4,
		InitialCash:     10_000_000,
		InitialShares:   300,
		Verify:          true,
	}, svc, clock, agents, discard())
	require.NoError(t, err)
	return s
}

type recorder struct {
	rounds []*RoundResult
	err    error
}

func (r *recorder) ObserveRound(_ context.Context, res *RoundResult) error {
	r.rounds = append(r.rounds, res)
	return r.err
}

// scripted replays fixed decisions, one per round.
type scripted struct {
	profile   agent.Profile
	decisions map[int]agent.Decision
	err       error
}

func (s *scripted) Profile() agent.Profile { return s.profile }

func (s *scripted) Decide(_ context.Context, v *agent.MarketView) (agent.Decision, error) {
	return s.decisions[v.Round], s.err
}

func TestRun_ConservesAndVerifies(t *testing.T) {
	s := newSim(t, 42, agent.Population(12, 42), 40)
	rec := &recorder{}
	s.AddObserver(rec)

	require.NoError(t, s.Run(context.Background()))
	require.Len(t, rec.rounds, 40)
	assert.Equal(t, 40, s.Round())
	assert.Same(t, rec.rounds[39], s.Latest())

	var trades int
	for i, r := range rec.rounds {
		assert.Equal(t, i+1, r.Round)
		assert.Len(t, r.Instruments, 2)
		assert.Len(t, r.Balances, 12)
		trades += len(r.Trades())
	}
	assert.Positive(t, trades, "a populated market should trade")
	require.NoError(t, s.Verify())
}

func TestRun_SameSeedSameTrades(t *testing.T) {
	run := func(seed uint64) []domain.Trade {
		s := newSim(t, seed, agent.Population(8, seed), 25)
		rec := &recorder{}
		s.AddObserver(rec)
		require.NoError(t, s.Run(context.Background()))
		var out []domain.Trade
		for _, r := range rec.rounds {
			for _, tr := range r.Trades() {
				out = append(out, *tr)
			}
		}
		return out
	}

	a, b := run(7), run(7)
	require.NotEmpty(t, a)
	assert.Equal(t, a, b)

	c := run(8)
	assert.NotEqual(t, a, c)
}

func TestStep_ReplaceExistingCancelsOpenOrders(t *testing.T) {
	price := int64(4000)
	mm := &scripted{
		profile: agent.Profile{ID: "mm"},
		decisions: map[int]agent.Decision{
			1: {Intents: []domain.OrderIntent{{Instrument: "ACME", Side: domain.OrderSideBuy, Type: domain.OrderTypeLimit, Quantity: 5, Price: &price}}},
			2: {ReplaceExisting: true},
		},
	}
	s := newSim(t, 1, []agent.Decider{mm}, 2)

	_, err := s.Step(context.Background())
	require.NoError(t, err)
	require.Len(t, s.svc.Orders.OpenOrders("mm"), 1)

	_, err = s.Step(context.Background())
	require.NoError(t, err)
	assert.Empty(t, s.svc.Orders.OpenOrders("mm"))
}

func TestStep_ForcesOwnAgentID(t *testing.T) {
	price := int64(4000)
	thief := &scripted{
		profile: agent.Profile{ID: "thief"},
		decisions: map[int]agent.Decision{
			1: {Intents: []domain.OrderIntent{{AgentID: "victim", Instrument: "ACME", Side: domain.OrderSideBuy, Type: domain.OrderTypeLimit, Quantity: 1, Price: &price}}},
		},
	}
	victim := &scripted{profile: agent.Profile{ID: "victim"}}
	s := newSim(t, 1, []agent.Decider{thief, victim}, 1)

	_, err := s.Step(context.Background())
	require.NoError(t, err)
	assert.Len(t, s.svc.Orders.OpenOrders("thief"), 1)
	assert.Empty(t, s.svc.Orders.OpenOrders("victim"))
}

func TestStep_RejectionsAreReported(t *testing.T) {
	broke := &scripted{
		profile: agent.Profile{ID: "broke"},
		decisions: map[int]agent.Decision{
			1: {Intents: []domain.OrderIntent{
				domain.Limit("", "ACME", domain.OrderSideSell, 10_000, 5000),
				domain.Limit("", "ZZZ", domain.OrderSideBuy, 1, 5000),
			}},
		},
	}
	s := newSim(t, 1, []agent.Decider{broke}, 1)

	res, err := s.Step(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Rejections, 2)
	assert.Equal(t, "insufficient_shares", res.Rejections[0].Reason)
	assert.Equal(t, "invalid_order", res.Rejections[1].Reason)
}

func TestStep_DeciderErrorAborts(t *testing.T) {
	bad := &scripted{profile: agent.Profile{ID: "bad"}, err: errors.New("model unavailable")}
	s := newSim(t, 1, []agent.Decider{bad}, 3)

	err := s.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model unavailable")
	assert.Equal(t, 0, s.Round())
}

func TestRun_ObserverErrorAborts(t *testing.T) {
	s := newSim(t, 1, agent.Population(4, 1), 5)
	rec := &recorder{err: errors.New("disk full")}
	s.AddObserver(rec)

	err := s.Run(context.Background())
	require.Error(t, err)
	assert.Len(t, rec.rounds, 1)
}

func TestRun_ContextCancelled(t *testing.T) {
	s := newSim(t, 1, agent.Population(4, 1), 5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Run(ctx), context.Canceled)
	assert.Equal(t, 0, s.Round())
}

func TestOrder_IsSeededPermutation(t *testing.T) {
	s := newSim(t, 3, agent.Population(10, 3), 1)
	a, b := s.order(4), s.order(4)
	assert.Equal(t, a, b)
	assert.ElementsMatch(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, a)
}
