// Package sim drives a market round by round: agents decide in parallel on
// a frozen view of the market, then their intents are submitted, matched
// and settled one agent at a time in a seeded order.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/efreitasn/marketsim/internal/agent"
	"github.com/efreitasn/marketsim/internal/domain"
	"github.com/efreitasn/marketsim/internal/engine"
	"github.com/efreitasn/marketsim/internal/ledger"
	"github.com/efreitasn/marketsim/internal/service"
)

// Config controls a simulation run.
type Config struct {
	Seed   uint64
	Rounds int
	// DecisionWorkers bounds how many agents decide at once.
	DecisionWorkers int
	// InitialCash and InitialShares fund every agent; shares are given in
	// each instrument.
	InitialCash   int64
	InitialShares int64
	// Verify checks conservation and book invariants after every round.
	Verify bool
}

// RoundResult is everything that happened in one round.
type RoundResult struct {
	Round           int                     `json:"round"`
	Instruments     []*engine.RoundResult   `json:"instruments"`
	Expired         []string                `json:"expired_order_ids"`
	Rejections      []domain.Rejection      `json:"rejections"`
	Balances        []domain.AccountBalance `json:"balances"`
	ReferencePrices map[string]int64        `json:"reference_prices"`
}

// Trades returns every trade of the round in execution order.
func (r *RoundResult) Trades() []*domain.Trade {
	var out []*domain.Trade
	for _, res := range r.Instruments {
		out = append(out, res.Trades...)
	}
	return out
}

// Observer receives each round once it is complete. An error aborts the
// run.
type Observer interface {
	ObserveRound(ctx context.Context, r *RoundResult) error
}

// Sim runs agents against one market.
type Sim struct {
	cfg       Config
	svc       *service.Services
	clock     *domain.RoundClock
	agents    []agent.Decider
	observers []Observer
	logger    *slog.Logger

	initial ledger.Totals
	round   int

	mu     sync.RWMutex
	latest *RoundResult
}

// New registers an account for every agent and returns a simulation ready
// to run. clock may be nil when timestamps do not need to follow rounds.
func New(cfg Config, svc *service.Services, clock *domain.RoundClock, agents []agent.Decider, logger *slog.Logger) (*Sim, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DecisionWorkers <= 0 {
		cfg.DecisionWorkers = 1
	}
	instruments := svc.Market.Instruments()
	for _, a := range agents {
		p := a.Profile()
		req := service.RegisterAgentRequest{
			AgentID:       p.ID,
			InitialCash:   cfg.InitialCash,
			AllowShort:    p.AllowShort,
			AllowLeverage: p.AllowLeverage,
		}
		if cfg.InitialShares > 0 {
			for _, inst := range instruments {
				req.Holdings = append(req.Holdings, service.HoldingInput{Instrument: inst, Quantity: cfg.InitialShares})
			}
		}
		if _, err := svc.Accounts.Register(req); err != nil {
			return nil, fmt.Errorf("register agent %s: %w", p.ID, err)
		}
	}
	return &Sim{
		cfg:     cfg,
		svc:     svc,
		clock:   clock,
		agents:  agents,
		logger:  logger,
		initial: svc.Accounts.Totals(),
	}, nil
}

// AddObserver subscribes o to completed rounds.
func (s *Sim) AddObserver(o Observer) {
	s.observers = append(s.observers, o)
}

// Round returns the last completed round.
func (s *Sim) Round() int {
	return s.round
}

// Latest returns the last completed round, or nil before the first.
func (s *Sim) Latest() *RoundResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// Run steps through the configured number of rounds. A cancelled context
// stops the run between rounds.
func (s *Sim) Run(ctx context.Context) error {
	for s.round < s.cfg.Rounds {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.Step(ctx); err != nil {
			return err
		}
	}
	s.logger.Info("simulation complete",
		slog.Int("rounds", s.round),
		slog.Uint64("seed", s.cfg.Seed),
	)
	return nil
}

// Step runs one round: collect decisions, submit them in seeded order,
// match every instrument and publish the result.
func (s *Sim) Step(ctx context.Context) (*RoundResult, error) {
	round := s.round + 1
	if s.clock != nil {
		s.clock.SetRound(round)
	}
	s.svc.Market.BeginRound(round)

	view, err := s.view(round)
	if err != nil {
		return nil, err
	}
	decisions, err := s.decide(ctx, view)
	if err != nil {
		return nil, fmt.Errorf("round %d: %w", round, err)
	}

	for _, i := range s.order(round) {
		if err := s.apply(s.agents[i].Profile().ID, decisions[i]); err != nil {
			return nil, fmt.Errorf("round %d: %w", round, err)
		}
	}

	report, err := s.svc.Market.RunRound(round)
	if err != nil {
		s.logger.Error("round aborted", slog.Int("round", round), slog.String("error", err.Error()))
		return nil, err
	}

	res := &RoundResult{
		Round:           round,
		Instruments:     report.Results,
		Expired:         report.Expired,
		Rejections:      s.svc.Orders.DrainRejections(),
		Balances:        s.svc.Accounts.Balances(),
		ReferencePrices: make(map[string]int64),
	}
	for _, inst := range s.svc.Market.Instruments() {
		if p, ok := s.svc.Market.ReferencePrice(inst); ok {
			res.ReferencePrices[inst] = p
		}
	}

	if s.cfg.Verify {
		if err := s.Verify(); err != nil {
			s.logger.Error("verification failed", slog.Int("round", round), slog.String("error", err.Error()))
			return nil, fmt.Errorf("round %d: %w", round, err)
		}
	}

	s.round = round
	s.mu.Lock()
	s.latest = res
	s.mu.Unlock()

	trades := res.Trades()
	s.logger.Info("round complete",
		slog.Int("round", round),
		slog.Int("trades", len(trades)),
		slog.Int("rejections", len(res.Rejections)),
		slog.Int("expired", len(res.Expired)),
	)

	for _, o := range s.observers {
		if err := o.ObserveRound(ctx, res); err != nil {
			return res, fmt.Errorf("round %d observer: %w", round, err)
		}
	}
	return res, nil
}

// view freezes the market state every agent decides on.
func (s *Sim) view(round int) (*agent.MarketView, error) {
	v := &agent.MarketView{
		Round:       round,
		Instruments: s.svc.Market.Instruments(),
		Quotes:      make(map[string]agent.Quote),
		Balances:    make(map[string]domain.AccountBalance),
		OpenOrders:  make(map[string]int),
	}
	for _, inst := range v.Instruments {
		snap, err := s.svc.Market.Snapshot(inst)
		if err != nil {
			return nil, err
		}
		q := agent.Quote{Instrument: inst, BestBid: snap.BestBid, BestAsk: snap.BestAsk}
		if snap.ReferencePrice != nil {
			q.Reference = *snap.ReferencePrice
		}
		if snap.LastTrade != nil {
			last := snap.LastTrade.Price
			q.LastPrice = &last
		}
		v.Quotes[inst] = q
	}
	for _, b := range s.svc.Accounts.Balances() {
		v.Balances[b.AgentID] = b
		v.OpenOrders[b.AgentID] = len(s.svc.Orders.OpenOrders(b.AgentID))
	}
	return v, nil
}

// decide collects one decision per agent, indexed like s.agents.
func (s *Sim) decide(ctx context.Context, view *agent.MarketView) ([]agent.Decision, error) {
	decisions := make([]agent.Decision, len(s.agents))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.DecisionWorkers)
	for i, a := range s.agents {
		g.Go(func() error {
			d, err := a.Decide(ctx, view)
			if err != nil {
				return fmt.Errorf("agent %s: %w", a.Profile().ID, err)
			}
			decisions[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return decisions, nil
}

// order is the agent processing order of round, a permutation seeded from
// the run seed and the round number.
func (s *Sim) order(round int) []int {
	idx := make([]int, len(s.agents))
	for i := range idx {
		idx[i] = i
	}
	rng := rand.New(rand.NewPCG(s.cfg.Seed, uint64(round)))
	rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
	return idx
}

// apply submits one agent's decision. Rejections are recorded by the order
// service and do not stop the round.
func (s *Sim) apply(agentID string, d agent.Decision) error {
	if d.ReplaceExisting {
		if _, err := s.svc.Orders.CancelAll(agentID); err != nil {
			return fmt.Errorf("replace orders of %s: %w", agentID, err)
		}
	}
	for _, in := range d.Intents {
		in.AgentID = agentID
		_, err := s.svc.Orders.Submit(in)
		if err == nil {
			continue
		}
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			continue
		}
		return fmt.Errorf("submit for %s: %w", agentID, err)
	}
	return nil
}

// Verify checks that cash and shares are conserved, every ledger invariant
// holds, open reservations balance and no book is crossed.
func (s *Sim) Verify() error {
	if err := s.svc.Accounts.Check(); err != nil {
		return err
	}
	now := s.svc.Accounts.Totals()
	if now.Cash != s.initial.Cash {
		return domain.Invariant(domain.InvariantAccounting,
			fmt.Sprintf("cash not conserved: %d, started with %d", now.Cash, s.initial.Cash))
	}
	for inst, qty := range s.initial.Shares {
		if now.Shares[inst] != qty {
			return domain.Invariant(domain.InvariantAccounting,
				fmt.Sprintf("%s shares not conserved: %d, started with %d", inst, now.Shares[inst], qty))
		}
	}
	for _, id := range s.svc.Accounts.Agents() {
		for _, o := range s.svc.Orders.OpenOrders(id) {
			if !o.Cash.Balanced() || !o.Shares.Balanced() {
				return domain.Invariant(domain.InvariantReservation,
					fmt.Sprintf("order %s reservation out of balance", o.OrderID), o)
			}
		}
	}
	for _, inst := range s.svc.Market.Instruments() {
		snap, err := s.svc.Market.Snapshot(inst)
		if err != nil {
			return err
		}
		if snap.BestBid != nil && snap.BestAsk != nil && *snap.BestBid >= *snap.BestAsk {
			return domain.Invariant(domain.InvariantCrossedBook,
				fmt.Sprintf("book %s crossed: bid %d >= ask %d", inst, *snap.BestBid, *snap.BestAsk))
		}
	}
	return nil
}
