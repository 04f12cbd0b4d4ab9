package service

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/efreitasn/marketsim/internal/domain"
	"github.com/efreitasn/marketsim/internal/ledger"
	"github.com/efreitasn/marketsim/internal/store"
)

var (
	agentIDRegex    = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)
	instrumentRegex = regexp.MustCompile(`^[A-Z]{1,10}$`)
)

// RegisterAgentRequest represents the input for agent registration.
type RegisterAgentRequest struct {
	AgentID       string
	InitialCash   int64 // cents
	Holdings      []HoldingInput
	AllowShort    bool
	AllowLeverage bool
}

// HoldingInput represents a single holding in a registration request.
type HoldingInput struct {
	Instrument string
	Quantity   int64
}

// AccountService handles agent registration, balance queries and the
// external balance mutations used by dividend and interest collaborators.
type AccountService struct {
	mu          *sync.RWMutex
	store       *store.AccountStore
	ledger      *ledger.Ledger
	instruments *domain.InstrumentRegistry
	clock       domain.Clock
}

// NewAccountService creates a new AccountService.
func NewAccountService(mu *sync.RWMutex, store *store.AccountStore, l *ledger.Ledger, instruments *domain.InstrumentRegistry, clock domain.Clock) *AccountService {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &AccountService{
		mu:          mu,
		store:       store,
		ledger:      l,
		instruments: instruments,
		clock:       clock,
	}
}

// Register validates the request and creates an account.
func (s *AccountService) Register(req RegisterAgentRequest) (*domain.Account, error) {
	if !agentIDRegex.MatchString(req.AgentID) {
		return nil, domain.Reject(domain.ErrInvalidOrder, "agent_id must match ^[a-zA-Z0-9_-]{1,64}$")
	}
	if req.InitialCash < 0 {
		return nil, domain.Reject(domain.ErrInvalidOrder, "initial_cash must be >= 0")
	}

	seen := make(map[string]bool)
	for _, h := range req.Holdings {
		if !instrumentRegex.MatchString(h.Instrument) {
			return nil, domain.Reject(domain.ErrInvalidOrder, "holding instrument must match ^[A-Z]{1,10}$, got %q", h.Instrument)
		}
		if !s.instruments.Exists(h.Instrument) {
			return nil, fmt.Errorf("holding %s: %w", h.Instrument, domain.ErrInstrumentNotFound)
		}
		if h.Quantity <= 0 {
			return nil, domain.Reject(domain.ErrInvalidOrder, "holding quantity must be > 0 for instrument %s", h.Instrument)
		}
		if seen[h.Instrument] {
			return nil, domain.Reject(domain.ErrInvalidOrder, "duplicate instrument in holdings: %s", h.Instrument)
		}
		seen[h.Instrument] = true
	}

	acct := domain.NewAccount(req.AgentID, req.InitialCash, s.clock.Now())
	acct.AllowShort = req.AllowShort
	acct.AllowLeverage = req.AllowLeverage
	for _, h := range req.Holdings {
		acct.Position(h.Instrument).Quantity = h.Quantity
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// returns ErrAgentAlreadyExists if duplicate
	if err := s.store.Create(acct); err != nil {
		return nil, err
	}
	return acct, nil
}

// GetBalance returns the agent's balances including reservations and
// borrowings.
func (s *AccountService) GetBalance(agentID string) (domain.AccountBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ledger.Balance(agentID)
}

// Balances returns every agent's balances ordered by agent ID.
func (s *AccountService) Balances() []domain.AccountBalance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ledger.Balances()
}

// Agents returns the registered agent IDs in sorted order.
func (s *AccountService) Agents() []string {
	return s.store.IDs()
}

// Credit adds (or with a negative amount removes) cash outside of trading,
// for example a dividend or interest payment.
func (s *AccountService) Credit(agentID string, amount int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.AdjustCash(agentID, amount, reason)
}

// AdjustShares adds or removes owned shares outside of trading, such as a
// stock dividend.
func (s *AccountService) AdjustShares(agentID, instrument string, delta int64, reason string) error {
	if !s.instruments.Exists(instrument) {
		return domain.ErrInstrumentNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.AdjustShares(agentID, instrument, delta, reason)
}

// Repay pays back part of the agent's cash loan.
func (s *AccountService) Repay(agentID string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.RepayCash(agentID, amount)
}

// Check verifies every ledger invariant.
func (s *AccountService) Check() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ledger.Check()
}

// Totals returns the conserved cash and share totals.
func (s *AccountService) Totals() ledger.Totals {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ledger.Totals()
}
