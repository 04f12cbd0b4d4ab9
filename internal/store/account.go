package store

import (
	"sort"
	"sync"

	"github.com/efreitasn/marketsim/internal/domain"
)

// AccountStore is a thread-safe in-memory store for agent accounts,
// keyed by agent_id.
type AccountStore struct {
	mu       sync.RWMutex
	accounts map[string]*domain.Account
}

// NewAccountStore creates an empty AccountStore.
func NewAccountStore() *AccountStore {
	return &AccountStore{
		accounts: make(map[string]*domain.Account),
	}
}

// Create adds an account to the store. It returns
// domain.ErrAgentAlreadyExists if an account with the same ID
// already exists.
func (s *AccountStore) Create(a *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[a.AgentID]; exists {
		return domain.ErrAgentAlreadyExists
	}
	s.accounts[a.AgentID] = a
	return nil
}

// Get retrieves an account by agent ID. It returns
// domain.ErrAgentNotFound if the account does not exist.
func (s *AccountStore) Get(id string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, domain.ErrAgentNotFound
	}
	return a, nil
}

// Exists returns true if an account with the given ID exists.
func (s *AccountStore) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.accounts[id]
	return ok
}

// IDs returns all agent IDs in sorted order.
func (s *AccountStore) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.accounts))
	for id := range s.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// List returns all accounts ordered by agent ID.
func (s *AccountStore) List() []*domain.Account {
	ids := s.IDs()

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Account, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.accounts[id])
	}
	return out
}
