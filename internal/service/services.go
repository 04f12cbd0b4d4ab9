package service

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/efreitasn/marketsim/internal/domain"
	"github.com/efreitasn/marketsim/internal/engine"
	"github.com/efreitasn/marketsim/internal/ledger"
	"github.com/efreitasn/marketsim/internal/store"
)

// Config describes one simulated market.
type Config struct {
	// Instruments maps each tradable instrument to its initial reference
	// price in cents.
	Instruments map[string]int64
	// LendableShares is the size of each instrument's borrow pool.
	LendableShares int64
	// LendableCash is the size of the cash lending pool; 0 disables it.
	LendableCash       int64
	AllowPartialBorrow bool
	DefaultTTLRounds   int
	IDs                domain.IDGenerator
	Clock              domain.Clock
	Logger             *slog.Logger
}

// Services bundles the services of one market. They share a single lock,
// so submission, matching and settlement never interleave.
type Services struct {
	Orders   *OrderService
	Accounts *AccountService
	Market   *MarketService

	Books  *engine.BookManager
	Ledger *ledger.Ledger
}

// New builds the stores, ledger, books and matching engine of a market and
// the services over them.
func New(cfg Config) (*Services, error) {
	if len(cfg.Instruments) == 0 {
		return nil, fmt.Errorf("at least one instrument is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = domain.SystemClock{}
	}

	mu := &sync.RWMutex{}
	accounts := store.NewAccountStore()
	orders := store.NewOrderStore(clock)
	trades := store.NewTradeStore()
	books := engine.NewBookManager()
	instruments := domain.NewInstrumentRegistry()

	l := ledger.New(accounts, ledger.Options{AllowPartialBorrow: cfg.AllowPartialBorrow, Logger: logger})
	if cfg.LendableCash > 0 {
		l.SetCashPool(ledger.NewPool("cash", cfg.LendableCash))
	}

	market := NewMarketService(mu, books, orders, trades, instruments, logger)
	names := make([]string, 0, len(cfg.Instruments))
	for inst := range cfg.Instruments {
		names = append(names, inst)
	}
	sort.Strings(names)
	for _, inst := range names {
		if !instrumentRegex.MatchString(inst) {
			return nil, fmt.Errorf("instrument %q must match ^[A-Z]{1,10}$", inst)
		}
		if err := market.SetReferencePrice(inst, cfg.Instruments[inst]); err != nil {
			return nil, fmt.Errorf("instrument %s: %w", inst, err)
		}
		l.SetBorrowPool(inst, ledger.NewPool(inst, cfg.LendableShares))
	}

	for _, inst := range names {
		p := l.BorrowPool(inst)
		logger.Debug("borrow pool ready", slog.String("pool", p.Name()), slog.Int64("lendable", p.Total()))
	}
	if p := l.CashPool(); p != nil {
		logger.Debug("cash pool ready", slog.String("pool", p.Name()), slog.Int64("lendable", p.Total()))
	}

	matcher := engine.NewMatcher(books, orders, trades, l, market, cfg.IDs, clock, logger)
	market.SetMatcher(matcher)

	return &Services{
		Orders: NewOrderService(mu, orders, accounts, l, matcher, market, instruments, cfg.IDs, OrderOptions{
			AllowPartialCommit: cfg.AllowPartialBorrow,
			DefaultTTLRounds:   cfg.DefaultTTLRounds,
		}, logger),
		Accounts: NewAccountService(mu, accounts, l, instruments, clock),
		Market:   market,
		Books:    books,
		Ledger:   l,
	}, nil
}
