package service

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/efreitasn/marketsim/internal/domain"
	"github.com/efreitasn/marketsim/internal/engine"
	"github.com/efreitasn/marketsim/internal/store"
)

// Snapshot is the market data view of one instrument.
type Snapshot struct {
	Instrument     string
	BestBid        *int64
	BestAsk        *int64
	Midpoint       *int64
	Spread         *int64 // nil if either side empty
	ReferencePrice *int64 // nil until a price is known
	Bids           []engine.PriceLevel
	Asks           []engine.PriceLevel
	LastTrade      *domain.Trade
}

// RoundReport is the outcome of one matching cycle across all instruments.
type RoundReport struct {
	Round   int
	Expired []string
	Results []*engine.RoundResult
}

// Trades returns every trade of the round in execution order.
func (r *RoundReport) Trades() []*domain.Trade {
	var out []*domain.Trade
	for _, res := range r.Results {
		out = append(out, res.Trades...)
	}
	return out
}

// MarketService owns reference prices and runs the matching cycle. It
// implements engine.PriceProvider.
type MarketService struct {
	mu          *sync.RWMutex
	books       *engine.BookManager
	orders      *store.OrderStore
	trades      *store.TradeStore
	matcher     *engine.Matcher
	instruments *domain.InstrumentRegistry
	logger      *slog.Logger

	// priceMu guards prices; the matcher reads them while mu is held.
	priceMu sync.RWMutex
	prices  map[string]int64
}

// NewMarketService creates a MarketService. The matcher is attached with
// SetMatcher once it has been built with this service as its price
// provider.
func NewMarketService(
	mu *sync.RWMutex,
	books *engine.BookManager,
	orders *store.OrderStore,
	trades *store.TradeStore,
	instruments *domain.InstrumentRegistry,
	logger *slog.Logger,
) *MarketService {
	if logger == nil {
		logger = slog.Default()
	}
	return &MarketService{
		mu:          mu,
		books:       books,
		orders:      orders,
		trades:      trades,
		instruments: instruments,
		logger:      logger,
		prices:      make(map[string]int64),
	}
}

// SetMatcher attaches the matching engine.
func (s *MarketService) SetMatcher(m *engine.Matcher) {
	s.matcher = m
}

// ReferencePrice returns the prevailing reference price of instrument.
func (s *MarketService) ReferencePrice(instrument string) (int64, bool) {
	s.priceMu.RLock()
	defer s.priceMu.RUnlock()
	p, ok := s.prices[instrument]
	return p, ok && p > 0
}

// SetReferencePrice sets the reference price of instrument, registering
// the instrument if needed.
func (s *MarketService) SetReferencePrice(instrument string, price int64) error {
	if price <= 0 {
		return domain.Reject(domain.ErrInvalidOrder, "reference price must be positive, got %d", price)
	}
	s.instruments.Register(instrument)
	s.books.GetOrCreate(instrument)
	s.priceMu.Lock()
	defer s.priceMu.Unlock()
	s.prices[instrument] = price
	return nil
}

// updateReferencePrice moves the reference price to the last trade of the
// round, else to the price implied by the book. With neither it is left
// unchanged.
func (s *MarketService) updateReferencePrice(res *engine.RoundResult) {
	price, ok := res.LastPrice()
	source := "last_trade"
	if !ok {
		price, ok = s.books.GetOrCreate(res.Instrument).BookPrice()
		source = "book"
	}
	if !ok {
		return
	}
	s.priceMu.Lock()
	s.prices[res.Instrument] = price
	s.priceMu.Unlock()
	s.logger.Debug("reference price updated",
		slog.String("instrument", res.Instrument),
		slog.Int64("price", price),
		slog.String("source", source),
	)
}

// BeginRound stamps orders submitted from now on with round.
func (s *MarketService) BeginRound(round int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders.SetRound(round)
}

// RunRound expires due orders, then matches every instrument in sorted
// order and updates its reference price. Any error is fatal.
func (s *MarketService) RunRound(round int) (*RoundReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := &RoundReport{Round: round}
	expired, err := s.matcher.ExpireOrders(round)
	if err != nil {
		return nil, fmt.Errorf("expire orders in round %d: %w", round, err)
	}
	for _, o := range expired {
		report.Expired = append(report.Expired, o.OrderID)
	}

	for _, inst := range s.instruments.List() {
		res, err := s.matcher.RunRound(inst, round)
		if err != nil {
			return nil, fmt.Errorf("match %s in round %d: %w", inst, round, err)
		}
		s.updateReferencePrice(res)
		report.Results = append(report.Results, res)
	}
	return report, nil
}

// Snapshot returns best bid and ask, midpoint, every aggregated level, the
// reference price and the last trade of instrument.
func (s *MarketService) Snapshot(instrument string) (*Snapshot, error) {
	if !s.instruments.Exists(instrument) {
		return nil, domain.ErrInstrumentNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	book := s.books.GetOrCreate(instrument).Snapshot(0)
	snap := &Snapshot{
		Instrument: instrument,
		BestBid:    book.BestBid,
		BestAsk:    book.BestAsk,
		Midpoint:   book.Midpoint,
		Bids:       book.Bids,
		Asks:       book.Asks,
	}
	if snap.BestBid != nil && snap.BestAsk != nil {
		spread := *snap.BestAsk - *snap.BestBid
		snap.Spread = &spread
	}
	if p, ok := s.ReferencePrice(instrument); ok {
		snap.ReferencePrice = &p
	}
	if t, ok := s.trades.Last(instrument); ok {
		snap.LastTrade = t
	}
	return snap, nil
}

// Instruments returns the tradable instruments in sorted order.
func (s *MarketService) Instruments() []string {
	return s.instruments.List()
}

// Trades returns every trade of instrument in execution order.
func (s *MarketService) Trades(instrument string) ([]*domain.Trade, error) {
	if !s.instruments.Exists(instrument) {
		return nil, domain.ErrInstrumentNotFound
	}
	return s.trades.GetByInstrument(instrument), nil
}
