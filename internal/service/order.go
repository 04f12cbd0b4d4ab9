package service

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/efreitasn/marketsim/internal/domain"
	"github.com/efreitasn/marketsim/internal/engine"
	"github.com/efreitasn/marketsim/internal/ledger"
	"github.com/efreitasn/marketsim/internal/store"
)

// OrderOptions configures an OrderService.
type OrderOptions struct {
	// AllowPartialCommit lets an order commit less than requested when
	// cash or borrowable shares run short.
	AllowPartialCommit bool
	// DefaultTTLRounds applies to limit intents without a TTL; 0 means
	// good till cancelled.
	DefaultTTLRounds int
}

// OrderService handles order submission, cancellation and retrieval. New
// orders are validated and their resources reserved here; they are matched
// when the round runs.
type OrderService struct {
	mu          *sync.RWMutex
	orders      *store.OrderStore
	accounts    *store.AccountStore
	ledger      *ledger.Ledger
	books       *engine.BookManager
	matcher     *engine.Matcher
	prices      engine.PriceProvider
	instruments *domain.InstrumentRegistry
	ids         domain.IDGenerator
	opts        OrderOptions
	logger      *slog.Logger

	rejections []domain.Rejection
}

// NewOrderService creates a new OrderService with the given dependencies.
func NewOrderService(
	mu *sync.RWMutex,
	orders *store.OrderStore,
	accounts *store.AccountStore,
	l *ledger.Ledger,
	matcher *engine.Matcher,
	prices engine.PriceProvider,
	instruments *domain.InstrumentRegistry,
	ids domain.IDGenerator,
	opts OrderOptions,
	logger *slog.Logger,
) *OrderService {
	if logger == nil {
		logger = slog.Default()
	}
	if ids == nil {
		ids = domain.RandomIDs{}
	}
	return &OrderService{
		mu:          mu,
		orders:      orders,
		accounts:    accounts,
		ledger:      l,
		books:       matcher.Books(),
		matcher:     matcher,
		prices:      prices,
		instruments: instruments,
		ids:         ids,
		opts:        opts,
		logger:      logger,
	}
}

// validateIntent checks the shape of an intent before an order exists.
func (s *OrderService) validateIntent(in domain.OrderIntent) error {
	if in.Side != domain.OrderSideBuy && in.Side != domain.OrderSideSell {
		return domain.Reject(domain.ErrInvalidOrder, "side must be 'buy' or 'sell', got %q", in.Side)
	}
	if in.Quantity <= 0 {
		return domain.Reject(domain.ErrInvalidOrder, "quantity must be a positive integer, got %d", in.Quantity)
	}
	if in.TTLRounds < 0 {
		return domain.Reject(domain.ErrInvalidOrder, "ttl_rounds must be >= 0, got %d", in.TTLRounds)
	}
	switch in.Type {
	case domain.OrderTypeLimit:
		if in.Price == nil {
			return domain.Reject(domain.ErrInvalidOrder, "price is required for limit orders")
		}
		if *in.Price <= 0 {
			return domain.Reject(domain.ErrInvalidOrder, "price must be greater than 0")
		}
	case domain.OrderTypeMarket:
		if in.Price != nil {
			return domain.Reject(domain.ErrInvalidOrder, "market orders must not include price")
		}
		if in.TTLRounds != 0 {
			return domain.Reject(domain.ErrInvalidOrder, "market orders must not include ttl_rounds")
		}
	default:
		return domain.Reject(domain.ErrInvalidOrder, "unknown order type: %s. Must be one of: limit, market", in.Type)
	}
	if !s.instruments.Exists(in.Instrument) {
		return domain.Reject(domain.ErrInvalidOrder, "unknown instrument %q", in.Instrument)
	}
	if !s.accounts.Exists(in.AgentID) {
		return domain.Reject(domain.ErrAgentNotFound, "agent %s not found", in.AgentID)
	}
	return nil
}

// Submit validates intent, creates the order and reserves its cash or
// shares, leaving it COMMITTED for the next matching cycle. A recoverable
// rejection is returned as a *domain.ValidationError; the order, if one was
// created, is CANCELLED and a rejection is recorded. Any other error is
// fatal.
func (s *OrderService) Submit(in domain.OrderIntent) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.validateIntent(in); err != nil {
		s.reject(in, nil, err)
		return nil, err
	}

	o := &domain.Order{
		OrderID:           s.ids.NewID(),
		AgentID:           in.AgentID,
		Instrument:        in.Instrument,
		Side:              in.Side,
		Type:              in.Type,
		Quantity:          in.Quantity,
		RemainingQuantity: in.Quantity,
	}
	if in.Type == domain.OrderTypeLimit {
		o.Price = *in.Price
		ttl := in.TTLRounds
		if ttl == 0 {
			ttl = s.opts.DefaultTTLRounds
		}
		if ttl > 0 {
			o.ExpiresRound = s.orders.Round() + ttl
		}
	}
	if err := s.orders.Create(o); err != nil {
		return nil, err
	}
	if err := s.orders.Transition(o, domain.OrderStateValidated, ""); err != nil {
		return nil, err
	}

	if err := s.reserve(o); err != nil {
		if domain.IsFatal(err) {
			return nil, err
		}
		var ve *domain.ValidationError
		if !errors.As(err, &ve) {
			return nil, err
		}
		o.CancelledQuantity += o.RemainingQuantity
		o.RemainingQuantity = 0
		if terr := s.orders.Transition(o, domain.OrderStateCancelled, ve.Message); terr != nil {
			return nil, terr
		}
		s.reject(in, o, err)
		return o, err
	}

	if err := s.orders.Transition(o, domain.OrderStateCommitted, ""); err != nil {
		return nil, err
	}
	s.logger.Debug("order committed",
		slog.String("order_id", o.OrderID),
		slog.String("agent_id", o.AgentID),
		slog.String("instrument", o.Instrument),
		slog.String("side", string(o.Side)),
		slog.String("type", string(o.Type)),
		slog.Int64("quantity", o.RemainingQuantity),
		slog.Int64("price", o.Price),
	)
	return o, nil
}

// reserve commits the order's cash or shares. Quantity that cannot be
// committed under partial commitment moves to CancelledQuantity.
func (s *OrderService) reserve(o *domain.Order) error {
	if !o.IsBuy() {
		got, err := s.ledger.ReserveShares(o, o.RemainingQuantity)
		if err != nil {
			return err
		}
		if got < o.RemainingQuantity {
			s.commitPartially(o, got)
		}
		return nil
	}

	if o.Type == domain.OrderTypeMarket {
		cost, err := s.marketBuyCost(o)
		if err != nil {
			return err
		}
		return s.ledger.ReserveCash(o, cost)
	}

	err := s.ledger.ReserveCash(o, o.RemainingQuantity*o.Price)
	if err == nil || !s.opts.AllowPartialCommit || !errors.Is(err, domain.ErrInsufficientCash) {
		return err
	}
	// only a drained cash pool shrinks a buy; an unleveraged account
	// without the cash is rejected
	if !s.borrowsCash(o.AgentID) {
		return err
	}
	affordable := s.affordable(o.AgentID) / o.Price
	if affordable <= 0 {
		return err
	}
	if rerr := s.ledger.ReserveCash(o, affordable*o.Price); rerr != nil {
		return rerr
	}
	s.commitPartially(o, affordable)
	return nil
}

func (s *OrderService) commitPartially(o *domain.Order, qty int64) {
	requested := o.RemainingQuantity
	o.PartialCommit = true
	o.CancelledQuantity += requested - qty
	o.RemainingQuantity = qty
	s.orders.Note(o, fmt.Sprintf("partial commitment: %d of %d", qty, requested))
}

func (s *OrderService) borrowsCash(agentID string) bool {
	acct, err := s.accounts.Get(agentID)
	if err != nil {
		return false
	}
	return acct.AllowLeverage && s.ledger.CashPool() != nil
}

// affordable is the cash an agent can put behind a buy: available cash
// plus, with leverage, what the lending pool still has.
func (s *OrderService) affordable(agentID string) int64 {
	acct, err := s.accounts.Get(agentID)
	if err != nil {
		return 0
	}
	cash := acct.AvailableCash()
	if pool := s.ledger.CashPool(); acct.AllowLeverage && pool != nil {
		cash += pool.Available()
	}
	return cash
}

// marketBuyCost prices a market buy against the current asks; quantity the
// book cannot fill is priced at the reference price plus the slippage
// buffer.
func (s *OrderService) marketBuyCost(o *domain.Order) (int64, error) {
	notional, fillable := s.books.GetOrCreate(o.Instrument).EstimateCost(o.RemainingQuantity, domain.OrderSideBuy)
	unfillable := o.RemainingQuantity - fillable
	if unfillable == 0 {
		return notional, nil
	}
	ref, ok := s.prices.ReferencePrice(o.Instrument)
	if !ok {
		return 0, domain.Reject(domain.ErrNoReferencePrice,
			"no reference price for %s to price %d unfillable shares", o.Instrument, unfillable)
	}
	return notional + unfillable*domain.ScaleCents(ref, domain.MarketBuyBuffer), nil
}

func (s *OrderService) reject(in domain.OrderIntent, o *domain.Order, err error) {
	r := domain.Rejection{
		Round:      s.orders.Round(),
		AgentID:    in.AgentID,
		Instrument: in.Instrument,
		Side:       in.Side,
		Type:       in.Type,
		Quantity:   in.Quantity,
		Message:    err.Error(),
	}
	var ve *domain.ValidationError
	if errors.As(err, &ve) && ve.Reason != nil {
		r.Reason = ve.Reason.Error()
	}
	if o != nil {
		r.OrderID = o.OrderID
	}
	s.rejections = append(s.rejections, r)
	s.logger.Info("order rejected",
		slog.String("agent_id", r.AgentID),
		slog.String("order_id", r.OrderID),
		slog.String("reason", r.Reason),
		slog.String("message", r.Message),
	)
}

// DrainRejections returns the rejections recorded since the last call.
func (s *OrderService) DrainRejections() []domain.Rejection {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.rejections
	s.rejections = nil
	return out
}

// GetOrder returns a copy of an order with its trades and history.
func (s *OrderService) GetOrder(orderID string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, err := s.orders.Get(orderID)
	if err != nil {
		return nil, err
	}
	return o.Clone(), nil
}

// Cancel cancels an open order and releases its reservation.
func (s *OrderService) Cancel(orderID string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.matcher.CancelOrder(orderID, "cancelled by agent")
}

// CancelAll cancels every open order of agentID.
func (s *OrderService) CancelAll(agentID string) ([]*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.accounts.Exists(agentID) {
		return nil, domain.ErrAgentNotFound
	}
	return s.matcher.CancelAll(agentID, "replaced by agent")
}

// OpenOrders returns the agent's non-terminal orders in submission order.
func (s *OrderService) OpenOrders(agentID string) []*domain.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.orders.OpenByAgent(agentID)
}

// ListOrders returns a paginated list of orders for an agent with optional
// state filtering.
func (s *OrderService) ListOrders(agentID string, state *domain.OrderState, page, limit int) ([]*domain.Order, int, error) {
	if !s.accounts.Exists(agentID) {
		return nil, 0, domain.ErrAgentNotFound
	}
	if state != nil && !state.IsValid() {
		return nil, 0, domain.Reject(domain.ErrInvalidOrder, "invalid state filter: '%s'", *state)
	}
	if page < 1 {
		return nil, 0, domain.Reject(domain.ErrInvalidOrder, "page must be >= 1")
	}
	if limit < 1 || limit > 100 {
		return nil, 0, domain.Reject(domain.ErrInvalidOrder, "limit must be between 1 and 100")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	orders, total := s.orders.ListByAgent(agentID, state, page, limit)
	for i, o := range orders {
		orders[i] = o.Clone()
	}
	return orders, total, nil
}
