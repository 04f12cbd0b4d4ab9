package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/efreitasn/marketsim/internal/domain"
	"github.com/efreitasn/marketsim/internal/engine"
	"github.com/efreitasn/marketsim/internal/service"
	"github.com/efreitasn/marketsim/internal/sim"
)

// ReportHandler serves read-only views of the market, accounts and orders.
type ReportHandler struct {
	orderSvc   *service.OrderService
	accountSvc *service.AccountService
	marketSvc  *service.MarketService
	rounds     RoundSource
}

// NewReportHandler creates a new ReportHandler.
func NewReportHandler(orderSvc *service.OrderService, accountSvc *service.AccountService, marketSvc *service.MarketService, rounds RoundSource) *ReportHandler {
	return &ReportHandler{
		orderSvc:   orderSvc,
		accountSvc: accountSvc,
		marketSvc:  marketSvc,
		rounds:     rounds,
	}
}

type bookLevelResponse struct {
	Price         float64 `json:"price"`
	TotalQuantity int64   `json:"total_quantity"`
	OrderCount    int     `json:"order_count"`
}

type tradeResponse struct {
	TradeID     string  `json:"trade_id"`
	Instrument  string  `json:"instrument"`
	BuyerID     string  `json:"buyer_id"`
	SellerID    string  `json:"seller_id"`
	BuyOrderID  string  `json:"buy_order_id"`
	SellOrderID string  `json:"sell_order_id"`
	Price       float64 `json:"price"`
	Quantity    int64   `json:"quantity"`
	Round       int     `json:"round"`
	ExecutedAt  string  `json:"executed_at"`
}

// bookResponse is the JSON response for GET /instruments/{instrument}/book.
type bookResponse struct {
	Instrument     string              `json:"instrument"`
	BestBid        *float64            `json:"best_bid"`
	BestAsk        *float64            `json:"best_ask"`
	Midpoint       *float64            `json:"midpoint"`
	Spread         *float64            `json:"spread"`
	ReferencePrice *float64            `json:"reference_price"`
	Bids           []bookLevelResponse `json:"bids"`
	Asks           []bookLevelResponse `json:"asks"`
	LastTrade      *tradeResponse      `json:"last_trade"`
}

type positionResponse struct {
	Instrument        string `json:"instrument"`
	Quantity          int64  `json:"quantity"`
	Committed         int64  `json:"committed"`
	Available         int64  `json:"available"`
	Borrowed          int64  `json:"borrowed"`
	BorrowedCommitted int64  `json:"borrowed_committed"`
}

// balanceResponse is the JSON response for GET /agents/{agent_id}/balance.
type balanceResponse struct {
	AgentID       string             `json:"agent_id"`
	CashBalance   float64            `json:"cash_balance"`
	CommittedCash float64            `json:"committed_cash"`
	AvailableCash float64            `json:"available_cash"`
	BorrowedCash  float64            `json:"borrowed_cash"`
	Positions     []positionResponse `json:"positions"`
}

// orderSummaryResponse is a single order in the order listing (no trades
// or history).
type orderSummaryResponse struct {
	OrderID           string   `json:"order_id"`
	Instrument        string   `json:"instrument"`
	Side              string   `json:"side"`
	Type              string   `json:"type"`
	Price             *float64 `json:"price"`
	Quantity          int64    `json:"quantity"`
	FilledQuantity    int64    `json:"filled_quantity"`
	RemainingQuantity int64    `json:"remaining_quantity"`
	CancelledQuantity int64    `json:"cancelled_quantity"`
	State             string   `json:"state"`
	Round             int      `json:"round"`
	ExpiresRound      *int     `json:"expires_round"`
	AveragePrice      *float64 `json:"average_price"`
	CreatedAt         string   `json:"created_at"`
}

type orderListResponse struct {
	Orders []orderSummaryResponse `json:"orders"`
	Total  int                    `json:"total"`
	Page   int                    `json:"page"`
	Limit  int                    `json:"limit"`
}

type historyResponse struct {
	At                string  `json:"at"`
	Round             int     `json:"round"`
	From              string  `json:"from"`
	To                string  `json:"to"`
	FilledQuantity    int64   `json:"filled_quantity"`
	RemainingQuantity int64   `json:"remaining_quantity"`
	Price             float64 `json:"price"`
	FillQuantity      int64   `json:"fill_quantity,omitempty"`
	FillPrice         float64 `json:"fill_price,omitempty"`
	ReservedCash      float64 `json:"reserved_cash"`
	ReservedShares    int64   `json:"reserved_shares"`
	Note              string  `json:"note,omitempty"`
}

// orderResponse is the JSON response for GET /orders/{order_id}.
type orderResponse struct {
	orderSummaryResponse
	Aggressive     bool              `json:"aggressive"`
	PartialCommit  bool              `json:"partial_commit"`
	BorrowedShares int64             `json:"borrowed_shares"`
	BorrowedCash   float64           `json:"borrowed_cash"`
	Trades         []tradeResponse   `json:"trades"`
	History        []historyResponse `json:"history"`
}

// GetBook handles GET /instruments/{instrument}/book.
func (h *ReportHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	snap, err := h.marketSvc.Snapshot(chi.URLParam(r, "instrument"))
	if err != nil {
		mapError(w, err)
		return
	}

	resp := bookResponse{
		Instrument:     snap.Instrument,
		BestBid:        dollars(snap.BestBid),
		BestAsk:        dollars(snap.BestAsk),
		Midpoint:       dollars(snap.Midpoint),
		Spread:         dollars(snap.Spread),
		ReferencePrice: dollars(snap.ReferencePrice),
		Bids:           buildLevels(snap.Bids),
		Asks:           buildLevels(snap.Asks),
	}
	if snap.LastTrade != nil {
		t := buildTradeResponse(snap.LastTrade)
		resp.LastTrade = &t
	}
	WriteJSON(w, http.StatusOK, resp)
}

// GetBalance handles GET /agents/{agent_id}/balance.
func (h *ReportHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	b, err := h.accountSvc.GetBalance(chi.URLParam(r, "agent_id"))
	if err != nil {
		mapError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildBalanceResponse(b))
}

// ListOrders handles GET /agents/{agent_id}/orders.
func (h *ReportHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agent_id")

	var stateFilter *domain.OrderState
	if s := r.URL.Query().Get("state"); s != "" {
		state := domain.OrderState(s)
		stateFilter = &state
	}
	page, ok := queryInt(r, "page", 1)
	if !ok {
		WriteError(w, http.StatusBadRequest, "validation_error", "page must be a valid integer")
		return
	}
	limit, ok := queryInt(r, "limit", 20)
	if !ok {
		WriteError(w, http.StatusBadRequest, "validation_error", "limit must be a valid integer")
		return
	}

	orders, total, err := h.orderSvc.ListOrders(agentID, stateFilter, page, limit)
	if err != nil {
		mapError(w, err)
		return
	}

	summaries := make([]orderSummaryResponse, len(orders))
	for i, o := range orders {
		summaries[i] = buildOrderSummary(o)
	}
	WriteJSON(w, http.StatusOK, orderListResponse{
		Orders: summaries,
		Total:  total,
		Page:   page,
		Limit:  limit,
	})
}

// GetOrder handles GET /orders/{order_id}.
func (h *ReportHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orderSvc.GetOrder(chi.URLParam(r, "order_id"))
	if err != nil {
		mapError(w, err)
		return
	}

	resp := orderResponse{
		orderSummaryResponse: buildOrderSummary(o),
		Aggressive:           o.Aggressive,
		PartialCommit:        o.PartialCommit,
		BorrowedShares:       o.BorrowedShares,
		BorrowedCash:         domain.CentsToDollars(o.BorrowedCash),
		Trades:               make([]tradeResponse, len(o.Trades)),
		History:              make([]historyResponse, len(o.History)),
	}
	for i, t := range o.Trades {
		resp.Trades[i] = buildTradeResponse(t)
	}
	for i, e := range o.History {
		resp.History[i] = historyResponse{
			At:                timestamp(e.At),
			Round:             e.Round,
			From:              string(e.From),
			To:                string(e.To),
			FilledQuantity:    e.FilledQuantity,
			RemainingQuantity: e.RemainingQuantity,
			Price:             domain.CentsToDollars(e.Price),
			FillQuantity:      e.FillQuantity,
			FillPrice:         domain.CentsToDollars(e.FillPrice),
			ReservedCash:      domain.CentsToDollars(e.Cash.Current),
			ReservedShares:    e.Shares.Current,
			Note:              e.Note,
		}
	}
	WriteJSON(w, http.StatusOK, resp)
}

// LatestRound handles GET /rounds/latest.
func (h *ReportHandler) LatestRound(w http.ResponseWriter, r *http.Request) {
	res := h.rounds.Latest()
	if res == nil {
		WriteError(w, http.StatusNotFound, "round_not_found", "no round has completed yet")
		return
	}
	WriteJSON(w, http.StatusOK, buildRoundResponse(res))
}

func dollars(c *int64) *float64 {
	if c == nil {
		return nil
	}
	v := domain.CentsToDollars(*c)
	return &v
}

func buildLevels(levels []engine.PriceLevel) []bookLevelResponse {
	out := make([]bookLevelResponse, len(levels))
	for i, l := range levels {
		out[i] = bookLevelResponse{
			Price:         domain.CentsToDollars(l.Price),
			TotalQuantity: l.TotalQuantity,
			OrderCount:    l.OrderCount,
		}
	}
	return out
}

func buildTradeResponse(t *domain.Trade) tradeResponse {
	return tradeResponse{
		TradeID:     t.TradeID,
		Instrument:  t.Instrument,
		BuyerID:     t.BuyerID,
		SellerID:    t.SellerID,
		BuyOrderID:  t.BuyOrderID,
		SellOrderID: t.SellOrderID,
		Price:       domain.CentsToDollars(t.Price),
		Quantity:    t.Quantity,
		Round:       t.Round,
		ExecutedAt:  timestamp(t.ExecutedAt),
	}
}

func buildBalanceResponse(b domain.AccountBalance) balanceResponse {
	positions := make([]positionResponse, len(b.Positions))
	for i, p := range b.Positions {
		positions[i] = positionResponse(p)
	}
	return balanceResponse{
		AgentID:       b.AgentID,
		CashBalance:   domain.CentsToDollars(b.CashBalance),
		CommittedCash: domain.CentsToDollars(b.CommittedCash),
		AvailableCash: domain.CentsToDollars(b.AvailableCash),
		BorrowedCash:  domain.CentsToDollars(b.BorrowedCash),
		Positions:     positions,
	}
}

// buildOrderSummary converts an order. Price is null for a market order
// that has not been repriced.
func buildOrderSummary(o *domain.Order) orderSummaryResponse {
	s := orderSummaryResponse{
		OrderID:           o.OrderID,
		Instrument:        o.Instrument,
		Side:              string(o.Side),
		Type:              string(o.Type),
		Quantity:          o.Quantity,
		FilledQuantity:    o.FilledQuantity,
		RemainingQuantity: o.RemainingQuantity,
		CancelledQuantity: o.CancelledQuantity,
		State:             string(o.State),
		Round:             o.Round,
		CreatedAt:         timestamp(o.CreatedAt),
	}
	if o.Price > 0 {
		p := domain.CentsToDollars(o.Price)
		s.Price = &p
	}
	if o.ExpiresRound > 0 {
		e := o.ExpiresRound
		s.ExpiresRound = &e
	}
	if avg, ok := o.AveragePrice(); ok {
		a := domain.CentsToDollars(avg)
		s.AveragePrice = &a
	}
	return s
}

// roundResponse is the JSON body of GET /rounds/latest and of every
// /ws/rounds message.
type roundResponse struct {
	Round           int                `json:"round"`
	Trades          []tradeResponse    `json:"trades"`
	Volume          int64              `json:"volume"`
	Expired         []string           `json:"expired_order_ids"`
	Rejections      []domain.Rejection `json:"rejections"`
	ReferencePrices map[string]float64 `json:"reference_prices"`
}

func buildRoundResponse(res *sim.RoundResult) roundResponse {
	resp := roundResponse{
		Round:           res.Round,
		Trades:          []tradeResponse{},
		Expired:         res.Expired,
		Rejections:      res.Rejections,
		ReferencePrices: make(map[string]float64, len(res.ReferencePrices)),
	}
	for _, t := range res.Trades() {
		resp.Trades = append(resp.Trades, buildTradeResponse(t))
		resp.Volume += t.Quantity
	}
	for inst, p := range res.ReferencePrices {
		resp.ReferencePrices[inst] = domain.CentsToDollars(p)
	}
	return resp
}

// mapError maps domain errors to HTTP responses.
func mapError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		WriteError(w, http.StatusBadRequest, "validation_error", validationErr.Message)
		return
	}

	switch {
	case errors.Is(err, domain.ErrAgentNotFound):
		WriteError(w, http.StatusNotFound, "agent_not_found", err.Error())
	case errors.Is(err, domain.ErrOrderNotFound):
		WriteError(w, http.StatusNotFound, "order_not_found", err.Error())
	case errors.Is(err, domain.ErrInstrumentNotFound):
		WriteError(w, http.StatusNotFound, "instrument_not_found", err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}
