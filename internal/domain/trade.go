package domain

import (
	"fmt"
	"time"
)

// Trade is a matched execution between a buy and a sell order. Trades are
// created once by the matching engine and never mutated.
type Trade struct {
	TradeID     string    `json:"trade_id"`
	Instrument  string    `json:"instrument"`
	BuyerID     string    `json:"buyer_id"`
	SellerID    string    `json:"seller_id"`
	BuyOrderID  string    `json:"buy_order_id"`
	SellOrderID string    `json:"sell_order_id"`
	Price       int64     `json:"price"` // cents
	Quantity    int64     `json:"quantity"`
	Round       int       `json:"round"`
	ExecutedAt  time.Time `json:"executed_at"`
}

// NewTrade builds a trade between buy and sell. It rejects non-positive
// price or quantity.
func NewTrade(id string, buy, sell *Order, price, quantity int64, round int, at time.Time) (*Trade, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("trade quantity must be positive, got %d", quantity)
	}
	if price <= 0 {
		return nil, fmt.Errorf("trade price must be positive, got %d", price)
	}
	return &Trade{
		TradeID:     id,
		Instrument:  buy.Instrument,
		BuyerID:     buy.AgentID,
		SellerID:    sell.AgentID,
		BuyOrderID:  buy.OrderID,
		SellOrderID: sell.OrderID,
		Price:       price,
		Quantity:    quantity,
		Round:       round,
		ExecutedAt:  at,
	}, nil
}

// Value is quantity × price in cents.
func (t *Trade) Value() int64 {
	return t.Price * t.Quantity
}
