package domain

// OrderIntent is what an agent asks the market to do. Price is required for
// limit orders and must be nil for market orders.
type OrderIntent struct {
	AgentID    string
	Instrument string
	Side       OrderSide
	Type       OrderType
	Quantity   int64
	Price      *int64 // cents
	TTLRounds  int
}

// Limit builds a limit intent.
func Limit(agentID, instrument string, side OrderSide, quantity, price int64) OrderIntent {
	return OrderIntent{
		AgentID:    agentID,
		Instrument: instrument,
		Side:       side,
		Type:       OrderTypeLimit,
		Quantity:   quantity,
		Price:      &price,
	}
}

// Market builds a market intent.
func Market(agentID, instrument string, side OrderSide, quantity int64) OrderIntent {
	return OrderIntent{
		AgentID:    agentID,
		Instrument: instrument,
		Side:       side,
		Type:       OrderTypeMarket,
		Quantity:   quantity,
	}
}

// Rejection records a recoverable failure to accept an order.
type Rejection struct {
	Round      int       `json:"round"`
	AgentID    string    `json:"agent_id"`
	OrderID    string    `json:"order_id"` // empty when no order was created
	Instrument string    `json:"instrument"`
	Side       OrderSide `json:"side"`
	Type       OrderType `json:"type"`
	Quantity   int64     `json:"quantity"`
	Reason     string    `json:"reason"`
	Message    string    `json:"message"`
}
