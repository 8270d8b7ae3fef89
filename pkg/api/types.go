package api

// API response types for REST endpoints and WebSocket messages

// ==============================
// REST Types
// ==============================

// OrderbookSnapshot represents current book state for a symbol
type OrderbookSnapshot struct {
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"`      // Sorted high to low
	Asks      []PriceLevel `json:"asks"`      // Sorted low to high
	Timestamp int64        `json:"timestamp"` // Unix milliseconds
}

// PriceLevel represents an aggregated (price, qty) tuple
type PriceLevel struct {
	Price int64 `json:"price"` // ticks
	Qty   int64 `json:"qty"`   // lots
}

// TradeInfo represents a settled trade
type TradeInfo struct {
	Symbol    string `json:"symbol"`
	Price     int64  `json:"price"`
	Qty       int64  `json:"qty"`
	BuyerID   string `json:"buyerId"`
	SellerID  string `json:"sellerId"`
	Timestamp int64  `json:"timestamp"`
}

// HoldingInfo represents one position inside a portfolio
type HoldingInfo struct {
	Symbol      string  `json:"symbol"`
	Shares      int64   `json:"shares"`
	AverageCost float64 `json:"averageCost"`
	MarketValue int64   `json:"marketValue"`
	Fraction    float64 `json:"fraction"`
}

// PortfolioInfo represents a user's cash and holdings
type PortfolioInfo struct {
	UserID     string        `json:"userId"`
	Cash       int64         `json:"cash"`
	TotalValue int64         `json:"totalValue"`
	Holdings   []HoldingInfo `json:"holdings"`
}

// CreatePortfolioRequest is the payload for POST /api/v1/portfolios
type CreatePortfolioRequest struct {
	UserID string `json:"userId"`
}

// DepositRequest is the payload for POST /api/v1/portfolios/{userId}/deposit
type DepositRequest struct {
	Amount int64 `json:"amount"` // cents
}

// CancelOrderRequest is the payload for POST /api/v1/orders/cancel
type CancelOrderRequest struct {
	UserID  string `json:"userId"`
	OrderID string `json:"orderId"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by a client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g. ["trades:ACME", "orderbook:ACME"]
}

// TradeUpdate is broadcast on the "trades:{symbol}" channel when a
// trade settles
type TradeUpdate struct {
	Type      string `json:"type"` // "trade"
	Symbol    string `json:"symbol"`
	Price     int64  `json:"price"`
	Qty       int64  `json:"qty"`
	Timestamp int64  `json:"timestamp"`
}

// OrderbookUpdate is broadcast on the "orderbook:{symbol}" channel
type OrderbookUpdate struct {
	Type      string       `json:"type"` // "orderbook"
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp int64        `json:"timestamp"`
}
