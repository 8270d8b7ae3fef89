package core

import "fmt"

// MatchedTrade is the result of pairing a buy and a sell order.
// It is immutable once produced: the settlement pipeline appends it to the
// trade history log and never mutates or deletes it.
//
// Price is always the maker price (the price of the order that was resting
// in the book), never the taker's limit. This tie-break keeps matching
// deterministic and fair under price-time priority.
type MatchedTrade struct {
	BuyOrderID  string `json:"buyOrderId"`
	SellOrderID string `json:"sellOrderId"`
	Symbol      string `json:"symbol"`
	Qty         int64  `json:"qty"`   // lots
	Price       int64  `json:"price"` // ticks (maker price)
	BuyerID     string `json:"buyerId"`
	SellerID    string `json:"sellerId"`
	Timestamp   int64  `json:"timestamp"` // Unix milliseconds
}

// Key identifies a trade for settlement deduplication.
// Two deliveries of the same (buy, sell) pairing settle at most once.
func (t *MatchedTrade) Key() string {
	return fmt.Sprintf("%s:%s", t.BuyOrderID, t.SellOrderID)
}

// Notional returns the cash leg of the trade (qty × price).
func (t *MatchedTrade) Notional() int64 {
	return t.Qty * t.Price
}
