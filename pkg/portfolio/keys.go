package portfolio

import "fmt"

// Pebble key schema for efficient queries
// Design principles:
// 1. Prefix-based for range scans (all trades for a symbol, all orders for a user)
// 2. Zero-padded timestamps for lexicographic time ordering
// 3. User ID as the primary grouping key for ownership

// Key prefixes
const (
	prefixPortfolio = "pf:"      // versioned portfolio document
	prefixTrade     = "trade:"   // append-only trade history
	prefixOrder     = "ord:"     // order records
	prefixTxn       = "txn:"     // per-user transaction records
	prefixSettled   = "settled:" // settlement dedup markers
	keyCursor       = "cursor:ledger"
)

// portfolioKey returns the key for a user's portfolio document
// Format: "pf:{userID}"
func portfolioKey(userID string) []byte {
	return []byte(prefixPortfolio + userID)
}

// tradeKey returns the key for a trade history entry
// Format: "trade:{symbol}:{timestamp}:{dedupKey}"
// Timestamp is zero-padded (20 digits) for lexicographic sorting
func tradeKey(symbol string, timestamp int64, dedupKey string) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", prefixTrade, symbol, timestamp, dedupKey))
}

// tradePrefix returns the prefix for all trades of a symbol
func tradePrefix(symbol string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixTrade, symbol))
}

// orderKey returns the key for an order record
// Format: "ord:{userID}:{orderID}"
func orderKey(userID, orderID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixOrder, userID, orderID))
}

// orderPrefix returns the prefix for all orders of a user
func orderPrefix(userID string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixOrder, userID))
}

// txnKey returns the key for a transaction record
// Format: "txn:{userID}:{timestamp}:{orderID}"
func txnKey(userID string, timestamp int64, orderID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", prefixTxn, userID, timestamp, orderID))
}

// txnPrefix returns the prefix for all transactions of a user
func txnPrefix(userID string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixTxn, userID))
}

// settledKey returns the dedup marker key for a trade
// Format: "settled:{buyOrderID}:{sellOrderID}"
func settledKey(dedupKey string) []byte {
	return []byte(prefixSettled + dedupKey)
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
