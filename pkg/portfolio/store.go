package portfolio

import (
	"errors"

	"github.com/minkyow/trademirror/pkg/core"
)

// Version is the optimistic-concurrency token handed out with every read.
// A write conditioned on a stale version fails with ErrConflict and the
// caller retries from a fresh read.
type Version uint64

var (
	// ErrNotFound means the user has no portfolio (never registered)
	ErrNotFound = errors.New("portfolio not found")

	// ErrConflict means the portfolio changed between read and write
	ErrConflict = errors.New("portfolio version conflict")

	// ErrExists means Create was called for a user that already has a portfolio
	ErrExists = errors.New("portfolio already exists")
)

// OrderRecord is the persisted bookkeeping view of an order
type OrderRecord struct {
	OrderID   string `json:"orderId"`
	UserID    string `json:"userId"`
	Symbol    string `json:"symbol"`
	Side      string `json:"side"`
	Type      string `json:"type"`
	Price     int64  `json:"price"`
	Qty       int64  `json:"qty"`    // original quantity
	Filled    int64  `json:"filled"` // cumulative filled quantity
	Status    string `json:"status"` // "open", "filled", "cancelled"
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

// Transaction is one settled cash movement on a user's account
type Transaction struct {
	OrderID   string `json:"orderId"`
	TradeKey  string `json:"tradeKey"`
	Symbol    string `json:"symbol"`
	Qty       int64  `json:"qty"`
	Price     int64  `json:"price"`
	Amount    int64  `json:"amount"` // signed cash delta in cents
	Timestamp int64  `json:"timestamp"`
}

// Store is the persistence boundary for portfolios and trade bookkeeping.
// Any key-value or relational backend satisfying these semantics is
// interchangeable; the settlement processor only relies on:
//   - Get/CompareAndSet forming an optimistic read-modify-write cycle
//   - RecordSettlement being atomic (dedup marker + history in one commit)
type Store interface {
	// Create registers an empty portfolio. Returns ErrExists if present.
	Create(userID string) error

	// Get returns a private copy of the portfolio and its version token.
	// Returns ErrNotFound for unknown users.
	Get(userID string) (*Portfolio, Version, error)

	// CompareAndSet writes the portfolio iff the stored version still
	// equals expected. Returns ErrConflict otherwise.
	CompareAndSet(userID string, p *Portfolio, expected Version) error

	// RecordSettlement atomically marks the trade's dedup key settled and
	// appends the trade to the append-only history log.
	RecordSettlement(t core.MatchedTrade) error

	// IsSettled reports whether a trade key was already settled
	IsSettled(tradeKey string) (bool, error)

	// RecentTrades returns up to limit trades for a symbol, newest first
	RecentTrades(symbol string, limit int) ([]core.MatchedTrade, error)

	// Order bookkeeping
	SaveOrder(rec OrderRecord) error
	GetOrder(userID, orderID string) (*OrderRecord, error)
	OpenOrders(userID string) ([]OrderRecord, error)

	// AppendTransaction records a settled cash movement for a user
	AppendTransaction(userID string, txn Transaction) error
	Transactions(userID string, limit int) ([]Transaction, error)

	// Ledger stream cursor: last observed sequence position, so the event
	// listener resumes after a disconnect without missing trades.
	SaveCursor(pos uint64) error
	LoadCursor() (uint64, error)

	Close() error
}
