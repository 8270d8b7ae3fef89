package portfolio

import (
	"fmt"
	"sort"
	"sync"

	"github.com/minkyow/trademirror/pkg/core"
)

// MemoryStore is the in-memory reference implementation of Store.
// Semantics mirror PebbleStore exactly (versioned compare-and-set,
// atomic settlement records); used in tests and single-process setups.
type MemoryStore struct {
	mu         sync.Mutex
	portfolios map[string]*versionedDoc
	trades     map[string][]core.MatchedTrade // symbol -> append order
	orders     map[string]OrderRecord         // userID:orderID
	txns       map[string][]Transaction       // userID -> append order
	settled    map[string]bool
	cursor     uint64
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		portfolios: make(map[string]*versionedDoc),
		trades:     make(map[string][]core.MatchedTrade),
		orders:     make(map[string]OrderRecord),
		txns:       make(map[string][]Transaction),
		settled:    make(map[string]bool),
	}
}

// Close is a no-op for the in-memory store
func (s *MemoryStore) Close() error { return nil }

// Create registers an empty portfolio for a user
func (s *MemoryStore) Create(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.portfolios[userID]; ok {
		return fmt.Errorf("%w: %s", ErrExists, userID)
	}
	s.portfolios[userID] = &versionedDoc{Version: 1, Portfolio: New(userID)}
	return nil
}

// Get returns a deep copy of the portfolio plus its version token
func (s *MemoryStore) Get(userID string) (*Portfolio, Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.portfolios[userID]
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	return doc.Portfolio.Clone(), doc.Version, nil
}

// CompareAndSet writes p iff the stored version still equals expected
func (s *MemoryStore) CompareAndSet(userID string, p *Portfolio, expected Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.portfolios[userID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	if doc.Version != expected {
		return fmt.Errorf("%w: %s stored=%d expected=%d", ErrConflict, userID, doc.Version, expected)
	}
	s.portfolios[userID] = &versionedDoc{Version: expected + 1, Portfolio: p.Clone()}
	return nil
}

// RecordSettlement marks the trade settled and appends it to history
func (s *MemoryStore) RecordSettlement(t core.MatchedTrade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settled[t.Key()] = true
	s.trades[t.Symbol] = append(s.trades[t.Symbol], t)
	return nil
}

// IsSettled reports whether a trade key already settled
func (s *MemoryStore) IsSettled(dedupKey string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settled[dedupKey], nil
}

// RecentTrades returns up to limit trades for a symbol, newest first
func (s *MemoryStore) RecentTrades(symbol string, limit int) ([]core.MatchedTrade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.trades[symbol]
	out := make([]core.MatchedTrade, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

// SaveOrder persists an order record
func (s *MemoryStore) SaveOrder(rec OrderRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[rec.UserID+":"+rec.OrderID] = rec
	return nil
}

// GetOrder loads an order record, nil if absent
func (s *MemoryStore) GetOrder(userID, orderID string) (*OrderRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.orders[userID+":"+orderID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// OpenOrders returns all order records for a user still marked open
func (s *MemoryStore) OpenOrders(userID string) ([]OrderRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []OrderRecord
	for _, rec := range s.orders {
		if rec.UserID == userID && rec.Status == "open" {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

// AppendTransaction records a settled cash movement for a user
func (s *MemoryStore) AppendTransaction(userID string, txn Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txns[userID] = append(s.txns[userID], txn)
	return nil
}

// Transactions returns up to limit transactions for a user, newest first
func (s *MemoryStore) Transactions(userID string, limit int) ([]Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.txns[userID]
	out := make([]Transaction, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

// SaveCursor persists the last observed ledger sequence position
func (s *MemoryStore) SaveCursor(pos uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = pos
	return nil
}

// LoadCursor returns the last observed ledger sequence position
func (s *MemoryStore) LoadCursor() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor, nil
}
