package portfolio

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/minkyow/trademirror/pkg/core"
)

// versionedDoc wraps a portfolio with its optimistic-concurrency token
type versionedDoc struct {
	Version   Version    `json:"version"`
	Portfolio *Portfolio `json:"portfolio"`
}

// PebbleStore persists portfolios, orders, trades and transactions in
// Pebble. Portfolio documents carry a version counter; CompareAndSet
// serializes the read-check-write cycle under casMu while plain reads
// and history appends go straight to the database.
type PebbleStore struct {
	db    *pebble.DB
	casMu sync.Mutex // guards the version check in Create/CompareAndSet
}

// NewPebbleStore opens a Pebble database at the given path
func NewPebbleStore(dbPath string) (*PebbleStore, error) {
	opts := &pebble.Options{
		Cache:        pebble.NewCache(64 << 20), // 64MB cache
		MemTableSize: 32 << 20,                  // 32MB memtable
		MaxOpenFiles: 1000,
	}

	db, err := pebble.Open(dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", dbPath, err)
	}
	return &PebbleStore{db: db}, nil
}

// Close closes the database
func (s *PebbleStore) Close() error {
	return s.db.Close()
}

// Create registers an empty portfolio for a user
func (s *PebbleStore) Create(userID string) error {
	s.casMu.Lock()
	defer s.casMu.Unlock()

	key := portfolioKey(userID)
	_, closer, err := s.db.Get(key)
	if err == nil {
		closer.Close()
		return fmt.Errorf("%w: %s", ErrExists, userID)
	}
	if err != pebble.ErrNotFound {
		return fmt.Errorf("failed to check portfolio: %w", err)
	}

	return s.writeDocLocked(userID, versionedDoc{Version: 1, Portfolio: New(userID)})
}

// Get returns a private copy of the portfolio plus its version token
func (s *PebbleStore) Get(userID string) (*Portfolio, Version, error) {
	data, closer, err := s.db.Get(portfolioKey(userID))
	if err == pebble.ErrNotFound {
		return nil, 0, fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get portfolio: %w", err)
	}
	defer closer.Close()

	var doc versionedDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, 0, fmt.Errorf("failed to unmarshal portfolio: %w", err)
	}
	if doc.Portfolio.Holdings == nil {
		doc.Portfolio.Holdings = make(map[string]*Holding)
	}
	return doc.Portfolio, doc.Version, nil
}

// CompareAndSet writes p iff the stored version still equals expected.
// On success the stored version advances by one.
func (s *PebbleStore) CompareAndSet(userID string, p *Portfolio, expected Version) error {
	s.casMu.Lock()
	defer s.casMu.Unlock()

	data, closer, err := s.db.Get(portfolioKey(userID))
	if err == pebble.ErrNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	if err != nil {
		return fmt.Errorf("failed to get portfolio: %w", err)
	}
	var doc versionedDoc
	uerr := json.Unmarshal(data, &doc)
	closer.Close()
	if uerr != nil {
		return fmt.Errorf("failed to unmarshal portfolio: %w", uerr)
	}

	if doc.Version != expected {
		return fmt.Errorf("%w: %s stored=%d expected=%d", ErrConflict, userID, doc.Version, expected)
	}

	return s.writeDocLocked(userID, versionedDoc{Version: expected + 1, Portfolio: p})
}

func (s *PebbleStore) writeDocLocked(userID string, doc versionedDoc) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal portfolio: %w", err)
	}
	if err := s.db.Set(portfolioKey(userID), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save portfolio: %w", err)
	}
	return nil
}

// RecordSettlement atomically marks the trade settled and appends it to
// the trade history log in a single batch commit.
func (s *PebbleStore) RecordSettlement(t core.MatchedTrade) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal trade: %w", err)
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(settledKey(t.Key()), []byte{1}, nil); err != nil {
		return err
	}
	if err := batch.Set(tradeKey(t.Symbol, t.Timestamp, t.Key()), data, nil); err != nil {
		return err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit settlement record: %w", err)
	}
	return nil
}

// IsSettled reports whether a trade key already has a dedup marker
func (s *PebbleStore) IsSettled(dedupKey string) (bool, error) {
	_, closer, err := s.db.Get(settledKey(dedupKey))
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check settled marker: %w", err)
	}
	closer.Close()
	return true, nil
}

// RecentTrades returns up to limit trades for a symbol, newest first
func (s *PebbleStore) RecentTrades(symbol string, limit int) ([]core.MatchedTrade, error) {
	prefix := tradePrefix(symbol)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var trades []core.MatchedTrade
	for iter.Last(); iter.Valid() && len(trades) < limit; iter.Prev() {
		var t core.MatchedTrade
		if err := json.Unmarshal(iter.Value(), &t); err != nil {
			continue // Skip invalid entries
		}
		trades = append(trades, t)
	}
	return trades, nil
}

// SaveOrder persists an order record
func (s *PebbleStore) SaveOrder(rec OrderRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal order: %w", err)
	}
	if err := s.db.Set(orderKey(rec.UserID, rec.OrderID), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}
	return nil
}

// GetOrder loads an order record, nil if absent
func (s *PebbleStore) GetOrder(userID, orderID string) (*OrderRecord, error) {
	data, closer, err := s.db.Get(orderKey(userID, orderID))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	defer closer.Close()

	var rec OrderRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order: %w", err)
	}
	return &rec, nil
}

// OpenOrders returns all order records for a user still marked open
func (s *PebbleStore) OpenOrders(userID string) ([]OrderRecord, error) {
	prefix := orderPrefix(userID)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var orders []OrderRecord
	for iter.First(); iter.Valid(); iter.Next() {
		var rec OrderRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			continue // Skip invalid entries
		}
		if rec.Status == "open" {
			orders = append(orders, rec)
		}
	}
	return orders, nil
}

// AppendTransaction records a settled cash movement for a user
func (s *PebbleStore) AppendTransaction(userID string, txn Transaction) error {
	data, err := json.Marshal(txn)
	if err != nil {
		return fmt.Errorf("failed to marshal transaction: %w", err)
	}
	key := txnKey(userID, txn.Timestamp, txn.OrderID)
	if err := s.db.Set(key, data, pebble.NoSync); err != nil { // NoSync: history, not state of record
		return fmt.Errorf("failed to save transaction: %w", err)
	}
	return nil
}

// Transactions returns up to limit transactions for a user, newest first
func (s *PebbleStore) Transactions(userID string, limit int) ([]Transaction, error) {
	prefix := txnPrefix(userID)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var txns []Transaction
	for iter.Last(); iter.Valid() && len(txns) < limit; iter.Prev() {
		var txn Transaction
		if err := json.Unmarshal(iter.Value(), &txn); err != nil {
			continue
		}
		txns = append(txns, txn)
	}
	return txns, nil
}

// SaveCursor persists the last observed ledger sequence position
func (s *PebbleStore) SaveCursor(pos uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, pos)
	if err := s.db.Set([]byte(keyCursor), buf, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}

// LoadCursor returns the last observed ledger sequence position, 0 if none
func (s *PebbleStore) LoadCursor() (uint64, error) {
	data, closer, err := s.db.Get([]byte(keyCursor))
	if err == pebble.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load cursor: %w", err)
	}
	defer closer.Close()
	if len(data) != 8 {
		return 0, fmt.Errorf("corrupt cursor value: %d bytes", len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}
