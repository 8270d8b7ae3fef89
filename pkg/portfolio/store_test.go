package portfolio

import (
	"errors"
	"testing"

	"github.com/minkyow/trademirror/pkg/core"
)

func TestStoreCreateAndGet(t *testing.T) {
	s := NewMemoryStore()

	if err := s.Create("alice"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Create("alice"); !errors.Is(err, ErrExists) {
		t.Fatalf("second create err = %v, want ErrExists", err)
	}

	pf, ver, err := s.Get("alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if pf.UserID != "alice" || pf.Cash != 0 || len(pf.Holdings) != 0 {
		t.Fatalf("fresh portfolio = %+v", pf)
	}
	if ver != 1 {
		t.Fatalf("fresh version = %d, want 1", ver)
	}

	if _, _, err := s.Get("nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestStoreCompareAndSet(t *testing.T) {
	s := NewMemoryStore()
	if err := s.Create("alice"); err != nil {
		t.Fatal(err)
	}

	pf, ver, _ := s.Get("alice")
	pf.Cash = 100
	if err := s.CompareAndSet("alice", pf, ver); err != nil {
		t.Fatalf("cas: %v", err)
	}

	got, newVer, _ := s.Get("alice")
	if got.Cash != 100 {
		t.Errorf("cash = %d, want 100", got.Cash)
	}
	if newVer != ver+1 {
		t.Errorf("version = %d, want %d", newVer, ver+1)
	}

	// Writing with the stale token fails and changes nothing.
	pf.Cash = 999
	err := s.CompareAndSet("alice", pf, ver)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("stale cas err = %v, want ErrConflict", err)
	}
	got, _, _ = s.Get("alice")
	if got.Cash != 100 {
		t.Errorf("stale cas mutated state: cash = %d", got.Cash)
	}
}

func TestStoreGetReturnsIsolatedCopy(t *testing.T) {
	s := NewMemoryStore()
	if err := s.Create("alice"); err != nil {
		t.Fatal(err)
	}

	pf, _, _ := s.Get("alice")
	pf.Cash = 12345

	fresh, _, _ := s.Get("alice")
	if fresh.Cash != 0 {
		t.Fatal("mutating a Get result leaked into the store")
	}
}

func TestStoreSettlementDedup(t *testing.T) {
	s := NewMemoryStore()

	tr := core.MatchedTrade{
		BuyOrderID:  "b1",
		SellOrderID: "s1",
		Symbol:      "ACME",
		Qty:         10,
		Price:       5,
		BuyerID:     "alice",
		SellerID:    "bob",
		Timestamp:   1000,
	}

	settled, err := s.IsSettled(tr.Key())
	if err != nil || settled {
		t.Fatalf("fresh key: settled=%v err=%v", settled, err)
	}

	if err := s.RecordSettlement(tr); err != nil {
		t.Fatalf("record: %v", err)
	}
	settled, _ = s.IsSettled(tr.Key())
	if !settled {
		t.Fatal("key not marked settled")
	}

	trades, err := s.RecentTrades("ACME", 10)
	if err != nil || len(trades) != 1 {
		t.Fatalf("trades = %+v err = %v", trades, err)
	}
}

func TestStoreRecentTradesNewestFirst(t *testing.T) {
	s := NewMemoryStore()

	for i := int64(1); i <= 5; i++ {
		tr := core.MatchedTrade{
			BuyOrderID:  "b",
			SellOrderID: "s",
			Symbol:      "ACME",
			Qty:         i,
			Price:       100,
			Timestamp:   i,
		}
		tr.BuyOrderID = tr.BuyOrderID + string(rune('0'+i))
		if err := s.RecordSettlement(tr); err != nil {
			t.Fatal(err)
		}
	}

	trades, _ := s.RecentTrades("ACME", 3)
	if len(trades) != 3 {
		t.Fatalf("len = %d, want 3", len(trades))
	}
	if trades[0].Qty != 5 || trades[2].Qty != 3 {
		t.Fatalf("not newest first: %+v", trades)
	}
}

func TestStoreOrderRecords(t *testing.T) {
	s := NewMemoryStore()

	rec := OrderRecord{
		OrderID:   "o1",
		UserID:    "alice",
		Symbol:    "ACME",
		Side:      "buy",
		Type:      "limit",
		Price:     100,
		Qty:       10,
		Status:    "open",
		CreatedAt: 1,
	}
	if err := s.SaveOrder(rec); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetOrder("alice", "o1")
	if err != nil || got == nil {
		t.Fatalf("get order: %v %v", got, err)
	}
	if got.Status != "open" {
		t.Errorf("status = %s", got.Status)
	}

	missing, err := s.GetOrder("alice", "nope")
	if err != nil || missing != nil {
		t.Fatalf("missing order should be nil, nil: got %v %v", missing, err)
	}

	open, _ := s.OpenOrders("alice")
	if len(open) != 1 {
		t.Fatalf("open orders = %d, want 1", len(open))
	}

	rec.Status = "filled"
	if err := s.SaveOrder(rec); err != nil {
		t.Fatal(err)
	}
	open, _ = s.OpenOrders("alice")
	if len(open) != 0 {
		t.Fatalf("filled order still listed open: %+v", open)
	}
}

func TestStoreTransactions(t *testing.T) {
	s := NewMemoryStore()

	for i := int64(1); i <= 3; i++ {
		txn := Transaction{OrderID: "o1", TradeKey: "k", Symbol: "ACME", Qty: i, Price: 100, Amount: -100 * i, Timestamp: i}
		if err := s.AppendTransaction("alice", txn); err != nil {
			t.Fatal(err)
		}
	}

	txns, err := s.Transactions("alice", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(txns) != 2 || txns[0].Qty != 3 {
		t.Fatalf("txns = %+v", txns)
	}
}

func TestStoreCursor(t *testing.T) {
	s := NewMemoryStore()

	pos, err := s.LoadCursor()
	if err != nil || pos != 0 {
		t.Fatalf("fresh cursor = %d err = %v", pos, err)
	}
	if err := s.SaveCursor(42); err != nil {
		t.Fatal(err)
	}
	pos, _ = s.LoadCursor()
	if pos != 42 {
		t.Fatalf("cursor = %d, want 42", pos)
	}
}
