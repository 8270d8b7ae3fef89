package portfolio

import (
	"errors"
	"testing"

	"github.com/minkyow/trademirror/pkg/core"
)

func openPebble(t *testing.T) *PebbleStore {
	t.Helper()
	s, err := NewPebbleStore(t.TempDir())
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPebbleCompareAndSet(t *testing.T) {
	s := openPebble(t)

	if err := s.Create("alice"); err != nil {
		t.Fatal(err)
	}
	if err := s.Create("alice"); !errors.Is(err, ErrExists) {
		t.Fatalf("duplicate create err = %v, want ErrExists", err)
	}

	pf, ver, err := s.Get("alice")
	if err != nil {
		t.Fatal(err)
	}
	pf.Cash = 500
	pf.ApplyBuy("ACME", 10, 5)
	if err := s.CompareAndSet("alice", pf, ver); err != nil {
		t.Fatalf("cas: %v", err)
	}

	got, newVer, _ := s.Get("alice")
	if newVer != ver+1 {
		t.Errorf("version = %d, want %d", newVer, ver+1)
	}
	h := got.Holdings["ACME"]
	if h == nil || h.Shares != 10 || h.AverageCost != 5.0 {
		t.Fatalf("holding not persisted: %+v", h)
	}

	// Stale token is rejected after the round trip too.
	if err := s.CompareAndSet("alice", pf, ver); !errors.Is(err, ErrConflict) {
		t.Fatalf("stale cas err = %v, want ErrConflict", err)
	}
	if _, _, err := s.Get("ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestPebbleSettlementAndHistory(t *testing.T) {
	s := openPebble(t)

	for i := int64(1); i <= 3; i++ {
		tr := core.MatchedTrade{
			BuyOrderID:  "b",
			SellOrderID: "s",
			Symbol:      "ACME",
			Qty:         i,
			Price:       100,
			BuyerID:     "alice",
			SellerID:    "bob",
			Timestamp:   1000 + i,
		}
		tr.BuyOrderID += string(rune('0' + i))
		if err := s.RecordSettlement(tr); err != nil {
			t.Fatal(err)
		}

		settled, err := s.IsSettled(tr.Key())
		if err != nil || !settled {
			t.Fatalf("settled=%v err=%v for %s", settled, err, tr.Key())
		}
	}

	// Zero-padded timestamp keys keep the iterator in time order.
	trades, err := s.RecentTrades("ACME", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 2 || trades[0].Qty != 3 || trades[1].Qty != 2 {
		t.Fatalf("trades = %+v, want newest first", trades)
	}

	// Other symbols do not bleed into the scan.
	trades, _ = s.RecentTrades("GLOBEX", 10)
	if len(trades) != 0 {
		t.Fatalf("cross-symbol leak: %+v", trades)
	}
}

func TestPebbleOrderAndTransactionScans(t *testing.T) {
	s := openPebble(t)

	for _, rec := range []OrderRecord{
		{OrderID: "o1", UserID: "alice", Symbol: "ACME", Side: "buy", Type: "limit", Price: 100, Qty: 10, Status: "open", CreatedAt: 1},
		{OrderID: "o2", UserID: "alice", Symbol: "ACME", Side: "sell", Type: "limit", Price: 110, Qty: 5, Status: "filled", CreatedAt: 2},
		{OrderID: "o3", UserID: "bob", Symbol: "ACME", Side: "buy", Type: "limit", Price: 90, Qty: 1, Status: "open", CreatedAt: 3},
	} {
		if err := s.SaveOrder(rec); err != nil {
			t.Fatal(err)
		}
	}

	open, err := s.OpenOrders("alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 1 || open[0].OrderID != "o1" {
		t.Fatalf("open orders = %+v, want just o1", open)
	}

	got, err := s.GetOrder("alice", "o2")
	if err != nil || got == nil || got.Status != "filled" {
		t.Fatalf("get order = %+v err = %v", got, err)
	}
	missing, err := s.GetOrder("alice", "o9")
	if err != nil || missing != nil {
		t.Fatalf("missing order = %+v err = %v, want nil, nil", missing, err)
	}

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
		t.Fatalf("txns = %+v, want newest first", txns)
	}
	if other, _ := s.Transactions("bob", 10); len(other) != 0 {
		t.Fatalf("cross-user leak: %+v", other)
	}
}

func TestPebbleCursorRoundTrip(t *testing.T) {
	s := openPebble(t)

	pos, err := s.LoadCursor()
	if err != nil || pos != 0 {
		t.Fatalf("fresh cursor = %d err = %v", pos, err)
	}
	if err := s.SaveCursor(123456); err != nil {
		t.Fatal(err)
	}
	pos, err = s.LoadCursor()
	if err != nil || pos != 123456 {
		t.Fatalf("cursor = %d err = %v, want 123456", pos, err)
	}
}
