package engine

import (
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/minkyow/trademirror/pkg/core"
	"github.com/minkyow/trademirror/pkg/core/book"
	"github.com/minkyow/trademirror/pkg/portfolio"
	"github.com/minkyow/trademirror/pkg/settle"
)

func newEngine(t *testing.T) (*Engine, *portfolio.MemoryStore) {
	t.Helper()
	store := portfolio.NewMemoryStore()
	log := zap.NewNop().Sugar()
	eng := New(book.NewRegistry(), store, settle.NewProcessor(store, log), log)
	return eng, store
}

func fund(t *testing.T, eng *Engine, userID string, cash int64) {
	t.Helper()
	if err := eng.CreatePortfolio(userID); err != nil {
		t.Fatalf("create %s: %v", userID, err)
	}
	if cash > 0 {
		if err := eng.Deposit(userID, cash); err != nil {
			t.Fatalf("deposit %s: %v", userID, err)
		}
	}
}

func buyReq(user string, price, qty int64) OrderRequest {
	return OrderRequest{UserID: user, Symbol: "ACME", Side: "buy", Type: "limit", Price: price, Qty: qty}
}

func sellReq(user string, price, qty int64) OrderRequest {
	return OrderRequest{UserID: user, Symbol: "ACME", Side: "sell", Type: "limit", Price: price, Qty: qty}
}

func TestSubmitRestingOrder(t *testing.T) {
	eng, _ := newEngine(t)
	fund(t, eng, "alice", 1000)

	ack, err := eng.SubmitOrder(buyReq("alice", 100, 10))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if ack.Status != "open" || !ack.Resting || ack.FilledQty != 0 {
		t.Fatalf("ack = %+v, want open resting", ack)
	}

	open, _ := eng.OpenOrders("alice")
	if len(open) != 1 || open[0].OrderID != ack.OrderID {
		t.Fatalf("open orders = %+v", open)
	}

	bids, _ := eng.Snapshot("ACME")
	if len(bids) != 1 || bids[0].Price != 100 || bids[0].Qty != 10 {
		t.Fatalf("bids = %+v", bids)
	}
}

func TestSubmitMatchesAndSettles(t *testing.T) {
	eng, store := newEngine(t)
	fund(t, eng, "alice", 1000)
	fund(t, eng, "bob", 0)

	// Seed bob's shares directly; he is the seller.
	pf, ver, _ := store.Get("bob")
	pf.ApplyBuy("ACME", 10, 100)
	if err := store.CompareAndSet("bob", pf, ver); err != nil {
		t.Fatal(err)
	}

	var observed []core.MatchedTrade
	eng.OnTrade = func(tr core.MatchedTrade) { observed = append(observed, tr) }

	if _, err := eng.SubmitOrder(sellReq("bob", 100, 10)); err != nil {
		t.Fatal(err)
	}
	ack, err := eng.SubmitOrder(buyReq("alice", 100, 10))
	if err != nil {
		t.Fatal(err)
	}
	if ack.Status != "filled" || ack.FilledQty != 10 || ack.Trades != 1 {
		t.Fatalf("ack = %+v, want filled 10 in 1 trade", ack)
	}
	if len(observed) != 1 {
		t.Fatalf("OnTrade fired %d times, want 1", len(observed))
	}

	// Settlement happened before SubmitOrder returned.
	alice, _ := eng.Portfolio("alice")
	if alice.Cash != 0 || alice.Holdings["ACME"].Shares != 10 {
		t.Fatalf("buyer portfolio = %+v", alice)
	}
	bob, _ := eng.Portfolio("bob")
	if bob.Cash != 0 {
		t.Fatalf("seller cash = %d, want 0", bob.Cash)
	}

	// Both order records closed, transactions written, history queryable.
	open, _ := eng.OpenOrders("bob")
	if len(open) != 0 {
		t.Fatalf("seller still has open orders: %+v", open)
	}
	txns, _ := eng.Transactions("alice", 10)
	if len(txns) != 1 || txns[0].Amount != -1000 {
		t.Fatalf("buyer txns = %+v", txns)
	}
	trades, _ := eng.RecentTrades("ACME", 10)
	if len(trades) != 1 {
		t.Fatalf("trade history = %+v", trades)
	}
}

func TestSubmitUnknownUserRejected(t *testing.T) {
	eng, _ := newEngine(t)

	_, err := eng.SubmitOrder(buyReq("ghost", 100, 10))
	if !errors.Is(err, portfolio.ErrNotFound) {
		t.Fatalf("err = %v, want portfolio.ErrNotFound", err)
	}

	// Nothing leaked into the book.
	bids, asks := eng.Snapshot("ACME")
	if len(bids) != 0 || len(asks) != 0 {
		t.Fatal("rejected order reached the book")
	}
}

func TestSubmitValidation(t *testing.T) {
	eng, _ := newEngine(t)
	fund(t, eng, "alice", 1000)

	cases := []struct {
		name string
		req  OrderRequest
	}{
		{"empty user", OrderRequest{Symbol: "ACME", Side: "buy", Type: "limit", Price: 1, Qty: 1}},
		{"bad side", OrderRequest{UserID: "alice", Symbol: "ACME", Side: "hold", Type: "limit", Price: 1, Qty: 1}},
		{"bad type", OrderRequest{UserID: "alice", Symbol: "ACME", Side: "buy", Type: "iceberg", Price: 1, Qty: 1}},
		{"zero qty", buyReq("alice", 100, 0)},
		{"zero price", buyReq("alice", 0, 10)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := eng.SubmitOrder(tc.req); !errors.Is(err, core.ErrValidation) {
				t.Fatalf("err = %v, want ErrValidation", err)
			}
		})
	}
}

func TestMarketOrderRemainderCancelled(t *testing.T) {
	eng, store := newEngine(t)
	fund(t, eng, "alice", 1000)
	fund(t, eng, "bob", 0)

	pf, ver, _ := store.Get("bob")
	pf.ApplyBuy("ACME", 5, 100)
	if err := store.CompareAndSet("bob", pf, ver); err != nil {
		t.Fatal(err)
	}

	if _, err := eng.SubmitOrder(sellReq("bob", 100, 5)); err != nil {
		t.Fatal(err)
	}

	ack, err := eng.SubmitOrder(OrderRequest{
		UserID: "alice", Symbol: "ACME", Side: "buy", Type: "market", Qty: 8,
	})
	if err != nil {
		t.Fatal(err)
	}
	if ack.FilledQty != 5 || ack.Resting {
		t.Fatalf("ack = %+v, want 5 filled, not resting", ack)
	}
	if ack.Status != "cancelled" {
		t.Fatalf("status = %s, want cancelled for dead market remainder", ack.Status)
	}

	open, _ := eng.OpenOrders("alice")
	if len(open) != 0 {
		t.Fatalf("dead market order still open: %+v", open)
	}
}

func TestAckCountsOnlyOwnFills(t *testing.T) {
	eng, store := newEngine(t)
	fund(t, eng, "alice", 1000)
	fund(t, eng, "bob", 0)
	fund(t, eng, "carol", 0)
	fund(t, eng, "dave", 1000)

	for _, seed := range []struct {
		user   string
		shares int64
	}{{"bob", 5}, {"carol", 7}} {
		pf, ver, _ := store.Get(seed.user)
		pf.ApplyBuy("ACME", seed.shares, 10)
		if err := store.CompareAndSet(seed.user, pf, ver); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := eng.SubmitOrder(sellReq("bob", 10, 5)); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.SubmitOrder(buyReq("dave", 9, 7)); err != nil {
		t.Fatal(err)
	}
	stopAck, err := eng.SubmitOrder(OrderRequest{
		UserID: "carol", Symbol: "ACME", Side: "sell", Type: "stop",
		Price: 9, Qty: 7, StopPrice: 10,
	})
	if err != nil {
		t.Fatal(err)
	}
	if stopAck.Status != "open" {
		t.Fatalf("stop ack = %+v, want parked open", stopAck)
	}

	var observed int
	eng.OnTrade = func(core.MatchedTrade) { observed++ }

	// Alice's buy fills 5 against bob at 10, which trips carol's stop
	// into a market sell against dave. The cascade trade is between
	// carol and dave; alice's ack must not count it.
	ack, err := eng.SubmitOrder(buyReq("alice", 10, 5))
	if err != nil {
		t.Fatal(err)
	}
	if ack.Status != "filled" || ack.FilledQty != 5 || ack.Trades != 1 {
		t.Fatalf("ack = %+v, want filled 5 in 1 trade", ack)
	}
	if observed != 2 {
		t.Fatalf("OnTrade fired %d times, want 2 (own fill plus cascade)", observed)
	}

	// The cascade trade still settled in full.
	carol, _ := eng.Portfolio("carol")
	if _, ok := carol.Holdings["ACME"]; ok {
		t.Fatalf("stop seller still holds shares: %+v", carol.Holdings)
	}
	dave, _ := eng.Portfolio("dave")
	if dave.Holdings["ACME"] == nil || dave.Holdings["ACME"].Shares != 7 {
		t.Fatalf("cascade buyer portfolio = %+v, want 7 shares", dave)
	}
}

func TestCancelRequiresOwnership(t *testing.T) {
	eng, _ := newEngine(t)
	fund(t, eng, "alice", 1000)
	fund(t, eng, "mallory", 1000)

	ack, err := eng.SubmitOrder(buyReq("alice", 100, 10))
	if err != nil {
		t.Fatal(err)
	}

	if err := eng.CancelOrder("mallory", ack.OrderID); !errors.Is(err, book.ErrNotFound) {
		t.Fatalf("foreign cancel err = %v, want book.ErrNotFound", err)
	}

	// The order is untouched and the owner can still cancel it.
	bids, _ := eng.Snapshot("ACME")
	if len(bids) != 1 || bids[0].Qty != 10 {
		t.Fatalf("bids = %+v after foreign cancel", bids)
	}
	if err := eng.CancelOrder("alice", ack.OrderID); err != nil {
		t.Fatalf("owner cancel: %v", err)
	}
}

func TestCancelOrder(t *testing.T) {
	eng, _ := newEngine(t)
	fund(t, eng, "alice", 1000)

	ack, err := eng.SubmitOrder(buyReq("alice", 100, 10))
	if err != nil {
		t.Fatal(err)
	}

	if err := eng.CancelOrder("alice", ack.OrderID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	bids, _ := eng.Snapshot("ACME")
	if len(bids) != 0 {
		t.Fatalf("bids = %+v after cancel", bids)
	}
	open, _ := eng.OpenOrders("alice")
	if len(open) != 0 {
		t.Fatalf("cancelled order still open: %+v", open)
	}

	// Cancel of a gone order reports not found; repeating is harmless.
	if err := eng.CancelOrder("alice", ack.OrderID); !errors.Is(err, book.ErrNotFound) {
		t.Fatalf("second cancel err = %v, want book.ErrNotFound", err)
	}
}

func TestDeposit(t *testing.T) {
	eng, _ := newEngine(t)
	fund(t, eng, "alice", 0)

	if err := eng.Deposit("alice", 250); err != nil {
		t.Fatal(err)
	}
	pf, _ := eng.Portfolio("alice")
	if pf.Cash != 250 {
		t.Fatalf("cash = %d, want 250", pf.Cash)
	}

	if err := eng.Deposit("alice", 0); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("zero deposit err = %v, want ErrValidation", err)
	}
	if err := eng.Deposit("ghost", 100); !errors.Is(err, portfolio.ErrNotFound) {
		t.Fatalf("unknown user err = %v, want ErrNotFound", err)
	}
}

func TestCreatePortfolio(t *testing.T) {
	eng, _ := newEngine(t)

	if err := eng.CreatePortfolio(""); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("empty id err = %v, want ErrValidation", err)
	}
	if err := eng.CreatePortfolio("alice"); err != nil {
		t.Fatal(err)
	}
	if err := eng.CreatePortfolio("alice"); !errors.Is(err, portfolio.ErrExists) {
		t.Fatalf("duplicate err = %v, want ErrExists", err)
	}
}

func TestPartialFillStatus(t *testing.T) {
	eng, store := newEngine(t)
	fund(t, eng, "alice", 10000)
	fund(t, eng, "bob", 0)

	pf, ver, _ := store.Get("bob")
	pf.ApplyBuy("ACME", 4, 100)
	if err := store.CompareAndSet("bob", pf, ver); err != nil {
		t.Fatal(err)
	}

	if _, err := eng.SubmitOrder(sellReq("bob", 100, 4)); err != nil {
		t.Fatal(err)
	}

	ack, err := eng.SubmitOrder(buyReq("alice", 100, 10))
	if err != nil {
		t.Fatal(err)
	}
	if ack.Status != "partially_filled" || ack.FilledQty != 4 || !ack.Resting {
		t.Fatalf("ack = %+v, want partially_filled 4, resting", ack)
	}

	// The remainder is live: a later seller hits it.
	pf, ver, _ = store.Get("bob")
	pf.ApplyBuy("ACME", 6, 100)
	if err := store.CompareAndSet("bob", pf, ver); err != nil {
		t.Fatal(err)
	}
	ack2, err := eng.SubmitOrder(sellReq("bob", 100, 6))
	if err != nil {
		t.Fatal(err)
	}
	if ack2.Status != "filled" || ack2.FilledQty != 6 {
		t.Fatalf("ack2 = %+v", ack2)
	}

	alice, _ := eng.Portfolio("alice")
	if alice.Holdings["ACME"].Shares != 10 {
		t.Fatalf("buyer shares = %d, want 10", alice.Holdings["ACME"].Shares)
	}
}
