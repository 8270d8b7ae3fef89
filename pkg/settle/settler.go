package settle

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/minkyow/trademirror/pkg/core"
	"github.com/minkyow/trademirror/pkg/portfolio"
)

// DefaultMaxRetries bounds the optimistic-concurrency retry loop per
// portfolio update before the event escalates to ErrStorageConflict.
const DefaultMaxRetries = 5

// Processor applies matched trades to both counterparties' portfolios
// exactly once. Trades arrive either from the in-process order book or
// decoded off the external ledger's event stream; both paths share the
// same dedup set, so a trade the engine already settled is a no-op when
// its ledger confirmation comes around again.
type Processor struct {
	store      portfolio.Store
	log        *zap.SugaredLogger
	maxRetries int

	// stripes serialize Apply per trade key. A locally settled fill and
	// its ledger confirmation can arrive concurrently; without the lock
	// both would pass the dedup check before either records settlement.
	stripes [64]sync.Mutex
}

// keyLock returns the stripe guarding a trade key. Unrelated keys may
// share a stripe; same key always maps to the same one.
func (p *Processor) keyLock(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &p.stripes[h.Sum32()%uint32(len(p.stripes))]
}

// NewProcessor creates a settlement processor over the given store
func NewProcessor(store portfolio.Store, log *zap.SugaredLogger) *Processor {
	return &Processor{
		store:      store,
		log:        log,
		maxRetries: DefaultMaxRetries,
	}
}

// Apply settles one matched trade: buyer and seller portfolio updates,
// order-record bookkeeping, and the append-only trade history entry.
//
// Idempotent per trade identity: the dedup set is checked before any
// mutation and marked once the trade is fully applied. The buyer and
// seller updates are independent transactions (different storage keys);
// each one is individually atomic via compare-and-set.
func (p *Processor) Apply(t core.MatchedTrade) error {
	if t.Symbol == "" || t.Qty <= 0 || t.Price <= 0 {
		return fmt.Errorf("%w: malformed trade %+v", core.ErrValidation, t)
	}

	lock := p.keyLock(t.Key())
	lock.Lock()
	defer lock.Unlock()

	settled, err := p.store.IsSettled(t.Key())
	if err != nil {
		return fmt.Errorf("dedup check: %w", err)
	}
	if settled {
		return fmt.Errorf("%w: %s", ErrDuplicateTrade, t.Key())
	}

	if err := p.settleBuyer(t); err != nil {
		return err
	}

	if err := p.settleSeller(t); err != nil {
		if errors.Is(err, ErrReconciliation) {
			// The ledger already committed this trade; re-applying it
			// later would double-credit the buyer. Mark it settled and
			// surface the error for manual review.
			if rerr := p.store.RecordSettlement(t); rerr != nil {
				p.log.Errorw("settlement_record_failed", "trade", t.Key(), "err", rerr)
			}
		}
		return err
	}

	p.recordBookkeeping(t)

	if err := p.store.RecordSettlement(t); err != nil {
		return fmt.Errorf("record settlement: %w", err)
	}
	return nil
}

// settleBuyer applies the buyer-side effect under optimistic concurrency:
// weighted-average cost update, share credit, cash debit.
func (p *Processor) settleBuyer(t core.MatchedTrade) error {
	return p.updatePortfolio(t.BuyerID, func(pf *portfolio.Portfolio) error {
		pf.ApplyBuy(t.Symbol, t.Qty, t.Price)
		return nil
	})
}

// settleSeller applies the seller-side effect: share debit (holding
// removed entirely at zero), cash credit. Insufficient holdings surface
// as ErrReconciliation, never silently dropped or auto-corrected.
func (p *Processor) settleSeller(t core.MatchedTrade) error {
	return p.updatePortfolio(t.SellerID, func(pf *portfolio.Portfolio) error {
		if err := pf.ApplySell(t.Symbol, t.Qty, t.Price); err != nil {
			return fmt.Errorf("%w: seller %s: %v", ErrReconciliation, t.SellerID, err)
		}
		return nil
	})
}

// updatePortfolio runs one read-mutate-compare-and-set cycle, retrying
// from a fresh read on version conflict. A concurrent fill against the
// same user loses the race, rereads, and lands on top of the winner —
// no update is ever silently overwritten.
func (p *Processor) updatePortfolio(userID string, mutate func(*portfolio.Portfolio) error) error {
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		pf, ver, err := p.store.Get(userID)
		if errors.Is(err, portfolio.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrPortfolioNotFound, userID)
		}
		if err != nil {
			return fmt.Errorf("load portfolio %s: %w", userID, err)
		}

		if err := mutate(pf); err != nil {
			return err
		}

		err = p.store.CompareAndSet(userID, pf, ver)
		if err == nil {
			return nil
		}
		if !errors.Is(err, portfolio.ErrConflict) {
			return fmt.Errorf("write portfolio %s: %w", userID, err)
		}
		p.log.Debugw("portfolio_cas_conflict", "user", userID, "attempt", attempt+1)
	}
	return fmt.Errorf("%w: user %s after %d attempts", ErrStorageConflict, userID, p.maxRetries)
}

// recordBookkeeping updates both order records and appends per-user
// transaction entries. Failures here are logged, not fatal: the
// authoritative portfolio state is already committed.
func (p *Processor) recordBookkeeping(t core.MatchedTrade) {
	now := time.Now().UnixMilli()

	p.fillOrderRecord(t.BuyerID, t.BuyOrderID, t.Qty, now)
	p.fillOrderRecord(t.SellerID, t.SellOrderID, t.Qty, now)

	buyTxn := portfolio.Transaction{
		OrderID:   t.BuyOrderID,
		TradeKey:  t.Key(),
		Symbol:    t.Symbol,
		Qty:       t.Qty,
		Price:     t.Price,
		Amount:    -t.Notional(),
		Timestamp: now,
	}
	if err := p.store.AppendTransaction(t.BuyerID, buyTxn); err != nil {
		p.log.Errorw("transaction_append_failed", "user", t.BuyerID, "err", err)
	}

	sellTxn := buyTxn
	sellTxn.OrderID = t.SellOrderID
	sellTxn.Amount = t.Notional()
	if err := p.store.AppendTransaction(t.SellerID, sellTxn); err != nil {
		p.log.Errorw("transaction_append_failed", "user", t.SellerID, "err", err)
	}
}

// fillOrderRecord advances an order record's filled quantity and closes
// it once fully filled. Orders originating on the external ledger may
// have no local record; that is not an error.
func (p *Processor) fillOrderRecord(userID, orderID string, qty, now int64) {
	rec, err := p.store.GetOrder(userID, orderID)
	if err != nil {
		p.log.Errorw("order_record_load_failed", "user", userID, "order", orderID, "err", err)
		return
	}
	if rec == nil {
		return
	}

	rec.Filled += qty
	if rec.Filled >= rec.Qty {
		rec.Status = "filled"
	}
	rec.UpdatedAt = now
	if err := p.store.SaveOrder(*rec); err != nil {
		p.log.Errorw("order_record_save_failed", "user", userID, "order", orderID, "err", err)
	}
}

// Run consumes trades from a bounded channel until the context is
// cancelled or the channel closes. One bad event never stops processing
// of subsequent events: failures are logged with full trade context.
func (p *Processor) Run(ctx context.Context, trades <-chan core.MatchedTrade) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-trades:
			if !ok {
				return
			}
			err := p.Apply(t)
			switch {
			case err == nil:
				p.log.Infow("trade_settled",
					"trade", t.Key(), "symbol", t.Symbol, "qty", t.Qty, "price", t.Price)
			case errors.Is(err, ErrDuplicateTrade):
				p.log.Debugw("trade_duplicate_skipped", "trade", t.Key())
			default:
				p.log.Errorw("settlement_failed",
					"trade", t.Key(), "symbol", t.Symbol, "qty", t.Qty, "price", t.Price,
					"buyer", t.BuyerID, "seller", t.SellerID, "err", err)
			}
		}
	}
}
