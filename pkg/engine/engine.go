package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/minkyow/trademirror/pkg/core"
	"github.com/minkyow/trademirror/pkg/core/book"
	"github.com/minkyow/trademirror/pkg/portfolio"
	"github.com/minkyow/trademirror/pkg/settle"
)

// OrderRequest is what the request-handling layer submits
type OrderRequest struct {
	UserID    string `json:"userId"`
	Symbol    string `json:"symbol"`
	Side      string `json:"side"`      // "buy" | "sell"
	Type      string `json:"type"`      // "limit" | "market" | "stop"
	Qty       int64  `json:"qty"`       // lots
	Price     int64  `json:"price"`     // ticks; ignored for market orders
	StopPrice int64  `json:"stopPrice"` // trigger for stop orders
}

// OrderAck reports the immediate outcome of a submission
type OrderAck struct {
	OrderID   string `json:"orderId"`
	Status    string `json:"status"` // "open", "filled", "partially_filled", "cancelled"
	FilledQty int64  `json:"filledQty"`
	Trades    int    `json:"trades"`
	Resting   bool   `json:"resting"`
}

// Engine glues the per-symbol books to the settlement processor.
//
// Matching, settlement and book removal are one logical state transition:
// the trades a submission produces are settled before SubmitOrder
// returns, so no caller ever observes a removed resting order whose
// trade has not hit both portfolios.
type Engine struct {
	books   *book.Registry
	store   portfolio.Store
	settler *settle.Processor
	log     *zap.SugaredLogger

	// OnTrade fires after a trade settles, for broadcast fan-out
	// (websocket hub, kafka feed). Optional.
	OnTrade func(t core.MatchedTrade)
}

// New creates an engine over the given store and settlement processor
func New(books *book.Registry, store portfolio.Store, settler *settle.Processor, log *zap.SugaredLogger) *Engine {
	return &Engine{
		books:   books,
		store:   store,
		settler: settler,
		log:     log,
	}
}

// SubmitOrder validates, matches and settles a new order.
func (e *Engine) SubmitOrder(req OrderRequest) (OrderAck, error) {
	var ack OrderAck

	if req.UserID == "" {
		return ack, fmt.Errorf("%w: empty user id", core.ErrValidation)
	}
	if req.Symbol == "" {
		return ack, fmt.Errorf("%w: empty symbol", core.ErrValidation)
	}
	side, err := core.ParseSide(req.Side)
	if err != nil {
		return ack, err
	}
	typ, err := core.ParseOrderType(req.Type)
	if err != nil {
		return ack, err
	}

	// Reject unknown users before touching the book: a fill against a
	// missing portfolio would dead-end in settlement.
	if _, _, err := e.store.Get(req.UserID); err != nil {
		if errors.Is(err, portfolio.ErrNotFound) {
			return ack, fmt.Errorf("%w: %s", portfolio.ErrNotFound, req.UserID)
		}
		return ack, err
	}

	now := time.Now().UnixMilli()
	order := &core.Order{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		Symbol:    req.Symbol,
		Side:      side,
		Type:      typ,
		Price:     req.Price,
		StopPrice: req.StopPrice,
		Qty:       req.Qty,
		CreatedAt: now,
	}
	ack.OrderID = order.ID

	rec := portfolio.OrderRecord{
		OrderID:   order.ID,
		UserID:    order.UserID,
		Symbol:    order.Symbol,
		Side:      side.String(),
		Type:      typ.String(),
		Price:     order.Price,
		Qty:       req.Qty,
		Status:    "open",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.SaveOrder(rec); err != nil {
		return ack, fmt.Errorf("save order record: %w", err)
	}

	trades, resting, err := e.books.Get(req.Symbol).Submit(order)
	if err != nil {
		rec.Status = "cancelled"
		rec.UpdatedAt = time.Now().UnixMilli()
		if serr := e.store.SaveOrder(rec); serr != nil {
			e.log.Errorw("order_record_save_failed", "order", order.ID, "err", serr)
		}
		return ack, err
	}

	for _, t := range trades {
		if err := e.settler.Apply(t); err != nil && !errors.Is(err, settle.ErrDuplicateTrade) {
			// The book already matched; the trade must surface even if a
			// portfolio leg failed, so it is logged with full context and
			// the remaining trades keep settling.
			e.log.Errorw("settlement_failed",
				"trade", t.Key(), "symbol", t.Symbol, "qty", t.Qty, "price", t.Price, "err", err)
			continue
		}
		// A fill can trigger parked stops whose trades are between other
		// parties; the ack reports only this order's own fills.
		if t.BuyOrderID == order.ID || t.SellOrderID == order.ID {
			ack.FilledQty += t.Qty
			ack.Trades++
		}
		if e.OnTrade != nil {
			e.OnTrade(t)
		}
	}

	ack.Resting = resting
	switch {
	case ack.FilledQty >= req.Qty:
		ack.Status = "filled"
	case resting && ack.FilledQty > 0:
		ack.Status = "partially_filled"
	case resting:
		ack.Status = "open"
	default:
		// Market order remainder never rests: whatever did not fill dies.
		ack.Status = "cancelled"
		e.closeUnfilled(req.UserID, order.ID)
	}
	return ack, nil
}

// closeUnfilled marks the unfilled remainder of a non-resting order dead
func (e *Engine) closeUnfilled(userID, orderID string) {
	rec, err := e.store.GetOrder(userID, orderID)
	if err != nil || rec == nil || rec.Status != "open" {
		return
	}
	rec.Status = "cancelled"
	rec.UpdatedAt = time.Now().UnixMilli()
	if err := e.store.SaveOrder(*rec); err != nil {
		e.log.Errorw("order_record_save_failed", "order", orderID, "err", err)
	}
}

// CancelOrder removes a resting order from its book. Only the order's
// owner may cancel it; someone else's order id reports book.ErrNotFound,
// same as an order that is already filled, already cancelled, or never
// existed. Repeating a cancel is harmless.
func (e *Engine) CancelOrder(userID, orderID string) error {
	rec, err := e.store.GetOrder(userID, orderID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("%w: %s", book.ErrNotFound, orderID)
	}
	if err := e.books.Cancel(orderID); err != nil {
		return err
	}
	e.closeUnfilled(userID, orderID)
	e.log.Infow("order_cancelled", "user", userID, "order", orderID)
	return nil
}

// Snapshot returns the aggregated book for a symbol, best prices first
func (e *Engine) Snapshot(symbol string) (bids, asks []book.PriceLevel) {
	b, ok := e.books.Lookup(symbol)
	if !ok {
		return nil, nil
	}
	return b.BidLevels(), b.AskLevels()
}

// CreatePortfolio registers an empty portfolio (admin / registration hook)
func (e *Engine) CreatePortfolio(userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: empty user id", core.ErrValidation)
	}
	return e.store.Create(userID)
}

// Deposit credits cash to a portfolio under optimistic concurrency
func (e *Engine) Deposit(userID string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: deposit must be positive, got %d", core.ErrValidation, amount)
	}
	for attempt := 0; attempt < settle.DefaultMaxRetries; attempt++ {
		pf, ver, err := e.store.Get(userID)
		if err != nil {
			return err
		}
		pf.Cash += amount
		err = e.store.CompareAndSet(userID, pf, ver)
		if err == nil {
			return nil
		}
		if !errors.Is(err, portfolio.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("%w: deposit for %s", settle.ErrStorageConflict, userID)
}

// Portfolio returns a copy of the user's current portfolio
func (e *Engine) Portfolio(userID string) (*portfolio.Portfolio, error) {
	pf, _, err := e.store.Get(userID)
	return pf, err
}

// RecentTrades returns the newest trades for a symbol
func (e *Engine) RecentTrades(symbol string, limit int) ([]core.MatchedTrade, error) {
	return e.store.RecentTrades(symbol, limit)
}

// OpenOrders returns the user's open order records
func (e *Engine) OpenOrders(userID string) ([]portfolio.OrderRecord, error) {
	return e.store.OpenOrders(userID)
}

// Transactions returns the user's newest settled cash movements
func (e *Engine) Transactions(userID string, limit int) ([]portfolio.Transaction, error) {
	return e.store.Transactions(userID, limit)
}

// Symbols lists the symbols with an active book
func (e *Engine) Symbols() []string {
	return e.books.Symbols()
}
