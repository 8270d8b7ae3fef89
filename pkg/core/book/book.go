package book

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/minkyow/trademirror/pkg/core"
)

// ErrNotFound is returned by Cancel when the order is not resting
// (already filled, already cancelled, or never existed). Repeating a
// cancel is harmless: the second call just observes this error.
var ErrNotFound = errors.New("order not found")

// PriceLevel is an aggregated (price, total qty) tuple for snapshots
type PriceLevel struct {
	Price int64 `json:"price"`
	Qty   int64 `json:"qty"`
}

// Book is a per-symbol order book with price-time priority matching.
//
// All mutation goes through one mutex, so concurrent submissions for the
// same symbol serialize; distinct symbols live in distinct Books (see
// Registry) and run in parallel. Matching is pure in-memory computation:
// the book never touches portfolios or storage.
type Book struct {
	mu     sync.RWMutex
	symbol string

	// Heap-based best price tracking (O(1) peek)
	bidHeap *sideHeap
	askHeap *sideHeap

	// Price level queues (FIFO matching at each price preserves time priority)
	bids map[int64][]*core.Order // price -> FIFO slice
	asks map[int64][]*core.Order

	// Stop orders parked off-book until the last trade price crosses
	// their trigger. Arrival order preserved.
	stops []*core.Order

	// Order index for O(1) cancellation. Parked stops use price 0.
	orderIndex map[string]int64

	lastPrice int64 // most recent fill price, drives stop triggering
}

// New creates an empty book for a symbol
func New(symbol string) *Book {
	return &Book{
		symbol:     symbol,
		bidHeap:    newSideHeap(true),
		askHeap:    newSideHeap(false),
		bids:       make(map[int64][]*core.Order),
		asks:       make(map[int64][]*core.Order),
		orderIndex: make(map[string]int64),
	}
}

// Symbol returns the symbol this book trades
func (b *Book) Symbol() string { return b.symbol }

// Submit validates and matches an incoming order.
//
// Returns the trades produced (best price first, the order they were
// matched in) and whether any remainder now rests in the book. Market
// orders never rest: an unmatched remainder after walking the whole
// opposite side is dropped. Stop orders park until triggered; a trigger
// re-enters the matching loop as a market order within the same call.
func (b *Book) Submit(o *core.Order) ([]core.MatchedTrade, bool, error) {
	if err := o.Validate(); err != nil {
		return nil, false, err
	}
	if o.Symbol != b.symbol {
		return nil, false, fmt.Errorf("%w: order symbol %q does not match book %q", core.ErrValidation, o.Symbol, b.symbol)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, dup := b.orderIndex[o.ID]; dup {
		return nil, false, fmt.Errorf("%w: duplicate order id %s", core.ErrValidation, o.ID)
	}

	if o.Type == core.Stop {
		if !o.Triggered(b.lastPrice) {
			b.stops = append(b.stops, o)
			b.orderIndex[o.ID] = 0
			return nil, true, nil
		}
		// Trigger already crossed at submission: execute immediately.
		o.Type = core.Market
	}

	trades := b.matchLocked(o)
	resting := false

	if o.Qty > 0 && o.Type == core.Limit {
		b.restLocked(o)
		resting = true
	}

	// Fills may have moved lastPrice across parked stop triggers.
	trades = append(trades, b.fireStopsLocked()...)
	return trades, resting, nil
}

// matchLocked walks the opposite side in priority order while the incoming
// order crosses the best resting price and still has quantity. The trade
// price is always the resting (maker) price. Caller holds b.mu.
func (b *Book) matchLocked(o *core.Order) []core.MatchedTrade {
	var trades []core.MatchedTrade
	now := time.Now().UnixMilli()

	for o.Qty > 0 {
		var best int64
		var ok bool
		if o.Side == core.Buy {
			best, ok = b.bestAskLocked()
		} else {
			best, ok = b.bestBidLocked()
		}
		if !ok || !o.Crosses(best) {
			break
		}

		levels := b.asks
		if o.Side == core.Sell {
			levels = b.bids
		}
		level := levels[best]
		if len(level) == 0 {
			// Stale heap entry, drop it and keep walking.
			b.dropLevelLocked(o.Side, best)
			continue
		}

		maker := level[0]
		match := min64(o.Qty, maker.Qty)
		o.Qty -= match
		maker.Qty -= match

		t := core.MatchedTrade{
			Symbol:    b.symbol,
			Qty:       match,
			Price:     best, // maker price rule
			Timestamp: now,
		}
		if o.Side == core.Buy {
			t.BuyOrderID, t.BuyerID = o.ID, o.UserID
			t.SellOrderID, t.SellerID = maker.ID, maker.UserID
		} else {
			t.BuyOrderID, t.BuyerID = maker.ID, maker.UserID
			t.SellOrderID, t.SellerID = o.ID, o.UserID
		}
		trades = append(trades, t)
		b.lastPrice = best

		if maker.Qty == 0 {
			levels[best] = level[1:]
			delete(b.orderIndex, maker.ID)
			if len(levels[best]) == 0 {
				b.dropLevelLocked(o.Side, best)
			}
		}
	}
	return trades
}

// restLocked inserts the unmatched remainder at its price level.
// Appending to the FIFO slice preserves price-then-time ordering.
func (b *Book) restLocked(o *core.Order) {
	if o.Side == core.Buy {
		if len(b.bids[o.Price]) == 0 {
			b.bidHeap.PushPrice(o.Price)
		}
		b.bids[o.Price] = append(b.bids[o.Price], o)
	} else {
		if len(b.asks[o.Price]) == 0 {
			b.askHeap.PushPrice(o.Price)
		}
		b.asks[o.Price] = append(b.asks[o.Price], o)
	}
	b.orderIndex[o.ID] = o.Price
}

// fireStopsLocked activates parked stops whose trigger the last trade
// price has crossed. Triggered stops match as market orders; their fills
// can trigger further stops, so loop until quiescent.
func (b *Book) fireStopsLocked() []core.MatchedTrade {
	var trades []core.MatchedTrade
	for {
		fired := false
		for i := 0; i < len(b.stops); i++ {
			s := b.stops[i]
			if !s.Triggered(b.lastPrice) {
				continue
			}
			b.stops = append(b.stops[:i], b.stops[i+1:]...)
			delete(b.orderIndex, s.ID)
			i--

			s.Type = core.Market // triggered stop executes as a market order
			trades = append(trades, b.matchLocked(s)...)
			fired = true
		}
		if !fired {
			return trades
		}
	}
}

// Cancel removes a resting order or parked stop.
// Returns ErrNotFound if the order is not in the book.
func (b *Book) Cancel(orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	price, ok := b.orderIndex[orderID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, orderID)
	}

	// Parked stop
	if price == 0 {
		for i, s := range b.stops {
			if s.ID == orderID {
				b.stops = append(b.stops[:i], b.stops[i+1:]...)
				delete(b.orderIndex, orderID)
				return nil
			}
		}
		return fmt.Errorf("%w: %s", ErrNotFound, orderID)
	}

	for _, side := range []core.Side{core.Buy, core.Sell} {
		levels := b.bids
		if side == core.Sell {
			levels = b.asks
		}
		arr, exists := levels[price]
		if !exists {
			continue
		}
		for i, o := range arr {
			if o.ID != orderID {
				continue
			}
			levels[price] = append(arr[:i], arr[i+1:]...)
			if len(levels[price]) == 0 {
				// dropLevelLocked takes the taker side, which is the
				// opposite of the side the level lives on.
				b.dropLevelLocked(opposite(side), price)
			}
			delete(b.orderIndex, orderID)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrNotFound, orderID)
}

// dropLevelLocked removes an emptied price level from the side opposite
// the taker: a buy taker consumes asks, a sell taker consumes bids.
func (b *Book) dropLevelLocked(takerSide core.Side, price int64) {
	if takerSide == core.Buy {
		delete(b.asks, price)
		b.askHeap.RemovePrice(price)
	} else {
		delete(b.bids, price)
		b.bidHeap.RemovePrice(price)
	}
}

func (b *Book) bestBidLocked() (int64, bool) {
	return b.bidHeap.Best()
}

func (b *Book) bestAskLocked() (int64, bool) {
	return b.askHeap.Best()
}

// BidLevels returns aggregated bid levels sorted high to low (best first)
func (b *Book) BidLevels() []PriceLevel {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return collectLevels(b.bids, true)
}

// AskLevels returns aggregated ask levels sorted low to high (best first)
func (b *Book) AskLevels() []PriceLevel {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return collectLevels(b.asks, false)
}

// LastPrice returns the price of the most recent fill, 0 if none
func (b *Book) LastPrice() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastPrice
}

// Depth returns the number of resting orders (parked stops excluded)
func (b *Book) Depth() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, arr := range b.bids {
		n += len(arr)
	}
	for _, arr := range b.asks {
		n += len(arr)
	}
	return n
}

func collectLevels(side map[int64][]*core.Order, descending bool) []PriceLevel {
	levels := make([]PriceLevel, 0, len(side))
	for price, orders := range side {
		if len(orders) == 0 {
			continue
		}
		var total int64
		for _, o := range orders {
			total += o.Qty
		}
		levels = append(levels, PriceLevel{Price: price, Qty: total})
	}
	sort.Slice(levels, func(i, j int) bool {
		if descending {
			return levels[i].Price > levels[j].Price
		}
		return levels[i].Price < levels[j].Price
	})
	return levels
}

func opposite(s core.Side) core.Side {
	if s == core.Buy {
		return core.Sell
	}
	return core.Buy
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
