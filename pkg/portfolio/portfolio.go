package portfolio

import (
	"errors"
	"fmt"
)

// ErrInsufficientHoldings means a sell-side settlement asked for more
// shares than the holding contains. The trade is already committed on the
// external ledger, so callers surface this for manual reconciliation
// instead of fabricating state.
var ErrInsufficientHoldings = errors.New("insufficient holdings")

// Holding is a position in a single symbol within a portfolio
type Holding struct {
	Symbol      string  `json:"symbol"`
	Shares      int64   `json:"shares"`
	AverageCost float64 `json:"averageCost"` // weighted-average purchase price (ticks)
	MarketValue int64   `json:"marketValue"` // shares × last trade price
	Fraction    float64 `json:"fraction"`    // share of total portfolio value, [0,1]
}

// Portfolio is a user's cash balance plus holdings.
// Owned exclusively by its user: only the settlement processor mutates it,
// and never more than one in-flight settlement per user (the store's
// version token enforces that).
type Portfolio struct {
	UserID   string              `json:"userId"`
	Cash     int64               `json:"cash"` // cents; fills may drive it negative
	Holdings map[string]*Holding `json:"holdings"`
}

// New creates an empty portfolio with zero balances
func New(userID string) *Portfolio {
	return &Portfolio{
		UserID:   userID,
		Holdings: make(map[string]*Holding),
	}
}

// Clone returns a deep copy. Stores hand out clones so a failed
// compare-and-set never leaves a half-mutated shared object behind.
func (p *Portfolio) Clone() *Portfolio {
	cp := &Portfolio{
		UserID:   p.UserID,
		Cash:     p.Cash,
		Holdings: make(map[string]*Holding, len(p.Holdings)),
	}
	for sym, h := range p.Holdings {
		hc := *h
		cp.Holdings[sym] = &hc
	}
	return cp
}

// TotalValue returns cash plus the market value of every holding
func (p *Portfolio) TotalValue() int64 {
	total := p.Cash
	for _, h := range p.Holdings {
		total += h.MarketValue
	}
	return total
}

// ApplyBuy credits qty shares of symbol at price and debits the cash leg.
// Average cost is updated as a weighted average over old and new shares.
func (p *Portfolio) ApplyBuy(symbol string, qty, price int64) {
	h, ok := p.Holdings[symbol]
	if !ok {
		h = &Holding{Symbol: symbol}
		p.Holdings[symbol] = h
	}

	oldCost := float64(h.Shares) * h.AverageCost
	h.Shares += qty
	h.AverageCost = (oldCost + float64(qty*price)) / float64(h.Shares)
	h.MarketValue = h.Shares * price

	p.Cash -= qty * price
	p.recomputeFractions()
}

// ApplySell debits qty shares of symbol at price and credits the cash leg.
// A holding that reaches zero shares is removed entirely.
// Returns ErrInsufficientHoldings if the holding cannot cover qty.
func (p *Portfolio) ApplySell(symbol string, qty, price int64) error {
	h, ok := p.Holdings[symbol]
	if !ok || h.Shares < qty {
		have := int64(0)
		if ok {
			have = h.Shares
		}
		return fmt.Errorf("%w: %s have %d, need %d", ErrInsufficientHoldings, symbol, have, qty)
	}

	h.Shares -= qty
	if h.Shares == 0 {
		delete(p.Holdings, symbol)
	} else {
		h.MarketValue = h.Shares * price
	}

	p.Cash += qty * price
	p.recomputeFractions()
	return nil
}

// recomputeFractions rebuilds every holding's portfolio fraction.
// A single fill changes the denominator (cash + total market value) for
// all holdings, so this is a full recompute rather than an incremental
// patch of the touched symbol.
func (p *Portfolio) recomputeFractions() {
	total := p.TotalValue()
	for _, h := range p.Holdings {
		if total <= 0 {
			h.Fraction = 0
			continue
		}
		h.Fraction = float64(h.MarketValue) / float64(total)
	}
}
