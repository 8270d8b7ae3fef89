package core

import (
	"errors"
	"fmt"
)

// ErrValidation wraps all order/request validation failures.
// Validation happens before any book or portfolio mutation.
var ErrValidation = errors.New("validation failed")

// Side is the order direction
type Side int8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

// ParseSide converts a wire string ("buy"/"sell") into a Side
func ParseSide(s string) (Side, error) {
	switch s {
	case "buy", "BUY":
		return Buy, nil
	case "sell", "SELL":
		return Sell, nil
	default:
		return 0, fmt.Errorf("%w: unknown side %q", ErrValidation, s)
	}
}

// OrderType is a tagged variant: matching eligibility is decided per
// variant via Order.Crosses, not via inheritance.
type OrderType int8

const (
	Limit OrderType = iota
	Market
	Stop
)

func (t OrderType) String() string {
	switch t {
	case Limit:
		return "limit"
	case Market:
		return "market"
	case Stop:
		return "stop"
	default:
		return "unknown"
	}
}

// ParseOrderType converts a wire string into an OrderType
func ParseOrderType(s string) (OrderType, error) {
	switch s {
	case "limit", "LIMIT":
		return Limit, nil
	case "market", "MARKET":
		return Market, nil
	case "stop", "STOP":
		return Stop, nil
	default:
		return 0, fmt.Errorf("%w: unknown order type %q", ErrValidation, s)
	}
}

// Order is a resting or incoming order.
// Identity fields are immutable after creation; only Qty is mutated,
// and only by the matching loop (monotonically decreasing, never below zero).
type Order struct {
	ID     string    // UUID assigned at submission
	UserID string    // Owning user
	Symbol string    // Market symbol (e.g. "ACME")
	Side   Side      // Buy or Sell
	Type   OrderType // Limit, Market or Stop

	Price     int64 // Limit price in ticks; ignored for market orders
	StopPrice int64 // Trigger price for stop orders
	Qty       int64 // Remaining quantity in lots

	CreatedAt int64 // Unix milliseconds, used for arrival-order bookkeeping
}

// Validate checks the input constraints for a new order.
// Market orders carry no limit price; every other variant needs one.
func (o *Order) Validate() error {
	if o.Symbol == "" {
		return fmt.Errorf("%w: empty symbol", ErrValidation)
	}
	if o.Qty <= 0 {
		return fmt.Errorf("%w: quantity must be positive, got %d", ErrValidation, o.Qty)
	}
	switch o.Type {
	case Limit:
		if o.Price <= 0 {
			return fmt.Errorf("%w: limit price must be positive, got %d", ErrValidation, o.Price)
		}
	case Stop:
		if o.Price <= 0 {
			return fmt.Errorf("%w: limit price must be positive, got %d", ErrValidation, o.Price)
		}
		if o.StopPrice <= 0 {
			return fmt.Errorf("%w: stop price must be positive, got %d", ErrValidation, o.StopPrice)
		}
	case Market:
		// No price constraint: market orders take whatever rests.
	default:
		return fmt.Errorf("%w: unknown order type %d", ErrValidation, o.Type)
	}
	return nil
}

// Crosses reports whether this order is willing to trade against a resting
// order at restingPrice. This is the per-variant eligibility predicate:
// market orders accept any resting price, limit orders compare against
// their own limit. Stop orders are parked off-book until triggered and
// never reach the matching loop directly.
func (o *Order) Crosses(restingPrice int64) bool {
	switch o.Type {
	case Market:
		return true
	case Limit:
		if o.Side == Buy {
			return o.Price >= restingPrice
		}
		return o.Price <= restingPrice
	default:
		return false
	}
}

// Triggered reports whether a parked stop order should activate given the
// last traded price. Buy stops arm above the market, sell stops below.
func (o *Order) Triggered(lastPrice int64) bool {
	if o.Type != Stop || lastPrice == 0 {
		return false
	}
	if o.Side == Buy {
		return lastPrice >= o.StopPrice
	}
	return lastPrice <= o.StopPrice
}
