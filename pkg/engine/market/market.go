package market

import (
	"errors"
	"fmt"
	"math"

	"github.com/ddxlabs/orderengine/pkg/engine/ledger"
)

// ErrInvalidOrder is returned when an order violates market rules before it
// touches the ledger or the book.
var ErrInvalidOrder = errors.New("invalid order")

// Market defines the static parameters of one trading pair. Prices are in
// quote-asset units per whole base unit, amounts in base units; both are
// fixed-point integers.
type Market struct {
	Symbol string       // "DDX-USD"
	Base   ledger.Asset // asset bought/sold
	Quote  ledger.Asset // asset prices are quoted in

	// MinOrderSize/MaxOrderSize bound the amount in base units.
	// Zero means unbounded.
	MinOrderSize int64
	MaxOrderSize int64
}

// New creates a market for the given pair.
func New(symbol string, base, quote ledger.Asset) *Market {
	return &Market{Symbol: symbol, Base: base, Quote: quote}
}

// Default is the pair the original deployment trades.
func Default() *Market {
	return New("DDX-USD", "DDX", "USD")
}

// ValidateOrder checks price and amount against market rules. Price and
// amount must be strictly positive; size bounds apply when configured.
func (m *Market) ValidateOrder(price, amount int64) error {
	if price <= 0 {
		return fmt.Errorf("%w: price must be positive, got %d", ErrInvalidOrder, price)
	}
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be positive, got %d", ErrInvalidOrder, amount)
	}
	// The notional must fit in int64: every reservation and settlement
	// downstream multiplies a price by an amount no larger than these, so
	// rejecting the product here keeps all later arithmetic exact.
	if price > math.MaxInt64/amount {
		return fmt.Errorf("%w: notional %d*%d overflows", ErrInvalidOrder, price, amount)
	}
	if m.MinOrderSize > 0 && amount < m.MinOrderSize {
		return fmt.Errorf("%w: amount %d below minimum %d", ErrInvalidOrder, amount, m.MinOrderSize)
	}
	if m.MaxOrderSize > 0 && amount > m.MaxOrderSize {
		return fmt.Errorf("%w: amount %d exceeds maximum %d", ErrInvalidOrder, amount, m.MaxOrderSize)
	}
	return nil
}

// QuoteCost returns the quote-asset value of amount at price. This is the
// reservation a buy order requires. Callers only pass prices and amounts
// bounded by a validated order's, so the product cannot wrap.
func (m *Market) QuoteCost(price, amount int64) int64 {
	return price * amount
}
