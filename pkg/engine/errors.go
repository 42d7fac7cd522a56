package engine

import (
	"errors"

	"github.com/ddxlabs/orderengine/pkg/engine/ledger"
	"github.com/ddxlabs/orderengine/pkg/engine/market"
)

// The engine surfaces a closed set of expected, caller-recoverable errors.
// Anything else escaping a command is an engine bug; invariant violations
// inside the ledger panic instead of returning.
var (
	ErrInsufficientFunds = ledger.ErrInsufficientFunds
	ErrAccountNotFound   = ledger.ErrAccountNotFound
	ErrAccountNotEmpty   = ledger.ErrAccountNotEmpty
	ErrInvalidOrder      = market.ErrInvalidOrder

	ErrDuplicateOrder = errors.New("duplicate order")
	ErrOrderNotFound  = errors.New("order not found")
	ErrMarketNotFound = errors.New("market not found")
	ErrAccountExists  = errors.New("account already exists")
)
