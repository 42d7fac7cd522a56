package ledger

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Asset identifies one balance class (e.g. "DDX", "USD").
type Asset string

var (
	// ErrInsufficientFunds is returned when a reservation or withdrawal
	// exceeds the trader's available balance. Recoverable: the caller may
	// retry with a smaller amount.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrAccountNotFound is returned for operations on a trader that never
	// opened an account.
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountNotEmpty is returned when closing an account that still
	// holds funds or reservations.
	ErrAccountNotEmpty = errors.New("account not empty")
)

// Balance is the pair of fixed-point amounts held per asset. Reserved is the
// portion earmarked for open orders; it moves back to Available on release
// or to a counterparty on transfer, never anywhere else.
type Balance struct {
	Available int64 `json:"available"`
	Reserved  int64 `json:"reserved"`
}

type account struct {
	addr     common.Address
	balances map[Asset]*Balance
}

func (a *account) balance(asset Asset) *Balance {
	b, ok := a.balances[asset]
	if !ok {
		b = &Balance{}
		a.balances[asset] = b
	}
	return b
}

func (a *account) flat() bool {
	for _, b := range a.balances {
		if b.Available != 0 || b.Reserved != 0 {
			return false
		}
	}
	return true
}

// Ledger holds every trader's available and reserved balances. All mutating
// operations commit atomically under one mutex: no half-applied reservation
// or transfer is ever observable. Only the matching engine mutates balances;
// it does so exclusively through Reserve, Release, Transfer, Deposit and
// Withdraw.
type Ledger struct {
	mu       sync.RWMutex
	accounts map[common.Address]*account
}

func New() *Ledger {
	return &Ledger{accounts: make(map[common.Address]*account)}
}

// Open creates the trader's account if it does not exist yet.
func (l *Ledger) Open(trader common.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.openLocked(trader)
}

func (l *Ledger) openLocked(trader common.Address) *account {
	acc, ok := l.accounts[trader]
	if !ok {
		acc = &account{addr: trader, balances: make(map[Asset]*Balance)}
		l.accounts[trader] = acc
	}
	return acc
}

// Exists reports whether the trader has an account.
func (l *Ledger) Exists(trader common.Address) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.accounts[trader]
	return ok
}

// Deposit credits the trader's available balance, opening the account on
// first use.
func (l *Ledger) Deposit(trader common.Address, asset Asset, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("deposit amount must be positive: %d", amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	acc := l.openLocked(trader)
	b := acc.balance(asset)
	if b.Available > math.MaxInt64-amount {
		return fmt.Errorf("deposit of %d %s overflows balance %d", amount, asset, b.Available)
	}
	b.Available += amount
	return nil
}

// Withdraw debits the trader's available balance. Reserved funds cannot be
// withdrawn.
func (l *Ledger) Withdraw(trader common.Address, asset Asset, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("withdraw amount must be positive: %d", amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	acc, ok := l.accounts[trader]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, trader.Hex())
	}
	b := acc.balance(asset)
	if b.Available < amount {
		return fmt.Errorf("%w: have %d %s available, need %d", ErrInsufficientFunds, b.Available, asset, amount)
	}
	b.Available -= amount
	return nil
}

// Reserve moves amount from available to reserved. On failure nothing
// changes.
func (l *Ledger) Reserve(trader common.Address, asset Asset, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("reserve amount must be positive: %d", amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	acc, ok := l.accounts[trader]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, trader.Hex())
	}
	b := acc.balance(asset)
	if b.Available < amount {
		return fmt.Errorf("%w: have %d %s available, need %d", ErrInsufficientFunds, b.Available, asset, amount)
	}
	b.Available -= amount
	b.Reserved += amount
	return nil
}

// Release moves amount from reserved back to available. Callers only ever
// release what they previously reserved, so a shortfall is an engine bug:
// the ledger panics to halt the trading-pair domain instead of trading on
// corrupted balances.
func (l *Ledger) Release(trader common.Address, asset Asset, amount int64) {
	if amount == 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	acc, ok := l.accounts[trader]
	if !ok {
		panic(fmt.Sprintf("ledger: release for unknown account %s", trader.Hex()))
	}
	b := acc.balance(asset)
	if amount < 0 || b.Reserved < amount {
		panic(fmt.Sprintf("ledger: release %d %s exceeds reserved %d for %s", amount, asset, b.Reserved, trader.Hex()))
	}
	b.Reserved -= amount
	b.Available += amount
}

// Transfer settles trade proceeds: amount leaves from's reserved balance and
// arrives in to's available balance, atomically with respect to every other
// ledger operation. from == to is legal (self-trade settlement).
func (l *Ledger) Transfer(from, to common.Address, asset Asset, amount int64) {
	if amount == 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	src, ok := l.accounts[from]
	if !ok {
		panic(fmt.Sprintf("ledger: transfer from unknown account %s", from.Hex()))
	}
	dst, ok := l.accounts[to]
	if !ok {
		panic(fmt.Sprintf("ledger: transfer to unknown account %s", to.Hex()))
	}

	sb := src.balance(asset)
	if amount < 0 || sb.Reserved < amount {
		panic(fmt.Sprintf("ledger: transfer %d %s exceeds reserved %d for %s", amount, asset, sb.Reserved, from.Hex()))
	}
	sb.Reserved -= amount
	dst.balance(asset).Available += amount
}

// Balances returns a point-in-time copy of the trader's balances per asset.
func (l *Ledger) Balances(trader common.Address) (map[Asset]Balance, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	acc, ok := l.accounts[trader]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, trader.Hex())
	}
	out := make(map[Asset]Balance, len(acc.balances))
	for asset, b := range acc.balances {
		out[asset] = *b
	}
	return out, nil
}

// Close destroys the trader's account. Allowed only when every balance and
// reservation is zero; the engine additionally checks for resting orders
// before calling.
func (l *Ledger) Close(trader common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	acc, ok := l.accounts[trader]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, trader.Hex())
	}
	if !acc.flat() {
		return fmt.Errorf("%w: %s", ErrAccountNotEmpty, trader.Hex())
	}
	delete(l.accounts, trader)
	return nil
}

// Count returns the number of open accounts.
func (l *Ledger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.accounts)
}
