package engine

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/ddxlabs/orderengine/pkg/engine/book"
	"github.com/ddxlabs/orderengine/pkg/engine/ledger"
	"github.com/ddxlabs/orderengine/pkg/engine/market"
	"github.com/ddxlabs/orderengine/pkg/util"
)

// SelfTradePolicy decides what happens when an incoming order would match a
// resting order from the same trader.
type SelfTradePolicy int8

const (
	// SelfTradeAllow matches own orders like any other counterparty.
	SelfTradeAllow SelfTradePolicy = iota
	// SelfTradeCancelResting cancels the resting own order and keeps
	// matching against the rest of the book.
	SelfTradeCancelResting
)

// Config carries engine-level policy knobs.
type Config struct {
	SelfTrade SelfTradePolicy
}

// OrderAccepted is the result of a successful PlaceOrder.
type OrderAccepted struct {
	Hash   common.Hash  `json:"hash"`
	Status book.Status  `json:"-"`
	Fills  []book.Trade `json:"fills"`
}

// OrderSnapshot is a point-in-time copy of an order's state.
type OrderSnapshot struct {
	Hash      common.Hash    `json:"hash"`
	Trader    common.Address `json:"traderAddress"`
	Symbol    string         `json:"symbol"`
	Side      string         `json:"side"`
	Price     int64          `json:"price"`
	Amount    int64          `json:"amount"`
	Filled    int64          `json:"filled"`
	Remaining int64          `json:"remaining"`
	Nonce     uint64         `json:"nonce"`
	Status    string         `json:"status"`
	CreatedAt int64          `json:"createdAt"`
	UpdatedAt int64          `json:"updatedAt"`
}

// AccountSnapshot is a point-in-time copy of a trader's balances.
type AccountSnapshot struct {
	Trader     common.Address                `json:"traderAddress"`
	Balances   map[ledger.Asset]ledger.Balance `json:"balances"`
	OpenOrders int                           `json:"openOrders"`
}

// domain is one trading pair's consistency domain: the pair's book plus the
// bookkeeping the matching algorithm needs, all guarded by one lock. The
// ledger has its own lock and every ledger operation is atomic, so commands
// on different pairs proceed independently even when they touch the same
// accounts.
type domain struct {
	mu     sync.RWMutex
	market *market.Market
	book   *book.OrderBook

	// Every order ever accepted on this pair, live or terminal. Resubmitting
	// a tuple that hashes to a known order is a duplicate, not a re-insert.
	orders map[common.Hash]*book.Order

	// Resting order count per trader, consulted before account close.
	open map[common.Address]int

	tradeSeq uint64
}

// Engine owns the canonical order books and mediates every mutation of book
// and ledger state. One Engine serves many trading pairs.
type Engine struct {
	cfg    Config
	log    *zap.SugaredLogger
	clock  util.Clock
	ledger *ledger.Ledger

	mu      sync.RWMutex // guards domains and byHash; never held while waiting on a domain lock
	domains map[string]*domain
	byHash  map[common.Hash]*domain

	journal   Journal
	sinks     []Sink
	replaying bool
}

// New creates an engine with the default DDX-USD market registered.
func New(cfg Config, log *zap.SugaredLogger) *Engine {
	e := &Engine{
		cfg:     cfg,
		log:     log,
		clock:   util.RealClock{},
		ledger:  ledger.New(),
		domains: make(map[string]*domain),
		byHash:  make(map[common.Hash]*domain),
	}
	e.AddMarket(market.Default())
	return e
}

// SetClock replaces the engine clock (tests).
func (e *Engine) SetClock(c util.Clock) { e.clock = c }

// SetJournal attaches the durability sink. Appends happen only after each
// in-memory mutation commits, never inside a critical section.
func (e *Engine) SetJournal(j Journal) { e.journal = j }

// AddSink registers an event consumer (websocket hub, trade feed, ...).
func (e *Engine) AddSink(s Sink) { e.sinks = append(e.sinks, s) }

// Ledger exposes read access to balances for the gateway.
func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

// AddMarket registers a trading pair. Pairs are independent consistency
// domains and never share a lock.
func (e *Engine) AddMarket(m *market.Market) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.domains[m.Symbol]; ok {
		return
	}
	e.domains[m.Symbol] = &domain{
		market: m,
		book:   book.New(),
		orders: make(map[common.Hash]*book.Order),
		open:   make(map[common.Address]int),
	}
}

// DefaultSymbol returns the symbol commands fall back to when none is given.
func (e *Engine) DefaultSymbol() string { return market.Default().Symbol }

func (e *Engine) domain(symbol string) (*domain, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	d, ok := e.domains[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, symbol)
	}
	return d, nil
}

// ---------------------------------------------------------------------------
// Account commands
// ---------------------------------------------------------------------------

// OpenAccount creates a trader account and credits the initial deposits.
func (e *Engine) OpenAccount(trader common.Address, deposits map[ledger.Asset]int64) error {
	return e.openAccount(trader, deposits, true)
}

func (e *Engine) openAccount(trader common.Address, deposits map[ledger.Asset]int64, journal bool) error {
	if e.ledger.Exists(trader) {
		return fmt.Errorf("%w: %s", ErrAccountExists, trader.Hex())
	}
	e.ledger.Open(trader)
	for asset, amount := range deposits {
		if amount == 0 {
			continue
		}
		if err := e.ledger.Deposit(trader, asset, amount); err != nil {
			return err
		}
	}

	if journal {
		e.appendCommand(JournalRecord{
			Type:     RecordAccountOpen,
			Trader:   trader.Hex(),
			Deposits: assetMap(deposits),
		})
	}
	e.log.Infow("account_opened", "trader", trader.Hex())
	return nil
}

// Deposit credits a trader's available balance.
func (e *Engine) Deposit(trader common.Address, asset ledger.Asset, amount int64) error {
	return e.deposit(trader, asset, amount, true)
}

func (e *Engine) deposit(trader common.Address, asset ledger.Asset, amount int64, journal bool) error {
	if !e.ledger.Exists(trader) {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, trader.Hex())
	}
	if err := e.ledger.Deposit(trader, asset, amount); err != nil {
		return err
	}
	if journal {
		e.appendCommand(JournalRecord{Type: RecordDeposit, Trader: trader.Hex(), Asset: string(asset), Amount: amount})
	}
	return nil
}

// Withdraw debits a trader's available balance.
func (e *Engine) Withdraw(trader common.Address, asset ledger.Asset, amount int64) error {
	return e.withdraw(trader, asset, amount, true)
}

func (e *Engine) withdraw(trader common.Address, asset ledger.Asset, amount int64, journal bool) error {
	if err := e.ledger.Withdraw(trader, asset, amount); err != nil {
		return err
	}
	if journal {
		e.appendCommand(JournalRecord{Type: RecordWithdraw, Trader: trader.Hex(), Asset: string(asset), Amount: amount})
	}
	return nil
}

// GetAccount returns the trader's balances and open order count. The balance
// map is an atomic ledger read; OpenOrders is tallied afterwards under the
// per-pair locks, so the two can reflect different instants when commands
// land in between.
func (e *Engine) GetAccount(trader common.Address) (*AccountSnapshot, error) {
	balances, err := e.ledger.Balances(trader)
	if err != nil {
		return nil, err
	}
	return &AccountSnapshot{
		Trader:     trader,
		Balances:   balances,
		OpenOrders: e.openOrderCount(trader),
	}, nil
}

// CloseAccount destroys an account. Refused while any balance, reservation,
// or resting order remains.
func (e *Engine) CloseAccount(trader common.Address) error {
	return e.closeAccount(trader, true)
}

func (e *Engine) closeAccount(trader common.Address, journal bool) error {
	if !e.ledger.Exists(trader) {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, trader.Hex())
	}
	if n := e.openOrderCount(trader); n > 0 {
		return fmt.Errorf("%w: %s has %d resting orders", ErrAccountNotEmpty, trader.Hex(), n)
	}
	if err := e.ledger.Close(trader); err != nil {
		return err
	}
	if journal {
		e.appendCommand(JournalRecord{Type: RecordAccountClose, Trader: trader.Hex()})
	}
	e.log.Infow("account_closed", "trader", trader.Hex())
	return nil
}

func (e *Engine) openOrderCount(trader common.Address) int {
	e.mu.RLock()
	domains := make([]*domain, 0, len(e.domains))
	for _, d := range e.domains {
		domains = append(domains, d)
	}
	e.mu.RUnlock()

	n := 0
	for _, d := range domains {
		d.mu.RLock()
		n += d.open[trader]
		d.mu.RUnlock()
	}
	return n
}

// ---------------------------------------------------------------------------
// Order commands
// ---------------------------------------------------------------------------

// PlaceOrder validates, reserves, matches and rests one limit order on the
// given pair. Fills execute at the resting (maker) order's price. The
// returned fills are in execution order.
func (e *Engine) PlaceOrder(symbol string, trader common.Address, side book.Side, price, amount int64, nonce uint64) (*OrderAccepted, error) {
	return e.placeOrder(symbol, trader, side, price, amount, nonce, true)
}

func (e *Engine) placeOrder(symbol string, trader common.Address, side book.Side, price, amount int64, nonce uint64, journal bool) (*OrderAccepted, error) {
	d, err := e.domain(symbol)
	if err != nil {
		return nil, err
	}
	if err := d.market.ValidateOrder(price, amount); err != nil {
		return nil, err
	}

	hash := book.ComputeHash(trader, nonce, side, price, amount)
	now := e.clock.Now().UnixMilli()

	d.mu.Lock()

	if _, dup := d.orders[hash]; dup {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateOrder, hash.Hex())
	}

	// Reserve before the order touches the book. On failure the command has
	// no side effects at all.
	if side == book.Buy {
		err = e.ledger.Reserve(trader, d.market.Quote, d.market.QuoteCost(price, amount))
	} else {
		err = e.ledger.Reserve(trader, d.market.Base, amount)
	}
	if err != nil {
		d.mu.Unlock()
		return nil, err
	}

	o := &book.Order{
		Hash:      hash,
		Trader:    trader,
		Side:      side,
		Price:     price,
		Amount:    amount,
		Nonce:     nonce,
		Status:    book.OrderValidated,
		CreatedAt: now,
		UpdatedAt: now,
	}

	fills := e.matchLocked(d, o, now)

	if o.Remaining() == 0 {
		o.Status = book.OrderFilled
	} else {
		if o.Filled > 0 {
			o.Status = book.OrderPartiallyFilled
		} else {
			o.Status = book.OrderResting
		}
		d.book.Insert(o)
		d.open[trader]++
	}
	d.orders[hash] = o

	d.mu.Unlock()

	e.mu.Lock()
	e.byHash[hash] = d
	e.mu.Unlock()

	if journal {
		e.appendCommand(JournalRecord{
			Type:   RecordPlace,
			Trader: trader.Hex(),
			Symbol: symbol,
			Side:   side.String(),
			Price:  price,
			Amount: amount,
			Nonce:  nonce,
			Hash:   hash.Hex(),
		})
		for _, t := range fills {
			e.appendTrade(symbol, t)
		}
	}
	e.emitTrades(symbol, fills)
	e.emitBookChange(symbol)

	e.log.Infow("order_placed",
		"hash", hash.Hex(), "trader", trader.Hex(), "side", side.String(),
		"price", price, "amount", amount, "fills", len(fills), "status", o.Status.String())

	return &OrderAccepted{Hash: hash, Status: o.Status, Fills: fills}, nil
}

// matchLocked runs the price-time priority matching loop. Caller holds d.mu.
func (e *Engine) matchLocked(d *domain, o *book.Order, now int64) []book.Trade {
	var fills []book.Trade

	for o.Remaining() > 0 {
		maker := d.book.PeekBest(o.Side.Opposite())
		if maker == nil {
			break
		}
		if !crossable(o, maker) {
			break
		}

		if maker.Trader == o.Trader && e.cfg.SelfTrade == SelfTradeCancelResting {
			e.cancelRestingLocked(d, maker, now)
			continue
		}

		qty := minInt64(o.Remaining(), maker.Remaining())
		px := maker.Price // maker price, never the taker's

		buyer, seller := o, maker
		if o.Side == book.Sell {
			buyer, seller = maker, o
		}

		// The buyer reserved at its own limit price. A fill at a better
		// maker price frees the difference back to available.
		if excess := d.market.QuoteCost(buyer.Price-px, qty); excess > 0 {
			e.ledger.Release(buyer.Trader, d.market.Quote, excess)
		}
		e.ledger.Transfer(buyer.Trader, seller.Trader, d.market.Quote, d.market.QuoteCost(px, qty))
		e.ledger.Transfer(seller.Trader, buyer.Trader, d.market.Base, qty)

		o.Filled += qty
		o.UpdatedAt = now
		maker.Filled += qty
		maker.UpdatedAt = now

		d.tradeSeq++
		fills = append(fills, book.Trade{
			MakerHash: maker.Hash,
			TakerHash: o.Hash,
			Maker:     maker.Trader,
			Taker:     o.Trader,
			TakerSide: o.Side,
			Price:     px,
			Amount:    qty,
			Seq:       d.tradeSeq,
			Timestamp: now,
		})

		if maker.Remaining() == 0 {
			d.book.Remove(maker.Hash)
			maker.Status = book.OrderFilled
			d.open[maker.Trader]--
		} else {
			maker.Status = book.OrderPartiallyFilled
		}
	}

	return fills
}

// cancelRestingLocked removes a resting order and releases its remaining
// reservation in full. Caller holds d.mu.
func (e *Engine) cancelRestingLocked(d *domain, o *book.Order, now int64) {
	d.book.Remove(o.Hash)
	if o.Side == book.Buy {
		e.ledger.Release(o.Trader, d.market.Quote, d.market.QuoteCost(o.Price, o.Remaining()))
	} else {
		e.ledger.Release(o.Trader, d.market.Base, o.Remaining())
	}
	o.Status = book.OrderCancelled
	o.UpdatedAt = now
	d.open[o.Trader]--
}

// CancelOrder removes a live order from its book and releases exactly the
// remaining reservation. Absent or terminal orders yield ErrOrderNotFound.
func (e *Engine) CancelOrder(hash common.Hash) (*OrderSnapshot, error) {
	return e.cancelOrder(hash, true)
}

func (e *Engine) cancelOrder(hash common.Hash, journal bool) (*OrderSnapshot, error) {
	e.mu.RLock()
	d, ok := e.byHash[hash]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, hash.Hex())
	}

	now := e.clock.Now().UnixMilli()

	d.mu.Lock()
	o := d.orders[hash]
	if o == nil || !o.IsLive() {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, hash.Hex())
	}
	e.cancelRestingLocked(d, o, now)
	snap := snapshotLocked(d, o)
	d.mu.Unlock()

	if journal {
		e.appendCommand(JournalRecord{Type: RecordCancel, Hash: hash.Hex()})
	}
	e.emitBookChange(d.market.Symbol)

	e.log.Infow("order_cancelled", "hash", hash.Hex(), "trader", o.Trader.Hex())
	return snap, nil
}

// GetOrder returns a consistent snapshot of any order the engine has
// accepted, live or terminal.
func (e *Engine) GetOrder(hash common.Hash) (*OrderSnapshot, error) {
	e.mu.RLock()
	d, ok := e.byHash[hash]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, hash.Hex())
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	o := d.orders[hash]
	if o == nil {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, hash.Hex())
	}
	return snapshotLocked(d, o), nil
}

// GetBook derives the L2 depth snapshot for a pair. Never fails for a known
// pair; an empty book yields empty levels.
func (e *Engine) GetBook(symbol string, depth int) (*book.Snapshot, error) {
	d, err := e.domain(symbol)
	if err != nil {
		return nil, err
	}

	d.mu.RLock()
	snap := d.book.Snapshot(depth)
	d.mu.RUnlock()

	snap.Symbol = symbol
	snap.Timestamp = e.clock.Now().UnixMilli()
	return &snap, nil
}

// ---------------------------------------------------------------------------
// Replay
// ---------------------------------------------------------------------------

// Apply re-executes one journaled command during startup replay. Journaling
// and event sinks stay quiet; trades re-derive deterministically from the
// command sequence.
func (e *Engine) Apply(rec JournalRecord) error {
	e.replaying = true
	defer func() { e.replaying = false }()

	trader := common.HexToAddress(rec.Trader)
	switch rec.Type {
	case RecordAccountOpen:
		deposits := make(map[ledger.Asset]int64, len(rec.Deposits))
		for asset, amount := range rec.Deposits {
			deposits[ledger.Asset(asset)] = amount
		}
		return e.openAccount(trader, deposits, false)
	case RecordDeposit:
		return e.deposit(trader, ledger.Asset(rec.Asset), rec.Amount, false)
	case RecordWithdraw:
		return e.withdraw(trader, ledger.Asset(rec.Asset), rec.Amount, false)
	case RecordAccountClose:
		return e.closeAccount(trader, false)
	case RecordPlace:
		side, ok := book.ParseSide(rec.Side)
		if !ok {
			return fmt.Errorf("replay: bad side %q in record %d", rec.Side, rec.Seq)
		}
		_, err := e.placeOrder(rec.Symbol, trader, side, rec.Price, rec.Amount, rec.Nonce, false)
		return err
	case RecordCancel:
		_, err := e.cancelOrder(common.HexToHash(rec.Hash), false)
		return err
	default:
		return fmt.Errorf("replay: unknown record type %q", rec.Type)
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (e *Engine) appendCommand(rec JournalRecord) {
	if e.journal == nil || e.replaying {
		return
	}
	rec.Time = e.clock.Now().UnixMilli()
	if err := e.journal.AppendCommand(rec); err != nil {
		e.log.Errorw("journal_append_failed", "type", rec.Type, "err", err)
	}
}

func (e *Engine) appendTrade(symbol string, t book.Trade) {
	if e.journal == nil || e.replaying {
		return
	}
	if err := e.journal.AppendTrade(symbol, t); err != nil {
		e.log.Errorw("journal_trade_failed", "seq", t.Seq, "err", err)
	}
}

func (e *Engine) emitTrades(symbol string, fills []book.Trade) {
	if e.replaying {
		return
	}
	for _, s := range e.sinks {
		for _, t := range fills {
			s.OnTrade(symbol, t)
		}
	}
}

func (e *Engine) emitBookChange(symbol string) {
	if e.replaying {
		return
	}
	for _, s := range e.sinks {
		s.OnBookChange(symbol)
	}
}

func snapshotLocked(d *domain, o *book.Order) *OrderSnapshot {
	return &OrderSnapshot{
		Hash:      o.Hash,
		Trader:    o.Trader,
		Symbol:    d.market.Symbol,
		Side:      o.Side.String(),
		Price:     o.Price,
		Amount:    o.Amount,
		Filled:    o.Filled,
		Remaining: o.Remaining(),
		Nonce:     o.Nonce,
		Status:    o.Status.String(),
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
}

func crossable(taker, maker *book.Order) bool {
	if taker.Side == book.Buy {
		return taker.Price >= maker.Price
	}
	return taker.Price <= maker.Price
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func assetMap(in map[ledger.Asset]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[string(k)] = v
	}
	return out
}
