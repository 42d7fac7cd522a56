package engine_test

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/ddxlabs/orderengine/pkg/engine"
	"github.com/ddxlabs/orderengine/pkg/engine/book"
	"github.com/ddxlabs/orderengine/pkg/engine/ledger"
)

var (
	alice = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	bob   = common.HexToAddress("0xBB00000000000000000000000000000000000000")
	carol = common.HexToAddress("0xCC00000000000000000000000000000000000000")
)

const pair = "DDX-USD"

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	return engine.New(engine.Config{}, zap.NewNop().Sugar())
}

func fund(t *testing.T, e *engine.Engine, trader common.Address, ddx, usd int64) {
	t.Helper()
	err := e.OpenAccount(trader, map[ledger.Asset]int64{"DDX": ddx, "USD": usd})
	if err != nil {
		t.Fatalf("open account %s: %v", trader.Hex(), err)
	}
}

func balance(t *testing.T, e *engine.Engine, trader common.Address, asset ledger.Asset) ledger.Balance {
	t.Helper()
	snap, err := e.GetAccount(trader)
	if err != nil {
		t.Fatalf("get account %s: %v", trader.Hex(), err)
	}
	return snap.Balances[asset]
}

func assertBalance(t *testing.T, e *engine.Engine, trader common.Address, asset ledger.Asset, available, reserved int64) {
	t.Helper()
	b := balance(t, e, trader, asset)
	if b.Available != available || b.Reserved != reserved {
		t.Errorf("%s %s = {available:%d reserved:%d}, want {available:%d reserved:%d}",
			trader.Hex()[:6], asset, b.Available, b.Reserved, available, reserved)
	}
}

// Full-match example: A buys 10@100 against B's sell 10@100. A receives
// 10 DDX, B receives 1000 USD, both orders fill, nothing rests.
func TestFullMatchAtSamePrice(t *testing.T) {
	e := newTestEngine(t)
	fund(t, e, alice, 0, 1000)
	fund(t, e, bob, 10, 0)

	buy, err := e.PlaceOrder(pair, alice, book.Buy, 100, 10, 1)
	if err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	if len(buy.Fills) != 0 {
		t.Fatalf("buy against empty book produced %d fills", len(buy.Fills))
	}
	assertBalance(t, e, alice, "USD", 0, 1000) // fully reserved

	sell, err := e.PlaceOrder(pair, bob, book.Sell, 100, 10, 1)
	if err != nil {
		t.Fatalf("sell failed: %v", err)
	}
	if len(sell.Fills) != 1 {
		t.Fatalf("fills = %d, want 1", len(sell.Fills))
	}
	fill := sell.Fills[0]
	if fill.Price != 100 || fill.Amount != 10 {
		t.Errorf("fill = %d@%d, want 10@100", fill.Amount, fill.Price)
	}
	if fill.MakerHash != buy.Hash || fill.TakerHash != sell.Hash {
		t.Error("maker/taker attribution wrong")
	}

	assertBalance(t, e, alice, "DDX", 10, 0)
	assertBalance(t, e, alice, "USD", 0, 0)
	assertBalance(t, e, bob, "USD", 1000, 0)
	assertBalance(t, e, bob, "DDX", 0, 0)

	snap, _ := e.GetBook(pair, 0)
	if len(snap.Bids) != 0 || len(snap.Asks) != 0 {
		t.Error("book should be empty after the full match")
	}

	for _, h := range []common.Hash{buy.Hash, sell.Hash} {
		o, err := e.GetOrder(h)
		if err != nil {
			t.Fatalf("get order: %v", err)
		}
		if o.Status != "filled" || o.Remaining != 0 {
			t.Errorf("order %s status=%s remaining=%d, want filled/0", h.Hex()[:10], o.Status, o.Remaining)
		}
	}
}

// Maker-price rule: a sell crossing a better-priced resting buy executes at
// the resting (maker) price, never the taker's.
func TestExecutionAtMakerPrice(t *testing.T) {
	e := newTestEngine(t)
	fund(t, e, alice, 0, 500)
	fund(t, e, bob, 5, 0)

	if _, err := e.PlaceOrder(pair, alice, book.Buy, 100, 5, 1); err != nil {
		t.Fatalf("resting buy: %v", err)
	}
	sell, err := e.PlaceOrder(pair, bob, book.Sell, 90, 5, 1)
	if err != nil {
		t.Fatalf("crossing sell: %v", err)
	}

	if len(sell.Fills) != 1 || sell.Fills[0].Price != 100 {
		t.Fatalf("fill price = %v, want 100 (maker price, not 90)", sell.Fills)
	}
	// Seller receives the full maker-price proceeds.
	assertBalance(t, e, bob, "USD", 500, 0)
}

// A buy taker at a price above the maker's ask releases the over-reservation
// back to available.
func TestTakerOverReservationReleased(t *testing.T) {
	e := newTestEngine(t)
	fund(t, e, alice, 0, 1100)
	fund(t, e, bob, 10, 0)

	if _, err := e.PlaceOrder(pair, bob, book.Sell, 100, 10, 1); err != nil {
		t.Fatalf("resting sell: %v", err)
	}
	buy, err := e.PlaceOrder(pair, alice, book.Buy, 110, 10, 1)
	if err != nil {
		t.Fatalf("crossing buy: %v", err)
	}

	if len(buy.Fills) != 1 || buy.Fills[0].Price != 100 {
		t.Fatalf("fill = %+v, want 10@100", buy.Fills)
	}
	// Reserved 1100, paid 1000, difference back to available.
	assertBalance(t, e, alice, "USD", 100, 0)
	assertBalance(t, e, alice, "DDX", 10, 0)
	assertBalance(t, e, bob, "USD", 1000, 0)
}

func TestFIFOAtSamePrice(t *testing.T) {
	e := newTestEngine(t)
	fund(t, e, alice, 10, 0)
	fund(t, e, bob, 10, 0)
	fund(t, e, carol, 0, 1000)

	first, err := e.PlaceOrder(pair, alice, book.Sell, 100, 5, 1)
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.PlaceOrder(pair, bob, book.Sell, 100, 5, 1)
	if err != nil {
		t.Fatal(err)
	}

	buy, err := e.PlaceOrder(pair, carol, book.Buy, 100, 7, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(buy.Fills) != 2 {
		t.Fatalf("fills = %d, want 2", len(buy.Fills))
	}
	if buy.Fills[0].MakerHash != first.Hash || buy.Fills[0].Amount != 5 {
		t.Error("earliest arrival must fill first and in full")
	}
	if buy.Fills[1].MakerHash != second.Hash || buy.Fills[1].Amount != 2 {
		t.Error("second arrival fills the remainder")
	}

	// Bob's order is partially filled and still resting.
	o, err := e.GetOrder(second.Hash)
	if err != nil {
		t.Fatal(err)
	}
	if o.Status != "partially_filled" || o.Remaining != 3 {
		t.Errorf("second order status=%s remaining=%d, want partially_filled/3", o.Status, o.Remaining)
	}
}

func TestPriceLevelPriority(t *testing.T) {
	e := newTestEngine(t)
	fund(t, e, alice, 20, 0)
	fund(t, e, bob, 0, 2000)

	// Asks at 105 and 101: the crossing buy must lift 101 first.
	e.PlaceOrder(pair, alice, book.Sell, 105, 5, 1)
	cheap, _ := e.PlaceOrder(pair, alice, book.Sell, 101, 5, 2)

	buy, err := e.PlaceOrder(pair, bob, book.Buy, 105, 5, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(buy.Fills) != 1 || buy.Fills[0].MakerHash != cheap.Hash || buy.Fills[0].Price != 101 {
		t.Fatalf("fills = %+v, want 5@101 against the better ask", buy.Fills)
	}
}

func TestInsufficientFundsHasNoSideEffects(t *testing.T) {
	e := newTestEngine(t)
	fund(t, e, alice, 0, 999)

	_, err := e.PlaceOrder(pair, alice, book.Buy, 100, 10, 1)
	if !errors.Is(err, engine.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	assertBalance(t, e, alice, "USD", 999, 0)

	snap, _ := e.GetBook(pair, 0)
	if len(snap.Bids) != 0 {
		t.Error("rejected order must never touch the book")
	}

	// The hash was not consumed: the same tuple placed after funding works.
	if err := e.Deposit(alice, "USD", 1); err != nil {
		t.Fatal(err)
	}
	if _, err := e.PlaceOrder(pair, alice, book.Buy, 100, 10, 1); err != nil {
		t.Fatalf("retry after funding failed: %v", err)
	}
}

func TestDuplicateOrderRejected(t *testing.T) {
	e := newTestEngine(t)
	fund(t, e, alice, 0, 5000)
	fund(t, e, bob, 10, 0)

	if _, err := e.PlaceOrder(pair, alice, book.Buy, 100, 10, 7); err != nil {
		t.Fatal(err)
	}
	_, err := e.PlaceOrder(pair, alice, book.Buy, 100, 10, 7)
	if !errors.Is(err, engine.ErrDuplicateOrder) {
		t.Fatalf("err = %v, want ErrDuplicateOrder", err)
	}

	// Still a duplicate after the order fills (idempotence over terminal
	// orders).
	if _, err := e.PlaceOrder(pair, bob, book.Sell, 100, 10, 1); err != nil {
		t.Fatal(err)
	}
	_, err = e.PlaceOrder(pair, alice, book.Buy, 100, 10, 7)
	if !errors.Is(err, engine.ErrDuplicateOrder) {
		t.Fatalf("err after fill = %v, want ErrDuplicateOrder", err)
	}

	// A different nonce is a fresh order.
	if _, err := e.PlaceOrder(pair, alice, book.Buy, 100, 10, 8); err != nil {
		t.Fatalf("fresh nonce rejected: %v", err)
	}
}

func TestCancelReleasesExactRemainder(t *testing.T) {
	e := newTestEngine(t)
	fund(t, e, alice, 0, 1000)
	fund(t, e, bob, 4, 0)

	buy, err := e.PlaceOrder(pair, alice, book.Buy, 100, 10, 1)
	if err != nil {
		t.Fatal(err)
	}
	// Partial fill: 4 of 10.
	if _, err := e.PlaceOrder(pair, bob, book.Sell, 100, 4, 1); err != nil {
		t.Fatal(err)
	}
	assertBalance(t, e, alice, "USD", 0, 600)
	assertBalance(t, e, alice, "DDX", 4, 0)

	cancelled, err := e.CancelOrder(buy.Hash)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Remaining != 6 {
		t.Errorf("cancelled remaining = %d, want 6", cancelled.Remaining)
	}
	// Exactly the remaining reservation comes back, the filled part stays
	// transferred.
	assertBalance(t, e, alice, "USD", 600, 0)

	// Terminal orders cannot be cancelled again.
	if _, err := e.CancelOrder(buy.Hash); !errors.Is(err, engine.ErrOrderNotFound) {
		t.Fatalf("second cancel err = %v, want ErrOrderNotFound", err)
	}
}

// Cancel of a hash never placed: OrderNotFound, all balances untouched.
func TestCancelUnknownHash(t *testing.T) {
	e := newTestEngine(t)
	fund(t, e, alice, 5, 500)

	_, err := e.CancelOrder(common.HexToHash("0xdeadbeef00000000000000000000000000000000000000000000000000000000"))
	if !errors.Is(err, engine.ErrOrderNotFound) {
		t.Fatalf("err = %v, want ErrOrderNotFound", err)
	}
	assertBalance(t, e, alice, "USD", 500, 0)
	assertBalance(t, e, alice, "DDX", 5, 0)
}

func TestPartialFillRestsWithNewPriority(t *testing.T) {
	e := newTestEngine(t)
	fund(t, e, alice, 5, 0)
	fund(t, e, bob, 0, 2000)
	fund(t, e, carol, 0, 1000)

	// Alice's ask partially fills Bob's big buy; the buy remainder rests.
	e.PlaceOrder(pair, alice, book.Sell, 100, 5, 1)
	big, err := e.PlaceOrder(pair, bob, book.Buy, 100, 12, 1)
	if err != nil {
		t.Fatal(err)
	}
	if got := big.Status; got != book.OrderPartiallyFilled {
		t.Fatalf("status = %v, want partially filled and resting", got)
	}

	// Carol queues behind Bob's remainder at the same price.
	carolBuy, err := e.PlaceOrder(pair, carol, book.Buy, 100, 3, 1)
	if err != nil {
		t.Fatal(err)
	}

	// A sell for 7 consumes Bob's remainder first (FIFO), never Carol's.
	fund(t, e, alice, 7, 0)
	sell, err := e.PlaceOrder(pair, alice, book.Sell, 100, 7, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(sell.Fills) != 1 || sell.Fills[0].MakerHash != big.Hash || sell.Fills[0].Amount != 7 {
		t.Fatalf("fills = %+v, want 7 against the earlier remainder", sell.Fills)
	}
	if o, _ := e.GetOrder(carolBuy.Hash); o.Remaining != 3 {
		t.Error("later arrival must not fill before the earlier remainder")
	}
}

func TestNonCrossingOrderRests(t *testing.T) {
	e := newTestEngine(t)
	fund(t, e, alice, 0, 1000)
	fund(t, e, bob, 10, 0)

	e.PlaceOrder(pair, bob, book.Sell, 105, 10, 1)
	buy, err := e.PlaceOrder(pair, alice, book.Buy, 95, 10, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(buy.Fills) != 0 || buy.Status != book.OrderResting {
		t.Fatalf("non-crossing order must rest whole: fills=%d status=%v", len(buy.Fills), buy.Status)
	}

	snap, _ := e.GetBook(pair, 0)
	if len(snap.Bids) != 1 || len(snap.Asks) != 1 {
		t.Errorf("book = %d bids / %d asks, want 1/1", len(snap.Bids), len(snap.Asks))
	}
}

func TestSelfTradeAllowedByDefault(t *testing.T) {
	e := newTestEngine(t)
	fund(t, e, alice, 10, 1000)

	e.PlaceOrder(pair, alice, book.Sell, 100, 10, 1)
	buy, err := e.PlaceOrder(pair, alice, book.Buy, 100, 10, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(buy.Fills) != 1 {
		t.Fatalf("self-trade fills = %d, want 1", len(buy.Fills))
	}
	// Round trip: same balances as before, nothing reserved.
	assertBalance(t, e, alice, "DDX", 10, 0)
	assertBalance(t, e, alice, "USD", 1000, 0)
}

func TestSelfTradeCancelRestingPolicy(t *testing.T) {
	e := engine.New(engine.Config{SelfTrade: engine.SelfTradeCancelResting}, zap.NewNop().Sugar())
	fund(t, e, alice, 10, 2000)
	fund(t, e, bob, 10, 0)

	own, _ := e.PlaceOrder(pair, alice, book.Sell, 100, 10, 1)
	other, _ := e.PlaceOrder(pair, bob, book.Sell, 101, 10, 1)

	buy, err := e.PlaceOrder(pair, alice, book.Buy, 101, 10, 2)
	if err != nil {
		t.Fatal(err)
	}
	// The own resting ask is cancelled, the match continues against Bob.
	if o, _ := e.GetOrder(own.Hash); o.Status != "cancelled" {
		t.Errorf("own resting order status = %s, want cancelled", o.Status)
	}
	if len(buy.Fills) != 1 || buy.Fills[0].MakerHash != other.Hash || buy.Fills[0].Price != 101 {
		t.Fatalf("fills = %+v, want 10@101 against bob", buy.Fills)
	}
	// Alice keeps her DDX (own ask released) and paid Bob.
	assertBalance(t, e, alice, "DDX", 20, 0)
	assertBalance(t, e, alice, "USD", 990, 0)
}

func TestCloseAccountRules(t *testing.T) {
	e := newTestEngine(t)
	fund(t, e, alice, 0, 1000)

	order, _ := e.PlaceOrder(pair, alice, book.Buy, 100, 10, 1)

	// Resting order blocks close.
	if err := e.CloseAccount(alice); !errors.Is(err, engine.ErrAccountNotEmpty) {
		t.Fatalf("close with resting order err = %v, want ErrAccountNotEmpty", err)
	}

	e.CancelOrder(order.Hash)

	// Non-zero balance still blocks close.
	if err := e.CloseAccount(alice); !errors.Is(err, engine.ErrAccountNotEmpty) {
		t.Fatalf("close with funds err = %v, want ErrAccountNotEmpty", err)
	}

	e.Withdraw(alice, "USD", 1000)
	if err := e.CloseAccount(alice); err != nil {
		t.Fatalf("close of flat account failed: %v", err)
	}
	if _, err := e.GetAccount(alice); !errors.Is(err, engine.ErrAccountNotFound) {
		t.Fatalf("get after close err = %v, want ErrAccountNotFound", err)
	}
}

func TestOpenAccountTwice(t *testing.T) {
	e := newTestEngine(t)
	fund(t, e, alice, 1, 1)
	err := e.OpenAccount(alice, nil)
	if !errors.Is(err, engine.ErrAccountExists) {
		t.Fatalf("err = %v, want ErrAccountExists", err)
	}
}

func TestUnknownMarket(t *testing.T) {
	e := newTestEngine(t)
	fund(t, e, alice, 0, 100)
	_, err := e.PlaceOrder("BTC-USD", alice, book.Buy, 1, 1, 1)
	if !errors.Is(err, engine.ErrMarketNotFound) {
		t.Fatalf("err = %v, want ErrMarketNotFound", err)
	}
}

// An order whose notional does not fit in int64 is rejected at validation.
// Without that check the reservation would wrap and the first counterparty
// fill would settle more than was reserved, halting the pair.
func TestOversizedNotionalRejected(t *testing.T) {
	e := newTestEngine(t)
	fund(t, e, alice, 0, 5000)
	fund(t, e, bob, 10, 0)

	_, err := e.PlaceOrder(pair, alice, book.Buy, 1<<32+1, 1<<32, 1)
	if !errors.Is(err, engine.ErrInvalidOrder) {
		t.Fatalf("err = %v, want ErrInvalidOrder", err)
	}
	assertBalance(t, e, alice, "USD", 5000, 0)

	// The pair keeps trading normally afterwards.
	if _, err := e.PlaceOrder(pair, alice, book.Buy, 100, 10, 2); err != nil {
		t.Fatalf("normal buy after rejection: %v", err)
	}
	sell, err := e.PlaceOrder(pair, bob, book.Sell, 100, 10, 1)
	if err != nil {
		t.Fatalf("counterparty sell: %v", err)
	}
	if len(sell.Fills) != 1 {
		t.Fatalf("fills = %d, want 1", len(sell.Fills))
	}
	assertBalance(t, e, bob, "USD", 1000, 0)
}

func TestInvalidOrderRejected(t *testing.T) {
	e := newTestEngine(t)
	fund(t, e, alice, 0, 100)

	for _, tc := range []struct{ price, amount int64 }{
		{0, 10}, {-1, 10}, {100, 0}, {100, -5},
	} {
		_, err := e.PlaceOrder(pair, alice, book.Buy, tc.price, tc.amount, 1)
		if !errors.Is(err, engine.ErrInvalidOrder) {
			t.Errorf("place %d@%d err = %v, want ErrInvalidOrder", tc.amount, tc.price, err)
		}
	}
}

// Conservation law across a mixed command sequence: per asset, the sum of
// available+reserved over all traders equals net deposits.
func TestConservationAcrossCommands(t *testing.T) {
	e := newTestEngine(t)
	fund(t, e, alice, 100, 10000)
	fund(t, e, bob, 100, 10000)

	total := func(asset ledger.Asset) int64 {
		var sum int64
		for _, addr := range []common.Address{alice, bob} {
			b := balance(t, e, addr, asset)
			sum += b.Available + b.Reserved
		}
		return sum
	}

	check := func(step string) {
		t.Helper()
		if got := total("DDX"); got != 200 {
			t.Errorf("%s: DDX total = %d, want 200", step, got)
		}
		if got := total("USD"); got != 20000 {
			t.Errorf("%s: USD total = %d, want 20000", step, got)
		}
	}

	o1, _ := e.PlaceOrder(pair, alice, book.Buy, 100, 30, 1)
	check("resting buy")
	e.PlaceOrder(pair, bob, book.Sell, 100, 4, 1)
	check("partial fill")
	e.PlaceOrder(pair, bob, book.Sell, 90, 20, 2)
	check("fill at maker price")
	if _, err := e.CancelOrder(o1.Hash); err != nil {
		t.Fatalf("cancel remainder: %v", err)
	}
	check("cancel")
	e.PlaceOrder(pair, alice, book.Buy, 90, 14, 2)
	check("second buy")
}

// Replaying the command journal reconstructs the same ledger and book state
// the live engine reached.
func TestReplayReconstructsState(t *testing.T) {
	live := newTestEngine(t)
	fund(t, live, alice, 0, 1000)
	fund(t, live, bob, 10, 0)
	buy, _ := live.PlaceOrder(pair, alice, book.Buy, 100, 10, 1)
	live.PlaceOrder(pair, bob, book.Sell, 100, 4, 1)
	live.CancelOrder(buy.Hash)

	records := []engine.JournalRecord{
		{Type: engine.RecordAccountOpen, Trader: alice.Hex(), Deposits: map[string]int64{"USD": 1000}},
		{Type: engine.RecordAccountOpen, Trader: bob.Hex(), Deposits: map[string]int64{"DDX": 10}},
		{Type: engine.RecordPlace, Trader: alice.Hex(), Symbol: pair, Side: "buy", Price: 100, Amount: 10, Nonce: 1},
		{Type: engine.RecordPlace, Trader: bob.Hex(), Symbol: pair, Side: "sell", Price: 100, Amount: 4, Nonce: 1},
		{Type: engine.RecordCancel, Trader: alice.Hex(), Hash: buy.Hash.Hex()},
	}

	replayed := newTestEngine(t)
	for i, rec := range records {
		if err := replayed.Apply(rec); err != nil {
			t.Fatalf("apply record %d: %v", i, err)
		}
	}

	for _, addr := range []common.Address{alice, bob} {
		for _, asset := range []ledger.Asset{"DDX", "USD"} {
			want := balance(t, live, addr, asset)
			got := balance(t, replayed, addr, asset)
			if got != want {
				t.Errorf("%s %s = %+v, want %+v", addr.Hex()[:6], asset, got, want)
			}
		}
	}

	ls, _ := live.GetBook(pair, 0)
	rs, _ := replayed.GetBook(pair, 0)
	if len(rs.Bids) != len(ls.Bids) || len(rs.Asks) != len(ls.Asks) {
		t.Errorf("replayed book shape differs: %d/%d vs %d/%d",
			len(rs.Bids), len(rs.Asks), len(ls.Bids), len(ls.Asks))
	}

	o, err := replayed.GetOrder(buy.Hash)
	if err != nil {
		t.Fatalf("replayed order lookup: %v", err)
	}
	if o.Status != "cancelled" || o.Filled != 4 {
		t.Errorf("replayed order status=%s filled=%d, want cancelled/4", o.Status, o.Filled)
	}
}
