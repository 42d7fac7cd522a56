package book

import (
	"container/heap"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// PriceLevel aggregates the resting amount at one price on one side. It is
// a view artifact: recomputed on demand, never stored.
type PriceLevel struct {
	Price  int64 `json:"price"`
	Amount int64 `json:"amount"`
	Orders int   `json:"orders"`
}

// Snapshot is an L2 depth view, best price first on both sides.
type Snapshot struct {
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"` // sorted high to low
	Asks      []PriceLevel `json:"asks"` // sorted low to high
	Timestamp int64        `json:"timestamp"`
}

// OrderBook holds the resting orders of one trading pair under price-time
// priority: best bid = highest price, best ask = lowest price, FIFO within
// a price level.
//
// The book is not internally synchronized. The matching engine serializes
// all access through the trading pair's consistency domain lock, which lets
// a whole match cycle (peek, fill, remove, insert) appear atomic to readers.
type OrderBook struct {
	// Heap-based best price tracking (O(1) peek).
	bidHeap *priceHeap
	askHeap *priceHeap

	// Price level queues (FIFO matching at each price).
	bids map[int64][]*Order
	asks map[int64][]*Order

	// Hash index for O(1) lookup and cancellation.
	index map[common.Hash]*Order

	seq uint64 // arrival sequence, monotonic per book
}

func New() *OrderBook {
	return &OrderBook{
		bidHeap: newPriceHeap(true),
		askHeap: newPriceHeap(false),
		bids:    make(map[int64][]*Order),
		asks:    make(map[int64][]*Order),
		index:   make(map[common.Hash]*Order),
	}
}

// Insert places o as a resting order, queued behind everything already at
// its price. The arrival sequence is assigned here: an order that partially
// filled before resting does not keep its original submission priority.
func (ob *OrderBook) Insert(o *Order) {
	ob.seq++
	o.seq = ob.seq

	levels := ob.sideLevels(o.Side)
	if len(levels[o.Price]) == 0 {
		// New price level.
		heap.Push(ob.sideHeap(o.Side), o.Price)
	}
	levels[o.Price] = append(levels[o.Price], o)
	ob.index[o.Hash] = o
}

// Remove deletes a resting order by hash. Returns the order and whether it
// was present.
func (ob *OrderBook) Remove(hash common.Hash) (*Order, bool) {
	o, ok := ob.index[hash]
	if !ok {
		return nil, false
	}

	levels := ob.sideLevels(o.Side)
	arr := levels[o.Price]
	for i, cand := range arr {
		if cand.Hash == hash {
			levels[o.Price] = append(arr[:i], arr[i+1:]...)
			break
		}
	}
	if len(levels[o.Price]) == 0 {
		delete(levels, o.Price)
		ob.sideHeap(o.Side).remove(o.Price)
	}
	delete(ob.index, hash)
	return o, true
}

// Get returns the resting order with the given hash, if any.
func (ob *OrderBook) Get(hash common.Hash) (*Order, bool) {
	o, ok := ob.index[hash]
	return o, ok
}

// PeekBest returns the top-priority resting order on a side without removing
// it, or nil if the side is empty.
func (ob *OrderBook) PeekBest(side Side) *Order {
	price, ok := ob.BestPrice(side)
	if !ok {
		return nil
	}
	arr := ob.sideLevels(side)[price]
	if len(arr) == 0 {
		return nil
	}
	return arr[0]
}

// BestPrice returns the best resting price on a side, or ok=false if the
// side has no orders.
func (ob *OrderBook) BestPrice(side Side) (int64, bool) {
	h := ob.sideHeap(side)
	if h.Len() == 0 {
		return 0, false
	}
	return h.Peek(), true
}

// Len returns the number of resting orders across both sides.
func (ob *OrderBook) Len() int { return len(ob.index) }

// Snapshot derives the L2 depth view, truncated to depth levels per side.
// depth <= 0 means all levels.
func (ob *OrderBook) Snapshot(depth int) Snapshot {
	return Snapshot{
		Bids: ob.sideSnapshot(Buy, depth),
		Asks: ob.sideSnapshot(Sell, depth),
	}
}

func (ob *OrderBook) sideSnapshot(side Side, depth int) []PriceLevel {
	levels := ob.sideLevels(side)
	prices := make([]int64, 0, len(levels))
	for p := range levels {
		prices = append(prices, p)
	}
	sortPrices(prices, side)
	if depth > 0 && len(prices) > depth {
		prices = prices[:depth]
	}

	out := make([]PriceLevel, 0, len(prices))
	for _, p := range prices {
		var total int64
		for _, o := range levels[p] {
			total += o.Remaining()
		}
		out = append(out, PriceLevel{Price: p, Amount: total, Orders: len(levels[p])})
	}
	return out
}

func (ob *OrderBook) sideLevels(side Side) map[int64][]*Order {
	if side == Buy {
		return ob.bids
	}
	return ob.asks
}

func (ob *OrderBook) sideHeap(side Side) *priceHeap {
	if side == Buy {
		return ob.bidHeap
	}
	return ob.askHeap
}

func sortPrices(prices []int64, side Side) {
	// Best price first: bids high to low, asks low to high.
	sort.Slice(prices, func(i, j int) bool {
		if side == Buy {
			return prices[i] > prices[j]
		}
		return prices[i] < prices[j]
	})
}
