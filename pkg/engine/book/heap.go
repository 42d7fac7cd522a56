package book

import "container/heap"

// priceHeap tracks the best resting price of one book side. The same
// container serves both sides: bids keep the highest price on top, asks the
// lowest. It implements heap.Interface; mutate it through container/heap.
type priceHeap struct {
	prices []int64
	max    bool // true for bids
}

func newPriceHeap(max bool) *priceHeap { return &priceHeap{max: max} }

func (h *priceHeap) Len() int { return len(h.prices) }

func (h *priceHeap) Less(i, j int) bool {
	if h.max {
		return h.prices[i] > h.prices[j]
	}
	return h.prices[i] < h.prices[j]
}

func (h *priceHeap) Swap(i, j int) { h.prices[i], h.prices[j] = h.prices[j], h.prices[i] }

func (h *priceHeap) Push(x interface{}) {
	h.prices = append(h.prices, x.(int64))
}

func (h *priceHeap) Pop() interface{} {
	n := len(h.prices)
	x := h.prices[n-1]
	h.prices = h.prices[:n-1]
	return x
}

// Peek returns the best price without removing it, or 0 when empty.
func (h *priceHeap) Peek() int64 {
	if len(h.prices) == 0 {
		return 0
	}
	return h.prices[0]
}

// remove drops one occurrence of price. O(levels) scan; only called when a
// price level empties, which is rare relative to inserts.
func (h *priceHeap) remove(price int64) {
	for i, p := range h.prices {
		if p == price {
			heap.Remove(h, i)
			return
		}
	}
}
