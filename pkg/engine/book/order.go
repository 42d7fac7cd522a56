package book

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// Side of the book an order belongs to.
type Side int8

const (
	Buy  Side = 1
	Sell Side = -1
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// Opposite returns the side an incoming order matches against.
func (s Side) Opposite() Side { return -s }

// ParseSide converts a wire-level side string.
func ParseSide(s string) (Side, bool) {
	switch s {
	case "buy", "Buy", "BUY", "Bid":
		return Buy, true
	case "sell", "Sell", "SELL", "Ask":
		return Sell, true
	default:
		return 0, false
	}
}

// Status represents the lifecycle state of an order.
type Status int8

const (
	OrderReceived Status = iota
	OrderValidated
	OrderResting
	OrderPartiallyFilled
	OrderFilled
	OrderCancelled
)

func (s Status) String() string {
	switch s {
	case OrderReceived:
		return "received"
	case OrderValidated:
		return "validated"
	case OrderResting:
		return "resting"
	case OrderPartiallyFilled:
		return "partially_filled"
	case OrderFilled:
		return "filled"
	case OrderCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Order is a limit order identified by the content hash of its immutable
// fields. Price and Amount are fixed-point integers (ticks and lots).
type Order struct {
	Hash   common.Hash
	Trader common.Address
	Side   Side
	Price  int64  // limit price in ticks, > 0
	Amount int64  // original amount in lots, > 0
	Filled int64  // amount executed so far
	Nonce  uint64 // per-trader replay protection
	Status Status

	// Arrival sequence within a book side. Assigned at insert time, so a
	// partially filled remainder queues behind orders already resting at
	// its price.
	seq uint64

	CreatedAt int64 // unix ms
	UpdatedAt int64 // unix ms
}

// Remaining returns the unfilled amount.
func (o *Order) Remaining() int64 { return o.Amount - o.Filled }

// IsLive reports whether the order is still cancellable / visible in a book.
func (o *Order) IsLive() bool {
	return o.Status == OrderResting || o.Status == OrderPartiallyFilled
}

// ComputeHash derives the order's identity from (trader, nonce, side, price,
// amount). Two submissions of the same tuple collide by construction, which
// is what makes duplicate detection work.
func ComputeHash(trader common.Address, nonce uint64, side Side, price, amount int64) common.Hash {
	var buf [45]byte
	copy(buf[:20], trader[:])
	binary.BigEndian.PutUint64(buf[20:28], nonce)
	buf[28] = byte(side)
	binary.BigEndian.PutUint64(buf[29:37], uint64(price))
	binary.BigEndian.PutUint64(buf[37:45], uint64(amount))

	h := sha3.NewLegacyKeccak256()
	h.Write(buf[:])

	var out common.Hash
	h.Sum(out[:0])
	return out
}

// Trade is an immutable record of one match.
type Trade struct {
	MakerHash common.Hash    `json:"makerHash"`
	TakerHash common.Hash    `json:"takerHash"`
	Maker     common.Address `json:"maker"`
	Taker     common.Address `json:"taker"`
	TakerSide Side           `json:"-"`
	Price     int64          `json:"price"`  // maker price, in ticks
	Amount    int64          `json:"amount"` // executed amount, in lots
	Seq       uint64         `json:"seq"`    // per-pair trade sequence
	Timestamp int64          `json:"timestamp"`
}
