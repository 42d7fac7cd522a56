package engine

import "github.com/ddxlabs/orderengine/pkg/engine/book"

// Record types appended to the durability journal. Accepted commands are
// journaled after the in-memory mutation commits; replaying them in order
// reconstructs ledger and book state. Trades are journaled for consumers
// only — replay re-derives them deterministically from the commands.
const (
	RecordAccountOpen  = "account_open"
	RecordAccountClose = "account_close"
	RecordDeposit      = "deposit"
	RecordWithdraw     = "withdraw"
	RecordPlace        = "place"
	RecordCancel       = "cancel"
)

// JournalRecord is one accepted command. Fields are populated per Type.
type JournalRecord struct {
	Seq  uint64 `json:"seq,omitempty"` // assigned by the journal
	Type string `json:"type"`
	Time int64  `json:"time"`

	Trader   string           `json:"trader,omitempty"` // hex address
	Deposits map[string]int64 `json:"deposits,omitempty"`
	Asset    string           `json:"asset,omitempty"`
	Amount   int64            `json:"amount,omitempty"`
	Symbol   string           `json:"symbol,omitempty"`
	Side     string           `json:"side,omitempty"`
	Price    int64            `json:"price,omitempty"`
	Nonce    uint64           `json:"nonce,omitempty"`
	Hash     string           `json:"hash,omitempty"`
}

// Journal is the durability sink the engine writes to. Implementations must
// not be called inside a consistency domain's critical section; the engine
// appends only after the mutation commits.
type Journal interface {
	AppendCommand(rec JournalRecord) error
	AppendTrade(symbol string, t book.Trade) error
}

// Sink receives engine events after each committed mutation. Implementations
// must not call back into the engine's mutating commands.
type Sink interface {
	OnTrade(symbol string, t book.Trade)
	OnBookChange(symbol string)
}
