package storage

import "fmt"

// Pebble key schema. Commands are keyed by their global sequence so an
// ascending scan replays them in acceptance order; trades are keyed per
// symbol for range queries, newest last.
const (
	prefixCommand = "cmd:"
	prefixTrade   = "trade:"
)

// commandKey formats "cmd:{seq}". The sequence is zero-padded (20 digits)
// for lexicographic ordering.
func commandKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixCommand, seq))
}

func commandPrefix() []byte { return []byte(prefixCommand) }

// tradeKey formats "trade:{symbol}:{seq}".
func tradeKey(symbol string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", prefixTrade, symbol, seq))
}

func tradePrefix(symbol string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixTrade, symbol))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
