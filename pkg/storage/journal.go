package storage

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/ddxlabs/orderengine/pkg/engine"
	"github.com/ddxlabs/orderengine/pkg/engine/book"
)

// Journal is the append-only durability sink for accepted commands and the
// trades they produced. Replaying the command stream in order reconstructs
// the engine's ledger and book state after a restart.
//
// Commands are written Sync (they are the source of truth); trades NoSync
// (derived data, re-created by replay).
type Journal struct {
	db *pebble.DB

	mu  sync.Mutex
	seq uint64 // last assigned command sequence
}

// Open opens (or creates) the journal database at path.
func Open(path string) (*Journal, error) {
	opts := &pebble.Options{
		Cache:                 pebble.NewCache(64 << 20),
		MemTableSize:          32 << 20,
		L0CompactionThreshold: 2,
		L0StopWritesThreshold: 12,
		BytesPerSync:          512 << 10,
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal at %s: %w", path, err)
	}

	j := &Journal{db: db}
	if err := j.recoverSeq(); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// recoverSeq finds the last command sequence written before a restart.
func (j *Journal) recoverSeq() error {
	prefix := commandPrefix()
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	if iter.Last() && iter.Valid() {
		var rec engine.JournalRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return fmt.Errorf("corrupt journal tail: %w", err)
		}
		j.seq = rec.Seq
	}
	return nil
}

// AppendCommand persists one accepted command, assigning its sequence.
func (j *Journal) AppendCommand(rec engine.JournalRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.seq++
	rec.Seq = j.seq

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}
	if err := j.db.Set(commandKey(rec.Seq), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to append command: %w", err)
	}
	return nil
}

// AppendTrade persists one trade record for history consumers.
func (j *Journal) AppendTrade(symbol string, t book.Trade) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal trade: %w", err)
	}
	if err := j.db.Set(tradeKey(symbol, t.Seq), data, pebble.NoSync); err != nil {
		return fmt.Errorf("failed to append trade: %w", err)
	}
	return nil
}

// Replay streams every journaled command in acceptance order.
func (j *Journal) Replay(fn func(engine.JournalRecord) error) error {
	prefix := commandPrefix()
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var rec engine.JournalRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return fmt.Errorf("corrupt journal record %s: %w", iter.Key(), err)
		}
		if err := fn(rec); err != nil {
			return fmt.Errorf("replay of record %d failed: %w", rec.Seq, err)
		}
	}
	return nil
}

// RecentTrades loads the most recent trades for a symbol, newest first.
func (j *Journal) RecentTrades(symbol string, limit int) ([]book.Trade, error) {
	prefix := tradePrefix(symbol)
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var trades []book.Trade
	for iter.Last(); iter.Valid() && len(trades) < limit; iter.Prev() {
		var t book.Trade
		if err := json.Unmarshal(iter.Value(), &t); err != nil {
			continue // skip invalid entries
		}
		trades = append(trades, t)
	}
	return trades, nil
}

var _ engine.Journal = (*Journal)(nil)
