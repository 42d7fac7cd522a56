// Package feed publishes executed trades to Kafka for downstream consumers
// (market data, risk, archival). The feed is an engine event sink: it only
// sees trades after the in-memory mutation committed, and publish failures
// never affect engine state.
package feed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ddxlabs/orderengine/pkg/engine/book"
)

// TradeFeed writes one message per trade, keyed by symbol so a partitioned
// topic preserves per-pair ordering.
type TradeFeed struct {
	writer *kafka.Writer
	log    *zap.SugaredLogger
}

func NewTradeFeed(brokers []string, topic string, log *zap.SugaredLogger) *TradeFeed {
	return &TradeFeed{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			Async:        true, // keep the engine's post-commit path non-blocking
			BatchTimeout: 10 * time.Millisecond,
		},
		log: log,
	}
}

type tradeMessage struct {
	Symbol    string `json:"symbol"`
	MakerHash string `json:"makerHash"`
	TakerHash string `json:"takerHash"`
	TakerSide string `json:"takerSide"`
	Price     int64  `json:"price"`
	Amount    int64  `json:"amount"`
	Seq       uint64 `json:"seq"`
	Timestamp int64  `json:"timestamp"`
}

// OnTrade implements engine.Sink.
func (f *TradeFeed) OnTrade(symbol string, t book.Trade) {
	value, err := json.Marshal(tradeMessage{
		Symbol:    symbol,
		MakerHash: t.MakerHash.Hex(),
		TakerHash: t.TakerHash.Hex(),
		TakerSide: t.TakerSide.String(),
		Price:     t.Price,
		Amount:    t.Amount,
		Seq:       t.Seq,
		Timestamp: t.Timestamp,
	})
	if err != nil {
		f.log.Errorw("feed_marshal_failed", "seq", t.Seq, "err", err)
		return
	}

	if err := f.writer.WriteMessages(context.Background(), kafka.Message{
		Key:   []byte(symbol),
		Value: value,
	}); err != nil {
		f.log.Errorw("feed_publish_failed", "seq", t.Seq, "err", err)
	}
}

// OnBookChange implements engine.Sink. Book deltas are not published to
// Kafka; the websocket hub serves those.
func (f *TradeFeed) OnBookChange(string) {}

func (f *TradeFeed) Close() error {
	return f.writer.Close()
}
