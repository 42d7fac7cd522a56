package main

import (
	"log"

	"github.com/ddxlabs/orderengine/params"
	"github.com/ddxlabs/orderengine/pkg/engine"
	"github.com/ddxlabs/orderengine/pkg/feed"
	"github.com/ddxlabs/orderengine/pkg/gateway"
	"github.com/ddxlabs/orderengine/pkg/storage"
	"github.com/ddxlabs/orderengine/pkg/util"
)

func main() {
	cfg := params.LoadFromEnv("") // "" loads .env from the current directory

	logger, err := util.NewLoggerWithFile(cfg.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.LogFile)

	// ---- Matching engine ----
	engCfg := engine.Config{SelfTrade: engine.SelfTradeAllow}
	if !cfg.Engine.AllowSelfTrade {
		engCfg.SelfTrade = engine.SelfTradeCancelResting
	}
	eng := engine.New(engCfg, sugar)

	// ---- Durability: replay the journal, then attach it ----
	journal, err := storage.Open(cfg.Storage.JournalPath)
	if err != nil {
		sugar.Fatalw("journal_open_failed", "path", cfg.Storage.JournalPath, "err", err)
	}
	defer journal.Close()

	replayed := 0
	if err := journal.Replay(func(rec engine.JournalRecord) error {
		replayed++
		return eng.Apply(rec)
	}); err != nil {
		sugar.Fatalw("journal_replay_failed", "err", err)
	}
	eng.SetJournal(journal)
	sugar.Infow("journal_replayed", "records", replayed)

	// ---- Gateway + event sinks ----
	server := gateway.NewServer(eng, journal, cfg.Gateway.BookDepth, sugar)
	eng.AddSink(server)

	if len(cfg.Feed.Brokers) > 0 {
		tradeFeed := feed.NewTradeFeed(cfg.Feed.Brokers, cfg.Feed.Topic, sugar)
		defer tradeFeed.Close()
		eng.AddSink(tradeFeed)
		sugar.Infow("trade_feed_enabled", "brokers", cfg.Feed.Brokers, "topic", cfg.Feed.Topic)
	}

	if err := server.Start(cfg.Gateway.ListenAddr); err != nil {
		sugar.Fatalw("gateway_failed", "err", err)
	}
}
