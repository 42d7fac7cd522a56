package params

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Gateway struct {
	ListenAddr string
	// BookDepth is the default number of levels per side in depth
	// snapshots; 0 serves the full book.
	BookDepth int
}

type Engine struct {
	// AllowSelfTrade keeps the default matching behavior: a trader's order
	// may fill against their own resting order. When false the resting own
	// order is cancelled instead.
	AllowSelfTrade bool
}

type Storage struct {
	JournalPath string
}

type Feed struct {
	// Brokers empty disables the Kafka trade feed.
	Brokers []string
	Topic   string
}

type Config struct {
	Gateway Gateway
	Engine  Engine
	Storage Storage
	Feed    Feed
	LogFile string
}

func Default() Config {
	return Config{
		Gateway: Gateway{
			ListenAddr: ":4321",
			BookDepth:  50,
		},
		Engine: Engine{
			AllowSelfTrade: true,
		},
		Storage: Storage{
			JournalPath: "data/journal",
		},
		Feed: Feed{
			Topic: "trades",
		},
		LogFile: "data/engine.log",
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		cfg.Gateway.ListenAddr = addr
	}
	if depth := os.Getenv("BOOK_DEPTH"); depth != "" {
		if n, err := strconv.Atoi(depth); err == nil && n >= 0 {
			cfg.Gateway.BookDepth = n
		}
	}
	if v := os.Getenv("ALLOW_SELF_TRADE"); v != "" {
		cfg.Engine.AllowSelfTrade = v == "true"
	}
	if path := os.Getenv("JOURNAL_PATH"); path != "" {
		cfg.Storage.JournalPath = path
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Feed.Brokers = strings.Split(brokers, ",")
	}
	if topic := os.Getenv("KAFKA_TOPIC"); topic != "" {
		cfg.Feed.Topic = topic
	}
	if logFile := os.Getenv("LOG_FILE"); logFile != "" {
		cfg.LogFile = logFile
	}

	return cfg
}
