package params

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"
)

type API struct {
	Addr string
}

type Storage struct {
	// Path for the pebble database. Empty means in-memory store
	// (devnet / tests).
	Path string
}

type Ledger struct {
	// Enabled toggles the external ledger subscription. Off by default
	// so a node can run matching-only without an upstream chain.
	Enabled  bool
	WSURL    string
	Contract string
	Buffer   int
}

// ContractAddress parses the configured contract into an address.
// Fails on anything that is not a 20-byte hex address, so a typo is
// caught at startup instead of silently filtering on the zero address.
func (l Ledger) ContractAddress() (common.Address, error) {
	if !common.IsHexAddress(l.Contract) {
		return common.Address{}, fmt.Errorf("invalid ledger contract address %q", l.Contract)
	}
	return common.HexToAddress(l.Contract), nil
}

type Feed struct {
	Enabled bool
	Brokers []string
	Topic   string
}

type Log struct {
	Level zapcore.Level
	// File is an optional path for JSON file output alongside console
	File string
}

type Config struct {
	API     API
	Storage Storage
	Ledger  Ledger
	Feed    Feed
	Log     Log
}

func Default() Config {
	return Config{
		API: API{
			Addr: ":8080",
		},
		Storage: Storage{
			Path: "data/trademirror",
		},
		Ledger: Ledger{
			Enabled: false,
			WSURL:   "ws://localhost:8546",
			Buffer:  256,
		},
		Feed: Feed{
			Enabled: false,
			Brokers: []string{"localhost:9092"},
			Topic:   "trades",
		},
		Log: Log{
			Level: zapcore.InfoLevel,
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	if addr := os.Getenv("API_ADDR"); addr != "" {
		cfg.API.Addr = addr
	}
	if path, ok := os.LookupEnv("STORAGE_PATH"); ok {
		cfg.Storage.Path = path
	}

	if v := os.Getenv("LEDGER_ENABLED"); v != "" {
		cfg.Ledger.Enabled = v == "true"
	}
	if url := os.Getenv("LEDGER_WS_URL"); url != "" {
		cfg.Ledger.WSURL = url
	}
	if contract := os.Getenv("LEDGER_CONTRACT"); contract != "" {
		cfg.Ledger.Contract = contract
	}
	if buf := os.Getenv("LEDGER_BUFFER"); buf != "" {
		if n, err := strconv.Atoi(buf); err == nil && n > 0 {
			cfg.Ledger.Buffer = n
		}
	}

	if v := os.Getenv("FEED_ENABLED"); v != "" {
		cfg.Feed.Enabled = v == "true"
	}
	if brokers := os.Getenv("FEED_BROKERS"); brokers != "" {
		cfg.Feed.Brokers = strings.Split(brokers, ",")
	}
	if topic := os.Getenv("FEED_TOPIC"); topic != "" {
		cfg.Feed.Topic = topic
	}

	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		if parsed, err := zapcore.ParseLevel(lvl); err == nil {
			cfg.Log.Level = parsed
		}
	}
	if file := os.Getenv("LOG_FILE"); file != "" {
		cfg.Log.File = file
	}

	return cfg
}
