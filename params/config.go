package params

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Market struct {
	Symbol       string
	BaseAsset    string
	QuoteAsset   string
	TakerFeeBps  uint64
	ToleranceBps uint64
}

type Oracle struct {
	// MaxAge bounds how old a reference price may be before the rate
	// endpoint stops falling back to it.
	MaxAge time.Duration
	// InitialPrice seeds the feed at startup (WAD decimal string).
	// Empty leaves the feed unset until a writer pushes a price.
	InitialPrice string
}

type Node struct {
	APIAddr string
	DBPath  string
	// ExpirySweepInterval paces the background reaper for timed-out
	// orders. Expired orders are already inert; the sweep reclaims
	// their escrow eagerly.
	ExpirySweepInterval time.Duration
	EscrowAddress       string
	TreasuryAddress     string
}

type Config struct {
	Market Market
	Oracle Oracle
	Node   Node
}

func Default() Config {
	return Config{
		Market: Market{
			Symbol:       "ACME-MATIC",
			BaseAsset:    "ACME",
			QuoteAsset:   "MATIC",
			TakerFeeBps:  500,
			ToleranceBps: 50,
		},
		Oracle: Oracle{
			MaxAge: time.Hour,
		},
		Node: Node{
			APIAddr:             ":8080",
			DBPath:              "data/matchbook",
			ExpirySweepInterval: time.Minute,
			EscrowAddress:       "0x0000000000000000000000000000000000000e5c",
			TreasuryAddress:     "0x00000000000000000000000000000000000007ea",
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if it exists) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg.Market.Symbol = getEnv("MARKET_SYMBOL", cfg.Market.Symbol)
	cfg.Market.BaseAsset = getEnv("MARKET_BASE_ASSET", cfg.Market.BaseAsset)
	cfg.Market.QuoteAsset = getEnv("MARKET_QUOTE_ASSET", cfg.Market.QuoteAsset)

	if v := os.Getenv("TAKER_FEE_BPS"); v != "" {
		if bps, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Market.TakerFeeBps = bps
		}
	}
	if v := os.Getenv("TOLERANCE_BPS"); v != "" {
		if bps, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Market.ToleranceBps = bps
		}
	}

	if v := os.Getenv("ORACLE_MAX_AGE_SEC"); v != "" {
		if sec, err := strconv.Atoi(v); err == nil {
			cfg.Oracle.MaxAge = time.Duration(sec) * time.Second
		}
	}
	cfg.Oracle.InitialPrice = getEnv("ORACLE_PRICE", cfg.Oracle.InitialPrice)

	cfg.Node.APIAddr = getEnv("API_ADDR", cfg.Node.APIAddr)
	cfg.Node.DBPath = getEnv("DB_PATH", cfg.Node.DBPath)
	if v := os.Getenv("EXPIRY_SWEEP_SEC"); v != "" {
		if sec, err := strconv.Atoi(v); err == nil {
			cfg.Node.ExpirySweepInterval = time.Duration(sec) * time.Second
		}
	}
	cfg.Node.EscrowAddress = getEnv("ESCROW_ADDRESS", cfg.Node.EscrowAddress)
	cfg.Node.TreasuryAddress = getEnv("TREASURY_ADDRESS", cfg.Node.TreasuryAddress)

	return cfg
}

// getEnv returns the environment variable value or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
