package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"spot-accumulator/pkg/secrets"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds environment-driven settings for the accumulator.
type Config struct {
	Port string

	// Binance
	BinanceTestnet   bool
	BinanceAPIKey    string
	BinanceAPISecret string

	// Execution
	DryRun              bool
	DryRunFeeRate       decimal.Decimal // decimal (e.g. 0.001 = 10 bps)
	DryRunSlippageBps   float64         // slippage applied on fills (bps)
	DryRunQuoteBalance  decimal.Decimal
	DryRunLatencyMinMs  int
	DryRunLatencyMaxMs  int
	GatewayTimeout      time.Duration
	GatewayRetries      int
	GatewayRetryBackoff time.Duration
	ReconcileInterval   time.Duration
	AutoStart           bool

	// Storage
	StoreDriver string // "sqlite" (default) or "postgres"
	DBPath      string
	DatabaseURL string

	// Control API
	JWTSecret            string
	OperatorPasswordHash string

	// Localization
	Language string // "en" or "zh"

	// Pairs traded by this process.
	Pairs []TradeConfig
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	// Database path: prefer DB_PATH, then DATABASE_PATH for backward compatibility.
	dbPath := getEnv("DB_PATH", "")
	if dbPath == "" {
		dbPath = getEnv("DATABASE_PATH", "./data/accumulator.db")
	}

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		BinanceTestnet:       getEnv("BINANCE_TESTNET", "false") == "true",
		BinanceAPIKey:        os.Getenv("BINANCE_API_KEY"),
		BinanceAPISecret:     os.Getenv("BINANCE_API_SECRET"),
		DryRun:               getEnv("DRY_RUN", "false") == "true",
		DryRunFeeRate:        getEnvDecimal("DRY_RUN_FEE_RATE", decimal.RequireFromString("0.001")),
		DryRunSlippageBps:    getEnvFloat("DRY_RUN_SLIPPAGE_BPS", 2),
		DryRunQuoteBalance:   getEnvDecimal("DRY_RUN_QUOTE_BALANCE", decimal.NewFromInt(1000)),
		DryRunLatencyMinMs:   getEnvInt("DRY_RUN_LATENCY_MIN_MS", 0),
		DryRunLatencyMaxMs:   getEnvInt("DRY_RUN_LATENCY_MAX_MS", 0),
		GatewayTimeout:       getEnvDuration("GATEWAY_TIMEOUT", 10*time.Second),
		GatewayRetries:       getEnvInt("GATEWAY_RETRIES", 3),
		GatewayRetryBackoff:  getEnvDuration("GATEWAY_RETRY_BACKOFF", 500*time.Millisecond),
		ReconcileInterval:    getEnvDuration("RECONCILE_INTERVAL", 5*time.Minute),
		AutoStart:            getEnv("AUTO_START", "false") == "true",
		StoreDriver:          strings.ToLower(getEnv("STORE_DRIVER", "sqlite")),
		DBPath:               dbPath,
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		JWTSecret:            getEnv("JWT_SECRET", "dev-secret"),
		OperatorPasswordHash: os.Getenv("OPERATOR_PASSWORD_HASH"),
		Language:             getEnv("LANGUAGE", "en"),
	}

	// Credentials may be sealed with `spot-accumulator seal-secret`.
	secretsKey := os.Getenv("SECRETS_KEY")
	for name, field := range map[string]*string{
		"BINANCE_API_KEY":    &cfg.BinanceAPIKey,
		"BINANCE_API_SECRET": &cfg.BinanceAPISecret,
		"JWT_SECRET":         &cfg.JWTSecret,
	} {
		v, err := secrets.Reveal(*field, secretsKey)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		*field = v
	}

	if path := os.Getenv("PAIRS_FILE"); path != "" {
		pairs, err := LoadPairsFile(path)
		if err != nil {
			return nil, fmt.Errorf("load pairs file: %w", err)
		}
		cfg.Pairs = pairs
	} else {
		pair, err := pairFromEnv()
		if err != nil {
			return nil, err
		}
		cfg.Pairs = []TradeConfig{pair}
	}
	return cfg, nil
}

// pairFromEnv builds the single-pair config from ASSET/BASE/SELL_PERCENT/... variables.
func pairFromEnv() (TradeConfig, error) {
	pair := TradeConfig{
		Asset:               getEnv("ASSET", "BNB"),
		QuoteAsset:          getEnv("BASE", "USDT"),
		SellClearance:       getEnvDecimal("SELL_PERCENT", decimal.RequireFromString("1.02")),
		BuyClearance:        getEnvDecimal("BUY_PERCENT", decimal.RequireFromString("0.97")),
		TickInterval:        time.Duration(getEnvInt("TICK_INTERVAL", 60000)) * time.Millisecond,
		PerTradeVolumeFloor: getEnvDecimal("VOLUME", decimal.NewFromInt(10)),
		MaxCumulativeVolume: getEnvDecimal("MAX_VOLUME", decimal.NewFromInt(1000)),
		BuyStep:             getEnvDecimal("BUY_STEP", DefaultBuyStep),
		BuyBucket:           getEnvDecimal("BUY_BUCKET", DefaultBuyBucket),
	}.WithDefaults()
	if err := pair.Validate(); err != nil {
		return TradeConfig{}, err
	}
	return pair, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDecimal(key string, def decimal.Decimal) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(strings.TrimSpace(v)); err == nil {
			return d
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
