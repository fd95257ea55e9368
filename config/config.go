package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"bluefinAgent/internal/adapters/logger"
)

// Exchange backend identifiers.
const (
	ExchangeBluefin = "bluefin"
	ExchangeBinance = "binance"
	ExchangeMock    = "mock"
)

// Ledger store identifiers.
const (
	LedgerStoreJSON   = "json"
	LedgerStoreSQLite = "sqlite"
)

// Config holds all application configuration.
type Config struct {
	// Exchange selection and credentials
	Exchange   string // bluefin | binance | mock
	APIKey     string
	SecretKey  string
	APIBaseURL string // Override for the venue REST endpoint
	WSBaseURL  string // Override for the venue event stream endpoint
	IsTestnet  bool

	// Trading Parameters
	TradingPairs      []string // Tradable perpetual symbols (e.g., "SUI-PERP")
	Leverage          int
	MinConfidence     float64 // Signals below this confidence are rejected
	StopLossPct       float64 // Fixed stop distance when no ATR is available
	TakeProfitRR      float64 // Reward:risk multiplier for the target leg
	ATRPeriod         int     // Candles for the ATR stop distance (0 disables)
	ATRMultiplier     float64 // Stop distance = ATR * multiplier
	DoubleOnOpposite  bool    // Double quantity when flipping an open position
	WebhookPassphrase string  // Optional shared secret for inbound alerts

	// Risk Parameters
	InitialBalance   float64
	MaxRiskPerTrade  float64 // Fraction of balance risked per trade
	MaxRiskPerSymbol float64 // Fraction of balance committed per symbol
	MaxOpenTrades    int
	MaxDailyDrawdown float64 // Daily loss fraction triggering the kill switch

	// Lifecycle Parameters
	RequeueAdjustThreshold int           // Requeues tolerated before repricing
	RequeueAdjustPct       float64       // Reprice step, applied against the trader
	BreakEvenPct           float64       // Favorable move that drags the stop to entry (0 disables)
	TrailingInterval       time.Duration // How often stops are re-checked against the market
	CandleInterval         string        // Candle timeframe fetched for the ATR stop

	// Retry / connection
	RetryMaxAttempts int
	RetryBudget      time.Duration
	RetryMinDelay    time.Duration
	RetryMaxDelay    time.Duration
	OfflineFallback  bool // Route to the mock backend when retries exhaust

	// Ledger persistence
	LedgerStore string // json | sqlite
	LedgerPath  string

	// HTTP
	WebhookAddr string

	// Logging
	LogLevel logger.LogLevel
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	cfg.Exchange = strings.ToLower(getEnv("EXCHANGE", ExchangeMock))
	switch cfg.Exchange {
	case ExchangeBluefin, ExchangeBinance, ExchangeMock:
	default:
		errs = append(errs, fmt.Sprintf("EXCHANGE must be one of %s, %s, %s", ExchangeBluefin, ExchangeBinance, ExchangeMock))
	}

	cfg.APIKey = getEnv("EXCHANGE_API_KEY", "")
	cfg.SecretKey = getEnv("EXCHANGE_API_SECRET", "")
	cfg.APIBaseURL = getEnv("EXCHANGE_API_URL", "")
	cfg.WSBaseURL = getEnv("EXCHANGE_WS_URL", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety

	if cfg.Exchange != ExchangeMock {
		if cfg.APIKey == "" {
			errs = append(errs, "EXCHANGE_API_KEY must be set for live exchanges")
		}
		if cfg.SecretKey == "" {
			errs = append(errs, "EXCHANGE_API_SECRET must be set for live exchanges")
		}
	}

	// Trading Parameters
	pairs := getEnv("TRADING_PAIRS", "SUI-PERP,BTC-PERP,ETH-PERP")
	for _, p := range strings.Split(pairs, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			cfg.TradingPairs = append(cfg.TradingPairs, p)
		}
	}
	if len(cfg.TradingPairs) == 0 {
		errs = append(errs, "TRADING_PAIRS must list at least one symbol")
	}

	cfg.Leverage, err = getEnvAsIntRequired("LEVERAGE", 5)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid LEVERAGE: %v", err))
	} else if cfg.Leverage <= 0 {
		errs = append(errs, "LEVERAGE must be positive")
	}

	cfg.MinConfidence = getEnvAsFloat("MIN_CONFIDENCE", 0.5)
	if cfg.MinConfidence < 0 || cfg.MinConfidence > 1 {
		errs = append(errs, "MIN_CONFIDENCE must be within [0.0, 1.0]")
	}

	cfg.StopLossPct, err = getEnvAsFloatRequired("STOP_LOSS_PCT", 0.02)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid STOP_LOSS_PCT: %v", err))
	} else if cfg.StopLossPct <= 0 || cfg.StopLossPct >= 1.0 {
		errs = append(errs, "STOP_LOSS_PCT must be between 0.0 and 1.0 (exclusive)")
	}

	cfg.TakeProfitRR = getEnvAsFloat("TAKE_PROFIT_RR", 2.0)
	if cfg.TakeProfitRR <= 0 {
		errs = append(errs, "TAKE_PROFIT_RR must be positive")
	}

	cfg.ATRPeriod = getEnvAsInt("ATR_PERIOD", 14)
	if cfg.ATRPeriod < 0 {
		errs = append(errs, "ATR_PERIOD cannot be negative")
	}
	cfg.ATRMultiplier = getEnvAsFloat("ATR_MULTIPLIER", 2.0)
	if cfg.ATRMultiplier <= 0 {
		errs = append(errs, "ATR_MULTIPLIER must be positive")
	}

	cfg.DoubleOnOpposite = getEnvAsBool("DOUBLE_ON_OPPOSITE_POSITION", true)
	cfg.WebhookPassphrase = getEnv("WEBHOOK_PASSPHRASE", "")

	// Risk Parameters
	cfg.InitialBalance = getEnvAsFloat("INITIAL_BALANCE", 10000)
	if cfg.InitialBalance <= 0 {
		errs = append(errs, "INITIAL_BALANCE must be positive")
	}

	cfg.MaxRiskPerTrade, err = getEnvAsFloatRequired("MAX_RISK_PER_TRADE", 0.02)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_RISK_PER_TRADE: %v", err))
	} else if cfg.MaxRiskPerTrade <= 0 || cfg.MaxRiskPerTrade >= 1.0 {
		errs = append(errs, "MAX_RISK_PER_TRADE must be between 0.0 and 1.0 (exclusive)")
	}

	cfg.MaxRiskPerSymbol = getEnvAsFloat("MAX_RISK_PER_SYMBOL", 0.1)
	if cfg.MaxRiskPerSymbol <= 0 || cfg.MaxRiskPerSymbol > 1.0 {
		errs = append(errs, "MAX_RISK_PER_SYMBOL must be between 0.0 and 1.0")
	}

	cfg.MaxOpenTrades, err = getEnvAsIntRequired("MAX_OPEN_TRADES", 3)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_OPEN_TRADES: %v", err))
	} else if cfg.MaxOpenTrades <= 0 {
		errs = append(errs, "MAX_OPEN_TRADES must be positive")
	}

	cfg.MaxDailyDrawdown = getEnvAsFloat("MAX_DAILY_DRAWDOWN", 0.05)
	if cfg.MaxDailyDrawdown <= 0 || cfg.MaxDailyDrawdown >= 1.0 {
		errs = append(errs, "MAX_DAILY_DRAWDOWN must be between 0.0 and 1.0 (exclusive)")
	}

	// Lifecycle Parameters
	cfg.RequeueAdjustThreshold = getEnvAsInt("REQUEUE_ADJUSTMENT_THRESHOLD", 2)
	if cfg.RequeueAdjustThreshold < 0 {
		errs = append(errs, "REQUEUE_ADJUSTMENT_THRESHOLD cannot be negative")
	}
	cfg.RequeueAdjustPct = getEnvAsFloat("REQUEUE_ADJUSTMENT_PCT", 0.01)
	if cfg.RequeueAdjustPct <= 0 || cfg.RequeueAdjustPct >= 1.0 {
		errs = append(errs, "REQUEUE_ADJUSTMENT_PCT must be between 0.0 and 1.0 (exclusive)")
	}

	cfg.BreakEvenPct = getEnvAsFloat("BREAK_EVEN_PCT", 0.05)
	if cfg.BreakEvenPct < 0 || cfg.BreakEvenPct >= 1.0 {
		errs = append(errs, "BREAK_EVEN_PCT must be within [0.0, 1.0)")
	}

	cfg.TrailingInterval = getEnvAsDuration("TRAILING_INTERVAL", 15*time.Second)
	if cfg.TrailingInterval <= 0 {
		errs = append(errs, "TRAILING_INTERVAL must be positive")
	}

	cfg.CandleInterval = getEnv("CANDLE_INTERVAL", "5m")

	// Retry / connection
	cfg.RetryMaxAttempts = getEnvAsInt("RETRY_MAX_ATTEMPTS", 3)
	if cfg.RetryMaxAttempts <= 0 {
		errs = append(errs, "RETRY_MAX_ATTEMPTS must be positive")
	}
	cfg.RetryBudget = getEnvAsDuration("RETRY_BUDGET", 30*time.Second)
	cfg.RetryMinDelay = getEnvAsDuration("RETRY_MIN_DELAY", 500*time.Millisecond)
	cfg.RetryMaxDelay = getEnvAsDuration("RETRY_MAX_DELAY", 10*time.Second)
	cfg.OfflineFallback = getEnvAsBool("OFFLINE_FALLBACK", true)

	// Ledger persistence
	cfg.LedgerStore = strings.ToLower(getEnv("LEDGER_STORE", LedgerStoreJSON))
	switch cfg.LedgerStore {
	case LedgerStoreJSON, LedgerStoreSQLite:
	default:
		errs = append(errs, fmt.Sprintf("LEDGER_STORE must be %s or %s", LedgerStoreJSON, LedgerStoreSQLite))
	}
	defaultLedgerPath := "data/trades.json"
	if cfg.LedgerStore == LedgerStoreSQLite {
		defaultLedgerPath = "data/trades.db"
	}
	cfg.LedgerPath = getEnv("LEDGER_PATH", defaultLedgerPath)

	// HTTP
	cfg.WebhookAddr = getEnv("WEBHOOK_ADDR", ":5001")

	// Logging
	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// IsTradable reports whether the symbol is in the configured tradable set.
func (c *Config) IsTradable(symbol string) bool {
	for _, p := range c.TradingPairs {
		if p == symbol {
			return true
		}
	}
	return false
}

// --- env helpers ---

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvAsIntRequired(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return fallback
}

func getEnvAsFloatRequired(key string, fallback float64) (float64, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	return strconv.ParseFloat(v, 64)
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return fallback
}
