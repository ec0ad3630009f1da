package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full runtime configuration, assembled from environment
// variables (with an optional .env file for local development).
type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Redis    RedisConfig    `json:"redis"`
	Binance  BinanceConfig  `json:"binance"`
	Trading  TradingConfig  `json:"trading"`
	Rules    RulesConfig    `json:"rules"`
	Breaker  BreakerConfig  `json:"breaker"`
	Adaptive AdaptiveConfig `json:"adaptive"`
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"`
	ShutdownTimeout int    `json:"shutdown_timeout"` // Seconds
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig holds Redis configuration for the per-user analysis lock
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// BinanceConfig holds exchange access configuration
type BinanceConfig struct {
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
	TestNet   bool   `json:"testnet"`
	MockMode  bool   `json:"mock_mode"` // Use the deterministic mock gateway instead of live prices
}

// TradingConfig holds the run context and scheduling knobs. UserID and
// DemoMode are passed explicitly into the orchestrator at startup; nothing
// in the trading path reads them from ambient state.
type TradingConfig struct {
	UserID           string   `json:"user_id"`
	DemoMode         bool     `json:"demo_mode"`
	InitialBalance   float64  `json:"initial_balance"` // Day-one ledger balance per mode
	CycleIntervalSec int      `json:"cycle_interval_sec"`
	CooldownSec      int      `json:"cooldown_sec"`    // Minimum spacing between analysis cycles
	LockTTLSec       int      `json:"lock_ttl_sec"`    // Analysis lock expiry
	CommissionRate   float64  `json:"commission_rate"` // Taker commission, e.g. 0.0004
	Symbols          []string `json:"symbols"`         // Watchlist for the opportunity scanner
}

// RulesConfig holds the default position-exit thresholds. All of them are
// per-user overridable through auto_trading_config; these are only the
// bootstrap values for a user with no config row.
type RulesConfig struct {
	TakeProfitPercent         float64 `json:"take_profit_percent"`          // P&L % of position value
	StopLossPercent           float64 `json:"stop_loss_percent"`            // P&L % of position value
	TrailingEnabled           bool    `json:"trailing_enabled"`
	TrailingActivationPercent float64 `json:"trailing_activation_percent"`  // Price gain % that arms the trail
	TrailingPercent           float64 `json:"trailing_percent"`             // Pullback % from highest price
	BreakEvenEnabled          bool    `json:"break_even_enabled"`
	BreakEvenThresholdPercent float64 `json:"break_even_threshold_percent"` // Price gain % that arms breakeven
	TimeoutEnabled            bool    `json:"timeout_enabled"`
	TimeoutMinutes            int     `json:"timeout_minutes"`
	TimeoutFloorPercent       float64 `json:"timeout_floor_percent"` // Minimum P&L % for a timeout exit
}

// BreakerConfig holds circuit breaker thresholds
type BreakerConfig struct {
	MinSample       int     `json:"min_sample"`        // Closed trades required before acting
	LookbackDays    int     `json:"lookback_days"`     // Window cap when no recent adjustment
	HardWinRate     float64 `json:"hard_win_rate"`     // Block below this win rate %
	HardLossPercent float64 `json:"hard_loss_percent"` // Block above this loss % of reference balance
	SoftWinRate     float64 `json:"soft_win_rate"`     // Warn below this win rate %
	SoftLossPercent float64 `json:"soft_loss_percent"` // Warn above this loss %
}

// AdaptiveConfig holds adaptive strategy selector settings
type AdaptiveConfig struct {
	Enabled            bool `json:"enabled"`
	MinTrades          int  `json:"min_trades"`          // History required before adjusting
	LookbackTrades     int  `json:"lookback_trades"`     // Newest-first window for streak counting
	StabilizationHours int  `json:"stabilization_hours"` // Cooldown after a tier change
}

// TelegramConfig holds notification settings
type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	ChatID   int64  `json:"chat_id"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level  string `json:"level"`
	Pretty bool   `json:"pretty"` // Console writer instead of JSON
}

// Load reads configuration from the environment. A .env file in the working
// directory is merged in first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvIntOrDefault("WEB_PORT", 8002),
			Host:            getEnvOrDefault("WEB_HOST", "0.0.0.0"),
			AllowedOrigins:  getEnvOrDefault("SERVER_ALLOWED_ORIGINS", "*"),
			ShutdownTimeout: getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10),
		},
		Database: DatabaseConfig{
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getEnvIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			Database: getEnvOrDefault("DB_NAME", "cryptum"),
			SSLMode:  getEnvOrDefault("DB_SSLMODE", "require"),
		},
		Redis: RedisConfig{
			Address:  getEnvOrDefault("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getEnvIntOrDefault("REDIS_DB", 0),
			PoolSize: getEnvIntOrDefault("REDIS_POOL_SIZE", 10),
		},
		Binance: BinanceConfig{
			APIKey:    getEnvOrDefault("BINANCE_API_KEY", ""),
			SecretKey: getEnvOrDefault("BINANCE_SECRET_KEY", ""),
			TestNet:   getEnvOrDefault("BINANCE_TESTNET", "false") == "true",
			MockMode:  getEnvOrDefault("MOCK_MODE", "false") == "true",
		},
		Trading: TradingConfig{
			UserID:           getEnvOrDefault("TRADING_USER_ID", ""),
			DemoMode:         getEnvOrDefault("TRADING_DEMO_MODE", "true") == "true",
			InitialBalance:   getEnvFloatOrDefault("TRADING_INITIAL_BALANCE", 1000),
			CycleIntervalSec: getEnvIntOrDefault("TRADING_CYCLE_INTERVAL_SEC", 60),
			CooldownSec:      getEnvIntOrDefault("TRADING_COOLDOWN_SEC", 30),
			LockTTLSec:       getEnvIntOrDefault("TRADING_LOCK_TTL_SEC", 120),
			CommissionRate:   getEnvFloatOrDefault("TRADING_COMMISSION_RATE", 0.0004),
			Symbols:          getEnvListOrDefault("TRADING_SYMBOLS", []string{"BTCUSDT", "ETHUSDT"}),
		},
		Rules: RulesConfig{
			TakeProfitPercent:         getEnvFloatOrDefault("RULES_TAKE_PROFIT_PERCENT", 0.30),
			StopLossPercent:           getEnvFloatOrDefault("RULES_STOP_LOSS_PERCENT", 1.00),
			TrailingEnabled:           getEnvOrDefault("RULES_TRAILING_ENABLED", "true") == "true",
			TrailingActivationPercent: getEnvFloatOrDefault("RULES_TRAILING_ACTIVATION_PERCENT", 0.25),
			TrailingPercent:           getEnvFloatOrDefault("RULES_TRAILING_PERCENT", 0.15),
			BreakEvenEnabled:          getEnvOrDefault("RULES_BREAK_EVEN_ENABLED", "false") == "true",
			BreakEvenThresholdPercent: getEnvFloatOrDefault("RULES_BREAK_EVEN_THRESHOLD_PERCENT", 0.20),
			TimeoutEnabled:            getEnvOrDefault("RULES_TIMEOUT_ENABLED", "true") == "true",
			TimeoutMinutes:            getEnvIntOrDefault("RULES_TIMEOUT_MINUTES", 240),
			TimeoutFloorPercent:       getEnvFloatOrDefault("RULES_TIMEOUT_FLOOR_PERCENT", -0.20),
		},
		Breaker: BreakerConfig{
			MinSample:       getEnvIntOrDefault("BREAKER_MIN_SAMPLE", 10),
			LookbackDays:    getEnvIntOrDefault("BREAKER_LOOKBACK_DAYS", 7),
			HardWinRate:     getEnvFloatOrDefault("BREAKER_HARD_WIN_RATE", 20),
			HardLossPercent: getEnvFloatOrDefault("BREAKER_HARD_LOSS_PERCENT", 10),
			SoftWinRate:     getEnvFloatOrDefault("BREAKER_SOFT_WIN_RATE", 40),
			SoftLossPercent: getEnvFloatOrDefault("BREAKER_SOFT_LOSS_PERCENT", 5),
		},
		Adaptive: AdaptiveConfig{
			Enabled:            getEnvOrDefault("ADAPTIVE_ENABLED", "true") == "true",
			MinTrades:          getEnvIntOrDefault("ADAPTIVE_MIN_TRADES", 5),
			LookbackTrades:     getEnvIntOrDefault("ADAPTIVE_LOOKBACK_TRADES", 10),
			StabilizationHours: getEnvIntOrDefault("ADAPTIVE_STABILIZATION_HOURS", 72),
		},
		Telegram: TelegramConfig{
			Enabled:  getEnvOrDefault("TELEGRAM_ENABLED", "false") == "true",
			BotToken: getEnvOrDefault("TELEGRAM_BOT_TOKEN", ""),
			ChatID:   getEnvInt64OrDefault("TELEGRAM_CHAT_ID", 0),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Pretty: getEnvOrDefault("LOG_PRETTY", "false") == "true",
		},
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.Trading.UserID == "" {
		return fmt.Errorf("TRADING_USER_ID is required")
	}
	if c.Trading.InitialBalance <= 0 {
		return fmt.Errorf("TRADING_INITIAL_BALANCE must be positive")
	}
	if c.Rules.TakeProfitPercent <= 0 || c.Rules.StopLossPercent <= 0 {
		return fmt.Errorf("take-profit and stop-loss percentages must be positive")
	}
	if !c.Trading.DemoMode && !c.Binance.MockMode {
		if c.Binance.APIKey == "" || c.Binance.SecretKey == "" {
			return fmt.Errorf("BINANCE_API_KEY and BINANCE_SECRET_KEY are required for real mode")
		}
	}
	return nil
}

// CooldownDuration returns the analysis cooldown window
func (c TradingConfig) CooldownDuration() time.Duration {
	return time.Duration(c.CooldownSec) * time.Second
}

// LockTTL returns the analysis lock expiry
func (c TradingConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSec) * time.Second
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvInt64OrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
