// Package config loads the execution engine's configuration via viper
// into a single bound, typed, AutomaticEnv-backed loader. Every option
// has exactly one default and one env key, listed once below instead
// of scattered across call sites.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// PaperAdapterConfig controls the paper broker's fill simulation.
type PaperAdapterConfig struct {
	SlippageEnabled     bool
	MaxSlippageBps      int
	SpreadSimulation    bool
	SpreadBps           int
	LatencyMS           int
	PartialFillsEnabled bool
	RejectionRate       float64
	FillRule            string // IMMEDIATE | NEXT_CANDLE_OPEN | REALISTIC_DELAY
}

// RiskConfig controls the risk validator / position sizer.
type RiskConfig struct {
	MaxRiskPerTrade  decimal.Decimal
	MaxLeverage      int
	MaxMarginUsage   decimal.Decimal
	MinPositionSize  decimal.Decimal
	MaxDailyTrades   int
}

// RetryConfig holds per-category max attempts and base delays, keyed
// by ErrorKind in the retry package.
type RetryConfig struct {
	RateLimitMaxAttempts int
	RateLimitBaseDelay   time.Duration
	TimeoutMaxAttempts   int
	TimeoutBaseDelay     time.Duration
	TransientMaxAttempts int
	TransientBaseDelay   time.Duration
	SystemMaxAttempts    int
	SystemBaseDelay      time.Duration
}

// CircuitBreakerConfig is per-endpoint circuit breaker tuning.
type CircuitBreakerConfig struct {
	FailureThreshold    int
	RecoveryTimeout     time.Duration
	HalfOpenMaxRequests int
}

// DatabaseConfig selects the storage backend.
type DatabaseConfig struct {
	DSN string
}

// TelegramConfig configures the HIGH-severity alert notifier.
type TelegramConfig struct {
	Enabled bool
	Token   string
	ChatID  int64
}

// ServerConfig configures the cmd/executiond admin HTTP surface.
type ServerConfig struct {
	ListenAddr     string
	MetricsAddr    string
}

// Config is the fully-resolved, typed configuration object. Every
// component receives the sub-struct it needs at construction time
// instead of reading viper or the environment directly.
type Config struct {
	Paper    PaperAdapterConfig
	Risk     RiskConfig
	Retry    RetryConfig
	Breaker  CircuitBreakerConfig
	Database DatabaseConfig
	Telegram TelegramConfig
	Server   ServerConfig
}

// Load reads a local .env file (if present, via godotenv) and then
// binds viper to the process environment with defaults for every key.
func Load() (*Config, error) {
	_ = godotenv.Load() // .env is optional; absence is not an error

	v := viper.New()
	v.SetEnvPrefix("EXECENGINE")
	v.AutomaticEnv()

	v.SetDefault("paper.slippage_enabled", true)
	v.SetDefault("paper.max_slippage_bps", 5)
	v.SetDefault("paper.spread_simulation", true)
	v.SetDefault("paper.spread_bps", 2)
	v.SetDefault("paper.latency_ms", 50)
	v.SetDefault("paper.partial_fills_enabled", true)
	v.SetDefault("paper.rejection_rate", 0.02)
	v.SetDefault("paper.fill_rule", "IMMEDIATE")

	v.SetDefault("risk.max_risk_per_trade", "0.01")
	v.SetDefault("risk.max_leverage", 200)
	v.SetDefault("risk.max_margin_usage", "0.8")
	v.SetDefault("risk.min_position_size", "0.01")
	v.SetDefault("risk.max_daily_trades", 20)

	v.SetDefault("retry.rate_limit_max_attempts", 10)
	v.SetDefault("retry.rate_limit_base_delay", "5s")
	v.SetDefault("retry.timeout_max_attempts", 3)
	v.SetDefault("retry.timeout_base_delay", "1s")
	v.SetDefault("retry.transient_max_attempts", 5)
	v.SetDefault("retry.transient_base_delay", "500ms")
	v.SetDefault("retry.system_max_attempts", 2)
	v.SetDefault("retry.system_base_delay", "1s")

	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.recovery_timeout", "30s")
	v.SetDefault("breaker.half_open_max_requests", 3)

	v.SetDefault("database.dsn", "execengine.db")

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.chat_id", 0)

	v.SetDefault("server.listen_addr", ":8090")
	v.SetDefault("server.metrics_addr", ":9090")

	maxRisk, err := decimal.NewFromString(v.GetString("risk.max_risk_per_trade"))
	if err != nil {
		return nil, fmt.Errorf("config: risk.max_risk_per_trade: %w", err)
	}
	maxMargin, err := decimal.NewFromString(v.GetString("risk.max_margin_usage"))
	if err != nil {
		return nil, fmt.Errorf("config: risk.max_margin_usage: %w", err)
	}
	minSize, err := decimal.NewFromString(v.GetString("risk.min_position_size"))
	if err != nil {
		return nil, fmt.Errorf("config: risk.min_position_size: %w", err)
	}

	return &Config{
		Paper: PaperAdapterConfig{
			SlippageEnabled:     v.GetBool("paper.slippage_enabled"),
			MaxSlippageBps:      v.GetInt("paper.max_slippage_bps"),
			SpreadSimulation:    v.GetBool("paper.spread_simulation"),
			SpreadBps:           v.GetInt("paper.spread_bps"),
			LatencyMS:           v.GetInt("paper.latency_ms"),
			PartialFillsEnabled: v.GetBool("paper.partial_fills_enabled"),
			RejectionRate:       v.GetFloat64("paper.rejection_rate"),
			FillRule:            v.GetString("paper.fill_rule"),
		},
		Risk: RiskConfig{
			MaxRiskPerTrade: maxRisk,
			MaxLeverage:     v.GetInt("risk.max_leverage"),
			MaxMarginUsage:  maxMargin,
			MinPositionSize: minSize,
			MaxDailyTrades:  v.GetInt("risk.max_daily_trades"),
		},
		Retry: RetryConfig{
			RateLimitMaxAttempts: v.GetInt("retry.rate_limit_max_attempts"),
			RateLimitBaseDelay:   v.GetDuration("retry.rate_limit_base_delay"),
			TimeoutMaxAttempts:   v.GetInt("retry.timeout_max_attempts"),
			TimeoutBaseDelay:     v.GetDuration("retry.timeout_base_delay"),
			TransientMaxAttempts: v.GetInt("retry.transient_max_attempts"),
			TransientBaseDelay:   v.GetDuration("retry.transient_base_delay"),
			SystemMaxAttempts:    v.GetInt("retry.system_max_attempts"),
			SystemBaseDelay:      v.GetDuration("retry.system_base_delay"),
		},
		Breaker: CircuitBreakerConfig{
			FailureThreshold:    v.GetInt("breaker.failure_threshold"),
			RecoveryTimeout:     v.GetDuration("breaker.recovery_timeout"),
			HalfOpenMaxRequests: v.GetInt("breaker.half_open_max_requests"),
		},
		Database: DatabaseConfig{
			DSN: v.GetString("database.dsn"),
		},
		Telegram: TelegramConfig{
			Enabled: v.GetBool("telegram.enabled"),
			Token:   v.GetString("telegram.token"),
			ChatID:  v.GetInt64("telegram.chat_id"),
		},
		Server: ServerConfig{
			ListenAddr:  v.GetString("server.listen_addr"),
			MetricsAddr: v.GetString("server.metrics_addr"),
		},
	}, nil
}
