package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	NATS      NATSConfig      `mapstructure:"nats"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Agents    AgentsConfig    `mapstructure:"agents"`
	Signals   SignalsConfig   `mapstructure:"signals"`
	Learning  LearningConfig  `mapstructure:"learning"`
	Backtest  BacktestConfig  `mapstructure:"backtest"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Alerts    AlertsConfig    `mapstructure:"alerts"`
	API       APIConfig       `mapstructure:"api"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"` // "json" or "console"
}

// DatabaseConfig contains PostgreSQL settings
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	PoolSize int    `mapstructure:"pool_size"`
}

// RedisConfig contains Redis settings for the market data cache
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NATSConfig contains NATS messaging settings
type NATSConfig struct {
	URL    string `mapstructure:"url"`
	Prefix string `mapstructure:"prefix"`
}

// LLMConfig contains LLM gateway settings shared by the LLM-backed agents
type LLMConfig struct {
	Endpoint      string  `mapstructure:"endpoint"`       // "http://localhost:8080/v1/chat/completions"
	APIKey        string  `mapstructure:"api_key"`
	PrimaryModel  string  `mapstructure:"primary_model"`  // "claude-sonnet-4-20250514"
	FallbackModel string  `mapstructure:"fallback_model"` // "gpt-4-turbo"
	Temperature   float64 `mapstructure:"temperature"`
	MaxTokens     int     `mapstructure:"max_tokens"`
	Timeout       int     `mapstructure:"timeout"` // ms
	RatePerMinute int     `mapstructure:"rate_per_minute"`
}

// AgentsConfig controls which agents the ensemble registers
type AgentsConfig struct {
	RuleBasedEnabled  bool              `mapstructure:"rule_based_enabled"`
	ContrarianEnabled bool              `mapstructure:"contrarian_enabled"`
	GrowthEnabled     bool              `mapstructure:"growth_enabled"`
	Deadline          int               `mapstructure:"deadline"` // per-agent deadline in ms
	Weights           map[string]float64 `mapstructure:"weights"`
}

// SignalsConfig contains risk translation settings
type SignalsConfig struct {
	PortfolioValue  float64 `mapstructure:"portfolio_value"`
	MaxPositionPct  float64 `mapstructure:"max_position_pct"`  // base allocation per position (0.10)
	StopLossPct     float64 `mapstructure:"stop_loss_pct"`     // 0.10
	TakeProfitPct   float64 `mapstructure:"take_profit_pct"`   // 0.25
	AlertMinBucket  int     `mapstructure:"alert_min_bucket"`  // stored confidence >= this triggers an alert
}

// LearningConfig contains the learning loop gates and bounds
type LearningConfig struct {
	AutoEnabled          bool    `mapstructure:"auto_enabled"`
	HumanReviewRequired  bool    `mapstructure:"human_review_required"`
	MinConfidenceForAuto float64 `mapstructure:"min_confidence_for_auto"`
	MaxDailyChange       float64 `mapstructure:"max_daily_change"` // fraction of old weight
	WeightMin            float64 `mapstructure:"weight_min"`
	WeightMax            float64 `mapstructure:"weight_max"`
	FreezeDurationDays   int     `mapstructure:"freeze_duration_days"`
}

// BacktestConfig contains simulator defaults
type BacktestConfig struct {
	StartingCapital float64 `mapstructure:"starting_capital"`
	HoldPeriodDays  int     `mapstructure:"hold_period_days"`
	AllocationMode  string  `mapstructure:"allocation_mode"`
}

// SchedulerConfig contains job cadence settings
type SchedulerConfig struct {
	Timezone           string `mapstructure:"timezone"`
	MarketDataInterval int    `mapstructure:"market_data_interval"` // minutes
	SentimentInterval  int    `mapstructure:"sentiment_interval"`   // minutes
	JobDeadline        int    `mapstructure:"job_deadline"`         // minutes, soft deadline per job run
	Workers            int    `mapstructure:"workers"`
}

// AlertsConfig contains alert sink settings
type AlertsConfig struct {
	TelegramEnabled bool   `mapstructure:"telegram_enabled"`
	TelegramToken   string `mapstructure:"telegram_token"`
	TelegramChatID  int64  `mapstructure:"telegram_chat_id"`
}

// APIConfig contains REST API settings
type APIConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// MetricsConfig contains monitoring settings
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("ALPHAMACHINE")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; using defaults and environment variables
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "AlphaMachine")
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "json")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "alphamachine")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.pool_size", 10)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	// NATS defaults
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.prefix", "alphamachine.")

	// LLM defaults
	v.SetDefault("llm.endpoint", "http://localhost:8080/v1/chat/completions")
	v.SetDefault("llm.primary_model", "claude-sonnet-4-20250514")
	v.SetDefault("llm.fallback_model", "gpt-4-turbo")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.max_tokens", 500)
	v.SetDefault("llm.timeout", 15000)
	v.SetDefault("llm.rate_per_minute", 60)

	// Agent defaults
	v.SetDefault("agents.rule_based_enabled", true)
	v.SetDefault("agents.contrarian_enabled", true)
	v.SetDefault("agents.growth_enabled", true)
	v.SetDefault("agents.deadline", 20000)

	// Signal defaults
	v.SetDefault("signals.portfolio_value", 100000.0)
	v.SetDefault("signals.max_position_pct", 0.10)
	v.SetDefault("signals.stop_loss_pct", 0.10)
	v.SetDefault("signals.take_profit_pct", 0.25)
	v.SetDefault("signals.alert_min_bucket", 4)

	// Learning defaults
	v.SetDefault("learning.auto_enabled", false)
	v.SetDefault("learning.human_review_required", true)
	v.SetDefault("learning.min_confidence_for_auto", 0.80)
	v.SetDefault("learning.max_daily_change", 0.10)
	v.SetDefault("learning.weight_min", 0.30)
	v.SetDefault("learning.weight_max", 2.00)
	v.SetDefault("learning.freeze_duration_days", 3)

	// Backtest defaults
	v.SetDefault("backtest.starting_capital", 100000.0)
	v.SetDefault("backtest.hold_period_days", 14)
	v.SetDefault("backtest.allocation_mode", "BALANCED")

	// Scheduler defaults
	v.SetDefault("scheduler.timezone", "America/New_York")
	v.SetDefault("scheduler.market_data_interval", 5)
	v.SetDefault("scheduler.sentiment_interval", 30)
	v.SetDefault("scheduler.job_deadline", 20)
	v.SetDefault("scheduler.workers", 4)

	// Alert defaults
	v.SetDefault("alerts.telegram_enabled", false)

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8081)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9100)
}

// Validate checks configuration invariants that would otherwise surface as
// runtime failures deep inside the learning loop or risk translation.
func (c *Config) Validate() error {
	if c.Learning.WeightMin <= 0 || c.Learning.WeightMax <= c.Learning.WeightMin {
		return fmt.Errorf("invalid learning weight bounds [%.2f, %.2f]",
			c.Learning.WeightMin, c.Learning.WeightMax)
	}
	if c.Learning.MaxDailyChange <= 0 || c.Learning.MaxDailyChange > 1 {
		return fmt.Errorf("learning.max_daily_change must be in (0, 1], got %.2f",
			c.Learning.MaxDailyChange)
	}
	if c.Signals.MaxPositionPct <= 0 || c.Signals.MaxPositionPct > 1 {
		return fmt.Errorf("signals.max_position_pct must be in (0, 1], got %.2f",
			c.Signals.MaxPositionPct)
	}
	if c.Signals.StopLossPct <= 0 || c.Signals.TakeProfitPct <= 0 {
		return fmt.Errorf("signals stop/target percentages must be positive")
	}
	if c.Backtest.HoldPeriodDays <= 0 {
		return fmt.Errorf("backtest.hold_period_days must be positive, got %d",
			c.Backtest.HoldPeriodDays)
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("invalid scheduler timezone %q: %w", c.Scheduler.Timezone, err)
	}
	return nil
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// GetRedisAddr returns the Redis address
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetAPIAddr returns the API server address
func (c *APIConfig) GetAPIAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetTimeout returns the LLM timeout as time.Duration
func (c *LLMConfig) GetTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Millisecond
}

// GetAgentDeadline returns the per-agent analysis deadline
func (c *AgentsConfig) GetAgentDeadline() time.Duration {
	return time.Duration(c.Deadline) * time.Millisecond
}

// Location returns the scheduler's time zone, falling back to UTC
func (c *SchedulerConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
