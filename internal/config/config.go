package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rewired-gh/marketpulse/internal/models"
	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Binance  BinanceConfig  `mapstructure:"binance"`
	Market   MarketConfig   `mapstructure:"market"`
	Stream   StreamConfig   `mapstructure:"stream"`
	Exchange ExchangeConfig `mapstructure:"exchange"`
	Reversal ReversalConfig `mapstructure:"reversal"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Storage  StorageConfig  `mapstructure:"storage"`
	API      APIConfig      `mapstructure:"api"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// BinanceConfig holds Binance USDⓈ-M futures endpoints
type BinanceConfig struct {
	WSURL       string        `mapstructure:"ws_url"`
	RESTBaseURL string        `mapstructure:"rest_base_url"` // empty = library default
	Timeout     time.Duration `mapstructure:"timeout"`
}

// MarketConfig holds price window and classification settings
type MarketConfig struct {
	WindowSize        int           `mapstructure:"window_size"`
	SampleInterval    time.Duration `mapstructure:"sample_interval"`
	TickInterval      time.Duration `mapstructure:"tick_interval"`
	Requirement       float64       `mapstructure:"requirement"`        // percent
	StrongRequirement float64       `mapstructure:"strong_requirement"` // percent
	BaseSymbol        string        `mapstructure:"base_symbol"`
}

// StreamConfig holds websocket supervision settings
type StreamConfig struct {
	WatchdogInterval  time.Duration `mapstructure:"watchdog_interval"`
	StaleAfter        time.Duration `mapstructure:"stale_after"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff"`
	FailureAlertAfter int           `mapstructure:"failure_alert_after"`
}

// ExchangeConfig holds tradeable instrument refresh settings
type ExchangeConfig struct {
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	MaxInstruments  int           `mapstructure:"max_instruments"`
	MinAgeDays      int           `mapstructure:"min_age_days"`
	QuoteAsset      string        `mapstructure:"quote_asset"`
	AlwaysInclude   []string      `mapstructure:"always_include"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryDelayBase  time.Duration `mapstructure:"retry_delay_base"`
}

// ReversalConfig holds the reversal configuration used when none is persisted
type ReversalConfig struct {
	Initial        models.ReversalConfiguration `mapstructure:"initial"`
	PersistRetries int                          `mapstructure:"persist_retries"`
	RetryDelayBase time.Duration                `mapstructure:"retry_delay_base"`
}

// KafkaConfig holds KeyZone and signal input topics and the event output topic
type KafkaConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	Brokers      []string `mapstructure:"brokers"`
	GroupID      string   `mapstructure:"group_id"`
	KeyZoneTopic string   `mapstructure:"keyzone_topic"`
	SignalsTopic string   `mapstructure:"signals_topic"`
	EventsTopic  string   `mapstructure:"events_topic"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// StorageConfig holds storage and persistence configuration
type StorageConfig struct {
	MaxSessions int    `mapstructure:"max_sessions"`
	DBPath      string `mapstructure:"db_path"`
}

// APIConfig holds the HTTP API listener
type APIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// MetricsConfig holds the Prometheus listener
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
// A .env file in the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	// Environment overrides, e.g. MARKETPULSE_TELEGRAM_BOT_TOKEN
	v.SetEnvPrefix("MARKETPULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("binance.ws_url", "wss://fstream.binance.com/ws/!markPrice@arr@1s")
	v.SetDefault("binance.timeout", "15s")

	v.SetDefault("market.window_size", 60)
	v.SetDefault("market.sample_interval", "15s")
	v.SetDefault("market.tick_interval", "15s")
	v.SetDefault("market.requirement", 0.5)
	v.SetDefault("market.strong_requirement", 1.0)
	v.SetDefault("market.base_symbol", "BTCUSDT")

	v.SetDefault("stream.watchdog_interval", "30s")
	v.SetDefault("stream.stale_after", "60s")
	v.SetDefault("stream.max_backoff", "30s")
	v.SetDefault("stream.failure_alert_after", 3)

	v.SetDefault("exchange.refresh_interval", "6h")
	v.SetDefault("exchange.max_instruments", 50)
	v.SetDefault("exchange.min_age_days", 30)
	v.SetDefault("exchange.quote_asset", "USDT")
	v.SetDefault("exchange.always_include", []string{"BTCUSDT"})
	v.SetDefault("exchange.max_retries", 3)
	v.SetDefault("exchange.retry_delay_base", "2s")

	def := models.DefaultReversalConfiguration()
	v.SetDefault("reversal.initial.support_score_requirement", def.SupportScoreRequirement)
	v.SetDefault("reversal.initial.resistance_score_requirement", def.ResistanceScoreRequirement)
	v.SetDefault("reversal.initial.event_sort_function", string(def.EventSortFunction))
	v.SetDefault("reversal.initial.score_weights.volume", def.ScoreWeights.Volume)
	v.SetDefault("reversal.initial.score_weights.liquidity", def.ScoreWeights.Liquidity)
	v.SetDefault("reversal.initial.score_weights.coins", def.ScoreWeights.Coins)
	v.SetDefault("reversal.initial.score_weights.coins_btc", def.ScoreWeights.CoinsBTC)
	v.SetDefault("reversal.persist_retries", 3)
	v.SetDefault("reversal.retry_delay_base", "1s")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.group_id", "marketpulse")
	v.SetDefault("kafka.keyzone_topic", "keyzone.contacts")
	v.SetDefault("kafka.signals_topic", "market.signals")
	v.SetDefault("kafka.events_topic", "reversal.events")

	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "2s")

	v.SetDefault("storage.max_sessions", 5000)
	v.SetDefault("storage.db_path", "./data/marketpulse.db")

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.addr", ":8080")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.Binance.WSURL == "" {
		return fmt.Errorf("binance.ws_url is required")
	}
	if c.Binance.Timeout <= 0 {
		return fmt.Errorf("binance.timeout must be positive")
	}

	if c.Market.WindowSize < 2 {
		return fmt.Errorf("market.window_size must be at least 2")
	}
	if c.Market.SampleInterval < time.Second {
		return fmt.Errorf("market.sample_interval must be at least 1 second")
	}
	if c.Market.TickInterval < time.Second {
		return fmt.Errorf("market.tick_interval must be at least 1 second")
	}
	if c.Market.Requirement <= 0 {
		return fmt.Errorf("market.requirement must be positive")
	}
	if c.Market.StrongRequirement <= c.Market.Requirement {
		return fmt.Errorf("market.strong_requirement must be greater than market.requirement")
	}
	if c.Market.BaseSymbol == "" {
		return fmt.Errorf("market.base_symbol is required")
	}

	if c.Stream.WatchdogInterval < time.Second {
		return fmt.Errorf("stream.watchdog_interval must be at least 1 second")
	}
	if c.Stream.StaleAfter <= c.Stream.WatchdogInterval {
		return fmt.Errorf("stream.stale_after must be greater than stream.watchdog_interval")
	}
	if c.Stream.MaxBackoff < time.Second {
		return fmt.Errorf("stream.max_backoff must be at least 1 second")
	}
	if c.Stream.FailureAlertAfter < 1 {
		return fmt.Errorf("stream.failure_alert_after must be at least 1")
	}

	if c.Exchange.RefreshInterval < time.Minute {
		return fmt.Errorf("exchange.refresh_interval must be at least 1 minute")
	}
	if c.Exchange.MaxInstruments < 1 {
		return fmt.Errorf("exchange.max_instruments must be at least 1")
	}
	if c.Exchange.MinAgeDays < 0 {
		return fmt.Errorf("exchange.min_age_days must not be negative")
	}
	if c.Exchange.QuoteAsset == "" {
		return fmt.Errorf("exchange.quote_asset is required")
	}
	if c.Exchange.MaxRetries < 1 {
		return fmt.Errorf("exchange.max_retries must be at least 1")
	}

	if err := c.Reversal.Initial.Validate(); err != nil {
		return fmt.Errorf("reversal.initial: %w", err)
	}
	if c.Reversal.PersistRetries < 1 {
		return fmt.Errorf("reversal.persist_retries must be at least 1")
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers is required when kafka is enabled")
		}
		if c.Kafka.GroupID == "" {
			return fmt.Errorf("kafka.group_id is required when kafka is enabled")
		}
		if c.Kafka.KeyZoneTopic == "" || c.Kafka.SignalsTopic == "" || c.Kafka.EventsTopic == "" {
			return fmt.Errorf("kafka topics are required when kafka is enabled")
		}
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}
	if c.Telegram.MaxRetries < 1 {
		return fmt.Errorf("telegram.max_retries must be at least 1")
	}

	if c.Storage.MaxSessions < 1 {
		return fmt.Errorf("storage.max_sessions must be at least 1")
	}

	if c.API.Enabled && c.API.Addr == "" {
		return fmt.Errorf("api.addr is required when the api is enabled")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
