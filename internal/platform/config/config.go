package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/agatticelli/cex-clmm-arbitrage/internal/blockchain"
	"github.com/agatticelli/cex-clmm-arbitrage/internal/quote"
)

// Config holds all configuration for the detector
type Config struct {
	Instrument    InstrumentConfig    `mapstructure:"instrument"`
	Binance       BinanceConfig       `mapstructure:"binance"`
	Raydium       RaydiumConfig       `mapstructure:"raydium"`
	Arbitrage     ArbitrageConfig     `mapstructure:"arbitrage"`
	Feeds         FeedsConfig         `mapstructure:"feeds"`
	Notification  NotificationConfig  `mapstructure:"notification"`
	Redis         RedisConfig         `mapstructure:"redis"`
	AWS           AWSConfig           `mapstructure:"aws"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	HTTP          HTTPConfig          `mapstructure:"http"`
}

// InstrumentConfig names the traded pair
type InstrumentConfig struct {
	Base  string `mapstructure:"base"`
	Quote string `mapstructure:"quote"`
}

// BinanceConfig holds exchange stream settings
type BinanceConfig struct {
	WSURL   string  `mapstructure:"ws_url"`
	Channel string  `mapstructure:"channel"` // depth5@100ms or bookTicker
	FeeRate float64 `mapstructure:"fee_rate"`
}

// RaydiumConfig holds Solana connection and pool settings
type RaydiumConfig struct {
	RPCEndpoints        []RPCEndpoint   `mapstructure:"rpc_endpoints"`
	WSURL               string          `mapstructure:"ws_url"`
	PoolAddress         string          `mapstructure:"pool_address"`
	Commitment          string          `mapstructure:"commitment"`
	Encoding            string          `mapstructure:"encoding"`
	HalfSpreadBps       float64         `mapstructure:"half_spread_bps"`
	FeeRateOverride     *float64        `mapstructure:"fee_rate_override"`
	RequestTimeout      time.Duration   `mapstructure:"request_timeout"`
	HealthCheckInterval time.Duration   `mapstructure:"health_check_interval"`
	RateLimit           RateLimitConfig `mapstructure:"rate_limit"`
}

// RPCEndpoint represents a Solana JSON-RPC endpoint
type RPCEndpoint struct {
	URL    string `mapstructure:"url"`
	Weight int    `mapstructure:"weight"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	Burst             int `mapstructure:"burst"`
}

// ArbitrageConfig holds detection settings
type ArbitrageConfig struct {
	MinSpread   float64       `mapstructure:"min_spread"`
	MaxQuoteAge time.Duration `mapstructure:"max_quote_age"` // 0 disables the guard
}

// FeedsConfig holds adapter channel and resubscription settings
type FeedsConfig struct {
	BufferSize int             `mapstructure:"buffer_size"`
	Reconnect  ReconnectConfig `mapstructure:"reconnect"`
}

// ReconnectConfig controls the opt-in resubscribe wrapper
type ReconnectConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	Jitter      float64       `mapstructure:"jitter"`
	MaxAttempts int           `mapstructure:"max_attempts"` // 0 = unlimited
}

// Publisher types
const (
	NotifyLog   = "log"
	NotifySNS   = "sns"
	NotifyRedis = "redis"
)

// NotificationConfig selects where opportunities are published
type NotificationConfig struct {
	Type         string   `mapstructure:"type"`
	SNSTopicARN  string   `mapstructure:"sns_topic_arn"`
	RedisChannel string   `mapstructure:"redis_channel"`
	Workers      int      `mapstructure:"workers"`
	QueueSize    int      `mapstructure:"queue_size"`
	MinNetSpread *float64 `mapstructure:"min_net_spread"` // nil publishes every opportunity
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AWSConfig holds AWS service configuration
type AWSConfig struct {
	Endpoint string `mapstructure:"endpoint"` // empty uses the real AWS endpoints
	Region   string `mapstructure:"region"`
}

// CacheConfig holds account fetch caching configuration
type CacheConfig struct {
	L1MaxSize int           `mapstructure:"l1_max_size"`
	L1TTL     time.Duration `mapstructure:"l1_ttl"`
	L2Enabled bool          `mapstructure:"l2_enabled"`
	L2TTL     time.Duration `mapstructure:"l2_ttl"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	ServiceName string        `mapstructure:"service_name"`
	Environment string        `mapstructure:"environment"`
	Logging     LoggingConfig `mapstructure:"logging"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
	Tracing     TracingConfig `mapstructure:"tracing"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
}

// MetricsConfig holds metrics settings
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// TracingConfig holds tracing settings
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Load reads .env (if present), then the YAML config file, then environment
// overrides such as RAYDIUM_POOL_ADDRESS.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not fatal if env vars are set
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("instrument.base", "SOL")
	v.SetDefault("instrument.quote", "USDC")

	v.SetDefault("binance.ws_url", "wss://stream.binance.com:9443")
	v.SetDefault("binance.channel", "depth5@100ms")
	v.SetDefault("binance.fee_rate", 0.000135)

	v.SetDefault("raydium.rpc_endpoints", []map[string]any{
		{"url": "https://api.mainnet-beta.solana.com", "weight": 1},
	})
	v.SetDefault("raydium.ws_url", "wss://api.mainnet-beta.solana.com")
	v.SetDefault("raydium.pool_address", "3ucNos4NbumPLZNWztqGHNFFgkHeRMBQAVemeeomsUxv")
	v.SetDefault("raydium.commitment", "processed")
	v.SetDefault("raydium.encoding", "base64+zstd")
	v.SetDefault("raydium.half_spread_bps", 2.0)
	v.SetDefault("raydium.request_timeout", "10s")
	v.SetDefault("raydium.health_check_interval", "30s")
	v.SetDefault("raydium.rate_limit.requests_per_minute", 600)
	v.SetDefault("raydium.rate_limit.burst", 10)

	v.SetDefault("arbitrage.min_spread", 0.0)
	v.SetDefault("arbitrage.max_quote_age", "0s")

	v.SetDefault("feeds.buffer_size", 16)
	v.SetDefault("feeds.reconnect.enabled", false)
	v.SetDefault("feeds.reconnect.base_delay", "500ms")
	v.SetDefault("feeds.reconnect.max_delay", "30s")
	v.SetDefault("feeds.reconnect.jitter", 0.2)
	v.SetDefault("feeds.reconnect.max_attempts", 0)

	v.SetDefault("notification.type", NotifyLog)
	v.SetDefault("notification.redis_channel", "arbitrage:opportunities")
	v.SetDefault("notification.workers", 2)
	v.SetDefault("notification.queue_size", 64)

	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("aws.region", "us-east-1")

	v.SetDefault("cache.l1_max_size", 256)
	v.SetDefault("cache.l1_ttl", "30s")
	v.SetDefault("cache.l2_enabled", false)
	v.SetDefault("cache.l2_ttl", "60s")

	v.SetDefault("observability.service_name", "cex-clmm-arbitrage")
	v.SetDefault("observability.environment", "development")
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.endpoint", "localhost:4317")
	v.SetDefault("observability.tracing.sample_ratio", 1.0)

	v.SetDefault("http.port", 8080)
	v.SetDefault("http.shutdown_timeout", "10s")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Instrument.Base == "" || c.Instrument.Quote == "" {
		return fmt.Errorf("instrument base and quote are required")
	}

	if c.Binance.WSURL == "" {
		return fmt.Errorf("binance ws_url is required")
	}
	switch c.Binance.Channel {
	case "depth5@100ms", "bookTicker":
	default:
		return fmt.Errorf("invalid binance channel: %s", c.Binance.Channel)
	}
	if c.Binance.FeeRate < 0 {
		return fmt.Errorf("binance fee_rate must be >= 0")
	}

	if len(c.Raydium.RPCEndpoints) == 0 {
		return fmt.Errorf("at least one RPC endpoint is required")
	}
	for _, ep := range c.Raydium.RPCEndpoints {
		if ep.URL == "" {
			return fmt.Errorf("RPC endpoint url is required")
		}
	}
	if c.Raydium.WSURL == "" {
		return fmt.Errorf("raydium ws_url is required")
	}
	if _, err := blockchain.ParsePublicKey(c.Raydium.PoolAddress); err != nil {
		return fmt.Errorf("invalid raydium pool_address: %w", err)
	}
	switch c.Raydium.Commitment {
	case "processed", "confirmed", "finalized":
	default:
		return fmt.Errorf("invalid raydium commitment: %s", c.Raydium.Commitment)
	}
	switch c.Raydium.Encoding {
	case "base64", "base64+zstd":
	default:
		return fmt.Errorf("invalid raydium encoding: %s", c.Raydium.Encoding)
	}
	if c.Raydium.HalfSpreadBps < 0 {
		return fmt.Errorf("half_spread_bps must be >= 0")
	}
	if o := c.Raydium.FeeRateOverride; o != nil && *o < 0 {
		return fmt.Errorf("fee_rate_override must be >= 0")
	}

	if c.Arbitrage.MinSpread < 0 {
		return fmt.Errorf("min_spread must be >= 0")
	}
	if c.Arbitrage.MaxQuoteAge < 0 {
		return fmt.Errorf("max_quote_age must be >= 0")
	}

	if c.Feeds.BufferSize < 1 {
		return fmt.Errorf("feeds buffer_size must be >= 1")
	}
	if r := c.Feeds.Reconnect; r.Enabled && (r.BaseDelay <= 0 || r.MaxDelay < r.BaseDelay) {
		return fmt.Errorf("feeds reconnect needs 0 < base_delay <= max_delay")
	}

	switch c.Notification.Type {
	case NotifyLog, NotifyRedis:
	case NotifySNS:
		if c.Notification.SNSTopicARN == "" {
			return fmt.Errorf("SNS topic ARN is required for sns notifications")
		}
		if c.AWS.Region == "" {
			return fmt.Errorf("AWS region is required")
		}
	default:
		return fmt.Errorf("invalid notification type: %s", c.Notification.Type)
	}
	if c.Notification.Workers < 1 || c.Notification.QueueSize < 1 {
		return fmt.Errorf("notification workers and queue_size must be >= 1")
	}

	if (c.Notification.Type == NotifyRedis || c.Cache.L2Enabled) && c.Redis.Address == "" {
		return fmt.Errorf("redis address is required")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Observability.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Observability.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[c.Observability.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Observability.Logging.Format)
	}

	return nil
}

// TradedInstrument returns the configured pair as a quote.Instrument.
func (c *Config) TradedInstrument() quote.Instrument {
	return quote.NewInstrument(c.Instrument.Base, c.Instrument.Quote)
}
