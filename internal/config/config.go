// Package config loads application configuration from file and environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Exchange     ExchangeConfig     `mapstructure:"exchange"`
	Engine       EngineConfig       `mapstructure:"engine"`
	Execution    ExecutionConfig    `mapstructure:"execution"`
	Scanner      ScannerConfig      `mapstructure:"scanner"`
	Distribution DistributionConfig `mapstructure:"distribution"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
	HealthPort  int    `mapstructure:"health_port"`
	TUIMode     bool   `mapstructure:"-"`
}

// Venue names a supported exchange adapter.
type Venue string

const (
	VenueBinance Venue = "binance"
	VenueVALR    Venue = "valr"
	VenuePaper   Venue = "paper"
)

// Path catalog backends.
const (
	CatalogYAML   = "yaml"
	CatalogSQLite = "sqlite"
)

// ExchangeConfig selects and configures the exchange adapter.
type ExchangeConfig struct {
	Venue        Venue         `mapstructure:"venue"`
	AccountID    string        `mapstructure:"account_id"`
	APIKey       string        `mapstructure:"api_key"`
	APISecret    string        `mapstructure:"api_secret"`
	BaseURL      string        `mapstructure:"base_url"`
	StreamURL    string        `mapstructure:"stream_url"`
	StreamPairs  []string      `mapstructure:"stream_pairs"`
	BookDepth    int           `mapstructure:"book_depth"`
	StaleTimeout time.Duration `mapstructure:"stale_timeout"`
	RequestsPM   int           `mapstructure:"requests_per_minute"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Retry        RetryConfig   `mapstructure:"retry"`
	// PaperBooks seeds the paper venue: pair -> [bid, ask, size].
	PaperBooks    map[string][]float64 `mapstructure:"paper_books"`
	PaperBalances map[string]float64   `mapstructure:"paper_balances"`
}

// RetryConfig bounds market-data retries.
type RetryConfig struct {
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	MaxElapsed      time.Duration `mapstructure:"max_elapsed"`
	MaxTries        uint          `mapstructure:"max_tries"`
}

// EngineConfig holds the opportunity calculator parameters. Fractions are
// expressed as decimals (0.001 = 0.1%), percents as percent points.
type EngineConfig struct {
	FeeRate               float64 `mapstructure:"fee_rate"`
	SlippageBufferPercent float64 `mapstructure:"slippage_buffer_percent"`
	FeeRiskFraction       float64 `mapstructure:"fee_risk_fraction"`
	MinProfitFraction     float64 `mapstructure:"min_profit_fraction"`
	MinOrderSize          float64 `mapstructure:"min_order_size"`
	MaxOrderSize          float64 `mapstructure:"max_order_size"`
	MaxDepthLevels        int     `mapstructure:"max_depth_levels"`
	MaxPriceImpactPercent float64 `mapstructure:"max_price_impact_percent"`
	StartAmount           float64 `mapstructure:"start_amount"`
}

// ExecutionConfig holds coordinator parameters.
type ExecutionConfig struct {
	DryRun               bool          `mapstructure:"dry_run"`
	MaxSlippageFraction  float64       `mapstructure:"max_slippage_fraction"`
	PerLegTimeout        time.Duration `mapstructure:"per_leg_timeout"`
	PollInterval         time.Duration `mapstructure:"poll_interval"`
	BalanceBufferPercent float64       `mapstructure:"balance_buffer_percent"`
	DryRunJitterFraction float64       `mapstructure:"dry_run_jitter_fraction"`
	LockTTL              time.Duration `mapstructure:"lock_ttl"`
}

// ScannerConfig drives the periodic detector.
type ScannerConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	CatalogSource string        `mapstructure:"catalog_source"` // yaml | sqlite
	CatalogPath   string        `mapstructure:"catalog_path"`
	Selector      string        `mapstructure:"selector"`
	Concurrency   int           `mapstructure:"concurrency"`
	AutoExecute   bool          `mapstructure:"auto_execute"`
}

// DistributionConfig configures the price distribution server.
type DistributionConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	ListenAddr   string        `mapstructure:"listen_addr"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	SendBuffer   int           `mapstructure:"send_buffer"`
}

// StorageConfig configures optional persistence backends. Empty values disable them.
type StorageConfig struct {
	PostgresDSN string   `mapstructure:"postgres_dsn"`
	RedisURL    string   `mapstructure:"redis_url"`
	WALDir      string   `mapstructure:"wal_dir"`
	S3          S3Config `mapstructure:"s3"`
}

// S3Config configures the execution archive bucket.
type S3Config struct {
	Bucket         string `mapstructure:"bucket"`
	Region         string `mapstructure:"region"`
	Endpoint       string `mapstructure:"endpoint"`
	AccessKey      string `mapstructure:"access_key"`
	SecretKey      string `mapstructure:"secret_key"`
	Prefix         string `mapstructure:"prefix"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
}

// TelemetryConfig holds observability configuration.
type TelemetryConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	ServiceName    string `mapstructure:"service_name"`
	TraceExporter  string `mapstructure:"trace_exporter"` // zipkin | otlp-grpc | otlp-http | stdout
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
	OTLPHeaders    string `mapstructure:"otlp_headers"`
	PrometheusPort int    `mapstructure:"prometheus_port"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("ARB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvVars(v)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func bindEnvVars(v *viper.Viper) {
	v.BindEnv("app.name", "ARB_APP_NAME", "SERVICE_NAME")
	v.BindEnv("app.environment", "ARB_ENVIRONMENT", "ENVIRONMENT")
	v.BindEnv("app.log_level", "ARB_LOG_LEVEL", "LOG_LEVEL")

	v.BindEnv("exchange.venue", "ARB_EXCHANGE_VENUE", "EXCHANGE_VENUE")
	v.BindEnv("exchange.account_id", "ARB_ACCOUNT_ID")
	v.BindEnv("exchange.api_key", "ARB_API_KEY", "EXCHANGE_API_KEY")
	v.BindEnv("exchange.api_secret", "ARB_API_SECRET", "EXCHANGE_API_SECRET")

	v.BindEnv("execution.dry_run", "ARB_DRY_RUN")

	v.BindEnv("storage.postgres_dsn", "ARB_POSTGRES_DSN", "DATABASE_URL")
	v.BindEnv("storage.redis_url", "ARB_REDIS_URL", "REDIS_URL")
	v.BindEnv("storage.s3.access_key", "ARB_S3_ACCESS_KEY", "AWS_ACCESS_KEY_ID")
	v.BindEnv("storage.s3.secret_key", "ARB_S3_SECRET_KEY", "AWS_SECRET_ACCESS_KEY")

	v.BindEnv("telemetry.enabled", "ARB_OTEL_ENABLED", "OTEL_ENABLED")
	v.BindEnv("telemetry.service_name", "ARB_OTEL_SERVICE_NAME", "OTEL_SERVICE_NAME")
	v.BindEnv("telemetry.otlp_endpoint", "ARB_OTEL_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")
	v.BindEnv("telemetry.otlp_headers", "ARB_OTEL_HEADERS", "OTEL_EXPORTER_OTLP_HEADERS")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "triarb")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.health_port", 8081)

	v.SetDefault("exchange.venue", string(VenuePaper))
	v.SetDefault("exchange.account_id", "default")
	v.SetDefault("exchange.book_depth", 20)
	v.SetDefault("exchange.stale_timeout", "5s")
	v.SetDefault("exchange.requests_per_minute", 600)
	v.SetDefault("exchange.timeout", "10s")
	v.SetDefault("exchange.retry.initial_interval", "200ms")
	v.SetDefault("exchange.retry.max_interval", "2s")
	v.SetDefault("exchange.retry.max_elapsed", "5s")
	v.SetDefault("exchange.retry.max_tries", 4)

	v.SetDefault("engine.fee_rate", 0.001)
	v.SetDefault("engine.slippage_buffer_percent", 0.1)
	v.SetDefault("engine.fee_risk_fraction", 0.005)
	v.SetDefault("engine.min_profit_fraction", 0.008)
	v.SetDefault("engine.min_order_size", 50)
	v.SetDefault("engine.max_order_size", 10000)
	v.SetDefault("engine.max_depth_levels", 3)
	v.SetDefault("engine.max_price_impact_percent", 1.0)
	v.SetDefault("engine.start_amount", 1000)

	v.SetDefault("execution.dry_run", true)
	v.SetDefault("execution.max_slippage_fraction", 0.005)
	v.SetDefault("execution.per_leg_timeout", "30s")
	v.SetDefault("execution.poll_interval", "500ms")
	v.SetDefault("execution.balance_buffer_percent", 5.0)
	v.SetDefault("execution.dry_run_jitter_fraction", 0.0005)
	v.SetDefault("execution.lock_ttl", "5m")

	v.SetDefault("scanner.interval", "10s")
	v.SetDefault("scanner.catalog_source", "yaml")
	v.SetDefault("scanner.catalog_path", "config/paths.yaml")
	v.SetDefault("scanner.selector", "default")
	v.SetDefault("scanner.concurrency", 8)
	v.SetDefault("scanner.auto_execute", false)

	v.SetDefault("distribution.enabled", false)
	v.SetDefault("distribution.listen_addr", ":8090")
	v.SetDefault("distribution.poll_interval", "2s")
	v.SetDefault("distribution.idle_timeout", "60s")
	v.SetDefault("distribution.send_buffer", 16)

	v.SetDefault("storage.s3.prefix", "executions")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "triarb")
	v.SetDefault("telemetry.trace_exporter", "zipkin")
	v.SetDefault("telemetry.prometheus_port", 9090)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Exchange.Venue {
	case VenueBinance, VenueVALR, VenuePaper:
	default:
		return fmt.Errorf("unsupported exchange.venue: %q", c.Exchange.Venue)
	}
	if !c.Execution.DryRun && c.Exchange.Venue != VenuePaper {
		if c.Exchange.APIKey == "" || c.Exchange.APISecret == "" {
			return fmt.Errorf("exchange.api_key and exchange.api_secret are required for live execution")
		}
	}
	if c.Engine.FeeRate < 0 || c.Engine.FeeRate >= 1 {
		return fmt.Errorf("engine.fee_rate must be in [0,1): %v", c.Engine.FeeRate)
	}
	if c.Engine.MinOrderSize <= 0 || c.Engine.MaxOrderSize < c.Engine.MinOrderSize {
		return fmt.Errorf("engine order bounds invalid: min=%v max=%v", c.Engine.MinOrderSize, c.Engine.MaxOrderSize)
	}
	if c.Engine.MaxDepthLevels < 1 {
		return fmt.Errorf("engine.max_depth_levels must be >= 1")
	}
	if c.Execution.PerLegTimeout <= 0 || c.Execution.PollInterval <= 0 {
		return fmt.Errorf("execution.per_leg_timeout and execution.poll_interval must be positive")
	}
	if c.Execution.PollInterval > c.Execution.PerLegTimeout {
		return fmt.Errorf("execution.poll_interval exceeds execution.per_leg_timeout")
	}
	switch c.Scanner.CatalogSource {
	case CatalogYAML, CatalogSQLite:
	default:
		return fmt.Errorf("unsupported scanner.catalog_source: %q", c.Scanner.CatalogSource)
	}
	return nil
}

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

// FeeRateDecimal returns the per-leg fee rate.
func (c *EngineConfig) FeeRateDecimal() decimal.Decimal { return dec(c.FeeRate) }

// SlippageBufferDecimal returns the depth-risk penalty in percent points.
func (c *EngineConfig) SlippageBufferDecimal() decimal.Decimal { return dec(c.SlippageBufferPercent) }

// FeeRiskFractionDecimal returns the total-fee risk threshold as a fraction of the start amount.
func (c *EngineConfig) FeeRiskFractionDecimal() decimal.Decimal { return dec(c.FeeRiskFraction) }

// MinProfitFractionDecimal returns the profitability gate as a fraction of the start amount.
func (c *EngineConfig) MinProfitFractionDecimal() decimal.Decimal { return dec(c.MinProfitFraction) }

func (c *EngineConfig) MinOrderSizeDecimal() decimal.Decimal { return dec(c.MinOrderSize) }

func (c *EngineConfig) MaxOrderSizeDecimal() decimal.Decimal { return dec(c.MaxOrderSize) }

func (c *EngineConfig) MaxPriceImpactDecimal() decimal.Decimal { return dec(c.MaxPriceImpactPercent) }

func (c *EngineConfig) StartAmountDecimal() decimal.Decimal { return dec(c.StartAmount) }

func (c *ExecutionConfig) MaxSlippageDecimal() decimal.Decimal { return dec(c.MaxSlippageFraction) }

func (c *ExecutionConfig) BalanceBufferDecimal() decimal.Decimal { return dec(c.BalanceBufferPercent) }

func (c *ExecutionConfig) JitterDecimal() decimal.Decimal { return dec(c.DryRunJitterFraction) }
