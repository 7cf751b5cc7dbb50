package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const defaultJWTSecret = "your-secret-key-change-in-production"

// Config holds all application configuration
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	OTel      OTelConfig      `mapstructure:"otel"`
	Processor ProcessorConfig `mapstructure:"processor"`
	Ticketing TicketingConfig `mapstructure:"ticketing"`
	Waitlist  WaitlistConfig  `mapstructure:"waitlist"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Workers   WorkersConfig   `mapstructure:"workers"`
}

// AppConfig holds application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"` // development, staging, production
	Debug       bool   `mapstructure:"debug"`
	Version     string `mapstructure:"version"`
	LogLevel    string `mapstructure:"log_level"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	// StatementTimeout caps every statement, including lock waits
	StatementTimeout  time.Duration `mapstructure:"statement_timeout"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	// TraceQueryParams records bind parameters on query spans
	TraceQueryParams bool `mapstructure:"trace_query_params"`
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the Redis address
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// KafkaConfig holds Kafka/Redpanda connection settings
type KafkaConfig struct {
	Brokers  []string `mapstructure:"brokers"`
	ClientID string   `mapstructure:"client_id"`
	DLQTopic string   `mapstructure:"dlq_topic"`
}

// JWTConfig holds JWT settings. The same secret signs waitlist passes.
type JWTConfig struct {
	Secret         string        `mapstructure:"secret"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
	Issuer         string        `mapstructure:"issuer"`
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	ServiceName   string  `mapstructure:"service_name"`
	CollectorAddr string  `mapstructure:"collector_addr"`
	SampleRatio   float64 `mapstructure:"sample_ratio"`
}

// ProcessorConfig selects and configures the payment processor
type ProcessorConfig struct {
	Provider            string        `mapstructure:"provider"` // stripe, mock
	StripeSecretKey     string        `mapstructure:"stripe_secret_key"`
	StripeWebhookSecret string        `mapstructure:"stripe_webhook_secret"`
	MaxRetries          int           `mapstructure:"max_retries"`
	RetryInitialDelay   time.Duration `mapstructure:"retry_initial_delay"`
	MockFailureRate     float64       `mapstructure:"mock_failure_rate"`
}

// TicketingConfig holds the commercial parameters of a purchase
type TicketingConfig struct {
	HoldWindow            time.Duration   `mapstructure:"hold_window"`
	Currency              string          `mapstructure:"currency"`
	PlatformCommissionPct decimal.Decimal `mapstructure:"platform_commission_pct"`
	ProcessorFeePct       decimal.Decimal `mapstructure:"processor_fee_pct"`
	ProcessorFixedFee     decimal.Decimal `mapstructure:"processor_fixed_fee"`
	TaxPct                decimal.Decimal `mapstructure:"tax_pct"`
	ServiceFeePct         decimal.Decimal `mapstructure:"service_fee_pct"`
}

// WaitlistConfig holds waitlist settings
type WaitlistConfig struct {
	DefaultExpiryHours int    `mapstructure:"default_expiry_hours"`
	AutoNotify         bool   `mapstructure:"auto_notify"`
	PassSecret         string `mapstructure:"pass_secret"`
}

// RateLimitConfig holds the per-user purchase rate limit
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	PurchasesPerMin   int  `mapstructure:"purchases_per_min"`
	PurchaseBurstSize int  `mapstructure:"purchase_burst_size"`
}

// WorkersConfig holds background worker settings
type WorkersConfig struct {
	SweepInterval        time.Duration `mapstructure:"sweep_interval"`
	SweepBatchSize       int           `mapstructure:"sweep_batch_size"`
	OutboxPollInterval   time.Duration `mapstructure:"outbox_poll_interval"`
	OutboxBatchSize      int           `mapstructure:"outbox_batch_size"`
	OutboxMaxRetries     int           `mapstructure:"outbox_max_retries"`
	OutboxRetention      time.Duration `mapstructure:"outbox_retention"`
	OutboxCleanupEnabled bool          `mapstructure:"outbox_cleanup_enabled"`
}

// Load loads configuration from environment variables and .env file
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")

	// A missing .env is fine, env vars may carry everything.
	_ = v.ReadInConfig()

	return load(v)
}

// LoadWithPath loads configuration from a specific path
func LoadWithPath(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("env")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	cfg := &Config{}
	if err := bindConfig(v, cfg); err != nil {
		return nil, fmt.Errorf("failed to bind config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("APP_NAME", "ticketing-core")
	v.SetDefault("APP_ENVIRONMENT", "development")
	v.SetDefault("APP_DEBUG", true)
	v.SetDefault("APP_VERSION", "1.0.0")
	v.SetDefault("APP_LOG_LEVEL", "info")

	// Server defaults
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("SERVER_READ_TIMEOUT", "30s")
	v.SetDefault("SERVER_WRITE_TIMEOUT", "30s")
	v.SetDefault("SERVER_IDLE_TIMEOUT", "120s")

	// Database defaults
	v.SetDefault("DATABASE_HOST", "localhost")
	v.SetDefault("DATABASE_PORT", 5432)
	v.SetDefault("DATABASE_USER", "postgres")
	v.SetDefault("DATABASE_PASSWORD", "postgres")
	v.SetDefault("DATABASE_DBNAME", "ticketing_db")
	v.SetDefault("DATABASE_SSLMODE", "disable")
	v.SetDefault("DATABASE_MAX_OPEN_CONNS", 100)
	v.SetDefault("DATABASE_MAX_IDLE_CONNS", 10)
	v.SetDefault("DATABASE_CONN_MAX_LIFETIME", "1h")
	v.SetDefault("DATABASE_CONN_MAX_IDLE_TIME", "30m")
	v.SetDefault("DATABASE_AUTO_MIGRATE", false)
	v.SetDefault("DATABASE_STATEMENT_TIMEOUT", "15s")
	v.SetDefault("DATABASE_HEALTH_CHECK_PERIOD", "30s")
	v.SetDefault("DATABASE_TRACE_QUERY_PARAMS", false)

	// Redis defaults
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 100)
	v.SetDefault("REDIS_MIN_IDLE_CONNS", 10)
	v.SetDefault("REDIS_DIAL_TIMEOUT", "5s")
	v.SetDefault("REDIS_READ_TIMEOUT", "3s")
	v.SetDefault("REDIS_WRITE_TIMEOUT", "3s")

	// Kafka defaults
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_CLIENT_ID", "ticketing-core")
	v.SetDefault("KAFKA_DLQ_TOPIC", "ticketing.dlq")

	// JWT defaults
	v.SetDefault("JWT_SECRET", defaultJWTSecret)
	v.SetDefault("JWT_ACCESS_TOKEN_TTL", "15m")
	v.SetDefault("JWT_ISSUER", "ticketing-core")

	// OTel defaults
	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_SERVICE_NAME", "ticketing-core")
	v.SetDefault("OTEL_COLLECTOR_ADDR", "localhost:4317")
	v.SetDefault("OTEL_SAMPLE_RATIO", 1.0)

	// Processor defaults
	v.SetDefault("PROCESSOR_PROVIDER", "mock")
	v.SetDefault("PROCESSOR_STRIPE_SECRET_KEY", "")
	v.SetDefault("PROCESSOR_STRIPE_WEBHOOK_SECRET", "")
	v.SetDefault("PROCESSOR_MAX_RETRIES", 3)
	v.SetDefault("PROCESSOR_RETRY_INITIAL_DELAY", "200ms")
	v.SetDefault("PROCESSOR_MOCK_FAILURE_RATE", 0.0)

	// Ticketing defaults
	v.SetDefault("TICKETING_HOLD_WINDOW", "15m")
	v.SetDefault("TICKETING_CURRENCY", "USD")
	v.SetDefault("TICKETING_PLATFORM_COMMISSION_PCT", "5")
	v.SetDefault("TICKETING_PROCESSOR_FEE_PCT", "2.9")
	v.SetDefault("TICKETING_PROCESSOR_FIXED_FEE", "0.30")
	v.SetDefault("TICKETING_TAX_PCT", "0")
	v.SetDefault("TICKETING_SERVICE_FEE_PCT", "0")

	// Waitlist defaults
	v.SetDefault("WAITLIST_DEFAULT_EXPIRY_HOURS", 24)
	v.SetDefault("WAITLIST_AUTO_NOTIFY", true)

	// Rate limit defaults
	v.SetDefault("RATE_LIMIT_ENABLED", true)
	v.SetDefault("RATE_LIMIT_PURCHASES_PER_MIN", 10)
	v.SetDefault("RATE_LIMIT_PURCHASE_BURST_SIZE", 5)

	// Worker defaults
	v.SetDefault("WORKERS_SWEEP_INTERVAL", "30s")
	v.SetDefault("WORKERS_SWEEP_BATCH_SIZE", 100)
	v.SetDefault("WORKERS_OUTBOX_POLL_INTERVAL", "100ms")
	v.SetDefault("WORKERS_OUTBOX_BATCH_SIZE", 100)
	v.SetDefault("WORKERS_OUTBOX_MAX_RETRIES", 5)
	v.SetDefault("WORKERS_OUTBOX_RETENTION", "168h")
	v.SetDefault("WORKERS_OUTBOX_CLEANUP_ENABLED", true)
}

func bindConfig(v *viper.Viper, cfg *Config) error {
	// App
	cfg.App.Name = v.GetString("APP_NAME")
	cfg.App.Environment = v.GetString("APP_ENVIRONMENT")
	cfg.App.Debug = v.GetBool("APP_DEBUG")
	cfg.App.Version = v.GetString("APP_VERSION")
	cfg.App.LogLevel = v.GetString("APP_LOG_LEVEL")

	// Server
	cfg.Server.Host = v.GetString("SERVER_HOST")
	cfg.Server.Port = v.GetInt("SERVER_PORT")
	cfg.Server.ReadTimeout = v.GetDuration("SERVER_READ_TIMEOUT")
	cfg.Server.WriteTimeout = v.GetDuration("SERVER_WRITE_TIMEOUT")
	cfg.Server.IdleTimeout = v.GetDuration("SERVER_IDLE_TIMEOUT")

	// Database
	cfg.Database.Host = v.GetString("DATABASE_HOST")
	cfg.Database.Port = v.GetInt("DATABASE_PORT")
	cfg.Database.User = v.GetString("DATABASE_USER")
	cfg.Database.Password = v.GetString("DATABASE_PASSWORD")
	cfg.Database.DBName = v.GetString("DATABASE_DBNAME")
	cfg.Database.SSLMode = v.GetString("DATABASE_SSLMODE")
	cfg.Database.MaxOpenConns = v.GetInt("DATABASE_MAX_OPEN_CONNS")
	cfg.Database.MaxIdleConns = v.GetInt("DATABASE_MAX_IDLE_CONNS")
	cfg.Database.ConnMaxLifetime = v.GetDuration("DATABASE_CONN_MAX_LIFETIME")
	cfg.Database.ConnMaxIdleTime = v.GetDuration("DATABASE_CONN_MAX_IDLE_TIME")
	cfg.Database.AutoMigrate = v.GetBool("DATABASE_AUTO_MIGRATE")
	cfg.Database.StatementTimeout = v.GetDuration("DATABASE_STATEMENT_TIMEOUT")
	cfg.Database.HealthCheckPeriod = v.GetDuration("DATABASE_HEALTH_CHECK_PERIOD")
	cfg.Database.TraceQueryParams = v.GetBool("DATABASE_TRACE_QUERY_PARAMS")

	// Redis
	cfg.Redis.Host = v.GetString("REDIS_HOST")
	cfg.Redis.Port = v.GetInt("REDIS_PORT")
	cfg.Redis.Password = v.GetString("REDIS_PASSWORD")
	cfg.Redis.DB = v.GetInt("REDIS_DB")
	cfg.Redis.PoolSize = v.GetInt("REDIS_POOL_SIZE")
	cfg.Redis.MinIdleConns = v.GetInt("REDIS_MIN_IDLE_CONNS")
	cfg.Redis.DialTimeout = v.GetDuration("REDIS_DIAL_TIMEOUT")
	cfg.Redis.ReadTimeout = v.GetDuration("REDIS_READ_TIMEOUT")
	cfg.Redis.WriteTimeout = v.GetDuration("REDIS_WRITE_TIMEOUT")

	// Kafka
	cfg.Kafka.Brokers = strings.Split(v.GetString("KAFKA_BROKERS"), ",")
	cfg.Kafka.ClientID = v.GetString("KAFKA_CLIENT_ID")
	cfg.Kafka.DLQTopic = v.GetString("KAFKA_DLQ_TOPIC")

	// JWT
	cfg.JWT.Secret = v.GetString("JWT_SECRET")
	cfg.JWT.AccessTokenTTL = v.GetDuration("JWT_ACCESS_TOKEN_TTL")
	cfg.JWT.Issuer = v.GetString("JWT_ISSUER")

	// OTel
	cfg.OTel.Enabled = v.GetBool("OTEL_ENABLED")
	cfg.OTel.ServiceName = v.GetString("OTEL_SERVICE_NAME")
	cfg.OTel.CollectorAddr = v.GetString("OTEL_COLLECTOR_ADDR")
	cfg.OTel.SampleRatio = v.GetFloat64("OTEL_SAMPLE_RATIO")

	// Processor
	cfg.Processor.Provider = strings.ToLower(v.GetString("PROCESSOR_PROVIDER"))
	cfg.Processor.StripeSecretKey = v.GetString("PROCESSOR_STRIPE_SECRET_KEY")
	cfg.Processor.StripeWebhookSecret = v.GetString("PROCESSOR_STRIPE_WEBHOOK_SECRET")
	cfg.Processor.MaxRetries = v.GetInt("PROCESSOR_MAX_RETRIES")
	cfg.Processor.RetryInitialDelay = v.GetDuration("PROCESSOR_RETRY_INITIAL_DELAY")
	cfg.Processor.MockFailureRate = v.GetFloat64("PROCESSOR_MOCK_FAILURE_RATE")

	// Ticketing
	var err error
	cfg.Ticketing.HoldWindow = v.GetDuration("TICKETING_HOLD_WINDOW")
	cfg.Ticketing.Currency = strings.ToUpper(v.GetString("TICKETING_CURRENCY"))
	decimals := []struct {
		key string
		dst *decimal.Decimal
	}{
		{"TICKETING_PLATFORM_COMMISSION_PCT", &cfg.Ticketing.PlatformCommissionPct},
		{"TICKETING_PROCESSOR_FEE_PCT", &cfg.Ticketing.ProcessorFeePct},
		{"TICKETING_PROCESSOR_FIXED_FEE", &cfg.Ticketing.ProcessorFixedFee},
		{"TICKETING_TAX_PCT", &cfg.Ticketing.TaxPct},
		{"TICKETING_SERVICE_FEE_PCT", &cfg.Ticketing.ServiceFeePct},
	}
	for _, d := range decimals {
		if *d.dst, err = decimal.NewFromString(v.GetString(d.key)); err != nil {
			return fmt.Errorf("invalid %s: %w", d.key, err)
		}
	}

	// Waitlist
	cfg.Waitlist.DefaultExpiryHours = v.GetInt("WAITLIST_DEFAULT_EXPIRY_HOURS")
	cfg.Waitlist.AutoNotify = v.GetBool("WAITLIST_AUTO_NOTIFY")
	cfg.Waitlist.PassSecret = v.GetString("WAITLIST_PASS_SECRET")

	// Rate limit
	cfg.RateLimit.Enabled = v.GetBool("RATE_LIMIT_ENABLED")
	cfg.RateLimit.PurchasesPerMin = v.GetInt("RATE_LIMIT_PURCHASES_PER_MIN")
	cfg.RateLimit.PurchaseBurstSize = v.GetInt("RATE_LIMIT_PURCHASE_BURST_SIZE")

	// Workers
	cfg.Workers.SweepInterval = v.GetDuration("WORKERS_SWEEP_INTERVAL")
	cfg.Workers.SweepBatchSize = v.GetInt("WORKERS_SWEEP_BATCH_SIZE")
	cfg.Workers.OutboxPollInterval = v.GetDuration("WORKERS_OUTBOX_POLL_INTERVAL")
	cfg.Workers.OutboxBatchSize = v.GetInt("WORKERS_OUTBOX_BATCH_SIZE")
	cfg.Workers.OutboxMaxRetries = v.GetInt("WORKERS_OUTBOX_MAX_RETRIES")
	cfg.Workers.OutboxRetention = v.GetDuration("WORKERS_OUTBOX_RETENTION")
	cfg.Workers.OutboxCleanupEnabled = v.GetBool("WORKERS_OUTBOX_CLEANUP_ENABLED")

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app name is required")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT secret is required")
	}

	if c.IsProduction() && c.JWT.Secret == defaultJWTSecret {
		return fmt.Errorf("JWT secret must be changed in production")
	}

	if c.Ticketing.HoldWindow <= 0 {
		return fmt.Errorf("ticketing hold window must be positive")
	}

	if len(c.Ticketing.Currency) != 3 {
		return fmt.Errorf("invalid currency: %q", c.Ticketing.Currency)
	}

	if c.Ticketing.PlatformCommissionPct.IsNegative() || c.Ticketing.ProcessorFeePct.IsNegative() ||
		c.Ticketing.ProcessorFixedFee.IsNegative() || c.Ticketing.TaxPct.IsNegative() ||
		c.Ticketing.ServiceFeePct.IsNegative() {
		return fmt.Errorf("ticketing rates must not be negative")
	}

	switch c.Processor.Provider {
	case "mock":
	case "stripe":
		if c.Processor.StripeSecretKey == "" {
			return fmt.Errorf("PROCESSOR_STRIPE_SECRET_KEY is required for the stripe provider")
		}
		if c.Processor.StripeWebhookSecret == "" {
			return fmt.Errorf("PROCESSOR_STRIPE_WEBHOOK_SECRET is required for the stripe provider")
		}
	default:
		return fmt.Errorf("unknown payment processor: %q", c.Processor.Provider)
	}

	return nil
}

// ValidateDatabase validates database configuration
func (c *Config) ValidateDatabase() error {
	if c.Database.Host == "" {
		return fmt.Errorf("DATABASE_HOST is required")
	}
	if c.Database.DBName == "" {
		return fmt.Errorf("DATABASE_DBNAME is required")
	}
	return nil
}

// IsProduction returns true if running in production environment
// WaitlistPassSecret is the key material waitlist passes are derived from.
// It falls back to the JWT secret when WAITLIST_PASS_SECRET is unset.
func (c *Config) WaitlistPassSecret() string {
	if c.Waitlist.PassSecret != "" {
		return c.Waitlist.PassSecret
	}
	return c.JWT.Secret
}

func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}
