package database

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prohmpiriya/ticketing-core/pkg/logger"
	"github.com/prohmpiriya/ticketing-core/pkg/retry"
)

// PostgresConfig configures the pgx pool behind the ticketing store
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	ConnectTimeout    time.Duration
	// StatementTimeout bounds every statement server side; row locks taken
	// by reservations and refunds are never held longer than this. Zero
	// leaves the server default.
	StatementTimeout time.Duration

	// Startup retries while Postgres is still coming up
	MaxRetries    int
	RetryInterval time.Duration

	// EnableTracing adds an otelpgx span per query. Bind parameters carry
	// emails and amounts, so they are only recorded with TraceQueryParams.
	EnableTracing    bool
	TraceQueryParams bool
	// ServiceName is reported to Postgres as application_name
	ServiceName string
}

// DefaultPostgresConfig returns a local development configuration. The
// password must come from the environment.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		Host:              "localhost",
		Port:              5432,
		User:              "postgres",
		Database:          "ticketing_db",
		SSLMode:           "disable",
		MaxConns:          25,
		MinConns:          5,
		MaxConnLifetime:   time.Hour,
		MaxConnIdleTime:   30 * time.Minute,
		HealthCheckPeriod: 30 * time.Second,
		ConnectTimeout:    10 * time.Second,
		StatementTimeout:  15 * time.Second,
		MaxRetries:        3,
		RetryInterval:     2 * time.Second,
		ServiceName:       "ticketing-core",
	}
}

// DSN returns the key/value connection string
func (c *PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// MigrateURL returns the pgx5:// URL golang-migrate expects
func (c *PostgresConfig) MigrateURL() string {
	u := url.URL{
		Scheme:   "pgx5",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

// PoolConfig builds the pgxpool configuration without connecting
func (c *PostgresConfig) PoolConfig() (*pgxpool.Config, error) {
	poolConfig, err := pgxpool.ParseConfig(c.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}

	if c.MaxConns > 0 {
		poolConfig.MaxConns = c.MaxConns
	}
	if c.MinConns > 0 {
		poolConfig.MinConns = min(c.MinConns, poolConfig.MaxConns)
	}
	if c.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = c.MaxConnLifetime
	}
	if c.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = c.MaxConnIdleTime
	}
	if c.HealthCheckPeriod > 0 {
		poolConfig.HealthCheckPeriod = c.HealthCheckPeriod
	}
	if c.ConnectTimeout > 0 {
		poolConfig.ConnConfig.ConnectTimeout = c.ConnectTimeout
	}

	params := poolConfig.ConnConfig.RuntimeParams
	if c.ServiceName != "" {
		params["application_name"] = c.ServiceName
	}
	if c.StatementTimeout > 0 {
		params["statement_timeout"] = strconv.FormatInt(c.StatementTimeout.Milliseconds(), 10)
	}

	if c.EnableTracing {
		opts := []otelpgx.Option{otelpgx.WithTrimSQLInSpanName()}
		if c.TraceQueryParams {
			opts = append(opts, otelpgx.WithIncludeQueryParameters())
		}
		poolConfig.ConnConfig.Tracer = otelpgx.NewTracer(opts...)
	}

	return poolConfig, nil
}

// PostgresDB owns the pgx pool
type PostgresDB struct {
	pool   *pgxpool.Pool
	config *PostgresConfig
}

// NewPostgres opens the pool and pings it, backing off while the server
// is unreachable
func NewPostgres(ctx context.Context, cfg *PostgresConfig) (*PostgresDB, error) {
	if cfg == nil {
		cfg = DefaultPostgresConfig()
	}

	poolConfig, err := cfg.PoolConfig()
	if err != nil {
		return nil, err
	}

	var pool *pgxpool.Pool
	connect := func(ctx context.Context) error {
		p, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return err
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return err
		}
		pool = p
		return nil
	}

	backoff := &retry.Config{
		MaxRetries:      max(0, cfg.MaxRetries),
		InitialInterval: cfg.RetryInterval,
		MaxInterval:     4 * cfg.RetryInterval,
		Multiplier:      2,
	}
	result := retry.New(backoff).DoWithCallback(ctx, connect, func(attempt int, err error, next time.Duration) {
		logger.Get().Warn(fmt.Sprintf("Postgres %s:%d not ready (attempt %d): %v, retrying in %s",
			cfg.Host, cfg.Port, attempt, err, next))
	})
	if result.Err != nil {
		return nil, fmt.Errorf("failed to connect to postgres after %d attempts: %w", result.Attempts, result.LastError)
	}

	return &PostgresDB{pool: pool, config: cfg}, nil
}

// Pool returns the underlying pgxpool.Pool
func (db *PostgresDB) Pool() *pgxpool.Pool {
	return db.pool
}

// Close closes all connections in the pool gracefully
func (db *PostgresDB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// HealthCheck pings the database through the pool
func (db *PostgresDB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.pool.Ping(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}
