package di

import (
	"context"
	"fmt"
	"time"

	"github.com/prohmpiriya/ticketing-core/internal/gateway"
	"github.com/prohmpiriya/ticketing-core/migrations"
	"github.com/prohmpiriya/ticketing-core/pkg/config"
	"github.com/prohmpiriya/ticketing-core/pkg/database"
	"github.com/prohmpiriya/ticketing-core/pkg/kafka"
	"github.com/prohmpiriya/ticketing-core/pkg/logger"
	pkgredis "github.com/prohmpiriya/ticketing-core/pkg/redis"
)

// PostgresConfig maps the app config onto the pool config
func PostgresConfig(cfg *config.Config, serviceName string) *database.PostgresConfig {
	return &database.PostgresConfig{
		Host:              cfg.Database.Host,
		Port:              cfg.Database.Port,
		User:              cfg.Database.User,
		Password:          cfg.Database.Password,
		Database:          cfg.Database.DBName,
		SSLMode:           cfg.Database.SSLMode,
		MaxConns:          int32(cfg.Database.MaxOpenConns),
		MinConns:          int32(cfg.Database.MaxIdleConns),
		MaxConnLifetime:   cfg.Database.ConnMaxLifetime,
		MaxConnIdleTime:   cfg.Database.ConnMaxIdleTime,
		HealthCheckPeriod: cfg.Database.HealthCheckPeriod,
		ConnectTimeout:    5 * time.Second,
		StatementTimeout:  cfg.Database.StatementTimeout,
		MaxRetries:        3,
		RetryInterval:     time.Second,
		EnableTracing:     cfg.OTel.Enabled,
		TraceQueryParams:  cfg.Database.TraceQueryParams,
		ServiceName:       serviceName,
	}
}

// ConnectPostgres opens the pool and, when enabled, applies the embedded
// migrations first
func ConnectPostgres(ctx context.Context, cfg *config.Config, serviceName string) (*database.PostgresDB, error) {
	dbCfg := PostgresConfig(cfg, serviceName)

	if cfg.Database.AutoMigrate {
		version, err := database.Migrate(migrations.FS, migrations.Dir, dbCfg.MigrateURL())
		if err != nil {
			return nil, err
		}
		logger.Get().Info(fmt.Sprintf("Database schema at version %d", version))
	}

	db, err := database.NewPostgres(ctx, dbCfg)
	if err != nil {
		return nil, err
	}
	logger.Get().Info(fmt.Sprintf("Database connected (pool: min=%d, max=%d)", dbCfg.MinConns, dbCfg.MaxConns))
	return db, nil
}

// ConnectRedis opens the Redis client
func ConnectRedis(ctx context.Context, cfg *config.Config) (*pkgredis.Client, error) {
	redisCfg := &pkgredis.Config{
		Host:          cfg.Redis.Host,
		Port:          cfg.Redis.Port,
		Password:      cfg.Redis.Password,
		DB:            cfg.Redis.DB,
		PoolSize:      cfg.Redis.PoolSize,
		MinIdleConns:  cfg.Redis.MinIdleConns,
		DialTimeout:   cfg.Redis.DialTimeout,
		ReadTimeout:   cfg.Redis.ReadTimeout,
		WriteTimeout:  cfg.Redis.WriteTimeout,
		MaxRetries:    3,
		RetryInterval: 100 * time.Millisecond,
	}
	client, err := pkgredis.NewClient(ctx, redisCfg)
	if err != nil {
		return nil, err
	}
	logger.Get().Info(fmt.Sprintf("Redis connected (pool: %d, minIdle: %d)", redisCfg.PoolSize, redisCfg.MinIdleConns))
	return client, nil
}

// ConnectKafka opens a producer for the outbox relay and the DLQ
func ConnectKafka(ctx context.Context, cfg *config.Config, clientID string) (*kafka.Producer, error) {
	if clientID == "" {
		clientID = cfg.Kafka.ClientID
	}
	return kafka.NewProducer(ctx, &kafka.ProducerConfig{
		Brokers:       cfg.Kafka.Brokers,
		ClientID:      clientID,
		MaxRetries:    3,
		RetryInterval: 2 * time.Second,
		BatchSize:     cfg.Workers.OutboxBatchSize,
		LingerMs:      5,
	})
}

// GatewayConfig maps the processor section onto the gateway factory config
func GatewayConfig(cfg *config.Config) *gateway.Config {
	return &gateway.Config{
		Provider:            cfg.Processor.Provider,
		StripeSecretKey:     cfg.Processor.StripeSecretKey,
		StripeWebhookSecret: cfg.Processor.StripeWebhookSecret,
		MockFailureRate:     cfg.Processor.MockFailureRate,
	}
}
