package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prohmpiriya/ticketing-core/internal/di"
	"github.com/prohmpiriya/ticketing-core/internal/repository"
	"github.com/prohmpiriya/ticketing-core/internal/worker"
	"github.com/prohmpiriya/ticketing-core/pkg/config"
	"github.com/prohmpiriya/ticketing-core/pkg/logger"
	"github.com/prohmpiriya/ticketing-core/pkg/retry"
	"github.com/prohmpiriya/ticketing-core/pkg/telemetry"
)

const serviceName = "outbox-relay"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logCfg := &logger.Config{
		Level:       cfg.App.LogLevel,
		ServiceName: serviceName,
		Development: cfg.IsDevelopment(),
	}
	if err := logger.Init(logCfg); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting Outbox Relay...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:       cfg.OTel.Enabled,
		ServiceName:   serviceName,
		Environment:   cfg.App.Environment,
		CollectorAddr: cfg.OTel.CollectorAddr,
		SampleRatio:   cfg.OTel.SampleRatio,
	}); err != nil {
		appLog.Warn(fmt.Sprintf("Telemetry disabled: %v", err))
	}

	db, err := di.ConnectPostgres(ctx, cfg, serviceName)
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to connect to database: %v", err))
	}
	defer db.Close()

	producer, err := di.ConnectKafka(ctx, cfg, serviceName)
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to create Kafka producer: %v", err))
	}
	defer producer.Close()
	appLog.Info(fmt.Sprintf("Kafka producer connected to %v", cfg.Kafka.Brokers))

	dlq := retry.NewKafkaDLQPublisher(producer, cfg.Kafka.DLQTopic, serviceName)

	relayCfg := worker.DefaultOutboxRelayConfig()
	relayCfg.PollInterval = cfg.Workers.OutboxPollInterval
	relayCfg.BatchSize = cfg.Workers.OutboxBatchSize
	relayCfg.MaxAttempts = cfg.Workers.OutboxMaxRetries
	if cfg.Workers.OutboxCleanupEnabled {
		relayCfg.Retention = cfg.Workers.OutboxRetention
	} else {
		relayCfg.Retention = 0
	}

	store := repository.NewPostgresStore(db.Pool())
	relay := worker.NewOutboxRelay(store.Repos().Outbox, producer, dlq, relayCfg)
	if err := relay.Start(ctx); err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to start outbox relay: %v", err))
	}

	appLog.Info(fmt.Sprintf("Outbox Relay started (poll=%s, batch=%d, dlq=%s)", relayCfg.PollInterval, relayCfg.BatchSize, dlq.Topic()))

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLog.Info("Shutting down relay...")
	relay.Stop()
	cancel()

	_ = telemetry.Shutdown(context.Background())
	appLog.Info("Outbox Relay exited gracefully")
}
