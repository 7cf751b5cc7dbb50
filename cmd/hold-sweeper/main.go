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
	"github.com/prohmpiriya/ticketing-core/internal/service"
	"github.com/prohmpiriya/ticketing-core/internal/worker"
	"github.com/prohmpiriya/ticketing-core/pkg/config"
	"github.com/prohmpiriya/ticketing-core/pkg/logger"
	"github.com/prohmpiriya/ticketing-core/pkg/telemetry"
)

const serviceName = "hold-sweeper"

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
	appLog.Info("Starting Hold Sweeper...")

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

	// The sweeper only releases holds and expires passes; capacity released
	// here still notifies the waitlist.
	store := repository.NewPostgresStore(db.Pool())
	waitlist := service.NewWaitlistManager(store, &service.WaitlistConfig{
		DefaultExpiryHours: cfg.Waitlist.DefaultExpiryHours,
		AutoNotify:         cfg.Waitlist.AutoNotify,
		PassSecret:         cfg.WaitlistPassSecret(),
		PassIssuer:         cfg.JWT.Issuer,
	})
	ledger := service.NewInventoryLedger(store, service.NewPromoValidator(store), waitlist, &service.LedgerConfig{
		HoldWindow: cfg.Ticketing.HoldWindow,
	})

	holdWorker := worker.NewHoldExpiryWorker(ledger, &worker.HoldExpiryWorkerConfig{
		ScanInterval: cfg.Workers.SweepInterval,
		BatchSize:    cfg.Workers.SweepBatchSize,
	})
	waitlistWorker := worker.NewWaitlistExpiryWorker(waitlist, cfg.Workers.SweepInterval, cfg.Workers.SweepBatchSize)

	if err := holdWorker.Start(ctx); err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to start hold expiry worker: %v", err))
	}
	if err := waitlistWorker.Start(ctx); err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to start waitlist expiry worker: %v", err))
	}

	appLog.Info(fmt.Sprintf("Hold Sweeper started (interval=%s, batch=%d)", cfg.Workers.SweepInterval, cfg.Workers.SweepBatchSize))

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLog.Info("Shutting down sweeper...")
	holdWorker.Stop()
	waitlistWorker.Stop()

	stats := holdWorker.GetStats()
	appLog.Info(fmt.Sprintf("Hold Sweeper exited gracefully (reclaimed=%d, expired passes=%d)",
		stats.TotalSwept, waitlistWorker.GetStats().TotalSwept))
	_ = telemetry.Shutdown(context.Background())
}
