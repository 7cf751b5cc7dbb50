package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/ticketing-core/internal/di"
	"github.com/prohmpiriya/ticketing-core/internal/gateway"
	"github.com/prohmpiriya/ticketing-core/internal/metrics"
	"github.com/prohmpiriya/ticketing-core/pkg/config"
	"github.com/prohmpiriya/ticketing-core/pkg/database"
	"github.com/prohmpiriya/ticketing-core/pkg/logger"
	"github.com/prohmpiriya/ticketing-core/pkg/middleware"
	pkgredis "github.com/prohmpiriya/ticketing-core/pkg/redis"
	"github.com/prohmpiriya/ticketing-core/pkg/telemetry"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logCfg := &logger.Config{
		Level:       cfg.App.LogLevel,
		ServiceName: cfg.App.Name,
		Development: cfg.IsDevelopment(),
	}
	if err := logger.Init(logCfg); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting Ticketing Core...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize tracing
	if _, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    cfg.OTel.ServiceName,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
		SampleRatio:    cfg.OTel.SampleRatio,
	}); err != nil {
		appLog.Warn(fmt.Sprintf("Telemetry disabled: %v", err))
	}

	// Initialize database connection. Outside production the service runs
	// on the in-memory store when Postgres is unreachable.
	var db *database.PostgresDB
	db, err = di.ConnectPostgres(ctx, cfg, cfg.App.Name)
	if err != nil {
		if cfg.IsProduction() {
			appLog.Fatal(fmt.Sprintf("Database connection failed: %v", err))
		}
		appLog.Warn(fmt.Sprintf("Database connection failed, using in-memory store (data will not persist): %v", err))
		db = nil
	} else {
		defer db.Close()
	}

	// Initialize Redis connection
	var redisClient *pkgredis.Client
	redisClient, err = di.ConnectRedis(ctx, cfg)
	if err != nil {
		appLog.Warn(fmt.Sprintf("Redis connection failed, rate limiting and idempotency disabled: %v", err))
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	// Initialize payment processor
	gwCfg := di.GatewayConfig(cfg)
	processor, err := gateway.NewProcessor(gwCfg)
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to create payment processor: %v", err))
	}
	appLog.Info(fmt.Sprintf("Using %s payment processor", processor.Name()))

	// Build dependency injection container
	container := di.NewContainer(&di.ContainerConfig{
		Config:    cfg,
		DB:        db,
		Redis:     redisClient,
		Processor: processor,
		Verifier:  gateway.NewWebhookVerifier(gwCfg),
	})

	// Start in-process workers
	if err := container.HoldExpiryWorker.Start(ctx); err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to start hold expiry worker: %v", err))
	}
	if err := container.WaitlistExpiryWorker.Start(ctx); err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to start waitlist expiry worker: %v", err))
	}

	// Setup Gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Apply middlewares
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	quietPaths := []string{"/health", "/ready", "/metrics"}
	router.Use(telemetry.TracingMiddleware(telemetry.HTTPConfig{ServiceName: cfg.OTel.ServiceName, SkipPaths: quietPaths}))
	router.Use(middleware.Logger(appLog, quietPaths...))
	router.Use(metrics.Middleware())

	router.GET("/metrics", metrics.Handler())
	container.Routes(cfg).Register(router)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ReadHeaderTimeout: 2 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
	}

	// Start server in goroutine
	go func() {
		appLog.Info(fmt.Sprintf("Ticketing Core listening on %s", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Fatal(fmt.Sprintf("Failed to start server: %v", err))
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLog.Info("Shutting down server...")

	// Give outstanding requests 30 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error(fmt.Sprintf("Server forced to shutdown: %v", err))
	}

	container.HoldExpiryWorker.Stop()
	container.WaitlistExpiryWorker.Stop()
	cancel()

	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		appLog.Warn(fmt.Sprintf("Failed to flush traces: %v", err))
	}

	appLog.Info("Server exited gracefully")
}
