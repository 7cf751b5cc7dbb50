package di

import (
	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/ticketing-core/internal/gateway"
	"github.com/prohmpiriya/ticketing-core/internal/handler"
	"github.com/prohmpiriya/ticketing-core/internal/pricing"
	"github.com/prohmpiriya/ticketing-core/internal/repository"
	"github.com/prohmpiriya/ticketing-core/internal/service"
	"github.com/prohmpiriya/ticketing-core/internal/worker"
	"github.com/prohmpiriya/ticketing-core/pkg/config"
	"github.com/prohmpiriya/ticketing-core/pkg/database"
	"github.com/prohmpiriya/ticketing-core/pkg/middleware"
	"github.com/prohmpiriya/ticketing-core/pkg/redis"
)

// Container holds all dependencies for the ticketing service
type Container struct {
	// Infrastructure
	DB    *database.PostgresDB
	Redis *redis.Client
	Store repository.Store

	// Processor
	Processor gateway.Processor
	Verifier  gateway.WebhookVerifier

	// Services
	Promos   *service.PromoValidator
	Ledger   *service.InventoryLedger
	Waitlist *service.WaitlistManager
	Refunds  *service.RefundCoordinator
	Payments *service.PaymentIntentCoordinator
	Webhooks *service.WebhookReconciler
	Tickets  *service.TicketService

	// Workers
	HoldExpiryWorker     *worker.HoldExpiryWorker
	WaitlistExpiryWorker *worker.WaitlistExpiryWorker

	// Handlers
	HealthHandler    *handler.HealthHandler
	PaymentHandler   *handler.PaymentHandler
	WebhookHandler   *handler.WebhookHandler
	InventoryHandler *handler.InventoryHandler
	WaitlistHandler  *handler.WaitlistHandler
	TicketHandler    *handler.TicketHandler
}

// ContainerConfig contains configuration for building the container
type ContainerConfig struct {
	Config *config.Config
	// DB is optional; without it the in-memory store is used
	DB *database.PostgresDB
	// Redis is optional; without it rate limiting and idempotency are off
	Redis     *redis.Client
	Processor gateway.Processor
	Verifier  gateway.WebhookVerifier
}

// NewContainer creates a new dependency injection container
func NewContainer(cfg *ContainerConfig) *Container {
	appCfg := cfg.Config
	c := &Container{
		DB:        cfg.DB,
		Redis:     cfg.Redis,
		Processor: cfg.Processor,
		Verifier:  cfg.Verifier,
	}

	if c.DB != nil {
		c.Store = repository.NewPostgresStore(c.DB.Pool())
	} else {
		c.Store = repository.NewMemoryStore()
	}

	processorRetry := service.ProcessorRetryConfig(appCfg.Processor.MaxRetries, appCfg.Processor.RetryInitialDelay)
	rates := pricing.Rates{
		PlatformCommissionPct: appCfg.Ticketing.PlatformCommissionPct,
		ProcessorFeePct:       appCfg.Ticketing.ProcessorFeePct,
		ProcessorFixedFee:     appCfg.Ticketing.ProcessorFixedFee,
		TaxPct:                appCfg.Ticketing.TaxPct,
		ServiceFeePct:         appCfg.Ticketing.ServiceFeePct,
	}

	// Initialize services
	c.Waitlist = service.NewWaitlistManager(c.Store, &service.WaitlistConfig{
		DefaultExpiryHours: appCfg.Waitlist.DefaultExpiryHours,
		AutoNotify:         appCfg.Waitlist.AutoNotify,
		PassSecret:         appCfg.WaitlistPassSecret(),
		PassIssuer:         appCfg.JWT.Issuer,
	})
	c.Promos = service.NewPromoValidator(c.Store)
	c.Ledger = service.NewInventoryLedger(c.Store, c.Promos, c.Waitlist, &service.LedgerConfig{
		HoldWindow: appCfg.Ticketing.HoldWindow,
	})
	c.Refunds = service.NewRefundCoordinator(c.Store, c.Processor, c.Ledger, c.Waitlist, &service.RefundConfig{
		Retry: processorRetry,
	})
	c.Payments = service.NewPaymentIntentCoordinator(c.Store, c.Processor, pricing.NewCalculator(rates),
		c.Promos, c.Ledger, c.Refunds, c.Waitlist, &service.PaymentConfig{
			Currency:     appCfg.Ticketing.Currency,
			ReclaimBatch: appCfg.Workers.SweepBatchSize,
			Retry:        processorRetry,
		})
	c.Webhooks = service.NewWebhookReconciler(c.Store, c.Verifier, c.Processor, c.Ledger, c.Promos, c.Refunds, c.Waitlist,
		&service.WebhookConfig{Retry: processorRetry})
	c.Tickets = service.NewTicketService(c.Store, c.Ledger, c.Waitlist, nil)

	// Initialize workers
	c.HoldExpiryWorker = worker.NewHoldExpiryWorker(c.Ledger, &worker.HoldExpiryWorkerConfig{
		ScanInterval: appCfg.Workers.SweepInterval,
		BatchSize:    appCfg.Workers.SweepBatchSize,
	})
	c.WaitlistExpiryWorker = worker.NewWaitlistExpiryWorker(c.Waitlist, appCfg.Workers.SweepInterval, appCfg.Workers.SweepBatchSize)

	// Initialize handlers
	checkers := map[string]handler.HealthChecker{}
	if c.DB != nil {
		checkers["postgres"] = c.DB
	}
	if c.Redis != nil {
		checkers["redis"] = c.Redis
	}
	c.HealthHandler = handler.NewHealthHandler(appCfg.App.Name, checkers)
	c.PaymentHandler = handler.NewPaymentHandler(c.Payments, c.Refunds)
	c.WebhookHandler = handler.NewWebhookHandler(c.Webhooks)
	c.InventoryHandler = handler.NewInventoryHandler(c.Ledger)
	c.WaitlistHandler = handler.NewWaitlistHandler(c.Waitlist)
	c.TicketHandler = handler.NewTicketHandler(c.Tickets)

	return c
}

// Routes assembles the API routes with auth, rate limiting and idempotency
func (c *Container) Routes(appCfg *config.Config) *handler.Routes {
	var purchase []gin.HandlerFunc
	if c.Redis != nil {
		if appCfg.RateLimit.Enabled {
			limiter := middleware.NewRedisRateLimiter(middleware.RateLimitConfig{
				Redis:     c.Redis,
				PerMinute: appCfg.RateLimit.PurchasesPerMin,
				BurstSize: appCfg.RateLimit.PurchaseBurstSize,
			})
			purchase = append(purchase, limiter.Middleware())
		}
		purchase = append(purchase, middleware.Idempotency(middleware.DefaultIdempotencyConfig(c.Redis)))
	}

	return &handler.Routes{
		Health:    c.HealthHandler,
		Payments:  c.PaymentHandler,
		Webhooks:  c.WebhookHandler,
		Inventory: c.InventoryHandler,
		Waitlist:  c.WaitlistHandler,
		Tickets:   c.TicketHandler,
		Auth: middleware.Authenticate(middleware.AuthConfig{
			Secret:              appCfg.JWT.Secret,
			Issuer:              appCfg.JWT.Issuer,
			TrustGatewayHeaders: !appCfg.IsProduction(),
		}),
		Purchase: purchase,
	}
}
