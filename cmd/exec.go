package cmd

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ftc-tickets/config"
	"ftc-tickets/internal/entrycode"
	"ftc-tickets/internal/handlers"
	"ftc-tickets/internal/ledger"
	"ftc-tickets/internal/services"
	"ftc-tickets/internal/services/bank/paystack"
	"ftc-tickets/security"
	"ftc-tickets/utils"

	_ "ftc-tickets/migrations"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func Start() error {
	app := pocketbase.New()

	// Load configuration
	cfg := config.LoadConfig()

	// Initialize Redis
	redisClient := utils.NewRedisClient(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
	defer redisClient.Close()

	// Payment gateway
	gateway, err := paystack.New(&paystack.Config{
		BaseURL:     cfg.PaystackBaseURL,
		SecretKey:   cfg.PaystackSecretKey,
		CallbackURL: cfg.CallbackURL,
		Timeout:     cfg.GatewayTimeout,
	})
	if err != nil {
		log.Fatalf("failed to initialize payment gateway: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Persistence and services
	store := ledger.NewLedger(app)
	codes := entrycode.NewPayloadGenerator(cfg.EventName)
	notifier := services.NewMailNotifier(app, cfg.EventName, cfg.EventDate, cfg.EventLocation)

	var publisher services.Publisher
	if cfg.PubNubPublishKey != "" && cfg.PubNubSubscribeKey != "" {
		publisher = services.NewPubNubPublisher(cfg.PubNubPublishKey, cfg.PubNubSubscribeKey, cfg.PubNubUUID)
	}

	purchaseService := services.NewPurchaseService(store, gateway, cfg.PlatformFee, cfg.MaxQuantity)
	reconcileService := services.NewReconcileService(store, gateway, codes, notifier, publisher, redisClient, cfg.NotifyTimeout)
	scanService := services.NewScanService(store)
	sweeper := services.NewSweeper(store, reconcileService, cfg.SweepInterval, cfg.StalePendingTTL)

	// Initialize handlers
	ticketHandler := handlers.NewTicketHandler(purchaseService, reconcileService, scanService)
	webhookHandler := handlers.NewWebhookHandler(reconcileService, cfg.PaystackSecretKey)
	validateHandler := handlers.NewValidateHandler(scanService)
	adminHandler := handlers.NewAdminHandler(store, notifier, scanService)

	// Middleware
	scanLimiter := security.NewRateLimiter(redisClient, "scan", cfg.ScanRateLimit, cfg.ScanRateWindow)
	adminGuard := security.NewAdminGuard(cfg.AdminTokenHash)

	// Enable migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: true,
	})

	// Start background tasks
	go sweeper.Run(ctx)

	// Setup graceful shutdown
	go handleShutdown(cancel)

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		bootstrapEvent(app, cfg, store)

		// Storefront endpoints
		e.Router.GET("/api/v1/tickets/types", ticketHandler.ListTypes)
		e.Router.GET("/api/v1/tickets/availability/{type}", ticketHandler.Availability)
		e.Router.POST("/api/v1/tickets/purchase", ticketHandler.Purchase)
		e.Router.GET("/api/v1/tickets/verify-payment", ticketHandler.VerifyPayment)
		e.Router.GET("/api/v1/tickets/check/{email}", ticketHandler.CheckByEmail)

		// Gateway webhook
		e.Router.POST("/api/v1/webhook/paystack", webhookHandler.Paystack)

		// Door endpoints
		e.Router.POST("/api/v1/validate", validateHandler.Validate).BindFunc(scanLimiter.Middleware())
		e.Router.GET("/api/v1/validate/shortcode/{code}", validateHandler.Lookup).BindFunc(scanLimiter.Middleware())

		// Admin endpoints
		adminGroup := e.Router.Group("/api/v1/admin")
		adminGroup.BindFunc(adminGuard.Middleware())
		adminGroup.GET("/types", adminHandler.ListTypes)
		adminGroup.POST("/types", adminHandler.CreateType)
		adminGroup.PUT("/types/{id}", adminHandler.UpdateType)
		adminGroup.DELETE("/types/{id}", adminHandler.DeleteType)
		adminGroup.POST("/types/{id}/restock", adminHandler.Restock)
		adminGroup.POST("/types/{id}/soldout", adminHandler.Deactivate)
		adminGroup.GET("/stats", adminHandler.Stats)
		adminGroup.POST("/resend/{ticketNo}", adminHandler.ResendEmail)
		adminGroup.POST("/scan/{ticketNo}", adminHandler.ForceScan)
		adminGroup.POST("/unscan/{ticketNo}", adminHandler.Unscan)

		// Metrics
		e.Router.GET("/metrics", func(e *core.RequestEvent) error {
			promhttp.Handler().ServeHTTP(e.Response, e.Request)
			return nil
		})

		// Health check
		e.Router.GET("/health", func(e *core.RequestEvent) error {
			if err := utils.RedisHealthCheck(redisClient); err != nil {
				return e.JSON(503, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
			}
			return e.JSON(200, map[string]string{"status": "healthy"})
		})

		log.Println("Server routes registered")

		return e.Next()
	})

	// Start server
	if err := app.Start(); err != nil {
		log.Fatal(err)
	}
	return nil
}

// bootstrapEvent makes sure the singleton event record exists before the
// first request hits the storefront.
func bootstrapEvent(app *pocketbase.PocketBase, cfg *config.Config, store *ledger.Ledger) {
	date, err := time.Parse("2006-01-02", cfg.EventDate)
	if err != nil {
		slog.Warn("invalid EVENT_DATE, using zero date", "value", cfg.EventDate)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	event, err := store.GetOrCreateEvent(ctx, cfg.EventName, date, cfg.EventLocation)
	if err != nil {
		slog.Error("failed to bootstrap event config", "error", err)
		return
	}
	slog.Info("event ready", "name", event.Name, "date", cfg.EventDate, "status", event.Status)
}

// handleShutdown handles graceful shutdown
func handleShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")
	cancel()
}
