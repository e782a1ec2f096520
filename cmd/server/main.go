package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/zrobank/otc-settlement/internal/auth"
	"github.com/zrobank/otc-settlement/internal/config"
	"github.com/zrobank/otc-settlement/internal/cryptoremittance"
	"github.com/zrobank/otc-settlement/internal/database"
	"github.com/zrobank/otc-settlement/internal/events"
	"github.com/zrobank/otc-settlement/internal/exchangequotation"
	"github.com/zrobank/otc-settlement/internal/exposure"
	"github.com/zrobank/otc-settlement/internal/operation"
	"github.com/zrobank/otc-settlement/internal/orders"
	"github.com/zrobank/otc-settlement/internal/psp"
	"github.com/zrobank/otc-settlement/internal/quotation"
	"github.com/zrobank/otc-settlement/internal/remittance"
	"github.com/zrobank/otc-settlement/internal/settlementdate"
	"github.com/zrobank/otc-settlement/pkg/lock"
	"github.com/zrobank/otc-settlement/pkg/middleware"
	"github.com/zrobank/otc-settlement/pkg/response"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the settlement API server with graceful shutdown
// support. It sets up all required services, database connections, the three
// background processors and the API routes.
func main() {
	cfg := config.Load()

	// Initialize database
	db, err := database.NewDatabase(cfg.DatabasePath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Distributed lock for exposure groups; in-process when Redis is not
	// configured.
	var locker lock.Locker = lock.NewMemoryLocker()
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		locker = lock.NewRedisLocker(redisClient)
		zlog.Info().Str("addr", cfg.RedisAddr).Msg("using redis group locks")
	}

	// Domain event publisher; in-memory when AMQP is not configured.
	var publisher events.Publisher = events.NewMemoryPublisher()
	if cfg.AMQPURL != "" {
		amqpPublisher, err := events.NewAMQPPublisher(cfg.AMQPURL)
		if err != nil {
			zlog.Fatal().Err(err).Msg("Failed to connect to AMQP broker")
		}
		defer amqpPublisher.Close()
		publisher = amqpPublisher
		zlog.Info().Msg("publishing domain events to AMQP")
	}

	resolver := settlementdate.NewResolver(cfg.MarketOpen, cfg.Holidays)

	// External integrations default to local stand-ins when unconfigured so
	// the service runs end to end in development.
	var (
		exchangeGateway exchangequotation.Gateway
		cryptoGateway   cryptoremittance.Gateway
	)
	if cfg.PSPBaseURL != "" {
		exchangeGateway = psp.NewExchangeQuotationGateway("TOPAZIO", cfg.PSPBaseURL, cfg.PSPAPIKey, cfg.PSPTimeout)
		cryptoGateway = psp.NewCryptoGateway(cfg.PSPBaseURL, cfg.PSPAPIKey, cfg.PSPTimeout)
	} else {
		sim := psp.NewSimulator("SIMULATED", 1.0)
		exchangeGateway = sim
		cryptoGateway = sim
		zlog.Warn().Msg("no PSP configured, using simulated provider")
	}

	var rates quotation.Service = quotation.Static{Rate: decimal.NewFromFloat(5.0)}
	if cfg.QuotationBaseURL != "" {
		rates = quotation.NewClient(cfg.QuotationBaseURL, cfg.PSPTimeout)
	}

	var ledger operation.Service = operation.Noop{}
	if cfg.OperationBaseURL != "" {
		ledger = operation.NewClient(cfg.OperationBaseURL, cfg.PSPTimeout)
	}

	// Initialize router
	router := gin.Default()

	// Initialize services and handlers
	middleware.SetJWTSecret(cfg.JWTSecret)
	authService := auth.NewService(cfg.JWTSecret)
	authHandlers := auth.NewGinHandlers(authService)
	if cfg.Env != "production" {
		authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)
	}

	ordersService := orders.NewService(db)
	ordersHandlers := orders.NewGinHandlers(ordersService)

	exposureDB := exposure.NewDatabase(db)
	exposureHandlers := exposure.NewGinHandlers(exposureDB)

	remittanceDB := remittance.NewDatabase(db)
	remittanceService := remittance.NewService(db, resolver, publisher, cfg.DefaultSendCode, cfg.DefaultReceiveCode)
	remittanceHandlers := remittance.NewGinHandlers(remittanceService)

	cryptoService := cryptoremittance.NewService(db, remittanceDB, cryptoGateway, resolver, publisher, cfg.DefaultSendCode, cfg.DefaultReceiveCode)

	groupingService := remittance.NewGroupingService(remittanceDB, exposureDB, resolver, locker, publisher, cryptoService)

	quotationService := exchangequotation.NewService(db, remittanceDB, rates, ledger, exchangeGateway, publisher)
	quotationHandlers := exchangequotation.NewGinHandlers(quotationService)

	// Create and start the background processors
	processorCtx, processorCancel := context.WithCancel(context.Background())
	defer processorCancel()

	groupingProcessor := remittance.NewProcessor(groupingService, cfg.GroupingInterval)
	go groupingProcessor.Start(processorCtx)

	fillProcessor := cryptoremittance.NewProcessor(cryptoService, cfg.FillSyncInterval)
	go fillProcessor.Start(processorCtx)

	quotationProcessor := exchangequotation.NewProcessor(quotationService, func() bool {
		return cfg.ExchangeQuotationEnabled
	}, cfg.QuotationInterval)
	go quotationProcessor.Start(processorCtx)

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, db, authHandlers, ordersHandlers, remittanceHandlers, quotationHandlers, exposureHandlers)

	// Create server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Stop processors before the HTTP surface so in-flight groups finish
	processorCancel()

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware:
// - Auth routes: Public endpoints for authentication
// - Order routes: Protected by JWT authentication
// - Internal routes: Protected by internal network authentication
func setupRoutes(
	router *gin.Engine,
	db *gorm.DB,
	authHandlers *auth.GinHandlers,
	ordersHandlers *orders.GinHandlers,
	remittanceHandlers *remittance.GinHandlers,
	quotationHandlers *exchangequotation.GinHandlers,
	exposureHandlers *exposure.GinHandlers,
) {
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health", func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err != nil || sqlDB.Ping() != nil {
			response.ServiceUnavailable(c, "database unavailable")
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	{
		// Auth routes
		auth := v1.Group("/auth")
		{
			auth.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Order intake routes
		ordersGroup := v1.Group("/orders")
		ordersGroup.Use(middleware.JWTAuth())
		{
			ordersGroup.POST("", ordersHandlers.CreateOrderHandler())
			ordersGroup.GET("", ordersHandlers.ListOrdersHandler())
			ordersGroup.GET("/:order_id", ordersHandlers.GetOrderHandler())
		}

		// Remittance routes
		remittances := v1.Group("/remittances")
		remittances.Use(middleware.JWTAuth())
		{
			remittances.GET("", remittanceHandlers.ListRemittancesHandler())
			remittances.GET("/:remittance_id", remittanceHandlers.GetRemittanceHandler())
		}

		// Quotation routes
		quotations := v1.Group("/exchange-quotations")
		quotations.Use(middleware.JWTAuth())
		{
			quotations.GET("", quotationHandlers.ListQuotationsHandler())
			quotations.GET("/:quotation_id", quotationHandlers.GetQuotationHandler())
		}

		// Internal routes (should be protected by internal network)
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth())
		{
			internal.POST("/remittances/:remittance_id/close-manually", remittanceHandlers.ManuallyCloseHandler())
			internal.POST("/exposure-rules", exposureHandlers.CreateRuleHandler())
			internal.GET("/exposure-rules", exposureHandlers.ListRulesHandler())
			internal.GET("/exposure-rules/:currency", exposureHandlers.GetRuleHandler())
		}
	}
}
