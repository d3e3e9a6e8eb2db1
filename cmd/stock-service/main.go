package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/vintrack/vintrack-backend/internal/stock/events"
	"github.com/vintrack/vintrack-backend/internal/stock/handler"
	"github.com/vintrack/vintrack-backend/internal/stock/outbox"
	"github.com/vintrack/vintrack-backend/internal/stock/repository"
	"github.com/vintrack/vintrack-backend/internal/stock/service"
	"github.com/vintrack/vintrack-backend/pkg/config"
	"github.com/vintrack/vintrack-backend/pkg/database"
	"github.com/vintrack/vintrack-backend/pkg/httputil"
	"github.com/vintrack/vintrack-backend/pkg/logger"
	"github.com/vintrack/vintrack-backend/pkg/messaging"
	"github.com/vintrack/vintrack-backend/pkg/metrics"
)

func main() {
	// Load configuration with validation (fails fast in production if required config is missing)
	cfg, err := config.LoadWithValidation("stock-service")
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New("stock-service", cfg.Server.Environment)
	log.Info().Msg("starting Stock Service")

	// Connect to database
	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	db.WithTxTimeout(cfg.Stock.StoreTimeout)

	// Connect to RabbitMQ
	rmq, err := messaging.New(&cfg.RabbitMQ, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	defer rmq.Close()

	// Initialize event publisher
	publisher, err := events.NewStockEventPublisher(rmq, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create event publisher")
	}

	// Prometheus registry
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// Durable outbox. Redis keeps queued movements across restarts; without
	// it the outbox falls back to a process-local queue.
	var store outbox.Store
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			pingCancel()
			log.Fatal().Err(err).Msg("failed to connect to Redis")
		}
		pingCancel()
		store = outbox.NewRedisStore(redisClient)
	} else {
		log.Warn().Msg("Redis not configured, outbox entries will not survive restarts")
		store = outbox.NewMemoryStore()
	}
	ob := outbox.New(store, outbox.Config{
		MaxSize:    cfg.Outbox.MaxSize,
		MaxRetries: cfg.Outbox.MaxRetries,
		BackupPath: cfg.Outbox.BackupPath,
	}, log, m)

	// Initialize repositories
	productRepo := repository.NewProductRepository(db)
	batchRepo := repository.NewBatchRepository(db)
	movementRepo := repository.NewMovementRepository(db)

	// Initialize services
	ledgerService := service.NewLedgerService(db, productRepo, batchRepo, movementRepo, ob, publisher, m, log)
	productService := service.NewProductService(db, productRepo, ledgerService, log)
	batchService := service.NewBatchService(db, productRepo, batchRepo, movementRepo, publisher, m, log)
	allocatorService := service.NewAllocatorService(db, productRepo, batchRepo, movementRepo, publisher, m, log, cfg.Stock.AllocationRetries)
	reconcileService := service.NewReconcileService(db, productRepo, movementRepo, publisher, m, log)
	alertService := service.NewAlertService(productRepo, batchRepo, publisher, m, log, cfg.Stock.DefaultExpiryHorizonDays)

	// Initialize handlers
	productHandler := handler.NewProductHandler(productService, ledgerService, log)
	movementHandler := handler.NewMovementHandler(ledgerService, log)
	allocationHandler := handler.NewAllocationHandler(allocatorService, log)
	batchHandler := handler.NewBatchHandler(batchService, log)
	reconcileHandler := handler.NewReconcileHandler(reconcileService, log)
	alertHandler := handler.NewAlertHandler(alertService, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Background loops: outbox flush, reconciliation, expiry sweep
	scheduler := service.NewScheduler(ledgerService, reconcileService, batchService, ob, cfg.Outbox, cfg.Scheduler, log)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	// Create router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(httputil.ActorMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Actor-ID", "X-Actor-Name", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]interface{}{
			"status":   "healthy",
			"service":  "stock-service",
			"database": db.Health(r.Context()),
			"rabbitmq": rmq.Health(),
		})
	})

	// Prometheus metrics
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	// API routes
	r.Route("/api/v1/stock", func(r chi.Router) {
		r.Route("/products", func(r chi.Router) {
			r.Get("/", productHandler.List)
			r.Post("/", productHandler.Create)
			r.Get("/{id}", productHandler.Get)
			r.Get("/{id}/movements", movementHandler.History)
			r.Get("/{id}/batches", batchHandler.ListByProduct)
			r.Post("/{id}/batches", batchHandler.Receive)
			r.Post("/{id}/allocate", allocationHandler.Allocate)
		})

		r.Post("/movements", movementHandler.Record)
		r.Post("/batches/{batchID}/recall", batchHandler.Recall)

		r.Post("/validate", reconcileHandler.Validate)
		r.Post("/auto-correct", reconcileHandler.AutoCorrect)

		r.Route("/alerts", func(r chi.Router) {
			r.Get("/expiry", alertHandler.Expiry)
			r.Get("/low-stock", alertHandler.LowStock)
		})

		r.Get("/dashboard/stats", alertHandler.Dashboard)
	})

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Cancel context to stop background loops
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
