package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/nats-io/nats.go"

	"github.com/pesio-ai/be-plt-approvals/internal/client"
	"github.com/pesio-ai/be-plt-approvals/internal/handler"
	"github.com/pesio-ai/be-plt-approvals/internal/platform/config"
	"github.com/pesio-ai/be-plt-approvals/internal/platform/database"
	"github.com/pesio-ai/be-plt-approvals/internal/platform/logger"
	"github.com/pesio-ai/be-plt-approvals/internal/platform/middleware"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
	"github.com/pesio-ai/be-plt-approvals/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       os.Getenv("LOG_LEVEL"),
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting Approvals Service (PLT-6)")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize workflow and audit stores
	var (
		workflowStore repository.WorkflowStore
		auditStore    repository.AuditStore
	)
	switch cfg.StoreBackend {
	case "memory":
		workflowStore = repository.NewMemoryWorkflowStore()
		auditStore = repository.NewMemoryAuditStore()
		log.Warn().Msg("Using in-memory stores; workflows will not survive a restart")
	default:
		db, err := database.New(ctx, database.Config{
			Host:        cfg.Database.Host,
			Port:        cfg.Database.Port,
			User:        cfg.Database.User,
			Password:    cfg.Database.Password,
			Database:    cfg.Database.Database,
			SSLMode:     cfg.Database.SSLMode,
			MaxConns:    cfg.Database.MaxConns,
			MinConns:    cfg.Database.MinConns,
			MaxConnTime: cfg.Database.MaxConnTime,
			MaxIdleTime: cfg.Database.MaxIdleTime,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer db.Close()
		log.Info().Msg("Database connection established")

		pgStore := repository.NewPostgresWorkflowStore(db)
		if err := pgStore.EnsureSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to ensure database schema")
		}
		workflowStore = pgStore
		auditStore = repository.NewPostgresAuditStore(db)
	}

	// Initialize template registry
	registry, err := service.NewTemplateRegistry(service.DefaultCatalog())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build template registry")
	}
	evaluator := service.NewFirstMatchEvaluator(registry)

	// Initialize notification publisher (optional)
	var notifier service.Notifier
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL,
			nats.ReconnectWait(2*time.Second),
			nats.MaxReconnects(-1),
		)
		if err != nil {
			log.Fatal().Err(err).Str("url", cfg.NATSURL).Msg("Failed to connect to NATS")
		}
		defer nc.Close()

		publisher, err := client.NewNotificationPublisher(nc, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize notification publisher")
		}
		notifier = publisher
		log.Info().Str("url", cfg.NATSURL).Msg("Notification publisher initialized")
	} else {
		log.Warn().Msg("NATS_URL not set; approval notifications disabled")
	}

	// Initialize identity client (optional)
	var identity service.IdentityClientInterface
	if cfg.IdentityURL != "" {
		identity = client.NewIdentityClient(cfg.IdentityURL)
		log.Info().Str("url", cfg.IdentityURL).Msg("Identity client initialized")
	}

	// Initialize the approved-action executor
	journalsClient := client.NewJournalsClient(cfg.JournalsURL)
	executor := client.NewApprovedActionExecutor(journalsClient, log.Logger)

	// Initialize the workflow engine
	effects := service.NewEffectDispatcher(log)
	engine := service.NewWorkflowEngine(
		workflowStore,
		auditStore,
		registry,
		notifier,
		executor,
		identity,
		effects,
		log,
	)

	// Setup HTTP routes
	router := mux.NewRouter()

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)

	api := router.NewRoute().Subrouter()
	api.Use(middleware.Auth(cfg.JWTSecret, &log.Logger))
	handler.NewHTTPHandler(engine, registry, evaluator, log).Register(api)

	// Apply middleware
	var h http.Handler = router
	h = middleware.RequestID(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.CORS([]string{"*"})(h)
	h = middleware.Timeout(30 * time.Second)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Drain queued side effects before exiting
	effects.Close()

	log.Info().Msg("Server stopped")
}
