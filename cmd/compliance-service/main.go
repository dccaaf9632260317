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

	"github.com/fisioflow/fisioflow-backend/internal/compliance/consumers"
	"github.com/fisioflow/fisioflow-backend/internal/compliance/domain"
	"github.com/fisioflow/fisioflow-backend/internal/compliance/handler"
	"github.com/fisioflow/fisioflow-backend/internal/compliance/repository"
	"github.com/fisioflow/fisioflow-backend/internal/compliance/service"
	"github.com/fisioflow/fisioflow-backend/internal/idempotency"
	"github.com/fisioflow/fisioflow-backend/internal/identity"
	"github.com/fisioflow/fisioflow-backend/pkg/authtoken"
	"github.com/fisioflow/fisioflow-backend/pkg/blob"
	"github.com/fisioflow/fisioflow-backend/pkg/config"
	"github.com/fisioflow/fisioflow-backend/pkg/database"
	"github.com/fisioflow/fisioflow-backend/pkg/httputil"
	"github.com/fisioflow/fisioflow-backend/pkg/i18n"
	"github.com/fisioflow/fisioflow-backend/pkg/logger"
	"github.com/fisioflow/fisioflow-backend/pkg/messaging"
)

func main() {
	// Load configuration with validation (fails fast in production if required config is missing)
	cfg, err := config.LoadWithValidation("compliance-service")
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New("compliance-service", cfg.Server.Environment)
	log.Info().Msg("starting Compliance Service")

	// A malformed retention schedule must never reach the erasure engine
	if err := domain.ValidateSchedule(domain.RetentionSchedule()); err != nil {
		log.Fatal().Err(err).Msg("invalid retention schedule")
	}

	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	rmq, err := messaging.New(&cfg.RabbitMQ, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	defer rmq.Close()

	// Rejected messages need somewhere to land before any queue
	// references the DLX.
	if err := rmq.DeclareDeadLetterQueue("compliance-service"); err != nil {
		log.Fatal().Err(err).Msg("failed to declare dead letter queue")
	}

	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeComplianceEvents, "compliance-service", log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create event publisher")
	}

	blobs, err := blob.NewStore(cfg.Storage.Root)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open blob store")
	}

	// Repositories
	requestRepo := repository.NewRequestRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	erasureRepo := repository.NewErasureRepository(db)
	userCacheRepo := repository.NewUserCacheRepository(db)

	// Services
	identityStore := identity.NewStore(db, log)
	deletionService := service.NewDeletionService(
		db, requestRepo, auditRepo, erasureRepo, userCacheRepo,
		identityStore, blobs, publisher, &cfg.Retention, log,
	)

	idemStore := idempotency.NewStore(db, log)
	guard := idempotency.NewGuard(idemStore, log, cfg.Retention.CacheTTL, cfg.Retention.LockTimeout)
	scheduler := service.NewRetentionScheduler(deletionService, guard, idemStore, db, cfg.Retention.SchedulerInterval, log)

	// Handlers
	deletionHandler := handler.NewDeletionHandler(deletionService, auditRepo, log)

	// User event consumer keeps the local user cache in sync
	userConsumer, err := consumers.NewUserEventConsumer(rmq, db, userCacheRepo, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create user event consumer")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := userConsumer.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start user event consumer")
	}

	scheduler.Start(ctx)
	defer scheduler.Stop()

	tokens := authtoken.NewManager(&cfg.JWT)

	// Router
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(i18n.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*.fisioflow.com.br", "http://localhost:*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Accept-Language", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]interface{}{
			"status":   "healthy",
			"service":  "compliance-service",
			"database": db.Health(r.Context()),
			"rabbitmq": rmq.Health(),
		})
	})

	r.Route("/api/v1/compliance", func(r chi.Router) {
		r.Use(httputil.Auth(tokens))
		deletionHandler.Routes(r)
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Cancel context to stop the consumer and the scheduler
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
