package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campusevents/registration-service/internal/audit"
	"github.com/campusevents/registration-service/internal/config"
	"github.com/campusevents/registration-service/internal/domain"
	"github.com/campusevents/registration-service/internal/infrastructure/objstore"
	"github.com/campusevents/registration-service/internal/infrastructure/payment"
	"github.com/campusevents/registration-service/internal/infrastructure/postgres"
	"github.com/campusevents/registration-service/internal/infrastructure/rabbitmq"
	"github.com/campusevents/registration-service/internal/infrastructure/redis"
	"github.com/campusevents/registration-service/internal/metrics"
	"github.com/campusevents/registration-service/internal/pkg/logger"
	"github.com/campusevents/registration-service/internal/security"
	"github.com/campusevents/registration-service/internal/service"
	"github.com/campusevents/registration-service/internal/transport/rest"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	if cfg.LogLevel != "" {
		_ = os.Setenv("LOG_LEVEL", cfg.LogLevel)
	}

	logger.Init()
	log := logger.Logger.With().
		Str("service", "registration-service").
		Str("env", cfg.AppEnv).
		Logger()

	// Root ctx with signal cancellation
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Postgres ----
	dbPool, err := pgxpool.New(rootCtx, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres pool create failed")
	}
	defer dbPool.Close()

	{
		pingCtx, cancel := context.WithTimeout(rootCtx, 5*time.Second)
		defer cancel()

		if err := dbPool.Ping(pingCtx); err != nil {
			log.Fatal().Err(err).Msg("postgres ping failed")
		}
		log.Info().Msg("postgres connected")
		metrics.SetDependencyHealth("postgres", true)
	}

	store := postgres.New(dbPool)

	// ---- Redis ----
	cache := redis.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB, cfg.CacheEventTTL)

	{
		pingCtx, cancel := context.WithTimeout(rootCtx, 2*time.Second)
		defer cancel()

		// Best-effort: the cache fails open, so the service runs without it.
		if err := cache.Client.Ping(pingCtx).Err(); err != nil {
			log.Warn().Err(err).Msg("redis ping failed (continuing)")
			metrics.SetDependencyHealth("redis", false)
		} else {
			log.Info().Msg("redis connected")
			metrics.SetDependencyHealth("redis", true)
		}
	}

	// ---- Payment provider ----
	var provider domain.PaymentProvider
	switch cfg.PaymentProvider {
	case "midtrans":
		provider = payment.NewMidtrans(cfg.MidtransServerKey, cfg.MidtransProduction)
		log.Info().Bool("production", cfg.MidtransProduction).Msg("midtrans payment provider configured")
	default:
		provider = payment.Noop{}
		log.Info().Msg("payments disabled (noop provider)")
	}

	// ---- Bulk report archive ----
	var archiver domain.ReportArchiver
	if cfg.ArchiveEnabled {
		a, err := objstore.New(rootCtx, objstore.Options{
			Bucket:          cfg.ArchiveBucket,
			Region:          cfg.AWSRegion,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			ForcePathStyle:  cfg.S3ForcePathStyle,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("archive store setup failed")
		}
		if err := a.EnsureBucket(rootCtx); err != nil {
			log.Warn().Err(err).Str("bucket", cfg.ArchiveBucket).Msg("archive bucket check failed (continuing)")
		}
		archiver = a
		log.Info().Str("bucket", cfg.ArchiveBucket).Msg("bulk report archiving enabled")
	}

	// ---- Application services ----
	auditLog := audit.New(log)
	limits := domain.BulkLimits{
		MaxBatch:          cfg.BulkMaxBatch,
		ApprovalThreshold: cfg.BulkApprovalThreshold,
		Cooldown:          cfg.BulkCooldown,
		DailyMax:          cfg.BulkDailyMax,
		RequestTTL:        cfg.BulkRequestTTL,
	}

	regs := service.NewRegistrationService(store, cache, provider, auditLog)
	bulk := service.NewBulkService(store, archiver, auditLog, limits)
	approvals := service.NewApprovalService(store, bulk, auditLog)
	h := rest.NewHandler(regs, bulk, approvals)

	// ---- JWT verifier ----
	verifier := security.NewHS256Verifier(cfg.JWTSecret)

	// ---- Router ----
	httpHandler := rest.NewRouter(rest.RouterDeps{
		Handler:   h,
		Cache:     cache,
		Verifier:  verifier,
		JWTIssuer: cfg.JWTIssuer,
		RLEnabled: cfg.RLEnabled,
		RLLimit:   cfg.RLLimit,
		RLWindow:  cfg.RLWindow,
	})

	// ---- Outbox worker (outbound registration.* events) ----
	if cfg.OutboxEnabled {
		publisher := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitExchange)
		store.StartOutboxWorker(rootCtx, publisher)
		store.StartOutboxRetention(rootCtx)
		log.Info().Str("exchange", cfg.RabbitExchange).Msg("outbox worker started")
	}

	// ---- HTTP server ----
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Port).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("http server crashed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info().Msg("shutdown complete")
}
