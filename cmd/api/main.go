package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kislikjeka/ledgerd/internal/infra/postgres"
	"github.com/kislikjeka/ledgerd/internal/infra/redis"
	"github.com/kislikjeka/ledgerd/internal/ledger/audit"
	"github.com/kislikjeka/ledgerd/internal/ledger/coordinator"
	"github.com/kislikjeka/ledgerd/internal/ledger/executor"
	ledgerPostgres "github.com/kislikjeka/ledgerd/internal/ledger/postgres"
	"github.com/kislikjeka/ledgerd/internal/platform/user"
	"github.com/kislikjeka/ledgerd/internal/transport/httpapi"
	"github.com/kislikjeka/ledgerd/internal/transport/httpapi/handler"
	"github.com/kislikjeka/ledgerd/internal/transport/httpapi/middleware"
	"github.com/kislikjeka/ledgerd/pkg/config"
	"github.com/kislikjeka/ledgerd/pkg/logger"
	redislib "github.com/redis/go-redis/v9"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewDefault(cfg.Env)
	log.Info("starting ledgerd API server", "env", cfg.Env, "port", cfg.Port)

	dbCfg := postgres.Config{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	}
	db, err := postgres.NewPool(ctx, dbCfg)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	log.Info("database connection established")

	ledgerStore := ledgerPostgres.New(db.Pool)
	if err := ledgerStore.EnsureSchema(ctx); err != nil {
		log.Error("failed to apply ledger schema", "error", err)
		os.Exit(1)
	}
	log.Info("ledger schema ensured")

	// The Redis advisory lock is optional: the Coordinator takes the same
	// database path whether or not it holds the lock, so a disabled or
	// unreachable Redis leaves the service's behavior unchanged.
	var idemLock *redis.IdempotencyLock
	if cfg.RedisEnabled {
		redisClient := redislib.NewClient(&redislib.Options{
			Addr:     cfg.RedisURL,
			Password: cfg.RedisPassword,
			DB:       0,
		})
		defer redisClient.Close()

		idemLock = redis.NewIdempotencyLock(redisClient, log)
		if err := idemLock.Health(ctx); err != nil {
			log.Warn("redis unavailable, running without advisory lock", "error", err)
			idemLock = nil
		} else {
			log.Info("redis advisory lock enabled")
		}
	}

	var coordLock coordinator.Lock
	if idemLock != nil {
		coordLock = idemLock
	}

	coord := coordinator.New(ledgerStore, coordLock, log).
		WithRetryPolicy(cfg.RetryMaxAttempts, cfg.RetryInitialBackoff)

	auditSink := audit.New(db.Pool, log)
	exec := executor.New(ledgerStore, coord, auditSink, log)

	userRepo := postgres.NewUserRepository(db.Pool)
	if err := userRepo.EnsureSchema(ctx); err != nil {
		log.Error("failed to apply account credentials schema", "error", err)
		os.Exit(1)
	}
	log.Info("account credentials schema ensured")

	userSvc := user.NewService(userRepo, ledgerStore, log)
	jwtSvc := middleware.NewJWTService(cfg.JWTSecret)

	authHandler := handler.NewAuthHandler(userSvc, jwtSvc)
	ledgerHandler := handler.NewLedgerHandler(exec)
	healthHandler := handler.NewHealthHandler(db)

	jwtMiddleware := middleware.JWTMiddleware(jwtSvc)

	allowedOrigins := []string{"http://localhost:5173"}
	if cfg.IsProduction() {
		if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
			allowedOrigins = []string{origins}
		}
	}

	routerCfg := httpapi.Config{
		Logger:         log,
		AllowedOrigins: allowedOrigins,
		AuthHandler:    authHandler,
		LedgerHandler:  ledgerHandler,
		HealthHandler:  healthHandler,
		JWTMiddleware:  jwtMiddleware,
	}
	r := httpapi.NewRouter(routerCfg)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped gracefully")
}
