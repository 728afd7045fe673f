package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/bodega-pos/bodega/internal/app"
	"github.com/bodega-pos/bodega/internal/auth"
	"github.com/bodega-pos/bodega/internal/authz"
	"github.com/bodega-pos/bodega/internal/observability"
	"github.com/bodega-pos/bodega/internal/platform/cache"
	"github.com/bodega-pos/bodega/internal/platform/db"
	"github.com/bodega-pos/bodega/internal/products"
	"github.com/bodega-pos/bodega/internal/rbac"
	"github.com/bodega-pos/bodega/internal/shared"
	"github.com/bodega-pos/bodega/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "bodega_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	metrics := observability.NewMetrics()

	authzCfg := authz.Config{
		AdminRoleKey:   cfg.AdminRoleKey,
		ProtectedCodes: shared.ProtectedAdminPermissions(),
		CacheTTL:       cfg.AuthzCacheTTL,
	}
	decisionCache := authz.NewDecisionCache(authzCfg.CacheTTL, nil)
	authzRepo := authz.NewRepository(dbpool)
	authzService := authz.NewService(authzRepo, decisionCache, logger, metrics)
	authzMiddleware := authz.Middleware{Service: authzService, Logger: logger}

	authRepo := auth.NewRepository(dbpool)
	authService := auth.NewService(authRepo, sessionManager, logger)
	authHandler := auth.NewHandler(logger, authService, sessionManager, csrfManager)

	auditLogger := shared.NewAuditLogger(dbpool)

	rbacRepo := rbac.NewRepository(dbpool)
	rbacService := rbac.NewService(rbacRepo, authzCfg, authService, auditLogger, logger)
	configHandler := rbac.NewHandler(logger, rbacService, authzMiddleware)

	productsRepo := products.NewRepository(dbpool)
	productsService := products.NewService(productsRepo, logger)
	productsHandler := products.NewHandler(logger, productsService, authzMiddleware)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()
	jobsGate := authzMiddleware.RequirePolicy(authz.PolicyFor(shared.PermConfigVer))
	jobsHandler := jobs.NewHandler(inspector, jobsClient, jobsGate, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		SessionManager:  sessionManager,
		CSRFManager:     csrfManager,
		Stamps:          authService,
		AuthHandler:     authHandler,
		ConfigHandler:   configHandler,
		ProductsHandler: productsHandler,
		JobsHandler:     jobsHandler,
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
