package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/bodega-pos/bodega/internal/app"
	"github.com/bodega-pos/bodega/internal/auth"
	jobmetrics "github.com/bodega-pos/bodega/internal/jobs"
	"github.com/bodega-pos/bodega/internal/platform/cache"
	"github.com/bodega-pos/bodega/internal/platform/db"
	"github.com/bodega-pos/bodega/internal/shared"
	"github.com/bodega-pos/bodega/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

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
	authService := auth.NewService(auth.NewRepository(pool), sessionManager, logger)
	metrics := jobmetrics.NewMetrics(nil)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskSessionsPurge, Handler: jobs.NewSessionsPurgeHandler(authService, logger, metrics)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "45 3 * * *", Task: jobs.NewSessionsPurgeTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
