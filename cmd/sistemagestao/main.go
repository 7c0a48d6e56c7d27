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
	"github.com/redis/go-redis/v9"

	"github.com/sistemagestao/sistemagestao/internal/app"
	"github.com/sistemagestao/sistemagestao/internal/inventory"
	"github.com/sistemagestao/sistemagestao/internal/observability"
	"github.com/sistemagestao/sistemagestao/internal/platform/cache"
	"github.com/sistemagestao/sistemagestao/internal/platform/db"
	"github.com/sistemagestao/sistemagestao/internal/production"
	"github.com/sistemagestao/sistemagestao/internal/recipes"
	"github.com/sistemagestao/sistemagestao/internal/shared"
	"github.com/sistemagestao/sistemagestao/jobs"
	"github.com/sistemagestao/sistemagestao/migrations"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN, 0)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	if cfg.MigrateOnStart {
		if err := db.Migrate(ctx, dbpool, migrations.FS, logger); err != nil {
			logger.Error("migrate", slog.Any("error", err))
			os.Exit(1)
		}
	}

	var locker shared.Locker = shared.NewKeyedMutex()
	var redisClient *redis.Client
	if cfg.LockBackend == app.LockBackendRedis {
		redisClient, err = cache.New(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Error("connect redis", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		locker = cache.NewLocker(redisClient, cache.LockerConfig{TTL: cfg.LockTTL, Wait: cfg.LockWait})
	}
	logger.Info("stock locks configured", slog.String("backend", cfg.LockBackend))

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	inventoryRepo := inventory.NewRepository(dbpool)
	inventoryService := inventory.NewService(inventoryRepo, locker, auditLogger, logger)
	inventoryHandler := inventory.NewHandler(logger, inventoryService)

	recipeRepo := recipes.NewRepository(dbpool)
	productionService := production.NewService(production.Deps{
		Repo:        production.NewRepository(dbpool),
		Recipes:     recipes.NewResolver(recipeRepo, logger),
		Products:    recipeRepo,
		Locker:      locker,
		Audit:       auditLogger,
		Idempotency: idempotencyStore,
		Integration: jobClient,
		Metrics:     metrics,
		Logger:      logger,
	})
	productionHandler := production.NewHandler(logger, productionService)

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		InventoryHandler:  inventoryHandler,
		ProductionHandler: productionHandler,
		JobHandler:        jobHandler,
		Metrics:           metrics,
		Ready: func(r *http.Request) error {
			if err := dbpool.Ping(r.Context()); err != nil {
				return err
			}
			if redisClient != nil {
				return redisClient.Ping(r.Context()).Err()
			}
			return nil
		},
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
