package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/paywatch/payhook-backend/api/routes"
	"github.com/paywatch/payhook-backend/internal/banks"
	"github.com/paywatch/payhook-backend/internal/cache"
	"github.com/paywatch/payhook-backend/internal/ledger"
	"github.com/paywatch/payhook-backend/internal/merchants"
	"github.com/paywatch/payhook-backend/internal/orders"
	"github.com/paywatch/payhook-backend/internal/portal"
	"github.com/paywatch/payhook-backend/internal/recon"
	"github.com/paywatch/payhook-backend/internal/reference"
	"github.com/paywatch/payhook-backend/internal/resilience"
	"github.com/paywatch/payhook-backend/pkg/config"
	"github.com/paywatch/payhook-backend/pkg/db"
	"github.com/paywatch/payhook-backend/pkg/db/models"
	"github.com/paywatch/payhook-backend/pkg/instance"
	"github.com/paywatch/payhook-backend/pkg/logger"
	"github.com/paywatch/payhook-backend/pkg/metrics"
	"github.com/paywatch/payhook-backend/pkg/migrate"
	"github.com/paywatch/payhook-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	bankService, err := banks.NewService(banks.ServiceParams{
		Repo: banks.NewRepository(dbClient.DB()),
		Cache: cache.New[models.BankAccount](cache.Options{
			TTL:        cfg.Cache.BankTTL,
			MaxEntries: cfg.Cache.MaxEntries,
			Disabled:   cfg.Cache.Disabled,
		}),
		RetryAttempts: cfg.Recon.BalanceRetryAttempts,
		RetryDelay:    cfg.Recon.BalanceRetryDelay,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create bank service", err)
		os.Exit(1)
	}

	merchantService, err := merchants.NewService(merchants.ServiceParams{
		Repo:          merchants.NewRepository(dbClient.DB()),
		RetryAttempts: cfg.Recon.BalanceRetryAttempts,
		RetryDelay:    cfg.Recon.BalanceRetryDelay,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create merchant service", err)
		os.Exit(1)
	}

	ledgerService, err := ledger.NewService(ledger.ServiceParams{
		Repo: ledger.NewRepository(dbClient.DB()),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	orderService, err := orders.NewService(orders.ServiceParams{
		Repo: orders.NewRepository(dbClient.DB()),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create order service", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	reconMetrics := metrics.NewReconMetrics(registry)

	extractor := reference.New(cfg.Portals.OrderPrefix, cache.New[string](cache.Options{
		TTL:        cfg.Cache.ReferenceTTL,
		MaxEntries: cfg.Cache.MaxEntries,
		Disabled:   cfg.Cache.Disabled,
	}))

	breakers := resilience.NewRegistry(cfg.Resilience)
	exportCtx, stopExport := context.WithCancel(context.Background())
	defer stopExport()
	go breakers.ExportStates(exportCtx, 15*time.Second, reconMetrics)

	engine, err := recon.NewEngine(recon.EngineParams{
		Ledger:       ledgerService,
		Banks:        bankService,
		Merchants:    merchantService,
		Orders:       orderService,
		Extractor:    extractor,
		Duplicates:   redisClient,
		Breakers:     breakers,
		Metrics:      reconMetrics,
		Logger:       logg,
		Recon:        cfg.Recon,
		Resilience:   cfg.Resilience,
		DuplicateTTL: cfg.Cache.DuplicateTTL,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reconciliation engine", err)
		os.Exit(1)
	}

	scheduler, err := recon.NewScheduler(recon.SchedulerParams{
		Engine:  engine,
		Config:  cfg.Batch,
		Metrics: reconMetrics,
		Logger:  logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create batch scheduler", err)
		os.Exit(1)
	}

	adapters := portal.NewRegistry(cfg.Portals)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: routes.NewRouter(cfg, logg, dbClient, redisClient, redisClient, adapters, scheduler, orderService, ledgerService, registry),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case sig := <-stop:
		logg.Info(logg.WithField(ctx, "signal", sig.String()), "shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "server shutdown failed", err)
		}

		// in-flight deliveries already got their 200; wait for their
		// ledger statuses to land before the process exits
		engine.Drain()
	}
}
