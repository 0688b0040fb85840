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

	"github.com/caravel-erp/caravel-erp/internal/app"
	"github.com/caravel-erp/caravel-erp/internal/delivery"
	"github.com/caravel-erp/caravel-erp/internal/integration"
	"github.com/caravel-erp/caravel-erp/internal/ledger"
	"github.com/caravel-erp/caravel-erp/internal/masterdata/items"
	"github.com/caravel-erp/caravel-erp/internal/masterdata/locations"
	"github.com/caravel-erp/caravel-erp/internal/orders"
	"github.com/caravel-erp/caravel-erp/internal/platform/cache"
	"github.com/caravel-erp/caravel-erp/internal/platform/db"
	"github.com/caravel-erp/caravel-erp/internal/procurement"
	"github.com/caravel-erp/caravel-erp/internal/sales"
	"github.com/caravel-erp/caravel-erp/internal/shared"
	"github.com/caravel-erp/caravel-erp/internal/stockcount"
	"github.com/caravel-erp/caravel-erp/internal/transfers"
	"github.com/caravel-erp/caravel-erp/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	balanceCacheClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, balance cache disabled", slog.Any("error", err))
	} else {
		defer func() {
			if err := balanceCacheClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)
	numbers := shared.NewSequenceAllocator(pool)
	balanceCache := ledger.NewBalanceCache(balanceCacheClient, cfg.BalanceCacheTTL)

	locationsRepo := locations.NewRepository(pool)
	locationsService := locations.NewService(locationsRepo)
	locationsHandler := locations.NewHandler(logger, locationsService)

	transit, err := locationsService.ResolveTransit(ctx, cfg.TransitLocationCode)
	if err != nil {
		logger.Error("resolve transit location", slog.String("code", cfg.TransitLocationCode), slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("transit location resolved", slog.Int64("id", transit.ID), slog.String("code", transit.Code))

	itemsRepo := items.NewRepository(pool)
	itemsService := items.NewService(itemsRepo)
	itemsHandler := items.NewHandler(logger, itemsService)

	ledgerRepo := ledger.NewRepository(pool)
	ledgerService := ledger.NewService(ledgerRepo, auditLogger, balanceCache)
	ledgerHandler := ledger.NewHandler(logger, ledgerService)

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	eventPublisher := integration.NewPublisher(jobClient, logger)

	transfersRepo := transfers.NewRepository(pool)
	transfersService := transfers.NewService(transfersRepo, locationsService, transit.ID, numbers, auditLogger, eventPublisher, balanceCache)
	transfersHandler := transfers.NewHandler(logger, transfersService)

	stockCountRepo := stockcount.NewRepository(pool)
	stockCountService := stockcount.NewService(stockCountRepo, itemsService, numbers, auditLogger, balanceCache)
	stockCountHandler := stockcount.NewHandler(logger, stockCountService)

	salesRepo := sales.NewRepository(pool)
	salesService := sales.NewService(salesRepo, numbers, auditLogger, idempotencyStore, balanceCache)
	salesHandler := sales.NewHandler(logger, salesService)

	procurementRepo := procurement.NewRepository(pool)
	procurementService := procurement.NewService(procurementRepo, numbers, auditLogger, idempotencyStore, balanceCache)
	procurementHandler := procurement.NewHandler(logger, procurementService)

	ordersRepo := orders.NewRepository(pool)
	ordersService := orders.NewService(ordersRepo, numbers, auditLogger)
	ordersHandler := orders.NewHandler(logger, ordersService)

	deliveryRepo := delivery.NewRepository(pool)
	deliveryService := delivery.NewService(deliveryRepo, salesService, ordersService, numbers, auditLogger)
	deliveryHandler := delivery.NewHandler(logger, deliveryService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Pool:               pool,
		LedgerHandler:      ledgerHandler,
		TransfersHandler:   transfersHandler,
		StockCountHandler:  stockCountHandler,
		SalesHandler:       salesHandler,
		ProcurementHandler: procurementHandler,
		DeliveryHandler:    deliveryHandler,
		OrdersHandler:      ordersHandler,
		LocationsHandler:   locationsHandler,
		ItemsHandler:       itemsHandler,
		JobsHandler:        jobsHandler,
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
