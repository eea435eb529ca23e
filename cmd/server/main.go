package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"stockledger-backend/internal/config"
	"stockledger-backend/internal/db"
	"stockledger-backend/internal/events"
	"stockledger-backend/internal/handler"
	"stockledger-backend/internal/observability"
	"stockledger-backend/internal/repository"
	"stockledger-backend/internal/server"
	"stockledger-backend/internal/service"
	"stockledger-backend/internal/store"
	"stockledger-backend/internal/store/memory"
)

func main() {
	bootLogger := zap.NewExample()

	cfg, err := config.Load()
	if err != nil {
		bootLogger.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		bootLogger.Fatal("failed to build logger", zap.Error(err))
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.Tracing)
	if err != nil {
		logger.Fatal("failed to set up tracing", zap.Error(err))
	}

	// storage
	var st store.Store
	if cfg.DatabaseURL != "" {
		pg, err := db.New(ctx, cfg)
		if err != nil {
			logger.Fatal("failed to connect database", zap.Error(err))
		}
		defer pg.Close()
		if cfg.AutoMigrate {
			if err := pg.Migrate(ctx); err != nil {
				logger.Fatal("failed to migrate database", zap.Error(err))
			}
		}
		repo := repository.Store{DB: pg}
		if cfg.SeedCatalog {
			if err := repo.SeedCatalog(ctx); err != nil {
				logger.Fatal("failed to seed catalog", zap.Error(err))
			}
		}
		st = repo
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory store with demo catalog")
		st = memory.NewSeeded()
	}

	// notifications
	var sink events.Sink = events.LogSink{Logger: logger}
	if len(cfg.Kafka.Brokers) > 0 {
		sink = events.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.BatchTimeout)
	}
	dispatcher := events.NewDispatcher(sink, cfg.Outbox.Buffer, logger.Named("outbox"))

	// services
	outlets := service.OutletResolver{DefaultName: cfg.DefaultOutletName}
	ledgerSvc := service.LedgerService{Store: st, Outlets: outlets, Events: dispatcher, Logger: logger.Named("ledger")}
	orderSvc := service.OrderService{Store: st, Outlets: outlets, Events: dispatcher, Logger: logger.Named("orders")}
	catalogSvc := service.CatalogService{Store: st}
	skuSvc := service.SkuService{Store: st}
	webhookSvc := service.WebhookService{Store: st, Outlets: outlets, Events: dispatcher, Logger: logger.Named("webhooks")}
	importSvc := service.CsvImportService{Store: st, Outlets: outlets, Events: dispatcher, Logger: logger.Named("imports")}

	if o, err := ledgerSvc.EnsureDefaultOutlet(ctx); err != nil {
		logger.Fatal("failed to ensure default outlet", zap.Error(err))
	} else {
		logger.Info("default outlet ready", zap.String("outletId", o.ID), zap.String("name", o.Name))
	}

	router := server.NewRouter(cfg, logger, server.Handlers{
		Health:       handler.HealthHandler{DB: st},
		Docs:         handler.DocsHandler{},
		Stock:        handler.StockHandler{Ledger: ledgerSvc},
		Orders:       handler.OrderHandler{Orders: orderSvc},
		Catalog:      handler.CatalogHandler{Catalog: catalogSvc},
		SkuMappings:  handler.SkuMappingHandler{Skus: skuSvc},
		Webhooks:     handler.WebhookHandler{Service: webhookSvc, Secret: cfg.WebhookSecret, AllowUnsigned: !cfg.IsProduction()},
		WebhookAdmin: handler.WebhookAdminHandler{Service: webhookSvc},
		Imports:      handler.ImportHandler{Imports: importSvc},
	})

	serveErr := server.Start(ctx, cfg, router, logger)

	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := dispatcher.Close(flushCtx); err != nil {
		logger.Error("outbox close", zap.Error(err))
	}
	if err := shutdownTracing(flushCtx); err != nil {
		logger.Error("tracing shutdown", zap.Error(err))
	}
	if serveErr != nil {
		logger.Error("server error", zap.Error(serveErr))
		os.Exit(1)
	}
}
