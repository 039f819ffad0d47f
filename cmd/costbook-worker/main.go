package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"costbook/internal/amqp"
	"costbook/internal/config"
	"costbook/internal/core"
	"costbook/internal/export"
	applog "costbook/internal/log"
	"costbook/internal/rates"
	"costbook/internal/report"
	"costbook/internal/storage"
	"costbook/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("failed to load configuration: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger := applog.WithComponent(applog.Setup(cfg.LogLevel), "worker")

	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}
	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the export worker")
		os.Exit(1)
	}

	logger.Info("Starting costbook-worker")

	store, err := storage.Open(cfg.SQLiteDBPath, nil)
	if err != nil {
		logger.Error("Failed to open ledger store", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer store.Close()

	provider := rates.NewProvider(store,
		rates.WithFallback(cfg.RatesFallback),
		rates.WithCacheTTL(cfg.RatesCacheTTL),
		rates.WithAttempts(cfg.RatesFetchAttempts),
	)
	engine := report.NewEngine(store, provider)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exporter, err := export.NewSheetsExporterFromEnv(ctx)
	if err != nil {
		logger.Error("Failed to initialize Sheets exporter", "error", err)
		os.Exit(1)
	}

	exportWorker := worker.NewExportWorker(engine, exporter, core.Currency(cfg.ExportCurrency))

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())
		cancel()
	}()

	logger.Info("Consuming cost events", "queue", cfg.AMQPQueue, "currency", cfg.ExportCurrency)
	err = amqp.ConsumeWithReconnect(ctx, cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue,
		exportWorker.HandleCostEvent)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Message consumption failed", "error", err)
		os.Exit(1)
	}

	logger.Info("Worker stopped gracefully")
}
