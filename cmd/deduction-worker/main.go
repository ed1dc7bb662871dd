package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"syba/internal/config"
	"syba/internal/core"
	"syba/internal/deduction"
	"syba/internal/events"
	"syba/internal/rates"
	"syba/internal/storage"
	"syba/internal/vault"
)

func main() {
	// Load .env file for local development (ignore errors in production)
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting deduction-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	sealer, err := vault.NewSealer(cfg.VaultKey)
	if err != nil {
		logger.Error("Vault key unavailable", "error", err)
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	var eventsClient *events.Client
	if cfg.AMQPURL != "" {
		eventsClient, err = events.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without event publishing", "error", err)
			eventsClient = nil
		} else {
			defer eventsClient.Close()
			logger.Info("AMQP client initialized - deduction events will be published")
		}
	} else {
		logger.Info("AMQP disabled - deduction events will not be published")
	}

	var sink deduction.EventSink
	if eventsClient != nil {
		sink = eventsClient
	}

	svc := deduction.NewService(deduction.Deps{
		Cards:    repo,
		Expenses: repo,
		Debts:    repo,
		Balances: repo,
		Ledger:   repo,
		Mutator:  repo,
		Markers:  storage.NewMarkerStore(repo, sealer),
		Events:   sink,
		Rates:    rates.Fixed{BtcKrw: cfg.BtcKrwRate},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("Deduction worker configured",
		"interval", cfg.DeductionInterval,
		"sqlite_db", cfg.SQLiteDBPath)

	ticker := time.NewTicker(cfg.DeductionInterval)
	defer ticker.Stop()

	// Run initial reconciliation on startup
	runOnce(ctx, svc, logger)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				runOnce(ctx, svc, logger)
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("Shutdown signal received", "signal", sig.String())
	cancel()
	logger.Info("Deduction-worker shutdown complete")
}

func runOnce(ctx context.Context, svc *deduction.Service, logger *slog.Logger) {
	now := core.DateOf(time.Now())
	result, err := svc.ProcessAll(ctx, now)
	if err != nil {
		logger.Error("Reconciliation run failed", "error", err)
		return
	}
	logger.Info("Reconciliation run complete",
		"cards", result.CardsProcessed,
		"loans", result.LoansProcessed,
		"installments", result.InstallmentsProcessed,
		"warnings", len(result.Warnings),
		"errors", len(result.Errors))
}
