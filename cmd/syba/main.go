package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"syba/internal/config"
	"syba/internal/core"
	"syba/internal/deduction"
	"syba/internal/events"
	"syba/internal/payment"
	"syba/internal/rates"
	"syba/internal/storage"
	"syba/internal/vault"
)

func main() {
	// Load .env file for local development (ignore errors in production)
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	if len(os.Args) > 1 && os.Args[1] == "genkey" {
		key, err := vault.GenerateKey()
		if err != nil {
			logger.Error("Failed to generate key", "error", err)
			os.Exit(1)
		}
		fmt.Println(key)
		return
	}

	sealer, err := vault.NewSealer(cfg.VaultKey)
	if err != nil {
		logger.Error("Vault key unavailable, cannot reconcile deductions",
			"error", err,
			"hint", "set SYBA_VAULT_KEY (run 'syba genkey' to create one)")
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
		}
	}

	svc := deduction.NewService(deduction.Deps{
		Cards:    repo,
		Expenses: repo,
		Debts:    repo,
		Balances: repo,
		Ledger:   repo,
		Mutator:  repo,
		Markers:  storage.NewMarkerStore(repo, sealer),
		Events:   eventSink(eventsClient),
		Rates:    rates.Fixed{BtcKrw: cfg.BtcKrwRate},
	})

	ctx := context.Background()
	now := core.DateOf(time.Now())

	// Launch-time catch-up: apply whatever months came due since the
	// app last ran.
	result, err := svc.ProcessAll(ctx, now)
	if err != nil {
		logger.Error("Auto-deduction run failed", "error", err)
		os.Exit(1)
	}
	for _, w := range result.Warnings {
		logger.Warn("Balance clamped during deduction",
			"asset", w.AssetName,
			"requested_krw", w.Requested.Krw,
			"actual_krw", w.Actual.Krw)
	}
	for _, e := range result.Errors {
		logger.Error("Deduction error", "detail", e)
	}

	if err := printDueReport(ctx, repo, now, cfg.BtcKrwRate); err != nil {
		logger.Error("Failed to build payment report", "error", err)
		os.Exit(1)
	}
}

// eventSink keeps the typed-nil pitfall out of the Deps wiring: a nil
// *events.Client must become a nil interface.
func eventSink(c *events.Client) deduction.EventSink {
	if c == nil {
		return nil
	}
	return c
}

func printDueReport(ctx context.Context, repo *storage.SQLiteRepository, now core.Date, btcKrwRate int64) error {
	cards, err := repo.ListCards(ctx)
	if err != nil {
		return err
	}
	expenses, err := repo.ListExpenses(ctx)
	if err != nil {
		return err
	}
	installments, err := repo.ListActiveInstallments(ctx)
	if err != nil {
		return err
	}

	summaries, err := payment.ComputeAllCardPayments(ctx, cards, expenses, installments, now, btcKrwRate)
	if err != nil {
		return err
	}

	if len(summaries) == 0 {
		fmt.Println("No card payments due.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CARD\tDUE IN\tTHIS PAYMENT\tSATS\tUPCOMING")
	for _, s := range summaries {
		fmt.Fprintf(w, "%s\t%dd\t%s\t%d\t%s\n",
			s.CardName,
			s.DaysUntilPayment,
			s.Current.Total,
			s.Current.TotalSats,
			s.Next.Total)
	}
	return w.Flush()
}
