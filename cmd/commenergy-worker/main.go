package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"commenergy/internal/amqp"
	"commenergy/internal/config"
	"commenergy/internal/services"
	gsheet "commenergy/internal/sheets/google"
	"commenergy/internal/storage"
	"commenergy/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	// Setup structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting commenergy-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Google Sheets ledger mirror is optional.
	var settlementWorker *worker.SettlementWorker
	if cfg.GoogleSpreadsheetID != "" {
		sheetsClient, err := gsheet.NewFromEnv(ctx)
		if err != nil {
			logger.Error("Failed to initialize Google Sheets client", "error", err)
			os.Exit(1)
		}
		settlementWorker = worker.NewSettlementWorker(repo, sheetsClient, cfg.SyncBatchSize)
		logger.Info("Google Sheets client initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		logger.Info("Google Sheets disabled - no GOOGLE_SPREADSHEET_ID provided")
	}

	var amqpClient *amqp.Client
	if settlementWorker != nil {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("AMQP unavailable, relying on periodic scan only", "error", err)
		} else {
			defer amqpClient.Close()
		}
	}

	if settlementWorker != nil {
		// On startup, mirror any runs whose message was missed.
		logger.Info("Performing startup sync check...")
		if err := settlementWorker.StartupSyncCheck(ctx); err != nil {
			logger.Error("Failed startup sync check", "error", err)
			// Don't exit - continue with normal operation
		}
	}

	overdue := services.NewOverdueProcessor(repo)

	g, gctx := errgroup.WithContext(ctx)

	if settlementWorker != nil && amqpClient != nil {
		g.Go(func() error {
			err := amqpClient.ConsumeSettlementSync(gctx, func(msg *amqp.SettlementSyncMessage) error {
				return settlementWorker.HandleSyncMessage(gctx, msg)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	if settlementWorker != nil {
		g.Go(func() error {
			ticker := time.NewTicker(cfg.SyncInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					if err := settlementWorker.ProcessPendingRuns(gctx); err != nil {
						logger.Error("Periodic settlement sync failed", "error", err)
					}
				}
			}
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				n, err := overdue.Sweep(gctx)
				if err != nil {
					logger.Error("Overdue payment sweep failed", "error", err)
					continue
				}
				if n > 0 {
					logger.Info("Overdue payment sweep completed", "marked", n)
				}
			}
		}
	})

	if err := g.Wait(); err != nil {
		logger.Error("Worker stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Worker shutdown complete")
}
