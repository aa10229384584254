// Package worker mirrors completed settlement runs to the external ledger.
package worker

import (
	"context"
	"fmt"
	"log/slog"

	"commenergy/internal/amqp"
	"commenergy/internal/core"
	"commenergy/internal/sheets"
	"commenergy/internal/storage"
)

// SettlementWorker consumes settlement sync messages and appends the runs to
// the Google Sheets ledger, marking each run synced or errored in storage.
type SettlementWorker struct {
	storage   *storage.SQLiteRepository
	ledger    sheets.SettlementAppender
	batchSize int
}

func NewSettlementWorker(storage *storage.SQLiteRepository, ledger sheets.SettlementAppender, batchSize int) *SettlementWorker {
	return &SettlementWorker{
		storage:   storage,
		ledger:    ledger,
		batchSize: batchSize,
	}
}

// HandleSyncMessage processes a single settlement sync message from AMQP.
func (w *SettlementWorker) HandleSyncMessage(ctx context.Context, msg *amqp.SettlementSyncMessage) error {
	slog.InfoContext(ctx, "Processing settlement sync message", "run_id", msg.RunID)

	run, err := w.storage.GetSettlementRun(ctx, msg.RunID)
	if err != nil {
		return fmt.Errorf("get settlement run from storage: %w", err)
	}

	if run.SyncStatus == core.SyncDone {
		slog.InfoContext(ctx, "Settlement run already synced, skipping", "run_id", run.ID)
		return nil
	}

	return w.syncRun(ctx, run)
}

// ProcessPendingRuns mirrors any runs that have not been synced yet. This is
// the backup mechanism for lost AMQP messages.
func (w *SettlementWorker) ProcessPendingRuns(ctx context.Context) error {
	ids, err := w.storage.GetPendingSyncRuns(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("get pending runs: %w", err)
	}

	if len(ids) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "Processing pending settlement runs", "count", len(ids))

	for _, id := range ids {
		run, err := w.storage.GetSettlementRun(ctx, id)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to load settlement run", "run_id", id, "error", err)
			continue
		}
		if err := w.syncRun(ctx, run); err != nil {
			slog.ErrorContext(ctx, "Failed to sync settlement run", "run_id", id, "error", err)
			continue
		}
	}

	return nil
}

// StartupSyncCheck processes a larger pending batch once at worker startup,
// recovering from missed messages or worker downtime.
func (w *SettlementWorker) StartupSyncCheck(ctx context.Context) error {
	ids, err := w.storage.GetPendingSyncRuns(ctx, w.batchSize*5)
	if err != nil {
		return fmt.Errorf("get pending runs for startup check: %w", err)
	}

	if len(ids) == 0 {
		slog.InfoContext(ctx, "No pending settlement runs found on startup")
		return nil
	}

	slog.InfoContext(ctx, "Found pending settlement runs on startup, processing...",
		"count", len(ids))

	successCount := 0
	errorCount := 0
	for _, id := range ids {
		run, err := w.storage.GetSettlementRun(ctx, id)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to load settlement run", "run_id", id, "error", err)
			errorCount++
			continue
		}
		if err := w.syncRun(ctx, run); err != nil {
			slog.ErrorContext(ctx, "Failed to sync settlement run during startup",
				"run_id", id, "error", err)
			errorCount++
			continue
		}
		successCount++
	}

	slog.InfoContext(ctx, "Startup sync completed",
		"total", len(ids),
		"synced", successCount,
		"errors", errorCount)

	return nil
}

func (w *SettlementWorker) syncRun(ctx context.Context, run core.SettlementRun) error {
	if err := w.ledger.AppendRun(ctx, run); err != nil {
		if markErr := w.storage.MarkRunSyncError(ctx, run.ID); markErr != nil {
			slog.ErrorContext(ctx, "Failed to mark run sync error", "run_id", run.ID, "error", markErr)
		}
		return fmt.Errorf("append run to ledger: %w", err)
	}

	if err := w.storage.MarkRunSynced(ctx, run.ID); err != nil {
		// The mirror actually worked; keep going and let the periodic
		// scan retry the status update.
		slog.ErrorContext(ctx, "Failed to mark run as synced", "run_id", run.ID, "error", err)
	}

	slog.InfoContext(ctx, "Settlement run synced",
		"run_id", run.ID,
		"filename", run.Filename,
		"members", run.MemberCount,
		"grand_total_cents", run.GrandTotal.Cents)

	return nil
}
