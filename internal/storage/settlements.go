package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"commenergy/internal/core"
)

// CreateSettlementRunTx records a run and its per-member lines inside the
// billing transaction, so the run bookkeeping commits or rolls back together
// with the close step.
func (r *SQLiteRepository) CreateSettlementRunTx(ctx context.Context, tx *sql.Tx, run core.SettlementRun) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO settlement_runs (filename, generated_at, grand_total_cents, member_count, sync_status)
		 VALUES (?, ?, ?, ?, ?)`,
		run.Filename, run.GeneratedAt.UTC(), run.GrandTotal.Cents, run.MemberCount, string(core.SyncPending))
	if err != nil {
		return 0, fmt.Errorf("create settlement run: %w", err)
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("settlement run insert id: %w", err)
	}

	for _, line := range run.Lines {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO settlement_lines (run_id, member_id, name, firstname, total_cents)
			 VALUES (?, ?, ?, ?, ?)`,
			runID, line.MemberID, line.Name, line.Firstname, line.Total.Cents); err != nil {
			return 0, fmt.Errorf("create settlement line: %w", err)
		}
	}
	return runID, nil
}

func (r *SQLiteRepository) GetSettlementRun(ctx context.Context, id int64) (core.SettlementRun, error) {
	var run core.SettlementRun
	var status string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, filename, generated_at, grand_total_cents, member_count, sync_status
		 FROM settlement_runs WHERE id = ?`, id).
		Scan(&run.ID, &run.Filename, &run.GeneratedAt, &run.GrandTotal.Cents, &run.MemberCount, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return core.SettlementRun{}, fmt.Errorf("settlement run %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.SettlementRun{}, fmt.Errorf("get settlement run: %w", err)
	}
	run.SyncStatus = core.SyncStatus(status)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, run_id, member_id, name, firstname, total_cents
		 FROM settlement_lines WHERE run_id = ? ORDER BY name, firstname`, id)
	if err != nil {
		return core.SettlementRun{}, fmt.Errorf("get settlement lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var line core.SettlementLine
		if err := rows.Scan(&line.ID, &line.RunID, &line.MemberID, &line.Name,
			&line.Firstname, &line.Total.Cents); err != nil {
			return core.SettlementRun{}, fmt.Errorf("scan settlement line: %w", err)
		}
		run.Lines = append(run.Lines, line)
	}
	return run, rows.Err()
}

func (r *SQLiteRepository) ListSettlementRuns(ctx context.Context) ([]core.SettlementRun, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, filename, generated_at, grand_total_cents, member_count, sync_status
		 FROM settlement_runs ORDER BY generated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list settlement runs: %w", err)
	}
	defer rows.Close()

	var runs []core.SettlementRun
	for rows.Next() {
		var run core.SettlementRun
		var status string
		if err := rows.Scan(&run.ID, &run.Filename, &run.GeneratedAt,
			&run.GrandTotal.Cents, &run.MemberCount, &status); err != nil {
			return nil, fmt.Errorf("scan settlement run: %w", err)
		}
		run.SyncStatus = core.SyncStatus(status)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetPendingSyncRuns returns runs not yet mirrored to the external ledger.
// The worker's periodic scan uses this as backup for lost AMQP messages.
func (r *SQLiteRepository) GetPendingSyncRuns(ctx context.Context, limit int) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM settlement_runs WHERE sync_status = 'pending'
		 ORDER BY generated_at LIMIT ?`, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("get pending sync runs: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan pending run id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *SQLiteRepository) MarkRunSynced(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE settlement_runs SET sync_status = 'synced' WHERE id = ?`, id); err != nil {
		return fmt.Errorf("mark run synced: %w", err)
	}
	slog.InfoContext(ctx, "Settlement run marked as synced", "run_id", id)
	return nil
}

func (r *SQLiteRepository) MarkRunSyncError(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE settlement_runs SET sync_status = 'error' WHERE id = ?`, id); err != nil {
		return fmt.Errorf("mark run sync error: %w", err)
	}
	slog.WarnContext(ctx, "Settlement run marked with sync error", "run_id", id)
	return nil
}
