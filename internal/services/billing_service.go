// Package services holds the business workflows on top of storage.
package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"commenergy/internal/core"
	"commenergy/internal/exports"
	"commenergy/internal/storage"
)

// SettlementPublisher notifies the worker that a run is ready to mirror.
type SettlementPublisher interface {
	PublishSettlementSync(ctx context.Context, runID int64) error
}

// BillingService turns the pool of unbilled accounting entries into a
// per-member settlement export and stamps those entries as billed, as one
// atomic operation.
//
// Snapshot semantics: the unbilled rows are captured once, inside the run's
// transaction, and the close step updates exactly that id set. Entries
// created while a run is in flight stay open for the next run. A mutex
// serializes concurrent triggers so two runs can never share entries.
type BillingService struct {
	repo      *storage.SQLiteRepository
	exports   *exports.Store
	publisher SettlementPublisher

	mu  sync.Mutex
	now func() time.Time
}

func NewBillingService(repo *storage.SQLiteRepository, store *exports.Store, publisher SettlementPublisher) *BillingService {
	return &BillingService{
		repo:      repo,
		exports:   store,
		publisher: publisher,
		now:       time.Now,
	}
}

// Run executes the billing workflow:
//
//	aggregate unbilled entries per member -> write the CSV export ->
//	stamp the captured entries with today's billing date -> record the run.
//
// Export write failure aborts before any entry is closed. A failure at the
// close or commit step removes the provisional CSV. With no unbilled entries
// the run yields a header-only export, a zero grand total and no state
// change at all.
func (s *BillingService) Run(ctx context.Context) (core.SettlementRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return core.SettlementRun{}, err
	}
	defer tx.Rollback()

	entries, err := s.repo.SelectUnbilledTx(ctx, tx)
	if err != nil {
		return core.SettlementRun{}, fmt.Errorf("billing aggregation: %w", err)
	}

	lines, ids, err := aggregate(entries)
	if err != nil {
		return core.SettlementRun{}, fmt.Errorf("billing aggregation: %w", err)
	}

	run := core.SettlementRun{
		Filename:    exports.Filename(now),
		GeneratedAt: now,
		MemberCount: len(lines),
		Lines:       lines,
	}
	for _, line := range lines {
		run.GrandTotal = run.GrandTotal.Add(line.Total)
	}

	if len(ids) == 0 {
		// A re-run triggered in the same minute keeps the committed
		// file of the earlier run untouched.
		if _, err := s.exports.Write(run.Filename, settlementCSV(lines)); err != nil && !errors.Is(err, exports.ErrExists) {
			return core.SettlementRun{}, fmt.Errorf("billing export: %w", err)
		}
		slog.InfoContext(ctx, "Billing run found no unbilled entries", "filename", run.Filename)
		return run, nil
	}

	// The export must exist before any entry is closed. Filenames have
	// minute granularity, so colliding with an already committed export
	// aborts the run instead of rewriting that file.
	if _, err := s.exports.Write(run.Filename, settlementCSV(lines)); err != nil {
		return core.SettlementRun{}, fmt.Errorf("billing export: %w", err)
	}

	if err := s.closeAndRecord(ctx, tx, &run, ids, now); err != nil {
		// The already-written export references a close that never
		// happened; discard it rather than leave a stale artifact.
		if rmErr := s.exports.Remove(run.Filename); rmErr != nil {
			slog.ErrorContext(ctx, "Failed to remove provisional export",
				"filename", run.Filename, "error", rmErr)
		}
		return core.SettlementRun{}, err
	}

	slog.InfoContext(ctx, "Billing run completed",
		"run_id", run.ID,
		"filename", run.Filename,
		"members", run.MemberCount,
		"entries", len(ids),
		"grand_total_cents", run.GrandTotal.Cents)

	// Mirror notification is best effort; the worker's periodic scan picks
	// up runs whose message was lost.
	if s.publisher != nil {
		if err := s.publisher.PublishSettlementSync(ctx, run.ID); err != nil {
			slog.ErrorContext(ctx, "Failed to publish settlement sync message",
				"run_id", run.ID, "error", err)
		}
	}

	return run, nil
}

func (s *BillingService) closeAndRecord(ctx context.Context, tx *sql.Tx, run *core.SettlementRun, ids []int64, now time.Time) error {
	if err := s.repo.CloseEntriesTx(ctx, tx, ids, now); err != nil {
		return fmt.Errorf("billing close: %w", err)
	}

	runID, err := s.repo.CreateSettlementRunTx(ctx, tx, *run)
	if err != nil {
		return fmt.Errorf("billing record run: %w", err)
	}
	run.ID = runID
	for i := range run.Lines {
		run.Lines[i].RunID = runID
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("billing commit: %w", err)
	}
	return nil
}

// aggregate groups the captured entries per member and sums exactly in cents.
// The input arrives ordered by member surname, so lines come out in export
// order. An entry whose member no longer exists fails the whole run.
func aggregate(entries []storage.UnbilledEntry) ([]core.SettlementLine, []int64, error) {
	var lines []core.SettlementLine
	var ids []int64
	index := make(map[int64]int)

	for _, e := range entries {
		if !e.Name.Valid {
			return nil, nil, fmt.Errorf("accounting entry %d references missing member %d", e.ID, e.MemberID)
		}
		ids = append(ids, e.ID)
		if i, ok := index[e.MemberID]; ok {
			lines[i].Total = lines[i].Total.Add(core.Money{Cents: e.Cents})
			continue
		}
		index[e.MemberID] = len(lines)
		lines = append(lines, core.SettlementLine{
			MemberID:  e.MemberID,
			Name:      e.Name.String,
			Firstname: e.Firstname.String,
			Total:     core.Money{Cents: e.Cents},
		})
	}
	return lines, ids, nil
}

// settlementCSV renders the export. The ';' delimiter keeps fields
// unambiguous for comma-decimal locales; amounts carry two decimals.
func settlementCSV(lines []core.SettlementLine) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = ';'

	_ = w.Write([]string{"Nom", "Prénom", "Montant"})
	for _, line := range lines {
		_ = w.Write([]string{line.Name, line.Firstname, line.Total.String()})
	}
	w.Flush()
	return buf.Bytes()
}
