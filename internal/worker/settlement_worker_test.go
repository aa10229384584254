package worker

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"commenergy/internal/amqp"
	"commenergy/internal/core"
	"commenergy/internal/storage"
)

type fakeAppender struct {
	appended []int64
	err      error
}

func (f *fakeAppender) AppendRun(ctx context.Context, run core.SettlementRun) error {
	if f.err != nil {
		return f.err
	}
	f.appended = append(f.appended, run.ID)
	return nil
}

func newWorkerRepo(t *testing.T) *storage.SQLiteRepository {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func createPendingRun(t *testing.T, repo *storage.SQLiteRepository) int64 {
	t.Helper()
	ctx := context.Background()
	tx, err := repo.BeginTx(ctx)
	if err != nil {
		t.Fatalf("BeginTx: %v", err)
	}
	id, err := repo.CreateSettlementRunTx(ctx, tx, core.SettlementRun{
		Filename:    "decompte-2026-08-29-14-05.csv",
		GeneratedAt: time.Date(2026, 8, 29, 14, 5, 0, 0, time.UTC),
		GrandTotal:  core.Money{Cents: 8550},
		MemberCount: 1,
		Lines: []core.SettlementLine{
			{MemberID: 1, Name: "Dupont", Firstname: "Marie", Total: core.Money{Cents: 8550}},
		},
	})
	if err != nil {
		t.Fatalf("CreateSettlementRunTx: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	return id
}

func TestHandleSyncMessage(t *testing.T) {
	repo := newWorkerRepo(t)
	ledger := &fakeAppender{}
	w := NewSettlementWorker(repo, ledger, 10)
	ctx := context.Background()

	id := createPendingRun(t, repo)

	if err := w.HandleSyncMessage(ctx, &amqp.SettlementSyncMessage{RunID: id}); err != nil {
		t.Fatalf("HandleSyncMessage: %v", err)
	}
	if len(ledger.appended) != 1 || ledger.appended[0] != id {
		t.Errorf("appended = %v, want [%d]", ledger.appended, id)
	}

	run, err := repo.GetSettlementRun(ctx, id)
	if err != nil {
		t.Fatalf("GetSettlementRun: %v", err)
	}
	if run.SyncStatus != core.SyncDone {
		t.Errorf("SyncStatus = %q, want synced", run.SyncStatus)
	}
}

func TestHandleSyncMessageSkipsSyncedRun(t *testing.T) {
	repo := newWorkerRepo(t)
	ledger := &fakeAppender{}
	w := NewSettlementWorker(repo, ledger, 10)
	ctx := context.Background()

	id := createPendingRun(t, repo)
	if err := repo.MarkRunSynced(ctx, id); err != nil {
		t.Fatalf("MarkRunSynced: %v", err)
	}

	if err := w.HandleSyncMessage(ctx, &amqp.SettlementSyncMessage{RunID: id}); err != nil {
		t.Fatalf("HandleSyncMessage: %v", err)
	}
	if len(ledger.appended) != 0 {
		t.Errorf("synced run mirrored again: %v", ledger.appended)
	}
}

func TestHandleSyncMessageMissingRun(t *testing.T) {
	repo := newWorkerRepo(t)
	w := NewSettlementWorker(repo, &fakeAppender{}, 10)

	err := w.HandleSyncMessage(context.Background(), &amqp.SettlementSyncMessage{RunID: 999})
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("HandleSyncMessage(999) = %v, want ErrNotFound", err)
	}
}

func TestSyncFailureMarksRunErrored(t *testing.T) {
	repo := newWorkerRepo(t)
	ledger := &fakeAppender{err: errors.New("sheets unavailable")}
	w := NewSettlementWorker(repo, ledger, 10)
	ctx := context.Background()

	id := createPendingRun(t, repo)

	if err := w.HandleSyncMessage(ctx, &amqp.SettlementSyncMessage{RunID: id}); err == nil {
		t.Fatal("HandleSyncMessage succeeded despite ledger failure")
	}

	run, err := repo.GetSettlementRun(ctx, id)
	if err != nil {
		t.Fatalf("GetSettlementRun: %v", err)
	}
	if run.SyncStatus != core.SyncError {
		t.Errorf("SyncStatus = %q, want error", run.SyncStatus)
	}
}

func TestProcessPendingRuns(t *testing.T) {
	repo := newWorkerRepo(t)
	ledger := &fakeAppender{}
	w := NewSettlementWorker(repo, ledger, 10)
	ctx := context.Background()

	id := createPendingRun(t, repo)

	if err := w.ProcessPendingRuns(ctx); err != nil {
		t.Fatalf("ProcessPendingRuns: %v", err)
	}
	if len(ledger.appended) != 1 || ledger.appended[0] != id {
		t.Errorf("appended = %v, want [%d]", ledger.appended, id)
	}

	// Nothing left to do.
	if err := w.ProcessPendingRuns(ctx); err != nil {
		t.Fatalf("second ProcessPendingRuns: %v", err)
	}
	if len(ledger.appended) != 1 {
		t.Errorf("pending scan mirrored a synced run: %v", ledger.appended)
	}
}

func TestStartupSyncCheck(t *testing.T) {
	repo := newWorkerRepo(t)
	ledger := &fakeAppender{}
	w := NewSettlementWorker(repo, ledger, 10)
	ctx := context.Background()

	createPendingRun(t, repo)

	if err := w.StartupSyncCheck(ctx); err != nil {
		t.Fatalf("StartupSyncCheck: %v", err)
	}
	if len(ledger.appended) != 1 {
		t.Errorf("appended = %v, want one run", ledger.appended)
	}
}
