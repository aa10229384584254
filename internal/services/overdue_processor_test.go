package services

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"commenergy/internal/core"
	"commenergy/internal/storage"
)

func TestOverdueSweep(t *testing.T) {
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	defer repo.Close()
	ctx := context.Background()

	memberID, err := repo.CreateMember(ctx, core.Member{Name: "Dupont", Firstname: "Marie"})
	if err != nil {
		t.Fatalf("CreateMember: %v", err)
	}

	pastFee, err := repo.CreateMemberFee(ctx, core.MemberFee{Amount: core.Money{Cents: 2500}, FiscalYear: 2025})
	if err != nil {
		t.Fatalf("CreateMemberFee: %v", err)
	}
	currentFee, err := repo.CreateMemberFee(ctx, core.MemberFee{Amount: core.Money{Cents: 2500}, FiscalYear: 2026})
	if err != nil {
		t.Fatalf("CreateMemberFee: %v", err)
	}

	pastID, err := repo.CreateFeePayment(ctx, core.MemberFeePayment{MemberID: memberID, MemberFeeID: pastFee, Status: core.PaymentPending})
	if err != nil {
		t.Fatalf("CreateFeePayment: %v", err)
	}
	day := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	paidID, err := repo.CreateFeePayment(ctx, core.MemberFeePayment{MemberID: memberID, MemberFeeID: currentFee, PaymentDate: &day, Status: core.PaymentPaid})
	if err != nil {
		t.Fatalf("CreateFeePayment: %v", err)
	}

	p := NewOverdueProcessor(repo)
	p.now = func() time.Time { return time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC) }

	n, err := p.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Errorf("Sweep marked %d, want 1", n)
	}

	past, _ := repo.GetFeePayment(ctx, pastID)
	if past.Status != core.PaymentOverdue {
		t.Errorf("past payment status = %q, want overdue", past.Status)
	}
	paid, _ := repo.GetFeePayment(ctx, paidID)
	if paid.Status != core.PaymentPaid {
		t.Errorf("paid payment status = %q, want paid", paid.Status)
	}

	// A second sweep finds nothing more to flip.
	n, err = p.Sweep(ctx)
	if err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
	if n != 0 {
		t.Errorf("second Sweep marked %d, want 0", n)
	}
}
