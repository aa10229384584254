package services

import (
	"context"
	"time"

	"commenergy/internal/storage"
)

// OverdueProcessor flips pending member-fee payments to overdue once the
// fee's fiscal year has passed. The worker runs it on a timer.
type OverdueProcessor struct {
	repo *storage.SQLiteRepository
	now  func() time.Time
}

func NewOverdueProcessor(repo *storage.SQLiteRepository) *OverdueProcessor {
	return &OverdueProcessor{repo: repo, now: time.Now}
}

// Sweep marks every pending payment for a past fiscal year as overdue and
// returns how many rows changed. A payment for the current year stays
// pending until the year rolls over.
func (p *OverdueProcessor) Sweep(ctx context.Context) (int64, error) {
	return p.repo.MarkPaymentsOverdue(ctx, p.now().Year())
}
