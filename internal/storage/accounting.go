package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"commenergy/internal/core"
)

// UnbilledEntry is one open accounting row captured for a billing run,
// joined to the billed member's display names. Name is null when the entry
// references a member that no longer exists.
type UnbilledEntry struct {
	ID        int64
	MemberID  int64
	Name      sql.NullString
	Firstname sql.NullString
	Cents     int64
}

// AccountingDetail is an accounting entry joined to display fields for the
// listing screens.
type AccountingDetail struct {
	Entry      core.Accounting
	MemberName string
	Firstname  string
	PodLabel   string
	GroupName  string
}

// CreateAccounting inserts a charge. The (year, month, member, pod) tuple is
// unique; a second charge for the same tuple returns core.ErrDuplicate.
func (r *SQLiteRepository) CreateAccounting(ctx context.Context, a core.Accounting) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO accounting (year, month, member_id, pod_id, sharing_group_id, amount_cents, billing_date)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.Year, a.Month, a.MemberID, a.PodID, a.SharingGroupID, a.Amount.Cents, nullDay(a.BillingDate))
	if err != nil {
		return 0, fmt.Errorf("create accounting entry: %w", mapConstraintErr(err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("accounting insert id: %w", err)
	}
	return id, nil
}

func (r *SQLiteRepository) GetAccounting(ctx context.Context, id int64) (core.Accounting, error) {
	var a core.Accounting
	var day sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT id, year, month, member_id, pod_id, sharing_group_id, amount_cents, billing_date
		 FROM accounting WHERE id = ?`, id).
		Scan(&a.ID, &a.Year, &a.Month, &a.MemberID, &a.PodID, &a.SharingGroupID, &a.Amount.Cents, &day)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Accounting{}, fmt.Errorf("accounting entry %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Accounting{}, fmt.Errorf("get accounting entry: %w", err)
	}
	if a.BillingDate, err = parseDay(day); err != nil {
		return core.Accounting{}, err
	}
	return a, nil
}

func (r *SQLiteRepository) ListAccounting(ctx context.Context) ([]core.Accounting, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, year, month, member_id, pod_id, sharing_group_id, amount_cents, billing_date
		 FROM accounting ORDER BY year DESC, month DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list accounting entries: %w", err)
	}
	defer rows.Close()

	var entries []core.Accounting
	for rows.Next() {
		var a core.Accounting
		var day sql.NullString
		if err := rows.Scan(&a.ID, &a.Year, &a.Month, &a.MemberID, &a.PodID,
			&a.SharingGroupID, &a.Amount.Cents, &day); err != nil {
			return nil, fmt.Errorf("scan accounting entry: %w", err)
		}
		if a.BillingDate, err = parseDay(day); err != nil {
			return nil, err
		}
		entries = append(entries, a)
	}
	return entries, rows.Err()
}

// ListUnbilledDetailed returns all open entries joined to member, pod and
// sharing group display fields, for the unbilled review screen.
func (r *SQLiteRepository) ListUnbilledDetailed(ctx context.Context) ([]AccountingDetail, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT a.id, a.year, a.month, a.member_id, a.pod_id, a.sharing_group_id, a.amount_cents,
		        m.name, m.firstname, p.label, g.name
		 FROM accounting a
		 JOIN members m ON m.id = a.member_id
		 JOIN pods p ON p.id = a.pod_id
		 JOIN sharing_groups g ON g.id = a.sharing_group_id
		 WHERE a.billing_date IS NULL
		 ORDER BY m.name, m.firstname, a.year, a.month`)
	if err != nil {
		return nil, fmt.Errorf("list unbilled entries: %w", err)
	}
	defer rows.Close()

	var details []AccountingDetail
	for rows.Next() {
		var d AccountingDetail
		if err := rows.Scan(&d.Entry.ID, &d.Entry.Year, &d.Entry.Month, &d.Entry.MemberID,
			&d.Entry.PodID, &d.Entry.SharingGroupID, &d.Entry.Amount.Cents,
			&d.MemberName, &d.Firstname, &d.PodLabel, &d.GroupName); err != nil {
			return nil, fmt.Errorf("scan unbilled entry: %w", err)
		}
		details = append(details, d)
	}
	return details, rows.Err()
}

func (r *SQLiteRepository) UpdateAccounting(ctx context.Context, a core.Accounting) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE accounting SET year = ?, month = ?, member_id = ?, pod_id = ?,
		 sharing_group_id = ?, amount_cents = ?, billing_date = ? WHERE id = ?`,
		a.Year, a.Month, a.MemberID, a.PodID, a.SharingGroupID, a.Amount.Cents,
		nullDay(a.BillingDate), a.ID)
	if err != nil {
		return fmt.Errorf("update accounting entry: %w", mapConstraintErr(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update accounting rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("accounting entry %d: %w", a.ID, core.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) DeleteAccounting(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM accounting WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete accounting entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete accounting rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("accounting entry %d: %w", id, core.ErrNotFound)
	}
	return nil
}

// SelectUnbilledTx captures the open entries for a billing run inside tx.
// The returned ids are the run's snapshot: the close step updates exactly
// these rows, never a re-evaluated predicate.
func (r *SQLiteRepository) SelectUnbilledTx(ctx context.Context, tx *sql.Tx) ([]UnbilledEntry, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT a.id, a.member_id, m.name, m.firstname, a.amount_cents
		 FROM accounting a
		 LEFT JOIN members m ON m.id = a.member_id
		 WHERE a.billing_date IS NULL
		 ORDER BY m.name, m.firstname, a.member_id, a.id`)
	if err != nil {
		return nil, fmt.Errorf("select unbilled entries: %w", err)
	}
	defer rows.Close()

	var entries []UnbilledEntry
	for rows.Next() {
		var e UnbilledEntry
		if err := rows.Scan(&e.ID, &e.MemberID, &e.Name, &e.Firstname, &e.Cents); err != nil {
			return nil, fmt.Errorf("scan unbilled entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CloseEntriesTx stamps the billing date on the captured snapshot ids.
func (r *SQLiteRepository) CloseEntriesTx(ctx context.Context, tx *sql.Tx, ids []int64, billingDate time.Time) error {
	day := billingDate.Format(dayFormat)
	stmt, err := tx.PrepareContext(ctx, `UPDATE accounting SET billing_date = ? WHERE id = ? AND billing_date IS NULL`)
	if err != nil {
		return fmt.Errorf("prepare close statement: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		res, err := stmt.ExecContext(ctx, day, id)
		if err != nil {
			return fmt.Errorf("close entry %d: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("close entry %d rows: %w", id, err)
		}
		if n == 0 {
			return fmt.Errorf("entry %d changed during billing run", id)
		}
	}
	return nil
}
