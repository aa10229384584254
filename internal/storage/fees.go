package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"commenergy/internal/core"
)

func (r *SQLiteRepository) CreateMemberFee(ctx context.Context, f core.MemberFee) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO member_fees (amount_cents, fiscal_year) VALUES (?, ?)`,
		f.Amount.Cents, f.FiscalYear)
	if err != nil {
		return 0, fmt.Errorf("create member fee: %w", mapConstraintErr(err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("member fee insert id: %w", err)
	}
	return id, nil
}

func (r *SQLiteRepository) GetMemberFee(ctx context.Context, id int64) (core.MemberFee, error) {
	var f core.MemberFee
	err := r.db.QueryRowContext(ctx,
		`SELECT id, amount_cents, fiscal_year FROM member_fees WHERE id = ?`, id).
		Scan(&f.ID, &f.Amount.Cents, &f.FiscalYear)
	if errors.Is(err, sql.ErrNoRows) {
		return core.MemberFee{}, fmt.Errorf("member fee %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.MemberFee{}, fmt.Errorf("get member fee: %w", err)
	}
	return f, nil
}

func (r *SQLiteRepository) ListMemberFees(ctx context.Context) ([]core.MemberFee, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, amount_cents, fiscal_year FROM member_fees ORDER BY fiscal_year DESC`)
	if err != nil {
		return nil, fmt.Errorf("list member fees: %w", err)
	}
	defer rows.Close()

	var fees []core.MemberFee
	for rows.Next() {
		var f core.MemberFee
		if err := rows.Scan(&f.ID, &f.Amount.Cents, &f.FiscalYear); err != nil {
			return nil, fmt.Errorf("scan member fee: %w", err)
		}
		fees = append(fees, f)
	}
	return fees, rows.Err()
}

func (r *SQLiteRepository) UpdateMemberFee(ctx context.Context, f core.MemberFee) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE member_fees SET amount_cents = ?, fiscal_year = ? WHERE id = ?`,
		f.Amount.Cents, f.FiscalYear, f.ID)
	if err != nil {
		return fmt.Errorf("update member fee: %w", mapConstraintErr(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update member fee rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("member fee %d: %w", f.ID, core.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) DeleteMemberFee(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM member_fees WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete member fee: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete member fee rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("member fee %d: %w", id, core.ErrNotFound)
	}
	return nil
}

// CreateFeePayment records a payment for a (member, fee) pair. The pair is
// unique; a second record for the same pair returns core.ErrDuplicate.
func (r *SQLiteRepository) CreateFeePayment(ctx context.Context, p core.MemberFeePayment) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO member_fee_payments (member_id, member_fee_id, payment_date, status)
		 VALUES (?, ?, ?, ?)`,
		p.MemberID, p.MemberFeeID, nullDay(p.PaymentDate), string(p.Status))
	if err != nil {
		return 0, fmt.Errorf("create fee payment: %w", mapConstraintErr(err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("fee payment insert id: %w", err)
	}
	return id, nil
}

func (r *SQLiteRepository) GetFeePayment(ctx context.Context, id int64) (core.MemberFeePayment, error) {
	var p core.MemberFeePayment
	var status string
	var day sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT id, member_id, member_fee_id, payment_date, status
		 FROM member_fee_payments WHERE id = ?`, id).
		Scan(&p.ID, &p.MemberID, &p.MemberFeeID, &day, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return core.MemberFeePayment{}, fmt.Errorf("fee payment %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.MemberFeePayment{}, fmt.Errorf("get fee payment: %w", err)
	}
	p.Status = core.PaymentStatus(status)
	if p.PaymentDate, err = parseDay(day); err != nil {
		return core.MemberFeePayment{}, err
	}
	return p, nil
}

func (r *SQLiteRepository) ListFeePayments(ctx context.Context) ([]core.MemberFeePayment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, member_id, member_fee_id, payment_date, status
		 FROM member_fee_payments ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list fee payments: %w", err)
	}
	defer rows.Close()
	return scanFeePayments(rows)
}

func (r *SQLiteRepository) ListFeePaymentsByFee(ctx context.Context, feeID int64) ([]core.MemberFeePayment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, member_id, member_fee_id, payment_date, status
		 FROM member_fee_payments WHERE member_fee_id = ? ORDER BY id`, feeID)
	if err != nil {
		return nil, fmt.Errorf("list fee payments by fee: %w", err)
	}
	defer rows.Close()
	return scanFeePayments(rows)
}

func (r *SQLiteRepository) ListFeePaymentsByMember(ctx context.Context, memberID int64) ([]core.MemberFeePayment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, member_id, member_fee_id, payment_date, status
		 FROM member_fee_payments WHERE member_id = ? ORDER BY id`, memberID)
	if err != nil {
		return nil, fmt.Errorf("list member fee payments: %w", err)
	}
	defer rows.Close()
	return scanFeePayments(rows)
}

func scanFeePayments(rows *sql.Rows) ([]core.MemberFeePayment, error) {
	var payments []core.MemberFeePayment
	for rows.Next() {
		var p core.MemberFeePayment
		var status string
		var day sql.NullString
		if err := rows.Scan(&p.ID, &p.MemberID, &p.MemberFeeID, &day, &status); err != nil {
			return nil, fmt.Errorf("scan fee payment: %w", err)
		}
		p.Status = core.PaymentStatus(status)
		var err error
		if p.PaymentDate, err = parseDay(day); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (r *SQLiteRepository) UpdateFeePayment(ctx context.Context, p core.MemberFeePayment) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE member_fee_payments SET payment_date = ?, status = ? WHERE id = ?`,
		nullDay(p.PaymentDate), string(p.Status), p.ID)
	if err != nil {
		return fmt.Errorf("update fee payment: %w", mapConstraintErr(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update fee payment rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("fee payment %d: %w", p.ID, core.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) DeleteFeePayment(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM member_fee_payments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete fee payment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete fee payment rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("fee payment %d: %w", id, core.ErrNotFound)
	}
	return nil
}

// MarkPaymentsOverdue flips pending payments of fees from fiscal years before
// the given year to overdue. Used by the worker's periodic sweep.
func (r *SQLiteRepository) MarkPaymentsOverdue(ctx context.Context, beforeYear int) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE member_fee_payments SET status = 'overdue'
		 WHERE status = 'pending'
		   AND member_fee_id IN (SELECT id FROM member_fees WHERE fiscal_year < ?)`,
		beforeYear)
	if err != nil {
		return 0, fmt.Errorf("mark payments overdue: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark payments overdue rows: %w", err)
	}
	if n > 0 {
		slog.InfoContext(ctx, "Fee payments marked overdue", "count", n, "before_year", beforeYear)
	}
	return n, nil
}
