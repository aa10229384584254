package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"commenergy/internal/core"
)

func (r *SQLiteRepository) CreateMember(ctx context.Context, m core.Member) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO members (name, firstname, national_id, address, phone_number, email, energy_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.Name, m.Firstname, m.NationalID, m.Address, m.PhoneNumber, m.Email, m.EnergyID)
	if err != nil {
		return 0, fmt.Errorf("create member: %w", mapConstraintErr(err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("member insert id: %w", err)
	}

	slog.InfoContext(ctx, "Member created", "id", id, "name", m.Name, "firstname", m.Firstname)
	return id, nil
}

// CreateMemberWithPods inserts a member and its initial pods in one
// transaction, matching the combined member-creation form.
func (r *SQLiteRepository) CreateMemberWithPods(ctx context.Context, m core.Member, pods []core.Pod) (int64, error) {
	tx, err := r.BeginTx(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO members (name, firstname, national_id, address, phone_number, email, energy_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.Name, m.Firstname, m.NationalID, m.Address, m.PhoneNumber, m.Email, m.EnergyID)
	if err != nil {
		return 0, fmt.Errorf("create member: %w", mapConstraintErr(err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("member insert id: %w", err)
	}

	for _, p := range pods {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO pods (label, pod_type, member_id, pod_number) VALUES (?, ?, ?, ?)`,
			p.Label, string(p.Type), id, p.PodNumber); err != nil {
			return 0, fmt.Errorf("create pod for member %d: %w", id, mapConstraintErr(err))
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit member with pods: %w", err)
	}

	slog.InfoContext(ctx, "Member created", "id", id, "name", m.Name, "pods", len(pods))
	return id, nil
}

func (r *SQLiteRepository) GetMember(ctx context.Context, id int64) (core.Member, error) {
	var m core.Member
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, firstname, national_id, address, phone_number, email, energy_id
		 FROM members WHERE id = ?`, id).
		Scan(&m.ID, &m.Name, &m.Firstname, &m.NationalID, &m.Address, &m.PhoneNumber, &m.Email, &m.EnergyID)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Member{}, fmt.Errorf("member %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Member{}, fmt.Errorf("get member: %w", err)
	}
	return m, nil
}

func (r *SQLiteRepository) ListMembers(ctx context.Context) ([]core.Member, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, firstname, national_id, address, phone_number, email, energy_id
		 FROM members ORDER BY name, firstname`)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []core.Member
	for rows.Next() {
		var m core.Member
		if err := rows.Scan(&m.ID, &m.Name, &m.Firstname, &m.NationalID, &m.Address,
			&m.PhoneNumber, &m.Email, &m.EnergyID); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (r *SQLiteRepository) UpdateMember(ctx context.Context, m core.Member) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE members SET name = ?, firstname = ?, national_id = ?, address = ?,
		 phone_number = ?, email = ?, energy_id = ? WHERE id = ?`,
		m.Name, m.Firstname, m.NationalID, m.Address, m.PhoneNumber, m.Email, m.EnergyID, m.ID)
	if err != nil {
		return fmt.Errorf("update member: %w", mapConstraintErr(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update member rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("member %d: %w", m.ID, core.ErrNotFound)
	}
	return nil
}

// DeleteMember removes a member and all of its pods in one transaction.
// Foreign keys on accounting and payments reject the delete while dependent
// records still reference the member.
func (r *SQLiteRepository) DeleteMember(ctx context.Context, id int64) error {
	tx, err := r.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM pod_sharing_groups
		WHERE pod_id IN (SELECT id FROM pods WHERE member_id = ?)`, id); err != nil {
		return fmt.Errorf("delete pod group links: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pods WHERE member_id = ?`, id); err != nil {
		return fmt.Errorf("delete member pods: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM members WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete member: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete member rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("member %d: %w", id, core.ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit member delete: %w", err)
	}

	slog.InfoContext(ctx, "Member deleted with pods", "id", id)
	return nil
}
