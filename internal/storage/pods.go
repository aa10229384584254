package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"commenergy/internal/core"
)

func (r *SQLiteRepository) CreatePod(ctx context.Context, p core.Pod) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO pods (label, pod_type, member_id, pod_number) VALUES (?, ?, ?, ?)`,
		p.Label, string(p.Type), p.MemberID, p.PodNumber)
	if err != nil {
		return 0, fmt.Errorf("create pod: %w", mapConstraintErr(err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("pod insert id: %w", err)
	}
	return id, nil
}

func (r *SQLiteRepository) GetPod(ctx context.Context, id int64) (core.Pod, error) {
	var p core.Pod
	var podType string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, label, pod_type, member_id, pod_number FROM pods WHERE id = ?`, id).
		Scan(&p.ID, &p.Label, &podType, &p.MemberID, &p.PodNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Pod{}, fmt.Errorf("pod %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Pod{}, fmt.Errorf("get pod: %w", err)
	}
	p.Type = core.PodType(podType)
	return p, nil
}

func (r *SQLiteRepository) ListPodsByMember(ctx context.Context, memberID int64) ([]core.Pod, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, label, pod_type, member_id, pod_number FROM pods WHERE member_id = ? ORDER BY id`,
		memberID)
	if err != nil {
		return nil, fmt.Errorf("list pods: %w", err)
	}
	defer rows.Close()

	var pods []core.Pod
	for rows.Next() {
		var p core.Pod
		var podType string
		if err := rows.Scan(&p.ID, &p.Label, &podType, &p.MemberID, &p.PodNumber); err != nil {
			return nil, fmt.Errorf("scan pod: %w", err)
		}
		p.Type = core.PodType(podType)
		pods = append(pods, p)
	}
	return pods, rows.Err()
}

func (r *SQLiteRepository) UpdatePod(ctx context.Context, p core.Pod) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE pods SET label = ?, pod_type = ?, pod_number = ? WHERE id = ?`,
		p.Label, string(p.Type), p.PodNumber, p.ID)
	if err != nil {
		return fmt.Errorf("update pod: %w", mapConstraintErr(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update pod rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("pod %d: %w", p.ID, core.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) DeletePod(ctx context.Context, id int64) error {
	tx, err := r.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM pod_sharing_groups WHERE pod_id = ?`, id); err != nil {
		return fmt.Errorf("delete pod group links: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM pods WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete pod: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete pod rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("pod %d: %w", id, core.ErrNotFound)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit pod delete: %w", err)
	}
	return nil
}
