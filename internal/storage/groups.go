package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"commenergy/internal/core"
)

func (r *SQLiteRepository) CreateSharingGroup(ctx context.Context, g core.SharingGroup) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO sharing_groups (name, group_number, price_cents, group_type) VALUES (?, ?, ?, ?)`,
		g.Name, g.GroupNumber, g.Price.Cents, string(g.Type))
	if err != nil {
		return 0, fmt.Errorf("create sharing group: %w", mapConstraintErr(err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("sharing group insert id: %w", err)
	}
	return id, nil
}

func (r *SQLiteRepository) GetSharingGroup(ctx context.Context, id int64) (core.SharingGroup, error) {
	var g core.SharingGroup
	var groupType string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, group_number, price_cents, group_type FROM sharing_groups WHERE id = ?`, id).
		Scan(&g.ID, &g.Name, &g.GroupNumber, &g.Price.Cents, &groupType)
	if errors.Is(err, sql.ErrNoRows) {
		return core.SharingGroup{}, fmt.Errorf("sharing group %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.SharingGroup{}, fmt.Errorf("get sharing group: %w", err)
	}
	g.Type = core.GroupType(groupType)
	return g, nil
}

func (r *SQLiteRepository) ListSharingGroups(ctx context.Context) ([]core.SharingGroup, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, group_number, price_cents, group_type FROM sharing_groups ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list sharing groups: %w", err)
	}
	defer rows.Close()

	var groups []core.SharingGroup
	for rows.Next() {
		var g core.SharingGroup
		var groupType string
		if err := rows.Scan(&g.ID, &g.Name, &g.GroupNumber, &g.Price.Cents, &groupType); err != nil {
			return nil, fmt.Errorf("scan sharing group: %w", err)
		}
		g.Type = core.GroupType(groupType)
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (r *SQLiteRepository) UpdateSharingGroup(ctx context.Context, g core.SharingGroup) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sharing_groups SET name = ?, group_number = ?, price_cents = ?, group_type = ? WHERE id = ?`,
		g.Name, g.GroupNumber, g.Price.Cents, string(g.Type), g.ID)
	if err != nil {
		return fmt.Errorf("update sharing group: %w", mapConstraintErr(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update sharing group rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("sharing group %d: %w", g.ID, core.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) DeleteSharingGroup(ctx context.Context, id int64) error {
	tx, err := r.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM pod_sharing_groups WHERE sharing_group_id = ?`, id); err != nil {
		return fmt.Errorf("delete group pod links: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sharing_groups WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete sharing group: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete sharing group rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("sharing group %d: %w", id, core.ErrNotFound)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sharing group delete: %w", err)
	}
	return nil
}

// AddPodToGroup links a pod to a sharing group. The (pod, group) pair is
// unique; a second link for the same pair returns core.ErrDuplicate.
func (r *SQLiteRepository) AddPodToGroup(ctx context.Context, podID, groupID int64) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO pod_sharing_groups (pod_id, sharing_group_id) VALUES (?, ?)`, podID, groupID)
	if err != nil {
		return 0, fmt.Errorf("add pod to group: %w", mapConstraintErr(err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("pod group link insert id: %w", err)
	}
	return id, nil
}

func (r *SQLiteRepository) RemovePodFromGroup(ctx context.Context, podID, groupID int64) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM pod_sharing_groups WHERE pod_id = ? AND sharing_group_id = ?`, podID, groupID)
	if err != nil {
		return fmt.Errorf("remove pod from group: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove pod from group rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("pod %d in group %d: %w", podID, groupID, core.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) ListGroupPods(ctx context.Context, groupID int64) ([]core.Pod, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT p.id, p.label, p.pod_type, p.member_id, p.pod_number
		 FROM pods p
		 JOIN pod_sharing_groups psg ON psg.pod_id = p.id
		 WHERE psg.sharing_group_id = ?
		 ORDER BY p.id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list group pods: %w", err)
	}
	defer rows.Close()

	var pods []core.Pod
	for rows.Next() {
		var p core.Pod
		var podType string
		if err := rows.Scan(&p.ID, &p.Label, &podType, &p.MemberID, &p.PodNumber); err != nil {
			return nil, fmt.Errorf("scan group pod: %w", err)
		}
		p.Type = core.PodType(podType)
		pods = append(pods, p)
	}
	return pods, rows.Err()
}
