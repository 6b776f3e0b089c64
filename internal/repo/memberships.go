package repo

import (
	"context"
	"database/sql"

	"siteline/internal/domain"
)

func (r Repo) EnsureActorTx(ctx context.Context, tx *sql.Tx, actorID, globalRole, now string) error {
	if globalRole == "" {
		globalRole = "user"
	}
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO actors(id, global_role, created_at) VALUES (?,?,?)`,
		actorID, globalRole, now)
	return err
}

// SetGlobalRole changes an actor's global role (user/admin/super_admin).
func (r Repo) SetGlobalRole(ctx context.Context, actorID, globalRole string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE actors SET global_role=? WHERE id=?`, globalRole, actorID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetActor(ctx context.Context, actorID string) (domain.Actor, error) {
	var a domain.Actor
	err := r.DB.QueryRowContext(ctx, `SELECT id, global_role, created_at FROM actors WHERE id=?`, actorID).
		Scan(&a.ID, &a.GlobalRole, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

func (r Repo) UpsertMembershipTx(ctx context.Context, tx *sql.Tx, projectID, actorID string, projectOwner bool, now string) error {
	owner := 0
	if projectOwner {
		owner = 1
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO memberships(project_id, actor_id, project_owner, created_at) VALUES (?,?,?,?)
ON CONFLICT(project_id, actor_id) DO UPDATE SET project_owner=excluded.project_owner`,
		projectID, actorID, owner, now)
	return err
}

func (r Repo) GetMembership(ctx context.Context, projectID, actorID string) (domain.Membership, error) {
	var m domain.Membership
	var owner int
	err := r.DB.QueryRowContext(ctx, `SELECT project_id, actor_id, project_owner, created_at FROM memberships WHERE project_id=? AND actor_id=?`,
		projectID, actorID).Scan(&m.ProjectID, &m.ActorID, &owner, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	m.ProjectOwner = owner == 1
	m.Capabilities, err = r.ListCapabilities(ctx, projectID, actorID)
	return m, err
}

func (r Repo) ListMemberships(ctx context.Context, projectID string) ([]domain.Membership, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT project_id, actor_id, project_owner, created_at FROM memberships WHERE project_id=? ORDER BY actor_id ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Membership
	for rows.Next() {
		var m domain.Membership
		var owner int
		if err := rows.Scan(&m.ProjectID, &m.ActorID, &owner, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.ProjectOwner = owner == 1
		res = append(res, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		res[i].Capabilities, err = r.ListCapabilities(ctx, projectID, res[i].ActorID)
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

// DeleteMembershipTx removes the membership and its capability rows.
func (r Repo) DeleteMembershipTx(ctx context.Context, tx *sql.Tx, projectID, actorID string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM capabilities WHERE project_id=? AND actor_id=?`, projectID, actorID); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM memberships WHERE project_id=? AND actor_id=?`, projectID, actorID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteMembership(ctx context.Context, projectID, actorID string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := r.DeleteMembershipTx(ctx, tx, projectID, actorID); err != nil {
		return err
	}
	return tx.Commit()
}

func (r Repo) GrantCapabilityTx(ctx context.Context, tx *sql.Tx, projectID, actorID, capability string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO capabilities(project_id, actor_id, capability) VALUES (?,?,?)`,
		projectID, actorID, capability)
	return err
}

func (r Repo) RevokeCapabilityTx(ctx context.Context, tx *sql.Tx, projectID, actorID, capability string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM capabilities WHERE project_id=? AND actor_id=? AND capability=?`,
		projectID, actorID, capability)
	return err
}

func (r Repo) ListCapabilities(ctx context.Context, projectID, actorID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT capability FROM capabilities WHERE project_id=? AND actor_id=? ORDER BY capability ASC`,
		projectID, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var caps []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		caps = append(caps, c)
	}
	return caps, rows.Err()
}
