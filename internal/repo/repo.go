package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"siteline/internal/config"
	"siteline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// ErrVersionConflict is returned when an optimistic record update lost
// a race: the row's version no longer matches the caller's snapshot.
var ErrVersionConflict = errors.New("record version conflict")

func (r Repo) InsertProjectTx(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO projects(id,name,status,created_at) VALUES (?,?,?,?)`,
		p.ID, nullable(p.Name), p.Status, p.CreatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	var p domain.Project
	err := r.DB.QueryRowContext(ctx, `SELECT id,COALESCE(name,''),status,created_at FROM projects WHERE id=?`, id).
		Scan(&p.ID, &p.Name, &p.Status, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

// SingleProject returns the only project in the workspace, or an error
// asking the caller to disambiguate.
func (r Repo) SingleProject(ctx context.Context) (domain.Project, error) {
	projects, err := r.ListProjects(ctx)
	if err != nil {
		return domain.Project{}, err
	}
	if len(projects) == 0 {
		return domain.Project{}, ErrNotFound
	}
	if len(projects) > 1 {
		return domain.Project{}, fmt.Errorf("multiple projects exist; specify --project")
	}
	return projects[0], nil
}

func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,COALESCE(name,''),status,created_at FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Status, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) UpsertProjectConfig(ctx context.Context, projectID string, cfg *config.Config) error {
	return upsertProjectConfig(ctx, r.DB, nil, projectID, cfg)
}

func (r Repo) UpsertProjectConfigTx(ctx context.Context, tx *sql.Tx, projectID string, cfg *config.Config) error {
	return upsertProjectConfig(ctx, nil, tx, projectID, cfg)
}

func upsertProjectConfig(ctx context.Context, db *sql.DB, tx *sql.Tx, projectID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Project.ID = projectID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	_, err = exec(`INSERT INTO project_configs(project_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(project_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, projectID, string(payload), now, now)
	return err
}

func (r Repo) GetProjectConfig(ctx context.Context, projectID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM project_configs WHERE project_id=?`, projectID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Project.ID == "" {
		cfg.Project.ID = projectID
	}
	return &cfg, cfg.Validate()
}

const recordColumns = `id,project_id,kind,status,title,description,report_number,creator_actor_id,organizer_actor_id,planned_close_date,rejection_reason,closure,version,created_at,updated_at,closed_at`

func (r Repo) InsertRecordTx(ctx context.Context, tx *sql.Tx, rec domain.Record) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO records(`+recordColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rec.ID, rec.ProjectID, string(rec.Kind), rec.Status, rec.Title, nullable(rec.Description), rec.ReportNumber,
		rec.CreatorActorID, nullableStringPtr(rec.OrganizerActorID), nullableStringPtr(rec.PlannedCloseDate),
		nullableStringPtr(rec.RejectionReason), rec.Closure, rec.Version, rec.CreatedAt, rec.UpdatedAt,
		nullableStringPtr(rec.ClosedAt))
	if err != nil {
		return err
	}
	return r.replaceAssigneesTx(ctx, tx, rec.ID, rec.AssignedActorIDs)
}

// UpdateRecordTx applies the mutated record with an optimistic version
// check. expectedVersion is the version the caller read; the row's
// version is bumped on success. Zero rows affected means another
// writer won the race.
func (r Repo) UpdateRecordTx(ctx context.Context, tx *sql.Tx, rec domain.Record, expectedVersion int64) error {
	res, err := tx.ExecContext(ctx, `UPDATE records SET status=?, title=?, description=?, rejection_reason=?, closure=?, version=version+1, updated_at=?, closed_at=? WHERE id=? AND version=?`,
		rec.Status, rec.Title, nullable(rec.Description), nullableStringPtr(rec.RejectionReason), rec.Closure,
		rec.UpdatedAt, nullableStringPtr(rec.ClosedAt), rec.ID, expectedVersion)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Distinguish a lost race from a missing row.
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT 1 FROM records WHERE id=?`, rec.ID).Scan(&exists); err == sql.ErrNoRows {
			return ErrNotFound
		} else if err != nil {
			return err
		}
		return ErrVersionConflict
	}
	return nil
}

func scanRecord(scan func(dest ...any) error) (domain.Record, error) {
	var rec domain.Record
	var kind string
	var description, organizer, planned, rejection, closedAt sql.NullString
	err := scan(&rec.ID, &rec.ProjectID, &kind, &rec.Status, &rec.Title, &description, &rec.ReportNumber,
		&rec.CreatorActorID, &organizer, &planned, &rejection, &rec.Closure, &rec.Version,
		&rec.CreatedAt, &rec.UpdatedAt, &closedAt)
	if err == sql.ErrNoRows {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, err
	}
	rec.Kind = domain.RecordKind(kind)
	if description.Valid {
		rec.Description = description.String
	}
	if organizer.Valid {
		rec.OrganizerActorID = &organizer.String
	}
	if planned.Valid {
		rec.PlannedCloseDate = &planned.String
	}
	if rejection.Valid {
		rec.RejectionReason = &rejection.String
	}
	if closedAt.Valid {
		rec.ClosedAt = &closedAt.String
	}
	return rec, nil
}

func (r Repo) GetRecord(ctx context.Context, id string) (domain.Record, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE id=?`, id)
	rec, err := scanRecord(row.Scan)
	if err != nil {
		return rec, err
	}
	rec.AssignedActorIDs, err = r.listAssignees(ctx, rec.ID)
	return rec, err
}

func (r Repo) GetRecordTx(ctx context.Context, tx *sql.Tx, id string) (domain.Record, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE id=?`, id)
	rec, err := scanRecord(row.Scan)
	if err != nil {
		return rec, err
	}
	rows, err := tx.QueryContext(ctx, `SELECT actor_id FROM record_assignees WHERE record_id=? ORDER BY slot ASC`, id)
	if err != nil {
		return rec, err
	}
	defer rows.Close()
	for rows.Next() {
		var actorID string
		if err := rows.Scan(&actorID); err != nil {
			return rec, err
		}
		rec.AssignedActorIDs = append(rec.AssignedActorIDs, actorID)
	}
	return rec, rows.Err()
}

func (r Repo) listAssignees(ctx context.Context, recordID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT actor_id FROM record_assignees WHERE record_id=? ORDER BY slot ASC`, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r Repo) replaceAssigneesTx(ctx context.Context, tx *sql.Tx, recordID string, actorIDs []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM record_assignees WHERE record_id=?`, recordID); err != nil {
		return err
	}
	for slot, actorID := range actorIDs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO record_assignees(record_id,slot,actor_id) VALUES (?,?,?)`,
			recordID, slot, actorID); err != nil {
			return err
		}
	}
	return nil
}

type RecordFilters struct {
	ProjectID       string
	Kind            domain.RecordKind
	Status          string
	AssigneeID      string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListRecords(ctx context.Context, f RecordFilters) ([]domain.Record, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Kind != "" {
		clauses = append(clauses, "kind=?")
		args = append(args, string(f.Kind))
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.AssigneeID != "" {
		clauses = append(clauses, "EXISTS (SELECT 1 FROM record_assignees a WHERE a.record_id=records.id AND a.actor_id=?)")
		args = append(args, f.AssigneeID)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + recordColumns + ` FROM records ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Record
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		res[i].AssignedActorIDs, err = r.listAssignees(ctx, res[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

// CountRecordsByStatus powers the project status summary.
func (r Repo) CountRecordsByStatus(ctx context.Context, projectID string, kind domain.RecordKind) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM records WHERE project_id=? AND kind=? GROUP BY status`,
		projectID, string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
