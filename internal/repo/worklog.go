package repo

import (
	"context"
	"database/sql"

	"siteline/internal/domain"
)

// Work-log entry kinds.
const (
	WorkLogWork      = "work"
	WorkLogRejection = "rejection"
)

// InsertWorkLogTx appends a work-log entry inside the caller's
// transaction. Entries are append-only; rejects retain prior entries.
func (r Repo) InsertWorkLogTx(ctx context.Context, tx *sql.Tx, e domain.WorkLogEntry) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO work_log(id, record_id, actor_id, kind, body, created_at) VALUES (?,?,?,?,?,?)`,
		e.ID, e.RecordID, e.ActorID, e.Kind, e.Body, e.CreatedAt)
	return err
}

func (r Repo) ListWorkLog(ctx context.Context, recordID string) ([]domain.WorkLogEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id, record_id, actor_id, kind, body, created_at FROM work_log WHERE record_id=? ORDER BY created_at ASC, id ASC`, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkLogEntry
	for rows.Next() {
		var e domain.WorkLogEntry
		if err := rows.Scan(&e.ID, &e.RecordID, &e.ActorID, &e.Kind, &e.Body, &e.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
