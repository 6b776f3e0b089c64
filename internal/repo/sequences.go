package repo

import (
	"context"
	"database/sql"
	"fmt"

	"siteline/internal/domain"
)

// AllocateReportNumberTx issues the next report number for a
// (project, kind) pair. The upsert-increment-return is one statement,
// so concurrent creators serialize on the counter row and no two
// allocations can observe the same value; because it runs inside the
// record-creation transaction, a rolled-back create also rolls the
// counter back and no number is skipped.
func (r Repo) AllocateReportNumberTx(ctx context.Context, tx *sql.Tx, projectID string, kind domain.RecordKind, defaultPrefix string) (string, error) {
	row := tx.QueryRowContext(ctx, `INSERT INTO sequence_counters(project_id,kind,prefix,current_number) VALUES (?,?,?,1)
ON CONFLICT(project_id,kind) DO UPDATE SET current_number=current_number+1
RETURNING prefix, current_number`, projectID, string(kind), defaultPrefix)
	var prefix string
	var n int64
	if err := row.Scan(&prefix, &n); err != nil {
		return "", fmt.Errorf("allocate report number: %w", err)
	}
	return FormatReportNumber(prefix, n), nil
}

// FormatReportNumber renders a counter value as a human-readable
// report number, e.g. ("NO", 6) -> "NO-006".
func FormatReportNumber(prefix string, n int64) string {
	return fmt.Sprintf("%s-%03d", prefix, n)
}

func (r Repo) GetSequenceCounter(ctx context.Context, projectID string, kind domain.RecordKind) (domain.SequenceCounter, error) {
	var c domain.SequenceCounter
	var k string
	err := r.DB.QueryRowContext(ctx, `SELECT project_id,kind,prefix,current_number FROM sequence_counters WHERE project_id=? AND kind=?`,
		projectID, string(kind)).Scan(&c.ProjectID, &k, &c.Prefix, &c.CurrentNumber)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	c.Kind = domain.RecordKind(k)
	return c, err
}

// SetSequencePrefix changes the prefix used for future allocations,
// creating the counter row lazily if needed. Already-issued numbers
// are immutable.
func (r Repo) SetSequencePrefix(ctx context.Context, projectID string, kind domain.RecordKind, prefix string) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO sequence_counters(project_id,kind,prefix,current_number) VALUES (?,?,?,0)
ON CONFLICT(project_id,kind) DO UPDATE SET prefix=excluded.prefix`, projectID, string(kind), prefix)
	return err
}

func (r Repo) ListSequenceCounters(ctx context.Context, projectID string) ([]domain.SequenceCounter, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT project_id,kind,prefix,current_number FROM sequence_counters WHERE project_id=? ORDER BY kind ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SequenceCounter
	for rows.Next() {
		var c domain.SequenceCounter
		var k string
		if err := rows.Scan(&c.ProjectID, &k, &c.Prefix, &c.CurrentNumber); err != nil {
			return nil, err
		}
		c.Kind = domain.RecordKind(k)
		res = append(res, c)
	}
	return res, rows.Err()
}
