package repo

import (
	"context"
	"database/sql"

	"brandline/internal/domain"
)

// AppendHistory inserts one audit entry and returns its id. The table rejects
// updates and deletes, so entries are immutable once committed.
func (r Repo) AppendHistory(ctx context.Context, tx *sql.Tx, h domain.HistoryEntry) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO job_history(job_id,action,status,reason,actor_id,actor_role,at) VALUES (?,?,?,?,?,?,?)`,
		h.JobID, string(h.Action), string(h.Status), nullable(h.Reason), h.ActorID, string(h.ActorRole), h.At)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) ListHistory(ctx context.Context, jobID int64) ([]domain.HistoryEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,job_id,action,status,COALESCE(reason,''),actor_id,actor_role,at FROM job_history WHERE job_id=? ORDER BY id`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.HistoryEntry
	for rows.Next() {
		var h domain.HistoryEntry
		var action, status, role string
		if err := rows.Scan(&h.ID, &h.JobID, &action, &status, &h.Reason, &h.ActorID, &role, &h.At); err != nil {
			return nil, err
		}
		h.Action = domain.Action(action)
		h.Status = domain.Status(status)
		h.ActorRole = domain.Role(role)
		res = append(res, h)
	}
	return res, rows.Err()
}
