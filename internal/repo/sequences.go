package repo

import (
	"context"
	"database/sql"
)

const JobSequence = "jobs"

// NextSequence increments the named counter in its own transaction.
func (r Repo) NextSequence(ctx context.Context, name string) (int64, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	v, err := r.NextSequenceTx(ctx, tx, name)
	if err != nil {
		return 0, err
	}
	return v, tx.Commit()
}

// NextSequenceTx increments the named counter inside tx. The upsert is a single
// statement, so concurrent callers can never observe the same value.
func (r Repo) NextSequenceTx(ctx context.Context, tx *sql.Tx, name string) (int64, error) {
	var v int64
	err := tx.QueryRowContext(ctx, `INSERT INTO sequences(name, value) VALUES (?, 1)
ON CONFLICT(name) DO UPDATE SET value = value + 1
RETURNING value`, name).Scan(&v)
	return v, err
}
