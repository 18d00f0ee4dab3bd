package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"brandline/internal/domain"
)

func (r Repo) InsertUser(ctx context.Context, u domain.User) error {
	if strings.TrimSpace(u.ID) == "" {
		return errors.New("user id required")
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO users(id,name,role,active,chat_id,created_at) VALUES (?,?,?,?,?,?)`,
		u.ID, nullable(u.Name), string(u.Role), boolInt(u.Active), nullableInt64(u.ChatID), u.CreatedAt)
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT id,COALESCE(name,''),role,active,COALESCE(chat_id,0),created_at FROM users WHERE id=?`, id))
}

// SetUserActive toggles eligibility for assignment.
func (r Repo) SetUserActive(ctx context.Context, id string, active bool) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE users SET active=? WHERE id=?`, boolInt(active), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUsers returns users ordered by id, optionally filtered by role.
func (r Repo) ListUsers(ctx context.Context, role domain.Role) ([]domain.User, error) {
	return r.listUsers(ctx, role, false)
}

// ActiveUsers returns the assignable users of a role.
func (r Repo) ActiveUsers(ctx context.Context, role domain.Role) ([]domain.User, error) {
	return r.listUsers(ctx, role, true)
}

func (r Repo) listUsers(ctx context.Context, role domain.Role, activeOnly bool) ([]domain.User, error) {
	var (
		clauses []string
		args    []any
	)
	if role != "" {
		clauses = append(clauses, "role=?")
		args = append(args, string(role))
	}
	if activeOnly {
		clauses = append(clauses, "active=1")
	}
	query := `SELECT id,COALESCE(name,''),role,active,COALESCE(chat_id,0),created_at FROM users`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id"
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func scanUser(row rowScanner) (domain.User, error) {
	var u domain.User
	var role string
	var active int
	err := row.Scan(&u.ID, &u.Name, &role, &active, &u.ChatID, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	u.Role = domain.Role(role)
	u.Active = active != 0
	return u, err
}

func nullableInt64(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
