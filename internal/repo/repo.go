package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"brandline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a conditional job update matched no row.
	ErrConflict = errors.New("job was modified concurrently")
)

const jobColumns = `id,client_name,client_surname,phone,brand_name,person_type,status,operator_id,checker_id,lawyer_id,documents_json,certificates_json,archived,archived_at,completed_at,version,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (domain.Job, error) {
	var j domain.Job
	var clientName, clientSurname, brand sql.NullString
	var checkerID, lawyerID, archivedAt, completed sql.NullString
	var docsJSON, certsJSON, personType, status string
	var archived int
	err := row.Scan(&j.ID, &clientName, &clientSurname, &j.Phone, &brand, &personType, &status, &j.OperatorID,
		&checkerID, &lawyerID, &docsJSON, &certsJSON, &archived, &archivedAt, &completed, &j.Version, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return j, ErrNotFound
	}
	if err != nil {
		return j, err
	}
	j.ClientName = clientName.String
	j.ClientSurname = clientSurname.String
	j.BrandName = brand.String
	j.PersonType = domain.PersonType(personType)
	j.Status = domain.Status(status)
	j.CheckerID = optional(checkerID)
	j.LawyerID = optional(lawyerID)
	j.ArchivedAt = optional(archivedAt)
	j.CompletedAt = optional(completed)
	j.Archived = archived != 0
	if err := json.Unmarshal([]byte(docsJSON), &j.Documents); err != nil {
		return j, fmt.Errorf("job %d documents: %w", j.ID, err)
	}
	if err := json.Unmarshal([]byte(certsJSON), &j.Certificates); err != nil {
		return j, fmt.Errorf("job %d certificates: %w", j.ID, err)
	}
	return j, nil
}

// InsertJob stores a new job. The id must already be allocated from the jobs sequence.
func (r Repo) InsertJob(ctx context.Context, tx *sql.Tx, j domain.Job) error {
	docs, certs, err := encodeJobPayload(j)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO jobs(`+jobColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		j.ID, nullable(j.ClientName), nullable(j.ClientSurname), j.Phone, nullable(j.BrandName), string(j.PersonType), string(j.Status),
		j.OperatorID, nullableStringPtr(j.CheckerID), nullableStringPtr(j.LawyerID), docs, certs, boolInt(j.Archived),
		nullableStringPtr(j.ArchivedAt), nullableStringPtr(j.CompletedAt), j.Version, j.CreatedAt, j.UpdatedAt)
	return err
}

// UpdateJobIf writes the job only if the stored row still has the expected status and version.
// The stored version is bumped by one; j.Version must carry the new value.
func (r Repo) UpdateJobIf(ctx context.Context, tx *sql.Tx, j domain.Job, expected domain.Status, expectedVersion int64) error {
	docs, certs, err := encodeJobPayload(j)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE jobs SET client_name=?, client_surname=?, phone=?, brand_name=?, status=?, checker_id=?, lawyer_id=?,
documents_json=?, certificates_json=?, archived=?, archived_at=?, completed_at=?, version=?, updated_at=?
WHERE id=? AND status=? AND version=?`,
		nullable(j.ClientName), nullable(j.ClientSurname), j.Phone, nullable(j.BrandName), string(j.Status),
		nullableStringPtr(j.CheckerID), nullableStringPtr(j.LawyerID), docs, certs, boolInt(j.Archived),
		nullableStringPtr(j.ArchivedAt), nullableStringPtr(j.CompletedAt), j.Version, j.UpdatedAt,
		j.ID, string(expected), expectedVersion)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// GetJob returns the job with its full history.
func (r Repo) GetJob(ctx context.Context, id int64) (domain.Job, error) {
	j, err := scanJob(r.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=?`, id))
	if err != nil {
		return j, err
	}
	j.History, err = r.ListHistory(ctx, id)
	return j, err
}

type JobFilters struct {
	Role     domain.Role
	ActorID  string
	Status   domain.Status
	Search   string
	Archived *bool
	// AfterID pages by descending id: only jobs with id < AfterID are returned.
	AfterID int64
	Limit   int
}

// likeEscaper makes search text match literally under LIKE ... ESCAPE '\'.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// ListJobs returns jobs newest first. History is not loaded.
func (r Repo) ListJobs(ctx context.Context, f JobFilters) ([]domain.Job, error) {
	var (
		clauses []string
		args    []any
	)
	switch f.Role {
	case domain.RoleOperator:
		clauses = append(clauses, "operator_id=?")
		args = append(args, f.ActorID)
	case domain.RoleChecker:
		clauses = append(clauses, "checker_id=?")
		args = append(args, f.ActorID)
	case domain.RoleLawyer:
		clauses = append(clauses, "lawyer_id=?")
		args = append(args, f.ActorID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, string(f.Status))
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		like := "%" + likeEscaper.Replace(strings.ToLower(s)) + "%"
		clauses = append(clauses, `(LOWER(COALESCE(client_name,'')) LIKE ? ESCAPE '\' OR LOWER(COALESCE(client_surname,'')) LIKE ? ESCAPE '\' OR phone LIKE ? ESCAPE '\' OR LOWER(COALESCE(brand_name,'')) LIKE ? ESCAPE '\')`)
		args = append(args, like, like, like, like)
	}
	if f.Archived != nil {
		clauses = append(clauses, "archived=?")
		args = append(args, boolInt(*f.Archived))
	}
	if f.AfterID > 0 {
		clauses = append(clauses, "id < ?")
		args = append(args, f.AfterID)
	}
	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, j)
	}
	return res, rows.Err()
}

// ListCompleted returns lawyer-completed jobs whose completion falls in [from, to).
// Empty bounds are open.
func (r Repo) ListCompleted(ctx context.Context, from, to string) ([]domain.CompletedJob, error) {
	clauses := []string{"status=?", "completed_at IS NOT NULL"}
	args := []any{string(domain.StatusLawyerCompleted)}
	if from != "" {
		clauses = append(clauses, "completed_at >= ?")
		args = append(args, from)
	}
	if to != "" {
		clauses = append(clauses, "completed_at < ?")
		args = append(args, to)
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id, COALESCE(brand_name,''), operator_id, checker_id, lawyer_id, created_at, completed_at
FROM jobs WHERE `+strings.Join(clauses, " AND ")+` ORDER BY completed_at, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CompletedJob
	for rows.Next() {
		var c domain.CompletedJob
		var checker, lawyer sql.NullString
		if err := rows.Scan(&c.JobID, &c.BrandName, &c.OperatorID, &checker, &lawyer, &c.CreatedAt, &c.CompletedAt); err != nil {
			return nil, err
		}
		c.CheckerID = optional(checker)
		c.LawyerID = optional(lawyer)
		res = append(res, c)
	}
	return res, rows.Err()
}

// CountJobsByStatus powers the status overview.
func (r Repo) CountJobsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs WHERE archived=0 GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// awaiting lists the states in which a bound user of the role still owes work.
var awaiting = map[domain.Role][]domain.Status{
	domain.RoleChecker: {domain.StatusBrandInReview, domain.StatusDocumentsSubmitted},
	domain.RoleLawyer:  {domain.StatusToLawyer, domain.StatusLawyerProcessing},
}

// OutstandingLoad counts, per user, the jobs bound to them that are waiting on their role.
func (r Repo) OutstandingLoad(ctx context.Context, role domain.Role) (map[string]int, error) {
	var column string
	switch role {
	case domain.RoleChecker:
		column = "checker_id"
	case domain.RoleLawyer:
		column = "lawyer_id"
	default:
		return nil, fmt.Errorf("no load for role %s", role)
	}
	statuses := awaiting[role]
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	args := make([]any, 0, len(statuses))
	for _, st := range statuses {
		args = append(args, string(st))
	}
	rows, err := r.DB.QueryContext(ctx, fmt.Sprintf(`SELECT %s, COUNT(*) FROM jobs WHERE %s IS NOT NULL AND status IN (%s) GROUP BY %s`,
		column, column, placeholders, column), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	load := map[string]int{}
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		load[id] = n
	}
	return load, rows.Err()
}

func encodeJobPayload(j domain.Job) (string, string, error) {
	docs, err := json.Marshal(j.Documents)
	if err != nil {
		return "", "", fmt.Errorf("encode documents: %w", err)
	}
	certs := j.Certificates
	if certs == nil {
		certs = []string{}
	}
	certsJSON, err := json.Marshal(certs)
	if err != nil {
		return "", "", fmt.Errorf("encode certificates: %w", err)
	}
	return string(docs), string(certsJSON), nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func optional(v sql.NullString) *string {
	if !v.Valid || v.String == "" {
		return nil
	}
	s := v.String
	return &s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
