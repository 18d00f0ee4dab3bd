package repo_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brandline/internal/db"
	"brandline/internal/domain"
	"brandline/internal/migrate"
	"brandline/internal/repo"
)

const ts = "2024-03-01T09:00:00Z"

func openRepo(t *testing.T) (repo.Repo, context.Context) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	version, err := migrate.Migrate(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, 2, version)
	return repo.Repo{DB: conn}, ctx
}

func insertJob(t *testing.T, r repo.Repo, ctx context.Context, j domain.Job) domain.Job {
	t.Helper()
	tx, err := r.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()
	j.ID, err = r.NextSequenceTx(ctx, tx, repo.JobSequence)
	require.NoError(t, err)
	if j.Status == "" {
		j.Status = domain.StatusNew
	}
	if j.PersonType == "" {
		j.PersonType = domain.PersonIndividual
	}
	j.Version, j.CreatedAt, j.UpdatedAt = 1, ts, ts
	require.NoError(t, r.InsertJob(ctx, tx, j))
	_, err = r.AppendHistory(ctx, tx, domain.HistoryEntry{JobID: j.ID, Action: domain.ActionCreate, Status: j.Status, ActorID: j.OperatorID, ActorRole: domain.RoleOperator, At: ts})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	return j
}

func withTx(t *testing.T, r repo.Repo, ctx context.Context, fn func(tx *sql.Tx) error) error {
	t.Helper()
	tx, err := r.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func TestMigrateIsIdempotent(t *testing.T) {
	r, ctx := openRepo(t)
	version, err := migrate.Migrate(ctx, r.DB)
	require.NoError(t, err)
	assert.Equal(t, 2, version)
}

func TestJobRoundTrip(t *testing.T) {
	r, ctx := openRepo(t)
	j := insertJob(t, r, ctx, domain.Job{
		ClientName: "Ali", Phone: "+998901112233", OperatorID: "op-1",
		Documents: domain.Documents{Files: []string{"file://a/b.pdf"}},
	})
	got, err := r.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ali", got.ClientName)
	assert.Equal(t, []string{"file://a/b.pdf"}, got.Documents.Files)
	assert.Nil(t, got.CheckerID)
	require.Len(t, got.History, 1)
	assert.Equal(t, domain.StatusNew, got.History[0].Status)

	_, err = r.GetJob(ctx, 999)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestUpdateJobIfRequiresStatusAndVersion(t *testing.T) {
	r, ctx := openRepo(t)
	j := insertJob(t, r, ctx, domain.Job{Phone: "+998901112233", OperatorID: "op-1"})

	next := j
	next.Status = domain.StatusInProgress
	next.Version = 2
	err := withTx(t, r, ctx, func(tx *sql.Tx) error {
		return r.UpdateJobIf(ctx, tx, next, domain.StatusNew, 7)
	})
	assert.ErrorIs(t, err, repo.ErrConflict)

	err = withTx(t, r, ctx, func(tx *sql.Tx) error {
		return r.UpdateJobIf(ctx, tx, next, domain.StatusInProgress, 1)
	})
	assert.ErrorIs(t, err, repo.ErrConflict)

	require.NoError(t, withTx(t, r, ctx, func(tx *sql.Tx) error {
		return r.UpdateJobIf(ctx, tx, next, domain.StatusNew, 1)
	}))
	got, err := r.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, got.Status)
	assert.Equal(t, int64(2), got.Version)
}

func TestHistoryIsAppendOnly(t *testing.T) {
	r, ctx := openRepo(t)
	j := insertJob(t, r, ctx, domain.Job{Phone: "+998901112233", OperatorID: "op-1"})
	_, err := r.DB.ExecContext(ctx, `UPDATE job_history SET status='lawyer-completed' WHERE job_id=?`, j.ID)
	assert.ErrorContains(t, err, "append-only")
	_, err = r.DB.ExecContext(ctx, `DELETE FROM job_history WHERE job_id=?`, j.ID)
	assert.ErrorContains(t, err, "append-only")
}

func TestStatusCheckConstraint(t *testing.T) {
	r, ctx := openRepo(t)
	j := insertJob(t, r, ctx, domain.Job{Phone: "+998901112233", OperatorID: "op-1"})
	_, err := r.DB.ExecContext(ctx, `UPDATE jobs SET status='done' WHERE id=?`, j.ID)
	assert.Error(t, err)
}

func TestSequencesIncrementIndependently(t *testing.T) {
	r, ctx := openRepo(t)
	for want := int64(1); want <= 3; want++ {
		got, err := r.NextSequence(ctx, "assign.checker")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	got, err := r.NextSequence(ctx, "assign.lawyer")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)
}

func TestOutstandingLoad(t *testing.T) {
	r, ctx := openRepo(t)
	chk := func(s string) *string { return &s }
	insertJob(t, r, ctx, domain.Job{Phone: "1234567", OperatorID: "op", Status: domain.StatusBrandInReview, CheckerID: chk("chk-1")})
	insertJob(t, r, ctx, domain.Job{Phone: "1234567", OperatorID: "op", Status: domain.StatusDocumentsSubmitted, CheckerID: chk("chk-1")})
	insertJob(t, r, ctx, domain.Job{Phone: "1234567", OperatorID: "op", Status: domain.StatusDocumentsPending, CheckerID: chk("chk-2")})
	insertJob(t, r, ctx, domain.Job{Phone: "1234567", OperatorID: "op", Status: domain.StatusToLawyer, CheckerID: chk("chk-2"), LawyerID: chk("law-1")})

	load, err := r.OutstandingLoad(ctx, domain.RoleChecker)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"chk-1": 2}, load)

	load, err = r.OutstandingLoad(ctx, domain.RoleLawyer)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"law-1": 1}, load)

	_, err = r.OutstandingLoad(ctx, domain.RoleOperator)
	assert.Error(t, err)

	counts, err := r.CountJobsByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[string(domain.StatusToLawyer)])
}

func TestUsersAndKeys(t *testing.T) {
	r, ctx := openRepo(t)
	require.NoError(t, r.InsertUser(ctx, domain.User{ID: "chk-2", Role: domain.RoleChecker, Active: true, CreatedAt: ts}))
	require.NoError(t, r.InsertUser(ctx, domain.User{ID: "chk-1", Role: domain.RoleChecker, Active: true, ChatID: 42, CreatedAt: ts}))
	require.NoError(t, r.InsertUser(ctx, domain.User{ID: "law-1", Role: domain.RoleLawyer, Active: true, CreatedAt: ts}))
	require.NoError(t, r.SetUserActive(ctx, "chk-2", false))
	assert.ErrorIs(t, r.SetUserActive(ctx, "nobody", true), repo.ErrNotFound)

	active, err := r.ActiveUsers(ctx, domain.RoleChecker)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, int64(42), active[0].ChatID)

	all, err := r.ListUsers(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"chk-1", "chk-2", "law-1"}, []string{all[0].ID, all[1].ID, all[2].ID})

	plain, key, err := r.IssueAPIKey(ctx, "law-1", "ci")
	require.NoError(t, err)
	assert.Equal(t, repo.HashAPIKey(plain), key.KeyHash)
	u, err := r.UserByAPIKeyHash(ctx, repo.HashAPIKey(" "+plain+" "))
	require.NoError(t, err)
	assert.Equal(t, "law-1", u.ID)

	keys, err := r.ListAPIKeys(ctx, "law-1")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	require.NoError(t, r.DeleteAPIKey(ctx, key.ID))
	_, err = r.UserByAPIKeyHash(ctx, key.KeyHash)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestListJobsSearchIsLiteral(t *testing.T) {
	r, ctx := openRepo(t)
	cotton := insertJob(t, r, ctx, domain.Job{Phone: "1234567", OperatorID: "op", BrandName: "100% Cotton"})
	underscored := insertJob(t, r, ctx, domain.Job{Phone: "1234567", OperatorID: "op", BrandName: "Olma_Uz"})
	insertJob(t, r, ctx, domain.Job{Phone: "1234567", OperatorID: "op", BrandName: "OlmaXUz"})
	insertJob(t, r, ctx, domain.Job{Phone: "1234567", OperatorID: "op", ClientName: `C:\dir`})

	cases := []struct {
		search string
		want   []int64
	}{
		{"%", []int64{cotton.ID}},
		{"olma_", []int64{underscored.ID}},
		{`\`, []int64{4}},
		{"OLMA", []int64{3, underscored.ID}},
	}
	for _, tc := range cases {
		jobs, err := r.ListJobs(ctx, repo.JobFilters{Search: tc.search})
		require.NoError(t, err, tc.search)
		var ids []int64
		for _, j := range jobs {
			ids = append(ids, j.ID)
		}
		assert.Equal(t, tc.want, ids, tc.search)
	}
}
