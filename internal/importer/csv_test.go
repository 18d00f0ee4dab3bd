package importer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brandline/internal/config"
	"brandline/internal/db"
	"brandline/internal/domain"
	"brandline/internal/engine"
	"brandline/internal/migrate"
)

type fakeCreator struct {
	reqs []engine.CreateJobRequest
	fail map[string]error
}

func (f *fakeCreator) CreateJob(_ context.Context, req engine.CreateJobRequest) (domain.Job, error) {
	if err, ok := f.fail[req.Phone]; ok {
		return domain.Job{}, err
	}
	f.reqs = append(f.reqs, req)
	return domain.Job{ID: int64(len(f.reqs))}, nil
}

var op = domain.Actor{ID: "op-1", Role: domain.RoleOperator}

func TestImportCollectsRowErrors(t *testing.T) {
	creator := &fakeCreator{fail: map[string]error{
		"bad": engine.ValidationError{Field: "phone", Reason: "must be 7-15 digits with optional leading +"},
	}}
	input := "\ufeffClient_Name,client_surname,phone,brand_name,person_type\n" +
		"Ali,Valiev,+998901112233,Olma,Individual\n" +
		"Bad,Row,bad,X,individual\n" +
		",,,,\n" +
		"Olma LLC,,+998907778899,Olma,legal-entity\n"

	report, err := CSV{Jobs: creator, Actor: op}.Import(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, report.Created)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, 3, report.Errors[0].Line)
	assert.Contains(t, report.Errors[0].Err, "phone")

	require.Len(t, creator.reqs, 2)
	assert.Equal(t, "Ali", creator.reqs[0].ClientName)
	assert.Equal(t, domain.PersonIndividual, creator.reqs[0].PersonType)
	assert.Equal(t, op, creator.reqs[0].Actor)
	assert.Equal(t, domain.PersonLegalEntity, creator.reqs[1].PersonType)
}

func TestImportRequiresColumns(t *testing.T) {
	_, err := CSV{Jobs: &fakeCreator{}, Actor: op}.Import(context.Background(), strings.NewReader("name,phone\nA,123\n"))
	assert.ErrorContains(t, err, "person_type")

	_, err = CSV{Jobs: &fakeCreator{}, Actor: op}.Import(context.Background(), strings.NewReader(""))
	assert.ErrorContains(t, err, "header")
}

func TestImportStopsOnStoreFailure(t *testing.T) {
	creator := &fakeCreator{fail: map[string]error{
		"2222222": engine.StoreError{Op: "commit", Err: errors.New("disk I/O error")},
	}}
	input := "phone;person_type\n1111111;individual\n2222222;individual\n3333333;individual\n"
	report, err := CSV{Jobs: creator, Actor: op, Comma: ';'}.Import(context.Background(), strings.NewReader(input))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 3")
	assert.Equal(t, []int64{1}, report.Created)
}

func TestImportReportsPhysicalLines(t *testing.T) {
	creator := &fakeCreator{fail: map[string]error{
		"bad": engine.ValidationError{Field: "phone", Reason: "must be 7-15 digits with optional leading +"},
	}}
	input := "client_name,phone,person_type\n" +
		"\"Ali\nValiev\",+998901112233,individual\n" +
		"Bad,bad,individual\n" +
		"Nodir,\"+99890\"1,individual\n"

	report, err := CSV{Jobs: creator, Actor: op}.Import(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, report.Created)
	assert.Equal(t, "Ali\nValiev", creator.reqs[0].ClientName)
	require.Len(t, report.Errors, 2)
	assert.Equal(t, 4, report.Errors[0].Line)
	assert.Contains(t, report.Errors[0].Err, "phone")
	assert.Equal(t, 5, report.Errors[1].Line)
}

func TestImportRejectsForeignOperator(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	_, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)
	eng, err := engine.New(conn, config.Default())
	require.NoError(t, err)
	eng.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	admin := domain.Actor{ID: "adm-1", Role: domain.RoleAdmin}
	for _, u := range []domain.User{{ID: "op-1", Role: domain.RoleOperator, Active: true}, {ID: "chk-1", Role: domain.RoleChecker, Active: true}} {
		_, err := eng.CreateUser(ctx, admin, u)
		require.NoError(t, err)
	}

	input := "phone,person_type,operator_id\n" +
		"+998901112233,individual,op-1\n" +
		"+998901112234,individual,chk-1\n" +
		"+998901112235,individual,ghost\n"
	report, err := CSV{Jobs: eng, Actor: admin}.Import(ctx, strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, report.Created)
	require.Len(t, report.Errors, 2)
	assert.Equal(t, 3, report.Errors[0].Line)
	assert.Contains(t, report.Errors[0].Err, "operator_id")
	assert.Equal(t, 4, report.Errors[1].Line)
	assert.Contains(t, report.Errors[1].Err, "operator_id")
}
