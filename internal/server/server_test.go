package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"brandline/internal/config"
	"brandline/internal/db"
	"brandline/internal/domain"
	"brandline/internal/engine"
	"brandline/internal/filestore"
	"brandline/internal/migrate"
)

const testSecret = "test-secret"

var (
	operator  = domain.Actor{ID: "op-1", Role: domain.RoleOperator}
	operator2 = domain.Actor{ID: "op-2", Role: domain.RoleOperator}
	checker1  = domain.Actor{ID: "chk-1", Role: domain.RoleChecker}
	checker2  = domain.Actor{ID: "chk-2", Role: domain.RoleChecker}
	lawyer    = domain.Actor{ID: "law-1", Role: domain.RoleLawyer}
	admin     = domain.Actor{ID: "adm-1", Role: domain.RoleAdmin}
)

type testServer struct {
	*httptest.Server
	engine engine.Engine
}

func newTestServer(t *testing.T, mutate ...func(*config.Config)) *testServer {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	require.NoError(t, err)
	_, err = migrate.Migrate(context.Background(), conn)
	require.NoError(t, err)

	cfg := config.Default()
	for _, m := range mutate {
		m(cfg)
	}
	e, err := engine.New(conn, cfg)
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e.Logger = logger
	files, err := filestore.NewLocal(filepath.Join(workspace, "files"))
	require.NoError(t, err)
	e.Files = files
	for _, a := range []domain.Actor{operator, operator2, checker1, checker2, lawyer, admin} {
		_, err := e.CreateUser(context.Background(), admin, domain.User{ID: a.ID, Role: a.Role, Active: true})
		require.NoError(t, err)
	}

	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Logger:   logger,
		Auth:     AuthConfig{JWTSecret: testSecret, TrustedHeaders: true, CacheSize: 8, CacheTTL: time.Minute},
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		conn.Close()
	})
	return &testServer{Server: srv, engine: e}
}

func as(a domain.Actor) map[string]string {
	return map[string]string{"X-Actor-Id": a.ID, "X-Actor-Role": string(a.Role)}
}

func doJSON(t *testing.T, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

// act posts an action and decodes the committed transition.
func (s *testServer) act(t *testing.T, a domain.Actor, jobID int64, action string, body any) TransitionResponse {
	t.Helper()
	res, data := doJSON(t, http.MethodPost, s.jobURL(jobID, action), body, as(a))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var out TransitionResponse
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func (s *testServer) jobURL(id int64, action string) string {
	u := s.URL + "/v1/jobs/" + itoa(id)
	if action != "" {
		u += "/" + action
	}
	return u
}

func itoa(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}

func (s *testServer) createJob(t *testing.T) domain.Job {
	t.Helper()
	res, data := doJSON(t, http.MethodPost, s.URL+"/v1/jobs", map[string]any{
		"client_name":    "Ali",
		"client_surname": "Valiev",
		"phone":          "+998901112233",
		"person_type":    "individual",
	}, as(operator))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var job domain.Job
	require.NoError(t, json.Unmarshal(data, &job))
	return job
}

type errorEnvelope struct {
	Error apiErrorBody `json:"error"`
}

func decodeError(t *testing.T, data []byte) apiErrorBody {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(data, &env), string(data))
	return env.Error
}

func TestJobPipelineOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	job := srv.createJob(t)
	assert.Equal(t, domain.StatusNew, job.Status)
	assert.Equal(t, operator.ID, job.OperatorID)

	srv.act(t, operator, job.ID, "start", nil)
	sent := srv.act(t, operator, job.ID, "send-for-review", map[string]any{"brand_name": "Olma", "expected_status": "in-progress"})
	require.NotNil(t, sent.Job.CheckerID)
	assert.Equal(t, checker1.ID, *sent.Job.CheckerID)
	assert.Equal(t, domain.StatusBrandInReview, sent.Entry.Status)

	srv.act(t, checker1, job.ID, "review-brand", map[string]any{"decision": "approve"})
	submitted := srv.act(t, operator, job.ID, "submit-documents", map[string]any{
		"documents": map[string]any{"individual": map[string]any{
			"full_name":       "Ali Valiev",
			"passport_series": "AA",
			"passport_number": "1234567",
			"address":         "Tashkent",
			"birth_date":      "1990-05-01",
		}},
		"attachments": []map[string]any{{"name": "passport.pdf", "content": []byte("%PDF-1.4")}},
	})
	require.Len(t, submitted.Job.Documents.Files, 1)
	assert.True(t, strings.HasPrefix(submitted.Job.Documents.Files[0], "file://"))

	toLawyer := srv.act(t, checker1, job.ID, "review-documents", map[string]any{"decision": "approve"})
	assert.Equal(t, domain.StatusToLawyer, toLawyer.Job.Status)
	require.NotNil(t, toLawyer.Job.LawyerID)

	srv.act(t, lawyer, job.ID, "accept", nil)
	done := srv.act(t, lawyer, job.ID, "complete", map[string]any{"certificates": []string{"cert-001"}})
	assert.Equal(t, domain.StatusLawyerCompleted, done.Job.Status)
	assert.NotNil(t, done.Job.CompletedAt)

	res, data := doJSON(t, http.MethodPost, srv.jobURL(job.ID, "accept"), nil, as(lawyer))
	assert.Equal(t, http.StatusConflict, res.StatusCode)
	assert.Equal(t, "invalid_transition", decodeError(t, data).Code)

	archived := srv.act(t, admin, job.ID, "archive", nil)
	again := srv.act(t, admin, job.ID, "archive", nil)
	assert.True(t, archived.Job.Archived)
	assert.Equal(t, archived.Entry.ID, again.Entry.ID)

	res, data = doJSON(t, http.MethodGet, srv.jobURL(job.ID, "history"), nil, as(operator))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var history HistoryResponse
	require.NoError(t, json.Unmarshal(data, &history))
	require.Len(t, history.Items, 9)
	assert.Equal(t, domain.ActionArchive, history.Items[8].Action)
	assert.Equal(t, domain.StatusLawyerCompleted, history.Items[8].Status)

	res, data = doJSON(t, http.MethodGet, srv.URL+"/v1/reports/completed", nil, as(admin))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var report CompletedResponse
	require.NoError(t, json.Unmarshal(data, &report))
	require.Len(t, report.Items, 1)
	assert.Equal(t, "Olma", report.Items[0].BrandName)
}

func TestErrorMapping(t *testing.T) {
	srv := newTestServer(t)
	job := srv.createJob(t)
	srv.act(t, operator, job.ID, "start", nil)
	srv.act(t, operator, job.ID, "send-for-review", map[string]any{"brand_name": "Olma"})

	cases := []struct {
		name   string
		method string
		url    string
		body   any
		actor  domain.Actor
		status int
		code   string
	}{
		{"other checker", http.MethodPost, srv.jobURL(job.ID, "review-brand"), map[string]any{"decision": "reject", "reason": "band"}, checker2, http.StatusForbidden, "forbidden"},
		{"reject without reason", http.MethodPost, srv.jobURL(job.ID, "review-brand"), map[string]any{"decision": "reject"}, checker1, http.StatusBadRequest, "validation_failed"},
		{"stale expected status", http.MethodPost, srv.jobURL(job.ID, "review-brand"), map[string]any{"decision": "approve", "expected_status": "new"}, checker1, http.StatusConflict, "conflict"},
		{"unknown job", http.MethodGet, srv.jobURL(404, ""), nil, admin, http.StatusNotFound, "not_found"},
		{"bad phone", http.MethodPost, srv.URL + "/v1/jobs", map[string]any{"phone": "12", "person_type": "individual"}, operator, http.StatusBadRequest, "validation_failed"},
		{"schema violation", http.MethodPost, srv.URL + "/v1/jobs", map[string]any{"phone": "+998901112233", "person_type": "robot"}, operator, http.StatusBadRequest, "validation_failed"},
		{"force disabled", http.MethodPost, srv.jobURL(job.ID, "force-status"), map[string]any{"status": "new", "expected_status": "brand-in-review", "reason": "reset"}, admin, http.StatusForbidden, "force_disabled"},
		{"payroll needs admin", http.MethodGet, srv.URL + "/v1/reports/completed", nil, operator, http.StatusForbidden, "forbidden"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, data := doJSON(t, tc.method, tc.url, tc.body, as(tc.actor))
			assert.Equal(t, tc.status, res.StatusCode, string(data))
			assert.Equal(t, tc.code, decodeError(t, data).Code)
		})
	}

	rejected := srv.act(t, checker1, job.ID, "review-brand", map[string]any{"decision": "reject", "reason": "band"})
	assert.Equal(t, domain.StatusReturnedToOperator, rejected.Job.Status)
	assert.Equal(t, "band", rejected.Entry.Reason)
}

func TestNoAssigneeIs422(t *testing.T) {
	srv := newTestServer(t)
	for _, id := range []string{checker1.ID, checker2.ID} {
		res, data := doJSON(t, http.MethodPut, srv.URL+"/v1/users/"+id+"/active", map[string]any{"active": false}, as(admin))
		require.Equal(t, http.StatusNoContent, res.StatusCode, string(data))
	}
	job := srv.createJob(t)
	srv.act(t, operator, job.ID, "start", nil)
	res, data := doJSON(t, http.MethodPost, srv.jobURL(job.ID, "send-for-review"), map[string]any{"brand_name": "Olma"}, as(operator))
	assert.Equal(t, http.StatusUnprocessableEntity, res.StatusCode)
	assert.Equal(t, "no_assignee", decodeError(t, data).Code)
}

func TestForceStatusWhenEnabled(t *testing.T) {
	srv := newTestServer(t, func(c *config.Config) { c.Admin.AllowForceStatus = true })
	job := srv.createJob(t)

	res, data := doJSON(t, http.MethodPost, srv.jobURL(job.ID, "force-status"), map[string]any{"status": "in-progress", "expected_status": "new", "reason": "client called"}, as(operator))
	assert.Equal(t, http.StatusForbidden, res.StatusCode, string(data))

	forced := srv.act(t, admin, job.ID, "force-status", map[string]any{"status": "in-progress", "expected_status": "new", "reason": "client called"})
	assert.Equal(t, domain.StatusInProgress, forced.Job.Status)
	assert.Equal(t, domain.ActionForceSetStatus, forced.Entry.Action)
}

func TestListScopedToCaller(t *testing.T) {
	srv := newTestServer(t)
	for i := 0; i < 3; i++ {
		srv.createJob(t)
	}
	res, data := doJSON(t, http.MethodPost, srv.URL+"/v1/jobs", map[string]any{
		"phone": "+998907778899", "person_type": "legal-entity", "brand_name": "Nur", "operator_id": "op-2",
	}, as(admin))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))

	res, data = doJSON(t, http.MethodGet, srv.URL+"/v1/jobs?limit=2", nil, as(operator))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var page JobListResponse
	require.NoError(t, json.Unmarshal(data, &page))
	require.Len(t, page.Items, 2)
	assert.NotZero(t, page.NextCursor)

	res, data = doJSON(t, http.MethodGet, srv.URL+"/v1/jobs?limit=2&cursor="+itoa(page.NextCursor), nil, as(operator))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var rest JobListResponse
	require.NoError(t, json.Unmarshal(data, &rest))
	assert.Len(t, rest.Items, 1)
	assert.Zero(t, rest.NextCursor)

	res, data = doJSON(t, http.MethodGet, srv.URL+"/v1/jobs?search=Nur", nil, as(admin))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var found JobListResponse
	require.NoError(t, json.Unmarshal(data, &found))
	require.Len(t, found.Items, 1)
	assert.Equal(t, "op-2", found.Items[0].OperatorID)

	res, data = doJSON(t, http.MethodGet, srv.URL+"/v1/jobs", nil, as(checker1))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var none JobListResponse
	require.NoError(t, json.Unmarshal(data, &none))
	assert.Empty(t, none.Items)
}

func TestAuthentication(t *testing.T) {
	srv := newTestServer(t)

	res, data := doJSON(t, http.MethodGet, srv.URL+"/v1/me", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "unauthorized", decodeError(t, data).Code)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: lawyer.ID, ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		Role:             string(domain.RoleLawyer),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	res, data = doJSON(t, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var who WhoAmIResponse
	require.NoError(t, json.Unmarshal(data, &who))
	assert.Equal(t, WhoAmIResponse{ActorID: lawyer.ID, Role: domain.RoleLawyer, Source: "jwt"}, who)

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: admin.ID},
		Role:             string(domain.RoleAdmin),
	}).SignedString([]byte("other-secret"))
	require.NoError(t, err)
	res, _ = doJSON(t, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"Authorization": "Bearer " + forged})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res, data = doJSON(t, http.MethodPost, srv.URL+"/v1/users/"+checker2.ID+"/keys", map[string]any{"name": "ci"}, as(admin))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var issued IssueKeyResponse
	require.NoError(t, json.Unmarshal(data, &issued))
	require.NotEmpty(t, issued.Key)

	for i := 0; i < 2; i++ {
		res, data = doJSON(t, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"X-Api-Key": issued.Key})
		require.Equal(t, http.StatusOK, res.StatusCode, string(data))
		require.NoError(t, json.Unmarshal(data, &who))
		assert.Equal(t, checker2.ID, who.ActorID)
		assert.Equal(t, "api_key", who.Source)
	}

	res, _ = doJSON(t, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"X-Actor-Id": "x", "X-Actor-Role": "boss"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestUntrustedHeadersRejected(t *testing.T) {
	srv := newTestServer(t)
	handler, err := New(Config{Engine: srv.engine, Auth: AuthConfig{JWTSecret: testSecret}})
	require.NoError(t, err)
	strict := httptest.NewServer(handler)
	defer strict.Close()

	res, _ := doJSON(t, http.MethodGet, strict.URL+"/v1/me", nil, as(admin))
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestPublicEndpoints(t *testing.T) {
	srv := newTestServer(t)
	srv.createJob(t)

	res, data := doJSON(t, http.MethodGet, srv.URL+"/v1/health", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Contains(t, string(data), `"ok"`)

	res, data = doJSON(t, http.MethodGet, srv.URL+"/v1/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var oas map[string]any
	require.NoError(t, json.Unmarshal(data, &oas))
	paths, _ := oas["paths"].(map[string]any)
	assert.Contains(t, paths, "/v1/jobs/{id}/review-brand")
	assert.Contains(t, paths, "/v1/reports/completed")

	res, data = doJSON(t, http.MethodGet, srv.URL+"/metrics", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(data), "brandline_transitions_total")

	res, data = doJSON(t, http.MethodGet, srv.URL+"/docs", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(data), "/v1/openapi.json")
}

func TestDeactivatedKeyStopsAtOnce(t *testing.T) {
	srv := newTestServer(t)
	key, _, err := srv.engine.IssueAPIKey(context.Background(), admin, operator.ID, "desk")
	require.NoError(t, err)
	withKey := map[string]string{"X-Api-Key": key}
	body := map[string]any{"phone": "+998901112233", "person_type": "individual"}

	res, data := doJSON(t, http.MethodPost, srv.URL+"/v1/jobs", body, withKey)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))

	res, data = doJSON(t, http.MethodPut, srv.URL+"/v1/users/"+operator.ID+"/active", map[string]any{"active": false}, as(admin))
	require.Equal(t, http.StatusNoContent, res.StatusCode, string(data))

	// The cache TTL is a minute; the key must fail on the very next request.
	res, data = doJSON(t, http.MethodPost, srv.URL+"/v1/jobs", body, withKey)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode, string(data))
	assert.Equal(t, "invalid_credentials", decodeError(t, data).Code)

	res, data = doJSON(t, http.MethodPut, srv.URL+"/v1/users/"+operator.ID+"/active", map[string]any{"active": true}, as(admin))
	require.Equal(t, http.StatusNoContent, res.StatusCode, string(data))
	res, data = doJSON(t, http.MethodGet, srv.URL+"/v1/me", nil, withKey)
	assert.Equal(t, http.StatusOK, res.StatusCode, string(data))
}

func TestOpenAPIServedConcurrently(t *testing.T) {
	srv := newTestServer(t)
	bodies := make([][]byte, 8)
	var g errgroup.Group
	for i := range bodies {
		g.Go(func() error {
			res, err := http.Get(srv.URL + "/v1/openapi.json")
			if err != nil {
				return err
			}
			defer res.Body.Close()
			bodies[i], err = io.ReadAll(res.Body)
			return err
		})
	}
	require.NoError(t, g.Wait())
	for _, b := range bodies[1:] {
		assert.Equal(t, bodies[0], b)
	}
	assert.True(t, json.Valid(bodies[0]))
}

func TestJobDetailListsNextActions(t *testing.T) {
	srv := newTestServer(t)
	job := srv.createJob(t)

	actions := func(a domain.Actor) []domain.Action {
		t.Helper()
		res, data := doJSON(t, http.MethodGet, srv.jobURL(job.ID, ""), nil, as(a))
		require.Equal(t, http.StatusOK, res.StatusCode, string(data))
		var detail JobDetail
		require.NoError(t, json.Unmarshal(data, &detail))
		assert.Equal(t, job.ID, detail.ID)
		return detail.Actions
	}
	assert.Equal(t, []domain.Action{domain.ActionStartWork}, actions(operator))
	assert.Equal(t, []domain.Action{domain.ActionStartWork}, actions(admin))

	srv.act(t, operator, job.ID, "start", nil)
	srv.act(t, operator, job.ID, "send-for-review", map[string]any{"brand_name": "Olma"})
	assert.Empty(t, actions(operator))
	assert.Equal(t, []domain.Action{domain.ActionApproveBrand, domain.ActionRejectBrand}, actions(checker1))

	res, _ := doJSON(t, http.MethodGet, srv.jobURL(job.ID, ""), nil, as(checker2))
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
}

func TestDownloadJobFile(t *testing.T) {
	srv := newTestServer(t)
	job := srv.createJob(t)
	srv.act(t, operator, job.ID, "start", nil)
	srv.act(t, operator, job.ID, "send-for-review", map[string]any{"brand_name": "Olma"})
	srv.act(t, checker1, job.ID, "review-brand", map[string]any{"decision": "approve"})
	submitted := srv.act(t, operator, job.ID, "submit-documents", map[string]any{
		"documents": map[string]any{"individual": map[string]any{
			"full_name":       "Ali Valiev",
			"passport_series": "AA",
			"passport_number": "1234567",
			"address":         "Tashkent",
			"birth_date":      "1990-05-01",
		}},
		"attachments": []map[string]any{{"name": "passport.pdf", "content": []byte("%PDF-1.4 scan")}},
	})
	require.Len(t, submitted.Job.Documents.Files, 1)
	ref := submitted.Job.Documents.Files[0]
	fileURL := srv.jobURL(job.ID, "files") + "?ref=" + url.QueryEscape(ref)

	res, data := doJSON(t, http.MethodGet, fileURL, nil, as(checker1))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, "%PDF-1.4 scan", string(data))
	assert.Equal(t, "application/pdf", res.Header.Get("Content-Type"))
	assert.Contains(t, res.Header.Get("Content-Disposition"), "attachment")

	res, data = doJSON(t, http.MethodGet, srv.jobURL(job.ID, "files")+"?ref="+url.QueryEscape("file://other/secret.pdf"), nil, as(admin))
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, "not_found", decodeError(t, data).Code)

	res, _ = doJSON(t, http.MethodGet, fileURL, nil, as(checker2))
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
}
