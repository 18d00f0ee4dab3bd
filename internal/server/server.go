package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"brandline/internal/domain"
	"brandline/internal/engine"
	"brandline/internal/engine/assign"
	"brandline/internal/engine/guard"
	"brandline/internal/engine/transition"
	"brandline/internal/metrics"
	"brandline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Logger   *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"action accept_by_lawyer is not allowed from status lawyer-completed"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

var errorStatuses = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusServiceUnavailable,
}

// New returns an HTTP handler exposing the Brandline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = logger
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		code := ""
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema errors share the 400 of engine validation.
			status = http.StatusBadRequest
			code = "validation_failed"
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, code, msg, details)
	}

	router := chi.NewRouter()
	router.Use(requestLogger(logger))
	router.Use(metrics.Middleware)
	keys := newKeyAuthenticator(cfg.Engine.Repo, cfg.Auth.CacheSize, cfg.Auth.CacheTTL)
	router.Use(newAuthMiddleware(basePath, cfg.Auth, keys))
	hcfg := huma.DefaultConfig("Brandline API", "1.0.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	router.Handle("/metrics", metrics.Handler())
	registerDocs(router, basePath)
	registerHealth(group, cfg.Engine)
	registerJobs(group, cfg.Engine)
	registerActions(group, cfg.Engine)
	registerReports(group, cfg.Engine)
	registerUsers(group, cfg.Engine, keys)
	registerMe(group)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := metrics.WrapStatus(w)
			next.ServeHTTP(rw, r)

			level := slog.LevelInfo
			switch status := rw.Status(); {
			case status >= 500:
				level = slog.LevelError
			case status >= 400:
				level = slog.LevelWarn
			}
			logger.LogAttrs(r.Context(), level, "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rw.Status()),
				slog.Duration("duration", time.Since(start)),
				slog.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var (
		statusErr  huma.StatusError
		validation engine.ValidationError
		forbidden  guard.ForbiddenError
		invalid    transition.InvalidTransitionError
		conflict   engine.ConflictError
		store      engine.StoreError
	)
	switch {
	case errors.As(err, &statusErr):
		return statusErr
	case errors.As(err, &validation):
		return newAPIError(http.StatusBadRequest, "validation_failed", err.Error(), map[string]any{"field": validation.Field, "reason": validation.Reason})
	case errors.Is(err, engine.ErrForceDisabled):
		return newAPIError(http.StatusForbidden, "force_disabled", err.Error(), nil)
	case errors.As(err, &forbidden):
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"reason": forbidden.Reason})
	case errors.As(err, &invalid):
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), map[string]any{"from": invalid.From, "action": invalid.Action})
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.As(err, &conflict):
		details := map[string]any{"job_id": conflict.JobID}
		if conflict.Expected != "" {
			details["expected"] = conflict.Expected
		}
		if conflict.Actual != "" {
			details["actual"] = conflict.Actual
		}
		return newAPIError(http.StatusConflict, "conflict", err.Error(), details)
	case errors.Is(err, assign.ErrNoCandidate):
		return newAPIError(http.StatusUnprocessableEntity, "no_assignee", err.Error(), nil)
	case errors.As(err, &store):
		return newAPIError(http.StatusServiceUnavailable, "store_unavailable", "storage unavailable", map[string]any{"op": store.Op})
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	specPath := path.Join(basePath, "openapi.json")
	spec := sync.OnceValue(func() []byte {
		oas := api.OpenAPI()
		ensureDefaultErrorResponses(oas)
		applyAuthSecurity(oas, basePath)
		b, _ := json.Marshal(oas)
		return b
	})
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec())
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	if oas.Components != nil && oas.Components.Schemas != nil {
		oas.Components.Schemas.Schema(reflect.TypeOf(apiError{}), true, "ApiError")
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Patch,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Patch,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Brandline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Errors:      []int{http.StatusServiceUnavailable},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		if e.DB != nil {
			if err := e.DB.PingContext(ctx); err != nil {
				return nil, handleError(engine.StoreError{Op: "ping", Err: err})
			}
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

type jobPath struct {
	ID int64 `path:"id" minimum:"1"`
}

type fileOutput struct {
	ContentType        string `header:"Content-Type"`
	ContentDisposition string `header:"Content-Disposition"`
	Body               []byte
}

type listJobsInput struct {
	Role     string `query:"role" enum:"operator,checker,lawyer,admin" doc:"Admin only: scope to one user's queue, with user_id"`
	UserID   string `query:"user_id"`
	Status   string `query:"status"`
	Search   string `query:"search" doc:"Matches client name, surname, phone or brand"`
	Archived string `query:"archived" enum:"true,false"`
	Limit    int    `query:"limit" minimum:"0" maximum:"200"`
	Cursor   int64  `query:"cursor" minimum:"0"`
}

func registerJobs(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-job",
		Method:        http.MethodPost,
		Path:          "/jobs",
		Summary:       "Create job",
		DefaultStatus: http.StatusCreated,
		Errors:        errorStatuses,
	}, func(ctx context.Context, input *struct {
		Body CreateJobRequest `json:"body"`
	}) (*struct {
		Body domain.Job `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		job, err := e.CreateJob(ctx, engine.CreateJobRequest{
			Actor:         actor,
			ClientName:    input.Body.ClientName,
			ClientSurname: input.Body.ClientSurname,
			Phone:         input.Body.Phone,
			BrandName:     input.Body.BrandName,
			PersonType:    domain.PersonType(input.Body.PersonType),
			OperatorID:    input.Body.OperatorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Job `json:"body"`
		}{Body: job}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-jobs",
		Method:      http.MethodGet,
		Path:        "/jobs",
		Summary:     "List jobs visible to the caller",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *listJobsInput) (*struct {
		Body JobListResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.ListOptions{
			Role:   domain.Role(input.Role),
			UserID: input.UserID,
			Status: domain.Status(input.Status),
			Search: input.Search,
			Limit:  input.Limit,
			Cursor: input.Cursor,
		}
		if input.Archived != "" {
			archived := input.Archived == "true"
			opts.Archived = &archived
		}
		jobs, next, err := e.ListJobs(ctx, actor, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body JobListResponse `json:"body"`
		}{Body: JobListResponse{Items: nonNilSlice(jobs), NextCursor: next}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-job",
		Method:      http.MethodGet,
		Path:        "/jobs/{id}",
		Summary:     "Get job with history",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *jobPath) (*struct {
		Body JobDetail `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		job, err := e.GetJob(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body JobDetail `json:"body"`
		}{Body: JobDetail{Job: job, Actions: e.NextActions(job, actor)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "job-file",
		Method:      http.MethodGet,
		Path:        "/jobs/{id}/files",
		Summary:     "Download a stored document or certificate",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *struct {
		ID  int64  `path:"id" minimum:"1"`
		Ref string `query:"ref" required:"true" doc:"Reference from documents.files or certificates"`
	}) (*fileOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		f, err := e.OpenFile(ctx, actor, input.ID, input.Ref)
		if err != nil {
			return nil, handleError(err)
		}
		defer f.Close()
		content, err := io.ReadAll(f)
		if err != nil {
			return nil, handleError(engine.StoreError{Op: "read file", Err: err})
		}
		return &fileOutput{
			ContentType:        http.DetectContentType(content),
			ContentDisposition: mime.FormatMediaType("attachment", map[string]string{"filename": path.Base(input.Ref)}),
			Body:               content,
		}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "job-history",
		Method:      http.MethodGet,
		Path:        "/jobs/{id}/history",
		Summary:     "Job audit trail",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *jobPath) (*struct {
		Body HistoryResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		entries, err := e.History(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body HistoryResponse `json:"body"`
		}{Body: HistoryResponse{Items: nonNilSlice(entries)}}, nil
	})
}

// actionInput is the shape of every POST /jobs/{id}/<action>. The body is
// optional so bare actions can be sent without one.
type actionInput[B any] struct {
	ID   int64 `path:"id" minimum:"1"`
	Body *B    `json:"body" required:"false"`
}

func (in *actionInput[B]) body() B {
	if in.Body == nil {
		var zero B
		return zero
	}
	return *in.Body
}

type actionFunc[B any] func(ctx context.Context, actor domain.Actor, jobID int64, body B) (engine.Result, error)

func registerAction[B any](api huma.API, op huma.Operation, run actionFunc[B]) {
	op.Method = http.MethodPost
	op.Errors = errorStatuses
	huma.Register(api, op, func(ctx context.Context, input *actionInput[B]) (*struct {
		Body TransitionResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := run(ctx, actor, input.ID, input.body())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TransitionResponse `json:"body"`
		}{Body: transitionResponse(res)}, nil
	})
}

func registerActions(api huma.API, e engine.Engine) {
	registerAction(api, huma.Operation{
		OperationID: "start-work",
		Path:        "/jobs/{id}/start",
		Summary:     "Operator starts work on a new job",
	}, func(ctx context.Context, actor domain.Actor, id int64, in ExpectedRequest) (engine.Result, error) {
		return e.StartWork(ctx, id, actor, domain.Status(in.ExpectedStatus))
	})

	registerAction(api, huma.Operation{
		OperationID: "send-for-review",
		Path:        "/jobs/{id}/send-for-review",
		Summary:     "Send brand for checker review",
	}, func(ctx context.Context, actor domain.Actor, id int64, in SendForReviewRequest) (engine.Result, error) {
		return e.SendForReview(ctx, id, actor, in.BrandName, domain.Status(in.ExpectedStatus))
	})

	registerAction(api, huma.Operation{
		OperationID: "review-brand",
		Path:        "/jobs/{id}/review-brand",
		Summary:     "Checker approves or rejects the brand",
	}, func(ctx context.Context, actor domain.Actor, id int64, in ReviewRequest) (engine.Result, error) {
		decision, err := engine.ParseDecision(in.Decision)
		if err != nil {
			return engine.Result{}, err
		}
		return e.ReviewBrand(ctx, id, actor, decision, in.Reason, domain.Status(in.ExpectedStatus))
	})

	registerAction(api, huma.Operation{
		OperationID: "submit-documents",
		Path:        "/jobs/{id}/submit-documents",
		Summary:     "Operator submits client documents",
	}, func(ctx context.Context, actor domain.Actor, id int64, in SubmitDocumentsRequest) (engine.Result, error) {
		return e.SubmitDocuments(ctx, id, actor, in.Documents, attachments(in.Attachments), domain.Status(in.ExpectedStatus))
	})

	registerAction(api, huma.Operation{
		OperationID: "review-documents",
		Path:        "/jobs/{id}/review-documents",
		Summary:     "Checker approves (sends to lawyer) or returns documents",
	}, func(ctx context.Context, actor domain.Actor, id int64, in ReviewRequest) (engine.Result, error) {
		decision, err := engine.ParseDecision(in.Decision)
		if err != nil {
			return engine.Result{}, err
		}
		return e.ReviewDocuments(ctx, id, actor, decision, in.Reason, domain.Status(in.ExpectedStatus))
	})

	registerAction(api, huma.Operation{
		OperationID: "accept-by-lawyer",
		Path:        "/jobs/{id}/accept",
		Summary:     "Lawyer accepts the job",
	}, func(ctx context.Context, actor domain.Actor, id int64, in ExpectedRequest) (engine.Result, error) {
		return e.AcceptByLawyer(ctx, id, actor, domain.Status(in.ExpectedStatus))
	})

	registerAction(api, huma.Operation{
		OperationID: "complete-by-lawyer",
		Path:        "/jobs/{id}/complete",
		Summary:     "Lawyer completes the job with certificates",
	}, func(ctx context.Context, actor domain.Actor, id int64, in CompleteRequest) (engine.Result, error) {
		return e.CompleteByLawyer(ctx, id, actor, in.Certificates, attachments(in.Attachments), domain.Status(in.ExpectedStatus))
	})

	registerAction(api, huma.Operation{
		OperationID: "archive-job",
		Path:        "/jobs/{id}/archive",
		Summary:     "Archive a completed job",
	}, func(ctx context.Context, actor domain.Actor, id int64, _ ExpectedRequest) (engine.Result, error) {
		return e.ArchiveJob(ctx, id, actor)
	})

	registerAction(api, huma.Operation{
		OperationID: "force-status",
		Path:        "/jobs/{id}/force-status",
		Summary:     "Admin override of the job status",
		Description: "Disabled unless admin.allow_force_status is set. Audited as force_set_status.",
	}, func(ctx context.Context, actor domain.Actor, id int64, in ForceStatusRequest) (engine.Result, error) {
		return e.ForceSetStatus(ctx, engine.ForceRequest{
			JobID:          id,
			Actor:          actor,
			Status:         domain.Status(in.Status),
			ExpectedStatus: domain.Status(in.ExpectedStatus),
			Reason:         in.Reason,
		})
	})
}

func registerReports(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "completed-report",
		Method:      http.MethodGet,
		Path:        "/reports/completed",
		Summary:     "Completed jobs for payroll",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *struct {
		From string `query:"from" format:"date-time"`
		To   string `query:"to" format:"date-time"`
	}) (*struct {
		Body CompletedResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListCompleted(ctx, actor, input.From, input.To)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CompletedResponse `json:"body"`
		}{Body: CompletedResponse{Items: nonNilSlice(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "status-report",
		Method:      http.MethodGet,
		Path:        "/reports/status",
		Summary:     "Job counts per status",
		Errors:      errorStatuses,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]int `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		counts, err := e.StatusCounts(ctx, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]int `json:"body"`
		}{Body: counts}, nil
	})
}

func registerUsers(api huma.API, e engine.Engine, keys *keyAuthenticator) {
	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "List staff",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *struct {
		Role string `query:"role" enum:"operator,checker,lawyer,admin"`
	}) (*struct {
		Body UserListResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		users, err := e.ListUsers(ctx, actor, domain.Role(input.Role))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UserListResponse `json:"body"`
		}{Body: UserListResponse{Items: nonNilSlice(users)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-user",
		Method:        http.MethodPost,
		Path:          "/users",
		Summary:       "Register staff",
		DefaultStatus: http.StatusCreated,
		Errors:        errorStatuses,
	}, func(ctx context.Context, input *struct {
		Body CreateUserRequest `json:"body"`
	}) (*struct {
		Body domain.User `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		active := true
		if input.Body.Active != nil {
			active = *input.Body.Active
		}
		u, err := e.CreateUser(ctx, actor, domain.User{
			ID:     input.Body.ID,
			Name:   input.Body.Name,
			Role:   domain.Role(input.Body.Role),
			Active: active,
			ChatID: input.Body.ChatID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.User `json:"body"`
		}{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-user-active",
		Method:      http.MethodPut,
		Path:        "/users/{id}/active",
		Summary:     "Enable or disable assignment for a user",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body SetActiveRequest `json:"body"`
	}) (*struct{}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.SetUserActive(ctx, actor, input.ID, input.Body.Active); err != nil {
			return nil, handleError(err)
		}
		keys.forget(input.ID)
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "issue-api-key",
		Method:        http.MethodPost,
		Path:          "/users/{id}/keys",
		Summary:       "Issue an API key",
		DefaultStatus: http.StatusCreated,
		Errors:        errorStatuses,
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body *IssueKeyRequest `json:"body" required:"false"`
	}) (*struct {
		Body IssueKeyResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		name := ""
		if input.Body != nil {
			name = input.Body.Name
		}
		plain, key, err := e.IssueAPIKey(ctx, actor, input.ID, name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IssueKeyResponse `json:"body"`
		}{Body: IssueKeyResponse{Key: plain, APIKey: key}}, nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors: []int{
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, ok := principalFromContext(ctx)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			ActorID: principal.ID,
			Role:    principal.Role,
			Source:  principal.Source,
		}}, nil
	})
}
