package brandlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Brandline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  10 * time.Second,
	}
}

// Job is the API job model.
type Job struct {
	ID            int64          `json:"id"`
	ClientName    string         `json:"client_name,omitempty"`
	ClientSurname string         `json:"client_surname,omitempty"`
	Phone         string         `json:"phone"`
	BrandName     string         `json:"brand_name,omitempty"`
	PersonType    string         `json:"person_type"`
	Status        string         `json:"status"`
	OperatorID    string         `json:"operator_id"`
	CheckerID     string         `json:"checker_id,omitempty"`
	LawyerID      string         `json:"lawyer_id,omitempty"`
	Documents     Documents      `json:"documents"`
	Certificates  []string       `json:"certificates,omitempty"`
	History       []HistoryEntry `json:"history,omitempty"`
	Archived      bool           `json:"archived"`
	Actions       []string       `json:"actions,omitempty"`
	ArchivedAt    string         `json:"archived_at,omitempty"`
	CompletedAt   string         `json:"completed_at,omitempty"`
	Version       int64          `json:"version"`
	CreatedAt     string         `json:"created_at"`
	UpdatedAt     string         `json:"updated_at"`
}

type Documents struct {
	LegalEntity *LegalEntityDocs `json:"legal_entity,omitempty"`
	Individual  *IndividualDocs  `json:"individual,omitempty"`
	Files       []string         `json:"files,omitempty"`
}

type LegalEntityDocs struct {
	CompanyName  string `json:"company_name"`
	TaxID        string `json:"tax_id"`
	DirectorName string `json:"director_name"`
	Address      string `json:"address"`
	BankAccount  string `json:"bank_account,omitempty"`
}

type IndividualDocs struct {
	FullName       string `json:"full_name"`
	PassportSeries string `json:"passport_series"`
	PassportNumber string `json:"passport_number"`
	Address        string `json:"address"`
	BirthDate      string `json:"birth_date,omitempty"`
}

type HistoryEntry struct {
	ID        int64  `json:"id"`
	JobID     int64  `json:"job_id"`
	Action    string `json:"action"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
	ActorID   string `json:"actor_id"`
	ActorRole string `json:"actor_role"`
	At        string `json:"at"`
}

// Transition is the result of an action: the updated job and its new history entry.
type Transition struct {
	Job   Job          `json:"job"`
	Entry HistoryEntry `json:"entry"`
}

type CompletedJob struct {
	JobID       int64  `json:"job_id"`
	BrandName   string `json:"brand_name"`
	OperatorID  string `json:"operator_id"`
	CheckerID   string `json:"checker_id,omitempty"`
	LawyerID    string `json:"lawyer_id,omitempty"`
	CreatedAt   string `json:"created_at"`
	CompletedAt string `json:"completed_at"`
}

// Attachment is sent inline; Content is base64 encoded by encoding/json.
type Attachment struct {
	Name    string `json:"name"`
	Content []byte `json:"content"`
}

type CreateJob struct {
	ClientName    string `json:"client_name,omitempty"`
	ClientSurname string `json:"client_surname,omitempty"`
	Phone         string `json:"phone"`
	BrandName     string `json:"brand_name,omitempty"`
	PersonType    string `json:"person_type"`
	OperatorID    string `json:"operator_id,omitempty"`
}

// ListOptions filters ListJobs. Zero values are omitted.
type ListOptions struct {
	Role     string
	UserID   string
	Status   string
	Search   string
	Archived *bool
	Limit    int
	Cursor   int64
}

// JobPage is one page of ListJobs; NextCursor is 0 on the last page.
type JobPage struct {
	Items      []Job `json:"items"`
	NextCursor int64 `json:"next_cursor"`
}

type User struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Role      string `json:"role"`
	Active    bool   `json:"active"`
	ChatID    int64  `json:"chat_id,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// IssuedKey carries the plaintext key, which the server returns only once.
type IssuedKey struct {
	Key    string `json:"key"`
	APIKey struct {
		ID     string `json:"id"`
		UserID string `json:"user_id"`
		Name   string `json:"name,omitempty"`
	} `json:"api_key"`
}

type WhoAmI struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role"`
	Source  string `json:"source"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsCode reports whether err is an APIError with the given code, e.g. "conflict".
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// CreateJob registers a new job.
func (c *Client) CreateJob(ctx context.Context, in CreateJob) (Job, error) {
	var resp Job
	err := c.do(ctx, http.MethodPost, "jobs", in, &resp)
	return resp, err
}

// ListJobs returns one page of jobs visible to the caller.
func (c *Client) ListJobs(ctx context.Context, opts ListOptions) (JobPage, error) {
	q := url.Values{}
	set := func(k, v string) {
		if v != "" {
			q.Set(k, v)
		}
	}
	set("role", opts.Role)
	set("user_id", opts.UserID)
	set("status", opts.Status)
	set("search", opts.Search)
	if opts.Archived != nil {
		q.Set("archived", strconv.FormatBool(*opts.Archived))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Cursor > 0 {
		q.Set("cursor", strconv.FormatInt(opts.Cursor, 10))
	}
	endpoint := "jobs"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var page JobPage
	err := c.do(ctx, http.MethodGet, endpoint, nil, &page)
	return page, err
}

// GetJob returns a job with its history.
func (c *Client) GetJob(ctx context.Context, id int64) (Job, error) {
	var resp Job
	err := c.do(ctx, http.MethodGet, jobPath(id, ""), nil, &resp)
	return resp, err
}

// File downloads a stored document or certificate by its reference.
func (c *Client) File(ctx context.Context, id int64, ref string) ([]byte, error) {
	var content []byte
	err := c.do(ctx, http.MethodGet, jobPath(id, "files")+"?ref="+url.QueryEscape(ref), nil, &content)
	return content, err
}

// History returns the audit trail of a job.
func (c *Client) History(ctx context.Context, id int64) ([]HistoryEntry, error) {
	var resp struct {
		Items []HistoryEntry `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, jobPath(id, "history"), nil, &resp)
	return resp.Items, err
}

// StartWork moves a new job to in-progress. expected may be empty.
func (c *Client) StartWork(ctx context.Context, id int64, expected string) (Transition, error) {
	return c.action(ctx, id, "start", map[string]any{"expected_status": expected})
}

func (c *Client) SendForReview(ctx context.Context, id int64, brand, expected string) (Transition, error) {
	return c.action(ctx, id, "send-for-review", map[string]any{"brand_name": brand, "expected_status": expected})
}

// ReviewBrand sends decision "approve" or "reject"; reject needs a reason.
func (c *Client) ReviewBrand(ctx context.Context, id int64, decision, reason, expected string) (Transition, error) {
	return c.action(ctx, id, "review-brand", map[string]any{"decision": decision, "reason": reason, "expected_status": expected})
}

func (c *Client) SubmitDocuments(ctx context.Context, id int64, docs Documents, files []Attachment, expected string) (Transition, error) {
	body := map[string]any{"documents": docs, "expected_status": expected}
	if len(files) > 0 {
		body["attachments"] = files
	}
	return c.action(ctx, id, "submit-documents", body)
}

// ReviewDocuments approves (sending the job to a lawyer) or returns the documents.
func (c *Client) ReviewDocuments(ctx context.Context, id int64, decision, reason, expected string) (Transition, error) {
	return c.action(ctx, id, "review-documents", map[string]any{"decision": decision, "reason": reason, "expected_status": expected})
}

func (c *Client) AcceptByLawyer(ctx context.Context, id int64, expected string) (Transition, error) {
	return c.action(ctx, id, "accept", map[string]any{"expected_status": expected})
}

func (c *Client) CompleteByLawyer(ctx context.Context, id int64, certificates []string, files []Attachment, expected string) (Transition, error) {
	body := map[string]any{"expected_status": expected}
	if len(certificates) > 0 {
		body["certificates"] = certificates
	}
	if len(files) > 0 {
		body["attachments"] = files
	}
	return c.action(ctx, id, "complete", body)
}

func (c *Client) Archive(ctx context.Context, id int64) (Transition, error) {
	return c.action(ctx, id, "archive", nil)
}

// ForceStatus is the admin override; the server must enable it.
func (c *Client) ForceStatus(ctx context.Context, id int64, status, expected, reason string) (Transition, error) {
	return c.action(ctx, id, "force-status", map[string]any{"status": status, "expected_status": expected, "reason": reason})
}

// Completed returns jobs completed in [from, to]; bounds are RFC3339 and may be empty.
func (c *Client) Completed(ctx context.Context, from, to string) ([]CompletedJob, error) {
	q := url.Values{}
	if from != "" {
		q.Set("from", from)
	}
	if to != "" {
		q.Set("to", to)
	}
	endpoint := "reports/completed"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Items []CompletedJob `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// StatusCounts returns the number of jobs per status (admin).
func (c *Client) StatusCounts(ctx context.Context) (map[string]int, error) {
	var resp map[string]int
	err := c.do(ctx, http.MethodGet, "reports/status", nil, &resp)
	return resp, err
}

func (c *Client) CreateUser(ctx context.Context, u User) (User, error) {
	body := map[string]any{"id": u.ID, "role": u.Role, "active": u.Active}
	if u.Name != "" {
		body["name"] = u.Name
	}
	if u.ChatID != 0 {
		body["chat_id"] = u.ChatID
	}
	var resp User
	err := c.do(ctx, http.MethodPost, "users", body, &resp)
	return resp, err
}

func (c *Client) SetUserActive(ctx context.Context, id string, active bool) error {
	return c.do(ctx, http.MethodPut, "users/"+url.PathEscape(id)+"/active", map[string]bool{"active": active}, nil)
}

func (c *Client) IssueKey(ctx context.Context, userID, name string) (IssuedKey, error) {
	var body any
	if name != "" {
		body = map[string]string{"name": name}
	}
	var resp IssuedKey
	err := c.do(ctx, http.MethodPost, "users/"+url.PathEscape(userID)+"/keys", body, &resp)
	return resp, err
}

// Me reports the identity the server resolved for this client's credentials.
func (c *Client) Me(ctx context.Context) (WhoAmI, error) {
	var resp WhoAmI
	err := c.do(ctx, http.MethodGet, "me", nil, &resp)
	return resp, err
}

func (c *Client) action(ctx context.Context, id int64, name string, body map[string]any) (Transition, error) {
	for k, v := range body {
		if s, ok := v.(string); ok && s == "" {
			delete(body, k)
		}
	}
	var resp Transition
	err := c.do(ctx, http.MethodPost, jobPath(id, name), body, &resp)
	return resp, err
}

func jobPath(id int64, action string) string {
	p := "jobs/" + strconv.FormatInt(id, 10)
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var reader io.Reader = http.NoBody
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
		reader = &buf
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code, apiErr.Message = env.Error.Code, env.Error.Message
		}
		return apiErr
	}
	if raw, ok := out.(*[]byte); ok {
		*raw, err = io.ReadAll(resp.Body)
		return err
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(c.BasePath, "/")
}
