package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"slices"
	"strings"
	"time"

	"brandline/internal/domain"
	"brandline/internal/engine/guard"
	"brandline/internal/metrics"
	"brandline/internal/repo"
)

func (e Engine) StartWork(ctx context.Context, jobID int64, actor domain.Actor, expected domain.Status) (Result, error) {
	return e.AttemptTransition(ctx, TransitionRequest{JobID: jobID, Action: domain.ActionStartWork, Actor: actor, ExpectedStatus: expected})
}

// SendForReview moves the job to brand review and binds a checker. brandName may
// be empty when the job already carries one.
func (e Engine) SendForReview(ctx context.Context, jobID int64, actor domain.Actor, brandName string, expected domain.Status) (Result, error) {
	return e.AttemptTransition(ctx, TransitionRequest{
		JobID:          jobID,
		Action:         domain.ActionSendForReview,
		Actor:          actor,
		ExpectedStatus: expected,
		BrandName:      brandName,
	})
}

// Decision is a reviewer's verdict.
type Decision string

const (
	Approve Decision = "approve"
	Reject  Decision = "reject"
)

func ParseDecision(s string) (Decision, error) {
	switch Decision(strings.ToLower(strings.TrimSpace(s))) {
	case Approve:
		return Approve, nil
	case Reject:
		return Reject, nil
	}
	return "", ValidationError{Field: "decision", Reason: fmt.Sprintf("must be approve or reject, got %q", s)}
}

func (e Engine) ReviewBrand(ctx context.Context, jobID int64, actor domain.Actor, decision Decision, reason string, expected domain.Status) (Result, error) {
	action := domain.ActionApproveBrand
	switch decision {
	case Approve:
	case Reject:
		action = domain.ActionRejectBrand
	default:
		return Result{}, ValidationError{Field: "decision", Reason: "must be approve or reject"}
	}
	return e.AttemptTransition(ctx, TransitionRequest{JobID: jobID, Action: action, Actor: actor, ExpectedStatus: expected, Reason: reason})
}

func (e Engine) SubmitDocuments(ctx context.Context, jobID int64, actor domain.Actor, docs domain.Documents, files []Attachment, expected domain.Status) (Result, error) {
	return e.AttemptTransition(ctx, TransitionRequest{
		JobID:          jobID,
		Action:         domain.ActionSubmitDocuments,
		Actor:          actor,
		ExpectedStatus: expected,
		Documents:      &docs,
		Attachments:    files,
	})
}

// ReviewDocuments approves (sending the job to a lawyer) or returns the documents.
func (e Engine) ReviewDocuments(ctx context.Context, jobID int64, actor domain.Actor, decision Decision, reason string, expected domain.Status) (Result, error) {
	switch decision {
	case Approve:
		return e.SendToLawyer(ctx, jobID, actor, expected)
	case Reject:
		return e.AttemptTransition(ctx, TransitionRequest{JobID: jobID, Action: domain.ActionRejectDocuments, Actor: actor, ExpectedStatus: expected, Reason: reason})
	}
	return Result{}, ValidationError{Field: "decision", Reason: "must be approve or reject"}
}

// SendToLawyer approves the documents and binds a lawyer in the same commit.
func (e Engine) SendToLawyer(ctx context.Context, jobID int64, actor domain.Actor, expected domain.Status) (Result, error) {
	return e.AttemptTransition(ctx, TransitionRequest{JobID: jobID, Action: domain.ActionApproveDocuments, Actor: actor, ExpectedStatus: expected})
}

func (e Engine) AcceptByLawyer(ctx context.Context, jobID int64, actor domain.Actor, expected domain.Status) (Result, error) {
	return e.AttemptTransition(ctx, TransitionRequest{JobID: jobID, Action: domain.ActionAcceptByLawyer, Actor: actor, ExpectedStatus: expected})
}

// CompleteByLawyer needs at least one certificate, either an existing reference
// or an attachment that is stored before the commit.
func (e Engine) CompleteByLawyer(ctx context.Context, jobID int64, actor domain.Actor, certificates []string, files []Attachment, expected domain.Status) (Result, error) {
	return e.AttemptTransition(ctx, TransitionRequest{
		JobID:          jobID,
		Action:         domain.ActionCompleteByLawyer,
		Actor:          actor,
		ExpectedStatus: expected,
		Certificates:   certificates,
		Attachments:    files,
	})
}

// ArchiveJob flags a completed job. Archiving an archived job is a no-op.
func (e Engine) ArchiveJob(ctx context.Context, jobID int64, actor domain.Actor) (Result, error) {
	return e.AttemptTransition(ctx, TransitionRequest{JobID: jobID, Action: domain.ActionArchive, Actor: actor})
}

// ForceRequest sets a status outside the table. Expected is mandatory.
type ForceRequest struct {
	JobID          int64
	Actor          domain.Actor
	Status         domain.Status
	ExpectedStatus domain.Status
	Reason         string
}

// ForceSetStatus is the audited admin override. It is off unless
// admin.allow_force_status is set.
func (e Engine) ForceSetStatus(ctx context.Context, req ForceRequest) (Result, error) {
	res, previous, err := e.force(ctx, req)
	metrics.Transition(string(domain.ActionForceSetStatus), Outcome(err))
	if err != nil {
		e.log().Debug("force rejected", "job_id", req.JobID, "actor", req.Actor.ID, "error", err)
		return res, err
	}
	e.log().Warn("status forced", "job_id", res.Job.ID, "from", previous, "to", res.Job.Status, "actor", req.Actor.ID, "reason", res.Entry.Reason)
	e.notify(domain.JobStatusChanged{
		JobID:          res.Job.ID,
		PreviousStatus: previous,
		NewStatus:      res.Job.Status,
		Action:         domain.ActionForceSetStatus,
		ActorID:        req.Actor.ID,
		AssigneeID:     assigneeFor(res.Job),
		Timestamp:      res.Entry.At,
	})
	return res, nil
}

func (e Engine) force(ctx context.Context, req ForceRequest) (Result, domain.Status, error) {
	if e.Config == nil || !e.Config.Admin.AllowForceStatus {
		return Result{}, "", ErrForceDisabled
	}
	if err := validateActor(req.Actor); err != nil {
		return Result{}, "", err
	}
	if err := guard.RequireRole(req.Actor, domain.RoleAdmin); err != nil {
		return Result{}, "", err
	}
	if !req.Status.Valid() {
		return Result{}, "", ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", req.Status)}
	}
	if req.ExpectedStatus == "" {
		return Result{}, "", missing("expected_status")
	}
	if !req.ExpectedStatus.Valid() {
		return Result{}, "", ValidationError{Field: "expected_status", Reason: "unknown status"}
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return Result{}, "", missing("reason")
	}
	job, err := e.loadJob(ctx, req.JobID)
	if err != nil {
		return Result{}, "", err
	}
	if job.Status != req.ExpectedStatus {
		return Result{}, "", ConflictError{JobID: job.ID, Expected: req.ExpectedStatus, Actual: job.Status}
	}
	now := e.now()
	next := job
	next.Status = req.Status
	switch {
	case next.Status != domain.StatusLawyerCompleted:
		// A job forced out of completion is neither completed nor archived.
		next.CompletedAt = nil
		next.Archived = false
		next.ArchivedAt = nil
	case next.CompletedAt == nil:
		next.CompletedAt = &now
	}
	entry := domain.HistoryEntry{
		JobID:     job.ID,
		Action:    domain.ActionForceSetStatus,
		Status:    next.Status,
		Reason:    reason,
		ActorID:   req.Actor.ID,
		ActorRole: req.Actor.Role,
		At:        now,
	}
	res, err := e.commit(ctx, job, next, entry)
	return res, job.Status, err
}

// NextActions lists the actions the actor may take on the job in its current status.
func (e Engine) NextActions(job domain.Job, actor domain.Actor) []domain.Action {
	out := []domain.Action{}
	if guard.CheckOwnership(job, actor) != nil {
		return out
	}
	for _, action := range e.Table.Available(job.Status) {
		rule, err := e.Table.Lookup(job.Status, action)
		if err != nil || !rule.Allows(actor.Role) || (rule.MarksArchived && job.Archived) {
			continue
		}
		out = append(out, action)
	}
	return out
}

// OpenFile returns a stored document or certificate of a job the actor may see.
// The caller closes the reader.
func (e Engine) OpenFile(ctx context.Context, actor domain.Actor, jobID int64, ref string) (io.ReadCloser, error) {
	job, err := e.GetJob(ctx, actor, jobID)
	if err != nil {
		return nil, err
	}
	notFound := fmt.Errorf("file %s of job %d: %w", ref, jobID, repo.ErrNotFound)
	if !slices.Contains(job.Documents.Files, ref) && !slices.Contains(job.Certificates, ref) {
		return nil, notFound
	}
	if e.Files == nil {
		return nil, storeErr("open file", errors.New("no file store configured"))
	}
	f, err := e.Files.Open(ref)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, notFound
	}
	if err != nil {
		return nil, storeErr("open file", err)
	}
	return f, nil
}

// GetJob returns the job with history if the actor may see it.
func (e Engine) GetJob(ctx context.Context, actor domain.Actor, id int64) (domain.Job, error) {
	if err := validateActor(actor); err != nil {
		return domain.Job{}, err
	}
	job, err := e.loadJob(ctx, id)
	if err != nil {
		return job, err
	}
	if !guard.CanView(job, actor) {
		return domain.Job{}, guard.ForbiddenError{ActorID: actor.ID, Role: actor.Role, JobID: id, Reason: "job is not bound to actor"}
	}
	return job, nil
}

func (e Engine) History(ctx context.Context, actor domain.Actor, id int64) ([]domain.HistoryEntry, error) {
	job, err := e.GetJob(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	return job.History, nil
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// ListOptions filters a job listing. Role and UserID scope an admin listing to
// one user's queue; other actors always see their own queue.
type ListOptions struct {
	Role     domain.Role
	UserID   string
	Status   domain.Status
	Search   string
	Archived *bool
	Limit    int
	Cursor   int64
}

// ListJobs returns a page of jobs newest first and the cursor of the next page (0 at the end).
func (e Engine) ListJobs(ctx context.Context, actor domain.Actor, opts ListOptions) ([]domain.Job, int64, error) {
	if err := validateActor(actor); err != nil {
		return nil, 0, err
	}
	if opts.Status != "" && !opts.Status.Valid() {
		return nil, 0, ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", opts.Status)}
	}
	if opts.Limit < 0 {
		return nil, 0, ValidationError{Field: "limit", Reason: "must be >= 0"}
	}
	limit := opts.Limit
	if limit == 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	f := scopeFilters(actor, opts)
	f.Limit = limit + 1
	jobs, err := e.Repo.ListJobs(ctx, f)
	if err != nil {
		return nil, 0, storeErr("list jobs", err)
	}
	var next int64
	if len(jobs) > limit {
		jobs = jobs[:limit]
		next = jobs[len(jobs)-1].ID
	}
	return jobs, next, nil
}

func scopeFilters(actor domain.Actor, opts ListOptions) repo.JobFilters {
	f := repo.JobFilters{
		Role:     actor.Role,
		ActorID:  actor.ID,
		Status:   opts.Status,
		Search:   opts.Search,
		Archived: opts.Archived,
		AfterID:  opts.Cursor,
	}
	if actor.Role == domain.RoleAdmin {
		f.Role, f.ActorID = "", ""
		if opts.Role != "" && opts.Role != domain.RoleAdmin && opts.UserID != "" {
			f.Role, f.ActorID = opts.Role, opts.UserID
		}
	}
	return f
}

// ListCompleted is the payroll read model. Bounds are RFC3339; empty means open.
func (e Engine) ListCompleted(ctx context.Context, actor domain.Actor, from, to string) ([]domain.CompletedJob, error) {
	if err := validateActor(actor); err != nil {
		return nil, err
	}
	if err := guard.RequireRole(actor, domain.RoleAdmin); err != nil {
		return nil, err
	}
	for field, v := range map[string]string{"from": from, "to": to} {
		if v == "" {
			continue
		}
		if _, err := time.Parse(time.RFC3339, v); err != nil {
			return nil, ValidationError{Field: field, Reason: "must be RFC3339"}
		}
	}
	jobs, err := e.Repo.ListCompleted(ctx, normalizeTime(from), normalizeTime(to))
	if err != nil {
		return nil, storeErr("list completed", err)
	}
	return jobs, nil
}

// normalizeTime rewrites an RFC3339 bound to UTC so it compares lexically with stored timestamps.
func normalizeTime(v string) string {
	if v == "" {
		return ""
	}
	t, _ := time.Parse(time.RFC3339, v)
	return t.UTC().Format(time.RFC3339)
}

// StatusCounts reports how many jobs sit in each status. Admin only.
func (e Engine) StatusCounts(ctx context.Context, actor domain.Actor) (map[string]int, error) {
	if err := guard.RequireRole(actor, domain.RoleAdmin); err != nil {
		return nil, err
	}
	counts, err := e.Repo.CountJobsByStatus(ctx)
	if err != nil {
		return nil, storeErr("count jobs", err)
	}
	return counts, nil
}
