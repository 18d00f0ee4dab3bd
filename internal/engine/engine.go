package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"brandline/internal/config"
	"brandline/internal/domain"
	"brandline/internal/engine/assign"
	"brandline/internal/engine/guard"
	"brandline/internal/engine/transition"
	"brandline/internal/metrics"
	"brandline/internal/repo"
)

// FileStore stores attachment bytes and returns an opaque reference.
type FileStore interface {
	Put(ctx context.Context, name string, content []byte) (string, error)
	Open(ref string) (io.ReadCloser, error)
}

// Notifier receives committed status changes. Implementations must not block.
type Notifier interface {
	Notify(evt domain.JobStatusChanged)
}

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Table    transition.Table
	Resolver assign.Resolver
	Files    FileStore
	Notifier Notifier
	Config   *config.Config
	Logger   *slog.Logger
	Now      func() time.Time
}

// New wires an engine over db using the configured assignment policy.
func New(db *sql.DB, cfg *config.Config) (Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	r := repo.Repo{DB: db}
	resolver, err := assign.New(cfg.Assignment.Policy, r, r)
	if err != nil {
		return Engine{}, err
	}
	return Engine{
		DB:       db,
		Repo:     r,
		Table:    transition.Default(),
		Resolver: resolver,
		Config:   cfg,
		Logger:   slog.Default(),
		Now:      time.Now,
	}, nil
}

func (e Engine) now() string {
	if e.Now != nil {
		return e.Now().UTC().Format(time.RFC3339)
	}
	return time.Now().UTC().Format(time.RFC3339)
}

func (e Engine) log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

var phonePattern = regexp.MustCompile(`^\+?[0-9]{7,15}$`)

// CreateJobRequest carries intake data. OperatorID is only honoured for admins;
// operators always own the jobs they create.
type CreateJobRequest struct {
	Actor         domain.Actor
	ClientName    string
	ClientSurname string
	Phone         string
	BrandName     string
	PersonType    domain.PersonType
	OperatorID    string
}

func (e Engine) CreateJob(ctx context.Context, req CreateJobRequest) (domain.Job, error) {
	job, err := e.createJob(ctx, req)
	metrics.Transition(string(domain.ActionCreate), Outcome(err))
	if err != nil {
		e.log().Debug("create rejected", "actor", req.Actor.ID, "error", err)
		return job, err
	}
	e.log().Info("job created", "job_id", job.ID, "operator", job.OperatorID, "actor", req.Actor.ID)
	e.notify(domain.JobStatusChanged{
		JobID:     job.ID,
		NewStatus: job.Status,
		Action:    domain.ActionCreate,
		ActorID:   req.Actor.ID,
		Timestamp: job.CreatedAt,
	})
	return job, nil
}

// requireOperator checks that an admin-chosen owner can act on the job it is given.
func (e Engine) requireOperator(ctx context.Context, id string) error {
	u, err := e.Repo.GetUser(ctx, id)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return ValidationError{Field: "operator_id", Reason: fmt.Sprintf("unknown user %s", id)}
	case err != nil:
		return storeErr("load operator", err)
	case u.Role != domain.RoleOperator:
		return ValidationError{Field: "operator_id", Reason: fmt.Sprintf("user %s is a %s, not an operator", id, u.Role)}
	case !u.Active:
		return ValidationError{Field: "operator_id", Reason: fmt.Sprintf("operator %s is inactive", id)}
	}
	return nil
}

func (e Engine) createJob(ctx context.Context, req CreateJobRequest) (domain.Job, error) {
	if err := validateActor(req.Actor); err != nil {
		return domain.Job{}, err
	}
	if err := guard.RequireRole(req.Actor, domain.RoleOperator, domain.RoleAdmin); err != nil {
		return domain.Job{}, err
	}
	phone := strings.TrimSpace(req.Phone)
	if phone == "" {
		return domain.Job{}, missing("phone")
	}
	if !phonePattern.MatchString(phone) {
		return domain.Job{}, ValidationError{Field: "phone", Reason: "must be 7-15 digits with optional leading +"}
	}
	if _, err := domain.ParsePersonType(string(req.PersonType)); err != nil {
		return domain.Job{}, ValidationError{Field: "person_type", Reason: err.Error()}
	}
	operator := req.Actor.ID
	if req.Actor.Role == domain.RoleAdmin && strings.TrimSpace(req.OperatorID) != "" {
		operator = strings.TrimSpace(req.OperatorID)
		if err := e.requireOperator(ctx, operator); err != nil {
			return domain.Job{}, err
		}
	}
	now := e.now()
	job := domain.Job{
		ClientName:    strings.TrimSpace(req.ClientName),
		ClientSurname: strings.TrimSpace(req.ClientSurname),
		Phone:         phone,
		BrandName:     strings.TrimSpace(req.BrandName),
		PersonType:    req.PersonType,
		Status:        domain.StatusNew,
		OperatorID:    operator,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Job{}, storeErr("begin", err)
	}
	defer tx.Rollback()

	job.ID, err = e.Repo.NextSequenceTx(ctx, tx, repo.JobSequence)
	if err != nil {
		return domain.Job{}, storeErr("allocate job id", err)
	}
	if err := e.Repo.InsertJob(ctx, tx, job); err != nil {
		return domain.Job{}, storeErr("insert job", err)
	}
	entry := domain.HistoryEntry{
		JobID:     job.ID,
		Action:    domain.ActionCreate,
		Status:    job.Status,
		ActorID:   req.Actor.ID,
		ActorRole: req.Actor.Role,
		At:        now,
	}
	if entry.ID, err = e.Repo.AppendHistory(ctx, tx, entry); err != nil {
		return domain.Job{}, storeErr("append history", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Job{}, storeErr("commit", err)
	}
	job.History = []domain.HistoryEntry{entry}
	return job, nil
}

// Attachment is raw file content handed to the file store before commit.
type Attachment struct {
	Name    string
	Content []byte
}

// TransitionRequest is the generic input of every table-driven command.
// ExpectedStatus, when set, must equal the stored status or the call fails with Conflict.
type TransitionRequest struct {
	JobID          int64
	Action         domain.Action
	Actor          domain.Actor
	ExpectedStatus domain.Status
	Reason         string

	BrandName    string
	Documents    *domain.Documents
	Certificates []string
	Attachments  []Attachment
}

// Result is a committed transition.
type Result struct {
	Job   domain.Job
	Entry domain.HistoryEntry
}

// AttemptTransition validates, guards, looks up the rule, attaches files and
// commits the new status together with its history entry.
func (e Engine) AttemptTransition(ctx context.Context, req TransitionRequest) (Result, error) {
	res, previous, err := e.attempt(ctx, req)
	metrics.Transition(string(req.Action), Outcome(err))
	if err != nil {
		e.log().Debug("transition rejected", "job_id", req.JobID, "action", req.Action, "actor", req.Actor.ID, "outcome", Outcome(err), "error", err)
		return res, err
	}
	if previous == "" {
		return res, nil
	}
	e.log().Info("transition committed", "job_id", res.Job.ID, "action", req.Action, "from", previous, "to", res.Job.Status, "actor", req.Actor.ID)
	e.notify(domain.JobStatusChanged{
		JobID:          res.Job.ID,
		PreviousStatus: previous,
		NewStatus:      res.Job.Status,
		Action:         req.Action,
		ActorID:        req.Actor.ID,
		AssigneeID:     assigneeFor(res.Job),
		Timestamp:      res.Entry.At,
	})
	return res, nil
}

// attempt returns the previous status of a committed change, or "" for an idempotent no-op.
func (e Engine) attempt(ctx context.Context, req TransitionRequest) (Result, domain.Status, error) {
	if err := validateActor(req.Actor); err != nil {
		return Result{}, "", err
	}
	if req.ExpectedStatus != "" && !req.ExpectedStatus.Valid() {
		return Result{}, "", ValidationError{Field: "expected_status", Reason: "unknown status"}
	}
	job, err := e.loadJob(ctx, req.JobID)
	if err != nil {
		return Result{}, "", err
	}
	if req.ExpectedStatus != "" && req.ExpectedStatus != job.Status {
		return Result{}, "", ConflictError{JobID: job.ID, Expected: req.ExpectedStatus, Actual: job.Status}
	}
	if err := guard.CheckOwnership(job, req.Actor); err != nil {
		return Result{}, "", err
	}
	rule, err := e.Table.Lookup(job.Status, req.Action)
	if err != nil {
		return Result{}, "", err
	}
	if !rule.Allows(req.Actor.Role) {
		return Result{}, "", guard.ForbiddenError{ActorID: req.Actor.ID, Role: req.Actor.Role, JobID: job.ID,
			Reason: fmt.Sprintf("role %s may not %s", req.Actor.Role, req.Action)}
	}
	if rule.MarksArchived && job.Archived {
		return Result{Job: job, Entry: lastEntry(job)}, "", nil
	}

	next := job
	reason := strings.TrimSpace(req.Reason)
	if rule.RequiresReason && reason == "" {
		return Result{}, "", missing("reason")
	}
	if err := e.applyPayload(&next, rule, req); err != nil {
		return Result{}, "", err
	}
	if rule.Assign != "" {
		assignee, err := e.resolveAssignee(ctx, job, rule.Assign)
		if err != nil {
			return Result{}, "", err
		}
		bind(&next, rule.Assign, assignee)
	}
	if len(req.Attachments) > 0 {
		refs, err := e.storeAttachments(ctx, req.Attachments)
		if err != nil {
			return Result{}, "", err
		}
		if rule.RequiresCertificate {
			next.Certificates = append(next.Certificates, refs...)
		} else {
			next.Documents.Files = append(next.Documents.Files, refs...)
		}
	}

	now := e.now()
	next.Status = rule.To
	if rule.To == domain.StatusLawyerCompleted && next.CompletedAt == nil {
		next.CompletedAt = &now
	}
	if rule.MarksArchived {
		next.Archived = true
		next.ArchivedAt = &now
	}
	entry := domain.HistoryEntry{
		JobID:     job.ID,
		Action:    req.Action,
		Status:    next.Status,
		Reason:    reason,
		ActorID:   req.Actor.ID,
		ActorRole: req.Actor.Role,
		At:        now,
	}
	res, err := e.commit(ctx, job, next, entry)
	return res, job.Status, err
}

func (e Engine) loadJob(ctx context.Context, id int64) (domain.Job, error) {
	if id <= 0 {
		return domain.Job{}, ValidationError{Field: "job_id", Reason: "must be positive"}
	}
	job, err := e.Repo.GetJob(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return job, fmt.Errorf("job %d: %w", id, repo.ErrNotFound)
	}
	return job, storeErr("load job", err)
}

// applyPayload validates and copies the per-rule inputs onto next.
func (e Engine) applyPayload(next *domain.Job, rule transition.Rule, req TransitionRequest) error {
	if req.Action == domain.ActionSendForReview {
		if brand := strings.TrimSpace(req.BrandName); brand != "" {
			next.BrandName = brand
		}
		if next.BrandName == "" {
			return missing("brand_name")
		}
	}
	if len(req.Attachments) > 0 && !rule.RequiresDocuments && !rule.RequiresCertificate {
		return ValidationError{Field: "attachments", Reason: fmt.Sprintf("not accepted by %s", req.Action)}
	}
	if rule.RequiresDocuments {
		if req.Documents == nil {
			return missing("documents")
		}
		if err := validateDocuments(next.PersonType, *req.Documents); err != nil {
			return err
		}
		files := next.Documents.Files
		next.Documents = *req.Documents
		next.Documents.Files = mergeRefs(files, req.Documents.Files)
	}
	if rule.RequiresCertificate {
		certs := nonEmpty(req.Certificates)
		if len(certs) == 0 && len(req.Attachments) == 0 {
			return missing("certificate")
		}
		next.Certificates = append(append([]string(nil), next.Certificates...), certs...)
	}
	return nil
}

func (e Engine) storeAttachments(ctx context.Context, files []Attachment) ([]string, error) {
	if e.Files == nil {
		return nil, StoreError{Op: "store attachment", Err: errors.New("no file store configured")}
	}
	refs := make([]string, 0, len(files))
	for _, f := range files {
		if len(f.Content) == 0 {
			return nil, ValidationError{Field: "attachments", Reason: fmt.Sprintf("%s is empty", f.Name)}
		}
		ref, err := e.Files.Put(ctx, f.Name, f.Content)
		if err != nil {
			return nil, storeErr("store attachment", err)
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// resolveAssignee keeps an already bound user on re-entry while they stay active.
func (e Engine) resolveAssignee(ctx context.Context, job domain.Job, role domain.Role) (string, error) {
	var bound *string
	switch role {
	case domain.RoleChecker:
		bound = job.CheckerID
	case domain.RoleLawyer:
		bound = job.LawyerID
	}
	if bound != nil && *bound != "" {
		u, err := e.Repo.GetUser(ctx, *bound)
		switch {
		case err == nil && u.Active && u.Role == role:
			return u.ID, nil
		case err != nil && !errors.Is(err, repo.ErrNotFound):
			return "", storeErr("load assignee", err)
		}
	}
	if e.Resolver == nil {
		return "", fmt.Errorf("%w: no resolver configured", assign.ErrNoCandidate)
	}
	id, err := e.Resolver.Resolve(ctx, role)
	if err != nil && !errors.Is(err, assign.ErrNoCandidate) {
		return "", storeErr("resolve assignee", err)
	}
	return id, err
}

// commit performs the conditional write and the history insert in one transaction.
func (e Engine) commit(ctx context.Context, prev, next domain.Job, entry domain.HistoryEntry) (Result, error) {
	next.Version = prev.Version + 1
	next.UpdatedAt = entry.At

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, storeErr("begin", err)
	}
	defer tx.Rollback()

	if err := e.Repo.UpdateJobIf(ctx, tx, next, prev.Status, prev.Version); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return Result{}, ConflictError{JobID: prev.ID, Expected: prev.Status}
		}
		return Result{}, storeErr("update job", err)
	}
	if entry.ID, err = e.Repo.AppendHistory(ctx, tx, entry); err != nil {
		return Result{}, storeErr("append history", err)
	}
	if err := tx.Commit(); err != nil {
		return Result{}, storeErr("commit", err)
	}
	next.History = append(append([]domain.HistoryEntry(nil), prev.History...), entry)
	return Result{Job: next, Entry: entry}, nil
}

func (e Engine) notify(evt domain.JobStatusChanged) {
	if e.Notifier == nil {
		return
	}
	e.Notifier.Notify(evt)
}

func validateActor(a domain.Actor) error {
	if strings.TrimSpace(a.ID) == "" {
		return missing("actor_id")
	}
	if _, err := domain.ParseRole(string(a.Role)); err != nil {
		return ValidationError{Field: "actor_role", Reason: err.Error()}
	}
	return nil
}

func validateDocuments(pt domain.PersonType, docs domain.Documents) error {
	switch pt {
	case domain.PersonLegalEntity:
		if docs.Individual != nil {
			return ValidationError{Field: "documents.individual", Reason: "not allowed for legal-entity"}
		}
		le := docs.LegalEntity
		if le == nil {
			return missing("documents.legal_entity")
		}
		return requireFields("documents.legal_entity", map[string]string{
			"company_name":  le.CompanyName,
			"tax_id":        le.TaxID,
			"director_name": le.DirectorName,
			"address":       le.Address,
			"bank_account":  le.BankAccount,
		})
	case domain.PersonIndividual:
		if docs.LegalEntity != nil {
			return ValidationError{Field: "documents.legal_entity", Reason: "not allowed for individual"}
		}
		in := docs.Individual
		if in == nil {
			return missing("documents.individual")
		}
		if err := requireFields("documents.individual", map[string]string{
			"full_name":       in.FullName,
			"passport_series": in.PassportSeries,
			"passport_number": in.PassportNumber,
			"address":         in.Address,
			"birth_date":      in.BirthDate,
		}); err != nil {
			return err
		}
		if _, err := time.Parse(time.DateOnly, in.BirthDate); err != nil {
			return ValidationError{Field: "documents.individual.birth_date", Reason: "must be YYYY-MM-DD"}
		}
		return nil
	}
	return ValidationError{Field: "person_type", Reason: fmt.Sprintf("unknown person type %q", pt)}
}

// requireFields reports the first empty field in stable order.
func requireFields(prefix string, fields map[string]string) error {
	var empty []string
	for name, v := range fields {
		if strings.TrimSpace(v) == "" {
			empty = append(empty, name)
		}
	}
	if len(empty) == 0 {
		return nil
	}
	first := empty[0]
	for _, name := range empty[1:] {
		if name < first {
			first = name
		}
	}
	return missing(prefix + "." + first)
}

func bind(j *domain.Job, role domain.Role, userID string) {
	id := userID
	switch role {
	case domain.RoleChecker:
		j.CheckerID = &id
	case domain.RoleLawyer:
		j.LawyerID = &id
	}
}

// assigneeFor returns the user now expected to act on the job.
func assigneeFor(j domain.Job) *string {
	switch j.Status {
	case domain.StatusBrandInReview, domain.StatusDocumentsSubmitted:
		return j.CheckerID
	case domain.StatusToLawyer, domain.StatusLawyerProcessing:
		return j.LawyerID
	case domain.StatusNew, domain.StatusInProgress, domain.StatusReturnedToOperator,
		domain.StatusDocumentsPending, domain.StatusDocumentsReturned:
		id := j.OperatorID
		return &id
	}
	return nil
}

func lastEntry(j domain.Job) domain.HistoryEntry {
	if len(j.History) == 0 {
		return domain.HistoryEntry{}
	}
	return j.History[len(j.History)-1]
}

func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func mergeRefs(existing, added []string) []string {
	seen := make(map[string]struct{}, len(existing))
	out := append([]string(nil), existing...)
	for _, s := range existing {
		seen[s] = struct{}{}
	}
	for _, s := range nonEmpty(added) {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
