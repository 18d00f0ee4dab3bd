package domain

import "fmt"

// Status is the closed set of job lifecycle states.
type Status string

const (
	StatusNew                Status = "new"
	StatusInProgress         Status = "in-progress"
	StatusBrandInReview      Status = "brand-in-review"
	StatusReturnedToOperator Status = "returned-to-operator"
	StatusDocumentsPending   Status = "documents-pending"
	StatusDocumentsSubmitted Status = "documents-submitted"
	StatusDocumentsReturned  Status = "documents-returned"
	StatusToLawyer           Status = "to-lawyer"
	StatusLawyerProcessing   Status = "lawyer-processing"
	StatusLawyerCompleted    Status = "lawyer-completed"
)

// Statuses lists every status in pipeline order.
var Statuses = []Status{
	StatusNew,
	StatusInProgress,
	StatusBrandInReview,
	StatusReturnedToOperator,
	StatusDocumentsPending,
	StatusDocumentsSubmitted,
	StatusDocumentsReturned,
	StatusToLawyer,
	StatusLawyerProcessing,
	StatusLawyerCompleted,
}

// ParseStatus rejects any value outside the enumerated set.
func ParseStatus(s string) (Status, error) {
	for _, st := range Statuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", s)
}

func (s Status) Valid() bool {
	_, err := ParseStatus(string(s))
	return err == nil
}

// Action names a transition trigger.
type Action string

const (
	ActionCreate           Action = "create"
	ActionStartWork        Action = "start_work"
	ActionSendForReview    Action = "send_for_review"
	ActionApproveBrand     Action = "approve_brand"
	ActionRejectBrand      Action = "reject_brand"
	ActionSubmitDocuments  Action = "submit_documents"
	ActionApproveDocuments Action = "approve_documents"
	ActionRejectDocuments  Action = "reject_documents"
	ActionAcceptByLawyer   Action = "accept_by_lawyer"
	ActionCompleteByLawyer Action = "complete_by_lawyer"
	ActionArchive          Action = "archive"
	ActionForceSetStatus   Action = "force_set_status"
)

// Actions lists every table-driven action. Create and force_set_status bypass the table.
var Actions = []Action{
	ActionStartWork,
	ActionSendForReview,
	ActionApproveBrand,
	ActionRejectBrand,
	ActionSubmitDocuments,
	ActionApproveDocuments,
	ActionRejectDocuments,
	ActionAcceptByLawyer,
	ActionCompleteByLawyer,
	ActionArchive,
}

// Role is a staff role supplied by the identity collaborator.
type Role string

const (
	RoleOperator Role = "operator"
	RoleChecker  Role = "checker"
	RoleLawyer   Role = "lawyer"
	RoleAdmin    Role = "admin"
)

var Roles = []Role{RoleOperator, RoleChecker, RoleLawyer, RoleAdmin}

func ParseRole(s string) (Role, error) {
	for _, r := range Roles {
		if string(r) == s {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// PersonType selects which documents sub-record a job carries.
type PersonType string

const (
	PersonLegalEntity PersonType = "legal-entity"
	PersonIndividual  PersonType = "individual"
)

func ParsePersonType(s string) (PersonType, error) {
	switch PersonType(s) {
	case PersonLegalEntity, PersonIndividual:
		return PersonType(s), nil
	}
	return "", fmt.Errorf("unknown person type %q", s)
}

// Actor is a verified (id, role) pair.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
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
	BirthDate      string `json:"birth_date,omitempty" format:"date"`
}

// Documents is the person-type dependent documents payload.
type Documents struct {
	LegalEntity *LegalEntityDocs `json:"legal_entity,omitempty"`
	Individual  *IndividualDocs  `json:"individual,omitempty"`
	Files       []string         `json:"files,omitempty"`
}

type Job struct {
	ID            int64          `json:"id"`
	ClientName    string         `json:"client_name,omitempty"`
	ClientSurname string         `json:"client_surname,omitempty"`
	Phone         string         `json:"phone"`
	BrandName     string         `json:"brand_name,omitempty"`
	PersonType    PersonType     `json:"person_type" enum:"legal-entity,individual"`
	Status        Status         `json:"status"`
	OperatorID    string         `json:"operator_id"`
	CheckerID     *string        `json:"checker_id,omitempty"`
	LawyerID      *string        `json:"lawyer_id,omitempty"`
	Documents     Documents      `json:"documents"`
	Certificates  []string       `json:"certificates,omitempty"`
	History       []HistoryEntry `json:"history,omitempty"`
	Archived      bool           `json:"archived"`
	ArchivedAt    *string        `json:"archived_at,omitempty" format:"date-time"`
	CompletedAt   *string        `json:"completed_at,omitempty" format:"date-time"`
	Version       int64          `json:"version"`
	CreatedAt     string         `json:"created_at" format:"date-time"`
	UpdatedAt     string         `json:"updated_at" format:"date-time"`
}

// HistoryEntry is one immutable audit trail record.
type HistoryEntry struct {
	ID        int64  `json:"id"`
	JobID     int64  `json:"job_id"`
	Action    Action `json:"action"`
	Status    Status `json:"status"`
	Reason    string `json:"reason,omitempty"`
	ActorID   string `json:"actor_id"`
	ActorRole Role   `json:"actor_role"`
	At        string `json:"at" format:"date-time"`
}

type User struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Role      Role   `json:"role"`
	Active    bool   `json:"active"`
	ChatID    int64  `json:"chat_id,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// JobStatusChanged is emitted after every committed transition.
type JobStatusChanged struct {
	JobID          int64   `json:"job_id"`
	PreviousStatus Status  `json:"previous_status"`
	NewStatus      Status  `json:"new_status"`
	Action         Action  `json:"action"`
	ActorID        string  `json:"actor_id"`
	AssigneeID     *string `json:"assignee_id,omitempty"`
	Timestamp      string  `json:"timestamp" format:"date-time"`
}

// CompletedJob is the read model consumed by payroll.
type CompletedJob struct {
	JobID       int64   `json:"job_id"`
	BrandName   string  `json:"brand_name"`
	OperatorID  string  `json:"operator_id"`
	CheckerID   *string `json:"checker_id,omitempty"`
	LawyerID    *string `json:"lawyer_id,omitempty"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	CompletedAt string  `json:"completed_at" format:"date-time"`
}
