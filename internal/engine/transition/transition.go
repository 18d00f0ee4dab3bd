// Package transition holds the job state machine as a single rule table.
package transition

import (
	"fmt"

	"brandline/internal/domain"
)

// Owner names the job field an actor must match to act.
type Owner string

const (
	OwnerNone     Owner = ""
	OwnerOperator Owner = "operator"
	OwnerChecker  Owner = "checker"
	OwnerLawyer   Owner = "lawyer"
)

// Rule is the outcome of a legal (status, action) pair.
type Rule struct {
	From   domain.Status
	Action domain.Action
	To     domain.Status

	// Roles allowed to trigger the rule. Admin is listed explicitly where allowed.
	Roles []domain.Role
	Owner Owner

	// Assign is the role bound to the job when the rule commits.
	Assign domain.Role

	RequiresReason      bool
	RequiresCertificate bool
	RequiresDocuments   bool
	// MarksArchived sets the archived flag without changing status.
	MarksArchived bool
}

// Allows reports whether the role may trigger the rule.
func (r Rule) Allows(role domain.Role) bool {
	for _, allowed := range r.Roles {
		if allowed == role {
			return true
		}
	}
	return false
}

// InvalidTransitionError is returned for any (status, action) pair absent from the table.
type InvalidTransitionError struct {
	From   domain.Status
	Action domain.Action
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("action %s is not allowed from status %s", e.Action, e.From)
}

type key struct {
	from   domain.Status
	action domain.Action
}

// Table maps (status, action) to exactly one rule.
type Table struct {
	rules map[key]Rule
}

var (
	staff     = []domain.Role{domain.RoleOperator, domain.RoleAdmin}
	checkers  = []domain.Role{domain.RoleChecker, domain.RoleAdmin}
	lawyers   = []domain.Role{domain.RoleLawyer, domain.RoleAdmin}
	adminOnly = []domain.Role{domain.RoleAdmin}
)

// Default returns the pipeline table.
func Default() Table {
	t, err := New([]Rule{
		{From: domain.StatusNew, Action: domain.ActionStartWork, To: domain.StatusInProgress, Roles: staff, Owner: OwnerOperator},
		{From: domain.StatusInProgress, Action: domain.ActionSendForReview, To: domain.StatusBrandInReview, Roles: staff, Owner: OwnerOperator, Assign: domain.RoleChecker},
		{From: domain.StatusBrandInReview, Action: domain.ActionApproveBrand, To: domain.StatusDocumentsPending, Roles: checkers, Owner: OwnerChecker},
		{From: domain.StatusBrandInReview, Action: domain.ActionRejectBrand, To: domain.StatusReturnedToOperator, Roles: checkers, Owner: OwnerChecker, RequiresReason: true},
		{From: domain.StatusReturnedToOperator, Action: domain.ActionSendForReview, To: domain.StatusBrandInReview, Roles: staff, Owner: OwnerOperator, Assign: domain.RoleChecker},
		{From: domain.StatusDocumentsPending, Action: domain.ActionSubmitDocuments, To: domain.StatusDocumentsSubmitted, Roles: staff, Owner: OwnerOperator, RequiresDocuments: true},
		{From: domain.StatusDocumentsSubmitted, Action: domain.ActionApproveDocuments, To: domain.StatusToLawyer, Roles: checkers, Owner: OwnerChecker, Assign: domain.RoleLawyer},
		{From: domain.StatusDocumentsSubmitted, Action: domain.ActionRejectDocuments, To: domain.StatusDocumentsReturned, Roles: checkers, Owner: OwnerChecker, RequiresReason: true},
		{From: domain.StatusDocumentsReturned, Action: domain.ActionSubmitDocuments, To: domain.StatusDocumentsSubmitted, Roles: staff, Owner: OwnerOperator, RequiresDocuments: true},
		{From: domain.StatusToLawyer, Action: domain.ActionAcceptByLawyer, To: domain.StatusLawyerProcessing, Roles: lawyers, Owner: OwnerLawyer},
		{From: domain.StatusLawyerProcessing, Action: domain.ActionCompleteByLawyer, To: domain.StatusLawyerCompleted, Roles: lawyers, Owner: OwnerLawyer, RequiresCertificate: true},
		{From: domain.StatusLawyerCompleted, Action: domain.ActionArchive, To: domain.StatusLawyerCompleted, Roles: adminOnly, MarksArchived: true},
	})
	if err != nil {
		panic(err)
	}
	return t
}

// New builds a table and rejects duplicate or malformed rules.
func New(rules []Rule) (Table, error) {
	t := Table{rules: make(map[key]Rule, len(rules))}
	for _, r := range rules {
		if !r.From.Valid() || !r.To.Valid() {
			return Table{}, fmt.Errorf("rule %s: invalid status %s -> %s", r.Action, r.From, r.To)
		}
		if len(r.Roles) == 0 {
			return Table{}, fmt.Errorf("rule %s from %s: no roles", r.Action, r.From)
		}
		k := key{from: r.From, action: r.Action}
		if _, dup := t.rules[k]; dup {
			return Table{}, fmt.Errorf("duplicate rule for %s from %s", r.Action, r.From)
		}
		t.rules[k] = r
	}
	return t, nil
}

// Lookup returns the single rule for the pair or an InvalidTransitionError.
func (t Table) Lookup(from domain.Status, action domain.Action) (Rule, error) {
	r, ok := t.rules[key{from: from, action: action}]
	if !ok {
		return Rule{}, InvalidTransitionError{From: from, Action: action}
	}
	return r, nil
}

// rulesFor returns every rule triggered by the action, in pipeline order of From.
func (t Table) rulesFor(action domain.Action) []Rule {
	var out []Rule
	for _, st := range domain.Statuses {
		if r, ok := t.rules[key{from: st, action: action}]; ok {
			out = append(out, r)
		}
	}
	return out
}

// Available lists the actions legal from the status.
func (t Table) Available(from domain.Status) []domain.Action {
	var out []domain.Action
	for _, a := range domain.Actions {
		if _, ok := t.rules[key{from: from, action: a}]; ok {
			out = append(out, a)
		}
	}
	return out
}
