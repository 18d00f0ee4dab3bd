// Package guard decides whether an actor may act on a specific job.
package guard

import (
	"fmt"

	"brandline/internal/domain"
)

// ForbiddenError indicates a role or ownership mismatch.
type ForbiddenError struct {
	ActorID string
	Role    domain.Role
	JobID   int64
	Reason  string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("actor %s (%s) may not act on job %d: %s", e.ActorID, e.Role, e.JobID, e.Reason)
}

// CheckOwnership applies the per-role ownership channel. Admin bypasses it.
func CheckOwnership(job domain.Job, actor domain.Actor) error {
	var bound *string
	switch actor.Role {
	case domain.RoleAdmin:
		return nil
	case domain.RoleOperator:
		bound = &job.OperatorID
	case domain.RoleChecker:
		bound = job.CheckerID
	case domain.RoleLawyer:
		bound = job.LawyerID
	default:
		return ForbiddenError{ActorID: actor.ID, Role: actor.Role, JobID: job.ID, Reason: "unknown role"}
	}
	if bound == nil || *bound == "" {
		return ForbiddenError{ActorID: actor.ID, Role: actor.Role, JobID: job.ID, Reason: fmt.Sprintf("no %s bound", actor.Role)}
	}
	if *bound != actor.ID {
		return ForbiddenError{ActorID: actor.ID, Role: actor.Role, JobID: job.ID, Reason: fmt.Sprintf("job is bound to another %s", actor.Role)}
	}
	return nil
}

// CanView reports read visibility: admins see everything, others see jobs bound to them.
func CanView(job domain.Job, actor domain.Actor) bool {
	return CheckOwnership(job, actor) == nil
}

// RequireRole fails unless the actor holds one of the roles.
func RequireRole(actor domain.Actor, roles ...domain.Role) error {
	for _, r := range roles {
		if actor.Role == r {
			return nil
		}
	}
	return ForbiddenError{ActorID: actor.ID, Role: actor.Role, Reason: fmt.Sprintf("role %s not permitted", actor.Role)}
}
