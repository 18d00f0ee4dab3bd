package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"brandline/internal/domain"
)

func strPtr(s string) *string { return &s }

func TestCheckOwnership(t *testing.T) {
	job := domain.Job{ID: 9, OperatorID: "op-1", CheckerID: strPtr("chk-1")}
	cases := []struct {
		name  string
		actor domain.Actor
		ok    bool
	}{
		{"owning operator", domain.Actor{ID: "op-1", Role: domain.RoleOperator}, true},
		{"other operator", domain.Actor{ID: "op-2", Role: domain.RoleOperator}, false},
		{"bound checker", domain.Actor{ID: "chk-1", Role: domain.RoleChecker}, true},
		{"other checker", domain.Actor{ID: "chk-2", Role: domain.RoleChecker}, false},
		{"no lawyer bound", domain.Actor{ID: "law-1", Role: domain.RoleLawyer}, false},
		{"admin", domain.Actor{ID: "adm", Role: domain.RoleAdmin}, true},
		{"unknown role", domain.Actor{ID: "op-1", Role: "intern"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckOwnership(job, tc.actor)
			if tc.ok {
				assert.NoError(t, err)
				assert.True(t, CanView(job, tc.actor))
				return
			}
			var forbidden ForbiddenError
			assert.ErrorAs(t, err, &forbidden)
			assert.Equal(t, int64(9), forbidden.JobID)
			assert.False(t, CanView(job, tc.actor))
		})
	}
}

func TestEmptyBindingIsForbidden(t *testing.T) {
	job := domain.Job{ID: 1, OperatorID: "op-1", LawyerID: strPtr("")}
	assert.Error(t, CheckOwnership(job, domain.Actor{ID: "", Role: domain.RoleLawyer}))
}

func TestRequireRole(t *testing.T) {
	assert.NoError(t, RequireRole(domain.Actor{ID: "a", Role: domain.RoleAdmin}, domain.RoleOperator, domain.RoleAdmin))
	err := RequireRole(domain.Actor{ID: "c", Role: domain.RoleChecker}, domain.RoleAdmin)
	var forbidden ForbiddenError
	assert.ErrorAs(t, err, &forbidden)
	assert.Contains(t, err.Error(), "checker")
}
