package transition

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brandline/internal/domain"
)

func TestDefaultTableIsTotal(t *testing.T) {
	table := Default()
	var legal int
	for _, st := range domain.Statuses {
		for _, action := range domain.Actions {
			rule, err := table.Lookup(st, action)
			if err != nil {
				var invalid InvalidTransitionError
				require.True(t, errors.As(err, &invalid), "%s/%s", st, action)
				assert.Equal(t, st, invalid.From)
				assert.Equal(t, action, invalid.Action)
				continue
			}
			legal++
			assert.Equal(t, st, rule.From)
			assert.Equal(t, action, rule.Action)
			assert.True(t, rule.To.Valid())
			assert.NotEmpty(t, rule.Roles)
		}
	}
	assert.Equal(t, 12, legal)
}

func TestPipelineEdges(t *testing.T) {
	table := Default()
	cases := []struct {
		from   domain.Status
		action domain.Action
		to     domain.Status
	}{
		{domain.StatusNew, domain.ActionStartWork, domain.StatusInProgress},
		{domain.StatusInProgress, domain.ActionSendForReview, domain.StatusBrandInReview},
		{domain.StatusBrandInReview, domain.ActionApproveBrand, domain.StatusDocumentsPending},
		{domain.StatusBrandInReview, domain.ActionRejectBrand, domain.StatusReturnedToOperator},
		{domain.StatusReturnedToOperator, domain.ActionSendForReview, domain.StatusBrandInReview},
		{domain.StatusDocumentsPending, domain.ActionSubmitDocuments, domain.StatusDocumentsSubmitted},
		{domain.StatusDocumentsSubmitted, domain.ActionApproveDocuments, domain.StatusToLawyer},
		{domain.StatusDocumentsSubmitted, domain.ActionRejectDocuments, domain.StatusDocumentsReturned},
		{domain.StatusDocumentsReturned, domain.ActionSubmitDocuments, domain.StatusDocumentsSubmitted},
		{domain.StatusToLawyer, domain.ActionAcceptByLawyer, domain.StatusLawyerProcessing},
		{domain.StatusLawyerProcessing, domain.ActionCompleteByLawyer, domain.StatusLawyerCompleted},
		{domain.StatusLawyerCompleted, domain.ActionArchive, domain.StatusLawyerCompleted},
	}
	for _, tc := range cases {
		rule, err := table.Lookup(tc.from, tc.action)
		require.NoError(t, err)
		assert.Equal(t, tc.to, rule.To, "%s/%s", tc.from, tc.action)
	}
}

func TestRuleFlags(t *testing.T) {
	table := Default()
	for _, r := range table.rulesFor(domain.ActionRejectBrand) {
		assert.True(t, r.RequiresReason)
	}
	for _, r := range table.rulesFor(domain.ActionRejectDocuments) {
		assert.True(t, r.RequiresReason)
	}
	for _, r := range table.rulesFor(domain.ActionApproveBrand) {
		assert.False(t, r.RequiresReason)
	}
	send := table.rulesFor(domain.ActionSendForReview)
	require.Len(t, send, 2)
	for _, r := range send {
		assert.Equal(t, domain.RoleChecker, r.Assign)
	}
	approveDocs, err := table.Lookup(domain.StatusDocumentsSubmitted, domain.ActionApproveDocuments)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleLawyer, approveDocs.Assign)

	complete, err := table.Lookup(domain.StatusLawyerProcessing, domain.ActionCompleteByLawyer)
	require.NoError(t, err)
	assert.True(t, complete.RequiresCertificate)
	assert.True(t, complete.Allows(domain.RoleLawyer))
	assert.False(t, complete.Allows(domain.RoleChecker))

	archive, err := table.Lookup(domain.StatusLawyerCompleted, domain.ActionArchive)
	require.NoError(t, err)
	assert.True(t, archive.MarksArchived)
	assert.Equal(t, []domain.Role{domain.RoleAdmin}, archive.Roles)
}

func TestAvailable(t *testing.T) {
	table := Default()
	assert.Equal(t, []domain.Action{domain.ActionApproveBrand, domain.ActionRejectBrand}, table.Available(domain.StatusBrandInReview))
	assert.Equal(t, []domain.Action{domain.ActionArchive}, table.Available(domain.StatusLawyerCompleted))
}

func TestNewRejectsMalformedRules(t *testing.T) {
	ok := Rule{From: domain.StatusNew, Action: domain.ActionStartWork, To: domain.StatusInProgress, Roles: staff}

	_, err := New([]Rule{ok, ok})
	assert.ErrorContains(t, err, "duplicate")

	bad := ok
	bad.To = "done"
	_, err = New([]Rule{bad})
	assert.ErrorContains(t, err, "invalid status")

	noRoles := ok
	noRoles.Roles = nil
	_, err = New([]Rule{noRoles})
	assert.ErrorContains(t, err, "no roles")
}
