package workflow

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/permit-api/internal/models"
	appErrors "github.com/noah-isme/permit-api/pkg/errors"
)

func roleFor(t *testing.T, name models.RoleName) Role {
	t.Helper()
	role, ok := DefaultRegistry().Lookup(name)
	require.True(t, ok, "role %s", name)
	return role
}

func TestResolveValidTransitions(t *testing.T) {
	cases := []struct {
		role   models.RoleName
		stage  models.PermitStage
		action Action
		next   models.PermitStage
		field  models.AnnotationField
	}{
		{models.RoleDC, models.StageDCPending, ActionForwardToSP, models.StageSPPending, models.FieldDCRemarks},
		{models.RoleDC, models.StageDCPending, ActionReject, models.StageRejected, models.FieldDCRemarks},
		{models.RoleSP, models.StageSPPending, ActionForwardToSDPO, models.StageSDPOPending, models.FieldSPRemarks},
		{models.RoleSDPO, models.StageSDPOPending, ActionForwardToOC, models.StageOCPending, models.FieldSDPORemarks},
		{models.RoleOC, models.StageOCPending, ActionSubmitOCReport, models.StageSDPOReviewPending, models.FieldOCReport},
		{models.RoleSDPO, models.StageSDPOReviewPending, ActionForwardToSPFromSDPO, models.StageSPReviewPending, models.FieldSDPORemarks},
		{models.RoleSP, models.StageSPReviewPending, ActionRecommendToDC, models.StageDCFinalPending, models.FieldSPRemarks},
		{models.RoleDC, models.StageDCFinalPending, ActionApprove, models.StageCompleted, models.FieldDCRemarks},
		{models.RoleDC, models.StageDCFinalPending, ActionReject, models.StageRejected, models.FieldDCRemarks},
		{models.RoleAuthority, models.StageSPPending, ActionForwardToSDPO, models.StageSDPOPending, models.FieldSPRemarks},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(string(tc.role)+"/"+string(tc.action)+"@"+string(tc.stage), func(t *testing.T) {
			tr, err := Resolve(roleFor(t, tc.role), tc.stage, tc.action)
			require.NoError(t, err)
			require.Equal(t, tc.next, tr.To)
			require.Equal(t, tc.field, tr.Field)
			require.Equal(t, tc.action == ActionApprove, tr.GeneratesPermit)
		})
	}
}

func TestResolveRejectsEveryOtherCombination(t *testing.T) {
	reg := DefaultRegistry()
	valid := map[string]bool{}
	for _, tr := range table {
		valid[string(tr.Seat)+"|"+string(tr.From)+"|"+string(tr.Action)] = true
	}

	for _, role := range reg.Roles() {
		for _, stage := range Stages() {
			for _, action := range Actions() {
				_, err := Resolve(role, stage, action)
				if valid[string(role.Seat)+"|"+string(stage)+"|"+string(action)] {
					require.NoError(t, err)
					continue
				}
				require.Error(t, err, "%s %s %s", role.Name, stage, action)
				require.True(t,
					appErrors.HasCode(err, appErrors.ErrRoleNotAuthorized.Code) ||
						appErrors.HasCode(err, appErrors.ErrInvalidTransition.Code),
					"unexpected error %v", err)
			}
		}
	}
}

func TestResolveWrongRoleIsUnauthorized(t *testing.T) {
	_, err := Resolve(roleFor(t, models.RoleSP), models.StageDCPending, ActionForwardToSP)
	require.True(t, appErrors.HasCode(err, appErrors.ErrRoleNotAuthorized.Code))

	_, err = Resolve(roleFor(t, models.RoleApplicant), models.StageDCFinalPending, ActionApprove)
	require.True(t, appErrors.HasCode(err, appErrors.ErrRoleNotAuthorized.Code))

	_, err = Resolve(roleFor(t, models.RoleOC), models.StageDCPending, ActionReject)
	require.True(t, appErrors.HasCode(err, appErrors.ErrRoleNotAuthorized.Code))
}

func TestResolveWrongStageCarriesStages(t *testing.T) {
	_, err := Resolve(roleFor(t, models.RoleDC), models.StageSPPending, ActionApprove)
	require.Error(t, err)

	appErr := appErrors.FromError(err)
	require.Equal(t, appErrors.ErrInvalidTransition.Code, appErr.Code)
	require.Equal(t, []models.PermitStage{models.StageDCFinalPending}, appErr.Details["expectedStages"])
	require.Equal(t, models.StageSPPending, appErr.Details["actualStage"])
}

func TestResolveTerminalStagesAcceptNothing(t *testing.T) {
	for _, stage := range []models.PermitStage{models.StageCompleted, models.StageRejected} {
		for _, tr := range table {
			_, err := Resolve(roleFor(t, tr.Seat), stage, tr.Action)
			require.True(t, appErrors.HasCode(err, appErrors.ErrInvalidTransition.Code), "%s %s", stage, tr.Action)
		}
	}
}

func TestResolveUnknownAction(t *testing.T) {
	_, err := Resolve(roleFor(t, models.RoleDC), models.StageDCPending, Action("ESCALATE"))
	require.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))
}

func TestTransitionsMoveForward(t *testing.T) {
	for _, tr := range table {
		require.Greater(t, Rank(tr.To), Rank(tr.From), "%s", tr.Action)
		require.False(t, IsTerminal(tr.From))
	}
}

func TestStatusFor(t *testing.T) {
	require.Equal(t, models.PermitStatusApproved, StatusFor(models.StageCompleted))
	require.Equal(t, models.PermitStatusRejected, StatusFor(models.StageRejected))
	for _, s := range Stages() {
		if !IsTerminal(s) {
			require.Equal(t, models.PermitStatusPending, StatusFor(s))
		}
	}
}

func TestParseStage(t *testing.T) {
	stage, ok := ParseStage(" sp_review_pending ")
	require.True(t, ok)
	require.Equal(t, models.StageSPReviewPending, stage)

	_, ok = ParseStage("ARCHIVED")
	require.False(t, ok)
}

func TestValidateText(t *testing.T) {
	require.NoError(t, ValidateText(InputRemarks, "ok"))
	err := ValidateText(InputReport, " \t\n")
	require.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))
	require.Contains(t, err.Error(), "report")
}
