// Package workflow holds the permit approval state machine: the stage order,
// the transition table and the role registry deciding who may act where.
package workflow

import (
	"fmt"
	"strings"

	"github.com/noah-isme/permit-api/internal/models"
	appErrors "github.com/noah-isme/permit-api/pkg/errors"
)

// Action names a workflow operation.
type Action string

const (
	ActionForwardToSP         Action = "FORWARD_TO_SP"
	ActionForwardToSDPO       Action = "FORWARD_TO_SDPO"
	ActionForwardToOC         Action = "FORWARD_TO_OC"
	ActionSubmitOCReport      Action = "SUBMIT_OC_REPORT"
	ActionForwardToSPFromSDPO Action = "FORWARD_TO_SP_FROM_SDPO"
	ActionRecommendToDC       Action = "RECOMMEND_TO_DC"
	ActionApprove             Action = "APPROVE"
	ActionReject              Action = "REJECT"
)

// InputKind tells which free-text payload an action requires.
type InputKind string

const (
	InputRemarks InputKind = "remarks"
	InputReport  InputKind = "report"
)

// Transition is one row of the workflow table.
type Transition struct {
	From            models.PermitStage
	Seat            models.RoleName
	Action          Action
	To              models.PermitStage
	Field           models.AnnotationField
	Input           InputKind
	GeneratesPermit bool
}

var stageOrder = []models.PermitStage{
	models.StageDCPending,
	models.StageSPPending,
	models.StageSDPOPending,
	models.StageOCPending,
	models.StageSDPOReviewPending,
	models.StageSPReviewPending,
	models.StageDCFinalPending,
	models.StageCompleted,
	models.StageRejected,
}

var table = []Transition{
	{From: models.StageDCPending, Seat: models.RoleDC, Action: ActionForwardToSP, To: models.StageSPPending, Field: models.FieldDCRemarks, Input: InputRemarks},
	{From: models.StageDCPending, Seat: models.RoleDC, Action: ActionReject, To: models.StageRejected, Field: models.FieldDCRemarks, Input: InputRemarks},
	{From: models.StageSPPending, Seat: models.RoleSP, Action: ActionForwardToSDPO, To: models.StageSDPOPending, Field: models.FieldSPRemarks, Input: InputRemarks},
	{From: models.StageSDPOPending, Seat: models.RoleSDPO, Action: ActionForwardToOC, To: models.StageOCPending, Field: models.FieldSDPORemarks, Input: InputRemarks},
	{From: models.StageOCPending, Seat: models.RoleOC, Action: ActionSubmitOCReport, To: models.StageSDPOReviewPending, Field: models.FieldOCReport, Input: InputReport},
	{From: models.StageSDPOReviewPending, Seat: models.RoleSDPO, Action: ActionForwardToSPFromSDPO, To: models.StageSPReviewPending, Field: models.FieldSDPORemarks, Input: InputRemarks},
	{From: models.StageSPReviewPending, Seat: models.RoleSP, Action: ActionRecommendToDC, To: models.StageDCFinalPending, Field: models.FieldSPRemarks, Input: InputRemarks},
	{From: models.StageDCFinalPending, Seat: models.RoleDC, Action: ActionApprove, To: models.StageCompleted, Field: models.FieldDCRemarks, Input: InputRemarks, GeneratesPermit: true},
	{From: models.StageDCFinalPending, Seat: models.RoleDC, Action: ActionReject, To: models.StageRejected, Field: models.FieldDCRemarks, Input: InputRemarks},
}

// Table returns a copy of the transition table.
func Table() []Transition {
	out := make([]Transition, len(table))
	copy(out, table)
	return out
}

// Stages returns every known stage in workflow order.
func Stages() []models.PermitStage {
	out := make([]models.PermitStage, len(stageOrder))
	copy(out, stageOrder)
	return out
}

// Actions returns every known action.
func Actions() []Action {
	seen := make(map[Action]struct{})
	out := make([]Action, 0, len(table))
	for _, t := range table {
		if _, ok := seen[t.Action]; ok {
			continue
		}
		seen[t.Action] = struct{}{}
		out = append(out, t.Action)
	}
	return out
}

// ParseStage normalises raw input into a known stage.
func ParseStage(raw string) (models.PermitStage, bool) {
	candidate := models.PermitStage(strings.ToUpper(strings.TrimSpace(raw)))
	for _, s := range stageOrder {
		if s == candidate {
			return s, true
		}
	}
	return "", false
}

// IsTerminal reports whether no transition may leave the stage.
func IsTerminal(stage models.PermitStage) bool {
	return stage == models.StageCompleted || stage == models.StageRejected
}

// StatusFor derives the coarse status from a stage.
func StatusFor(stage models.PermitStage) models.PermitStatus {
	switch stage {
	case models.StageCompleted:
		return models.PermitStatusApproved
	case models.StageRejected:
		return models.PermitStatusRejected
	default:
		return models.PermitStatusPending
	}
}

// Rank is the position of a stage in workflow order, -1 when unknown.
func Rank(stage models.PermitStage) int {
	for i, s := range stageOrder {
		if s == stage {
			return i
		}
	}
	return -1
}

// InputFor returns the payload kind an action expects.
func InputFor(action Action) InputKind {
	for _, t := range table {
		if t.Action == action {
			return t.Input
		}
	}
	return InputRemarks
}

// ValidateText rejects empty or whitespace-only justification text.
func ValidateText(kind InputKind, text string) error {
	if strings.TrimSpace(text) == "" {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s is required", kind))
	}
	return nil
}

// Resolve finds the transition the role may apply for action at stage.
//
// A role whose seat never performs the action gets ROLE_NOT_AUTHORIZED. A role that
// could perform the action, but not from the current stage, gets INVALID_TRANSITION
// with the stages the action expects.
func Resolve(role Role, stage models.PermitStage, action Action) (Transition, error) {
	candidates := make([]Transition, 0, 2)
	for _, t := range table {
		if t.Action == action {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return Transition{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown action %q", action))
	}

	expected := make([]models.PermitStage, 0, len(candidates))
	seatAllowed := false
	for _, t := range candidates {
		expected = append(expected, t.From)
		if role.Seat != "" && t.Seat == role.Seat {
			seatAllowed = true
		}
	}

	if !seatAllowed {
		return Transition{}, appErrors.WithDetails(
			appErrors.Clone(appErrors.ErrRoleNotAuthorized, fmt.Sprintf("role %s may not %s", role.Name, action)),
			map[string]interface{}{"action": action, "role": role.Name},
		)
	}

	if IsTerminal(stage) {
		return Transition{}, invalidTransition(action, expected, stage)
	}

	for _, t := range candidates {
		if t.From == stage && t.Seat == role.Seat {
			return t, nil
		}
	}
	return Transition{}, invalidTransition(action, expected, stage)
}

func invalidTransition(action Action, expected []models.PermitStage, actual models.PermitStage) error {
	names := make([]string, len(expected))
	for i, s := range expected {
		names[i] = string(s)
	}
	return appErrors.WithDetails(
		appErrors.Clone(appErrors.ErrInvalidTransition,
			fmt.Sprintf("%s requires stage %s, application is at %s", action, strings.Join(names, " or "), actual)),
		map[string]interface{}{
			"action":         action,
			"expectedStages": expected,
			"actualStage":    actual,
		},
	)
}

// StageMismatch builds the INVALID_TRANSITION error for a lost compare-and-set.
func StageMismatch(t Transition, actual models.PermitStage) error {
	return invalidTransition(t.Action, []models.PermitStage{t.From}, actual)
}
