package service

import (
	"context"
	"strings"

	"github.com/noah-isme/permit-api/internal/models"
	"github.com/noah-isme/permit-api/internal/workflow"
	appErrors "github.com/noah-isme/permit-api/pkg/errors"
)

type transitionApplier interface {
	Apply(ctx context.Context, actor models.Actor, applicationID string, action workflow.Action, text string) (*models.PermitApplication, error)
}

// AuthorityService exposes one operation per workflow action. Payloads are validated before
// the engine is called and engine errors are returned unchanged.
type AuthorityService struct {
	engine transitionApplier
}

// NewAuthorityService constructs the dispatcher.
func NewAuthorityService(engine transitionApplier) *AuthorityService {
	return &AuthorityService{engine: engine}
}

// ForwardToSP moves a fresh application from the DC to the SP.
func (s *AuthorityService) ForwardToSP(ctx context.Context, actor models.Actor, id, remarks string) (*models.PermitApplication, error) {
	return s.dispatch(ctx, actor, id, workflow.ActionForwardToSP, remarks)
}

// ForwardToSDPO moves the application from the SP to the SDPO.
func (s *AuthorityService) ForwardToSDPO(ctx context.Context, actor models.Actor, id, remarks string) (*models.PermitApplication, error) {
	return s.dispatch(ctx, actor, id, workflow.ActionForwardToSDPO, remarks)
}

// ForwardToOC sends the application to the OC for field investigation.
func (s *AuthorityService) ForwardToOC(ctx context.Context, actor models.Actor, id, remarks string) (*models.PermitApplication, error) {
	return s.dispatch(ctx, actor, id, workflow.ActionForwardToOC, remarks)
}

// SubmitOCReport records the investigation report and returns the application to the SDPO.
func (s *AuthorityService) SubmitOCReport(ctx context.Context, actor models.Actor, id, report string) (*models.PermitApplication, error) {
	return s.dispatch(ctx, actor, id, workflow.ActionSubmitOCReport, report)
}

// ForwardToSPFromSDPO sends the reviewed application back up to the SP.
func (s *AuthorityService) ForwardToSPFromSDPO(ctx context.Context, actor models.Actor, id, remarks string) (*models.PermitApplication, error) {
	return s.dispatch(ctx, actor, id, workflow.ActionForwardToSPFromSDPO, remarks)
}

// RecommendToDC sends the SP recommendation for the final decision.
func (s *AuthorityService) RecommendToDC(ctx context.Context, actor models.Actor, id, remarks string) (*models.PermitApplication, error) {
	return s.dispatch(ctx, actor, id, workflow.ActionRecommendToDC, remarks)
}

// ApproveByDC approves the application and issues the permit.
func (s *AuthorityService) ApproveByDC(ctx context.Context, actor models.Actor, id, remarks string) (*models.PermitApplication, error) {
	return s.dispatch(ctx, actor, id, workflow.ActionApprove, remarks)
}

// RejectByDC rejects the application at the initial or final DC stage.
func (s *AuthorityService) RejectByDC(ctx context.Context, actor models.Actor, id, remarks string) (*models.PermitApplication, error) {
	return s.dispatch(ctx, actor, id, workflow.ActionReject, remarks)
}

func (s *AuthorityService) dispatch(ctx context.Context, actor models.Actor, id string, action workflow.Action, text string) (*models.PermitApplication, error) {
	if strings.TrimSpace(id) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "application id is required")
	}
	if err := workflow.ValidateText(workflow.InputFor(action), text); err != nil {
		return nil, err
	}
	return s.engine.Apply(ctx, actor, id, action, strings.TrimSpace(text))
}
