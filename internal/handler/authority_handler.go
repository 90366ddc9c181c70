package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/permit-api/internal/dto"
	"github.com/noah-isme/permit-api/internal/middleware"
	"github.com/noah-isme/permit-api/internal/models"
	appErrors "github.com/noah-isme/permit-api/pkg/errors"
	"github.com/noah-isme/permit-api/pkg/response"
)

type authorityActions interface {
	ForwardToSP(ctx context.Context, actor models.Actor, id, remarks string) (*models.PermitApplication, error)
	ForwardToSDPO(ctx context.Context, actor models.Actor, id, remarks string) (*models.PermitApplication, error)
	ForwardToOC(ctx context.Context, actor models.Actor, id, remarks string) (*models.PermitApplication, error)
	SubmitOCReport(ctx context.Context, actor models.Actor, id, report string) (*models.PermitApplication, error)
	ForwardToSPFromSDPO(ctx context.Context, actor models.Actor, id, remarks string) (*models.PermitApplication, error)
	RecommendToDC(ctx context.Context, actor models.Actor, id, remarks string) (*models.PermitApplication, error)
	ApproveByDC(ctx context.Context, actor models.Actor, id, remarks string) (*models.PermitApplication, error)
	RejectByDC(ctx context.Context, actor models.Actor, id, remarks string) (*models.PermitApplication, error)
}

type inboxReader interface {
	GetInbox(ctx context.Context, actor models.Actor) (*dto.InboxResult, error)
	GetInboxByStage(ctx context.Context, actor models.Actor, stage string) ([]models.ApplicationSummary, error)
}

type actionFunc func(ctx context.Context, actor models.Actor, id, text string) (*models.PermitApplication, error)

// AuthorityHandler exposes the reviewer inbox and workflow actions.
type AuthorityHandler struct {
	actions authorityActions
	inbox   inboxReader
}

// NewAuthorityHandler constructs the handler.
func NewAuthorityHandler(actions authorityActions, inbox inboxReader) *AuthorityHandler {
	return &AuthorityHandler{actions: actions, inbox: inbox}
}

// Inbox godoc
// @Summary List applications waiting on the caller's role
// @Tags Authority
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /authority/inbox [get]
func (h *AuthorityHandler) Inbox(c *gin.Context) {
	if h.inbox == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "inbox service not configured"))
		return
	}
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	result, err := h.inbox.GetInbox(c.Request.Context(), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetMeta(c, "total", len(result.Items))
	if len(result.Failures) > 0 {
		middleware.SetMeta(c, "partial", true)
	}
	response.JSON(c, http.StatusOK, result, nil, middleware.ExtractMeta(c))
}

// InboxByStage godoc
// @Summary List one stage of the caller's inbox
// @Tags Authority
// @Produce json
// @Param stage path string true "Stage"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /authority/inbox/{stage} [get]
func (h *AuthorityHandler) InboxByStage(c *gin.Context) {
	if h.inbox == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "inbox service not configured"))
		return
	}
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	items, err := h.inbox.GetInboxByStage(c.Request.Context(), actor, c.Param("stage"))
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetMeta(c, "total", len(items))
	response.JSON(c, http.StatusOK, items, nil, middleware.ExtractMeta(c))
}

// ForwardToSP godoc
// @Summary DC forwards a new application to SP
// @Tags Authority
// @Accept json
// @Produce json
// @Param id path string true "Application ID"
// @Param payload body dto.RemarksRequest true "Remarks"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /authority/dc/forward-sp/{id} [put]
func (h *AuthorityHandler) ForwardToSP(c *gin.Context) {
	if !h.actionsReady(c) {
		return
	}
	h.withRemarks(c, h.actions.ForwardToSP)
}

// ForwardToSDPO godoc
// @Summary SP forwards to SDPO
// @Tags Authority
// @Accept json
// @Produce json
// @Param id path string true "Application ID"
// @Param payload body dto.RemarksRequest true "Remarks"
// @Success 200 {object} response.Envelope
// @Router /authority/sp/forward-sdpo/{id} [put]
func (h *AuthorityHandler) ForwardToSDPO(c *gin.Context) {
	if !h.actionsReady(c) {
		return
	}
	h.withRemarks(c, h.actions.ForwardToSDPO)
}

// ForwardToOC godoc
// @Summary SDPO assigns the field investigation to OC
// @Tags Authority
// @Accept json
// @Produce json
// @Param id path string true "Application ID"
// @Param payload body dto.RemarksRequest true "Remarks"
// @Success 200 {object} response.Envelope
// @Router /authority/sdpo/forward-oc/{id} [put]
func (h *AuthorityHandler) ForwardToOC(c *gin.Context) {
	if !h.actionsReady(c) {
		return
	}
	h.withRemarks(c, h.actions.ForwardToOC)
}

// SubmitOCReport godoc
// @Summary OC submits the field report
// @Tags Authority
// @Accept json
// @Produce json
// @Param id path string true "Application ID"
// @Param payload body dto.ReportRequest true "Report"
// @Success 200 {object} response.Envelope
// @Router /authority/oc/report/{id} [put]
func (h *AuthorityHandler) SubmitOCReport(c *gin.Context) {
	if !h.actionsReady(c) {
		return
	}
	var req dto.ReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid report payload"))
		return
	}
	h.run(c, h.actions.SubmitOCReport, req.Report)
}

// ForwardToSPFromSDPO godoc
// @Summary SDPO returns the reviewed report to SP
// @Tags Authority
// @Accept json
// @Produce json
// @Param id path string true "Application ID"
// @Param payload body dto.RemarksRequest true "Remarks"
// @Success 200 {object} response.Envelope
// @Router /authority/sdpo/forward-sp/{id} [put]
func (h *AuthorityHandler) ForwardToSPFromSDPO(c *gin.Context) {
	if !h.actionsReady(c) {
		return
	}
	h.withRemarks(c, h.actions.ForwardToSPFromSDPO)
}

// RecommendToDC godoc
// @Summary SP recommends the application to DC
// @Tags Authority
// @Accept json
// @Produce json
// @Param id path string true "Application ID"
// @Param payload body dto.RemarksRequest true "Remarks"
// @Success 200 {object} response.Envelope
// @Router /authority/sp/recommend-dc/{id} [put]
func (h *AuthorityHandler) RecommendToDC(c *gin.Context) {
	if !h.actionsReady(c) {
		return
	}
	h.withRemarks(c, h.actions.RecommendToDC)
}

// ApproveByDC godoc
// @Summary DC approves and issues the permit
// @Tags Authority
// @Accept json
// @Produce json
// @Param id path string true "Application ID"
// @Param payload body dto.RemarksRequest true "Remarks"
// @Success 200 {object} response.Envelope
// @Router /authority/dc/approve/{id} [put]
func (h *AuthorityHandler) ApproveByDC(c *gin.Context) {
	if !h.actionsReady(c) {
		return
	}
	h.withRemarks(c, h.actions.ApproveByDC)
}

// RejectByDC godoc
// @Summary DC rejects the application
// @Tags Authority
// @Accept json
// @Produce json
// @Param id path string true "Application ID"
// @Param payload body dto.RemarksRequest true "Remarks"
// @Success 200 {object} response.Envelope
// @Router /authority/dc/reject/{id} [put]
func (h *AuthorityHandler) RejectByDC(c *gin.Context) {
	if !h.actionsReady(c) {
		return
	}
	h.withRemarks(c, h.actions.RejectByDC)
}

func (h *AuthorityHandler) actionsReady(c *gin.Context) bool {
	if h.actions == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "authority service not configured"))
		return false
	}
	return true
}

func (h *AuthorityHandler) withRemarks(c *gin.Context, action actionFunc) {
	var req dto.RemarksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid remarks payload"))
		return
	}
	h.run(c, action, req.Remarks)
}

func (h *AuthorityHandler) run(c *gin.Context, action actionFunc, text string) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	app, err := action(c.Request.Context(), actor, c.Param("id"), text)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, app, nil)
}
