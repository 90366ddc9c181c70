package handler

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/permit-api/internal/dto"
	"github.com/noah-isme/permit-api/internal/middleware"
	"github.com/noah-isme/permit-api/internal/models"
	appErrors "github.com/noah-isme/permit-api/pkg/errors"
)

type authorityCall struct {
	method string
	actor  models.Actor
	id     string
	text   string
}

type authorityActionsMock struct {
	calls []authorityCall
	err   error
}

func (m *authorityActionsMock) record(method string, actor models.Actor, id, text string) (*models.PermitApplication, error) {
	m.calls = append(m.calls, authorityCall{method: method, actor: actor, id: id, text: text})
	if m.err != nil {
		return nil, m.err
	}
	return &models.PermitApplication{ID: id, CurrentStage: models.StageSPPending, Status: models.PermitStatusPending}, nil
}

func (m *authorityActionsMock) ForwardToSP(ctx context.Context, a models.Actor, id, t string) (*models.PermitApplication, error) {
	return m.record("ForwardToSP", a, id, t)
}
func (m *authorityActionsMock) ForwardToSDPO(ctx context.Context, a models.Actor, id, t string) (*models.PermitApplication, error) {
	return m.record("ForwardToSDPO", a, id, t)
}
func (m *authorityActionsMock) ForwardToOC(ctx context.Context, a models.Actor, id, t string) (*models.PermitApplication, error) {
	return m.record("ForwardToOC", a, id, t)
}
func (m *authorityActionsMock) SubmitOCReport(ctx context.Context, a models.Actor, id, t string) (*models.PermitApplication, error) {
	return m.record("SubmitOCReport", a, id, t)
}
func (m *authorityActionsMock) ForwardToSPFromSDPO(ctx context.Context, a models.Actor, id, t string) (*models.PermitApplication, error) {
	return m.record("ForwardToSPFromSDPO", a, id, t)
}
func (m *authorityActionsMock) RecommendToDC(ctx context.Context, a models.Actor, id, t string) (*models.PermitApplication, error) {
	return m.record("RecommendToDC", a, id, t)
}
func (m *authorityActionsMock) ApproveByDC(ctx context.Context, a models.Actor, id, t string) (*models.PermitApplication, error) {
	return m.record("ApproveByDC", a, id, t)
}
func (m *authorityActionsMock) RejectByDC(ctx context.Context, a models.Actor, id, t string) (*models.PermitApplication, error) {
	return m.record("RejectByDC", a, id, t)
}

type inboxReaderMock struct {
	result    *dto.InboxResult
	items     []models.ApplicationSummary
	err       error
	lastStage string
}

func (m *inboxReaderMock) GetInbox(ctx context.Context, actor models.Actor) (*dto.InboxResult, error) {
	return m.result, m.err
}

func (m *inboxReaderMock) GetInboxByStage(ctx context.Context, actor models.Actor, stage string) ([]models.ApplicationSummary, error) {
	m.lastStage = stage
	return m.items, m.err
}

func TestAuthorityHandlerRoutesEachAction(t *testing.T) {
	mock := &authorityActionsMock{}
	h := NewAuthorityHandler(mock, nil)

	cases := []struct {
		method  string
		handler gin.HandlerFunc
		body    interface{}
		text    string
	}{
		{"ForwardToSP", h.ForwardToSP, dto.RemarksRequest{Remarks: "ok"}, "ok"},
		{"ForwardToSDPO", h.ForwardToSDPO, dto.RemarksRequest{Remarks: "verify"}, "verify"},
		{"ForwardToOC", h.ForwardToOC, dto.RemarksRequest{Remarks: "inspect"}, "inspect"},
		{"SubmitOCReport", h.SubmitOCReport, dto.ReportRequest{Report: "site clear"}, "site clear"},
		{"ForwardToSPFromSDPO", h.ForwardToSPFromSDPO, dto.RemarksRequest{Remarks: "reviewed"}, "reviewed"},
		{"RecommendToDC", h.RecommendToDC, dto.RemarksRequest{Remarks: "recommend"}, "recommend"},
		{"ApproveByDC", h.ApproveByDC, dto.RemarksRequest{Remarks: "approved"}, "approved"},
		{"RejectByDC", h.RejectByDC, dto.RemarksRequest{Remarks: "denied"}, "denied"},
	}
	for _, tc := range cases {
		c, w := newRequestContext(http.MethodPut, "/authority/x/app-1", jsonBody(t, tc.body), dcClaims)
		c.Params = gin.Params{{Key: "id", Value: "app-1"}}
		tc.handler(c)
		require.Equal(t, http.StatusOK, w.Code, tc.method)

		last := mock.calls[len(mock.calls)-1]
		assert.Equal(t, tc.method, last.method)
		assert.Equal(t, "app-1", last.id)
		assert.Equal(t, tc.text, last.text)
		assert.Equal(t, models.RoleDC, last.actor.RoleName)
	}
	require.Len(t, mock.calls, len(cases))
}

func TestAuthorityHandlerMalformedBody(t *testing.T) {
	mock := &authorityActionsMock{}
	h := NewAuthorityHandler(mock, nil)

	c, w := newRequestContext(http.MethodPut, "/authority/dc/approve/app-1", strings.NewReader(`{"remarks":`), dcClaims)
	h.ApproveByDC(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, mock.calls)
}

func TestAuthorityHandlerSurfacesEngineErrors(t *testing.T) {
	conflict := appErrors.WithDetails(
		appErrors.Clone(appErrors.ErrInvalidTransition, "stage mismatch"),
		map[string]interface{}{"actualStage": "SP_PENDING"},
	)
	h := NewAuthorityHandler(&authorityActionsMock{err: conflict}, nil)

	c, w := newRequestContext(http.MethodPut, "/authority/dc/approve/app-1", jsonBody(t, dto.RemarksRequest{Remarks: "ok"}), dcClaims)
	h.ApproveByDC(c)

	require.Equal(t, http.StatusConflict, w.Code)
	env := decodeEnvelope(t, w)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, env.Error.Code)
	assert.Equal(t, "SP_PENDING", env.Error.Details["actualStage"])
}

func TestAuthorityHandlerRequiresIdentity(t *testing.T) {
	mock := &authorityActionsMock{}
	h := NewAuthorityHandler(mock, &inboxReaderMock{})

	c, w := newRequestContext(http.MethodPut, "/authority/dc/approve/app-1", jsonBody(t, dto.RemarksRequest{Remarks: "ok"}), nil)
	h.ApproveByDC(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, mock.calls)

	c, w = newRequestContext(http.MethodGet, "/authority/inbox", nil, nil)
	h.Inbox(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthorityHandlerInbox(t *testing.T) {
	inbox := &inboxReaderMock{result: &dto.InboxResult{
		Role:   models.RoleDC,
		Stages: []models.PermitStage{models.StageDCPending, models.StageDCFinalPending},
		Items:  []models.ApplicationSummary{{ApplicationID: "a1"}, {ApplicationID: "a2"}},
		Failures: []dto.InboxFailure{{
			Stage: models.StageDCFinalPending,
			Code:  appErrors.ErrTransport.Code,
		}},
	}}
	h := NewAuthorityHandler(nil, inbox)

	c, w := newRequestContext(http.MethodGet, "/authority/inbox", nil, dcClaims)
	middleware.WithResponseMeta()(c)
	h.Inbox(c)

	require.Equal(t, http.StatusOK, w.Code)
	env := decodeEnvelope(t, w)
	assert.Contains(t, string(env.Data), `"a2"`)
	assert.Equal(t, float64(2), env.Meta["total"])
	assert.Equal(t, true, env.Meta["partial"])
}

func TestAuthorityHandlerInboxByStage(t *testing.T) {
	inbox := &inboxReaderMock{items: []models.ApplicationSummary{{ApplicationID: "a1", CurrentStage: models.StageOCPending}}}
	h := NewAuthorityHandler(nil, inbox)

	c, w := newRequestContext(http.MethodGet, "/authority/inbox/OC_PENDING", nil, ocClaims)
	c.Params = gin.Params{{Key: "stage", Value: "OC_PENDING"}}
	h.InboxByStage(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OC_PENDING", inbox.lastStage)

	inbox.err = appErrors.Clone(appErrors.ErrRoleNotAuthorized, "role has no inbox")
	c, w = newRequestContext(http.MethodGet, "/authority/inbox/OC_PENDING", nil, applicantClaims)
	c.Params = gin.Params{{Key: "stage", Value: "OC_PENDING"}}
	h.InboxByStage(c)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestAuthorityHandlerNotConfigured(t *testing.T) {
	h := NewAuthorityHandler(nil, nil)

	handlers := map[string]gin.HandlerFunc{
		"ForwardToSP":         h.ForwardToSP,
		"ForwardToSDPO":       h.ForwardToSDPO,
		"ForwardToOC":         h.ForwardToOC,
		"SubmitOCReport":      h.SubmitOCReport,
		"ForwardToSPFromSDPO": h.ForwardToSPFromSDPO,
		"RecommendToDC":       h.RecommendToDC,
		"ApproveByDC":         h.ApproveByDC,
		"RejectByDC":          h.RejectByDC,
	}
	for name, handle := range handlers {
		c, w := newRequestContext(http.MethodPut, "/authority/action/app-1", jsonBody(t, dto.RemarksRequest{Remarks: "x"}), dcClaims)
		require.NotPanics(t, func() { handle(c) }, name)
		require.Equal(t, http.StatusInternalServerError, w.Code, name)
		assert.Contains(t, w.Body.String(), "authority service not configured", name)
	}
}
