package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/permit-api/internal/dto"
	"github.com/noah-isme/permit-api/internal/models"
	"github.com/noah-isme/permit-api/internal/service"
	appErrors "github.com/noah-isme/permit-api/pkg/errors"
	"github.com/noah-isme/permit-api/pkg/response"
)

type permitService interface {
	Create(ctx context.Context, actor models.Actor, req dto.CreatePermitApplicationRequest) (*models.PermitApplication, error)
	CreateWithDocument(ctx context.Context, actor models.Actor, req dto.CreatePermitApplicationRequest, upload service.DocumentUpload) (*models.PermitApplication, error)
	ListMine(ctx context.Context, actor models.Actor) ([]models.PermitApplication, error)
	ListAll(ctx context.Context, actor models.Actor, query dto.PermitApplicationQuery) ([]models.PermitApplication, error)
	Get(ctx context.Context, actor models.Actor, id string) (*models.PermitApplication, error)
	OpenDocument(ctx context.Context, actor models.Actor, id string) (*service.FileDownload, error)
	OpenPermit(ctx context.Context, actor models.Actor, id string) (*service.FileDownload, error)
	PermitDownloadURL(ctx context.Context, actor models.Actor, id string) (*dto.PermitURLResponse, error)
	DownloadPermitByToken(ctx context.Context, token string) (*service.FileDownload, error)
	Export(ctx context.Context, actor models.Actor, query dto.PermitApplicationQuery, format string) (*service.ExportResult, error)
}

// PermitHandler serves applicant submissions and application reads.
type PermitHandler struct {
	service permitService
}

// NewPermitHandler constructs the handler.
func NewPermitHandler(service permitService) *PermitHandler {
	return &PermitHandler{service: service}
}

// Create godoc
// @Summary Submit a permit application
// @Tags Permit Applications
// @Accept json
// @Produce json
// @Param payload body dto.CreatePermitApplicationRequest true "Application"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /permit-applications [post]
func (h *PermitHandler) Create(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "permit service not configured"))
		return
	}
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.CreatePermitApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid application payload"))
		return
	}
	app, err := h.service.Create(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, app)
}

// CreateWithDocument godoc
// @Summary Submit a permit application with a PDF document
// @Tags Permit Applications
// @Accept multipart/form-data
// @Produce json
// @Param application formData string true "Application JSON"
// @Param file formData file true "Supporting PDF"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /permit-applications/with-pdf [post]
func (h *PermitHandler) CreateWithDocument(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "permit service not configured"))
		return
	}
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	raw := c.PostForm("application")
	if strings.TrimSpace(raw) == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "application part is required"))
		return
	}
	var req dto.CreatePermitApplicationRequest
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid application payload"))
		return
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file is required"))
		return
	}
	src, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file"))
		return
	}
	defer src.Close()

	reader, ok := src.(io.ReadSeeker)
	if !ok {
		buf, readErr := io.ReadAll(src)
		if readErr != nil {
			response.Error(c, appErrors.Wrap(readErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to buffer file"))
			return
		}
		reader = bytes.NewReader(buf)
	}
	app, err := h.service.CreateWithDocument(c.Request.Context(), actor, req, service.DocumentUpload{
		Filename: fileHeader.Filename,
		Size:     fileHeader.Size,
		Content:  reader,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, app)
}

// List godoc
// @Summary List permit applications
// @Tags Permit Applications
// @Produce json
// @Param stage query string false "Comma separated stages"
// @Param status query string false "Status"
// @Param permitType query string false "Permit type"
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {object} response.Envelope
// @Router /permit-applications [get]
func (h *PermitHandler) List(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "permit service not configured"))
		return
	}
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var query dto.PermitApplicationQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid query parameters"))
		return
	}
	apps, err := h.service.ListAll(c.Request.Context(), actor, query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, apps, &models.Pagination{Page: pageFor(query), PageSize: query.Limit, TotalCount: len(apps)})
}

// Mine godoc
// @Summary List the caller's own applications
// @Tags Permit Applications
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /permit-applications/mine [get]
func (h *PermitHandler) Mine(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "permit service not configured"))
		return
	}
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	apps, err := h.service.ListMine(c.Request.Context(), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, apps, nil)
}

// Export godoc
// @Summary Export permit applications
// @Tags Permit Applications
// @Produce octet-stream
// @Param format query string false "csv, xlsx or pdf"
// @Success 200 {file} binary
// @Router /permit-applications/export [get]
func (h *PermitHandler) Export(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "permit service not configured"))
		return
	}
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var query dto.PermitApplicationQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid query parameters"))
		return
	}
	format := c.DefaultQuery("format", "csv")
	result, err := h.service.Export(c.Request.Context(), actor, query, format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Bytes(c, result.Filename, result.ContentType, result.Data)
}

// Get godoc
// @Summary Get a permit application
// @Tags Permit Applications
// @Produce json
// @Param id path string true "Application ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /permit-applications/{id} [get]
func (h *PermitHandler) Get(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "permit service not configured"))
		return
	}
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	app, err := h.service.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, app, nil)
}

// DownloadDocument godoc
// @Summary Download the supporting document
// @Tags Permit Applications
// @Produce octet-stream
// @Param id path string true "Application ID"
// @Success 200 {file} binary
// @Router /permit-applications/{id}/download-document [get]
func (h *PermitHandler) DownloadDocument(c *gin.Context) {
	h.serveFile(c, response.DispositionAttachment, func(ctx context.Context, actor models.Actor, id string) (*service.FileDownload, error) {
		return h.service.OpenDocument(ctx, actor, id)
	})
}

// ViewDocument godoc
// @Summary View the supporting document inline
// @Tags Permit Applications
// @Produce application/pdf
// @Param id path string true "Application ID"
// @Success 200 {file} binary
// @Router /permit-applications/{id}/view-document [get]
func (h *PermitHandler) ViewDocument(c *gin.Context) {
	h.serveFile(c, response.DispositionInline, func(ctx context.Context, actor models.Actor, id string) (*service.FileDownload, error) {
		return h.service.OpenDocument(ctx, actor, id)
	})
}

// Permit godoc
// @Summary Download the issued permit
// @Tags Permit Applications
// @Produce application/pdf
// @Param id path string true "Application ID"
// @Success 200 {file} binary
// @Router /permit-applications/{id}/permit [get]
func (h *PermitHandler) Permit(c *gin.Context) {
	h.serveFile(c, response.DispositionAttachment, func(ctx context.Context, actor models.Actor, id string) (*service.FileDownload, error) {
		return h.service.OpenPermit(ctx, actor, id)
	})
}

// PermitURL godoc
// @Summary Issue a signed permit download link
// @Tags Permit Applications
// @Produce json
// @Param id path string true "Application ID"
// @Success 200 {object} response.Envelope
// @Router /permit-applications/{id}/permit-url [get]
func (h *PermitHandler) PermitURL(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "permit service not configured"))
		return
	}
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	link, err := h.service.PermitDownloadURL(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, link, nil)
}

// DownloadPermit godoc
// @Summary Download a permit through a signed link
// @Tags Permits
// @Produce application/pdf
// @Param token query string true "Signed token"
// @Success 200 {file} binary
// @Failure 403 {object} response.Envelope
// @Router /permits/download [get]
func (h *PermitHandler) DownloadPermit(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "permit service not configured"))
		return
	}
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	result, err := h.service.DownloadPermitByToken(c.Request.Context(), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	writeFile(c, response.DispositionAttachment, result)
}

func (h *PermitHandler) serveFile(c *gin.Context, disposition string, open func(context.Context, models.Actor, string) (*service.FileDownload, error)) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "permit service not configured"))
		return
	}
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	result, err := open(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	writeFile(c, disposition, result)
}

func writeFile(c *gin.Context, disposition string, result *service.FileDownload) {
	defer result.File.Close() //nolint:errcheck
	response.File(c, disposition, result.Filename, result.MimeType, result.SizeBytes, result.File)
}

func pageFor(query dto.PermitApplicationQuery) int {
	if query.Limit <= 0 {
		return 1
	}
	return query.Offset/query.Limit + 1
}
