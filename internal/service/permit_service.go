package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/permit-api/internal/dto"
	"github.com/noah-isme/permit-api/internal/models"
	"github.com/noah-isme/permit-api/internal/workflow"
	appErrors "github.com/noah-isme/permit-api/pkg/errors"
	"github.com/noah-isme/permit-api/pkg/export"
)

type permitStore interface {
	Create(ctx context.Context, app *models.PermitApplication) error
	GetByID(ctx context.Context, id string) (*models.PermitApplication, error)
	ListAnnotations(ctx context.Context, applicationID string) ([]models.PermitAnnotation, error)
	List(ctx context.Context, filter models.PermitApplicationFilter) ([]models.PermitApplication, error)
}

type documentStorage interface {
	SaveStream(filename string, r io.Reader) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
}

type permitURLSigner interface {
	Generate(id, relPath string) (string, time.Time, error)
	Parse(token string, allowExpired bool) (id, relPath string, expiresAt time.Time, err error)
}

type datasetRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

// DocumentUpload carries a supporting document stream.
type DocumentUpload struct {
	Filename string
	Size     int64
	Content  io.ReadSeeker
}

// FileDownload bundles an opened file with its response metadata.
type FileDownload struct {
	File      *os.File
	Filename  string
	MimeType  string
	SizeBytes int64
	ExpiresAt time.Time
}

// ExportResult is a rendered application listing.
type ExportResult struct {
	Filename    string
	ContentType string
	Data        []byte
}

// PermitServiceConfig holds upload limits and link settings.
type PermitServiceConfig struct {
	MaxDocumentSize int64
	APIPrefix       string
}

// PermitService handles applicant submissions and read access to applications.
type PermitService struct {
	store     permitStore
	registry  *workflow.Registry
	validator *validator.Validate
	documents documentStorage
	permits   documentStorage
	signer    permitURLSigner
	audit     auditLogger
	exporters map[export.Format]datasetRenderer
	cache     *CacheService
	logger    *zap.Logger
	cfg       PermitServiceConfig
}

// PermitServiceOption customises optional collaborators.
type PermitServiceOption func(*PermitService)

// WithPermitCache drops the cached DC inbox page whenever an application is submitted.
func WithPermitCache(cache *CacheService) PermitServiceOption {
	return func(s *PermitService) { s.cache = cache }
}

// RegisterValidations adds the permit request tags to validate.
func RegisterValidations(validate *validator.Validate) error {
	return validate.RegisterValidation("permit_type", func(fl validator.FieldLevel) bool {
		_, ok := models.ParsePermitType(fl.Field().String())
		return ok
	})
}

// NewPermitService constructs the service. A caller supplied validator must already
// carry RegisterValidations.
func NewPermitService(store permitStore, registry *workflow.Registry, validate *validator.Validate, documents, permits documentStorage, signer permitURLSigner, audit auditLogger, logger *zap.Logger, cfg PermitServiceConfig, opts ...PermitServiceOption) *PermitService {
	if registry == nil {
		registry = workflow.DefaultRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
		if err := RegisterValidations(validate); err != nil {
			logger.Error("register permit validations", zap.Error(err))
		}
	}
	if cfg.MaxDocumentSize <= 0 {
		cfg.MaxDocumentSize = 10 * 1024 * 1024
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api/v1"
	}
	svc := &PermitService{
		store:     store,
		registry:  registry,
		validator: validate,
		documents: documents,
		permits:   permits,
		signer:    signer,
		audit:     audit,
		exporters: map[export.Format]datasetRenderer{
			export.FormatCSV:  export.NewCSVExporter(),
			export.FormatXLSX: export.NewXLSXExporter(),
			export.FormatPDF:  export.NewPDFExporter(),
		},
		logger: logger,
		cfg:    cfg,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Create registers a new application at DC_PENDING.
func (s *PermitService) Create(ctx context.Context, actor models.Actor, req dto.CreatePermitApplicationRequest) (*models.PermitApplication, error) {
	app, err := s.newApplication(actor, req)
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, app); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrTransport.Code, appErrors.ErrTransport.Status, "failed to create permit application")
	}
	s.afterCreate(ctx, actor, app)
	return app, nil
}

// CreateWithDocument registers a new application with a PDF supporting document.
func (s *PermitService) CreateWithDocument(ctx context.Context, actor models.Actor, req dto.CreatePermitApplicationRequest, upload DocumentUpload) (*models.PermitApplication, error) {
	app, err := s.newApplication(actor, req)
	if err != nil {
		return nil, err
	}
	if s.documents == nil {
		return nil, appErrors.Clone(appErrors.ErrTransport, "document storage unavailable")
	}
	mimeType, err := s.checkDocument(upload)
	if err != nil {
		return nil, err
	}

	original := filepath.Base(strings.TrimSpace(upload.Filename))
	path, err := s.documents.SaveStream(fmt.Sprintf("%s_%s", uuid.NewString(), sanitizeFilename(original)), upload.Content)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrTransport.Code, appErrors.ErrTransport.Status, "failed to store document")
	}
	app.DocumentPath = &path
	app.DocumentFileName = &original
	app.DocumentMimeType = &mimeType

	if err := s.store.Create(ctx, app); err != nil {
		if delErr := s.documents.Delete(path); delErr != nil {
			s.logger.Warn("failed to remove orphaned document", zap.String("path", path), zap.Error(delErr))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrTransport.Code, appErrors.ErrTransport.Status, "failed to create permit application")
	}
	s.afterCreate(ctx, actor, app)
	return app, nil
}

func (s *PermitService) afterCreate(ctx context.Context, actor models.Actor, app *models.PermitApplication) {
	if err := s.cache.Invalidate(ctx, inboxStageKey(app.CurrentStage)); err != nil {
		s.logger.Warn("inbox cache not invalidated", zap.String("applicationId", app.ID), zap.Error(err))
	}
	s.auditCreate(ctx, actor, app)
}

// ListMine returns the applications submitted by the actor.
func (s *PermitService) ListMine(ctx context.Context, actor models.Actor) ([]models.PermitApplication, error) {
	if actor.UserID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	apps, err := s.store.List(ctx, models.PermitApplicationFilter{UserID: actor.UserID})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrTransport.Code, appErrors.ErrTransport.Status, "failed to list permit applications")
	}
	if apps == nil {
		apps = []models.PermitApplication{}
	}
	return apps, nil
}

// ListAll returns applications for administrators and authority roles.
func (s *PermitService) ListAll(ctx context.Context, actor models.Actor, query dto.PermitApplicationQuery) ([]models.PermitApplication, error) {
	if err := s.requireOversight(actor); err != nil {
		return nil, err
	}
	filter, err := filterFromQuery(query)
	if err != nil {
		return nil, err
	}
	apps, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrTransport.Code, appErrors.ErrTransport.Status, "failed to list permit applications")
	}
	if apps == nil {
		apps = []models.PermitApplication{}
	}
	return apps, nil
}

// Get returns one application with its remark history.
func (s *PermitService) Get(ctx context.Context, actor models.Actor, id string) (*models.PermitApplication, error) {
	app, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	annotations, err := s.store.ListAnnotations(ctx, app.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrTransport.Code, appErrors.ErrTransport.Status, "failed to load annotations")
	}
	app.Annotations = annotations
	return app, nil
}

// OpenDocument opens the supporting document of an application.
func (s *PermitService) OpenDocument(ctx context.Context, actor models.Actor, id string) (*FileDownload, error) {
	app, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if app.DocumentPath == nil || *app.DocumentPath == "" || s.documents == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no document attached")
	}
	name := filepath.Base(*app.DocumentPath)
	if app.DocumentFileName != nil && *app.DocumentFileName != "" {
		name = *app.DocumentFileName
	}
	mimeType := "application/pdf"
	if app.DocumentMimeType != nil && *app.DocumentMimeType != "" {
		mimeType = *app.DocumentMimeType
	}
	download, err := openFile(s.documents, *app.DocumentPath, name, mimeType)
	if err != nil {
		return nil, err
	}
	s.auditDownload(ctx, actor, app.ID, "document")
	return download, nil
}

// OpenPermit opens the generated permit of an approved application.
func (s *PermitService) OpenPermit(ctx context.Context, actor models.Actor, id string) (*FileDownload, error) {
	app, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	download, err := s.openPermit(app)
	if err != nil {
		return nil, err
	}
	s.auditDownload(ctx, actor, app.ID, "permit")
	return download, nil
}

// PermitDownloadURL issues a signed link to the generated permit.
func (s *PermitService) PermitDownloadURL(ctx context.Context, actor models.Actor, id string) (*dto.PermitURLResponse, error) {
	if s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "download signer unavailable")
	}
	app, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if app.PermitPath == nil || *app.PermitPath == "" {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "permit not issued")
	}
	token, expiresAt, err := s.signer.Generate(app.ID, *app.PermitPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate download token")
	}
	base := strings.TrimRight(s.cfg.APIPrefix, "/")
	return &dto.PermitURLResponse{
		URL:       fmt.Sprintf("%s/permits/download?token=%s", base, url.QueryEscape(token)),
		ExpiresAt: expiresAt,
	}, nil
}

// DownloadPermitByToken opens a permit through a signed link.
func (s *PermitService) DownloadPermitByToken(ctx context.Context, token string) (*FileDownload, error) {
	if s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "download signer unavailable")
	}
	id, relPath, expiresAt, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired token")
	}
	app, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "permit application not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrTransport.Code, appErrors.ErrTransport.Status, "failed to load permit application")
	}
	if app.PermitPath == nil || *app.PermitPath != relPath {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "token mismatch")
	}
	download, err := s.openPermit(app)
	if err != nil {
		return nil, err
	}
	download.ExpiresAt = expiresAt
	return download, nil
}

// Export renders the filtered application list in the requested format.
func (s *PermitService) Export(ctx context.Context, actor models.Actor, query dto.PermitApplicationQuery, rawFormat string) (*ExportResult, error) {
	format, err := export.ParseFormat(rawFormat)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	apps, err := s.ListAll(ctx, actor, query)
	if err != nil {
		return nil, err
	}
	renderer, ok := s.exporters[format]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	}
	data, err := renderer.Render(applicationDataset(apps))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	return &ExportResult{
		Filename:    fmt.Sprintf("permit-applications-%s.%s", time.Now().UTC().Format("20060102"), format),
		ContentType: format.ContentType(),
		Data:        data,
	}, nil
}

func (s *PermitService) newApplication(actor models.Actor, req dto.CreatePermitApplicationRequest) (*models.PermitApplication, error) {
	if actor.UserID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	req.EventTitle = strings.TrimSpace(req.EventTitle)
	req.LocationTag = strings.TrimSpace(req.LocationTag)
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err)
	}
	permitType, _ := models.ParsePermitType(req.PermitType)
	return &models.PermitApplication{
		ID:            uuid.NewString(),
		UserID:        actor.UserID,
		EventTitle:    req.EventTitle,
		Purpose:       strings.TrimSpace(req.Purpose),
		StartDateTime: req.StartDateTime.UTC(),
		EndDateTime:   req.EndDateTime.UTC(),
		PermitType:    permitType,
		LocationTag:   req.LocationTag,
		CurrentStage:  models.StageDCPending,
		Status:        workflow.StatusFor(models.StageDCPending),
	}, nil
}

func (s *PermitService) checkDocument(upload DocumentUpload) (string, error) {
	if upload.Content == nil || upload.Size <= 0 {
		return "", appErrors.Clone(appErrors.ErrValidation, "file is required")
	}
	if upload.Size > s.cfg.MaxDocumentSize {
		return "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("file exceeds %d bytes limit", s.cfg.MaxDocumentSize))
	}
	if !strings.EqualFold(filepath.Ext(upload.Filename), ".pdf") {
		return "", appErrors.Clone(appErrors.ErrValidation, "only PDF documents are accepted")
	}
	detected, err := mimetype.DetectReader(upload.Content)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to inspect file")
	}
	if _, err := upload.Content.Seek(0, io.SeekStart); err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reset upload stream")
	}
	if !detected.Is("application/pdf") && !detected.Is("application/x-pdf") {
		return "", appErrors.WithDetails(
			appErrors.Clone(appErrors.ErrValidation, "only PDF documents are accepted"),
			map[string]interface{}{"detected": detected.String()},
		)
	}
	return "application/pdf", nil
}

func (s *PermitService) load(ctx context.Context, actor models.Actor, id string) (*models.PermitApplication, error) {
	if actor.UserID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	app, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "permit application not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrTransport.Code, appErrors.ErrTransport.Status, "failed to load permit application")
	}
	if app.UserID == actor.UserID {
		return app, nil
	}
	if err := s.requireOversight(actor); err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to view this application")
	}
	return app, nil
}

func (s *PermitService) requireOversight(actor models.Actor) error {
	if actor.UserID == "" {
		return appErrors.ErrUnauthorized
	}
	role, err := s.registry.ForActor(actor)
	if err != nil {
		return err
	}
	if role.Name == models.RoleAdmin || role.Seat != "" {
		return nil
	}
	return appErrors.WithDetails(
		appErrors.Clone(appErrors.ErrRoleNotAuthorized, "role may not list applications"),
		map[string]interface{}{"roleName": role.Name},
	)
}

func (s *PermitService) openPermit(app *models.PermitApplication) (*FileDownload, error) {
	if app.PermitPath == nil || *app.PermitPath == "" || s.permits == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "permit not issued")
	}
	name := filepath.Base(*app.PermitPath)
	if app.PermitNumber != nil {
		name = *app.PermitNumber + ".pdf"
	}
	return openFile(s.permits, *app.PermitPath, name, "application/pdf")
}

func (s *PermitService) auditCreate(ctx context.Context, actor models.Actor, app *models.PermitApplication) {
	s.emitAudit(ctx, &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     models.AuditActionPermitCreate,
		Resource:   "permit_application",
		ResourceID: &app.ID,
		NewValues:  []byte(fmt.Sprintf(`{"permitType":%q,"stage":%q}`, app.PermitType, app.CurrentStage)),
	})
}

func (s *PermitService) auditDownload(ctx context.Context, actor models.Actor, id, kind string) {
	s.emitAudit(ctx, &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     models.AuditActionDocumentDownload,
		Resource:   "permit_application",
		ResourceID: &id,
		NewValues:  []byte(fmt.Sprintf(`{"file":%q}`, kind)),
	})
}

func (s *PermitService) emitAudit(ctx context.Context, log *models.AuditLog) {
	if s.audit == nil || log == nil {
		return
	}
	log.IPAddress = "system"
	log.UserAgent = "permit-service"
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", log.Action), zap.Error(err))
	}
}

func openFile(storage documentStorage, path, name, mimeType string) (*FileDownload, error) {
	file, err := storage.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "file not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrTransport.Code, appErrors.ErrTransport.Status, "failed to open file")
	}
	info, err := file.Stat()
	if err != nil {
		file.Close() //nolint:errcheck
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read file metadata")
	}
	return &FileDownload{File: file, Filename: name, MimeType: mimeType, SizeBytes: info.Size()}, nil
}

func filterFromQuery(query dto.PermitApplicationQuery) (models.PermitApplicationFilter, error) {
	filter := models.PermitApplicationFilter{Limit: query.Limit, Offset: query.Offset}
	if query.Stage != "" {
		for _, raw := range strings.Split(query.Stage, ",") {
			stage, ok := workflow.ParseStage(raw)
			if !ok {
				return filter, appErrors.Clone(appErrors.ErrValidation, "unknown stage "+raw)
			}
			filter.Stages = append(filter.Stages, stage)
		}
	}
	if query.Status != "" {
		status := models.PermitStatus(strings.ToUpper(strings.TrimSpace(query.Status)))
		switch status {
		case models.PermitStatusPending, models.PermitStatusApproved, models.PermitStatusRejected:
			filter.Status = status
		default:
			return filter, appErrors.Clone(appErrors.ErrValidation, "unknown status "+query.Status)
		}
	}
	if query.PermitType != "" {
		permitType, ok := models.ParsePermitType(query.PermitType)
		if !ok {
			return filter, appErrors.Clone(appErrors.ErrValidation, "unknown permit type "+query.PermitType)
		}
		filter.PermitType = permitType
	}
	return filter, nil
}

var exportHeaders = []string{"Application ID", "Event", "Permit Type", "Location", "Starts", "Ends", "Stage", "Status", "Permit Number", "Submitted"}

func applicationDataset(apps []models.PermitApplication) export.Dataset {
	rows := make([]map[string]string, 0, len(apps))
	for _, app := range apps {
		permitNumber := ""
		if app.PermitNumber != nil {
			permitNumber = *app.PermitNumber
		}
		rows = append(rows, map[string]string{
			"Application ID": app.ID,
			"Event":          app.EventTitle,
			"Permit Type":    app.PermitType.Label(),
			"Location":       app.LocationTag,
			"Starts":         app.StartDateTime.UTC().Format(time.RFC3339),
			"Ends":           app.EndDateTime.UTC().Format(time.RFC3339),
			"Stage":          string(app.CurrentStage),
			"Status":         string(app.Status),
			"Permit Number":  permitNumber,
			"Submitted":      app.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return export.Dataset{Title: "Permit applications", Headers: exportHeaders, Rows: rows}
}

func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	fields := make(map[string]interface{}, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields[fe.Field()] = fe.Tag()
	}
	return appErrors.WithDetails(
		appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload"),
		map[string]interface{}{"fields": fields},
	)
}

func sanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "document.pdf"
	}
	return b.String()
}
