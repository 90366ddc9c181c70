package service

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/permit-api/internal/dto"
	"github.com/noah-isme/permit-api/internal/models"
	"github.com/noah-isme/permit-api/internal/workflow"
	appErrors "github.com/noah-isme/permit-api/pkg/errors"
	"github.com/noah-isme/permit-api/pkg/storage"
)

var samplePDF = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n<< /Root 1 0 R >>\n%%EOF\n")

type permitFixture struct {
	store     *permitStoreStub
	documents *storage.LocalStorage
	permits   *storage.LocalStorage
	audit     *auditRecorder
	svc       *PermitService
}

func newPermitFixture(t *testing.T) *permitFixture {
	t.Helper()
	documents, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	permits, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	f := &permitFixture{
		store:     newPermitStoreStub(),
		documents: documents,
		permits:   permits,
		audit:     &auditRecorder{},
	}
	f.svc = NewPermitService(f.store, workflow.DefaultRegistry(), nil, documents, permits,
		storage.NewSignedURLSigner("secret", time.Minute), f.audit, nil,
		PermitServiceConfig{MaxDocumentSize: 1024})
	return f
}

func validRequest() dto.CreatePermitApplicationRequest {
	return dto.CreatePermitApplicationRequest{
		EventTitle:    "Street concert",
		Purpose:       "Charity",
		StartDateTime: time.Date(2026, 12, 1, 18, 0, 0, 0, time.UTC),
		EndDateTime:   time.Date(2026, 12, 1, 22, 0, 0, 0, time.UTC),
		PermitType:    "Concert",
		LocationTag:   "Riverside park",
	}
}

func TestPermitServiceCreate(t *testing.T) {
	f := newPermitFixture(t)
	applicant := actorFor(models.RoleApplicant)

	app, err := f.svc.Create(context.Background(), applicant, validRequest())
	require.NoError(t, err)
	require.NotEmpty(t, app.ID)
	require.Equal(t, applicant.UserID, app.UserID)
	require.Equal(t, models.StageDCPending, app.CurrentStage)
	require.Equal(t, models.PermitStatusPending, app.Status)
	require.False(t, app.Complete)
	require.Equal(t, models.PermitTypeConcert, app.PermitType)
	require.Nil(t, app.DCRemarks)
	require.Equal(t, []string{models.AuditActionPermitCreate}, f.audit.actions())
}

func TestPermitServiceCreateRefreshesCachedDCInbox(t *testing.T) {
	f := newPermitFixture(t)
	cacheSvc := NewCacheService(newMemoryCache(), nil, time.Minute, nil, true)
	WithPermitCache(cacheSvc)(f.svc)
	inbox := NewInboxService(f.store, workflow.DefaultRegistry(), cacheSvc, nil, nil, InboxServiceConfig{})
	ctx := context.Background()

	result, err := inbox.GetInbox(ctx, actorFor(models.RoleDC))
	require.NoError(t, err)
	require.Empty(t, result.Items)

	app, err := f.svc.Create(ctx, actorFor(models.RoleApplicant), validRequest())
	require.NoError(t, err)
	require.Equal(t, models.StageDCPending, app.CurrentStage)

	result, err = inbox.GetInbox(ctx, actorFor(models.RoleDC))
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	require.Equal(t, app.ID, result.Items[0].ApplicationID)

	_, err = f.svc.CreateWithDocument(ctx, actorFor(models.RoleApplicant), validRequest(), DocumentUpload{
		Filename: "plan.pdf",
		Size:     int64(len(samplePDF)),
		Content:  bytes.NewReader(samplePDF),
	})
	require.NoError(t, err)

	result, err = inbox.GetInbox(ctx, actorFor(models.RoleDC))
	require.NoError(t, err)
	require.Len(t, result.Items, 2)
}

func TestRegisterValidationsOnCallerValidator(t *testing.T) {
	validate := validator.New()
	require.NoError(t, RegisterValidations(validate))

	f := newPermitFixture(t)
	svc := NewPermitService(f.store, workflow.DefaultRegistry(), validate, nil, nil, nil, nil, nil, PermitServiceConfig{})

	_, err := svc.Create(context.Background(), actorFor(models.RoleApplicant), validRequest())
	require.NoError(t, err)

	req := validRequest()
	req.PermitType = "Fireworks"
	_, err = svc.Create(context.Background(), actorFor(models.RoleApplicant), req)
	require.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))
}

func TestPermitServiceCreateValidation(t *testing.T) {
	f := newPermitFixture(t)
	applicant := actorFor(models.RoleApplicant)

	cases := map[string]func(r *dto.CreatePermitApplicationRequest){
		"missing title":  func(r *dto.CreatePermitApplicationRequest) { r.EventTitle = "  " },
		"end before":     func(r *dto.CreatePermitApplicationRequest) { r.EndDateTime = r.StartDateTime.Add(-time.Hour) },
		"unknown type":   func(r *dto.CreatePermitApplicationRequest) { r.PermitType = "FIREWORKS" },
		"missing place":  func(r *dto.CreatePermitApplicationRequest) { r.LocationTag = "" },
		"missing starts": func(r *dto.CreatePermitApplicationRequest) { r.StartDateTime = time.Time{} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := validRequest()
			mutate(&req)
			_, err := f.svc.Create(context.Background(), applicant, req)
			require.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))
		})
	}
	require.Empty(t, f.store.apps)
	require.Empty(t, f.audit.logs)

	_, err := f.svc.Create(context.Background(), models.Actor{}, validRequest())
	require.True(t, appErrors.HasCode(err, appErrors.ErrUnauthorized.Code))
}

func TestPermitServiceCreateWithDocument(t *testing.T) {
	f := newPermitFixture(t)
	applicant := actorFor(models.RoleApplicant)

	app, err := f.svc.CreateWithDocument(context.Background(), applicant, validRequest(), DocumentUpload{
		Filename: "site plan.pdf",
		Size:     int64(len(samplePDF)),
		Content:  bytes.NewReader(samplePDF),
	})
	require.NoError(t, err)
	require.NotNil(t, app.DocumentPath)
	require.True(t, strings.HasSuffix(*app.DocumentPath, "_site_plan.pdf"))
	require.Equal(t, "site plan.pdf", *app.DocumentFileName)
	require.Equal(t, "application/pdf", *app.DocumentMimeType)
	require.True(t, f.documents.Exists(*app.DocumentPath))

	download, err := f.svc.OpenDocument(context.Background(), applicant, app.ID)
	require.NoError(t, err)
	defer download.File.Close()
	body, err := io.ReadAll(download.File)
	require.NoError(t, err)
	require.Equal(t, samplePDF, body)
	require.Equal(t, "site plan.pdf", download.Filename)
	require.Equal(t, []string{models.AuditActionPermitCreate, models.AuditActionDocumentDownload}, f.audit.actions())
}

func TestPermitServiceCreateWithDocumentRejectsNonPDF(t *testing.T) {
	f := newPermitFixture(t)
	applicant := actorFor(models.RoleApplicant)
	png := []byte("\x89PNG\r\n\x1a\n0000000000000000")

	_, err := f.svc.CreateWithDocument(context.Background(), applicant, validRequest(), DocumentUpload{
		Filename: "photo.pdf", Size: int64(len(png)), Content: bytes.NewReader(png),
	})
	require.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))

	_, err = f.svc.CreateWithDocument(context.Background(), applicant, validRequest(), DocumentUpload{
		Filename: "plan.docx", Size: int64(len(samplePDF)), Content: bytes.NewReader(samplePDF),
	})
	require.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))

	big := bytes.Repeat([]byte("a"), 2048)
	_, err = f.svc.CreateWithDocument(context.Background(), applicant, validRequest(), DocumentUpload{
		Filename: "big.pdf", Size: int64(len(big)), Content: bytes.NewReader(big),
	})
	require.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))
	require.Empty(t, f.store.apps)
}

func TestPermitServiceCreateWithDocumentCleansUpOnStoreFailure(t *testing.T) {
	f := newPermitFixture(t)
	f.store.createErr = errStoreDown

	_, err := f.svc.CreateWithDocument(context.Background(), actorFor(models.RoleApplicant), validRequest(), DocumentUpload{
		Filename: "plan.pdf", Size: int64(len(samplePDF)), Content: bytes.NewReader(samplePDF),
	})
	require.True(t, appErrors.HasCode(err, appErrors.ErrTransport.Code))

	entries, err := listFiles(f.documents.BaseDir())
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestPermitServiceAccessRules(t *testing.T) {
	f := newPermitFixture(t)
	owner := models.Actor{UserID: "applicant-1", RoleName: models.RoleApplicant}
	f.store.seed("app-1", models.StageSPPending)

	app, err := f.svc.Get(context.Background(), owner, "app-1")
	require.NoError(t, err)
	require.Equal(t, "app-1", app.ID)

	_, err = f.svc.Get(context.Background(), actorFor(models.RoleSDPO), "app-1")
	require.NoError(t, err)
	_, err = f.svc.Get(context.Background(), actorFor(models.RoleAdmin), "app-1")
	require.NoError(t, err)

	_, err = f.svc.Get(context.Background(), models.Actor{UserID: "stranger", RoleName: models.RoleApplicant}, "app-1")
	require.True(t, appErrors.HasCode(err, appErrors.ErrForbidden.Code))

	_, err = f.svc.Get(context.Background(), owner, "missing")
	require.True(t, appErrors.HasCode(err, appErrors.ErrNotFound.Code))
}

func TestPermitServiceListing(t *testing.T) {
	f := newPermitFixture(t)
	f.store.seed("app-1", models.StageDCPending)
	f.store.seed("app-2", models.StageCompleted)
	other := f.store.seed("app-3", models.StageDCPending)
	other.UserID = "someone-else"

	mine, err := f.svc.ListMine(context.Background(), models.Actor{UserID: "applicant-1", RoleName: models.RoleApplicant})
	require.NoError(t, err)
	require.Len(t, mine, 2)

	all, err := f.svc.ListAll(context.Background(), actorFor(models.RoleDC), dto.PermitApplicationQuery{Stage: "dc_pending"})
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, []models.PermitStage{models.StageDCPending}, f.store.lastFilter.Stages)

	_, err = f.svc.ListAll(context.Background(), actorFor(models.RoleApplicant), dto.PermitApplicationQuery{})
	require.True(t, appErrors.HasCode(err, appErrors.ErrRoleNotAuthorized.Code))

	_, err = f.svc.ListAll(context.Background(), actorFor(models.RoleAdmin), dto.PermitApplicationQuery{Status: "lost"})
	require.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))
}

func TestPermitServiceExport(t *testing.T) {
	f := newPermitFixture(t)
	f.store.seed("app-1", models.StageDCPending)

	result, err := f.svc.Export(context.Background(), actorFor(models.RoleAdmin), dto.PermitApplicationQuery{}, "csv")
	require.NoError(t, err)
	require.Equal(t, "text/csv; charset=utf-8", result.ContentType)
	require.True(t, strings.HasSuffix(result.Filename, ".csv"))
	require.Contains(t, string(result.Data), "Application ID")
	require.Contains(t, string(result.Data), "Public gatherings")

	result, err = f.svc.Export(context.Background(), actorFor(models.RoleAdmin), dto.PermitApplicationQuery{}, "xlsx")
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(result.Data, []byte("PK")))

	_, err = f.svc.Export(context.Background(), actorFor(models.RoleAdmin), dto.PermitApplicationQuery{}, "docx")
	require.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))
}

func TestPermitServicePermitDownloads(t *testing.T) {
	f := newPermitFixture(t)
	owner := models.Actor{UserID: "applicant-1", RoleName: models.RoleApplicant}
	app := f.store.seed("app-1", models.StageCompleted)
	path, err := f.permits.Save("2026/10/PRM-20261019-APP1.pdf", samplePDF)
	require.NoError(t, err)
	number := "PRM-20261019-APP1"
	app.PermitPath = &path
	app.PermitNumber = &number

	download, err := f.svc.OpenPermit(context.Background(), owner, "app-1")
	require.NoError(t, err)
	require.Equal(t, "PRM-20261019-APP1.pdf", download.Filename)
	download.File.Close()

	link, err := f.svc.PermitDownloadURL(context.Background(), owner, "app-1")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(link.URL, "/api/v1/permits/download?token="))

	parsed, err := url.Parse(link.URL)
	require.NoError(t, err)
	download, err = f.svc.DownloadPermitByToken(context.Background(), parsed.Query().Get("token"))
	require.NoError(t, err)
	require.Equal(t, int64(len(samplePDF)), download.SizeBytes)
	download.File.Close()

	_, err = f.svc.DownloadPermitByToken(context.Background(), "app-1.123.abc.def")
	require.True(t, appErrors.HasCode(err, appErrors.ErrForbidden.Code))

	f.store.seed("app-2", models.StageDCPending)
	_, err = f.svc.OpenPermit(context.Background(), owner, "app-2")
	require.True(t, appErrors.HasCode(err, appErrors.ErrNotFound.Code))
}
