package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/permit-api/internal/models"
	"github.com/noah-isme/permit-api/pkg/export"
)

type permitFileStorage interface {
	Save(filename string, data []byte) (string, error)
	Delete(filename string) error
}

type permitRenderer interface {
	Render(cert export.PermitCertificate) ([]byte, error)
}

// PDFPermitGenerator renders permit certificates and stores them on disk.
type PDFPermitGenerator struct {
	renderer   permitRenderer
	storage    permitFileStorage
	issuer     string
	conditions []string
}

// NewPDFPermitGenerator constructs the generator.
func NewPDFPermitGenerator(renderer permitRenderer, storage permitFileStorage, issuer string, conditions []string) *PDFPermitGenerator {
	if issuer == "" {
		issuer = "District Administration"
	}
	return &PDFPermitGenerator{renderer: renderer, storage: storage, issuer: issuer, conditions: conditions}
}

// PermitNumber derives the printed permit number from the application and issue date.
func PermitNumber(applicationID string, issuedAt time.Time) string {
	compact := strings.ToUpper(strings.ReplaceAll(applicationID, "-", ""))
	if len(compact) > 8 {
		compact = compact[:8]
	}
	return fmt.Sprintf("PRM-%s-%s", issuedAt.UTC().Format("20060102"), compact)
}

// Generate renders and stores the permit for an application about to be approved.
func (g *PDFPermitGenerator) Generate(ctx context.Context, app *models.PermitApplication, issuedAt time.Time) (*models.PermitArtifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	number := PermitNumber(app.ID, issuedAt)

	remarks := map[string]string{}
	order := make([]string, 0, 4)
	for _, entry := range []struct {
		label string
		value *string
	}{
		{"DC remarks", app.DCRemarks},
		{"SP remarks", app.SPRemarks},
		{"SDPO remarks", app.SDPORemarks},
		{"OC report", app.OCReport},
	} {
		if entry.value != nil && *entry.value != "" {
			remarks[entry.label] = *entry.value
			order = append(order, entry.label)
		}
	}

	pdf, err := g.renderer.Render(export.PermitCertificate{
		PermitNumber:  number,
		Issuer:        g.issuer,
		ApplicationID: app.ID,
		ApplicantID:   app.UserID,
		EventTitle:    app.EventTitle,
		Purpose:       app.Purpose,
		PermitType:    app.PermitType.Label(),
		Location:      app.LocationTag,
		StartsAt:      app.StartDateTime,
		EndsAt:        app.EndDateTime,
		IssuedAt:      issuedAt,
		Conditions:    g.conditions,
		Remarks:       remarks,
		RemarkOrder:   order,
	})
	if err != nil {
		return nil, err
	}
	path, err := g.storage.Save(fmt.Sprintf("%s/%s.pdf", issuedAt.UTC().Format("2006/01"), number), pdf)
	if err != nil {
		return nil, err
	}
	return &models.PermitArtifact{PermitNumber: number, Path: path, IssuedAt: issuedAt}, nil
}

// Discard deletes a stored artifact that was never committed.
func (g *PDFPermitGenerator) Discard(artifact *models.PermitArtifact) error {
	if artifact == nil || artifact.Path == "" {
		return nil
	}
	return g.storage.Delete(artifact.Path)
}
