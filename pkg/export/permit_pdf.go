package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// PermitCertificate carries the values printed on an issued permit.
type PermitCertificate struct {
	PermitNumber  string
	Issuer        string
	ApplicationID string
	ApplicantID   string
	EventTitle    string
	Purpose       string
	PermitType    string
	Location      string
	StartsAt      time.Time
	EndsAt        time.Time
	IssuedAt      time.Time
	Conditions    []string
	Remarks       map[string]string
	RemarkOrder   []string
}

// PermitRenderer renders a one-page permit certificate.
type PermitRenderer struct {
	location *time.Location
}

// NewPermitRenderer builds a renderer printing timestamps in loc (UTC when nil).
func NewPermitRenderer(loc *time.Location) *PermitRenderer {
	if loc == nil {
		loc = time.UTC
	}
	return &PermitRenderer{location: loc}
}

// Render produces the certificate PDF.
func (r *PermitRenderer) Render(cert PermitCertificate) ([]byte, error) {
	if cert.PermitNumber == "" || cert.ApplicationID == "" {
		return nil, fmt.Errorf("permit number and application id required")
	}
	const layout = "02 Jan 2006 15:04 MST"

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(18, 18, 18)
	pdf.SetTitle("Permit "+cert.PermitNumber, true)
	pdf.SetCreator(cert.Issuer, true)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 18)
	pdf.CellFormat(0, 12, tr(cert.Issuer), "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "B", 14)
	pdf.CellFormat(0, 9, "EVENT PERMIT", "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(0, 6, tr("Permit No. "+cert.PermitNumber), "", 1, "C", false, 0, "")
	pdf.Ln(6)

	field := func(label, value string) {
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(45, 7, tr(label), "", 0, "", false, 0, "")
		pdf.SetFont("Arial", "", 10)
		pdf.MultiCell(0, 7, tr(value), "", "", false)
	}
	field("Application", cert.ApplicationID)
	field("Applicant", cert.ApplicantID)
	field("Event", cert.EventTitle)
	if cert.Purpose != "" {
		field("Purpose", cert.Purpose)
	}
	field("Category", cert.PermitType)
	field("Location", cert.Location)
	field("From", cert.StartsAt.In(r.location).Format(layout))
	field("Until", cert.EndsAt.In(r.location).Format(layout))
	field("Issued", cert.IssuedAt.In(r.location).Format(layout))

	if len(cert.RemarkOrder) > 0 {
		pdf.Ln(4)
		pdf.SetFont("Arial", "B", 11)
		pdf.CellFormat(0, 8, "Review record", "B", 1, "", false, 0, "")
		for _, key := range cert.RemarkOrder {
			if body, ok := cert.Remarks[key]; ok && body != "" {
				field(key, body)
			}
		}
	}

	if len(cert.Conditions) > 0 {
		pdf.Ln(4)
		pdf.SetFont("Arial", "B", 11)
		pdf.CellFormat(0, 8, "Conditions", "B", 1, "", false, 0, "")
		pdf.SetFont("Arial", "", 10)
		for i, c := range cert.Conditions {
			pdf.MultiCell(0, 6, tr(fmt.Sprintf("%d. %s", i+1, c)), "", "", false)
		}
	}

	pdf.SetY(-30)
	pdf.SetFont("Arial", "I", 8)
	pdf.CellFormat(0, 5, tr("This permit was issued electronically and is valid without signature."), "", 1, "C", false, 0, "")

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render permit pdf: %w", err)
	}
	return buf.Bytes(), nil
}
