package export

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func sampleDataset() Dataset {
	return Dataset{
		Title:   "Applications",
		Headers: []string{"Application", "Event", "Stage"},
		Rows: []map[string]string{
			{"Application": "app-1", "Event": "Harvest, fair", "Stage": "DC_PENDING"},
			{"Application": "app-2", "Event": "Rally", "Stage": "COMPLETED"},
		},
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	require.Equal(t, FormatCSV, f)

	f, err = ParseFormat(" XLSX ")
	require.NoError(t, err)
	require.Equal(t, FormatXLSX, f)
	require.Contains(t, f.ContentType(), "spreadsheetml")

	_, err = ParseFormat("docx")
	require.Error(t, err)
}

func TestCSVExporterRender(t *testing.T) {
	out, err := NewCSVExporter().Render(sampleDataset())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	require.Len(t, lines, 3)
	require.Equal(t, "Application,Event,Stage", lines[0])
	require.Equal(t, `app-1,"Harvest, fair",DC_PENDING`, lines[1])

	_, err = NewCSVExporter().Render(Dataset{})
	require.Error(t, err)
}

func TestXLSXExporterRender(t *testing.T) {
	out, err := NewXLSXExporter().Render(sampleDataset())
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(out))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Applications")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, []string{"Application", "Event", "Stage"}, rows[0])
	require.Equal(t, "COMPLETED", rows[2][2])
}

func TestPDFExporterRender(t *testing.T) {
	out, err := NewPDFExporter().Render(sampleDataset())
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(out, []byte("%PDF-")))
}

func TestPermitRendererRender(t *testing.T) {
	start := time.Date(2026, 12, 5, 10, 0, 0, 0, time.UTC)
	out, err := NewPermitRenderer(nil).Render(PermitCertificate{
		PermitNumber:  "PRM-20261019-ABC123",
		Issuer:        "District Administration",
		ApplicationID: "app-1",
		ApplicantID:   "user-7",
		EventTitle:    "Winter concert",
		PermitType:    "Concert",
		Location:      "Town hall",
		StartsAt:      start,
		EndsAt:        start.Add(3 * time.Hour),
		IssuedAt:      start.Add(-72 * time.Hour),
		Remarks:       map[string]string{"OC report": "Venue inspected"},
		RemarkOrder:   []string{"OC report"},
		Conditions:    []string{"Sound below 75 dB after 22:00"},
	})
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(out, []byte("%PDF-")))

	_, err = NewPermitRenderer(nil).Render(PermitCertificate{})
	require.Error(t, err)
}
