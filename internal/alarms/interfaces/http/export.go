package http

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	alarmapp "wakeguard/internal/alarms/application"
	"wakeguard/internal/alarms/domain"
	"wakeguard/internal/observability/metrics"
)

const exportTimeLayout = "2006-01-02 15:04:05"

// BuildRunsPDF renders the run history as a PDF report.
func BuildRunsPDF(runs []domain.AlarmRun, generatedAt time.Time) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Alarm Run History")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", generatedAt.UTC().Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Runs: %d", len(runs)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 9)
	pdf.CellFormat(40, 6, "Alarm", "1", 0, "C", false, 0, "")
	pdf.CellFormat(45, 6, "Fired At (UTC)", "1", 0, "C", false, 0, "")
	pdf.CellFormat(45, 6, "Dismissed At (UTC)", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Outcome", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, run := range runs {
		dismissed := "-"
		if run.DismissedAt != nil {
			dismissed = run.DismissedAt.UTC().Format(exportTimeLayout)
		}
		pdf.CellFormat(40, 6, shortID(run.AlarmID.String()), "1", 0, "C", false, 0, "")
		pdf.CellFormat(45, 6, run.FiredAt.UTC().Format(exportTimeLayout), "1", 0, "C", false, 0, "")
		pdf.CellFormat(45, 6, dismissed, "1", 0, "C", false, 0, "")
		pdf.CellFormat(25, 6, string(run.Outcome), "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildRunsXLSX renders the run history as a spreadsheet.
func BuildRunsXLSX(runs []domain.AlarmRun, generatedAt time.Time) ([]byte, error) {
	f := excelize.NewFile()
	sheet := "runs"
	f.SetSheetName("Sheet1", sheet)

	_ = f.SetCellValue(sheet, "A1", "Alarm Run History")
	_ = f.SetCellValue(sheet, "A2", "Generated")
	_ = f.SetCellValue(sheet, "B2", generatedAt.UTC().Format(time.RFC3339))

	_ = f.SetCellValue(sheet, "A4", "Alarm ID")
	_ = f.SetCellValue(sheet, "B4", "Occurrence")
	_ = f.SetCellValue(sheet, "C4", "Fired At (UTC)")
	_ = f.SetCellValue(sheet, "D4", "Dismissed At (UTC)")
	_ = f.SetCellValue(sheet, "E4", "Outcome")
	for i, run := range runs {
		row := i + 5
		_ = f.SetCellValue(sheet, fmt.Sprintf("A%d", row), run.AlarmID.String())
		_ = f.SetCellValue(sheet, fmt.Sprintf("B%d", row), run.OccurrenceKey)
		_ = f.SetCellValue(sheet, fmt.Sprintf("C%d", row), run.FiredAt.UTC().Format(exportTimeLayout))
		if run.DismissedAt != nil {
			_ = f.SetCellValue(sheet, fmt.Sprintf("D%d", row), run.DismissedAt.UTC().Format(exportTimeLayout))
		}
		_ = f.SetCellValue(sheet, fmt.Sprintf("E%d", row), string(run.Outcome))
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ExportHandler serves run history downloads.
type ExportHandler struct {
	service *alarmapp.Service
}

// NewExportHandler constructs an export handler.
func NewExportHandler(service *alarmapp.Service) (*ExportHandler, error) {
	if service == nil {
		return nil, errors.New("export handler: nil service")
	}
	return &ExportHandler{service: service}, nil
}

// ServeHTTP handles GET /api/v1/runs/export?format=xlsx|pdf.
func (h *ExportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "xlsx"
	}
	if format != "xlsx" && format != "pdf" {
		http.Error(w, "format must be xlsx or pdf", http.StatusBadRequest)
		return
	}

	started := time.Now()
	runs, err := h.service.Runs(r.Context())
	if err != nil {
		metrics.ObserveRunExport(format, "error", time.Since(started))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	now := time.Now().UTC()
	var payload []byte
	var contentType, filename string
	switch format {
	case "pdf":
		payload, err = BuildRunsPDF(runs, now)
		contentType = "application/pdf"
		filename = "alarm-runs.pdf"
	default:
		payload, err = BuildRunsXLSX(runs, now)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		filename = "alarm-runs.xlsx"
	}
	if err != nil {
		metrics.ObserveRunExport(format, "error", time.Since(started))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	metrics.ObserveRunExport(format, "ok", time.Since(started))
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)
	_, _ = w.Write(payload)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
