// Package export renders pending markers as an XLSX report.
package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"trackresync/internal/domain"
	"trackresync/internal/models"

	"github.com/xuri/excelize/v2"
)

const summarySheet = "Summary"

var headers = []string{"Item ID", "Kind", "Queued At"}

// PendingReport builds a workbook with one sheet per record kind plus a summary sheet.
type PendingReport struct {
	store domain.PendingStore
	now   func() time.Time
}

func NewPendingReport(store domain.PendingStore) *PendingReport {
	return &PendingReport{store: store, now: time.Now}
}

// Build returns the workbook. Callers must Close it.
func (r *PendingReport) Build(ctx context.Context) (*excelize.File, error) {
	f := excelize.NewFile()

	headerStyle, err := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create header style: %w", err)
	}

	if _, err := f.NewSheet(summarySheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("create summary sheet: %w", err)
	}
	_ = f.SetCellValue(summarySheet, "A1", "Generated")
	_ = f.SetCellValue(summarySheet, "B1", r.now().UTC().Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A2", "Kind")
	_ = f.SetCellValue(summarySheet, "B2", "Pending")
	_ = f.SetCellStyle(summarySheet, "A2", "B2", headerStyle)

	for i, kind := range models.RecordKinds {
		markers, err := r.store.List(ctx, kind)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("list %s markers: %w", kind, err)
		}

		row := i + 3
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), string(kind))
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", row), len(markers))

		if err := writeKindSheet(f, kind, markers, headerStyle); err != nil {
			f.Close()
			return nil, err
		}
	}

	_ = f.SetColWidth(summarySheet, "A", "B", 20)
	if idx, err := f.GetSheetIndex(summarySheet); err == nil {
		f.SetActiveSheet(idx)
	}
	_ = f.DeleteSheet("Sheet1")
	return f, nil
}

func writeKindSheet(f *excelize.File, kind models.RecordKind, markers []models.PendingMarker, headerStyle int) error {
	sheet := sheetName(kind)
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("create %s sheet: %w", sheet, err)
	}

	for col, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	_ = f.SetCellStyle(sheet, "A1", "C1", headerStyle)

	for i, m := range markers {
		row := i + 2
		_ = f.SetCellValue(sheet, fmt.Sprintf("A%d", row), m.ItemID)
		_ = f.SetCellValue(sheet, fmt.Sprintf("B%d", row), string(m.Kind))
		queued := ""
		if !m.CreatedAt.IsZero() {
			queued = m.CreatedAt.UTC().Format(time.RFC3339)
		}
		_ = f.SetCellValue(sheet, fmt.Sprintf("C%d", row), queued)
	}
	_ = f.SetColWidth(sheet, "A", "C", 22)
	return nil
}

func sheetName(kind models.RecordKind) string {
	switch kind {
	case models.KindManga:
		return "Manga"
	case models.KindAnime:
		return "Anime"
	default:
		return string(kind)
	}
}

// Write streams the workbook to w.
func (r *PendingReport) Write(ctx context.Context, w io.Writer) error {
	f, err := r.Build(ctx)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// SaveFile writes the workbook under dir and returns its path.
func (r *PendingReport) SaveFile(ctx context.Context, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	f, err := r.Build(ctx)
	if err != nil {
		return "", err
	}
	defer f.Close()

	path := filepath.Join(dir, fmt.Sprintf("pending_%s.xlsx", r.now().Format("20060102_150405")))
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}
	return path, nil
}
