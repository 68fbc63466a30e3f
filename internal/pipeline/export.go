package pipeline

import (
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"

	"jobtrack/internal"
)

// ExportReviewXLSX writes staged rows as a review workbook.
func ExportReviewXLSX(rows []internal.StagingRow, outputPath string) error {
	headers := []string{
		"row", "selected", "message_id", "company", "title", "status", "applied_date", "subject", "snippet", "link",
	}
	return writeSheet(outputPath, "Review", headers, len(rows), func(i int, set func(col int, value any)) {
		row := rows[i]
		set(1, i)
		set(2, row.Selected)
		set(3, row.MessageID)
		set(4, row.Company)
		set(5, row.Title)
		set(6, string(row.Status))
		set(7, formatDay(row.AppliedDate))
		set(8, row.Subject)
		set(9, row.Snippet)
		set(10, row.Link)
	})
}

// ExportApplicationsXLSX writes store records plus a status summary sheet.
func ExportApplicationsXLSX(result internal.ListResult, outputPath string) error {
	apps := result.Items
	headers := []string{
		"id", "company", "position", "status", "applied_date", "location", "url", "gmail_message_id", "notes", "created_at",
	}
	return writeSheet(outputPath, "Applications", headers, len(apps), func(i int, set func(col int, value any)) {
		app := apps[i]
		set(1, app.ID)
		set(2, app.Company)
		set(3, app.Position)
		set(4, string(app.Status))
		if app.AppliedDate != nil {
			set(5, formatDay(*app.AppliedDate))
		}
		set(6, app.Location)
		set(7, app.URL)
		set(8, app.GmailMessageID)
		set(9, app.Notes)
		if !app.CreatedAt.IsZero() {
			set(10, app.CreatedAt.UTC().Format("2006-01-02 15:04:05"))
		}
	}, func(f *excelize.File) error {
		const sheet = "Summary"
		if _, err := f.NewSheet(sheet); err != nil {
			return err
		}
		_ = f.SetCellValue(sheet, "A1", "status")
		_ = f.SetCellValue(sheet, "B1", "count")
		for i, status := range internal.AllStatuses {
			r := i + 2
			aCell, _ := excelize.CoordinatesToCellName(1, r)
			bCell, _ := excelize.CoordinatesToCellName(2, r)
			_ = f.SetCellValue(sheet, aCell, string(status))
			_ = f.SetCellValue(sheet, bCell, result.Counts[status])
		}
		return nil
	})
}

func writeSheet(outputPath, sheet string, headers []string, n int, fill func(i int, set func(col int, value any)), extra ...func(*excelize.File) error) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return err
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	for i := 0; i < n; i++ {
		r := i + 2
		fill(i, func(col int, value any) {
			cell, _ := excelize.CoordinatesToCellName(col, r)
			_ = f.SetCellValue(sheet, cell, value)
		})
	}

	for _, fn := range extra {
		if err := fn(f); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	return f.SaveAs(outputPath)
}

func formatDay(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(internal.DateLayout)
}
