// Package export writes records to an xlsx workbook and single records to a docx brief.
package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"tracklight/internal/models"
	"tracklight/pkg/utils"
)

// SheetName is the worksheet holding one row per record.
const SheetName = "Articles"

// Columns are the workbook headers, in order.
var Columns = []string{
	"id", "source", "source_kind", "title", "date", "date_verification",
	"status", "priority", "group_label", "highest_severity", "indicators",
	"indicator_count", "high_count", "medium_count", "low_count",
	"tl_dr", "summary_bullets", "people", "strategies", "questions",
	"note", "created_at", "analyzed_at", "raw_text",
}

// WorkbookName returns the download file name for an export taken at t.
func WorkbookName(t time.Time) string {
	return fmt.Sprintf("articles_export_%s.xlsx", t.Format("20060102"))
}

// WriteWorkbook writes records to w as an xlsx workbook. Indicators are flattened to
// "Severity: description" lines with per-severity counts alongside.
func WriteWorkbook(w io.Writer, records []models.ArticleRecord) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	header := make([]any, len(Columns))
	for i, c := range Columns {
		header[i] = c
	}

	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, rec := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}

		row := Row(rec)
		if err := f.SetSheetRow(SheetName, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if err := styleSheet(f, len(records)); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}

	return nil
}

// Row returns the cell values of rec in Columns order.
func Row(rec models.ArticleRecord) []any {
	row := []any{
		rec.Identity, rec.Source, string(rec.SourceKind), "", "", "",
		string(rec.Status), string(rec.Priority), rec.GroupLabel, "", "",
		0, 0, 0, 0,
		"", "", "", "", "",
		rec.Note, formatTime(rec.CreatedAt), formatTime(rec.AnalyzedAt),
		utils.NewStringHelper().TruncateRunes(rec.RawText, excelize.TotalCellChars),
	}

	a := rec.Analysis
	if a == nil {
		row[3] = rec.Title()

		return row
	}

	counts := a.CountBySeverity()

	row[3] = a.Title
	row[4] = a.Date
	row[5] = a.DateVerification
	row[9] = string(a.HighestSeverity())
	row[10] = IndicatorLines(a.Indicators)
	row[11] = len(a.Indicators)
	row[12] = counts[models.SeverityHigh]
	row[13] = counts[models.SeverityMedium]
	row[14] = counts[models.SeverityLow]
	row[15] = a.Summary.Short
	row[16] = strings.Join(a.Summary.Bullets, "\n")
	row[17] = peopleLines(a.People)
	row[18] = strategyLines(a.Strategies)
	row[19] = strings.Join(a.Questions, "\n")

	return row
}

// IndicatorLines renders indicators as "Severity: description", one per line.
func IndicatorLines(indicators []models.FraudIndicator) string {
	lines := make([]string, 0, len(indicators))
	for _, ind := range indicators {
		lines = append(lines, fmt.Sprintf("%s: %s", ind.Severity, ind.Description))
	}

	return strings.Join(lines, "\n")
}

func peopleLines(people []models.Person) string {
	lines := make([]string, 0, len(people))

	for _, p := range people {
		if p.Role == "" {
			lines = append(lines, p.Name)
		} else {
			lines = append(lines, p.Name+" ("+p.Role+")")
		}
	}

	return strings.Join(lines, "\n")
}

func strategyLines(strategies []models.PreventionStrategy) string {
	lines := make([]string, 0, len(strategies))
	for _, s := range strategies {
		lines = append(lines, s.Issue+": "+s.Prevention)
	}

	return strings.Join(lines, "\n")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	return t.UTC().Format(time.RFC3339)
}

func styleSheet(f *excelize.File, rows int) error {
	last, err := excelize.ColumnNumberToName(len(Columns))
	if err != nil {
		return err
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	if err := f.SetCellStyle(SheetName, "A1", last+"1", bold); err != nil {
		return fmt.Errorf("style header: %w", err)
	}

	if rows > 0 {
		wrap, err := f.NewStyle(&excelize.Style{Alignment: &excelize.Alignment{WrapText: true, Vertical: "top"}})
		if err != nil {
			return fmt.Errorf("create body style: %w", err)
		}

		if err := f.SetCellStyle(SheetName, "A2", fmt.Sprintf("%s%d", last, rows+1), wrap); err != nil {
			return fmt.Errorf("style body: %w", err)
		}
	}

	if err := f.SetColWidth(SheetName, "D", "D", 40); err != nil {
		return err
	}

	if err := f.SetColWidth(SheetName, "K", "K", 50); err != nil {
		return err
	}

	if err := f.SetColWidth(SheetName, last, last, 60); err != nil {
		return err
	}

	return f.AutoFilter(SheetName, fmt.Sprintf("A1:%s%d", last, rows+1), nil)
}
