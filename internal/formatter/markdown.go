// Package formatter renders records as display-width aligned pipe tables for the
// terminal.
package formatter

import (
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"

	"tracklight/internal/models"
)

// TitleWidth is the display width titles are truncated to in record tables.
const TitleWidth = 60

// Table renders header and rows as a pipe table with a dashed separator row. Cells are
// padded by display width so CJK and other wide characters line up.
func Table(header []string, rows [][]string) string {
	table := make([][]string, 0, len(rows)+1)
	table = append(table, cleanRow(header))

	for _, r := range rows {
		table = append(table, cleanRow(r))
	}

	return strings.Join(align(table), "\n")
}

// Truncate shortens s to at most width display columns.
func Truncate(s string, width int) string {
	return runewidth.Truncate(s, width, "…")
}

// RecordTable lists records one per row: id, added date, status, highest severity and title.
func RecordTable(records []models.ArticleRecord) string {
	rows := make([][]string, 0, len(records))

	for _, r := range records {
		severity := "-"
		if r.Analysis != nil {
			severity = string(r.Analysis.HighestSeverity())
		}

		rows = append(rows, []string{
			r.Identity,
			date(r.CreatedAt),
			orDash(string(r.Status)),
			severity,
			Truncate(r.Title(), TitleWidth),
		})
	}

	return Table([]string{"ID", "Added", "Status", "Severity", "Title"}, rows)
}

// Detail renders one record as a header block followed by an indicator table.
func Detail(rec models.ArticleRecord) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "%s\n", rec.Title())
	fmt.Fprintf(&sb, "id:       %s\n", rec.Identity)
	fmt.Fprintf(&sb, "source:   %s\n", rec.Source)
	fmt.Fprintf(&sb, "added:    %s\n", date(rec.CreatedAt))
	fmt.Fprintf(&sb, "status:   %s\n", orDash(string(rec.Status)))
	fmt.Fprintf(&sb, "priority: %s\n", orDash(string(rec.Priority)))

	if rec.GroupLabel != "" {
		fmt.Fprintf(&sb, "group:    %s\n", rec.GroupLabel)
	}

	a := rec.Analysis
	if a == nil {
		sb.WriteString("\n(not analyzed)\n")
	} else {
		if a.Date != "" {
			fmt.Fprintf(&sb, "date:     %s\n", a.Date)
		}

		fmt.Fprintf(&sb, "\n%s\n", a.Summary.Short)

		for _, b := range a.Summary.Bullets {
			fmt.Fprintf(&sb, "  - %s\n", b)
		}

		rows := make([][]string, 0, len(a.Indicators))
		for _, ind := range a.Indicators {
			rows = append(rows, []string{string(ind.Severity), ind.Description})
		}

		fmt.Fprintf(&sb, "\n%s\n", Table([]string{"Severity", "Indicator"}, rows))

		if len(a.People) > 0 {
			people := make([][]string, 0, len(a.People))
			for _, p := range a.People {
				people = append(people, []string{p.Name, orDash(p.Role)})
			}

			fmt.Fprintf(&sb, "\n%s\n", Table([]string{"Person", "Role"}, people))
		}

		for i, q := range a.Questions {
			if i == 0 {
				sb.WriteString("\nQuestions:\n")
			}

			fmt.Fprintf(&sb, "  %d. %s\n", i+1, q)
		}
	}

	if rec.Note != "" {
		fmt.Fprintf(&sb, "\nNote:\n%s\n", rec.Note)
	}

	return sb.String()
}

func cleanRow(cells []string) []string {
	out := make([]string, len(cells))

	for i, c := range cells {
		c = strings.ReplaceAll(c, "\n", " ")
		out[i] = strings.TrimSpace(strings.ReplaceAll(c, "|", `\|`))
	}

	return out
}

// align pads table cells to the widest cell of each column. The first row is the
// header; a separator row is inserted after it.
func align(table [][]string) []string {
	if len(table) == 0 {
		return nil
	}

	colCount := 0
	for _, row := range table {
		if len(row) > colCount {
			colCount = len(row)
		}
	}

	colWidths := make([]int, colCount)

	for _, row := range table {
		for i, cell := range row {
			if w := runewidth.StringWidth(cell); w > colWidths[i] {
				colWidths[i] = w
			}
		}
	}

	// Separators need at least "---".
	for i := range colWidths {
		if colWidths[i] < 3 {
			colWidths[i] = 3
		}
	}

	result := make([]string, 0, len(table)+1)

	for i, row := range table {
		result = append(result, renderRow(row, colWidths))

		if i == 0 {
			var sb strings.Builder

			sb.WriteString("|")

			for _, w := range colWidths {
				sb.WriteString(" " + strings.Repeat("-", w) + " |")
			}

			result = append(result, sb.String())
		}
	}

	return result
}

func renderRow(row []string, colWidths []int) string {
	var sb strings.Builder

	sb.WriteString("|")

	for j, w := range colWidths {
		content := ""
		if j < len(row) {
			content = row[j]
		}

		sb.WriteString(" ")
		sb.WriteString(content)

		if padding := w - runewidth.StringWidth(content); padding > 0 {
			sb.WriteString(strings.Repeat(" ", padding))
		}

		sb.WriteString(" |")
	}

	return sb.String()
}

func date(t time.Time) string {
	if t.IsZero() {
		return "-"
	}

	return t.Local().Format("2006-01-02 15:04")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}

	return s
}
