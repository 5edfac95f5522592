package formatter

import (
	"strings"
	"testing"
	"time"

	"tracklight/internal/models"
)

func TestTable(t *testing.T) {
	tests := []struct {
		name     string
		header   []string
		rows     [][]string
		expected string
	}{
		{
			name:   "Basic table formatting",
			header: []string{"Header 1", "Header 2"},
			rows:   [][]string{{"val 1", "val 2"}},
			expected: `
| Header 1 | Header 2 |
| -------- | -------- |
| val 1    | val 2    |
`,
		},
		{
			name:   "Trim spaces in cells",
			header: []string{"  Col A  ", "Col B"},
			rows:   [][]string{{"  val A ", "val B"}},
			expected: `
| Col A | Col B |
| ----- | ----- |
| val A | val B |
`,
		},
		{
			name:   "Minimum separator width",
			header: []string{"H1", "H2"},
			rows:   [][]string{{"v1", "v2"}},
			expected: `
| H1  | H2  |
| --- | --- |
| v1  | v2  |
`,
		},
		{
			name:   "Short rows padded",
			header: []string{"A", "B"},
			rows:   [][]string{{"only"}},
			expected: `
| A    | B   |
| ---- | --- |
| only |     |
`,
		},
		{
			name:   "Pipes and newlines escaped",
			header: []string{"Cell"},
			rows:   [][]string{{"a|b\nc"}},
			expected: `
| Cell   |
| ------ |
| a\|b c |
`,
		},
		{
			// 消(2) 防(2) 處(2) ：(2) 增(2) 至(2) 8(1) 3(1) 死(2) 。(2) = 18 columns.
			name:   "Mixed CJK and ASCII",
			header: []string{"Date", "Event"},
			rows: [][]string{
				{"2025-01-01", "消防處：增至83死。"},
				{"2025-01-02", "Short text"},
			},
			expected: `
| Date       | Event              |
| ---------- | ------------------ |
| 2025-01-01 | 消防處：增至83死。 |
| 2025-01-02 | Short text         |
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Table(tt.header, tt.rows)

			if got != strings.TrimSpace(tt.expected) {
				t.Errorf("Table() = \n%v\nwant \n%v", got, tt.expected)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("Truncate() = %q", got)
	}

	got := Truncate(strings.Repeat("x", 20), 8)
	if got != "xxxxxxx…" {
		t.Errorf("Truncate() = %q", got)
	}
}

func analyzedRecord() models.ArticleRecord {
	return models.ArticleRecord{
		Identity:  "abc",
		Source:    "https://example.com/a",
		CreatedAt: time.Date(2024, 1, 2, 3, 4, 0, 0, time.Local),
		Status:    models.StatusQualified,
		Note:      "follow up",
		Analysis: &models.Analysis{
			Title: "Payroll skimming",
			Indicators: []models.FraudIndicator{
				{Severity: models.SeverityMedium, Description: "ghost employees"},
				{Severity: models.SeverityHigh, Description: "altered timesheets"},
			},
			People:    []models.Person{{Name: "A. Clerk"}},
			Questions: []string{"Who signs payroll?"},
			Summary:   models.Summary{Short: "Clerk skimmed payroll.", Bullets: []string{"two years"}},
		},
	}
}

func TestRecordTable(t *testing.T) {
	recs := []models.ArticleRecord{
		analyzedRecord(),
		{Identity: "txt-1", Source: "pasted:2024-01-03T00:00:00Z"},
	}

	lines := strings.Split(RecordTable(recs), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want 4:\n%s", len(lines), strings.Join(lines, "\n"))
	}

	for _, want := range []string{"abc", "2024-01-02 03:04", "Qualified", "High", "Payroll skimming"} {
		if !strings.Contains(lines[2], want) {
			t.Errorf("row %q missing %q", lines[2], want)
		}
	}

	if !strings.Contains(lines[3], "| -  ") {
		t.Errorf("unanalyzed row = %q", lines[3])
	}
}

func TestDetail(t *testing.T) {
	out := Detail(analyzedRecord())

	for _, want := range []string{
		"Payroll skimming",
		"status:   Qualified",
		"priority: -",
		"  - two years",
		"| High     | altered timesheets |",
		"| A. Clerk | -    |",
		"  1. Who signs payroll?",
		"Note:\nfollow up",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Detail() missing %q:\n%s", want, out)
		}
	}

	if out := Detail(models.ArticleRecord{Identity: "x", Source: "pasted:now"}); !strings.Contains(out, "(not analyzed)") {
		t.Errorf("Detail() = %s", out)
	}
}
