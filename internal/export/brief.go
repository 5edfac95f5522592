package export

import (
	"fmt"
	"strings"

	"github.com/gingfrederik/docx"

	"tracklight/internal/models"
)

const separator = "--------------------------------------------------"

// BriefName returns the download file name for the brief of rec.
func BriefName(rec models.ArticleRecord) string {
	return fmt.Sprintf("brief_%s.docx", rec.Identity)
}

// WriteBrief writes a one-record docx brief to path: title, source, indicators,
// summary, people, prevention strategies, questions and the note.
func WriteBrief(path string, rec models.ArticleRecord) error {
	f := docx.NewFile()

	title := f.AddParagraph().AddText(rec.Title())
	title.Size(20)

	meta := "Source: " + rec.Source
	if rec.IsPasted() {
		meta = "Source: pasted text"
	}

	if a := rec.Analysis; a != nil && a.Date != "" {
		meta += " | Date: " + a.Date
	}

	run := f.AddParagraph().AddText(meta)
	run.Size(10)
	run.Color("808080")

	if rec.Status != "" || rec.Priority != "" {
		run = f.AddParagraph().AddText(fmt.Sprintf("Status: %s | Priority: %s", orDash(string(rec.Status)), orDash(string(rec.Priority))))
		run.Size(10)
	}

	f.AddParagraph()

	if a := rec.Analysis; a != nil {
		heading(f, "Fraud Indicators")

		for _, ind := range a.Indicators {
			run = f.AddParagraph().AddText(fmt.Sprintf("%s: %s", ind.Severity, ind.Description))
			if ind.Severity == models.SeverityHigh {
				run.Color("C00000")
			}
		}

		heading(f, "Summary")
		f.AddParagraph().AddText(a.Summary.Short)

		for _, b := range a.Summary.Bullets {
			f.AddParagraph().AddText("- " + b)
		}

		if len(a.People) > 0 {
			heading(f, "People")

			for _, line := range strings.Split(peopleLines(a.People), "\n") {
				f.AddParagraph().AddText(line)
			}
		}

		if len(a.Strategies) > 0 {
			heading(f, "Prevention")

			for _, s := range a.Strategies {
				run = f.AddParagraph().AddText(s.Issue)
				run.Size(11)
				f.AddParagraph().AddText("  " + s.Prevention)
			}
		}

		if len(a.Questions) > 0 {
			heading(f, "Discovery Questions")

			for i, q := range a.Questions {
				f.AddParagraph().AddText(fmt.Sprintf("%d. %s", i+1, q))
			}
		}
	}

	if strings.TrimSpace(rec.Note) != "" {
		heading(f, "Note")

		for _, line := range strings.Split(rec.Note, "\n\n") {
			if line = strings.TrimSpace(line); line != "" {
				f.AddParagraph().AddText(line)
			}
		}
	}

	f.AddParagraph().AddText(separator)

	if err := f.Save(path); err != nil {
		return fmt.Errorf("save brief: %w", err)
	}

	return nil
}

func heading(f *docx.File, title string) {
	f.AddParagraph()
	run := f.AddParagraph().AddText(title)
	run.Size(14)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}

	return s
}
