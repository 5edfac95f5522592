package ingest

import (
	"fmt"
	"strings"

	"tracklight/internal/crawler"
	"tracklight/internal/models"
)

// Outcome is the result for one source of a batch.
type Outcome struct {
	Source   string
	Identity string
	Record   models.ArticleRecord
	Created  bool
	Err      error
}

// Report summarizes a batch.
type Report struct {
	Kind     models.SourceKind
	Outcomes []Outcome
	Skipped  []crawler.SkippedURL
	Aborted  error
}

func (r *Report) add(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
}

// Succeeded returns the number of sources stored.
func (r *Report) Succeeded() int {
	n := 0

	for _, o := range r.Outcomes {
		if o.Err == nil {
			n++
		}
	}

	return n
}

// Created returns the number of sources that produced new records.
func (r *Report) Created() int {
	n := 0

	for _, o := range r.Outcomes {
		if o.Err == nil && o.Created {
			n++
		}
	}

	return n
}

// Failed returns the outcomes that ended in an error.
func (r *Report) Failed() []Outcome {
	var failed []Outcome

	for _, o := range r.Outcomes {
		if o.Err != nil {
			failed = append(failed, o)
		}
	}

	return failed
}

// String renders a one-line summary followed by one line per failure.
func (r *Report) String() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "%d processed, %d new, %d failed, %d skipped",
		len(r.Outcomes), r.Created(), len(r.Failed()), len(r.Skipped))

	if r.Aborted != nil {
		fmt.Fprintf(&sb, " (aborted: %v)", r.Aborted)
	}

	for _, o := range r.Failed() {
		fmt.Fprintf(&sb, "\n  %s: %v", o.Source, o.Err)
	}

	return sb.String()
}
