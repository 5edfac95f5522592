// Package models defines the persisted article record and its analysis result.
package models

import (
	"net/url"
	"strings"
	"time"
)

// SourceKind tells how a record entered the store.
type SourceKind string

// Source kinds.
const (
	SourceURL   SourceKind = "url"
	SourceText  SourceKind = "text"
	SourceMail  SourceKind = "mail"
	SourceSheet SourceKind = "sheet"
	SourceFeed  SourceKind = "feed"
)

// PastedSourcePrefix marks records whose text was supplied by hand.
const PastedSourcePrefix = "pasted:"

// Status is the triage state a user assigns to a record.
type Status string

// Record statuses.
const (
	StatusNotStarted   Status = "Not Started"
	StatusInProcess    Status = "In Process"
	StatusQualified    Status = "Qualified"
	StatusDisqualified Status = "Disqualified"
	StatusCompleted    Status = "Completed"
	StatusArchived     Status = "Archived"
)

// AllStatuses lists statuses in display order.
var AllStatuses = []Status{
	StatusNotStarted,
	StatusInProcess,
	StatusQualified,
	StatusDisqualified,
	StatusCompleted,
	StatusArchived,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}

	return false
}

// Priority is the user-assigned follow-up priority.
type Priority string

// Priorities.
const (
	PriorityHigh   Priority = "High"
	PriorityMedium Priority = "Medium"
	PriorityLow    Priority = "Low"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	return p == PriorityHigh || p == PriorityMedium || p == PriorityLow
}

// ArticleRecord is one analyzed article and its metadata.
type ArticleRecord struct {
	CreatedAt  time.Time  `json:"created_at"`
	AnalyzedAt time.Time  `json:"analyzed_at"`
	Analysis   *Analysis  `json:"analysis,omitempty"`
	Identity   string     `json:"id"`
	Source     string     `json:"source"`
	SourceKind SourceKind `json:"source_kind,omitempty"`
	RawText    string     `json:"raw_text"`
	Note       string     `json:"note"`
	GroupLabel string     `json:"group_label,omitempty"`
	Status     Status     `json:"status,omitempty"`
	Priority   Priority   `json:"priority,omitempty"`
}

// Analyzed reports whether the record carries an analysis.
func (r *ArticleRecord) Analyzed() bool {
	return r.Analysis != nil
}

// Title returns the analyzed title, falling back to the source.
func (r *ArticleRecord) Title() string {
	if r.Analysis != nil && r.Analysis.Title != "" {
		return r.Analysis.Title
	}

	return r.Source
}

// IsPasted reports whether the record came from pasted text rather than a URL.
func (r *ArticleRecord) IsPasted() bool {
	return strings.HasPrefix(r.Source, PastedSourcePrefix)
}

// Domain returns the lowercased host of the source URL, or "" for pasted text.
func (r *ArticleRecord) Domain() string {
	if r.IsPasted() {
		return ""
	}

	u, err := url.Parse(r.Source)
	if err != nil {
		return ""
	}

	return strings.ToLower(u.Hostname())
}

// Clone returns a deep copy so callers cannot alias store state.
func (r ArticleRecord) Clone() ArticleRecord {
	if r.Analysis != nil {
		a := r.Analysis.Clone()
		r.Analysis = &a
	}

	return r
}
