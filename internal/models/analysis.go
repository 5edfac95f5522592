package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrIncompleteAnalysis is returned when an analysis lacks a required part.
var ErrIncompleteAnalysis = errors.New("incomplete analysis")

// Severity is the tier of a fraud indicator.
type Severity string

// Severity tiers.
const (
	SeverityHigh   Severity = "High"
	SeverityMedium Severity = "Medium"
	SeverityLow    Severity = "Low"
)

// Severities lists tiers from most to least severe.
var Severities = []Severity{SeverityHigh, SeverityMedium, SeverityLow}

// ParseSeverity folds case and surrounding space; ok is false for unknown tiers.
func ParseSeverity(s string) (Severity, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return SeverityHigh, true
	case "medium", "med", "moderate":
		return SeverityMedium, true
	case "low":
		return SeverityLow, true
	}

	return "", false
}

// Rank orders severities for sorting; higher is more severe, 0 for unknown.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}

	return 0
}

// FraudIndicator is one extracted indicator.
type FraudIndicator struct {
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
}

// Person is someone named in the article.
type Person struct {
	Name string `json:"name"`
	Role string `json:"role,omitempty"`
}

// PreventionStrategy pairs a vulnerability with how it could have been prevented.
type PreventionStrategy struct {
	Issue      string `json:"issue"`
	Prevention string `json:"prevention"`
}

// Summary holds the short and bulleted summaries.
type Summary struct {
	Short   string   `json:"short"`
	Bullets []string `json:"bullets"`
}

// Analysis is the structured extraction for one article.
type Analysis struct {
	Title            string               `json:"title"`
	Date             string               `json:"date,omitempty"`
	DateVerification string               `json:"date_verification,omitempty"`
	Summary          Summary              `json:"summary"`
	Indicators       []FraudIndicator     `json:"indicators"`
	People           []Person             `json:"people"`
	Strategies       []PreventionStrategy `json:"strategies"`
	Questions        []string             `json:"questions"`
}

// Validate reports ErrIncompleteAnalysis unless every part is present.
// Lists may be empty but must be non-nil, except indicators which need at least one entry.
func (a *Analysis) Validate() error {
	if a == nil {
		return fmt.Errorf("%w: nil", ErrIncompleteAnalysis)
	}

	if len(a.Indicators) == 0 {
		return fmt.Errorf("%w: no fraud indicators", ErrIncompleteAnalysis)
	}

	for i, ind := range a.Indicators {
		if ind.Severity.Rank() == 0 {
			return fmt.Errorf("%w: indicator %d has severity %q", ErrIncompleteAnalysis, i, ind.Severity)
		}
	}

	if a.People == nil {
		return fmt.Errorf("%w: people missing", ErrIncompleteAnalysis)
	}

	if a.Strategies == nil {
		return fmt.Errorf("%w: prevention strategies missing", ErrIncompleteAnalysis)
	}

	if a.Questions == nil {
		return fmt.Errorf("%w: discovery questions missing", ErrIncompleteAnalysis)
	}

	if strings.TrimSpace(a.Summary.Short) == "" {
		return fmt.Errorf("%w: short summary missing", ErrIncompleteAnalysis)
	}

	if a.Summary.Bullets == nil {
		return fmt.Errorf("%w: summary bullets missing", ErrIncompleteAnalysis)
	}

	return nil
}

// HighestSeverity returns the most severe indicator tier, or "" when there are none.
func (a *Analysis) HighestSeverity() Severity {
	var best Severity

	for _, ind := range a.Indicators {
		if ind.Severity.Rank() > best.Rank() {
			best = ind.Severity
		}
	}

	return best
}

// CountBySeverity tallies indicators per tier.
func (a *Analysis) CountBySeverity() map[Severity]int {
	counts := make(map[Severity]int, len(Severities))
	for _, ind := range a.Indicators {
		counts[ind.Severity]++
	}

	return counts
}

// Clone returns a deep copy.
func (a Analysis) Clone() Analysis {
	a.Indicators = append([]FraudIndicator(nil), a.Indicators...)
	a.People = cloneSlice(a.People)
	a.Strategies = cloneSlice(a.Strategies)
	a.Questions = cloneSlice(a.Questions)
	a.Summary.Bullets = cloneSlice(a.Summary.Bullets)

	return a
}

// cloneSlice copies s while keeping the nil/empty distinction Validate relies on.
func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}

	return append(make([]T, 0, len(s)), s...)
}
