package normalizer

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/spf13/cast"

	"tracklight/internal/models"
)

// Accepted key spellings, most specific first.
var (
	titleKeys      = []string{"title", "article_title"}
	shortKeys      = []string{"tl_dr", "tldr", "summary_short"}
	bulletKeys     = []string{"full_summary_bullets", "bullets", "key_points"}
	indicatorKeys  = []string{"fraud_indicator", "severity", "risk_level"}
	peopleKeys     = []string{"people", "people_mentioned"}
	strategyKeys   = []string{"strategies", "prevention_strategies", "prevention"}
	questionKeys   = []string{"questions", "discovery_questions"}
	dateVerifyKeys = []string{"date_verification", "dateVerification"}
)

// Transformer maps loosely typed model output onto models.Analysis.
type Transformer struct {
	severityPrefix *regexp.Regexp
}

// NewTransformer creates a new transformer instance.
func NewTransformer() *Transformer {
	return &Transformer{
		severityPrefix: regexp.MustCompile(`(?i)^\s*\[?(high|medium|moderate|low)\]?\s*[:\-–]\s*(.+)$`),
	}
}

// Transform converts data into target format. Every list in the result is non-nil.
func (t *Transformer) Transform(raw map[string]any) models.Analysis {
	a := models.Analysis{
		Title:            firstString(raw, titleKeys...),
		Date:             strings.TrimSpace(cast.ToString(raw["date"])),
		DateVerification: firstString(raw, dateVerifyKeys...),
		Summary: models.Summary{
			Short:   summaryText(raw),
			Bullets: summaryBullets(raw),
		},
		Indicators: t.indicators(raw),
		People:     people(firstPresent(raw, peopleKeys...)),
		Strategies: strategies(firstPresent(raw, strategyKeys...)),
		Questions:  stringList(firstPresent(raw, questionKeys...)),
	}

	return a
}

func (t *Transformer) indicators(raw map[string]any) []models.FraudIndicator {
	out := []models.FraudIndicator{}

	if v, ok := raw["indicators"]; ok {
		for _, item := range toList(v) {
			if ind, ok := t.indicator(item); ok {
				out = append(out, ind)
			}
		}
	}

	if len(out) > 0 {
		return out
	}

	for _, key := range indicatorKeys {
		sev, ok := models.ParseSeverity(cast.ToString(raw[key]))
		if !ok {
			continue
		}

		desc := firstString(raw, "fraud_indicator_reason", "indicator_reason")
		if desc == "" {
			desc = "Overall fraud risk"
		}

		return append(out, models.FraudIndicator{Severity: sev, Description: desc})
	}

	return out
}

func (t *Transformer) indicator(item any) (models.FraudIndicator, bool) {
	if m, ok := item.(map[string]any); ok {
		sev, ok := models.ParseSeverity(firstString(m, "severity", "level", "tier"))
		if !ok {
			return models.FraudIndicator{}, false
		}

		return models.FraudIndicator{
			Severity:    sev,
			Description: firstString(m, "description", "indicator", "detail"),
		}, true
	}

	match := t.severityPrefix.FindStringSubmatch(cast.ToString(item))
	if match == nil {
		return models.FraudIndicator{}, false
	}

	sev, _ := models.ParseSeverity(match[1])

	return models.FraudIndicator{Severity: sev, Description: strings.TrimSpace(match[2])}, true
}

func summaryText(raw map[string]any) string {
	if m, ok := raw["summary"].(map[string]any); ok {
		if s := firstString(m, "short", "tl_dr", "text"); s != "" {
			return s
		}
	}

	for _, key := range append(shortKeys, "summary") {
		v, ok := raw[key]
		if !ok {
			continue
		}

		if _, isMap := v.(map[string]any); isMap {
			continue
		}

		if s := strings.Join(stringList(v), " "); s != "" {
			return s
		}
	}

	return ""
}

func summaryBullets(raw map[string]any) []string {
	if m, ok := raw["summary"].(map[string]any); ok {
		if v, ok := m["bullets"]; ok {
			return stringList(v)
		}
	}

	return stringList(firstPresent(raw, bulletKeys...))
}

func people(v any) []models.Person {
	out := []models.Person{}

	for _, item := range toList(v) {
		if m, ok := item.(map[string]any); ok {
			name := firstString(m, "name", "person")
			if name != "" {
				out = append(out, models.Person{Name: name, Role: firstString(m, "role", "title")})
			}

			continue
		}

		if name := strings.TrimSpace(cast.ToString(item)); name != "" {
			out = append(out, models.Person{Name: name})
		}
	}

	return out
}

func strategies(v any) []models.PreventionStrategy {
	out := []models.PreventionStrategy{}

	for _, item := range toList(v) {
		if m, ok := item.(map[string]any); ok {
			s := models.PreventionStrategy{
				Issue:      firstString(m, "issue", "vulnerability"),
				Prevention: firstString(m, "prevention", "strategy", "solution"),
			}
			if s.Issue != "" || s.Prevention != "" {
				out = append(out, s)
			}

			continue
		}

		if text := strings.TrimSpace(cast.ToString(item)); text != "" {
			out = append(out, models.PreventionStrategy{Prevention: text})
		}
	}

	return out
}

// stringList flattens v into trimmed non-empty strings.
func stringList(v any) []string {
	out := []string{}

	for _, item := range toList(v) {
		if s := strings.TrimSpace(cast.ToString(item)); s != "" {
			out = append(out, s)
		}
	}

	return out
}

// toList coerces a value into a list. Strings holding a JSON list are decoded,
// other non-empty strings become a single item.
func toList(v any) []any {
	switch val := v.(type) {
	case nil:
		return []any{}
	case []any:
		return val
	case map[string]any:
		return []any{val}
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return []any{}
		}

		if strings.HasPrefix(s, "[") {
			var parsed []any
			if err := json.Unmarshal([]byte(s), &parsed); err == nil {
				return parsed
			}
		}

		return []any{s}
	default:
		return []any{val}
	}
}

func firstPresent(raw map[string]any, keys ...string) any {
	for _, key := range keys {
		if v, ok := raw[key]; ok && v != nil {
			return v
		}
	}

	return nil
}

func firstString(raw map[string]any, keys ...string) string {
	for _, key := range keys {
		if s := strings.TrimSpace(cast.ToString(raw[key])); s != "" {
			return s
		}
	}

	return ""
}
