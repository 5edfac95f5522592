package analysis

import (
	"fmt"
	"strings"

	"tracklight/internal/normalizer"
)

const (
	maxGroupItems   = 100
	maxGroupSummary = 400
)

const analysisSystem = "You are a helpful assistant that outputs JSON."

const analysisFormat = `Return ONLY a JSON object with these keys:
- "title": the article title.
- "date": the date of the article or event, YYYY-MM-DD if possible, otherwise "Unknown".
- "date_verification": a brief explanation of how you determined the date.
- "indicators": a list of objects {"severity": one of "High", "Medium", "Low", "description": the fraud indicator}.
- "people": a list of objects {"name": the person, "role": their role in the story}.
- "strategies": a list of objects {"issue": a specific vulnerability from the article, "prevention": how a fraud prevention platform could have prevented it}.
- "questions": a list of discovery questions to ask potential clients, tailored to this article.
- "summary": an object {"short": a two-sentence summary, "bullets": a list of key points}.
Do not add markdown formatting.`

const analysisPrompt = `You are an expert fraud analyst. Analyze the following news article text.
Double-check the text for publication dates or time references to ensure the date is accurate.
Order indicators from most to least severe.

` + analysisFormat

const groupingSystem = "You are a senior fraud analyst that outputs JSON."

const groupingPrompt = `Analyze the article summaries and group them by commonality (fraud case, fraud scheme, program, specific people).

Return a strict JSON object with this structure:
{"groups": [{"group_title": "Descriptive Group Name", "article_ids": ["id_1", "id_2"]}]}

Rules:
1. Assign every article ID from the input to a group.
2. Group titles are specific and descriptive, for example "PPP Loan Fraud" or "Medicare Schemes".
3. If an article fits multiple groups, choose the most relevant one.`

const personSystem = "You write precise 1-2 sentence role summaries that avoid mislabeling and do not infer guilt."

const personPrompt = `TL;DR: %s
Key Points:
%s

Question:
From the context, write 1-2 tight sentences identifying %s's role category (reporter, official, suspect, victim, prosecutor, commentator) and their involvement. Do not imply guilt unless explicitly stated. If someone only reported or covered the story, state that clearly.`

// parseGroups decodes {"groups":[{"group_title","article_ids"}]}.
func parseGroups(content string) ([]Group, error) {
	raw, err := normalizer.DecodeObject(content)
	if err != nil {
		return nil, err
	}

	list, ok := raw["groups"].([]any)
	if !ok {
		return nil, fmt.Errorf("%w: missing groups list", normalizer.ErrMalformedJSON)
	}

	groups := make([]Group, 0, len(list))

	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}

		title, _ := m["group_title"].(string)
		if title == "" {
			title, _ = m["title"].(string)
		}

		title = strings.TrimSpace(title)
		if title == "" {
			continue
		}

		ids, _ := m["article_ids"].([]any)

		g := Group{Title: title}

		for _, id := range ids {
			if s, ok := id.(string); ok && s != "" {
				g.Identities = append(g.Identities, s)
			}
		}

		groups = append(groups, g)
	}

	return groups, nil
}
