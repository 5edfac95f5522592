// Package normalizer turns the loosely typed JSON returned by a language model into a
// complete models.Analysis.
package normalizer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"tracklight/internal/models"
)

// ErrMalformedJSON is returned when the model output is not a JSON object.
var ErrMalformedJSON = errors.New("malformed analysis JSON")

// Processor handles data processing and transformation.
type Processor struct {
	validator   *Validator
	transformer *Transformer
}

// NewProcessor creates a new processor instance.
func NewProcessor() *Processor {
	return &Processor{
		validator:   NewValidator(),
		transformer: NewTransformer(),
	}
}

// ProcessJSON decodes model output and normalizes it. Markdown code fences around
// the object are tolerated.
func (p *Processor) ProcessJSON(content string) (models.Analysis, error) {
	raw, err := DecodeObject(content)
	if err != nil {
		return models.Analysis{}, err
	}

	return p.Process(raw)
}

// Process transforms a decoded object into a complete analysis.
func (p *Processor) Process(raw map[string]any) (models.Analysis, error) {
	// 1. Validate the input data
	if err := p.validator.Validate(raw); err != nil {
		return models.Analysis{}, fmt.Errorf("validation failed: %w", err)
	}

	// 2. Transform the data
	analysis := p.transformer.Transform(raw)

	// 3. The result must satisfy the record invariant
	if err := analysis.Validate(); err != nil {
		return models.Analysis{}, fmt.Errorf("transformation failed: %w", err)
	}

	return analysis, nil
}

// DecodeObject parses content as a JSON object after stripping code fences.
func DecodeObject(content string) (map[string]any, error) {
	s := StripFences(content)
	if s == "" {
		return nil, fmt.Errorf("%w: empty response", ErrMalformedJSON)
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}

	if raw == nil {
		return nil, fmt.Errorf("%w: null object", ErrMalformedJSON)
	}

	return raw, nil
}

// StripFences removes a surrounding ``` or ```json fence and any text outside the
// outermost braces.
func StripFences(content string) string {
	s := strings.TrimSpace(content)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```JSON")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")

	if start > 0 && end > start {
		s = s[start : end+1]
	}

	return s
}
