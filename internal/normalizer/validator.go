package normalizer

import (
	"errors"
	"strings"

	"github.com/spf13/cast"
)

// Validation errors.
var (
	ErrMissingSummary   = errors.New("missing summary")
	ErrMissingIndicator = errors.New("missing fraud indicator")
)

// Validator checks that model output carries the fields an analysis cannot do without.
type Validator struct{}

// NewValidator creates a new validator instance.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks if data meets requirements.
func (v *Validator) Validate(raw map[string]any) error {
	if summaryText(raw) == "" {
		return ErrMissingSummary
	}

	if _, ok := raw["indicators"]; ok {
		return nil
	}

	for _, key := range indicatorKeys {
		if strings.TrimSpace(cast.ToString(raw[key])) != "" {
			return nil
		}
	}

	return ErrMissingIndicator
}
