package utils

import "strings"

// StringHelper provides string utility functions.
type StringHelper struct{}

// NewStringHelper creates a new string helper.
func NewStringHelper() *StringHelper {
	return &StringHelper{}
}

// NormalizeWhitespace replaces runs of whitespace with a single space.
func (s *StringHelper) NormalizeWhitespace(str string) string {
	return strings.Join(strings.Fields(str), " ")
}

// TruncateRunes cuts str to at most maxRunes runes without splitting a character.
func (s *StringHelper) TruncateRunes(str string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}

	count := 0
	for i := range str {
		if count == maxRunes {
			return str[:i]
		}

		count++
	}

	return str
}

// TruncateString truncates str to maxRunes runes and appends an ellipsis when cut.
func (s *StringHelper) TruncateString(str string, maxRunes int) string {
	cut := s.TruncateRunes(str, maxRunes)
	if len(cut) == len(str) {
		return str
	}

	return cut + "..."
}
