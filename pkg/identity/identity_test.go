package identity

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercase host", "https://Example.COM/a", "https://example.com/a"},
		{"drop fragment", "https://example.com/a#top", "https://example.com/a"},
		{"trailing slash", "https://example.com/a/", "https://example.com/a"},
		{"sort query", "https://example.com/a?b=2&a=1", "https://example.com/a?a=1&b=2"},
		{"drop utm", "https://example.com/a?utm_source=mail&id=7", "https://example.com/a?id=7"},
		{"drop fbclid", "https://example.com/a?fbclid=xyz", "https://example.com/a"},
		{"trim space", "  http://example.com/a  ", "http://example.com/a"},
		{"bare host", "example.com/a", "https://example.com/a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeURL(tt.in)
			if err != nil {
				t.Fatalf("NormalizeURL(%q) error: %v", tt.in, err)
			}

			if got != tt.want {
				t.Errorf("NormalizeURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeURL_Errors(t *testing.T) {
	tests := []struct {
		in   string
		want error
	}{
		{"", ErrEmptyURL},
		{"   ", ErrEmptyURL},
		{"ftp://example.com/a", ErrUnsupportedURL},
		{"not a url", ErrInvalidURL},
		{"https:///path", ErrInvalidURL},
	}

	for _, tt := range tests {
		if _, err := NormalizeURL(tt.in); !errors.Is(err, tt.want) {
			t.Errorf("NormalizeURL(%q) error = %v, want %v", tt.in, err, tt.want)
		}
	}
}

func TestFromURL_StableAcrossEquivalentForms(t *testing.T) {
	a, err := FromURL("https://example.com/a")
	if err != nil {
		t.Fatalf("FromURL failed: %v", err)
	}

	b, err := FromURL("https://EXAMPLE.com/a/?utm_campaign=weekly#section")
	if err != nil {
		t.Fatalf("FromURL failed: %v", err)
	}

	if a != b {
		t.Errorf("identities differ: %s vs %s", a, b)
	}

	if len(a) != 32 {
		t.Errorf("identity length = %d, want 32", len(a))
	}

	c, _ := FromURL("https://example.com/b")
	if a == c {
		t.Error("different URLs produced the same identity")
	}
}

func TestForText_Unique(t *testing.T) {
	seen := make(map[string]bool)

	for range 100 {
		id := ForText()
		if !IsTextIdentity(id) {
			t.Fatalf("ForText() = %q, missing prefix", id)
		}

		if seen[id] {
			t.Fatalf("duplicate text identity %q", id)
		}

		seen[id] = true
	}
}

func TestPastedSource(t *testing.T) {
	at := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)

	got := PastedSource(at)
	if !strings.HasPrefix(got, "pasted:") || !strings.HasSuffix(got, "2024-03-05T10:00:00Z") {
		t.Errorf("PastedSource() = %q", got)
	}
}
