// Package identity derives stable record keys from source URLs and pasted text.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TextPrefix marks identities generated for pasted text.
const TextPrefix = "txt-"

// URL normalization errors.
var (
	ErrEmptyURL       = errors.New("empty URL")
	ErrInvalidURL     = errors.New("invalid URL")
	ErrUnsupportedURL = errors.New("unsupported URL scheme")
)

// trackingParams are dropped so newsletter links and direct links share an identity.
var trackingParams = map[string]bool{
	"fbclid": true,
	"gclid":  true,
	"mc_cid": true,
	"mc_eid": true,
}

// NormalizeURL lowercases scheme and host, drops the fragment, trailing slash and
// utm_* tracking parameters, and sorts the remaining query parameters.
// A bare "host/path" is treated as https.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrEmptyURL
	}

	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedURL, raw)
	}

	if parsed.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	parsed.Scheme = scheme
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Fragment = ""
	parsed.RawFragment = ""
	parsed.Path = strings.TrimRight(parsed.Path, "/")
	parsed.RawPath = ""

	if parsed.RawQuery != "" {
		parsed.RawQuery = canonicalQuery(parsed.Query())
	}

	return parsed.String(), nil
}

func canonicalQuery(params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		lk := strings.ToLower(k)
		if strings.HasPrefix(lk, "utm_") || trackingParams[lk] {
			continue
		}

		keys = append(keys, k)
	}

	sort.Strings(keys)

	var buf strings.Builder

	for _, k := range keys {
		vals := params[k]
		sort.Strings(vals)

		for _, v := range vals {
			if buf.Len() > 0 {
				buf.WriteByte('&')
			}

			buf.WriteString(url.QueryEscape(k))
			buf.WriteByte('=')
			buf.WriteString(url.QueryEscape(v))
		}
	}

	return buf.String()
}

// FromURL returns the identity for a source URL: the hex of the first 16 bytes
// of the SHA-256 of its normalized form.
func FromURL(raw string) (string, error) {
	norm, err := NormalizeURL(raw)
	if err != nil {
		return "", err
	}

	return Hash(norm), nil
}

// Hash returns the truncated SHA-256 hex digest used for identities.
func Hash(s string) string {
	sum := sha256.Sum256([]byte(s))

	return hex.EncodeToString(sum[:16])
}

// ForText returns a fresh identity for pasted text. Each paste is a new record.
func ForText() string {
	id, err := uuid.NewV7()
	if err != nil {
		return TextPrefix + uuid.NewString()
	}

	return TextPrefix + id.String()
}

// PastedSource returns the source marker stored for pasted text.
func PastedSource(at time.Time) string {
	return "pasted:" + at.UTC().Format(time.RFC3339)
}

// IsTextIdentity reports whether id was produced by ForText.
func IsTextIdentity(id string) bool {
	return strings.HasPrefix(id, TextPrefix)
}
