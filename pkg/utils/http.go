// Package utils provides common utility functions.
package utils

import (
	"net/http"
	"net/url"
	"strings"
)

// DefaultUserAgent is sent when no user agent is configured.
const DefaultUserAgent = "Tracklight/1.0 (+fraud-article-dashboard)"

// HTTPHelper provides HTTP utility functions.
type HTTPHelper struct {
	userAgent string
}

// NewHTTPHelper creates a new HTTP helper. An empty user agent selects DefaultUserAgent.
func NewHTTPHelper(userAgent string) *HTTPHelper {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	return &HTTPHelper{userAgent: userAgent}
}

// IsValidURL reports whether raw is an absolute http(s) URL with a host.
func (h *HTTPHelper) IsValidURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}

	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// BuildHeaders creates browser-like HTTP headers with defaults.
func (h *HTTPHelper) BuildHeaders(customHeaders map[string]string) http.Header {
	headers := http.Header{}

	headers.Set("User-Agent", h.userAgent)
	headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	headers.Set("Accept-Language", "en-US,en;q=0.9")

	for key, value := range customHeaders {
		headers.Set(key, value)
	}

	return headers
}
