package mailbox

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/net/html"
)

// ignoredHosts are substrings of hosts that never carry articles: webmail, calendars,
// social networks, meeting tools and newsletter trackers.
var ignoredHosts = []string{
	"mail.google.com", "calendar.google.com", "bing.com",
	"facebook.com", "twitter.com", "linkedin.com", "instagram.com",
	"calendly.com", "zoom.us", "teams.microsoft.com", "webex.com",
	"accounts.google", "support.google", "youtube.com", "vimeo.com",
	"apollo.io", "outlook.office.com", "w3.org", "bookwithme", "yutori.com",
	"resend-links.com", "chromewebstore.google.com",
	"myaccount.google.com", "lh3.googleusercontent.com",
	"unsubscribe", "preferences", "manage",
}

var ignoredKeywords = []string{"unsubscribe", "optout", "manage-preferences", "preferences", "meetingtype"}

var assetExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".css", ".js", ".ico", ".svg", ".woff", ".ttf"}

// redirectParams carry the destination of common tracking redirectors.
var redirectParams = []string{"url", "u", "redirect", "r", "target"}

var urlPattern = regexp.MustCompile(`https?://[^\s<>"']+`)

// LinkExtractor finds candidate article links in message bodies.
type LinkExtractor struct {
	blocked []string
}

// NewLinkExtractor creates an extractor that also rejects hosts containing any of
// blockedDomains.
func NewLinkExtractor(blockedDomains []string) *LinkExtractor {
	blocked := make([]string, 0, len(blockedDomains))

	for _, d := range blockedDomains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			blocked = append(blocked, d)
		}
	}

	return &LinkExtractor{blocked: blocked}
}

// Extract returns the sorted distinct article links in content. HTML anchors are read
// first, then the raw text is scanned for bare URLs.
func (e *LinkExtractor) Extract(content string) []string {
	found := make(map[string]bool)

	add := func(raw string) {
		link := Unwrap(strings.TrimSpace(raw))
		if e.IsArticleLink(link) {
			found[link] = true
		}
	}

	if looksLikeHTML(content) {
		for _, href := range anchors(content) {
			add(href)
		}
	}

	for _, m := range urlPattern.FindAllString(content, -1) {
		add(strings.TrimRight(m, `).,;'"`))
	}

	links := make([]string, 0, len(found))
	for l := range found {
		links = append(links, l)
	}

	sort.Strings(links)

	return links
}

// IsArticleLink reports whether link is an http(s) URL that is not a known
// non-article destination.
func (e *LinkExtractor) IsArticleLink(link string) bool {
	if !strings.HasPrefix(link, "http") {
		return false
	}

	u, err := url.Parse(link)
	if err != nil || u.Host == "" {
		return false
	}

	host := strings.ToLower(u.Host)

	for _, h := range ignoredHosts {
		if strings.Contains(host, h) {
			return false
		}
	}

	for _, h := range e.blocked {
		if strings.Contains(host, h) {
			return false
		}
	}

	lower := strings.ToLower(link)

	for _, k := range ignoredKeywords {
		if strings.Contains(lower, k) {
			return false
		}
	}

	for _, ext := range assetExtensions {
		if strings.HasSuffix(lower, ext) {
			return false
		}
	}

	return true
}

// Unwrap returns the destination of a Google /url redirect or of a tracker carrying
// the target in a url, u, redirect, r or target parameter. Other links are returned
// unchanged.
func Unwrap(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return link
	}

	q := u.Query()

	if strings.Contains(strings.ToLower(u.Host), "google.") && strings.ToLower(u.Path) == "/url" {
		if dest := q.Get("q"); dest != "" {
			return dest
		}
	}

	for _, key := range redirectParams {
		if dest := q.Get(key); dest != "" {
			return dest
		}
	}

	return link
}

func looksLikeHTML(s string) bool {
	lower := strings.ToLower(s)

	return strings.Contains(lower, "<html") || strings.Contains(lower, "<body") || strings.Contains(lower, "<a href")
}

// anchors returns the href of every <a> element.
func anchors(content string) []string {
	var hrefs []string

	z := html.NewTokenizer(strings.NewReader(content))

	for {
		switch z.Next() {
		case html.ErrorToken:
			return hrefs
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if string(name) != "a" || !hasAttr {
				continue
			}

			for {
				key, val, more := z.TagAttr()
				if string(key) == "href" {
					hrefs = append(hrefs, string(val))
				}

				if !more {
					break
				}
			}
		}
	}
}
